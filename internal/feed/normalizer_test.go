package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfeed/compindex/internal/domain"
)

var recvAt = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

// TestNormalizeStringAndNumericLevels verifies both wire encodings of
// price/qty are accepted and the ladder comes out in canonical order.
func TestNormalizeStringAndNumericLevels(t *testing.T) {
	n := NewNormalizer([]string{"BTC-USD"})
	payload := []byte(`{
		"symbol": "BTC-USD",
		"bids": [["42749.5", "0.4"], [42750.0, 1.2]],
		"asks": [[42751.0, "0.8"], ["42750.5", 0.5]],
		"ts": 1767348000123
	}`)

	snap, err := n.Normalize(payload, 1, "binance", recvAt)
	require.NoError(t, err)

	assert.Equal(t, "BTC-USD", snap.Symbol)
	assert.Equal(t, 1, snap.ExchangeID)
	assert.Equal(t, "binance", snap.ExchangeName)

	// Bids descending, asks ascending.
	require.Len(t, snap.Bids, 2)
	assert.Equal(t, 42750.0, snap.Bids[0].Price)
	assert.Equal(t, 42749.5, snap.Bids[1].Price)
	require.Len(t, snap.Asks, 2)
	assert.Equal(t, 42750.5, snap.Asks[0].Price)
	assert.Equal(t, 42751.0, snap.Asks[1].Price)

	assert.Equal(t, time.UnixMilli(1767348000123), snap.ObservedAt)
	assert.Equal(t, recvAt, snap.ReceivedAt)
}

// TestNormalizeObservedAtFallback verifies a missing exchange timestamp
// falls back to the local arrival time.
func TestNormalizeObservedAtFallback(t *testing.T) {
	n := NewNormalizer([]string{"BTC-USD"})
	payload := []byte(`{"symbol":"BTC-USD","bids":[[100,1]],"asks":[[101,1]]}`)

	snap, err := n.Normalize(payload, 1, "binance", recvAt)
	require.NoError(t, err)
	assert.Equal(t, recvAt, snap.ObservedAt)
}

// TestNormalizeDropsZeroQty verifies zero-quantity levels (deletions) are
// filtered out.
func TestNormalizeDropsZeroQty(t *testing.T) {
	n := NewNormalizer([]string{"BTC-USD"})
	payload := []byte(`{"symbol":"BTC-USD","bids":[[100,0],[99,2]],"asks":[[101,"0"]]}`)

	snap, err := n.Normalize(payload, 1, "binance", recvAt)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, 99.0, snap.Bids[0].Price)
	assert.Empty(t, snap.Asks)
}

// TestNormalizeMalformed covers the rejection paths that must all map to
// the malformed-payload error.
func TestNormalizeMalformed(t *testing.T) {
	n := NewNormalizer([]string{"BTC-USD"})

	cases := map[string]string{
		"invalid json":    `{"symbol":`,
		"missing symbol":  `{"bids":[[100,1]],"asks":[]}`,
		"negative price":  `{"symbol":"BTC-USD","bids":[[-1,1]],"asks":[]}`,
		"negative qty":    `{"symbol":"BTC-USD","bids":[[100,-1]],"asks":[]}`,
		"non-numeric str": `{"symbol":"BTC-USD","bids":[["abc",1]],"asks":[]}`,
		"nan string":      `{"symbol":"BTC-USD","bids":[["NaN",1]],"asks":[]}`,
		"inf string":      `{"symbol":"BTC-USD","bids":[[100,"+Inf"]],"asks":[]}`,
		"bool field":      `{"symbol":"BTC-USD","bids":[[true,1]],"asks":[]}`,
		"empty field":     `{"symbol":"BTC-USD","bids":[[100]],"asks":[]}`,
	}

	for name, payload := range cases {
		_, err := n.Normalize([]byte(payload), 1, "binance", recvAt)
		assert.ErrorIs(t, err, domain.ErrMalformedPayload, name)
	}
}

// TestNormalizeUnknownSymbol verifies unconfigured symbols are rejected with
// the dedicated error so callers can count them separately.
func TestNormalizeUnknownSymbol(t *testing.T) {
	n := NewNormalizer([]string{"BTC-USD"})
	payload := []byte(`{"symbol":"DOGE-USD","bids":[[100,1]],"asks":[[101,1]]}`)

	_, err := n.Normalize(payload, 1, "binance", recvAt)
	assert.ErrorIs(t, err, domain.ErrUnknownSymbol)
	assert.NotErrorIs(t, err, domain.ErrMalformedPayload)
}

// TestNormalizeEmptySides verifies empty ladders are legal: an empty book is
// a data condition, not a protocol error.
func TestNormalizeEmptySides(t *testing.T) {
	n := NewNormalizer([]string{"BTC-USD"})
	payload := []byte(`{"symbol":"BTC-USD","bids":[],"asks":[]}`)

	snap, err := n.Normalize(payload, 1, "binance", recvAt)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}
