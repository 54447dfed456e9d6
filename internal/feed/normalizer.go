// Package feed ingests exchange depth streams and converts them into the
// canonical snapshot shape consumed by the index engine.
package feed

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/quantfeed/compindex/internal/domain"
)

// rawDepth is the wire shape produced by the exchange adapters: levels are
// [price, qty] pairs encoded as strings or numbers, timestamps in unix
// milliseconds.
type rawDepth struct {
	Symbol string              `json:"symbol"`
	Bids   [][2]json.RawMessage `json:"bids"`
	Asks   [][2]json.RawMessage `json:"asks"`
	TsMs   int64               `json:"ts"`
}

// Normalizer validates exchange depth payloads and converts them into
// immutable ExchangeSnapshots. It is a pure transform: no truncation happens
// here so the raw depth stays available for every window length.
type Normalizer struct {
	symbols map[string]bool
}

// NewNormalizer creates a Normalizer accepting only the configured symbols.
func NewNormalizer(symbols []string) *Normalizer {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return &Normalizer{symbols: set}
}

// Normalize parses one depth payload from the identified exchange. It fails
// with domain.ErrMalformedPayload when price/qty fields are missing or
// non-numeric, and domain.ErrUnknownSymbol when the symbol is not
// configured. receivedAt is the local arrival time of the message.
func (n *Normalizer) Normalize(payload []byte, exchangeID int, exchangeName string, receivedAt time.Time) (domain.ExchangeSnapshot, error) {
	var raw rawDepth
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.ExchangeSnapshot{}, fmt.Errorf("feed: decode %s payload: %w", exchangeName, domain.ErrMalformedPayload)
	}
	if raw.Symbol == "" {
		return domain.ExchangeSnapshot{}, fmt.Errorf("feed: %s payload without symbol: %w", exchangeName, domain.ErrMalformedPayload)
	}
	if !n.symbols[raw.Symbol] {
		return domain.ExchangeSnapshot{}, fmt.Errorf("feed: %s symbol %q: %w", exchangeName, raw.Symbol, domain.ErrUnknownSymbol)
	}

	bids, err := parseLevels(raw.Bids)
	if err != nil {
		return domain.ExchangeSnapshot{}, fmt.Errorf("feed: %s bids: %w", exchangeName, err)
	}
	asks, err := parseLevels(raw.Asks)
	if err != nil {
		return domain.ExchangeSnapshot{}, fmt.Errorf("feed: %s asks: %w", exchangeName, err)
	}

	// Canonical ordering: bids descending, asks ascending by price.
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.SliceStable(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	observedAt := receivedAt
	if raw.TsMs > 0 {
		observedAt = time.UnixMilli(raw.TsMs)
	}

	return domain.ExchangeSnapshot{
		Symbol:       raw.Symbol,
		ExchangeID:   exchangeID,
		ExchangeName: exchangeName,
		Bids:         bids,
		Asks:         asks,
		ObservedAt:   observedAt,
		ReceivedAt:   receivedAt,
	}, nil
}

func parseLevels(raw [][2]json.RawMessage) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := parseNumber(pair[0])
		if err != nil {
			return nil, err
		}
		qty, err := parseNumber(pair[1])
		if err != nil {
			return nil, err
		}
		if price < 0 || qty < 0 {
			return nil, fmt.Errorf("negative level: %w", domain.ErrMalformedPayload)
		}
		// Zero-qty levels are deletions on most venues; they carry no
		// liquidity and are dropped at the boundary.
		if qty == 0 {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Qty: qty})
	}
	return levels, nil
}

// parseNumber accepts both string-encoded ("42750.5") and plain JSON
// numbers, rejecting anything else.
func parseNumber(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing numeric field: %w", domain.ErrMalformedPayload)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("non-numeric field %q: %w", s, domain.ErrMalformedPayload)
		}
		return f, nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-numeric field: %w", domain.ErrMalformedPayload)
	}
	return f, nil
}
