package index

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantfeed/compindex/internal/domain"
)

// TestVWAPIgnoresZeroQtyLevels verifies that zero-quantity levels never
// contribute and an all-zero ladder yields 0, not NaN.
func TestVWAPIgnoresZeroQtyLevels(t *testing.T) {
	levels := []domain.PriceLevel{
		{Price: 100, Qty: 0},
		{Price: 101, Qty: 2},
		{Price: 102, Qty: 0},
	}
	assert.Equal(t, 101.0, VWAP(levels))

	allZero := []domain.PriceLevel{{Price: 100, Qty: 0}}
	assert.Equal(t, 0.0, VWAP(allZero))
}

// TestVWAPEmpty verifies the empty-ladder result is 0.
func TestVWAPEmpty(t *testing.T) {
	assert.Equal(t, 0.0, VWAP(nil))
	assert.Equal(t, 0.0, VWAP([]domain.PriceLevel{}))
}

// TestVWAPBuyDepthTruncation verifies asks are sorted ascending before the
// depth cut: with depth 2, only the two cheapest asks participate.
func TestVWAPBuyDepthTruncation(t *testing.T) {
	asks := []domain.PriceLevel{
		{Price: 101, Qty: 1},
		{Price: 100, Qty: 2},
		{Price: 103, Qty: 1},
	}
	// (100*2 + 101*1) / 3
	assert.InDelta(t, 100.3333333, VWAPBuy(asks, 2), 1e-6)
}

// TestVWAPBuyUnlimitedDepth verifies depth 0 means the whole ladder.
func TestVWAPBuyUnlimitedDepth(t *testing.T) {
	asks := []domain.PriceLevel{
		{Price: 101, Qty: 1},
		{Price: 100, Qty: 2},
		{Price: 103, Qty: 1},
	}
	// (100*2 + 101*1 + 103*1) / 4
	assert.InDelta(t, 101.0, VWAPBuy(asks, 0), 1e-9)
}

// TestVWAPSellSortsDescending verifies bids are consumed best-first (highest
// price) and the full ladder is used when depth is unlimited.
func TestVWAPSellSortsDescending(t *testing.T) {
	bids := []domain.PriceLevel{
		{Price: 99, Qty: 1},
		{Price: 100, Qty: 2},
		{Price: 98, Qty: 5},
	}
	// (100*2 + 99*1 + 98*5) / 8
	assert.InDelta(t, 98.375, VWAPSell(bids, 0), 1e-9)

	// Depth 1 keeps only the best bid.
	assert.InDelta(t, 100.0, VWAPSell(bids, 1), 1e-9)
}

// TestVWAPDoesNotMutateInput verifies the sort works on a copy.
func TestVWAPDoesNotMutateInput(t *testing.T) {
	asks := []domain.PriceLevel{
		{Price: 103, Qty: 1},
		{Price: 100, Qty: 2},
	}
	_ = VWAPBuy(asks, 0)
	assert.Equal(t, 103.0, asks[0].Price)
	assert.Equal(t, 100.0, asks[1].Price)
}

// TestMid verifies the midpoint of the two VWAP sides.
func TestMid(t *testing.T) {
	assert.Equal(t, 100.0, Mid(101, 99))
	assert.Equal(t, 0.0, Mid(0, 0))
}
