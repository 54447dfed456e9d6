// Package index implements the composite book assembly and the VWAP/TWAP
// index computation engine.
package index

import (
	"sort"

	"github.com/quantfeed/compindex/internal/domain"
)

// VWAP returns the volume-weighted average price over the given levels,
// considering only levels with Qty > 0. It returns 0 when the total quantity
// is zero; callers must treat that as "no data", never as a real price.
func VWAP(levels []domain.PriceLevel) float64 {
	var sumPQ, sumQ float64
	for _, l := range levels {
		if l.Qty <= 0 {
			continue
		}
		sumPQ += l.Price * l.Qty
		sumQ += l.Qty
	}
	if sumQ == 0 {
		return 0
	}
	return sumPQ / sumQ
}

// VWAPBuy computes the price a buyer taking liquidity would pay: ask levels
// sorted ascending by price, truncated to depth levels (0 = unlimited).
func VWAPBuy(asks []domain.PriceLevel, depth int) float64 {
	sorted := sortedCopy(asks, func(a, b domain.PriceLevel) bool {
		return a.Price < b.Price
	})
	return VWAP(truncate(sorted, depth))
}

// VWAPSell computes the price a seller taking liquidity would receive: bid
// levels sorted descending by price, truncated to depth levels (0 = unlimited).
func VWAPSell(bids []domain.PriceLevel, depth int) float64 {
	sorted := sortedCopy(bids, func(a, b domain.PriceLevel) bool {
		return a.Price > b.Price
	})
	return VWAP(truncate(sorted, depth))
}

// Mid returns the midpoint of the buy and sell VWAPs.
func Mid(vwapBuy, vwapSell float64) float64 {
	return (vwapBuy + vwapSell) / 2
}

func sortedCopy(levels []domain.PriceLevel, less func(a, b domain.PriceLevel) bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(levels))
	copy(out, levels)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func truncate(levels []domain.PriceLevel, depth int) []domain.PriceLevel {
	if depth > 0 && len(levels) > depth {
		return levels[:depth]
	}
	return levels
}
