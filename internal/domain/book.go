package domain

import (
	"math"
	"time"
)

// PriceLevel is a single price+quantity entry in an order book ladder.
// A level with Qty == 0 is logically absent and is filtered out before
// any VWAP computation.
type PriceLevel struct {
	Price float64
	Qty   float64
}

// ExchangeSnapshot is the latest normalized depth snapshot for one symbol on
// one exchange. Bids are ordered descending by price, asks ascending. A
// snapshot is immutable once constructed; a newer snapshot for the same
// (symbol, exchange) pair supersedes it rather than mutating it.
type ExchangeSnapshot struct {
	Symbol       string
	ExchangeID   int
	ExchangeName string
	Bids         []PriceLevel
	Asks         []PriceLevel

	// ObservedAt is the exchange-reported event time.
	ObservedAt time.Time
	// ReceivedAt is the local arrival time, used for staleness checks.
	ReceivedAt time.Time
}

// BestBid returns the top-of-book bid price, or 0 when there are no bids.
func (s ExchangeSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the top-of-book ask price, or 0 when there are no asks.
func (s ExchangeSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// Crossed reports whether the book is crossed: best bid at or above best
// ask. A crossed book indicates inconsistent exchange data and must never
// contribute to a composite ladder.
func (s ExchangeSnapshot) Crossed() bool {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return false
	}
	return s.Bids[0].Price >= s.Asks[0].Price
}

// Valid reports whether every level carries finite, non-negative numbers.
func (s ExchangeSnapshot) Valid() bool {
	for _, lvls := range [][]PriceLevel{s.Bids, s.Asks} {
		for _, l := range lvls {
			if !isFinite(l.Price) || !isFinite(l.Qty) || l.Price < 0 || l.Qty < 0 {
				return false
			}
		}
	}
	return true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Exclusion reason codes recorded per configured exchange on every
// evaluation cycle.
const (
	ReasonOK      = "ok"
	ReasonStale   = "stale"
	ReasonCrossed = "crossed"
	ReasonInvalid = "invalid"
	ReasonMissing = "missing"
)

// SourceStatus records why a configured exchange was included in or excluded
// from a composite book, together with its best available price at the time
// of the decision (0 when no price was available).
type SourceStatus struct {
	ExchangeID   int     `json:"exchange_id"`
	ExchangeName string  `json:"exchange"`
	Price        float64 `json:"price"`
	Reason       string  `json:"reason"`
}

// CompositeBook is the merged per-symbol ladder built from every exchange
// whose latest snapshot passed validity checks. It exists only for the
// duration of one evaluation cycle and is never stored.
type CompositeBook struct {
	Symbol   string
	Bids     []PriceLevel
	Asks     []PriceLevel
	Expected []int
	Sources  []int
	Status   []SourceStatus
	BuiltAt  time.Time
}

// Empty reports whether no exchange contributed to the composite this cycle.
func (b CompositeBook) Empty() bool {
	return len(b.Sources) == 0
}
