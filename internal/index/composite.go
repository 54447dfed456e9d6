package index

import (
	"time"

	"github.com/quantfeed/compindex/internal/domain"
)

// Exchange identifies a configured upstream source.
type Exchange struct {
	ID   int
	Name string
}

// Assembler builds per-cycle composite books from the latest snapshots of
// the configured exchanges, applying staleness and crossed-book exclusion.
type Assembler struct {
	table     *SnapshotTable
	exchanges []Exchange
	stale     time.Duration
	depth     int
}

// NewAssembler creates an Assembler over the given snapshot table. stale is
// the freshness threshold; depth limits how many levels per side each
// exchange contributes (0 = unlimited).
func NewAssembler(table *SnapshotTable, exchanges []Exchange, stale time.Duration, depth int) *Assembler {
	return &Assembler{
		table:     table,
		exchanges: exchanges,
		stale:     stale,
		depth:     depth,
	}
}

// Exchanges returns the configured exchange set.
func (a *Assembler) Exchanges() []Exchange {
	return a.exchanges
}

// Build assembles the composite book for symbol at evaluation time now. Every
// configured exchange gets a SourceStatus entry regardless of inclusion; an
// empty composite (all sources excluded) is a valid outcome, not an error.
func (a *Assembler) Build(symbol string, now time.Time) domain.CompositeBook {
	book := domain.CompositeBook{
		Symbol:   symbol,
		Expected: make([]int, 0, len(a.exchanges)),
		Sources:  make([]int, 0, len(a.exchanges)),
		Status:   make([]domain.SourceStatus, 0, len(a.exchanges)),
		BuiltAt:  now,
	}

	for _, ex := range a.exchanges {
		book.Expected = append(book.Expected, ex.ID)

		snap, ok := a.table.Get(symbol, ex.ID)
		if !ok {
			book.Status = append(book.Status, status(ex, 0, domain.ReasonMissing))
			continue
		}

		switch {
		case now.Sub(snap.ReceivedAt) >= a.stale:
			book.Status = append(book.Status, status(ex, bestPrice(snap), domain.ReasonStale))
		case !snap.Valid():
			book.Status = append(book.Status, status(ex, bestPrice(snap), domain.ReasonInvalid))
		case snap.Crossed():
			book.Status = append(book.Status, status(ex, bestPrice(snap), domain.ReasonCrossed))
		default:
			book.Bids = append(book.Bids, truncate(snap.Bids, a.depth)...)
			book.Asks = append(book.Asks, truncate(snap.Asks, a.depth)...)
			book.Sources = append(book.Sources, ex.ID)
			book.Status = append(book.Status, status(ex, bestPrice(snap), domain.ReasonOK))
		}
	}

	return book
}

func status(ex Exchange, price float64, reason string) domain.SourceStatus {
	return domain.SourceStatus{
		ExchangeID:   ex.ID,
		ExchangeName: ex.Name,
		Price:        price,
		Reason:       reason,
	}
}

// bestPrice returns the best available price for a snapshot: the midpoint of
// the top of book when both sides exist, otherwise whichever side does.
func bestPrice(snap domain.ExchangeSnapshot) float64 {
	bid, ask := snap.BestBid(), snap.BestAsk()
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	default:
		return ask
	}
}
