package index

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfeed/compindex/internal/domain"
)

// ResultHandler receives every emitted IndexResult. Handlers must not block:
// any I/O belongs behind the bounded publish queue.
type ResultHandler func(ctx context.Context, res domain.IndexResult)

// Engine owns the evaluation subsystem: it applies inbound snapshots to the
// snapshot table, re-evaluates the composite on every arrival to feed the
// window accumulators, and runs one wall-clock anchored emission loop per
// (symbol, window) pair.
type Engine struct {
	table    *SnapshotTable
	asm      *Assembler
	policy   *PolicyEngine
	symbols  []string
	windows  []time.Duration
	onResult ResultHandler
	logger   *slog.Logger

	mu   sync.Mutex
	accs map[policyKey]*WindowAccumulator
}

// NewEngine creates an Engine. Accumulators are created lazily per
// (symbol, window) on first use and live for the lifetime of the engine.
func NewEngine(
	table *SnapshotTable,
	asm *Assembler,
	policy *PolicyEngine,
	symbols []string,
	windows []time.Duration,
	onResult ResultHandler,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		table:    table,
		asm:      asm,
		policy:   policy,
		symbols:  symbols,
		windows:  windows,
		onResult: onResult,
		logger:   logger.With(slog.String("component", "index_engine")),
		accs:     make(map[policyKey]*WindowAccumulator),
	}
}

// HandleSnapshot applies one normalized exchange snapshot: it overwrites the
// table entry (last-writer-wins by arrival order), rebuilds the composite,
// and integrates the instantaneous mid into every window accumulator for the
// symbol. CPU-only; safe to call from concurrent ingestion goroutines.
func (e *Engine) HandleSnapshot(ctx context.Context, snap domain.ExchangeSnapshot) {
	e.table.Put(snap)

	now := snap.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	book := e.asm.Build(snap.Symbol, now)
	if book.Empty() {
		return
	}

	vb := VWAPBuy(book.Asks, 0)
	vs := VWAPSell(book.Bids, 0)
	if vb == 0 || vs == 0 {
		// One-sided or empty ladder: no defensible mid this cycle.
		return
	}
	mid := Mid(vb, vs)

	e.mu.Lock()
	for _, w := range e.windows {
		e.acc(snap.Symbol, w).Observe(mid, now)
	}
	e.mu.Unlock()
}

// acc returns the accumulator for (symbol, window), creating it on first
// use. The caller must hold e.mu.
func (e *Engine) acc(symbol string, window time.Duration) *WindowAccumulator {
	k := policyKey{symbol: symbol, window: window}
	a, ok := e.accs[k]
	if !ok {
		a = NewWindowAccumulator(symbol, window)
		e.accs[k] = a
	}
	return a
}

// Run starts one emission loop per (symbol, window) pair and blocks until
// the context is cancelled or a loop fails.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, symbol := range e.symbols {
		for _, window := range e.windows {
			symbol, window := symbol, window
			g.Go(func() error {
				return e.runWindow(ctx, symbol, window)
			})
		}
	}

	e.logger.Info("index engine started",
		slog.Int("symbols", len(e.symbols)),
		slog.Int("windows", len(e.windows)),
	)
	return g.Wait()
}

// runWindow drives the fixed-cadence emission for one (symbol, window) pair.
// Ticks are anchored to wall-clock boundaries so timer re-arm error does not
// accumulate into drift.
func (e *Engine) runWindow(ctx context.Context, symbol string, window time.Duration) error {
	next := time.Now().Truncate(window).Add(window)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			e.emit(ctx, symbol, window, time.Now())
			next = next.Add(window)
			// Catch up if an emission overran an entire window.
			for !next.After(time.Now()) {
				next = next.Add(window)
			}
			timer.Reset(time.Until(next))
		}
	}
}

// emit performs one evaluation-and-emit cycle: assemble the composite,
// close the accumulator window, run the publish policy, and hand the result
// to the sink layer.
func (e *Engine) emit(ctx context.Context, symbol string, window time.Duration, now time.Time) {
	book := e.asm.Build(symbol, now)

	var vwapBuy, vwapSell float64
	if !book.Empty() {
		vwapBuy = VWAPBuy(book.Asks, 0)
		vwapSell = VWAPSell(book.Bids, 0)
	}

	e.mu.Lock()
	twap, fresh := e.acc(symbol, window).Emit(now)
	e.mu.Unlock()

	res := e.policy.Evaluate(book, vwapBuy, vwapSell, twap, fresh, window, now)

	if res.NoPublish {
		e.logger.Debug("index suppressed",
			slog.String("symbol", symbol),
			slog.Duration("window", window),
		)
	}

	if e.onResult != nil {
		e.onResult(ctx, res)
	}
}
