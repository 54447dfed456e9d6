package index

import (
	"math"
	"sync"
	"time"

	"github.com/quantfeed/compindex/internal/domain"
)

// baseEpsilon guards the ratio computation against a zero base price.
const baseEpsilon = 1e-9

type policyKey struct {
	symbol string
	window time.Duration
}

type lastGood struct {
	value float64
	at    time.Time
}

// PolicyEngine decides, per emission, whether a freshly computed value is
// final, provisional (re-emission of the last good value), or suppressed
// (no_publish), and attaches the source bookkeeping consumers and auditors
// rely on.
//
// It owns the single authoritative last-good store for every (symbol,
// window) pair; the window accumulators deliberately keep no copy of it.
type PolicyEngine struct {
	provisionalMax time.Duration
	basePriority   []string

	mu   sync.Mutex
	good map[policyKey]lastGood
}

// NewPolicyEngine creates a PolicyEngine. provisionalMax bounds how long a
// last good value may bridge a source gap; basePriority orders exchange
// names for base-price selection.
func NewPolicyEngine(provisionalMax time.Duration, basePriority []string) *PolicyEngine {
	return &PolicyEngine{
		provisionalMax: provisionalMax,
		basePriority:   basePriority,
		good:           make(map[policyKey]lastGood),
	}
}

// Evaluate produces the IndexResult for one window tick. book is the
// composite assembled at the boundary; vwapBuy/vwapSell are its
// instantaneous VWAPs; twap is the aggregator's emission and fresh reports
// whether the window saw any integration. Every tick yields a well-formed
// record, even when it only signals "no data".
func (p *PolicyEngine) Evaluate(book domain.CompositeBook, vwapBuy, vwapSell, twap float64, fresh bool, window time.Duration, now time.Time) domain.IndexResult {
	res := domain.IndexResult{
		Symbol:    book.Symbol,
		Window:    window,
		Expected:  book.Expected,
		Sources:   book.Sources,
		Status:    book.Status,
		CreatedAt: now,
	}

	key := policyKey{symbol: book.Symbol, window: window}

	if !book.Empty() && fresh {
		res.VwapBuy = vwapBuy
		res.VwapSell = vwapSell
		res.IndexMid = twap
		res.ActualAvg = actualAvg(book.Status)
		res.Diff, res.Ratio = p.baseDiff(book.Status, twap)

		p.mu.Lock()
		p.good[key] = lastGood{value: twap, at: now}
		p.mu.Unlock()
		return res
	}

	// No usable sources or no fresh integration this window: bridge with the
	// last good value while it is recent enough, otherwise suppress.
	p.mu.Lock()
	lg, ok := p.good[key]
	p.mu.Unlock()

	if ok && now.Sub(lg.at) < p.provisionalMax {
		res.Provisional = true
		res.IndexMid = lg.value
		res.Diff, res.Ratio = p.baseDiff(book.Status, lg.value)
		return res
	}

	res.NoPublish = true
	return res
}

// LastGood returns the current last good value and its timestamp for a
// (symbol, window) pair, if one exists.
func (p *PolicyEngine) LastGood(symbol string, window time.Duration) (float64, time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lg, ok := p.good[policyKey{symbol: symbol, window: window}]
	return lg.value, lg.at, ok
}

// actualAvg is the arithmetic mean of prices over sources whose reason is
// exactly "ok" -- a cross-check against the VWAP-derived mid, not the
// published index itself.
func actualAvg(status []domain.SourceStatus) float64 {
	var sum float64
	var n int
	for _, st := range status {
		if st.Reason == domain.ReasonOK {
			sum += st.Price
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// baseDiff selects the base price from the priority-ordered exchange list
// (falling back to the first included source) and returns the diff and
// percentage ratio against the given mid. Both are sanity metrics, never a
// gating condition.
func (p *PolicyEngine) baseDiff(status []domain.SourceStatus, mid float64) (diff, ratio float64) {
	base, ok := basePrice(status, p.basePriority)
	if !ok {
		return 0, 0
	}
	diff = base - mid
	ratio = math.Abs(diff) / math.Max(base, baseEpsilon) * 100
	return diff, ratio
}

func basePrice(status []domain.SourceStatus, priority []string) (float64, bool) {
	for _, name := range priority {
		for _, st := range status {
			if st.ExchangeName == name && st.Reason == domain.ReasonOK && st.Price > 0 {
				return st.Price, true
			}
		}
	}
	for _, st := range status {
		if st.Reason == domain.ReasonOK && st.Price > 0 {
			return st.Price, true
		}
	}
	return 0, false
}
