package index

import "time"

// WindowAccumulator integrates an instantaneous index value over wall-clock
// time for one (symbol, window) pair and emits a true time-weighted average
// at each window boundary. Integrating value x elapsed time (rather than
// averaging samples) keeps the result robust to irregular snapshot arrival
// rates across exchanges.
//
// The window boundary is a reporting cut, not a data reset: the last observed
// value and its timestamp carry over so the next window continues integrating
// from them.
type WindowAccumulator struct {
	symbol string
	window time.Duration

	sumValueDt   float64
	sumDt        float64
	lastValue    float64
	lastUpdateAt time.Time

	started  bool // at least one value ever observed
	observed bool // at least one value observed since the last boundary
}

// NewWindowAccumulator creates an accumulator for one (symbol, window) pair.
func NewWindowAccumulator(symbol string, window time.Duration) *WindowAccumulator {
	return &WindowAccumulator{symbol: symbol, window: window}
}

// Symbol returns the instrument this accumulator integrates.
func (w *WindowAccumulator) Symbol() string { return w.symbol }

// Window returns the emission cadence this accumulator reports on.
func (w *WindowAccumulator) Window() time.Duration { return w.window }

// Observe integrates the previously held value up to t and then adopts v as
// the new instantaneous value. The first observation only initializes state;
// there is no prior value to weight.
func (w *WindowAccumulator) Observe(v float64, t time.Time) {
	if !w.started {
		w.lastValue = v
		w.lastUpdateAt = t
		w.started = true
		w.observed = true
		return
	}

	dt := t.Sub(w.lastUpdateAt).Seconds()
	if dt < 0 {
		dt = 0
	}
	w.sumValueDt += w.lastValue * dt
	w.sumDt += dt
	w.lastValue = v
	w.lastUpdateAt = t
	w.observed = true
}

// Emit closes the current window at boundary time t. When at least one value
// was observed this window, the held value is integrated up to the boundary
// and the time-weighted average is returned with fresh = true. When nothing
// arrived since the previous boundary, fresh is false and the caller decides
// provisional/no-publish handling. The sums reset either way; the carried
// value and timestamp survive for the next window.
func (w *WindowAccumulator) Emit(t time.Time) (twap float64, fresh bool) {
	if w.observed {
		dt := t.Sub(w.lastUpdateAt).Seconds()
		if dt > 0 {
			w.sumValueDt += w.lastValue * dt
			w.sumDt += dt
			w.lastUpdateAt = t
		}
	}

	if w.sumDt > 0 {
		twap = w.sumValueDt / w.sumDt
		fresh = true
	}

	w.sumValueDt = 0
	w.sumDt = 0
	w.observed = false
	return twap, fresh
}
