package domain

import "time"

// IndexResult is one emitted index value for a (symbol, window) pair. It is
// created once per window tick, immutable, and handed first to the publish
// policy engine and then to every sink.
type IndexResult struct {
	Symbol   string        `json:"symbol"`
	Window   time.Duration `json:"window"`
	VwapBuy  float64       `json:"vwap_buy"`
	VwapSell float64       `json:"vwap_sell"`
	IndexMid float64       `json:"index_mid"`

	// Expected lists every configured exchange for the symbol; Sources the
	// subset that actually contributed this cycle. Sources is always a
	// subset of Expected.
	Expected []int          `json:"expected_exchanges"`
	Sources  []int          `json:"sources"`
	Status   []SourceStatus `json:"expected_status"`

	// Provisional marks a re-emission of the last good value during a short
	// source outage. NoPublish marks a record that carries no defensible
	// value at all; sinks must not persist or alert on it as live data.
	Provisional bool `json:"provisional"`
	NoPublish   bool `json:"no_publish"`

	// ActualAvg is the arithmetic mean of included exchanges' prices, a
	// cross-check against the VWAP-derived mid. Diff and Ratio compare the
	// mid against the priority-ordered base exchange price.
	ActualAvg float64 `json:"actual_avg"`
	Diff      float64 `json:"diff"`
	Ratio     float64 `json:"ratio"`

	CreatedAt time.Time `json:"created_at"`
}
