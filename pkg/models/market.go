package models

// GainerRow is one ranked entry in the top-movers response.
// Change is rounded to 4 decimals, PctChange to 2.
type GainerRow struct {
	Ticker    string  `json:"ticker"`
	Open      float64 `json:"open"`
	Close     float64 `json:"close"`
	Change    float64 `json:"change"`
	PctChange float64 `json:"pct_change"`
	Volume    float64 `json:"volume"`
	Date      string  `json:"date"` // YYYY-MM-DD, exchange-local
	Source    string  `json:"source"`

	// Enrichment fields, absent when the reference lookup failed or was skipped.
	Sector    string  `json:"sector,omitempty"`
	MarketCap float64 `json:"market_cap,omitempty"`
}

// Row sources.
const (
	SourceSnapshot = "snapshot"
	SourceGrouped  = "grouped"
)

// GroupedBar is one symbol's daily bar from the grouped-aggregates source.
type GroupedBar struct {
	Ticker string  `json:"T"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

// TradingDayResult is what the calendar walk-back produces: the most recent
// date with published grouped data, or yesterday's date with no bars when the
// whole horizon came up empty.
type TradingDayResult struct {
	Date string
	Bars []GroupedBar
}

// Reference is slow-changing per-symbol metadata used to enrich gainer rows.
type Reference struct {
	Ticker    string  `json:"ticker"`
	Sector    string  `json:"sector"`
	MarketCap float64 `json:"market_cap"`
}

// GainersResponse is the HTTP envelope for the top-movers endpoint.
type GainersResponse struct {
	Date    string      `json:"date"`
	Source  string      `json:"source"`
	Results []GainerRow `json:"results"`
}

// ErrorResponse is returned when a request cannot produce a result envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
