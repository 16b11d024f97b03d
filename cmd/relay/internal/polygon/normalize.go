package polygon

import "encoding/json"

// SnapshotTicker is the normalized shape of one snapshot entry. Pointer fields
// distinguish "absent upstream" from a legitimate zero.
type SnapshotTicker struct {
	Ticker    string
	LastPrice *float64
	PrevClose *float64
	PctChange *float64
	Volume    float64
}

// rawSnapshot mirrors the superset of shapes the snapshot source has been
// observed to return. The same logical field shows up under different keys
// depending on endpoint version and market.
type rawSnapshot struct {
	Ticker string `json:"ticker"`
	T      string `json:"T"`
	Symbol string `json:"symbol"`

	TodaysChangePerc *float64 `json:"todaysChangePerc"`

	LastTrade *struct {
		Price *float64 `json:"p"`
	} `json:"lastTrade"`
	Last *struct {
		Price *float64 `json:"price"`
	} `json:"last"`
	Day *struct {
		Close  *float64 `json:"c"`
		Volume float64  `json:"v"`
	} `json:"day"`
	Min *struct {
		Close *float64 `json:"c"`
	} `json:"min"`

	PrevDay *struct {
		Close *float64 `json:"c"`
	} `json:"prevDay"`
	PrevClose *float64 `json:"prevClose"`
}

// Normalize maps one raw snapshot entry onto a typed record. Field precedence,
// first non-null wins:
//
//	ticker:     ticker > T > symbol
//	last price: lastTrade.p > last.price > day.c > min.c
//	prev close: prevDay.c > prevClose
//
// The second return is false when the entry is not valid JSON.
func Normalize(raw json.RawMessage) (SnapshotTicker, bool) {
	var r rawSnapshot
	if err := json.Unmarshal(raw, &r); err != nil {
		return SnapshotTicker{}, false
	}

	out := SnapshotTicker{
		Ticker:    firstString(r.Ticker, r.T, r.Symbol),
		PctChange: r.TodaysChangePerc,
	}

	if r.LastTrade != nil && r.LastTrade.Price != nil {
		out.LastPrice = r.LastTrade.Price
	} else if r.Last != nil && r.Last.Price != nil {
		out.LastPrice = r.Last.Price
	} else if r.Day != nil && r.Day.Close != nil {
		out.LastPrice = r.Day.Close
	} else if r.Min != nil && r.Min.Close != nil {
		out.LastPrice = r.Min.Close
	}

	if r.PrevDay != nil && r.PrevDay.Close != nil {
		out.PrevClose = r.PrevDay.Close
	} else if r.PrevClose != nil {
		out.PrevClose = r.PrevClose
	}

	if r.Day != nil {
		out.Volume = r.Day.Volume
	}

	return out, true
}

func firstString(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
