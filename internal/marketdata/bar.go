package marketdata

import "time"

// Tick is a single trade print plus the quote context delivered with it.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      int64     `json:"size"`
	VWAP      float64   `json:"vwap"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Bar is an immutable OHLCV record for one time bucket. Bars are never
// mutated after the aggregator closes them.
type Bar struct {
	Timestamp time.Time `json:"timestamp"` // bucket start
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	VWAP      float64   `json:"vwap"`
}

// Range returns high minus low.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Return is the in-bar return (close-open)/open, 0 when open is 0.
func (b Bar) Return() float64 {
	if b.Open == 0 {
		return 0
	}
	return (b.Close - b.Open) / b.Open
}

// BucketStart truncates ts to the start of its width-sized bucket:
// floor(t/W)*W on the unix timeline.
func BucketStart(ts time.Time, width time.Duration) time.Time {
	secs := int64(width / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return time.Unix(ts.Unix()/secs*secs, 0).UTC()
}
