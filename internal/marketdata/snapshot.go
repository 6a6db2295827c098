package marketdata

import "time"

// Capacities of the per-symbol bar windows: 5 minutes of 1s bars, 10
// minutes of 5s bars.
const (
	Capacity1s = 300
	Capacity5s = 120
)

// Snapshot is the mutable per-symbol view the strategy checks read. Each
// snapshot is owned by exactly one symbol monitor; nothing else writes it.
type Snapshot struct {
	Symbol    string
	Timestamp time.Time
	Price     float64
	Bid       float64
	Ask       float64
	BidTime   time.Time
	AskTime   time.Time
	Volume    int64
	VWAP      float64

	Bars1s []Bar
	Bars5s []Bar

	MedVol1s   float64
	MedVol5s   float64
	MedRange5s float64
}

// Last1s returns the newest closed 1s bar.
func (s *Snapshot) Last1s() (Bar, bool) {
	if len(s.Bars1s) == 0 {
		return Bar{}, false
	}
	return s.Bars1s[len(s.Bars1s)-1], true
}

// Prev1s returns the second-newest closed 1s bar.
func (s *Snapshot) Prev1s() (Bar, bool) {
	if len(s.Bars1s) < 2 {
		return Bar{}, false
	}
	return s.Bars1s[len(s.Bars1s)-2], true
}

// Last5s returns the newest closed 5s bar.
func (s *Snapshot) Last5s() (Bar, bool) {
	if len(s.Bars5s) == 0 {
		return Bar{}, false
	}
	return s.Bars5s[len(s.Bars5s)-1], true
}
