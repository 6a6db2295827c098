package strategy

import (
	"fmt"
	"time"

	"github.com/tradeloop/momentum-app/internal/marketdata"
)

// PrescreenParams configures the lightweight broad-screening gate that can
// run ahead of the shock detector.
type PrescreenParams struct {
	Enabled          bool
	RequireAboveVWAP bool
	SqueezePct       float64
	SqueezeMinutes   int
	MaxSpreadPct     float64
}

// PricePoint is one (timestamp, price) sample of the screening history.
type PricePoint struct {
	Time  time.Time
	Price float64
}

// PassesSpreadFilter checks the bid-ask spread against an absolute cap as a
// percentage of last price. Missing quote data passes by default; the
// execution safety gate re-checks with fail-closed semantics before any
// order goes out.
func PassesSpreadFilter(bid, ask, price, maxSpreadPct float64) bool {
	if bid <= 0 || ask <= 0 || price <= 0 {
		return true
	}
	return (ask-bid)/price*100 <= maxSpreadPct
}

// CheckSqueeze fires when price is up at least pct percent against the
// oldest sample inside the lookback window.
func CheckSqueeze(history []PricePoint, now time.Time, pct float64, minutes int) (bool, string) {
	if len(history) < 2 {
		return false, "insufficient history"
	}
	cutoff := now.Add(-time.Duration(minutes) * time.Minute)
	var oldPrice float64
	for _, pp := range history {
		if !pp.Time.Before(cutoff) {
			oldPrice = pp.Price
			break
		}
	}
	if oldPrice <= 0 {
		return false, "no price in window"
	}
	cur := history[len(history)-1].Price
	increase := (cur - oldPrice) / oldPrice * 100
	if increase >= pct {
		return true, fmt.Sprintf("up %.2f%% in %dm", increase, minutes)
	}
	return false, "no squeeze"
}

// Prescreen is the AND of the configured screening conditions. Disabled
// prescreen always passes.
func Prescreen(s *marketdata.Snapshot, history []PricePoint, p PrescreenParams) (bool, string) {
	if !p.Enabled {
		return true, "prescreen disabled"
	}
	if !PassesSpreadFilter(s.Bid, s.Ask, s.Price, p.MaxSpreadPct) {
		return false, "spread too wide"
	}
	if p.RequireAboveVWAP && !(s.VWAP > 0 && s.Price > s.VWAP) {
		return false, "price not above vwap"
	}
	if p.SqueezePct > 0 {
		if ok, reason := CheckSqueeze(history, s.Timestamp, p.SqueezePct, p.SqueezeMinutes); !ok {
			return false, reason
		}
	}
	return true, "prescreen pass"
}
