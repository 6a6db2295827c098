package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/tradeloop/momentum-app/internal/marketdata"
)

// All checks are pure functions of a snapshot and a parameter set. Missing
// or degenerate data (no bars, zero open, no quotes) fails closed: the
// check returns false rather than an error, so a data gap can never by
// itself cause a trade.

// InWindow reports whether the time-of-day of ts falls inside any
// configured window, inclusive on both ends.
func InWindow(ts time.Time, windows []TimeWindow) bool {
	tod := ts.Format("15:04:05")
	for _, w := range windows {
		if tod >= w.Start && tod <= w.End {
			return true
		}
	}
	return false
}

// CheckShock detects a sudden price/volume move on the latest 1s bar, with
// an alternative path combining the last two 1s bars so a shock split
// across two sampled bars still qualifies.
func CheckShock(s *marketdata.Snapshot, p Params) (bool, string) {
	last, ok := s.Last1s()
	if !ok {
		return false, "no 1s bars"
	}

	// 1-bar path
	if last.Open > 0 {
		ret := last.Return()
		if ret >= p.ShockRet1s && last.Volume >= p.ShockVolMult1s*s.MedVol1s {
			return true, fmt.Sprintf("shock 1s: ret=%.4f vol=%.0f (%.1fx med)",
				ret, last.Volume, last.Volume/s.MedVol1s)
		}
	}

	// 2-bar path: aggregate return and volume across the last two bars
	prev, ok := s.Prev1s()
	if !ok || prev.Open <= 0 {
		return false, "no shock"
	}
	ret2 := (last.Close - prev.Open) / prev.Open
	vol2 := last.Volume + prev.Volume
	if ret2 >= p.ShockRet2s && vol2 >= p.ShockVolMult2s*s.MedVol1s {
		return true, fmt.Sprintf("shock 2s: ret=%.4f vol=%.0f (%.1fx med)",
			ret2, vol2, vol2/s.MedVol1s)
	}
	return false, "no shock"
}

// CheckConfirm corroborates a shock on the latest 5s bar: return, volume
// and range must all clear their thresholds simultaneously, with an
// optional VWAP sanity clause.
func CheckConfirm(s *marketdata.Snapshot, p Params) (bool, string) {
	bar, ok := s.Last5s()
	if !ok {
		return false, "no 5s bars"
	}
	if bar.Open <= 0 {
		return false, "zero open"
	}

	ret := bar.Return()
	if ret < p.ConfirmRet5s {
		return false, fmt.Sprintf("ret %.4f < %.4f", ret, p.ConfirmRet5s)
	}
	if bar.Volume < p.ConfirmVolMult5s*s.MedVol5s {
		return false, fmt.Sprintf("vol %.0f < %.1fx med", bar.Volume, p.ConfirmVolMult5s)
	}
	if bar.Range() < p.RangeMult5s*s.MedRange5s {
		return false, fmt.Sprintf("range %.4f < %.1fx med", bar.Range(), p.RangeMult5s)
	}
	if p.VWAPMinRatio > 0 && s.VWAP > 0 && s.Price < p.VWAPMinRatio*s.VWAP {
		return false, fmt.Sprintf("price %.4f below %.2fx vwap", s.Price, p.VWAPMinRatio)
	}
	return true, fmt.Sprintf("confirm 5s: ret=%.4f vol=%.0f range=%.4f", ret, bar.Volume, bar.Range())
}

// CheckNoFade rejects confirmation when price has already pulled back more
// than NoFadeFrac of the latest 5s bar's range from its high.
func CheckNoFade(s *marketdata.Snapshot, p Params) (bool, string) {
	bar, ok := s.Last5s()
	if !ok {
		return false, "no 5s bars"
	}
	rng := bar.Range()
	if rng <= 0 {
		return true, "flat bar"
	}
	pullback := bar.High - s.Price
	if pullback > p.NoFadeFrac*rng {
		return false, fmt.Sprintf("faded %.4f of range %.4f", pullback, rng)
	}
	return true, "no fade"
}

// CheckExecSafety gates order placement on quote quality: quotes must be
// present, tight relative to both the midpoint and the recent move, and
// fresh.
func CheckExecSafety(s *marketdata.Snapshot, p Params) (bool, string) {
	if s.Bid <= 0 || s.Ask <= 0 {
		return false, "missing bid/ask"
	}
	spread := s.Ask - s.Bid
	mid := (s.Ask + s.Bid) / 2
	if mid <= 0 {
		return false, "bad midpoint"
	}
	if spread/mid*100 > p.MaxSpreadPct {
		return false, fmt.Sprintf("spread %.2f%% > %.2f%%", spread/mid*100, p.MaxSpreadPct)
	}

	last, ok := s.Last1s()
	if !ok {
		return false, "no 1s bars"
	}
	move := math.Abs(last.Close - last.Open)
	if move > 0 && spread > p.SpreadRelMult*move {
		return false, fmt.Sprintf("spread %.4f > %.1fx move %.4f", spread, p.SpreadRelMult, move)
	}

	stale := time.Duration(p.QuoteStaleMs) * time.Millisecond
	if s.Timestamp.Sub(s.BidTime) > stale || s.Timestamp.Sub(s.AskTime) > stale {
		return false, "stale quotes"
	}
	return true, "exec safe"
}

// CheckExit evaluates the exit rules in strict priority order; the first
// rule that fires wins and no later rule is consulted.
func CheckExit(s *marketdata.Snapshot, entryPrice, stopPrice float64, entryTime time.Time, r float64, p Params) (bool, ExitReason) {
	// 1. Hard stop
	if s.Price <= stopPrice {
		return true, ExitHardStop
	}

	// 2. Weakness fail-fast on the latest 1s bar
	if last, ok := s.Last1s(); ok && last.Open > 0 {
		if last.Return() <= -p.FailRet1s {
			return true, ExitWeakness
		}
	}

	// 3. Take profit at TPRMult R-multiples
	if r > 0 && s.Price >= entryPrice+p.TPRMult*r {
		return true, ExitTakeProfit
	}

	// 4. Time stop: past the deadline, exit unless the trade has earned its keep
	if p.TimeStopSecs > 0 && s.Timestamp.Sub(entryTime) >= time.Duration(p.TimeStopSecs)*time.Second {
		if r > 0 && (s.Price-entryPrice)/r < p.MinPnLRAtTime {
			return true, ExitTimeStop
		}
	}

	return false, ""
}

// StopDistance sizes the initial stop: the widest of the current spread, a
// multiple of the recent 5s median range, and a percentage of price.
func StopDistance(s *marketdata.Snapshot, p Params) float64 {
	dist := s.Ask - s.Bid
	if d := p.StopRangeMult * s.MedRange5s; d > dist {
		dist = d
	}
	if d := s.Price * p.StopPct; d > dist {
		dist = d
	}
	return dist
}
