package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/tradeloop/momentum-app/internal/broker"
	"github.com/tradeloop/momentum-app/internal/exec"
	"github.com/tradeloop/momentum-app/internal/marketdata"
	"github.com/tradeloop/momentum-app/internal/observ"
	"github.com/tradeloop/momentum-app/internal/strategy"
)

// Monitor states. WARMUP ends once enough bars exist, ARMED decays
// back to IDLE on timeout, and the order-side states mirror the
// execution engine's view of the symbol.
const (
	StateWarmup     = "WARMUP"
	StateIdle       = "IDLE"
	StateArmed      = "ARMED"
	StateSubmitting = "SUBMITTING"
	StateInTrade    = "IN_TRADE"
	StateExiting    = "EXITING"
)

type WarmupConfig struct {
	Min1sBars       int
	Min5sBars       int
	HistoryMinutes  int
	FallbackSeconds int
}

// SymbolMonitor builds bars and rolling statistics for one symbol and
// runs the shock/confirm state machine over them. Each tick performs
// at most one state transition, so a shock and its confirmation can
// never collapse into a single update.
type SymbolMonitor struct {
	symbol  string
	engine  *exec.Engine
	params  strategy.Params
	pre     strategy.PrescreenParams
	windows []strategy.TimeWindow
	warmup  WarmupConfig
	clock   func() time.Time

	mu        sync.Mutex
	state     string
	armedAt   time.Time
	startedAt time.Time

	agg1s   *marketdata.Aggregator
	agg5s   *marketdata.Aggregator
	snap    marketdata.Snapshot
	history []strategy.PricePoint
	cumPV   float64
	cumVol  float64
}

func NewSymbolMonitor(symbol string, eng *exec.Engine, p strategy.Params, pre strategy.PrescreenParams, windows []strategy.TimeWindow, w WarmupConfig) *SymbolMonitor {
	m := &SymbolMonitor{
		symbol:  symbol,
		engine:  eng,
		params:  p,
		pre:     pre,
		windows: windows,
		warmup:  w,
		clock:   func() time.Time { return time.Now().UTC() },
		state:   StateWarmup,
		agg1s:   marketdata.NewAggregator(time.Second, marketdata.Capacity1s),
		agg5s:   marketdata.NewAggregator(5*time.Second, marketdata.Capacity5s),
	}
	m.startedAt = m.clock()
	m.snap.Symbol = symbol
	return m
}

// Preload seeds the bar history from the broker's historical data so
// the monitor can leave WARMUP without sitting through minutes of
// live ticks. An empty fetch is not an error; the fallback timer
// releases the monitor instead.
func (m *SymbolMonitor) Preload(ctx context.Context, b broker.Broker) {
	if m.warmup.HistoryMinutes <= 0 {
		return
	}
	dur := time.Duration(m.warmup.HistoryMinutes) * time.Minute
	bars := b.FetchHistoricalBars(ctx, m.symbol, m.clock(), dur, time.Second)
	if len(bars) == 0 {
		observ.Log("warmup_no_history", map[string]any{"symbol": m.symbol})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bar := range bars {
		m.agg1s.Seed(bar)
	}
	for _, bar := range rollUp(bars, 5*time.Second) {
		m.agg5s.Seed(bar)
	}
	m.refreshStatsLocked()
	if m.warmedLocked() {
		m.state = StateIdle
	}
	observ.Log("warmup_preloaded", map[string]any{
		"symbol": m.symbol, "bars_1s": m.agg1s.Len(), "bars_5s": m.agg5s.Len(), "state": m.state,
	})
}

// rollUp merges fine bars into coarser buckets.
func rollUp(bars []marketdata.Bar, width time.Duration) []marketdata.Bar {
	var out []marketdata.Bar
	for _, b := range bars {
		bucket := marketdata.BucketStart(b.Timestamp, width)
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(bucket) {
			cur := &out[n-1]
			if b.High > cur.High {
				cur.High = b.High
			}
			if b.Low < cur.Low {
				cur.Low = b.Low
			}
			cur.Close = b.Close
			cur.Volume += b.Volume
			cur.VWAP = b.VWAP
			continue
		}
		merged := b
		merged.Timestamp = bucket
		out = append(out, merged)
	}
	return out
}

// OnTick ingests one trade print: updates the snapshot, closes bars,
// refreshes medians, then runs a single state-transition check.
func (m *SymbolMonitor) OnTick(t marketdata.Tick) {
	if t.Symbol != m.symbol {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snap.Price = t.Price
	m.snap.Timestamp = t.Timestamp
	m.snap.Volume += t.Size
	if t.Bid > 0 {
		m.snap.Bid = t.Bid
		m.snap.BidTime = t.Timestamp
	}
	if t.Ask > 0 {
		m.snap.Ask = t.Ask
		m.snap.AskTime = t.Timestamp
	}
	if t.VWAP > 0 {
		m.snap.VWAP = t.VWAP
	} else if t.Size > 0 && t.Price > 0 {
		m.cumPV += t.Price * float64(t.Size)
		m.cumVol += float64(t.Size)
		m.snap.VWAP = m.cumPV / m.cumVol
	}

	_, closed1 := m.agg1s.Add(t)
	_, closed5 := m.agg5s.Add(t)
	if closed1 || closed5 {
		m.refreshStatsLocked()
	}

	m.history = append(m.history, strategy.PricePoint{Time: t.Timestamp, Price: t.Price})
	cutoff := t.Timestamp.Add(-15 * time.Minute)
	for len(m.history) > 0 && m.history[0].Time.Before(cutoff) {
		m.history = m.history[1:]
	}

	observ.IncCounter("ticks_total", map[string]string{"symbol": m.symbol})
	m.stepLocked(t.Timestamp)
}

// CheckTimers drives the time-based transitions (warm-up fallback,
// arm timeout, time stop) for symbols that stop printing.
func (m *SymbolMonitor) CheckTimers(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateWarmup, StateArmed, StateInTrade:
		m.stepLocked(now)
	}
}

func (m *SymbolMonitor) refreshStatsLocked() {
	m.snap.Bars1s = m.agg1s.Bars()
	m.snap.Bars5s = m.agg5s.Bars()
	m.snap.MedVol1s, _ = marketdata.CalculateMedians(m.snap.Bars1s, m.params.MedianWindowSecs, m.params.MedianVolFloor, m.params.MedianRangeFloor)
	m.snap.MedVol5s, m.snap.MedRange5s = marketdata.CalculateMedians(m.snap.Bars5s, m.params.MedianWindowSecs, m.params.MedianVolFloor, m.params.MedianRangeFloor)
}

func (m *SymbolMonitor) warmedLocked() bool {
	return m.agg1s.Len() >= m.warmup.Min1sBars && m.agg5s.Len() >= m.warmup.Min5sBars
}

// stepLocked performs exactly one transition check for the current
// state. Engine-owned outcomes (fills, cancels, closes) are absorbed
// first so the monitor never acts on a stale order state.
func (m *SymbolMonitor) stepLocked(now time.Time) {
	pos, open := m.engine.Position(m.symbol)
	switch {
	case open && pos.Status == exec.StatusInTrade && m.state != StateInTrade:
		m.setStateLocked(StateInTrade)
		return
	case open && pos.Status == exec.StatusExiting && m.state != StateExiting:
		m.setStateLocked(StateExiting)
		return
	case !open && (m.state == StateSubmitting || m.state == StateInTrade || m.state == StateExiting):
		m.setStateLocked(StateIdle)
		return
	}

	switch m.state {
	case StateWarmup:
		fallback := m.warmup.FallbackSeconds > 0 &&
			now.Sub(m.startedAt) >= time.Duration(m.warmup.FallbackSeconds)*time.Second
		if m.warmedLocked() || fallback {
			if fallback && !m.warmedLocked() {
				observ.Log("warmup_fallback", map[string]any{"symbol": m.symbol, "bars_1s": m.agg1s.Len()})
			}
			m.setStateLocked(StateIdle)
		}

	case StateIdle:
		if !strategy.InWindow(now, m.windows) {
			return
		}
		if ok, _ := strategy.Prescreen(&m.snap, m.history, m.pre); !ok {
			observ.IncCounter("prescreen_rejects_total", map[string]string{"symbol": m.symbol})
			return
		}
		if ok, reason := strategy.CheckShock(&m.snap, m.params); ok {
			m.armedAt = now
			m.setStateLocked(StateArmed)
			observ.Log("shock_detected", map[string]any{"symbol": m.symbol, "detail": reason, "price": m.snap.Price})
			observ.IncCounter("shocks_total", map[string]string{"symbol": m.symbol})
		}

	case StateArmed:
		if now.Sub(m.armedAt) > time.Duration(m.params.ArmTimeoutSecs*float64(time.Second)) {
			m.setStateLocked(StateIdle)
			observ.Log("arm_timeout", map[string]any{"symbol": m.symbol})
			return
		}
		ok, reason := strategy.CheckConfirm(&m.snap, m.params)
		if !ok {
			return
		}
		if ok, fade := strategy.CheckNoFade(&m.snap, m.params); !ok {
			observ.Log("entry_skipped", map[string]any{"symbol": m.symbol, "check": "no_fade", "detail": fade})
			return
		}
		if ok, safety := strategy.CheckExecSafety(&m.snap, m.params); !ok {
			observ.Log("entry_skipped", map[string]any{"symbol": m.symbol, "check": "exec_safety", "detail": safety})
			observ.IncCounter("exec_safety_rejects_total", map[string]string{"symbol": m.symbol})
			return
		}
		dist := strategy.StopDistance(&m.snap, m.params)
		if dist <= 0 {
			return
		}
		entry := m.snap.Ask
		stop := entry - dist
		observ.Log("confirm_passed", map[string]any{
			"symbol": m.symbol, "detail": reason, "entry": entry, "stop": stop, "r": dist,
		})
		observ.IncCounter("confirms_total", map[string]string{"symbol": m.symbol})
		if m.engine.ExecuteEntry(m.symbol, entry, stop, dist) {
			m.setStateLocked(StateSubmitting)
		} else {
			m.setStateLocked(StateIdle)
		}

	case StateInTrade:
		if !open {
			return
		}
		if exit, reason := strategy.CheckExit(&m.snap, pos.EntryPrice, pos.StopPrice, pos.EntryTime, pos.R, m.params); exit {
			if m.engine.ExecuteExit(m.symbol, m.snap.Price, string(reason)) {
				m.setStateLocked(StateExiting)
			}
		}
	}
}

func (m *SymbolMonitor) setStateLocked(next string) {
	if next == m.state {
		return
	}
	observ.Log("monitor_state", map[string]any{"symbol": m.symbol, "from": m.state, "to": next})
	m.state = next
}

func (m *SymbolMonitor) Symbol() string { return m.symbol }

func (m *SymbolMonitor) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Mark is the last trade price, used for end-of-day P&L marks.
func (m *SymbolMonitor) Mark() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Price
}

// Snapshot returns a copy of the current market view.
func (m *SymbolMonitor) Snapshot() marketdata.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}
