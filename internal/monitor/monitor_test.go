package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradeloop/momentum-app/internal/broker"
	"github.com/tradeloop/momentum-app/internal/exec"
	"github.com/tradeloop/momentum-app/internal/ledger"
	"github.com/tradeloop/momentum-app/internal/marketdata"
	"github.com/tradeloop/momentum-app/internal/strategy"
)

// autoBroker fills every limit order at its limit price as soon as it
// is placed, which keeps the pipeline test deterministic. Fill events
// carry marketTime when set, mimicking a broker whose clock follows
// the feed instead of the wall.
type autoBroker struct {
	mu         sync.Mutex
	nextID     int64
	events     chan broker.Event
	placed     []broker.OrderRequest
	marketTime time.Time
}

func newAutoBroker() *autoBroker {
	return &autoBroker{events: make(chan broker.Event, 64)}
}

func (b *autoBroker) NextOrderID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *autoBroker) PlaceOrder(req broker.OrderRequest) {
	b.mu.Lock()
	b.placed = append(b.placed, req)
	now := b.marketTime
	b.mu.Unlock()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	b.events <- broker.StatusEvent{OrderID: req.ID, Status: broker.StatusSubmitted, RemainingQty: req.Quantity, Timestamp: now}
	b.events <- broker.StatusEvent{OrderID: req.ID, Status: broker.StatusFilled, FilledQty: req.Quantity, AvgFillPrice: req.LimitPrice, Timestamp: now}
}

func (b *autoBroker) setMarketTime(ts time.Time) {
	b.mu.Lock()
	b.marketTime = ts
	b.mu.Unlock()
}

func (b *autoBroker) CancelOrder(int64) {}

func (b *autoBroker) Events() <-chan broker.Event { return b.events }

func (b *autoBroker) SubscribeMarketData(string, broker.TickHandler) error { return nil }

func (b *autoBroker) FetchHistoricalBars(context.Context, string, time.Time, time.Duration, time.Duration) []marketdata.Bar {
	return nil
}

func (b *autoBroker) Close() error { return nil }

func (b *autoBroker) orderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.placed)
}

var sessionStart = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func pipelineParams() strategy.Params {
	return strategy.Params{
		Windows:          []strategy.TimeWindow{{Start: "00:00:00", End: "23:59:59"}},
		ShockRet1s:       0.01,
		ShockVolMult1s:   3.0,
		ShockRet2s:       0.015,
		ShockVolMult2s:   4.0,
		ConfirmRet5s:     0.01,
		ConfirmVolMult5s: 1.0,
		RangeMult5s:      1.0,
		NoFadeFrac:       0.5,
		MaxSpreadPct:     0.5,
		SpreadRelMult:    5.0,
		QuoteStaleMs:     3000,
		StopPct:          0.02,
		StopRangeMult:    1.5,
		TPRMult:          2.0,
		FailRet1s:        0.05,
		TimeStopSecs:     300,
		MinPnLRAtTime:    0.25,
		MedianWindowSecs: 120,
		MedianVolFloor:   1.0,
		MedianRangeFloor: 0.001,
		ArmTimeoutSecs:   10,
	}
}

func newPipeline(t *testing.T, params strategy.Params) (*SymbolMonitor, *exec.Engine, *autoBroker, *ledger.Ledger) {
	t.Helper()
	fb := newAutoBroker()
	trades, err := ledger.New("")
	require.NoError(t, err)
	eng := exec.NewEngine(fb, trades, exec.Config{
		InvestmentPerTrade:   1000,
		EntryOffset:          0.10,
		EntryTimeoutMs:       5000,
		ExitDiscount:         0.10,
		MaxConsecutiveLosses: 3,
		CommissionPerShare:   0.005,
		CommissionMin:        1.0,
		CommissionPercentLow: 0.005,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	eng.Start(ctx)

	mon := NewSymbolMonitor("ABC", eng, params, strategy.PrescreenParams{}, params.Windows,
		WarmupConfig{Min1sBars: 5, Min5sBars: 1})
	return mon, eng, fb, trades
}

func feed(mon *SymbolMonitor, secs float64, price float64, size int64) {
	ts := sessionStart.Add(time.Duration(secs * float64(time.Second)))
	mon.OnTick(marketdata.Tick{
		Symbol:    "ABC",
		Price:     price,
		Size:      size,
		Bid:       price - 0.01,
		Ask:       price + 0.01,
		Timestamp: ts,
	})
}

// driveToArmed walks the monitor through warm-up and a 1s shock bar.
func driveToArmed(t *testing.T, mon *SymbolMonitor) {
	t.Helper()
	for i := 0; i <= 8; i++ {
		feed(mon, float64(i), 10.00, 100)
	}
	require.Equal(t, StateIdle, mon.State(), "warm-up never completed")

	feed(mon, 8.5, 10.20, 900) // shock bar forming
	feed(mon, 9.0, 10.25, 500) // closes it
	require.Equal(t, StateArmed, mon.State(), "shock bar did not arm the monitor")
}

func TestFullTradeLifecycle(t *testing.T) {
	mon, eng, fb, trades := newPipeline(t, pipelineParams())
	driveToArmed(t, mon)

	// Stale 5s bar cannot confirm yet.
	feed(mon, 9.5, 10.30, 800)
	require.Equal(t, StateArmed, mon.State())

	// Closing the 5s bar confirms and submits the entry.
	feed(mon, 10.0, 10.30, 100)
	require.Equal(t, StateSubmitting, mon.State())
	require.Equal(t, 1, fb.orderCount())

	require.Eventually(t, func() bool {
		pos, ok := eng.Position("ABC")
		return ok && pos.Status == exec.StatusInTrade
	}, 2*time.Second, 10*time.Millisecond, "entry never filled")

	feed(mon, 11.0, 10.30, 100)
	require.Equal(t, StateInTrade, mon.State())

	pos, _ := eng.Position("ABC")
	require.Greater(t, pos.StopPrice, 10.0)
	require.Less(t, pos.StopPrice, pos.EntryPrice)

	// Drop through the stop; the monitor submits the exit.
	feed(mon, 12.0, pos.StopPrice-0.01, 400)
	require.Equal(t, StateExiting, mon.State())

	require.Eventually(t, func() bool {
		return trades.Len() == 1
	}, 2*time.Second, 10*time.Millisecond, "trade never recorded")

	rec := trades.All()[0]
	require.Equal(t, string(strategy.ExitHardStop), rec.ExitReason)
	require.Equal(t, ledger.StatusClosed, rec.Status)
	require.Negative(t, rec.PnL)

	// The symbol slot is free again.
	feed(mon, 13.0, 10.00, 100)
	require.Equal(t, StateIdle, mon.State())
}

func TestTimeStopFiresOnFeedTimestamps(t *testing.T) {
	params := pipelineParams()
	params.TimeStopSecs = 10
	mon, eng, fb, trades := newPipeline(t, params)

	// The broker stamps fills with feed time, the way a replayed
	// session runs days behind the wall clock.
	fb.setMarketTime(sessionStart.Add(10 * time.Second))

	driveToArmed(t, mon)
	feed(mon, 9.5, 10.30, 800)
	feed(mon, 10.0, 10.30, 100)
	require.Equal(t, StateSubmitting, mon.State())

	require.Eventually(t, func() bool {
		pos, ok := eng.Position("ABC")
		return ok && pos.Status == exec.StatusInTrade
	}, 2*time.Second, 10*time.Millisecond, "entry never filled")

	pos, _ := eng.Position("ABC")
	require.True(t, pos.EntryTime.Equal(sessionStart.Add(10*time.Second)),
		"entry time %v not taken from the fill event", pos.EntryTime)

	// Price goes nowhere; before the deadline the trade stays on.
	for s := 11.0; s < 20.0; s++ {
		feed(mon, s, 10.30, 100)
		require.NotEqual(t, StateExiting, mon.State(), "exited early at t+%vs", s)
	}

	// One tick past the deadline with the trade under MinPnLRAtTime.
	feed(mon, 20.0, 10.30, 100)
	require.Equal(t, StateExiting, mon.State())

	require.Eventually(t, func() bool {
		return trades.Len() == 1
	}, 2*time.Second, 10*time.Millisecond, "trade never recorded")
	rec := trades.All()[0]
	require.Equal(t, string(strategy.ExitTimeStop), rec.ExitReason)
	require.Equal(t, ledger.StatusClosed, rec.Status)
}

func TestArmTimeoutRevertsToIdle(t *testing.T) {
	params := pipelineParams()
	params.ArmTimeoutSecs = 2
	params.ConfirmRet5s = 0.5 // confirmation can never pass
	mon, _, fb, _ := newPipeline(t, params)
	driveToArmed(t, mon)

	feed(mon, 10.0, 10.20, 10)
	feed(mon, 11.0, 10.20, 10)
	require.Equal(t, StateArmed, mon.State())

	feed(mon, 11.5, 10.20, 10) // 2.5s after arming
	require.Equal(t, StateIdle, mon.State())
	require.Zero(t, fb.orderCount(), "timed-out arm placed an order")
}

func TestCheckTimersExpiresArmWithoutTicks(t *testing.T) {
	params := pipelineParams()
	params.ArmTimeoutSecs = 2
	params.ConfirmRet5s = 0.5
	mon, _, _, _ := newPipeline(t, params)
	driveToArmed(t, mon)

	mon.CheckTimers(sessionStart.Add(12 * time.Second))
	require.Equal(t, StateIdle, mon.State())
}

func TestWarmupBlocksTrading(t *testing.T) {
	mon, _, fb, _ := newPipeline(t, pipelineParams())
	// A violent move during warm-up must not arm anything.
	feed(mon, 0, 10.00, 100)
	feed(mon, 1, 10.50, 5000)
	feed(mon, 2, 11.00, 5000)
	require.Equal(t, StateWarmup, mon.State())
	require.Zero(t, fb.orderCount())
}

func TestPreloadSkipsWarmup(t *testing.T) {
	mon, _, _, _ := newPipeline(t, pipelineParams())
	mon.warmup.HistoryMinutes = 2

	hist := &histBroker{}
	mon.Preload(context.Background(), hist)
	require.Equal(t, StateIdle, mon.State())
}

// histBroker serves synthetic flat history and rejects everything else.
type histBroker struct{ autoBroker }

func (b *histBroker) FetchHistoricalBars(_ context.Context, _ string, end time.Time, duration, barSize time.Duration) []marketdata.Bar {
	n := int(duration / barSize)
	start := end.Add(-duration)
	bars := make([]marketdata.Bar, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, marketdata.Bar{
			Timestamp: marketdata.BucketStart(start.Add(time.Duration(i)*barSize), barSize),
			Open:      10, High: 10.01, Low: 9.99, Close: 10, Volume: 100,
		})
	}
	return bars
}
