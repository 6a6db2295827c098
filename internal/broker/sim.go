package broker

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tradeloop/momentum-app/internal/marketdata"
	"github.com/tradeloop/momentum-app/internal/observ"
)

// SimConfig tunes the paper-trading broker.
type SimConfig struct {
	LatencyMsMin   int
	LatencyMsMax   int
	SlippageBpsMin int
	SlippageBpsMax int
	HistPerMin     int // historical request budget per minute
}

// SimBroker fills limit orders against the last observed trade price
// with configurable latency and slippage. Ticks pushed through Feed
// drive both the subscriber callbacks and the fill marks, so the same
// broker works for live paper trading and for replaying recorded
// sessions.
type SimBroker struct {
	cfg     SimConfig
	events  chan Event
	limiter *rate.Limiter
	random  *rand.Rand

	mu        sync.Mutex
	nextID    int64
	marks     map[string]float64
	markTimes map[string]time.Time
	subs      map[string][]TickHandler
	pending   map[int64]*simOrder
	reject    map[string]bool

	quit chan struct{}
	wg   sync.WaitGroup
}

type simOrder struct {
	req       OrderRequest
	cancelled bool
}

func NewSimBroker(cfg SimConfig) *SimBroker {
	if cfg.LatencyMsMax < cfg.LatencyMsMin {
		cfg.LatencyMsMax = cfg.LatencyMsMin
	}
	if cfg.SlippageBpsMax < cfg.SlippageBpsMin {
		cfg.SlippageBpsMax = cfg.SlippageBpsMin
	}
	if cfg.HistPerMin <= 0 {
		cfg.HistPerMin = 30
	}
	return &SimBroker{
		cfg:       cfg,
		events:    make(chan Event, 256),
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.HistPerMin)), 1),
		random:    rand.New(rand.NewSource(time.Now().UnixNano())),
		marks:     map[string]float64{},
		markTimes: map[string]time.Time{},
		subs:      map[string][]TickHandler{},
		pending:   map[int64]*simOrder{},
		reject:    map[string]bool{},
		quit:      make(chan struct{}),
	}
}

func (b *SimBroker) NextOrderID() int64 {
	return atomic.AddInt64(&b.nextID, 1)
}

// SetReject makes all subsequent orders for symbol fail with a hard
// rejection, mimicking a contract the broker refuses to trade.
func (b *SimBroker) SetReject(symbol string, on bool) {
	b.mu.Lock()
	b.reject[symbol] = on
	b.mu.Unlock()
}

// Feed injects a tick: updates the fill mark and fans out to
// subscribers synchronously. The tick timestamp becomes the market
// time stamped onto subsequent order events, which keeps replayed
// sessions on feed time rather than wall time.
func (b *SimBroker) Feed(t marketdata.Tick) {
	b.mu.Lock()
	b.marks[t.Symbol] = t.Price
	if !t.Timestamp.IsZero() {
		b.markTimes[t.Symbol] = t.Timestamp
	}
	handlers := b.subs[t.Symbol]
	b.mu.Unlock()
	for _, fn := range handlers {
		fn(t)
	}
}

func (b *SimBroker) SubscribeMarketData(symbol string, fn TickHandler) error {
	b.mu.Lock()
	b.subs[symbol] = append(b.subs[symbol], fn)
	b.mu.Unlock()
	return nil
}

func (b *SimBroker) Events() <-chan Event { return b.events }

func (b *SimBroker) PlaceOrder(req OrderRequest) {
	b.mu.Lock()
	if b.reject[req.Symbol] {
		ts := b.marketTimeLocked(req.Symbol)
		b.mu.Unlock()
		b.emit(ErrorEvent{OrderID: req.ID, Code: CodeOrderRejected,
			Message: "contract rejected: " + req.Symbol, Timestamp: ts})
		return
	}
	ord := &simOrder{req: req}
	b.pending[req.ID] = ord
	latency := b.latency()
	ts := b.marketTimeLocked(req.Symbol)
	b.mu.Unlock()

	b.emit(StatusEvent{OrderID: req.ID, Status: StatusSubmitted,
		RemainingQty: req.Quantity, Timestamp: ts})

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case <-time.After(latency):
		case <-b.quit:
			return
		}
		b.mu.Lock()
		if ord.cancelled {
			b.mu.Unlock()
			return
		}
		delete(b.pending, req.ID)
		px := b.fillPrice(ord.req)
		ts := b.marketTimeLocked(req.Symbol)
		b.mu.Unlock()
		b.emit(StatusEvent{OrderID: req.ID, Status: StatusFilled,
			FilledQty: req.Quantity, RemainingQty: 0, AvgFillPrice: px,
			Timestamp: ts})
	}()
}

func (b *SimBroker) CancelOrder(orderID int64) {
	b.mu.Lock()
	ord, ok := b.pending[orderID]
	var ts time.Time
	if ok {
		ord.cancelled = true
		delete(b.pending, orderID)
		ts = b.marketTimeLocked(ord.req.Symbol)
	}
	b.mu.Unlock()
	if !ok {
		return // already filled, nothing to cancel
	}
	b.emit(StatusEvent{OrderID: orderID, Status: StatusCancelled,
		RemainingQty: ord.req.Quantity, Timestamp: ts})
}

// FetchHistoricalBars synthesizes a random walk anchored at the last
// known mark. It is rate limited like a real historical endpoint and
// returns nil when the context expires before a slot frees up.
func (b *SimBroker) FetchHistoricalBars(ctx context.Context, symbol string, end time.Time, duration, barSize time.Duration) []marketdata.Bar {
	if err := b.limiter.Wait(ctx); err != nil {
		observ.Log("hist_fetch_timeout", map[string]any{"symbol": symbol, "error": err.Error()})
		return nil
	}
	if barSize <= 0 || duration < barSize {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	base, ok := b.marks[symbol]
	if !ok {
		base = 100.0
	}

	n := int(duration / barSize)
	bars := make([]marketdata.Bar, 0, n)
	start := marketdata.BucketStart(end.Add(-duration), barSize)
	px := base
	for i := 0; i < n; i++ {
		drift := px * (float64(b.random.Intn(21)-10) / 100000.0)
		open := px
		close := px + drift
		hi := open
		if close > hi {
			hi = close
		}
		lo := open
		if close < lo {
			lo = close
		}
		bars = append(bars, marketdata.Bar{
			Timestamp: start.Add(time.Duration(i) * barSize),
			Open:      open,
			High:      hi + px*0.0001,
			Low:       lo - px*0.0001,
			Close:     close,
			Volume:    float64(100 + b.random.Intn(400)),
			VWAP:      (open + close) / 2,
		})
		px = close
	}
	return bars
}

func (b *SimBroker) Close() error {
	close(b.quit)
	b.wg.Wait()
	close(b.events)
	return nil
}

func (b *SimBroker) latency() time.Duration {
	ms := b.cfg.LatencyMsMin
	if span := b.cfg.LatencyMsMax - b.cfg.LatencyMsMin; span > 0 {
		ms += b.random.Intn(span + 1)
	}
	return time.Duration(ms) * time.Millisecond
}

// fillPrice fills a buy at the mark plus slippage, capped at the
// limit; sells mirror that below the limit. Without a mark the order
// fills at its limit.
func (b *SimBroker) fillPrice(req OrderRequest) float64 {
	mark, ok := b.marks[req.Symbol]
	if !ok {
		return req.LimitPrice
	}
	if req.Type == TypeMarket {
		return mark
	}
	bps := b.cfg.SlippageBpsMin
	if span := b.cfg.SlippageBpsMax - b.cfg.SlippageBpsMin; span > 0 {
		bps += b.random.Intn(span + 1)
	}
	mult := 1.0 + float64(bps)/10000.0
	if req.Side == SideBuy {
		px := mark * mult
		if px > req.LimitPrice {
			px = req.LimitPrice
		}
		return px
	}
	px := mark / mult
	if px < req.LimitPrice {
		px = req.LimitPrice
	}
	return px
}

// marketTimeLocked is the timestamp of the last tick seen for symbol,
// or wall time before any tick has arrived.
func (b *SimBroker) marketTimeLocked(symbol string) time.Time {
	if ts, ok := b.markTimes[symbol]; ok {
		return ts
	}
	return time.Now().UTC()
}

func (b *SimBroker) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		observ.Log("broker_event_dropped", map[string]any{"order_id": ev.OrderRef()})
	}
}
