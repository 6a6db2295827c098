package exec

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tradeloop/momentum-app/internal/broker"
	"github.com/tradeloop/momentum-app/internal/ledger"
	"github.com/tradeloop/momentum-app/internal/observ"
)

// Position lifecycle. Transitions are monotonic: SUBMITTING may
// advance to IN_TRADE or be discarded, IN_TRADE advances to EXITING,
// EXITING ends with the position removed.
const (
	StatusSubmitting = "SUBMITTING"
	StatusInTrade    = "IN_TRADE"
	StatusExiting    = "EXITING"
)

type Position struct {
	Symbol         string
	Status         string
	RequestedEntry float64
	EntryPrice     float64
	StopPrice      float64
	R              float64
	Shares         int64
	FilledShares   int64
	OrderID        int64
	ExitReason     string
	SubmittedAt    time.Time
	EntryTime      time.Time
}

type Config struct {
	InvestmentPerTrade   float64
	EntryOffset          float64
	EntryTimeoutMs       int
	ExitDiscount         float64
	MaxConsecutiveLosses int
	CommissionPerShare   float64
	CommissionMin        float64
	CommissionPercentLow float64
}

// Engine owns all order state: open positions, the order-to-symbol
// index, the session blacklist, and the consecutive-loss counter. It
// is the only consumer of the broker event channel, so every state
// change happens under one mutex in event order.
type Engine struct {
	cfg    Config
	broker broker.Broker
	trades *ledger.Ledger
	clock  func() time.Time

	mu            sync.Mutex
	positions     map[string]*Position
	orderToSymbol map[int64]string
	blacklist     map[string]bool
	deadlines     map[int64]time.Time
	lossStreak    int
}

func NewEngine(b broker.Broker, trades *ledger.Ledger, cfg Config) *Engine {
	return &Engine{
		cfg:           cfg,
		broker:        b,
		trades:        trades,
		clock:         func() time.Time { return time.Now().UTC() },
		positions:     map[string]*Position{},
		orderToSymbol: map[int64]string{},
		blacklist:     map[string]bool{},
		deadlines:     map[int64]time.Time{},
	}
}

// Start launches the event consumer and the entry-timeout reaper.
func (e *Engine) Start(ctx context.Context) {
	go e.consume(ctx)
	go e.reap(ctx)
}

func (e *Engine) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.broker.Events():
			if !ok {
				return
			}
			switch v := ev.(type) {
			case broker.StatusEvent:
				e.handleStatus(v)
			case broker.ErrorEvent:
				e.handleError(v)
			}
		}
	}
}

// reap cancels entry orders that outlived their deadline. The cancel
// is advisory: a Filled event that arrives afterwards still wins, and
// a Cancelled event carrying a partial fill adopts the filled shares
// as the position.
func (e *Engine) reap(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := e.clock()
		var expired []int64
		e.mu.Lock()
		for id, dl := range e.deadlines {
			if now.Before(dl) {
				continue
			}
			sym := e.orderToSymbol[id]
			if pos, ok := e.positions[sym]; ok && pos.Status == StatusSubmitting && pos.OrderID == id {
				expired = append(expired, id)
			}
			delete(e.deadlines, id)
		}
		e.mu.Unlock()
		for _, id := range expired {
			observ.Log("entry_timeout", map[string]any{"order_id": id})
			observ.IncCounter("entry_timeouts_total", nil)
			e.broker.CancelOrder(id)
		}
	}
}

// ExecuteEntry submits a buy limit at ask plus the configured offset.
// It refuses blacklisted symbols, symbols with a live position, and
// everything once the consecutive-loss kill switch has tripped.
func (e *Engine) ExecuteEntry(symbol string, ask, stopPrice, r float64) bool {
	now := e.clock()
	e.mu.Lock()
	if e.blacklist[symbol] {
		e.mu.Unlock()
		observ.Log("entry_blocked", map[string]any{"symbol": symbol, "reason": "blacklisted"})
		return false
	}
	if _, open := e.positions[symbol]; open {
		e.mu.Unlock()
		return false
	}
	if e.cfg.MaxConsecutiveLosses > 0 && e.lossStreak >= e.cfg.MaxConsecutiveLosses {
		e.mu.Unlock()
		observ.Log("entry_blocked", map[string]any{"symbol": symbol, "reason": "kill_switch", "loss_streak": e.lossStreak})
		observ.IncCounter("kill_switch_blocks_total", nil)
		return false
	}
	limit := ask + e.cfg.EntryOffset
	if limit <= 0 || ask <= 0 {
		e.mu.Unlock()
		return false
	}
	shares := int64(e.cfg.InvestmentPerTrade / limit)
	if shares <= 0 {
		e.mu.Unlock()
		observ.Log("entry_blocked", map[string]any{"symbol": symbol, "reason": "zero_size", "limit": limit})
		return false
	}
	id := e.broker.NextOrderID()
	e.positions[symbol] = &Position{
		Symbol:         symbol,
		Status:         StatusSubmitting,
		RequestedEntry: limit,
		StopPrice:      stopPrice,
		R:              r,
		Shares:         shares,
		OrderID:        id,
		SubmittedAt:    now,
	}
	e.orderToSymbol[id] = symbol
	e.deadlines[id] = now.Add(time.Duration(e.cfg.EntryTimeoutMs) * time.Millisecond)
	e.mu.Unlock()

	e.broker.PlaceOrder(broker.OrderRequest{
		ID: id, Symbol: symbol, Side: broker.SideBuy, Type: broker.TypeLimit,
		Quantity: shares, LimitPrice: limit,
	})
	observ.Log("entry_submitted", map[string]any{
		"symbol": symbol, "order_id": id, "limit": limit, "shares": shares,
		"stop": stopPrice, "r": r,
	})
	observ.IncCounter("entries_submitted_total", map[string]string{"symbol": symbol})
	return true
}

// ExecuteExit submits a sell limit slightly below the given price.
// It is a no-op unless the position is currently IN_TRADE, which
// makes repeated exit signals harmless.
func (e *Engine) ExecuteExit(symbol string, price float64, reason string) bool {
	e.mu.Lock()
	pos, ok := e.positions[symbol]
	if !ok || pos.Status != StatusInTrade {
		e.mu.Unlock()
		return false
	}
	id := e.broker.NextOrderID()
	pos.Status = StatusExiting
	pos.ExitReason = reason
	pos.OrderID = id
	e.orderToSymbol[id] = symbol
	qty := pos.FilledShares
	limit := price - e.cfg.ExitDiscount
	e.mu.Unlock()

	e.broker.PlaceOrder(broker.OrderRequest{
		ID: id, Symbol: symbol, Side: broker.SideSell, Type: broker.TypeLimit,
		Quantity: qty, LimitPrice: limit,
	})
	observ.Log("exit_submitted", map[string]any{
		"symbol": symbol, "order_id": id, "limit": limit, "shares": qty, "reason": reason,
	})
	observ.IncCounter("exits_submitted_total", map[string]string{"reason": reason})
	return true
}

func (e *Engine) handleStatus(ev broker.StatusEvent) {
	e.mu.Lock()
	sym, ok := e.orderToSymbol[ev.OrderID]
	if !ok {
		e.mu.Unlock()
		return
	}
	pos, ok := e.positions[sym]
	if !ok || pos.OrderID != ev.OrderID {
		delete(e.orderToSymbol, ev.OrderID)
		e.mu.Unlock()
		return
	}

	switch {
	case ev.Status == broker.StatusSubmitted:
		e.mu.Unlock()
		return

	case ev.Status == broker.StatusFilled && pos.Status == StatusSubmitting:
		e.adoptFillLocked(pos, ev.AvgFillPrice, ev.FilledQty, ev.Timestamp)
		delete(e.deadlines, ev.OrderID)
		delete(e.orderToSymbol, ev.OrderID)
		price, shares := pos.EntryPrice, pos.FilledShares
		e.mu.Unlock()
		observ.Log("entry_filled", map[string]any{
			"symbol": sym, "order_id": ev.OrderID, "price": price, "shares": shares,
		})

	case ev.Status == broker.StatusFilled && pos.Status == StatusExiting:
		rec := e.closeLocked(pos, ev.AvgFillPrice, ev.FilledQty)
		delete(e.orderToSymbol, ev.OrderID)
		streak := e.lossStreak
		e.mu.Unlock()
		observ.Log("trade_closed", map[string]any{
			"symbol": sym, "reason": rec.ExitReason, "pnl": rec.PnL,
			"commission": rec.Commission, "loss_streak": streak,
		})
		observ.IncCounter("trades_closed_total", map[string]string{"reason": rec.ExitReason})
		observ.SetGauge("consecutive_losses", float64(streak), nil)

	case isCancel(ev.Status) && pos.Status == StatusSubmitting:
		delete(e.deadlines, ev.OrderID)
		delete(e.orderToSymbol, ev.OrderID)
		if ev.FilledQty > 0 {
			// A cancel that caught a partial fill leaves real shares
			// on the book. Keep them as the position.
			e.adoptFillLocked(pos, ev.AvgFillPrice, ev.FilledQty, ev.Timestamp)
			e.mu.Unlock()
			observ.Log("partial_fill_adopted", map[string]any{
				"symbol": sym, "order_id": ev.OrderID, "shares": ev.FilledQty,
			})
			return
		}
		delete(e.positions, sym)
		e.mu.Unlock()
		e.trades.Append(ledger.TradeRecord{
			Symbol: sym, Status: ledger.StatusFailed, ExitReason: "ENTRY_CANCELLED",
			OpenedAt: pos.SubmittedAt,
		})
		observ.Log("entry_cancelled", map[string]any{"symbol": sym, "order_id": ev.OrderID})

	case isCancel(ev.Status) && pos.Status == StatusExiting:
		// Exit order did not stick; fall back to holding so the next
		// signal can try again.
		pos.Status = StatusInTrade
		pos.OrderID = 0
		delete(e.orderToSymbol, ev.OrderID)
		e.mu.Unlock()
		observ.Log("exit_cancelled", map[string]any{"symbol": sym, "order_id": ev.OrderID})

	default:
		posStatus := pos.Status
		e.mu.Unlock()
		observ.Log("order_status_ignored", map[string]any{
			"symbol": sym, "order_id": ev.OrderID, "status": ev.Status, "position": posStatus,
		})
	}
}

func (e *Engine) handleError(ev broker.ErrorEvent) {
	e.mu.Lock()
	sym, ok := e.orderToSymbol[ev.OrderID]
	if !ok {
		e.mu.Unlock()
		observ.Log("order_error_unmatched", map[string]any{"order_id": ev.OrderID, "code": ev.Code, "message": ev.Message})
		return
	}
	if ev.Code != broker.CodeOrderRejected {
		e.mu.Unlock()
		observ.Log("order_error", map[string]any{"symbol": sym, "order_id": ev.OrderID, "code": ev.Code, "message": ev.Message})
		return
	}

	e.blacklist[sym] = true
	delete(e.orderToSymbol, ev.OrderID)
	delete(e.deadlines, ev.OrderID)
	pos, open := e.positions[sym]
	var submittedAt time.Time
	discarded := false
	if open && pos.OrderID == ev.OrderID {
		switch pos.Status {
		case StatusSubmitting:
			submittedAt = pos.SubmittedAt
			delete(e.positions, sym)
			discarded = true
		case StatusExiting:
			pos.Status = StatusInTrade
			pos.OrderID = 0
		}
	}
	e.mu.Unlock()

	if discarded {
		e.trades.Append(ledger.TradeRecord{
			Symbol: sym, Status: ledger.StatusFailed, ExitReason: "REJECTED",
			OpenedAt: submittedAt,
		})
	}
	observ.Log("order_rejected", map[string]any{
		"symbol": sym, "order_id": ev.OrderID, "code": ev.Code, "message": ev.Message,
	})
	observ.IncCounter("order_rejections_total", map[string]string{"symbol": sym})
}

// adoptFillLocked promotes a SUBMITTING position to IN_TRADE. The
// entry is stamped with the fill event's timestamp so the time stop
// measures against feed time, not the engine wall clock; a zero
// timestamp falls back to the clock.
func (e *Engine) adoptFillLocked(pos *Position, avgPrice float64, qty int64, filledAt time.Time) {
	pos.Status = StatusInTrade
	pos.EntryPrice = avgPrice
	if pos.EntryPrice <= 0 {
		pos.EntryPrice = pos.RequestedEntry
	}
	pos.FilledShares = qty
	if pos.FilledShares <= 0 {
		pos.FilledShares = pos.Shares
	}
	pos.EntryTime = filledAt
	if pos.EntryTime.IsZero() {
		pos.EntryTime = e.clock()
	}
	pos.OrderID = 0
}

// closeLocked finalizes a round trip: computes P&L net of both
// commission legs, updates the loss streak, records the trade, and
// frees the symbol slot.
func (e *Engine) closeLocked(pos *Position, exitPrice float64, qty int64) ledger.TradeRecord {
	if exitPrice <= 0 {
		exitPrice = pos.StopPrice
	}
	shares := pos.FilledShares
	if qty > 0 && qty < shares {
		shares = qty
	}
	fees := Commission(pos.EntryPrice, shares, e.cfg) + Commission(exitPrice, shares, e.cfg)
	pnl := (exitPrice-pos.EntryPrice)*float64(shares) - fees
	if pnl < 0 {
		e.lossStreak++
	} else if pnl > 0 {
		e.lossStreak = 0
	}
	delete(e.positions, pos.Symbol)
	return e.trades.Append(ledger.TradeRecord{
		Symbol:     pos.Symbol,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Shares:     shares,
		PnL:        pnl,
		Commission: fees,
		ExitReason: pos.ExitReason,
		Status:     ledger.StatusClosed,
		OpenedAt:   pos.EntryTime,
	})
}

// CloseAll cancels unfilled entries and flattens every held position
// with a market sell. A symbol whose exit order is already working is
// left to that order; flattening it too would sell the shares twice
// if the cancel lost the race to the fill. Marks supply the price used
// for the recorded P&L; a missing mark records the trade at the entry
// price.
func (e *Engine) CloseAll(marks map[string]float64) {
	now := e.clock()
	type flat struct {
		symbol string
		shares int64
	}
	var cancels []int64
	var flats []flat

	e.mu.Lock()
	for sym, pos := range e.positions {
		if pos.OrderID != 0 {
			delete(e.orderToSymbol, pos.OrderID)
			delete(e.deadlines, pos.OrderID)
		}
		if pos.Status == StatusSubmitting {
			cancels = append(cancels, pos.OrderID)
			e.trades.Append(ledger.TradeRecord{
				Symbol: sym, Status: ledger.StatusFailed, ExitReason: "EOD_CANCELLED",
				OpenedAt: pos.SubmittedAt, ClosedAt: now,
			})
			delete(e.positions, sym)
			continue
		}
		mark := marks[sym]
		if mark <= 0 {
			mark = pos.EntryPrice
		}
		if pos.Status == StatusInTrade {
			pos.ExitReason = "EOD"
			flats = append(flats, flat{symbol: sym, shares: pos.FilledShares})
		}
		e.closeLocked(pos, mark, pos.FilledShares)
	}
	e.mu.Unlock()

	for _, id := range cancels {
		e.broker.CancelOrder(id)
	}
	for _, f := range flats {
		id := e.broker.NextOrderID()
		e.broker.PlaceOrder(broker.OrderRequest{
			ID: id, Symbol: f.symbol, Side: broker.SideSell, Type: broker.TypeMarket,
			Quantity: f.shares,
		})
		observ.Log("eod_flatten", map[string]any{"symbol": f.symbol, "shares": f.shares, "order_id": id})
	}
	if len(cancels) > 0 || len(flats) > 0 {
		observ.IncCounter("eod_flatten_total", nil)
	}
}

// Position returns a copy of the live position for symbol.
func (e *Engine) Position(symbol string) (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

func (e *Engine) ActivePositions() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (e *Engine) Blacklisted(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blacklist[symbol]
}

func (e *Engine) Blacklist() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.blacklist))
	for sym := range e.blacklist {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) ConsecutiveLosses() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lossStreak
}

func (e *Engine) KillSwitchActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.MaxConsecutiveLosses > 0 && e.lossStreak >= e.cfg.MaxConsecutiveLosses
}

func isCancel(status string) bool {
	switch status {
	case broker.StatusCancelled, broker.StatusInactive, broker.StatusApiCancelled:
		return true
	}
	return false
}
