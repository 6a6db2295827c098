package broker

import (
	"context"
	"time"

	"github.com/tradeloop/momentum-app/internal/marketdata"
)

// Order sides and types understood by every broker implementation.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	TypeLimit  = "LMT"
	TypeMarket = "MKT"
)

// Terminal and intermediate order states reported via StatusEvent.
const (
	StatusSubmitted    = "Submitted"
	StatusFilled       = "Filled"
	StatusCancelled    = "Cancelled"
	StatusInactive     = "Inactive"
	StatusApiCancelled = "ApiCancelled"
)

// CodeOrderRejected is the broker error code for a hard rejection
// (contract not tradeable, permissions, shorting restrictions).
// Symbols that produce it are not worth retrying within a session.
const CodeOrderRejected = 201

// OrderRequest describes a single order to place.
type OrderRequest struct {
	ID         int64
	Symbol     string
	Side       string
	Type       string
	Quantity   int64
	LimitPrice float64
}

// Event is a broker callback delivered on the event channel.
// Exactly one of the concrete types below implements it.
type Event interface {
	OrderRef() int64
}

// StatusEvent reports an order lifecycle change.
type StatusEvent struct {
	OrderID      int64
	Status       string
	FilledQty    int64
	RemainingQty int64
	AvgFillPrice float64
	Timestamp    time.Time
}

func (e StatusEvent) OrderRef() int64 { return e.OrderID }

// ErrorEvent reports a broker-side error tied to an order.
type ErrorEvent struct {
	OrderID   int64
	Code      int
	Message   string
	Timestamp time.Time
}

func (e ErrorEvent) OrderRef() int64 { return e.OrderID }

// TickHandler receives market data for a subscribed symbol.
// Handlers run on the broker's dispatch goroutine and must not block.
type TickHandler func(marketdata.Tick)

// Broker is the order and market-data gateway. PlaceOrder and
// CancelOrder are fire-and-forget; outcomes arrive on Events.
// FetchHistoricalBars returns an empty slice when the request fails
// or times out; callers treat empty as "no data", never as fatal.
type Broker interface {
	NextOrderID() int64
	PlaceOrder(req OrderRequest)
	CancelOrder(orderID int64)
	Events() <-chan Event

	SubscribeMarketData(symbol string, fn TickHandler) error
	FetchHistoricalBars(ctx context.Context, symbol string, end time.Time, duration, barSize time.Duration) []marketdata.Bar

	Close() error
}
