package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradeloop/momentum-app/internal/marketdata"
	"github.com/tradeloop/momentum-app/internal/observ"
)

// wireTick is the JSON shape the upstream feed sends per trade print.
type wireTick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Size   int64   `json:"size"`
	VWAP   float64 `json:"vwap"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	TsMs   int64   `json:"ts_ms"`
}

// WSFeed streams ticks from a websocket market-data endpoint and fans
// them out to per-symbol handlers. It reconnects with backoff until
// the context is cancelled.
type WSFeed struct {
	url string

	mu   sync.Mutex
	subs map[string][]TickHandler
}

func NewWSFeed(url string) *WSFeed {
	return &WSFeed{url: url, subs: map[string][]TickHandler{}}
}

func (f *WSFeed) Subscribe(symbol string, fn TickHandler) {
	f.mu.Lock()
	f.subs[symbol] = append(f.subs[symbol], fn)
	f.mu.Unlock()
}

// Run blocks, reading ticks until ctx is cancelled. Each reconnect
// re-sends the subscription list for the symbols registered so far.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := f.session(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			observ.Log("feed_disconnected", map[string]any{"error": err.Error(), "retry_in": backoff.String()})
			observ.IncCounter("feed_reconnects_total", nil)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return nil
	}
}

func (f *WSFeed) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	f.mu.Lock()
	symbols := make([]string, 0, len(f.subs))
	for sym := range f.subs {
		symbols = append(symbols, sym)
	}
	f.mu.Unlock()
	sub := map[string]any{"action": "subscribe", "symbols": symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	observ.Log("feed_connected", map[string]any{"url": f.url, "symbols": len(symbols)})

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var wt wireTick
		if err := conn.ReadJSON(&wt); err != nil {
			return err
		}
		f.dispatch(wt)
	}
}

func (f *WSFeed) dispatch(wt wireTick) {
	ts := time.UnixMilli(wt.TsMs).UTC()
	if wt.TsMs == 0 {
		ts = time.Now().UTC()
	}
	t := marketdata.Tick{
		Symbol:    wt.Symbol,
		Price:     wt.Price,
		Size:      wt.Size,
		VWAP:      wt.VWAP,
		Bid:       wt.Bid,
		Ask:       wt.Ask,
		Timestamp: ts,
	}
	f.mu.Lock()
	handlers := f.subs[wt.Symbol]
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(t)
	}
}

// Decode parses a single feed line, exposed for session replay tools.
func Decode(line []byte) (marketdata.Tick, error) {
	var wt wireTick
	if err := json.Unmarshal(line, &wt); err != nil {
		return marketdata.Tick{}, err
	}
	ts := time.UnixMilli(wt.TsMs).UTC()
	return marketdata.Tick{
		Symbol: wt.Symbol, Price: wt.Price, Size: wt.Size,
		VWAP: wt.VWAP, Bid: wt.Bid, Ask: wt.Ask, Timestamp: ts,
	}, nil
}
