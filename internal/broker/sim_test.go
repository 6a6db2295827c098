package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradeloop/momentum-app/internal/marketdata"
)

func drain(t *testing.T, b *SimBroker, want string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-b.Events():
			if se, ok := ev.(StatusEvent); ok && se.Status == want {
				return ev
			}
			if _, ok := ev.(ErrorEvent); ok && want == "error" {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", want)
		}
	}
}

func TestSimBrokerFillsLimitOrder(t *testing.T) {
	b := NewSimBroker(SimConfig{})
	defer b.Close()

	b.Feed(marketdata.Tick{Symbol: "ABC", Price: 10.00, Size: 100, Timestamp: time.Now().UTC()})
	id := b.NextOrderID()
	b.PlaceOrder(OrderRequest{ID: id, Symbol: "ABC", Side: SideBuy, Type: TypeLimit, Quantity: 50, LimitPrice: 10.05})

	ev := drain(t, b, StatusFilled).(StatusEvent)
	require.Equal(t, id, ev.OrderID)
	require.Equal(t, int64(50), ev.FilledQty)
	require.LessOrEqual(t, ev.AvgFillPrice, 10.05)
	require.Greater(t, ev.AvgFillPrice, 0.0)
}

func TestSimBrokerStampsFillsWithFeedTime(t *testing.T) {
	b := NewSimBroker(SimConfig{})
	defer b.Close()

	// A replayed feed runs on recorded timestamps; the fill must carry
	// the tick's clock, not the wall clock.
	feedTime := time.Date(2026, 5, 4, 9, 31, 0, 0, time.UTC)
	b.Feed(marketdata.Tick{Symbol: "ABC", Price: 10.00, Size: 100, Timestamp: feedTime})

	id := b.NextOrderID()
	b.PlaceOrder(OrderRequest{ID: id, Symbol: "ABC", Side: SideBuy, Type: TypeLimit, Quantity: 50, LimitPrice: 10.05})

	ev := drain(t, b, StatusFilled).(StatusEvent)
	require.True(t, ev.Timestamp.Equal(feedTime), "fill timestamp %v, want %v", ev.Timestamp, feedTime)
}

func TestSimBrokerCancelBeforeFill(t *testing.T) {
	b := NewSimBroker(SimConfig{LatencyMsMin: 60_000, LatencyMsMax: 60_000})
	defer b.Close()

	id := b.NextOrderID()
	b.PlaceOrder(OrderRequest{ID: id, Symbol: "ABC", Side: SideBuy, Type: TypeLimit, Quantity: 50, LimitPrice: 10.05})
	drain(t, b, StatusSubmitted)
	b.CancelOrder(id)

	ev := drain(t, b, StatusCancelled).(StatusEvent)
	require.Equal(t, id, ev.OrderID)
	require.Zero(t, ev.FilledQty)
}

func TestSimBrokerRejection(t *testing.T) {
	b := NewSimBroker(SimConfig{})
	defer b.Close()
	b.SetReject("BAD", true)

	id := b.NextOrderID()
	b.PlaceOrder(OrderRequest{ID: id, Symbol: "BAD", Side: SideBuy, Type: TypeLimit, Quantity: 10, LimitPrice: 5})

	ev := drain(t, b, "error").(ErrorEvent)
	require.Equal(t, id, ev.OrderID)
	require.Equal(t, CodeOrderRejected, ev.Code)
}

func TestSimBrokerTickFanout(t *testing.T) {
	b := NewSimBroker(SimConfig{})
	defer b.Close()

	var got []marketdata.Tick
	require.NoError(t, b.SubscribeMarketData("ABC", func(tk marketdata.Tick) {
		got = append(got, tk)
	}))
	b.Feed(marketdata.Tick{Symbol: "ABC", Price: 10.00})
	b.Feed(marketdata.Tick{Symbol: "XYZ", Price: 20.00}) // not subscribed

	require.Len(t, got, 1)
	require.Equal(t, "ABC", got[0].Symbol)
}

func TestSimBrokerHistoricalBars(t *testing.T) {
	b := NewSimBroker(SimConfig{HistPerMin: 600})
	defer b.Close()

	end := time.Date(2026, 5, 4, 14, 30, 0, 0, time.UTC)
	bars := b.FetchHistoricalBars(context.Background(), "ABC", end, time.Minute, time.Second)
	require.Len(t, bars, 60)
	for i, bar := range bars {
		require.False(t, bar.Timestamp.After(end), "bar %d beyond end", i)
		require.GreaterOrEqual(t, bar.High, bar.Low)
		require.Positive(t, bar.Open)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Nil(t, b.FetchHistoricalBars(ctx, "ABC", end, time.Minute, time.Second))
}

func TestDecodeTickLine(t *testing.T) {
	line := []byte(`{"symbol":"ABC","price":10.25,"size":300,"bid":10.24,"ask":10.26,"ts_ms":1772668800000}`)
	tk, err := Decode(line)
	require.NoError(t, err)
	require.Equal(t, "ABC", tk.Symbol)
	require.Equal(t, 10.25, tk.Price)
	require.Equal(t, int64(300), tk.Size)
	require.Equal(t, time.UnixMilli(1772668800000).UTC(), tk.Timestamp)

	_, err = Decode([]byte("not json"))
	require.Error(t, err)
}
