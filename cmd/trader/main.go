package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tradeloop/momentum-app/internal/app"
	"github.com/tradeloop/momentum-app/internal/broker"
	"github.com/tradeloop/momentum-app/internal/config"
	"github.com/tradeloop/momentum-app/internal/marketdata"
	"github.com/tradeloop/momentum-app/internal/observ"
	"github.com/tradeloop/momentum-app/internal/transport"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Log.Path != "" {
		observ.SetLogFile(cfg.Log.Path, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays)
	}
	observ.Log("startup", map[string]any{
		"watchlist": cfg.Watchlist, "broker_mode": cfg.Broker.Mode, "listen": cfg.ListenAddr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := app.NewSession(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session: %v\n", err)
		os.Exit(1)
	}
	sess.Start(ctx)
	sess.Preload(ctx)

	switch cfg.Broker.Mode {
	case "ws":
		feed := broker.NewWSFeed(cfg.Broker.FeedURL)
		for _, m := range sess.Monitors {
			feed.Subscribe(m.Symbol(), sess.Broker.Feed)
		}
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				observ.Log("feed_fatal", map[string]any{"error": err.Error()})
			}
		}()
	default:
		go runSimFeed(ctx, sess)
	}

	views := make([]transport.MonitorView, 0, len(sess.Monitors))
	for _, m := range sess.Monitors {
		views = append(views, m)
	}
	status := transport.NewStatusServer(cfg.ListenAddr, sess.Engine, sess.Trades, views)
	status.Start()

	runLoop(ctx, cfg, sess)

	// Flatten whatever is still open before exiting.
	sess.Engine.CloseAll(sess.Marks())
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := status.Shutdown(shutCtx); err != nil {
		observ.Log("status_shutdown_error", map[string]any{"error": err.Error()})
	}
	if err := sess.Close(); err != nil {
		observ.Log("session_close_error", map[string]any{"error": err.Error()})
	}
	summary := sess.Trades.Summarize()
	observ.Log("shutdown", map[string]any{
		"trades": summary.Trades, "wins": summary.Wins, "losses": summary.Losses,
		"net_pnl": summary.NetPnL, "fees": summary.Fees,
	})
}

// runLoop drives the once-per-second housekeeping: monitor timers and
// the end-of-day flatten, which fires at most once per calendar day.
func runLoop(ctx context.Context, cfg config.Root, sess *app.Session) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var flattenedDay string
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			now := tick.UTC()
			sess.CheckTimers(now)
			if cfg.EODFlatten == "" {
				continue
			}
			day := now.Format("2006-01-02")
			if now.Format("15:04") >= cfg.EODFlatten && flattenedDay != day {
				flattenedDay = day
				observ.Log("eod_flatten_triggered", map[string]any{"at": cfg.EODFlatten})
				sess.Engine.CloseAll(sess.Marks())
			}
		}
	}
}

// runSimFeed synthesizes a random walk per watchlist symbol so sim
// mode exercises the full pipeline without an upstream feed. Rare
// upward bursts give the shock detector something to fire on.
func runSimFeed(ctx context.Context, sess *app.Session) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	prices := map[string]float64{}
	for _, m := range sess.Monitors {
		prices[m.Symbol()] = 5 + r.Float64()*45
	}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for sym, px := range prices {
			px *= 1 + (r.Float64()-0.5)*0.002
			if r.Intn(2000) == 0 {
				px *= 1.02
			}
			prices[sym] = px
			spread := px * 0.0005
			sess.Broker.Feed(marketdata.Tick{
				Symbol:    sym,
				Price:     px,
				Size:      int64(50 + r.Intn(500)),
				Bid:       px - spread,
				Ask:       px + spread,
				Timestamp: time.Now().UTC(),
			})
		}
	}
}
