package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tradeloop/momentum-app/internal/app"
	"github.com/tradeloop/momentum-app/internal/broker"
	"github.com/tradeloop/momentum-app/internal/config"
)

// Replays a recorded tick session (one JSON tick per line) through
// the full pipeline and prints the resulting trades and a session
// summary.
func main() {
	log.SetFlags(0)
	cfgPath := flag.String("config", "config.yaml", "path to YAML config")
	ticksPath := flag.String("ticks", "fixtures/ticks.jsonl", "recorded tick file, one JSON object per line")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	// Replay wants deterministic, immediate fills.
	cfg.Broker.LatencyMsMin = 0
	cfg.Broker.LatencyMsMax = 0
	cfg.Broker.SlippageBpsMin = 0
	cfg.Broker.SlippageBpsMax = 0
	cfg.EODFlatten = ""

	f, err := os.Open(*ticksPath)
	if err != nil {
		log.Fatalf("open %s: %v", *ticksPath, err)
	}
	defer f.Close()

	sess, err := app.NewSession(cfg)
	if err != nil {
		log.Fatalf("session: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess.Start(ctx)

	var lines, bad int
	var last time.Time
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines++
		t, err := broker.Decode(sc.Bytes())
		if err != nil {
			bad++
			continue
		}
		sess.Broker.Feed(t)
		sess.CheckTimers(t.Timestamp)
		last = t.Timestamp
	}
	if err := sc.Err(); err != nil {
		log.Fatalf("read %s: %v", *ticksPath, err)
	}

	// Let in-flight order events drain before flattening.
	time.Sleep(200 * time.Millisecond)
	sess.Engine.CloseAll(sess.Marks())
	time.Sleep(100 * time.Millisecond)
	cancel()

	for _, rec := range sess.Trades.All() {
		line, _ := json.Marshal(rec)
		fmt.Println(string(line))
	}
	s := sess.Trades.Summarize()
	fmt.Printf("{\"ticks\":%d,\"bad_lines\":%d,\"last_tick\":%q,\"trades\":%d,\"wins\":%d,\"losses\":%d,\"failed\":%d,\"net_pnl\":%.2f,\"fees\":%.2f}\n",
		lines, bad, last.Format(time.RFC3339), s.Trades, s.Wins, s.Losses, s.Failed, s.NetPnL, s.Fees)

	if err := sess.Close(); err != nil {
		log.Fatalf("close: %v", err)
	}
}
