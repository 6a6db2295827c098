package app

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeloop/momentum-app/internal/broker"
	"github.com/tradeloop/momentum-app/internal/config"
	"github.com/tradeloop/momentum-app/internal/exec"
	"github.com/tradeloop/momentum-app/internal/ledger"
	"github.com/tradeloop/momentum-app/internal/monitor"
	"github.com/tradeloop/momentum-app/internal/observ"
	"github.com/tradeloop/momentum-app/internal/strategy"
)

// Session wires the trading pipeline: a broker, the execution engine,
// the trade ledger, and one monitor per watchlist symbol.
type Session struct {
	Cfg      config.Root
	Broker   *broker.SimBroker
	Engine   *exec.Engine
	Trades   *ledger.Ledger
	Monitors []*monitor.SymbolMonitor
}

func NewSession(cfg config.Root) (*Session, error) {
	trades, err := ledger.New(cfg.TradesPath)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	b := broker.NewSimBroker(broker.SimConfig{
		LatencyMsMin:   cfg.Broker.LatencyMsMin,
		LatencyMsMax:   cfg.Broker.LatencyMsMax,
		SlippageBpsMin: cfg.Broker.SlippageBpsMin,
		SlippageBpsMax: cfg.Broker.SlippageBpsMax,
		HistPerMin:     cfg.Broker.HistRequestsPerMin,
	})
	eng := exec.NewEngine(b, trades, ExecConfig(cfg))

	params := StrategyParams(cfg)
	pre := PrescreenParams(cfg)
	warm := monitor.WarmupConfig{
		Min1sBars:       cfg.Warmup.Min1sBars,
		Min5sBars:       cfg.Warmup.Min5sBars,
		HistoryMinutes:  cfg.Warmup.HistoryMinutes,
		FallbackSeconds: cfg.Warmup.FallbackSeconds,
	}
	monitors := make([]*monitor.SymbolMonitor, 0, len(cfg.Watchlist))
	for _, sym := range cfg.Watchlist {
		monitors = append(monitors, monitor.NewSymbolMonitor(sym, eng, params, pre, params.Windows, warm))
	}
	return &Session{Cfg: cfg, Broker: b, Engine: eng, Trades: trades, Monitors: monitors}, nil
}

// Start runs the engine loops and subscribes every monitor to its
// symbol's ticks.
func (s *Session) Start(ctx context.Context) {
	s.Engine.Start(ctx)
	for _, m := range s.Monitors {
		mon := m
		if err := s.Broker.SubscribeMarketData(mon.Symbol(), mon.OnTick); err != nil {
			observ.Log("subscribe_error", map[string]any{"symbol": mon.Symbol(), "error": err.Error()})
		}
	}
}

// Preload warms every monitor from historical bars, serially so the
// broker's request pacing is respected.
func (s *Session) Preload(ctx context.Context) {
	timeout := time.Duration(s.Cfg.Broker.HistTimeoutSecs) * time.Second
	for _, m := range s.Monitors {
		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		m.Preload(fetchCtx, s.Broker)
		cancel()
	}
}

// Marks returns the last trade price per symbol for end-of-day P&L.
func (s *Session) Marks() map[string]float64 {
	marks := make(map[string]float64, len(s.Monitors))
	for _, m := range s.Monitors {
		marks[m.Symbol()] = m.Mark()
	}
	return marks
}

// CheckTimers advances time-based transitions on every monitor.
func (s *Session) CheckTimers(now time.Time) {
	for _, m := range s.Monitors {
		m.CheckTimers(now)
	}
}

func (s *Session) Close() error {
	if err := s.Broker.Close(); err != nil {
		return err
	}
	return s.Trades.Close()
}

func StrategyParams(cfg config.Root) strategy.Params {
	st := cfg.Strategy
	windows := make([]strategy.TimeWindow, 0, len(st.Windows))
	for _, w := range st.Windows {
		windows = append(windows, strategy.TimeWindow{Start: w.Start, End: w.End})
	}
	return strategy.Params{
		Windows:          windows,
		ShockRet1s:       st.ShockRet1s,
		ShockVolMult1s:   st.ShockVolMult1s,
		ShockRet2s:       st.ShockRet2s,
		ShockVolMult2s:   st.ShockVolMult2s,
		ConfirmRet5s:     st.ConfirmRet5s,
		ConfirmVolMult5s: st.ConfirmVolMult5s,
		RangeMult5s:      st.RangeMult5s,
		VWAPMinRatio:     st.VWAPMinRatio,
		NoFadeFrac:       st.NoFadeFrac,
		MaxSpreadPct:     st.MaxSpreadPct,
		SpreadRelMult:    st.SpreadRelMult,
		QuoteStaleMs:     st.QuoteStaleMs,
		StopPct:          st.StopPct,
		StopRangeMult:    st.StopRangeMult,
		TPRMult:          st.TPRMult,
		FailRet1s:        st.FailRet1s,
		TimeStopSecs:     st.TimeStopSecs,
		MinPnLRAtTime:    st.MinPnLRAtTime,
		MedianWindowSecs: st.MedianWindowSecs,
		MedianVolFloor:   st.MedianVolFloor,
		MedianRangeFloor: st.MedianRangeFloor,
		ArmTimeoutSecs:   st.ArmTimeoutSecs,
	}
}

func PrescreenParams(cfg config.Root) strategy.PrescreenParams {
	return strategy.PrescreenParams{
		Enabled:          cfg.Prescreen.Enabled,
		RequireAboveVWAP: cfg.Prescreen.RequireAboveVWAP,
		SqueezePct:       cfg.Prescreen.SqueezePct,
		SqueezeMinutes:   cfg.Prescreen.SqueezeMinutes,
		MaxSpreadPct:     cfg.Prescreen.MaxSpreadPct,
	}
}

func ExecConfig(cfg config.Root) exec.Config {
	ex := cfg.Execution
	return exec.Config{
		InvestmentPerTrade:   ex.InvestmentPerTrade,
		EntryOffset:          ex.EntryOffset,
		EntryTimeoutMs:       ex.EntryTimeoutMs,
		ExitDiscount:         ex.ExitDiscount,
		MaxConsecutiveLosses: ex.MaxConsecutiveLosses,
		CommissionPerShare:   ex.CommissionPerShare,
		CommissionMin:        ex.CommissionMin,
		CommissionPercentLow: ex.CommissionPercentLow,
	}
}
