package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Window is an inclusive time-of-day interval in "HH:MM:SS" form.
type Window struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type Strategy struct {
	Windows []Window `yaml:"windows"`

	// Layer A: shock detector (1-bar, with a 2-bar alternative path)
	ShockRet1s     float64 `yaml:"shock_ret_1s"`
	ShockVolMult1s float64 `yaml:"shock_vol_mult_1s"`
	ShockRet2s     float64 `yaml:"shock_ret_2s"`
	ShockVolMult2s float64 `yaml:"shock_vol_mult_2s"`

	// Layer B: continuation confirm (5s)
	ConfirmRet5s     float64 `yaml:"confirm_ret_5s"`
	ConfirmVolMult5s float64 `yaml:"confirm_vol_mult_5s"`
	RangeMult5s      float64 `yaml:"range_mult_5s"`
	VWAPMinRatio     float64 `yaml:"vwap_min_ratio"` // 0 disables the VWAP sanity clause

	// No-instant-fade filter
	NoFadeFrac float64 `yaml:"no_fade_frac"`

	// Execution safety gate
	MaxSpreadPct  float64 `yaml:"max_spread_pct"`
	SpreadRelMult float64 `yaml:"spread_rel_mult"`
	QuoteStaleMs  int     `yaml:"quote_stale_ms"`

	// Exit rules
	StopPct       float64 `yaml:"stop_pct"`
	StopRangeMult float64 `yaml:"stop_range_mult"`
	TPRMult       float64 `yaml:"tp_r_mult"`
	FailRet1s     float64 `yaml:"fail_ret_1s"`
	TimeStopSecs  int     `yaml:"time_stop_seconds"`
	MinPnLRAtTime float64 `yaml:"min_pnl_r_at_time"`

	// Rolling statistics
	MedianWindowSecs int     `yaml:"median_window_seconds"`
	MedianVolFloor   float64 `yaml:"median_vol_floor"`
	MedianRangeFloor float64 `yaml:"median_range_floor"`

	// State machine
	ArmTimeoutSecs float64 `yaml:"arm_timeout_seconds"`
}

type Prescreen struct {
	Enabled          bool    `yaml:"enabled"`
	RequireAboveVWAP bool    `yaml:"require_above_vwap"`
	SqueezePct       float64 `yaml:"squeeze_pct"`
	SqueezeMinutes   int     `yaml:"squeeze_minutes"`
	MaxSpreadPct     float64 `yaml:"max_spread_pct"`
}

type Execution struct {
	InvestmentPerTrade   float64 `yaml:"investment_per_trade"`
	EntryOffset          float64 `yaml:"entry_offset"`
	EntryTimeoutMs       int     `yaml:"entry_timeout_ms"`
	ExitDiscount         float64 `yaml:"exit_discount"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`

	// IBKR-style commission tiers
	CommissionPerShare   float64 `yaml:"commission_per_share"`
	CommissionMin        float64 `yaml:"commission_min"`
	CommissionPercentLow float64 `yaml:"commission_percent_low"` // for sub-$1 stocks
}

type Warmup struct {
	Min1sBars       int `yaml:"min_1s_bars"`
	Min5sBars       int `yaml:"min_5s_bars"`
	HistoryMinutes  int `yaml:"history_minutes"`
	FallbackSeconds int `yaml:"fallback_seconds"`
}

type Broker struct {
	Mode string `yaml:"mode"` // sim | ws

	// Sim fill behavior
	LatencyMsMin   int `yaml:"latency_ms_min"`
	LatencyMsMax   int `yaml:"latency_ms_max"`
	SlippageBpsMin int `yaml:"slippage_bps_min"`
	SlippageBpsMax int `yaml:"slippage_bps_max"`

	// Websocket tick feed (mode: ws)
	FeedURL string `yaml:"feed_url"`

	// Historical data pacing
	HistRequestsPerMin int `yaml:"hist_requests_per_min"`
	HistTimeoutSecs    int `yaml:"hist_timeout_seconds"`
}

type Log struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type Root struct {
	Watchlist  []string  `yaml:"watchlist"`
	Strategy   Strategy  `yaml:"strategy"`
	Prescreen  Prescreen `yaml:"prescreen"`
	Execution  Execution `yaml:"execution"`
	Warmup     Warmup    `yaml:"warmup"`
	Broker     Broker    `yaml:"broker"`
	Log        Log       `yaml:"log"`
	ListenAddr string    `yaml:"listen_addr"`
	EODFlatten string    `yaml:"eod_flatten"` // "HH:MM" local exchange time, empty disables
	TradesPath string    `yaml:"trades_path"` // JSONL trade log, empty keeps history in memory only
}

func Load(path string) (Root, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Default returns the configuration used when a field is absent from the
// YAML file; tests build on it and override what they exercise.
func Default() Root {
	return Root{
		Strategy: Strategy{
			Windows:          []Window{{Start: "04:00:00", End: "09:29:59"}},
			ShockRet1s:       0.01,
			ShockVolMult1s:   3.0,
			ShockRet2s:       0.015,
			ShockVolMult2s:   4.0,
			ConfirmRet5s:     0.01,
			ConfirmVolMult5s: 3.0,
			RangeMult5s:      2.0,
			NoFadeFrac:       0.5,
			MaxSpreadPct:     0.5,
			SpreadRelMult:    3.0,
			QuoteStaleMs:     3000,
			StopPct:          0.02,
			StopRangeMult:    1.5,
			TPRMult:          2.0,
			FailRet1s:        0.01,
			TimeStopSecs:     120,
			MinPnLRAtTime:    0.25,
			MedianWindowSecs: 120,
			MedianVolFloor:   1.0,
			MedianRangeFloor: 0.001,
			ArmTimeoutSecs:   10.0,
		},
		Prescreen: Prescreen{
			SqueezePct:     10.0,
			SqueezeMinutes: 5,
			MaxSpreadPct:   0.5,
		},
		Execution: Execution{
			InvestmentPerTrade:   1000.0,
			EntryOffset:          0.10,
			EntryTimeoutMs:       5000,
			ExitDiscount:         0.10,
			MaxConsecutiveLosses: 3,
			CommissionPerShare:   0.005,
			CommissionMin:        1.0,
			CommissionPercentLow: 0.005,
		},
		Warmup: Warmup{
			Min1sBars:       30,
			Min5sBars:       6,
			HistoryMinutes:  5,
			FallbackSeconds: 60,
		},
		Broker: Broker{
			Mode:               "sim",
			LatencyMsMin:       50,
			LatencyMsMax:       400,
			SlippageBpsMin:     1,
			SlippageBpsMax:     5,
			HistRequestsPerMin: 30,
			HistTimeoutSecs:    30,
		},
		Log: Log{
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 7,
		},
		ListenAddr: ":8090",
		EODFlatten: "15:59",
	}
}

func (c Root) Validate() error {
	if len(c.Watchlist) == 0 {
		return fmt.Errorf("watchlist is empty")
	}
	if c.Execution.InvestmentPerTrade <= 0 {
		return fmt.Errorf("investment_per_trade must be positive, got %v", c.Execution.InvestmentPerTrade)
	}
	if c.Strategy.MedianVolFloor <= 0 || c.Strategy.MedianRangeFloor <= 0 {
		return fmt.Errorf("median floors must be positive")
	}
	if c.Broker.Mode != "sim" && c.Broker.Mode != "ws" {
		return fmt.Errorf("unknown broker mode %q", c.Broker.Mode)
	}
	if c.Broker.Mode == "ws" && c.Broker.FeedURL == "" {
		return fmt.Errorf("broker mode ws requires feed_url")
	}
	return nil
}
