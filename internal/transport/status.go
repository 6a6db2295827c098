package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tradeloop/momentum-app/internal/exec"
	"github.com/tradeloop/momentum-app/internal/ledger"
	"github.com/tradeloop/momentum-app/internal/observ"
)

// MonitorView is the subset of monitor state the status endpoints
// expose.
type MonitorView interface {
	Symbol() string
	State() string
	Mark() float64
}

// StatusServer serves read-only operational endpoints: positions,
// trade history, blacklist, monitor states, metrics, and health.
type StatusServer struct {
	engine   *exec.Engine
	trades   *ledger.Ledger
	monitors []MonitorView
	srv      *http.Server
}

func NewStatusServer(addr string, eng *exec.Engine, trades *ledger.Ledger, monitors []MonitorView) *StatusServer {
	s := &StatusServer{engine: eng, trades: trades, monitors: monitors}
	mux := http.NewServeMux()
	mux.HandleFunc("/positions", s.handlePositions)
	mux.HandleFunc("/trades", s.handleTrades)
	mux.HandleFunc("/blacklist", s.handleBlacklist)
	mux.HandleFunc("/monitors", s.handleMonitors)
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/healthz", observ.HealthHandler())
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves in the background. ListenAndServe errors other than a
// clean shutdown are logged, not fatal; the trading loop keeps going
// without the status surface.
func (s *StatusServer) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observ.Log("status_server_error", map[string]any{"error": err.Error()})
		}
	}()
	observ.Log("status_server_started", map[string]any{"addr": s.srv.Addr})
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *StatusServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"positions":          s.engine.ActivePositions(),
		"consecutive_losses": s.engine.ConsecutiveLosses(),
		"kill_switch":        s.engine.KillSwitchActive(),
	})
}

func (s *StatusServer) handleTrades(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"trades":  s.trades.All(),
		"summary": s.trades.Summarize(),
	})
}

func (s *StatusServer) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"blacklist": s.engine.Blacklist()})
}

func (s *StatusServer) handleMonitors(w http.ResponseWriter, r *http.Request) {
	type view struct {
		Symbol string  `json:"symbol"`
		State  string  `json:"state"`
		Mark   float64 `json:"mark"`
	}
	out := make([]view, 0, len(s.monitors))
	for _, m := range s.monitors {
		out = append(out, view{Symbol: m.Symbol(), State: m.State(), Mark: m.Mark()})
	}
	writeJSON(w, map[string]any{"monitors": out})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
