package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradeloop/momentum-app/internal/observ"
)

// TradeRecord is one completed (or failed) round trip.
type TradeRecord struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Shares     int64     `json:"shares"`
	PnL        float64   `json:"pnl"`
	Commission float64   `json:"commission"`
	ExitReason string    `json:"exit_reason"`
	Status     string    `json:"status"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

const (
	StatusClosed = "CLOSED"
	StatusFailed = "FAILED"
)

// Ledger is an append-only trade history. When a path is configured
// every record is also written as a JSON line so a crashed session
// still leaves an audit trail.
type Ledger struct {
	mu      sync.Mutex
	records []TradeRecord
	file    *os.File
}

func New(path string) (*Ledger, error) {
	l := &Ledger{}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open trade log %s: %w", path, err)
		}
		l.file = f
	}
	return l, nil
}

// Append stamps the record with an ID and close time if missing and
// stores it.
func (l *Ledger) Append(rec TradeRecord) TradeRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ClosedAt.IsZero() {
		rec.ClosedAt = time.Now().UTC()
	}
	l.mu.Lock()
	l.records = append(l.records, rec)
	if l.file != nil {
		line, err := json.Marshal(rec)
		if err == nil {
			_, err = l.file.Write(append(line, '\n'))
		}
		if err != nil {
			observ.Log("trade_log_write_error", map[string]any{"error": err.Error()})
		}
	}
	l.mu.Unlock()
	return rec
}

func (l *Ledger) All() []TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TradeRecord, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Summary aggregates the session for end-of-run reporting.
type Summary struct {
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	Failed   int     `json:"failed"`
	GrossPnL float64 `json:"gross_pnl"`
	Fees     float64 `json:"fees"`
	NetPnL   float64 `json:"net_pnl"`
}

func (l *Ledger) Summarize() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	var s Summary
	for _, r := range l.records {
		if r.Status == StatusFailed {
			s.Failed++
			continue
		}
		s.Trades++
		if r.PnL > 0 {
			s.Wins++
		} else if r.PnL < 0 {
			s.Losses++
		}
		s.GrossPnL += r.PnL + r.Commission
		s.Fees += r.Commission
		s.NetPnL += r.PnL
	}
	return s
}
