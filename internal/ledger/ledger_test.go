package ledger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	l, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	rec := l.Append(TradeRecord{Symbol: "ABC", PnL: 12.5, Status: StatusClosed})
	if rec.ID == "" {
		t.Fatalf("record has no ID")
	}
	if rec.ClosedAt.IsZero() {
		t.Fatalf("record has no close time")
	}
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
}

func TestSummarize(t *testing.T) {
	l, _ := New("")
	l.Append(TradeRecord{Symbol: "ABC", PnL: 40, Commission: 2, Status: StatusClosed})
	l.Append(TradeRecord{Symbol: "ABC", PnL: -10, Commission: 2, Status: StatusClosed})
	l.Append(TradeRecord{Symbol: "XYZ", Status: StatusFailed})

	s := l.Summarize()
	if s.Trades != 2 || s.Wins != 1 || s.Losses != 1 || s.Failed != 1 {
		t.Fatalf("bad summary: %+v", s)
	}
	if s.NetPnL != 30 || s.Fees != 4 || s.GrossPnL != 34 {
		t.Fatalf("bad pnl totals: %+v", s)
	}
}

func TestPersistsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	l, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Append(TradeRecord{Symbol: "ABC", PnL: 5, Status: StatusClosed})
	l.Append(TradeRecord{Symbol: "XYZ", Status: StatusFailed})
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec TradeRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("bad JSON line: %v", err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("got %d lines, want 2", lines)
	}
}
