package observ

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

// SetLogFile mirrors log events to a size-rotated file in addition to stdout.
func SetLogFile(path string, maxSizeMB, maxBackups, maxAgeDays int) {
	if path == "" {
		return
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	rot := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	outMu.Lock()
	out = io.MultiWriter(os.Stdout, rot)
	outMu.Unlock()
}

func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)
	outMu.Lock()
	fmt.Fprintln(out, string(b))
	outMu.Unlock()
}
