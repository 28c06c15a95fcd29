// Package log writes run outputs as zstd-compressed JSONL, one file per
// simulated day so long runs stay browsable without decompressing
// everything.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"cartsim.ai/internal/sim/cells"
)

// ticksPerDay converts a tick (one simulated minute) to its output segment.
const ticksPerDay = 1440

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu     sync.Mutex
	curDay uint64
	open   bool
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(tick uint64, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := tick / ticksPerDay
	if !w.open || day != w.curDay {
		if err := w.rotateLocked(day); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(day uint64) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForDay(day)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curDay = day
	w.open = true
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.open = false
	return err1
}

func (w *JSONLZstdWriter) pathForDay(day uint64) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-day%04d.jsonl.zst", w.prefix, day))
}

// LysisLogger writes one JSONL entry per killed target (compressed).
type LysisLogger struct{ w *JSONLZstdWriter }

func NewLysisLogger(runDir string) *LysisLogger {
	return &LysisLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "lysis"), "lysis")}
}

func (l *LysisLogger) WriteLysis(v cells.DeathRecord) error { return l.w.Write(v.Tick, v) }
func (l *LysisLogger) Close() error                         { return l.w.Close() }

// MetricsLogger writes one JSONL summary per profiling interval
// (compressed).
type MetricsLogger struct{ w *JSONLZstdWriter }

func NewMetricsLogger(runDir string) *MetricsLogger {
	return &MetricsLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "metrics"), "metrics")}
}

func (l *MetricsLogger) WriteMetrics(v cells.Metrics) error { return l.w.Write(v.Tick, v) }
func (l *MetricsLogger) Close() error                       { return l.w.Close() }
