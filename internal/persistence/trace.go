package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/socialgrid/internal/engine"
)

// Frame is one line of an observation trace.
type Frame struct {
	Episode      int                           `json:"episode"`
	Tick         int                           `json:"tick"`
	Observations map[string]engine.Observation `json:"observations"`
	Rewards      map[string]float64            `json:"rewards"`
	Done         bool                          `json:"done,omitempty"`
}

// TraceWriter appends JSON lines to a zstd-compressed file.
type TraceWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
	enc  *zstd.Encoder
	w    *bufio.Writer
	n    int
}

// CreateTrace creates (or truncates) a trace file at path.
func CreateTrace(path string) (*TraceWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	return &TraceWriter{
		path: path,
		f:    f,
		enc:  enc,
		w:    bufio.NewWriterSize(enc, 128*1024),
	}, nil
}

// Write appends v as one JSON line.
func (t *TraceWriter) Write(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return fmt.Errorf("trace %s is closed", t.path)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := t.w.Write(b); err != nil {
		return err
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return err
	}
	t.n++
	return nil
}

// Lines returns the number of lines written so far.
func (t *TraceWriter) Lines() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// Close flushes and closes the file.
func (t *TraceWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return nil
	}
	err := t.w.Flush()
	if cerr := t.enc.Close(); err == nil {
		err = cerr
	}
	if cerr := t.f.Close(); err == nil {
		err = cerr
	}
	t.w, t.enc, t.f = nil, nil, nil
	return err
}

// Attach installs the trace on runner: one frame per tick.
func (t *TraceWriter) Attach(runner *engine.Runner) {
	prev := runner.OnStep
	runner.OnStep = func(env *engine.Environment, res *engine.StepResult, elapsed time.Duration) {
		frame := Frame{
			Episode:      env.Episode(),
			Tick:         env.Game().Steps,
			Observations: res.Observations,
			Rewards:      res.Rewards,
			Done:         res.Terminated[engine.AllKey],
		}
		if err := t.Write(frame); err != nil {
			slog.Warn("trace write failed", "path", t.path, "error", err)
		}
		if prev != nil {
			prev(env, res, elapsed)
		}
	}
}

// ReadTrace calls fn for every frame in the trace at path, in order.
func ReadTrace(path string, fn func(Frame) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 256*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var fr Frame
		if err := json.Unmarshal(sc.Bytes(), &fr); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(fr); err != nil {
			return err
		}
	}
	return sc.Err()
}
