// Package logging sets up the process-wide slog logger: component-scoped
// loggers, run context on every record and a size-rotated file sink.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// RunContext reports the run attributes to attach to each record.
// session.Baseline implements it.
type RunContext interface {
	RunContext() (sessionID string, phase int, runTime time.Duration)
}

var runCtx atomic.Pointer[RunContext]

// Init configures the global slog default with the given level and format.
// Records go to every non-nil writer, or os.Stderr when there is none.
// Format is "text" or "json".
func Init(level slog.Level, format string, w ...io.Writer) {
	var sinks []io.Writer
	for _, x := range w {
		if x != nil {
			sinks = append(sinks, x)
		}
	}
	var writer io.Writer = os.Stderr
	switch len(sinks) {
	case 0:
	case 1:
		writer = sinks[0]
	default:
		writer = io.MultiWriter(sinks...)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}
	slog.SetDefault(slog.New(&contextHandler{next: handler}))
}

// SetRunContext installs the provider used for session_id/phase/run_time.
// Passing nil removes it.
func SetRunContext(rc RunContext) {
	if rc == nil {
		runCtx.Store(nil)
		return
	}
	runCtx.Store(&rc)
}

// New returns a logger with a "component" attribute for module-scoped logging.
func New(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}

// ParseLevel accepts debug, info, warn and error (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", s)
}

// contextHandler appends the run context to records while a run is active.
type contextHandler struct {
	next slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if p := runCtx.Load(); p != nil {
		id, phase, rt := (*p).RunContext()
		if id != "" {
			r = r.Clone()
			r.AddAttrs(
				slog.String("session_id", id),
				slog.Int("phase", phase),
				slog.Float64("run_time", rt.Round(100*time.Millisecond).Seconds()),
			)
		}
	}
	return h.next.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}
