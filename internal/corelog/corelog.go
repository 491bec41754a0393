// Package corelog installs the process-wide structured logger. It wraps
// log/slog with a handler that supports multiple output writers, a
// live-adjustable level (wired to the admin set_log_level verb), and
// optional ANSI color (admin set_log_colors), following the pattern the
// teacher repo's internal/logger package uses for its own SIP stack.
package corelog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var (
	globalLevel  = slog.LevelInfo
	showTimes    = true
	useColor     = false
	handlerMutex sync.RWMutex
)

// SetLevel sets the global log level from a string (debug/info/warn/error).
func SetLevel(levelStr string) {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	globalLevel = ParseLevel(levelStr)
}

// GetLevel returns the current log level as a lowercase string.
func GetLevel() string {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	switch {
	case globalLevel <= slog.LevelDebug:
		return "debug"
	case globalLevel <= slog.LevelInfo:
		return "info"
	case globalLevel <= slog.LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

// ParseLevel parses a level string, defaulting to info on anything unknown.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetTimestamps toggles the [HH:MM:SS] prefix (admin set_log_timestamps).
func SetTimestamps(enabled bool) {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	showTimes = enabled
}

// SetColors toggles ANSI coloring of the level tag (admin set_log_colors).
func SetColors(enabled bool) {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	useColor = enabled
}

// componentHandler is a minimal slog.Handler writing bracketed,
// component-tagged lines to one or more outputs, gated by the package's
// live-adjustable global level.
type componentHandler struct {
	outs []io.Writer
	mu   sync.Mutex
}

// Init installs the default logger writing to the given outputs. When a
// *os.File output is a live terminal, it is wrapped with go-colorable (for
// correct ANSI rendering on Windows consoles) and color is enabled
// automatically unless SetColors(false) is called afterward.
func Init(outputs ...io.Writer) {
	wrapped := make([]io.Writer, 0, len(outputs))
	for _, o := range outputs {
		if f, ok := o.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			wrapped = append(wrapped, colorable.NewColorable(f))
			handlerMutex.Lock()
			useColor = true
			handlerMutex.Unlock()
			continue
		}
		wrapped = append(wrapped, o)
	}
	h := &componentHandler{outs: wrapped}
	slog.SetDefault(slog.New(h))
}

func (h *componentHandler) Enabled(_ context.Context, level slog.Level) bool {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	return level >= globalLevel
}

func (h *componentHandler) Handle(_ context.Context, r slog.Record) error {
	handlerMutex.RLock()
	lvl, times, color := globalLevel, showTimes, useColor
	handlerMutex.RUnlock()
	if r.Level < lvl {
		return nil
	}

	var b strings.Builder
	if times {
		b.WriteByte('[')
		b.WriteString(r.Time.Format(time.TimeOnly))
		b.WriteString("] ")
	}
	levelTag := strings.ToUpper(r.Level.String())
	if color {
		b.WriteString(colorFor(r.Level))
		b.WriteByte('[')
		b.WriteString(levelTag)
		b.WriteString("]\x1b[0m ")
	} else {
		b.WriteByte('[')
		b.WriteString(levelTag)
		b.WriteString("] ")
	}
	b.WriteString(r.Message)

	r.Attrs(func(a slog.Attr) bool {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(a.Value.String())
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	line := []byte(b.String())
	for _, out := range h.outs {
		_, _ = out.Write(line)
	}
	return nil
}

func colorFor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\x1b[31m"
	case l >= slog.LevelWarn:
		return "\x1b[33m"
	case l >= slog.LevelInfo:
		return "\x1b[36m"
	default:
		return "\x1b[90m"
	}
}

func (h *componentHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *componentHandler) WithGroup(_ string) slog.Handler      { return h }

// With returns a logger tagged with a component name, the convention used
// throughout internal/core (component=registry, component=dispatch, ...).
func With(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
