package pkg

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component names the half of the bridge (or the layer within it) that
// emitted a record. Every record carries it under the "component" key.
type Component string

const (
	ComponentController Component = "controller"
	ComponentSatellite  Component = "satellite"
	ComponentLink       Component = "link"
	ComponentStorage    Component = "storage"
	ComponentScript     Component = "script"
	ComponentScheduler  Component = "scheduler"
	ComponentMonitor    Component = "monitor"
)

// LogFormat selects the slog handler used for output.
type LogFormat int

const (
	LogFormatText LogFormat = iota
	LogFormatJSON
)

var (
	// DefaultLogger receives every record emitted through this package.
	DefaultLogger *slog.Logger

	level = new(slog.LevelVar)
	mu    sync.RWMutex
)

func init() {
	level.Set(slog.LevelWarn)
	DefaultLogger = NewLogger(os.Stderr, LogFormatText)
}

// NewLogger returns a logger writing to w in the given format, filtered by
// the package-wide level.
func NewLogger(w io.Writer, format LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetLogLevel sets the minimum level for all bridge logging.
func SetLogLevel(l slog.Level) { level.Set(l) }

// GetLogLevel returns the current minimum level.
func GetLogLevel() slog.Level { return level.Level() }

// SetLogger replaces the default logger.
func SetLogger(logger *slog.Logger) {
	mu.Lock()
	DefaultLogger = logger
	mu.Unlock()
}

// SetLogFormat rebuilds the default logger on os.Stderr in the given format.
func SetLogFormat(format LogFormat) {
	SetLogger(NewLogger(os.Stderr, format))
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return DefaultLogger
}

func emit(l slog.Level, component Component, msg string, args []any) {
	logger := current()
	if !logger.Enabled(context.Background(), l) {
		return
	}
	logger.Log(context.Background(), l, msg,
		append([]any{"component", string(component)}, args...)...)
}

func LogDebug(component Component, msg string, args ...any) {
	emit(slog.LevelDebug, component, msg, args)
}

func LogInfo(component Component, msg string, args ...any) {
	emit(slog.LevelInfo, component, msg, args)
}

func LogWarn(component Component, msg string, args ...any) {
	emit(slog.LevelWarn, component, msg, args)
}

func LogError(component Component, msg string, args ...any) {
	emit(slog.LevelError, component, msg, args)
}

// Logger returns a logger that tags every record with the given component.
// Long-lived loops hold one of these instead of calling the Log* helpers.
func Logger(component Component) *slog.Logger {
	return current().With("component", string(component))
}

// ParseLogLevel converts a level name (debug, info, warn, error) to a
// [slog.Level]. Unknown names report false.
func ParseLogLevel(name string) (slog.Level, bool) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelWarn, false
	}
	return l, true
}
