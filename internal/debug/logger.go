// Package debug holds the process-wide structured logger used by the
// evolution engine and its commands.
package debug

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	logger  = slog.New(slog.NewTextHandler(io.Discard, nil))
	level   = new(slog.LevelVar)
	enabled bool
	mu      sync.RWMutex
)

// Verbosity levels accepted by the command line, from quietest to loudest.
const (
	VerbosityQuiet = iota
	VerbosityNormal
	VerbosityVerbose
	VerbosityDebug
)

// Init sets up logging on stderr. Warnings and errors are always written
// once Init has run; enable turns on debug output as well.
func Init(enable bool) {
	verbosity := VerbosityNormal
	if enable {
		verbosity = VerbosityDebug
	}
	InitWithVerbosity(os.Stderr, verbosity)
}

// InitWithVerbosity writes logs to w at the level matching verbosity.
func InitWithVerbosity(w io.Writer, verbosity int) {
	mu.Lock()
	defer mu.Unlock()

	switch {
	case verbosity <= VerbosityQuiet:
		level.Set(slog.LevelError)
	case verbosity == VerbosityNormal:
		level.Set(slog.LevelWarn)
	case verbosity == VerbosityVerbose:
		level.Set(slog.LevelInfo)
	default:
		level.Set(slog.LevelDebug)
	}
	enabled = verbosity >= VerbosityDebug
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Enabled reports whether debug output is on.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, args ...any) { current().Debug(msg, args...) }

func Info(msg string, args ...any) { current().Info(msg, args...) }

func Warn(msg string, args ...any) { current().Warn(msg, args...) }

func Error(msg string, args ...any) { current().Error(msg, args...) }

// With returns a logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return current().With(args...)
}

// Component returns a logger tagged with the subsystem name.
func Component(name string) *slog.Logger {
	return current().With("component", name)
}

// Logger returns the underlying logger.
func Logger() *slog.Logger {
	return current()
}
