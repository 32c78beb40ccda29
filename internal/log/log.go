// Package log is a thin wrapper around zerolog giving the rest of the
// module a single, swappable logger instance.
package log

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
)

// SetOutput redirects the package logger, e.g. to a file or to JSON on disk.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel adjusts the minimum level emitted by the package logger.
func SetLevel(lvl zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	logger = logger.Level(lvl)
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

// Debug starts a debug-level log event.
func Debug() *zerolog.Event { return current().Debug() }

// Info starts an info-level log event.
func Info() *zerolog.Event { return current().Info() }

// Warn starts a warn-level log event.
func Warn() *zerolog.Event { return current().Warn() }

// Error starts an error-level log event.
func Error() *zerolog.Event { return current().Error() }

// Fatal starts a fatal-level log event; zerolog calls os.Exit(1) on Msg/Msgf.
func Fatal() *zerolog.Event { return current().Fatal() }
