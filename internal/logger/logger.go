package logger

import (
	"sync"

	"go.uber.org/zap"
)

// Log levels used across the terminal.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

var (
	// globalLogger holds the process-wide logger instance.
	globalLogger *Logger
	once         sync.Once
)

// Get returns the process-wide logger. The first call decides the level;
// later calls return the already initialized instance.
func Get(level string) *Logger {
	once.Do(func() {
		globalLogger = New(level)
	})
	return globalLogger
}

// New builds a standalone console logger at the given level.
func New(level string) *Logger {
	return newZapLogger(level)
}

// Nop returns a logger that discards everything. Used by tests and by
// components constructed without a logger.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// Named returns a child logger tagged with the component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With("component", component)}
}
