// Package log provides a global logger with configurable logging level. The intended use is for
// development builds; output goes through zerolog's console writer.

package log

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelNone    Level = iota // Disables logging.
	LevelError                // Logs anomalies that are not expected to occur during normal use.
	LevelWarning              // Logs anomalies that are expected to occur occasionally during normal use.
	LevelInfo                 // Logs major events.
	LevelDebug                // Logs detailed IO
)

var logMutex sync.Mutex
var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.Disabled)

var levels = map[Level]zerolog.Level{
	LevelNone:    zerolog.Disabled,
	LevelError:   zerolog.ErrorLevel,
	LevelWarning: zerolog.WarnLevel,
	LevelInfo:    zerolog.InfoLevel,
	LevelDebug:   zerolog.DebugLevel,
}

func SetLevel(level Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	if zl, ok := levels[level]; ok {
		logger = logger.Level(zl)
	}
}

func get() zerolog.Logger {
	logMutex.Lock()
	defer logMutex.Unlock()
	return logger
}

func Debug(format string, a ...interface{}) {
	l := get()
	l.Debug().Msgf(format, a...)
}
func Info(format string, a ...interface{}) {
	l := get()
	l.Info().Msgf(format, a...)
}
func Warning(format string, a ...interface{}) {
	l := get()
	l.Warn().Msgf(format, a...)
}
func Error(format string, a ...interface{}) {
	l := get()
	l.Error().Msgf(format, a...)
}
