// Package logging centralizes zerolog setup so every component logs through
// the same root logger with a component field.
package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu         sync.Mutex
	rootLogger *zerolog.Logger
)

// GetDefaultLogger returns the process-wide root logger, creating it on first
// use. Level comes from BLIVETTS_LOG_LEVEL (default info).
func GetDefaultLogger() *zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if rootLogger == nil {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(levelFromEnv()).
			With().Timestamp().Logger()
		rootLogger = &logger
	}
	return rootLogger
}

// ComponentLogger returns the root logger scoped with a component field.
func ComponentLogger(component string) zerolog.Logger {
	return GetDefaultLogger().With().Str("component", component).Logger()
}

func levelFromEnv() zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("BLIVETTS_LOG_LEVEL"))) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
