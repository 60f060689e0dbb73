package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarning
	LogLevelBasic
	LogLevelDebug
)

var (
	mu     sync.RWMutex
	level  = LogLevelBasic
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
)

func SetLevel(l LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// SetLogger replaces the process-wide logger.
// Useful for hosts that already own a zerolog pipeline.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func FromString(s string) LogLevel {
	if numericLogLevel, err := strconv.Atoi(s); err == nil {
		return boundedLogLevel(numericLogLevel)
	}
	switch strings.ToLower(s) {
	case "error":
		return LogLevelError
	case "warning":
		return LogLevelWarning
	case "basic", "info":
		return LogLevelBasic
	case "debug":
		return LogLevelDebug
	}

	return LogLevelBasic
}

func Debugf(format string, args ...any) {
	if GetLevel() >= LogLevelDebug {
		l := current()
		l.Debug().Msgf(format, args...)
	}
}

func Warningf(format string, args ...any) {
	if GetLevel() >= LogLevelWarning {
		l := current()
		l.Warn().Msgf(format, args...)
	}
}

func Basicf(format string, args ...any) {
	if GetLevel() >= LogLevelBasic {
		l := current()
		l.Info().Msgf(format, args...)
	}
}

func Errorf(format string, args ...any) {
	l := current()
	l.Error().Msgf(format, args...)
}

func Fatalf(format string, args ...any) {
	l := current()
	l.Fatal().Msgf(format, args...)
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func boundedLogLevel(numericLevel int) LogLevel {
	if numericLevel < 0 {
		return LogLevelError
	}
	if numericLevel > 3 {
		return LogLevelDebug
	}
	return LogLevel(numericLevel)
}
