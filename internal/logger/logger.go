// Package logger builds the service's zerolog logger and adapts it to the
// libraries that bring their own logging interface.
package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// New constructs the service logger. Development gets a console writer;
// every other environment logs JSON to stdout.
func New(env, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
		if env == "development" {
			lvl = zerolog.DebugLevel
		}
	}

	log := zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "matrixai-api").
		Logger()

	if env == "development" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return log
}

// AsynqLevel maps a log level name onto the asynq server level
func AsynqLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

// AsynqLogger routes asynq server logs through zerolog
type AsynqLogger struct {
	log zerolog.Logger
}

func NewAsynqLogger(log zerolog.Logger) *AsynqLogger {
	return &AsynqLogger{log: log.With().Str("component", "asynq").Logger()}
}

func (l *AsynqLogger) Debug(args ...interface{}) {
	l.log.Debug().Msg(fmt.Sprint(args...))
}

func (l *AsynqLogger) Info(args ...interface{}) {
	l.log.Info().Msg(fmt.Sprint(args...))
}

func (l *AsynqLogger) Warn(args ...interface{}) {
	l.log.Warn().Msg(fmt.Sprint(args...))
}

func (l *AsynqLogger) Error(args ...interface{}) {
	l.log.Error().Msg(fmt.Sprint(args...))
}

func (l *AsynqLogger) Fatal(args ...interface{}) {
	l.log.Fatal().Msg(fmt.Sprint(args...))
}
