package logger

import (
	"os"

	"github.com/redinc23/hathor-red-sub003/pkg/config"

	zl "github.com/rs/zerolog"
)

// log is the unexported package-level logger instance shared by the helpers in actions.go.
var log = defaultLogger()

type logger struct {
	engine *zl.Logger
}

// defaultLogger covers code paths that run before InitLogger, tests included.
func defaultLogger() *logger {
	engine := zl.New(os.Stderr).With().Timestamp().Logger()
	return &logger{engine: &engine}
}

// InitLogger initializes the logger with configuration
func InitLogger(cfg *config.Config) {
	zl.SetGlobalLevel(getLogLevel(cfg.Log.Level))

	zl.TimeFieldFormat = zl.TimeFormatUnix
	zl.TimestampFieldName = "timestamp"
	zl.MessageFieldName = "message"

	engine := zl.New(os.Stdout).With().
		Timestamp().
		Caller().
		Logger()

	log = &logger{
		engine: &engine,
	}
}

// getLogLevel returns the log level based on the string input
func getLogLevel(level string) zl.Level {
	switch level {
	case DebugLevel:
		return zl.DebugLevel
	case InfoLevel:
		return zl.InfoLevel
	case WarnLevel:
		return zl.WarnLevel
	case ErrorLevel:
		return zl.ErrorLevel
	default:
		return zl.InfoLevel
	}
}
