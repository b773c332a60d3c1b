package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the process-wide root logger. Subsystems derive their own
// loggers from it via WithComponent so records stay filterable.
var Logger zerolog.Logger

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

func init() {
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Configure sets up the global logger. Dev mode gets a colored console
// writer; everything else emits JSON lines for log shippers.
func Configure(level LogLevel, isDev bool) {
	zerolog.SetGlobalLevel(parseLevel(level))

	var writer io.Writer = os.Stderr
	if isDev {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
		}
	}

	Logger = zerolog.New(writer).With().Timestamp().Logger()
	log.Logger = Logger
}

func parseLevel(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LevelFromEnv resolves the log level from PORTSIDE_LOG_LEVEL, falling back
// to debug in dev mode and info otherwise. DEBUG=1 is honored as a shortcut.
func LevelFromEnv(isDev bool) LogLevel {
	if raw := strings.ToLower(os.Getenv("PORTSIDE_LOG_LEVEL")); raw != "" {
		switch LogLevel(raw) {
		case LevelDebug, LevelInfo, LevelWarn, LevelError:
			return LogLevel(raw)
		}
	}

	debug := strings.ToLower(os.Getenv("DEBUG"))
	if debug == "true" || debug == "1" {
		return LevelDebug
	}
	if isDev {
		return LevelDebug
	}
	return LevelInfo
}

// WithComponent returns a logger tagged with a component name, e.g.
// "remote", "gateway", "monitor".
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithField creates a logger with one extra field.
func WithField(key string, value interface{}) zerolog.Logger {
	return Logger.With().Interface(key, value).Logger()
}

func Debug(msg string) { Logger.Debug().Msg(msg) }

func Debugf(format string, args ...interface{}) { Logger.Debug().Msgf(format, args...) }

func Info(msg string) { Logger.Info().Msg(msg) }

func Infof(format string, args ...interface{}) { Logger.Info().Msgf(format, args...) }

func Warn(msg string) { Logger.Warn().Msg(msg) }

func Warnf(format string, args ...interface{}) { Logger.Warn().Msgf(format, args...) }

func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, args ...interface{}) { Logger.Error().Msgf(format, args...) }
