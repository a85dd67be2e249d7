// Package logger provides structured JSON logging on top of zerolog with a
// printf-style call surface and chainable field helpers.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger wraps a zerolog.Logger. Field helpers return derived loggers, so a
// Logger is safe to share and never mutated in place.
type Logger struct {
	zl zerolog.Logger
}

// Config for logger construction.
type Config struct {
	Level   Level
	Output  io.Writer
	Service string
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the default logger. Subsequent calls are no-ops.
func Init(cfg Config) {
	once.Do(func() {
		defaultLogger = New(cfg)
	})
}

// Default returns the default logger, initializing it lazily.
func Default() *Logger {
	if defaultLogger == nil {
		Init(Config{Level: LevelInfo, Service: "mailsweep"})
	}
	return defaultLogger
}

// New creates a logger writing JSON lines to the configured output.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	builder := zerolog.New(out).Level(cfg.Level.zerologLevel()).With().Timestamp()
	if cfg.Service != "" {
		builder = builder.Str("service", cfg.Service)
	}
	return &Logger{zl: builder.Logger()}
}

// WithField returns a derived logger carrying an additional field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithFields returns a derived logger carrying additional fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	builder := l.zl.With()
	for k, v := range fields {
		builder = builder.Interface(k, v)
	}
	return &Logger{zl: builder.Logger()}
}

// WithError attaches an error field. A nil error returns the logger as is.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

// WithDuration attaches an elapsed-time field in milliseconds.
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return &Logger{zl: l.zl.With().Float64("duration_ms", float64(d.Microseconds())/1000.0).Logger()}
}

func message(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

func (l *Logger) Debug(msg string, args ...any) { l.zl.Debug().Msg(message(msg, args)) }
func (l *Logger) Info(msg string, args ...any)  { l.zl.Info().Msg(message(msg, args)) }
func (l *Logger) Warn(msg string, args ...any)  { l.zl.Warn().Msg(message(msg, args)) }
func (l *Logger) Error(msg string, args ...any) { l.zl.Error().Msg(message(msg, args)) }

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, args ...any) { l.zl.Fatal().Msg(message(msg, args)) }

// Package-level functions using the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
func Fatal(msg string, args ...any) { Default().Fatal(msg, args...) }

func WithField(key string, value any) *Logger  { return Default().WithField(key, value) }
func WithFields(fields map[string]any) *Logger { return Default().WithFields(fields) }
func WithError(err error) *Logger              { return Default().WithError(err) }
func WithDuration(d time.Duration) *Logger     { return Default().WithDuration(d) }
