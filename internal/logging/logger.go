// Package logging provides the structured logger used throughout zvdev.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
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

// Config holds logging configuration
type Config struct {
	Level LogLevel
	// Format selects "text" (zerolog's ConsoleWriter) or "json" (raw
	// zerolog). Empty defaults to "text".
	Format string
	Output io.Writer
	// Sync forces unbuffered writes; zerolog writes synchronously to
	// Output already, so this only exists for teacher-style API
	// compatibility with callers that toggle it.
	Sync bool
	// NoColor disables ANSI colouring in the "text" ConsoleWriter.
	NoColor bool
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// Logger wraps a zerolog.Logger with the level-named methods the rest of
// the tree uses, so call sites don't need to know zerolog backs the
// default logger.
type Logger struct {
	zl    zerolog.Logger
	level LogLevel
	mu    *sync.Mutex
}

// NewLogger creates a new logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	if config.Format != "json" {
		output = zerolog.ConsoleWriter{Out: output, NoColor: config.NoColor || config.Format == "text"}
	}
	zl := zerolog.New(output).With().Timestamp().Logger().Level(config.Level.zerolog())
	return &Logger{zl: zl, level: config.Level, mu: &sync.Mutex{}}
}

// with returns a derived logger carrying an extra structured field,
// mirroring the teacher's per-device/per-queue logger wrapping.
func (l *Logger) with(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger(), level: l.level, mu: l.mu}
}

// WithDevice returns a logger that tags every message with device_id.
func (l *Logger) WithDevice(id uint32) *Logger { return l.with("device_id", id) }

// WithQueue returns a logger that tags every message with queue_id.
func (l *Logger) WithQueue(id uint16) *Logger { return l.with("queue_id", id) }

// WithRequest returns a logger that tags every message with tag and op,
// matching the per-zio debug context used around the completion path.
func (l *Logger) WithRequest(tag uint16, op string) *Logger {
	return &Logger{zl: l.zl.With().Uint16("tag", tag).Str("op", op).Logger(), level: l.level, mu: l.mu}
}

// WithError returns a logger that attaches err to every subsequent message.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().Err(err).Logger(), level: l.level, mu: l.mu}
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// withArgs attaches alternating key/value pairs to a zerolog event.
func withArgs(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	return e
}

func (l *Logger) Debug(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	withArgs(l.zl.Debug(), args).Msg(msg)
}

func (l *Logger) Info(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	withArgs(l.zl.Info(), args).Msg(msg)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	withArgs(l.zl.Warn(), args).Msg(msg)
}

func (l *Logger) Error(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	withArgs(l.zl.Error(), args).Msg(msg)
}

// Debugf, Infof, Warnf, Errorf are printf-style variants for call sites
// that format their own message.
func (l *Logger) Debugf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl.Error().Msgf(format, args...)
}

// Printf satisfies the Logger interface expected by public API callers
// that only know about printf-style logging.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Global convenience functions operating on the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
