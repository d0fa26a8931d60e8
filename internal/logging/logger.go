// Package logging provides structured, leveled logging shared by the
// core-bus server, GG-IPC gateway, and component daemons.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Logger wraps stdlib log with level support and a chain of bound
// key-value fields, so a handler can derive a child logger scoped to one
// client/call/stream without repeating its identifiers at every call site.
type Logger struct {
	logger *log.Logger
	level  LogLevel
	format string
	fields []any // flat key, value, key, value... pairs bound via With*
	mu     *sync.Mutex
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Config holds logging configuration. Format is "text" (default) or
// "json"; NoColor is accepted for CLI parity but text output is always
// plain since core-bus/GG-IPC logs are typically journald-captured.
type Config struct {
	Level   LogLevel
	Output  io.Writer
	Format  string
	Sync    bool
	NoColor bool
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Output: os.Stderr,
		Format: "text",
	}
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
	format := config.Format
	if format == "" {
		format = "text"
	}
	return &Logger{
		logger: log.New(output, "", log.LstdFlags),
		level:  config.Level,
		format: format,
		mu:     &sync.Mutex{},
	}
}

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

// With returns a child logger with key/value appended to every subsequent
// call's fields, alongside whatever fields were already bound.
func (l *Logger) With(key string, value any) *Logger {
	fields := make([]any, len(l.fields), len(l.fields)+2)
	copy(fields, l.fields)
	fields = append(fields, key, value)
	return &Logger{logger: l.logger, level: l.level, format: l.format, fields: fields, mu: l.mu}
}

// WithClient scopes a logger to one connected core-bus/GG-IPC client handle
// (spec §4.5 "per-connection state").
func (l *Logger) WithClient(clientHandle uint32) *Logger {
	return l.With("client", clientHandle)
}

// WithStream scopes a logger to one GG-IPC multiplexed stream id
// (spec §4.3 "stream-id multiplexing").
func (l *Logger) WithStream(streamID uint32) *Logger {
	return l.With("stream", streamID)
}

// WithCall scopes a logger to one in-flight core-bus RPC (spec §4.2).
func (l *Logger) WithCall(handle uint32, iface, method string) *Logger {
	return l.With("handle", handle).With("interface", iface).With("method", method)
}

// WithError binds an error to the logger's fields for later Error() calls.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With("error", err.Error())
}

// formatArgs converts key-value pairs to a string
func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%v=%v", args[i], args[i+1])
		}
	}
	if b.Len() > 0 {
		return " " + b.String()
	}
	return ""
}

func (l *Logger) allArgs(args []any) []any {
	if len(l.fields) == 0 {
		return args
	}
	all := make([]any, 0, len(l.fields)+len(args))
	all = append(all, l.fields...)
	all = append(all, args...)
	return all
}

func (l *Logger) log(level LogLevel, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	all := l.allArgs(args)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.format == "json" {
		l.logJSON(level, msg, all)
		return
	}
	l.logger.Printf("%s %s%s", prefix, msg, formatArgs(all))
}

func (l *Logger) logJSON(level LogLevel, msg string, args []any) {
	entry := map[string]any{"level": level.String(), "msg": msg}
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			entry[key] = args[i+1]
		}
	}
	line, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s (log encoding failed: %v)", level, msg, err)
		return
	}
	l.logger.Output(2, string(line)) //nolint:errcheck
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, "[INFO]", msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, "[WARN]", msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, "[ERROR]", msg, args...)
}

// Printf-style logging
func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, "[INFO]", fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, "[WARN]", fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, "[ERROR]", fmt.Sprintf(format, args...))
}

// Printf for compatibility
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Global convenience functions
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
