// Package logging provides structured JSON logging for the kriging
// regression server.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"
)

// LogLevel represents the severity of a log entry.
type LogLevel string

const (
	// DebugLevel logs trace the factorization cache and request flow; they
	// are disabled outside development.
	DebugLevel LogLevel = "DEBUG"
	// InfoLevel is the default logging priority.
	InfoLevel LogLevel = "INFO"
	// WarnLevel logs flag conditions worth noticing but not alerting on.
	WarnLevel LogLevel = "WARN"
	// ErrorLevel logs report failed operations.
	ErrorLevel LogLevel = "ERROR"
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel LogLevel = "FATAL"
)

// severity orders levels for filtering. Unknown levels never pass the
// filter.
func severity(level LogLevel) (int, bool) {
	switch level {
	case DebugLevel:
		return 0, true
	case InfoLevel:
		return 1, true
	case WarnLevel:
		return 2, true
	case ErrorLevel:
		return 3, true
	case FatalLevel:
		return 4, true
	}
	return 0, false
}

// Logger writes one JSON object per log entry to a single output.
// Loggers are immutable; the With methods return derived loggers sharing
// the same level and output.
type Logger struct {
	level  LogLevel
	output io.Writer
	fields map[string]interface{}
}

// New creates a Logger that writes entries of at least the given level.
func New(level LogLevel, output io.Writer) *Logger {
	return &Logger{
		level:  level,
		output: output,
		fields: map[string]interface{}{},
	}
}

// WithFields returns a derived Logger carrying the given fields on every
// entry, in addition to the fields already present.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{level: l.level, output: l.output, fields: merged}
}

// WithField returns a derived Logger carrying one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithError returns a derived Logger with the error field set.
func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err.Error())
}

// shouldLog reports whether an entry of the given level passes the
// logger's level filter.
func (l *Logger) shouldLog(level LogLevel) bool {
	entry, ok := severity(level)
	if !ok {
		return false
	}
	min, ok := severity(l.level)
	if !ok {
		return false
	}
	return entry >= min
}

// callerLocation returns the file:line of the log call site, trimmed to
// the last two path elements.
func callerLocation(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???:0"
	}
	if parts := strings.Split(file, "/"); len(parts) > 2 {
		file = strings.Join(parts[len(parts)-2:], "/")
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// log writes one entry. The per-call fields override the logger's bound
// fields on key collision.
func (l *Logger) log(level LogLevel, msg string, fields map[string]interface{}) {
	if !l.shouldLog(level) {
		return
	}

	entry := make(map[string]interface{}, len(l.fields)+len(fields)+4)
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level
	entry["message"] = msg
	entry["caller"] = callerLocation(3)
	// Field values win over the standard keys, so callers that know a
	// better caller location (the zap adapter does) may set it.
	for k, v := range l.fields {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}

	line, err := json.Marshal(entry)
	if err != nil {
		// Fall back to a plain line rather than dropping the entry.
		fmt.Fprintf(l.output, "%s [%s] %s\n", time.Now().Format(time.RFC3339), level, msg)
		return
	}
	_, _ = l.output.Write(append(line, '\n'))

	if level == FatalLevel {
		os.Exit(1)
	}
}

func variadic(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	return fields[0]
}

// Debug logs a message at DebugLevel.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(DebugLevel, msg, variadic(fields))
}

// Info logs a message at InfoLevel.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(InfoLevel, msg, variadic(fields))
}

// Warn logs a message at WarnLevel.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(WarnLevel, msg, variadic(fields))
}

// Error logs a message at ErrorLevel.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(ErrorLevel, msg, variadic(fields))
}

// Fatal logs a message at FatalLevel then calls os.Exit(1).
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) {
	l.log(FatalLevel, msg, variadic(fields))
}

// CtxLogger is a logger carried through a context.
type CtxLogger struct {
	*Logger
}

// FromContext returns the logger stored in ctx, or an info-level stderr
// logger when none is present.
func FromContext(ctx context.Context) *CtxLogger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*CtxLogger); ok {
		return logger
	}
	return &CtxLogger{New(InfoLevel, os.Stderr)}
}

// WithContext returns a new context carrying the logger.
func (l *CtxLogger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, l)
}

type ctxLoggerKey struct{}
