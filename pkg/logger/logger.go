// Package logger wraps slog with the fields festpay binaries attach to every line.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for request ID.
	RequestIDKey contextKey = "request_id"
	// DeviceIDKey is the context key for the authenticated device ID.
	DeviceIDKey contextKey = "device_id"
)

// Logger is a structured logger wrapper around slog
type Logger struct {
	*slog.Logger
}

// Options controls handler selection. Zero values fall back to the env defaults.
type Options struct {
	// Format is "json" or "text"
	Format string
	// Level is one of debug, info, warn, error
	Level string
}

// New creates a logger for env, honouring FESTPAY_LOG_FORMAT and FESTPAY_LOG_LEVEL
func New(env string, output io.Writer) *Logger {
	return NewWithOptions(env, Options{
		Format: os.Getenv("FESTPAY_LOG_FORMAT"),
		Level:  os.Getenv("FESTPAY_LOG_LEVEL"),
	}, output)
}

// NewWithOptions creates a logger with explicit format and level overrides.
// Production defaults to JSON at info; everything else to text at debug.
func NewWithOptions(env string, opts Options, output io.Writer) *Logger {
	level := slog.LevelDebug
	format := "text"
	if env == "production" {
		level = slog.LevelInfo
		format = "json"
	}
	if opts.Format != "" {
		format = strings.ToLower(opts.Format)
	}
	if opts.Level != "" {
		if parsed, ok := parseLevel(opts.Level); ok {
			level = parsed
		}
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   true,
		ReplaceAttr: replaceAttr,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(output, handlerOpts)
	}

	return &Logger{Logger: slog.New(handler)}
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// replaceAttr renders times as RFC 3339 UTC with milliseconds and trims
// source paths to file:line
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
		}
	case slog.SourceKey:
		if src, ok := a.Value.Any().(*slog.Source); ok {
			file := src.File
			if idx := strings.LastIndex(file, "/"); idx >= 0 {
				file = file[idx+1:]
			}
			a.Value = slog.StringValue(fmt.Sprintf("%s:%d", file, src.Line))
		}
	}
	return a
}

// NewDefault creates a new logger with default settings (stdout)
func NewDefault(env string) *Logger {
	return New(env, os.Stdout)
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithContext adds the request and device IDs carried by ctx
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var args []any
	if requestID := ctx.Value(RequestIDKey); requestID != nil {
		args = append(args, "request_id", requestID)
	}
	if deviceID := ctx.Value(DeviceIDKey); deviceID != nil {
		args = append(args, "device_id", deviceID)
	}
	if len(args) == 0 {
		return l
	}
	return &Logger{Logger: l.With(args...)}
}

// WithField creates a new logger with an additional field
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{Logger: l.With(key, value)}
}

// Component returns a logger tagged with the component name
func (l *Logger) Component(name string) *Logger {
	return l.WithField("component", name)
}
