package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Record field names shared with downstream log aggregation. Renaming any of these breaks
// the aggregation contract.
const (
	FieldTimestamp     = "timestamp"
	FieldLevel         = "level"
	FieldMessage       = "message"
	FieldCorrelationID = "correlation_id"
	FieldComponent     = "component"
	FieldDurationMs    = "duration_ms"
	FieldErrorType     = "error_type"
	FieldErrorCode     = "error_code"
	FieldMetadata      = "metadata"
)

// NewLogger returns a slog.Logger configured for the desired verbosity and format.
func NewLogger(level string, json bool) *slog.Logger {
	return NewLoggerTo(os.Stdout, level, json)
}

// NewLoggerTo is NewLogger writing to w.
func NewLoggerTo(w io.Writer, level string, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level), ReplaceAttr: contractAttrs}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// ParseLevel maps a level name onto a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contractAttrs renames the built-in slog keys to the aggregation field names and renders
// the timestamp as ISO-8601 UTC.
func contractAttrs(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		return slog.String(FieldTimestamp, FormatTimestamp(a.Value.Time()))
	case slog.MessageKey:
		return slog.String(FieldMessage, a.Value.String())
	case slog.LevelKey:
		return slog.String(FieldLevel, strings.ToLower(a.Value.String()))
	}
	return a
}
