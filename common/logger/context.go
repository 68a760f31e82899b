package logger

import (
	"context"
	"log/slog"
	"unicode/utf8"
)

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// A transport sets the session and chat once per update; deeper layers add
// the turn id and phase as they learn them.
type LogFields struct {
	SessionKey    *string // Session store key
	ChatID        *int64  // Chat platform chat id
	UserTag       *string // Human-readable "id (name @username)"
	CorrelationID *string // Snowflake id of the inbound update
	TurnID        *string // Model turn identity threaded into the next request
	Phase         *string // Dialogue phase at the start of the transition
	Component     string  // Component name, e.g. "smeta.dialogue"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.SessionKey != nil {
		result.SessionKey = new.SessionKey
	}
	if new.ChatID != nil {
		result.ChatID = new.ChatID
	}
	if new.UserTag != nil {
		result.UserTag = new.UserTag
	}
	if new.CorrelationID != nil {
		result.CorrelationID = new.CorrelationID
	}
	if new.TurnID != nil {
		result.TurnID = new.TurnID
	}
	if new.Phase != nil {
		result.Phase = new.Phase
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

func (f LogFields) attrs() []slog.Attr {
	var attrs []slog.Attr
	if f.SessionKey != nil {
		attrs = append(attrs, slog.String("session_key", *f.SessionKey))
	}
	if f.ChatID != nil {
		attrs = append(attrs, slog.Int64("chat_id", *f.ChatID))
	}
	if f.UserTag != nil {
		attrs = append(attrs, slog.String("user", *f.UserTag))
	}
	if f.CorrelationID != nil {
		attrs = append(attrs, slog.String("correlation_id", *f.CorrelationID))
	}
	if f.TurnID != nil {
		attrs = append(attrs, slog.String("turn_id", *f.TurnID))
	}
	if f.Phase != nil {
		attrs = append(attrs, slog.String("phase", *f.Phase))
	}
	if f.Component != "" {
		attrs = append(attrs, slog.String("component", f.Component))
	}
	return attrs
}

// Ptr is a helper to create a pointer from a value.
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates s to at most maxLen bytes without splitting a rune,
// appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
