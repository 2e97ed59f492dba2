package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields. Values stored under these keys are
// added by the package handler to every record logged with that context.
const (
	// ContextKeySessionID identifies the voice session.
	ContextKeySessionID contextKey = "session_id"

	// ContextKeyRoomID identifies the shared interview room.
	ContextKeyRoomID contextKey = "room_id"

	// ContextKeyTurnID identifies the current turn.
	ContextKeyTurnID contextKey = "turn_id"

	// ContextKeyConnectionID identifies one socket connection.
	ContextKeyConnectionID contextKey = "connection_id"

	// ContextKeyParticipant is the participant role (candidate or interviewer).
	ContextKeyParticipant contextKey = "participant"

	// ContextKeyInstanceID identifies this server instance.
	ContextKeyInstanceID contextKey = "instance_id"
)

// allContextKeys lists all context keys that should be extracted for logging.
var allContextKeys = []contextKey{
	ContextKeySessionID,
	ContextKeyRoomID,
	ContextKeyTurnID,
	ContextKeyConnectionID,
	ContextKeyParticipant,
	ContextKeyInstanceID,
}

// WithSessionID returns a new context with the session ID set.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithRoomID returns a new context with the room ID set.
func WithRoomID(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, ContextKeyRoomID, roomID)
}

// WithTurnID returns a new context with the turn ID set.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, ContextKeyTurnID, turnID)
}

// WithConnectionID returns a new context with the connection ID set.
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, ContextKeyConnectionID, connectionID)
}

// WithParticipant returns a new context with the participant role set.
func WithParticipant(ctx context.Context, participant string) context.Context {
	return context.WithValue(ctx, ContextKeyParticipant, participant)
}

// WithInstanceID returns a new context with the server instance ID set.
func WithInstanceID(ctx context.Context, instanceID string) context.Context {
	return context.WithValue(ctx, ContextKeyInstanceID, instanceID)
}

// LoggingFields holds the standard fields for a session-scoped context.
type LoggingFields struct {
	SessionID    string
	RoomID       string
	TurnID       string
	ConnectionID string
	Participant  string
}

// WithLoggingContext returns a new context with multiple logging fields set at once.
// Only non-empty values are set.
func WithLoggingContext(ctx context.Context, fields *LoggingFields) context.Context {
	if fields == nil {
		return ctx
	}
	if fields.SessionID != "" {
		ctx = WithSessionID(ctx, fields.SessionID)
	}
	if fields.RoomID != "" {
		ctx = WithRoomID(ctx, fields.RoomID)
	}
	if fields.TurnID != "" {
		ctx = WithTurnID(ctx, fields.TurnID)
	}
	if fields.ConnectionID != "" {
		ctx = WithConnectionID(ctx, fields.ConnectionID)
	}
	if fields.Participant != "" {
		ctx = WithParticipant(ctx, fields.Participant)
	}
	return ctx
}

// ExtractLoggingFields reads all known logging fields from ctx.
func ExtractLoggingFields(ctx context.Context) LoggingFields {
	var f LoggingFields
	if ctx == nil {
		return f
	}
	f.SessionID, _ = ctx.Value(ContextKeySessionID).(string)
	f.RoomID, _ = ctx.Value(ContextKeyRoomID).(string)
	f.TurnID, _ = ctx.Value(ContextKeyTurnID).(string)
	f.ConnectionID, _ = ctx.Value(ContextKeyConnectionID).(string)
	f.Participant, _ = ctx.Value(ContextKeyParticipant).(string)
	return f
}
