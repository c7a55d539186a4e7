package session

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventStatusChanged  ActivityEventType = "session.status.changed"
	ActivityEventLoginSuccess   ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure   ActivityEventType = "auth.login.failure"
	ActivityEventLogout         ActivityEventType = "auth.logout"
	ActivityEventTokenRefreshed ActivityEventType = "auth.token.refreshed"
	ActivityEventRefreshFailure ActivityEventType = "auth.token.refresh.failure"
	ActivityEventOTPSuccess     ActivityEventType = "auth.otp.success"
	ActivityEventOTPFailure     ActivityEventType = "auth.otp.failure"
)

// ActivityEvent captures audit-friendly information about a lifecycle
// action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	FromStatus Status
	ToStatus   Status
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sinks run best-effort: errors are logged, never propagated into the
// lifecycle operation that produced the event.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
