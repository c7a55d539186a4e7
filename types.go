package session

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Environment reports whether the process is running in a client execution
// context. Token persistence and navigation are only meaningful on a client;
// everywhere else the session manager degrades to safe no-ops.
type Environment interface {
	IsClient() bool
}

// StaticEnvironment is a fixed Environment answer, useful for servers,
// tests, and build-time wiring.
type StaticEnvironment bool

func (e StaticEnvironment) IsClient() bool { return bool(e) }

// Navigator performs terminal-transition redirects (e.g. back to the login
// view after logout).
type Navigator interface {
	Redirect(route string)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(route string)

func (f NavigatorFunc) Redirect(route string) {
	if f != nil {
		f(route)
	}
}

type noopNavigator struct{}

func (noopNavigator) Redirect(string) {}

// IdentityService is the remote identity provider consumed by the Manager.
// Implementations return transport or API errors as-is; classification into
// the session error taxonomy happens in Classify.
type IdentityService interface {
	Login(ctx context.Context, identifier, secret string) (*Credentials, error)
	Register(ctx context.Context, payload RegisterPayload) error
	Logout(ctx context.Context, token string) error
	Refresh(ctx context.Context, token string) (string, error)
	VerifyOTP(ctx context.Context, code, method string) (*Credentials, error)
	WhoAmI(ctx context.Context, token string) (*User, error)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSION "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSION "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
