// Package session manages the client side of an authenticated session
// against a remote identity service: establishing it, persisting the bearer
// token, refreshing it, and tearing it down.
//
// Session lifecycle:
//   - SessionStateMachine holds the authoritative in-memory state (Idle,
//     Loading, Authenticated, Unauthenticated, PendingTwoFactor) behind a
//     transition table, with hooks and an injectable clock. Consumers read
//     snapshots or subscribe for updates; only the Manager mutates it.
//   - Manager is the operations facade: Login, Register, Logout,
//     RefreshAccessToken, VerifyOTP, and FetchUser/Bootstrap. Every
//     operation classifies its failures and returns structured results, so
//     callers never need error recovery to use the subsystem correctly.
//     Mutating operations are de-duplicated through a single-flight group.
//
// Token persistence:
//   - TokenStore wraps a Storage (file-backed or in-memory) with the bearer
//     token contract: reads never error, writes are best-effort and logged
//     on failure, and everything no-ops outside a client execution context
//     as reported by the injected Environment.
//
// Error taxonomy:
//   - Classify normalizes transport and HTTP failures into five kinds
//     (NETWORK, UNAUTHORIZED, INVALID_REQUEST, SERVICE_UNAVAILABLE,
//     UNKNOWN) carried as text codes on structured errors. Unauthorized
//     failures during authenticated calls invalidate the session; bootstrap
//     and refresh fail closed to Unauthenticated.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter fed by the Manager and
//     the state machine for login, logout, refresh, OTP, and status-change
//     events. Sinks run best-effort (errors are logged) so telemetry never
//     blocks authentication.
package session
