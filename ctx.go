package session

import "context"

var userCtxKey = &contextKey{"user"}
var snapshotCtxKey = &contextKey{"snapshot"}

type contextKey struct {
	name string
}

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok
}

// WithSnapshotContext sets the session Snapshot in the given context
func WithSnapshotContext(r context.Context, snapshot Snapshot) context.Context {
	return context.WithValue(r, snapshotCtxKey, snapshot)
}

// SnapshotFromContext extracts the session Snapshot from the context
func SnapshotFromContext(ctx context.Context) (Snapshot, bool) {
	raw, ok := ctx.Value(snapshotCtxKey).(Snapshot)
	return raw, ok
}

// HasRole is a convenience check against the user carried by the context.
func HasRole(ctx context.Context, role UserRole) bool {
	user, ok := FromContext(ctx)
	if !ok || user == nil {
		return false
	}
	return user.Role == role
}

// IsAtLeast reports whether the context user's role meets the minimum
// required level.
func IsAtLeast(ctx context.Context, minRole UserRole) bool {
	user, ok := FromContext(ctx)
	if !ok || user == nil {
		return false
	}
	return user.Role.IsAtLeast(minRole)
}
