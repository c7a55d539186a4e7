package session

const (
	// TokenKey is the well-known storage key for the bearer token.
	TokenKey = "session.token"
	// legacyTokenKey is read for backward compatibility with earlier client
	// releases and removed alongside the primary key on Clear.
	legacyTokenKey = "token"
)

// TokenStore wraps a Storage with the bearer-token contract: reads never
// error, writes are best-effort, and everything no-ops outside a client
// execution context.
type TokenStore struct {
	storage Storage
	env     Environment
	logger  Logger
}

// TokenStoreOption customizes TokenStore construction.
type TokenStoreOption func(*TokenStore)

// WithTokenStoreEnvironment injects the client-context capability. The
// default assumes a client context.
func WithTokenStoreEnvironment(env Environment) TokenStoreOption {
	return func(ts *TokenStore) {
		if env != nil {
			ts.env = env
		}
	}
}

// WithTokenStoreLogger overrides the logger used for persistence failures.
func WithTokenStoreLogger(logger Logger) TokenStoreOption {
	return func(ts *TokenStore) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

func NewTokenStore(storage Storage, opts ...TokenStoreOption) *TokenStore {
	ts := &TokenStore{
		storage: storage,
		env:     StaticEnvironment(true),
		logger:  defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

// Get returns the stored bearer token. It falls back to the legacy key so
// sessions persisted by earlier releases keep working until the next Clear.
func (ts *TokenStore) Get() (string, bool) {
	if !ts.env.IsClient() {
		return "", false
	}
	if token, ok := ts.storage.Get(TokenKey); ok && token != "" {
		return token, true
	}
	if token, ok := ts.storage.Get(legacyTokenKey); ok && token != "" {
		return token, true
	}
	return "", false
}

// Set persists the token best-effort. A persistence failure is logged, never
// surfaced: the token stays valid for the current process regardless.
func (ts *TokenStore) Set(token string) {
	if !ts.env.IsClient() {
		return
	}
	if err := ts.storage.Set(TokenKey, token); err != nil {
		ts.logger.Warn("token persistence failed: %v", err)
	}
}

// Clear removes the primary and legacy token entries.
func (ts *TokenStore) Clear() {
	if !ts.env.IsClient() {
		return
	}
	if err := ts.storage.Delete(TokenKey); err != nil {
		ts.logger.Warn("token removal failed: %v", err)
	}
	if err := ts.storage.Delete(legacyTokenKey); err != nil {
		ts.logger.Warn("legacy token removal failed: %v", err)
	}
}
