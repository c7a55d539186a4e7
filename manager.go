package session

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/singleflight"
)

const (
	defaultFetchTimeout  = 8 * time.Second
	defaultLogoutTimeout = 5 * time.Second
	defaultLoginRoute    = "/login"
)

// Manager is the auth operations facade. It is the only component permitted
// to mutate the TokenStore and the state machine; consumers read Snapshot
// and call the lifecycle verbs. Mutating operations are de-duplicated per
// operation kind through a single-flight group, so concurrent refreshes or
// bootstraps share one remote call instead of racing.
type Manager struct {
	svc          IdentityService
	tokens       *TokenStore
	machine      *SessionStateMachine
	navigator    Navigator
	logger       Logger
	activitySink ActivitySink
	group        singleflight.Group

	now           func() time.Time
	fetchTimeout  time.Duration
	logoutTimeout time.Duration
	loginRoute    string
}

// ManagerOption customizes Manager construction.
type ManagerOption func(*Manager)

// WithManagerLogger overrides the facade logger.
func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithNavigator sets the redirect facility invoked on terminal transitions.
func WithNavigator(nav Navigator) ManagerOption {
	return func(m *Manager) {
		if nav != nil {
			m.navigator = nav
		}
	}
}

// WithManagerActivitySink configures the sink receiving lifecycle events.
func WithManagerActivitySink(sink ActivitySink) ManagerOption {
	return func(m *Manager) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

// WithManagerClock injects a custom clock (useful for tests).
func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithFetchTimeout bounds the who-am-i call during bootstrap and refetch.
func WithFetchTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.fetchTimeout = d
		}
	}
}

// WithLogoutTimeout bounds the best-effort remote logout notification.
func WithLogoutTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.logoutTimeout = d
		}
	}
}

// WithLoginRoute sets the route passed to the Navigator after logout.
func WithLoginRoute(route string) ManagerOption {
	return func(m *Manager) {
		if route != "" {
			m.loginRoute = route
		}
	}
}

// WithStateMachine replaces the internally constructed state machine, e.g.
// to attach hooks, a clock, or an activity sink to the machine itself.
func WithStateMachine(machine *SessionStateMachine) ManagerOption {
	return func(m *Manager) {
		if machine != nil {
			m.machine = machine
		}
	}
}

func NewManager(svc IdentityService, tokens *TokenStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		svc:           svc,
		tokens:        tokens,
		machine:       NewSessionStateMachine(),
		navigator:     noopNavigator{},
		logger:        defLogger{},
		activitySink:  noopActivitySink{},
		now:           time.Now,
		fetchTimeout:  defaultFetchTimeout,
		logoutTimeout: defaultLogoutTimeout,
		loginRoute:    defaultLoginRoute,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Snapshot returns the current observable session state.
func (m *Manager) Snapshot() Snapshot {
	return m.machine.Snapshot()
}

// Status returns the current lifecycle status.
func (m *Manager) Status() Status {
	return m.machine.Status()
}

// Subscribe registers an observer receiving a snapshot after every applied
// transition.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	return m.machine.Subscribe()
}

// StateMachine exposes the underlying machine for read-side integrations.
func (m *Manager) StateMachine() *SessionStateMachine {
	return m.machine
}

// Login exchanges the primary-factor credentials for a session. On a
// two-factor challenge the partial user is held in PendingTwoFactor and no
// token is persisted. Failures are classified and returned, never thrown;
// the session settles Unauthenticated.
func (m *Manager) Login(ctx context.Context, payload LoginPayload) LoginResult {
	if err := payload.Validate(); err != nil {
		return LoginResult{Err: goerrors.Wrap(err, goerrors.CategoryValidation, err.Error()).
			WithTextCode(KindInvalidRequest).
			WithCode(goerrors.CodeBadRequest)}
	}

	v, _, _ := m.group.Do("login:"+payload.Identifier, func() (any, error) {
		return m.doLogin(ctx, payload), nil
	})
	return v.(LoginResult)
}

func (m *Manager) doLogin(ctx context.Context, payload LoginPayload) LoginResult {
	if _, err := m.machine.Transition(ctx, StatusLoading, WithTransitionReason("login")); err != nil {
		m.logger.Debug("login loading transition skipped: %v", err)
	}

	creds, err := m.svc.Login(ctx, payload.Identifier, payload.Secret)
	if err != nil {
		rich := Classify(err)
		if _, terr := m.machine.Transition(ctx, StatusUnauthenticated, WithTransitionReason("login failed")); terr != nil {
			m.logger.Warn("login failure transition error: %v", terr)
		}
		m.emit(ctx, ActivityEventLoginFailure, "", map[string]any{
			"identifier": payload.Identifier,
			"kind":       rich.TextCode,
			"error":      rich.Message,
		})
		return LoginResult{Err: rich}
	}

	if creds.RequiresTwoFactor {
		if _, terr := m.machine.Transition(ctx, StatusPendingTwoFactor,
			WithTransitionUser(creds.User),
			WithTransitionReason("second factor required"),
		); terr != nil {
			m.logger.Warn("pending 2fa transition error: %v", terr)
		}
		return LoginResult{Success: true, RequiresTwoFactor: true, User: creds.User}
	}

	// token persistence happens before the dependent transition so observers
	// never see Authenticated with an empty store
	m.tokens.Set(creds.Token)
	if _, terr := m.machine.Transition(ctx, StatusAuthenticated,
		WithTransitionUser(creds.User),
		WithTransitionToken(creds.Token),
		WithTransitionReason("login"),
	); terr != nil {
		m.logger.Error("login transition error: %v", terr)
	}

	m.emit(ctx, ActivityEventLoginSuccess, userID(creds.User), map[string]any{
		"identifier": payload.Identifier,
	})
	return LoginResult{Success: true, User: creds.User}
}

// Register creates an account. Registration and session establishment are
// decoupled: a successful registration changes no session state.
func (m *Manager) Register(ctx context.Context, payload RegisterPayload) RegisterResult {
	if err := payload.Validate(); err != nil {
		return RegisterResult{Err: goerrors.Wrap(err, goerrors.CategoryValidation, err.Error()).
			WithTextCode(KindInvalidRequest).
			WithCode(goerrors.CodeBadRequest)}
	}

	if err := m.svc.Register(ctx, payload); err != nil {
		return RegisterResult{Err: Classify(err)}
	}
	return RegisterResult{Success: true}
}

// Logout notifies the service best-effort under a short timeout, then
// unconditionally clears the local token and state and redirects to the
// login route. Local logout is never blocked by network failure. Calling it
// repeatedly is safe.
func (m *Manager) Logout(ctx context.Context) {
	m.group.Do("logout", func() (any, error) {
		m.doLogout(ctx)
		return nil, nil
	})
}

func (m *Manager) doLogout(ctx context.Context) {
	before := m.machine.Snapshot()

	// the snapshot token survives a failed best-effort persist, so prefer
	// it over the store for remote revocation
	token := before.Token
	if token == "" {
		token, _ = m.tokens.Get()
	}
	if token != "" {
		nctx, cancel := context.WithTimeout(ctx, m.logoutTimeout)
		defer cancel()
		if err := m.svc.Logout(nctx, token); err != nil {
			m.logger.Warn("remote logout failed: %v", err)
		}
	}

	m.tokens.Clear()
	if _, err := m.machine.Transition(ctx, StatusUnauthenticated, WithTransitionReason("logout")); err != nil {
		m.logger.Warn("logout transition error: %v", err)
	}

	m.emit(ctx, ActivityEventLogout, userID(before.User), nil)
	m.navigator.Redirect(m.loginRoute)
}

// RefreshAccessToken swaps the stored token in place without altering the
// user. Any failure cascades into Logout and returns false.
func (m *Manager) RefreshAccessToken(ctx context.Context) bool {
	v, _, _ := m.group.Do("refresh", func() (any, error) {
		return m.doRefresh(ctx), nil
	})
	return v.(bool)
}

func (m *Manager) doRefresh(ctx context.Context) bool {
	snapshot := m.machine.Snapshot()
	if !snapshot.IsAuthenticated() || snapshot.Token == "" {
		return false
	}

	newToken, err := m.svc.Refresh(ctx, snapshot.Token)
	if err != nil {
		rich := Classify(err)
		m.emit(ctx, ActivityEventRefreshFailure, userID(snapshot.User), map[string]any{
			"kind": rich.TextCode,
		})
		m.doLogout(ctx)
		return false
	}

	m.tokens.Set(newToken)
	if _, terr := m.machine.Transition(ctx, StatusAuthenticated,
		WithTransitionToken(newToken),
		WithTransitionReason("token refreshed"),
	); terr != nil {
		m.logger.Error("refresh transition error: %v", terr)
	}

	m.emit(ctx, ActivityEventTokenRefreshed, userID(snapshot.User), nil)
	return true
}

// VerifyOTP completes a pending two-factor login. It is only meaningful
// from PendingTwoFactor; anywhere else it is a no-op returning false. On
// failure the state is left unchanged so the caller may re-prompt.
func (m *Manager) VerifyOTP(ctx context.Context, code, method string) bool {
	if m.machine.Status() != StatusPendingTwoFactor {
		return false
	}

	v, _, _ := m.group.Do("verify-otp", func() (any, error) {
		return m.doVerifyOTP(ctx, code, method), nil
	})
	return v.(bool)
}

func (m *Manager) doVerifyOTP(ctx context.Context, code, method string) bool {
	snapshot := m.machine.Snapshot()
	if snapshot.Status != StatusPendingTwoFactor {
		return false
	}

	creds, err := m.svc.VerifyOTP(ctx, code, method)
	if err != nil {
		rich := Classify(err)
		m.emit(ctx, ActivityEventOTPFailure, userID(snapshot.User), map[string]any{
			"kind": rich.TextCode,
		})
		return false
	}

	m.tokens.Set(creds.Token)
	if _, terr := m.machine.Transition(ctx, StatusAuthenticated,
		WithTransitionUser(creds.User),
		WithTransitionToken(creds.Token),
		WithTransitionReason("second factor verified"),
	); terr != nil {
		m.logger.Error("otp transition error: %v", terr)
	}

	m.emit(ctx, ActivityEventOTPSuccess, userID(creds.User), nil)
	return true
}

// FetchUser is the bootstrap and refresh-identity primitive. With an empty
// token store it settles Unauthenticated without a network call. Otherwise
// the who-am-i endpoint is consulted under a bounded timeout; every failure
// fails closed to Unauthenticated with the stored token cleared.
func (m *Manager) FetchUser(ctx context.Context) Snapshot {
	v, _, _ := m.group.Do("fetch-user", func() (any, error) {
		return m.doFetchUser(ctx), nil
	})
	return v.(Snapshot)
}

// RefetchUser re-derives the current user from the service. Alias of
// FetchUser kept for call-site clarity.
func (m *Manager) RefetchUser(ctx context.Context) Snapshot {
	return m.FetchUser(ctx)
}

// Bootstrap runs the initial flow at application start: Idle moves through
// Loading and settles Authenticated or Unauthenticated depending on the
// stored token.
func (m *Manager) Bootstrap(ctx context.Context) Snapshot {
	return m.FetchUser(ctx)
}

func (m *Manager) doFetchUser(ctx context.Context) Snapshot {
	token, ok := m.tokens.Get()
	if !ok {
		snap, _ := m.machine.Transition(ctx, StatusUnauthenticated, WithTransitionReason("no stored token"))
		return snap
	}

	if _, err := m.machine.Transition(ctx, StatusLoading, WithTransitionReason("identity fetch")); err != nil {
		m.logger.Debug("fetch loading transition skipped: %v", err)
	}

	if tokenExpired(token, m.now()) {
		m.tokens.Clear()
		snap, _ := m.machine.Transition(ctx, StatusUnauthenticated, WithTransitionReason("stored token expired"))
		return snap
	}

	fctx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	user, err := m.svc.WhoAmI(fctx, token)
	if err != nil {
		rich := Classify(err)
		m.logger.Info("identity fetch failed (%s), failing closed", rich.TextCode)
		m.tokens.Clear()
		snap, _ := m.machine.Transition(ctx, StatusUnauthenticated,
			WithTransitionReason("identity fetch failed"),
			WithTransitionMetadata(map[string]any{"kind": rich.TextCode}),
		)
		return snap
	}

	snap, terr := m.machine.Transition(ctx, StatusAuthenticated,
		WithTransitionUser(user),
		WithTransitionToken(token),
		WithTransitionReason("identity fetch"),
	)
	if terr != nil {
		m.logger.Error("fetch transition error: %v", terr)
	}
	return snap
}

func (m *Manager) emit(ctx context.Context, eventType ActivityEventType, userID string, metadata map[string]any) {
	sink := normalizeActivitySink(m.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		UserID:    userID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}

	if err := sink.Record(ctx, event); err != nil {
		m.logger.Warn("activity sink record error: %v", err)
	}
}
