package session

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeInvalidTransition = "INVALID_SESSION_STATE_TRANSITION"
	textCodeInconsistentState = "INCONSISTENT_SESSION_STATE"
)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid session state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrInconsistentState is returned when a transition would violate the
// session invariant (an authenticated session always has a user and a token).
var ErrInconsistentState = goerrors.New("authenticated session requires user and token", goerrors.CategoryInternal).
	WithTextCode(textCodeInconsistentState).
	WithCode(goerrors.CodeInternal)

// Status is the session lifecycle status.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusLoading          Status = "loading"
	StatusAuthenticated    Status = "authenticated"
	StatusUnauthenticated  Status = "unauthenticated"
	StatusPendingTwoFactor Status = "pending_2fa"
)

// Snapshot is the observable session state. Consumers must treat it as
// read-only; only the Manager mutates the machine that produces it.
type Snapshot struct {
	Status            Status
	User              *User
	Token             string
	RequiresTwoFactor bool
}

// Roles returns the derived role set: the single role of the current user,
// empty when no user is attached.
func (s Snapshot) Roles() []UserRole {
	if s.User == nil || s.User.Role == "" {
		return nil
	}
	return []UserRole{s.User.Role}
}

// IsAuthenticated reports whether the session holds a fully established
// identity.
func (s Snapshot) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	From Status
	To   Status
	Next Snapshot
	Meta TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*SessionStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *SessionStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish
// lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *SessionStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *SessionStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionUser attaches the user carried into the target state.
func WithTransitionUser(user *User) TransitionOption {
	return func(opts *transitionOptions) {
		opts.user = user
		opts.userSet = true
	}
}

// WithTransitionToken attaches the token carried into the target state.
func WithTransitionToken(token string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.token = token
		opts.tokenSet = true
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithForceTransition bypasses the transition table (use sparingly).
func WithForceTransition() TransitionOption {
	return func(opts *transitionOptions) {
		opts.force = true
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// SessionStateMachine holds the authoritative in-memory session state. It is
// created once per process with StatusIdle and lives for the process's
// duration.
type SessionStateMachine struct {
	mu           sync.RWMutex
	transitionMu sync.Mutex
	current      Snapshot
	transitions  map[Status]map[Status]struct{}

	now          func() time.Time
	activitySink ActivitySink
	logger       Logger

	subMu       sync.Mutex
	subscribers map[int]chan Snapshot
	nextSubID   int
}

type transitionOptions struct {
	user        *User
	userSet     bool
	token       string
	tokenSet    bool
	metadata    TransitionMetadata
	force       bool
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func NewSessionStateMachine(opts ...StateMachineOption) *SessionStateMachine {
	sm := &SessionStateMachine{
		current: Snapshot{Status: StatusIdle},
		transitions: map[Status]map[Status]struct{}{
			StatusIdle: {
				StatusLoading:          {},
				StatusAuthenticated:    {},
				StatusUnauthenticated:  {},
				StatusPendingTwoFactor: {},
			},
			StatusLoading: {
				StatusAuthenticated:    {},
				StatusUnauthenticated:  {},
				StatusPendingTwoFactor: {},
			},
			StatusUnauthenticated: {
				StatusLoading:          {},
				StatusAuthenticated:    {},
				StatusUnauthenticated:  {},
				StatusPendingTwoFactor: {},
			},
			StatusPendingTwoFactor: {
				StatusLoading:         {},
				StatusAuthenticated:   {},
				StatusUnauthenticated: {},
			},
			StatusAuthenticated: {
				StatusLoading:         {},
				StatusAuthenticated:   {},
				StatusUnauthenticated: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		subscribers:  map[int]chan Snapshot{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

// Snapshot returns a copy of the current session state.
func (sm *SessionStateMachine) Snapshot() Snapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Status returns the current lifecycle status.
func (sm *SessionStateMachine) Status() Status {
	return sm.Snapshot().Status
}

// Subscribe registers an observer channel that receives a snapshot after
// every applied transition. Slow consumers miss intermediate snapshots
// rather than blocking the machine. The returned cancel function releases
// the subscription.
func (sm *SessionStateMachine) Subscribe() (<-chan Snapshot, func()) {
	sm.subMu.Lock()
	defer sm.subMu.Unlock()

	id := sm.nextSubID
	sm.nextSubID++
	ch := make(chan Snapshot, 16)
	sm.subscribers[id] = ch

	cancel := func() {
		sm.subMu.Lock()
		defer sm.subMu.Unlock()
		if existing, ok := sm.subscribers[id]; ok {
			delete(sm.subscribers, id)
			close(existing)
		}
	}

	return ch, cancel
}

// Transition moves the machine to the target status, applying the user and
// token carried by the options. Illegal transitions and invariant
// violations are rejected without mutating state. Transitions are fully
// serialized: validation, hooks, and commit run atomically with respect to
// other transitions, so the table check always sees the state it commits
// over.
func (sm *SessionStateMachine) Transition(ctx context.Context, target Status, opts ...TransitionOption) (Snapshot, error) {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	if target == "" {
		return sm.Snapshot(), ErrInvalidTransition.WithMetadata(map[string]any{
			"reason": "target status is empty",
		})
	}

	sm.transitionMu.Lock()
	defer sm.transitionMu.Unlock()

	from := sm.Snapshot().Status
	if !options.force && !sm.canTransition(from, target) {
		return sm.Snapshot(), ErrInvalidTransition.WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	next, err := buildSnapshot(sm.Snapshot(), target, options)
	if err != nil {
		return sm.Snapshot(), err
	}

	tc := TransitionContext{
		From: from,
		To:   target,
		Next: next,
		Meta: options.metadata,
	}

	for _, hook := range options.beforeHooks {
		if err := hook(ctx, tc); err != nil {
			return sm.Snapshot(), goerrors.Wrap(err, goerrors.CategoryOperation, "before transition hook failed")
		}
	}

	sm.mu.Lock()
	sm.current = next
	sm.mu.Unlock()

	for _, hook := range options.afterHooks {
		if err := hook(ctx, tc); err != nil {
			sm.logger.Warn("after transition hook error: %v", err)
		}
	}

	sm.notify(next)
	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventStatusChanged,
		UserID:     userID(next.User),
		FromStatus: from,
		ToStatus:   target,
		Metadata:   transitionMetadata(options.metadata),
	})

	return next, nil
}

func (sm *SessionStateMachine) canTransition(from, to Status) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// buildSnapshot derives the next snapshot from the current one. Token and
// user semantics per target:
//   - Unauthenticated wipes everything
//   - Loading carries the current identity through the network call
//   - PendingTwoFactor holds a partial user and withholds the token
//   - Authenticated requires both user and token
func buildSnapshot(current Snapshot, target Status, opts *transitionOptions) (Snapshot, error) {
	next := Snapshot{Status: target}

	switch target {
	case StatusUnauthenticated, StatusIdle:
		return next, nil

	case StatusLoading:
		next.User = current.User
		next.Token = current.Token
		return next, nil

	case StatusPendingTwoFactor:
		next.User = current.User
		if opts.userSet {
			next.User = opts.user
		}
		next.RequiresTwoFactor = true
		return next, nil

	case StatusAuthenticated:
		next.User = current.User
		next.Token = current.Token
		if opts.userSet {
			next.User = opts.user
		}
		if opts.tokenSet {
			next.Token = opts.token
		}
		if next.User == nil || next.Token == "" {
			return current, ErrInconsistentState.WithMetadata(map[string]any{
				"has_user":  next.User != nil,
				"has_token": next.Token != "",
			})
		}
		return next, nil

	default:
		return current, ErrInvalidTransition.WithMetadata(map[string]any{
			"to": target,
		})
	}
}

func (sm *SessionStateMachine) notify(snapshot Snapshot) {
	sm.subMu.Lock()
	defer sm.subMu.Unlock()

	for _, ch := range sm.subscribers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func (sm *SessionStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}

func transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}

func userID(user *User) string {
	if user == nil {
		return ""
	}
	return user.ID.String()
}
