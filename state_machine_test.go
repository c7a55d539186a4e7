package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	session "github.com/sessionkit/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUser() *session.User {
	return &session.User{
		ID:       uuid.New(),
		Email:    "ada@example.com",
		Role:     session.RoleClient,
		FullName: "Ada Lovelace",
	}
}

// checkInvariant asserts the core session invariant: token implies user
// implies authenticated, and unauthenticated implies neither.
func checkInvariant(t *testing.T, snap session.Snapshot) {
	t.Helper()
	if snap.Token != "" {
		require.NotNil(t, snap.User, "token without user")
		require.Equal(t, session.StatusAuthenticated, snap.Status, "token outside authenticated state")
	}
	if snap.Status == session.StatusUnauthenticated {
		require.Nil(t, snap.User)
		require.Empty(t, snap.Token)
	}
}

func TestStateMachineStartsIdle(t *testing.T) {
	sm := session.NewSessionStateMachine()
	assert.Equal(t, session.StatusIdle, sm.Status())
	assert.Nil(t, sm.Snapshot().User)
	assert.Empty(t, sm.Snapshot().Token)
}

func TestStateMachineLoginFlow(t *testing.T) {
	sm := session.NewSessionStateMachine()
	user := testUser()

	_, err := sm.Transition(context.Background(), session.StatusLoading)
	require.NoError(t, err)

	snap, err := sm.Transition(context.Background(), session.StatusAuthenticated,
		session.WithTransitionUser(user),
		session.WithTransitionToken("tok-1"),
	)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAuthenticated, snap.Status)
	assert.Equal(t, user, snap.User)
	assert.Equal(t, "tok-1", snap.Token)
	assert.False(t, snap.RequiresTwoFactor)
	assert.Equal(t, []session.UserRole{session.RoleClient}, snap.Roles())
	checkInvariant(t, snap)
}

func TestStateMachineRejectsAuthenticatedWithoutToken(t *testing.T) {
	sm := session.NewSessionStateMachine()

	_, err := sm.Transition(context.Background(), session.StatusLoading)
	require.NoError(t, err)

	_, err = sm.Transition(context.Background(), session.StatusAuthenticated,
		session.WithTransitionUser(testUser()),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrInconsistentState)
	assert.Equal(t, session.StatusLoading, sm.Status(), "failed transition must not mutate state")
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	sm := session.NewSessionStateMachine()

	_, err := sm.Transition(context.Background(), session.StatusLoading)
	require.NoError(t, err)

	_, err = sm.Transition(context.Background(), session.StatusLoading)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
}

func TestStateMachineRejectsEmptyTarget(t *testing.T) {
	sm := session.NewSessionStateMachine()
	_, err := sm.Transition(context.Background(), session.Status(""))
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
}

func TestStateMachineUnauthenticatedWipesIdentity(t *testing.T) {
	sm := session.NewSessionStateMachine()

	_, err := sm.Transition(context.Background(), session.StatusAuthenticated,
		session.WithTransitionUser(testUser()),
		session.WithTransitionToken("tok-1"),
	)
	require.NoError(t, err)

	snap, err := sm.Transition(context.Background(), session.StatusUnauthenticated)
	require.NoError(t, err)
	assert.Nil(t, snap.User)
	assert.Empty(t, snap.Token)
	assert.Empty(t, snap.Roles())
	checkInvariant(t, snap)
}

func TestStateMachinePendingTwoFactorWithholdsToken(t *testing.T) {
	sm := session.NewSessionStateMachine()
	partial := testUser()

	snap, err := sm.Transition(context.Background(), session.StatusPendingTwoFactor,
		session.WithTransitionUser(partial),
	)
	require.NoError(t, err)
	assert.Equal(t, session.StatusPendingTwoFactor, snap.Status)
	assert.True(t, snap.RequiresTwoFactor)
	assert.Equal(t, partial, snap.User)
	assert.Empty(t, snap.Token)
	checkInvariant(t, snap)
}

func TestStateMachineAuthenticatedReplacesUserInPlace(t *testing.T) {
	sm := session.NewSessionStateMachine()
	first := testUser()

	_, err := sm.Transition(context.Background(), session.StatusAuthenticated,
		session.WithTransitionUser(first),
		session.WithTransitionToken("tok-1"),
	)
	require.NoError(t, err)

	replacement := testUser()
	snap, err := sm.Transition(context.Background(), session.StatusAuthenticated,
		session.WithTransitionUser(replacement),
	)
	require.NoError(t, err)
	assert.Equal(t, replacement, snap.User)
	assert.Equal(t, "tok-1", snap.Token, "token carried through a user replace")
}

func TestStateMachineForceTransitionBypassesTable(t *testing.T) {
	sm := session.NewSessionStateMachine()

	_, err := sm.Transition(context.Background(), session.StatusLoading)
	require.NoError(t, err)

	snap, err := sm.Transition(context.Background(), session.StatusLoading,
		session.WithForceTransition(),
	)
	require.NoError(t, err)
	assert.Equal(t, session.StatusLoading, snap.Status)
}

func TestStateMachineBeforeHookBlocksTransition(t *testing.T) {
	sm := session.NewSessionStateMachine()
	hookErr := errors.New("veto")

	_, err := sm.Transition(context.Background(), session.StatusLoading,
		session.WithBeforeTransitionHook(func(ctx context.Context, tc session.TransitionContext) error {
			return hookErr
		}),
	)
	require.Error(t, err)
	assert.Equal(t, session.StatusIdle, sm.Status())
}

func TestStateMachineAfterHookFailureDoesNotRevert(t *testing.T) {
	sm := session.NewSessionStateMachine()

	_, err := sm.Transition(context.Background(), session.StatusLoading,
		session.WithAfterTransitionHook(func(ctx context.Context, tc session.TransitionContext) error {
			return errors.New("sink down")
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, session.StatusLoading, sm.Status())
}

func TestStateMachineHooksSeeTransitionContext(t *testing.T) {
	sm := session.NewSessionStateMachine()
	var seen session.TransitionContext

	_, err := sm.Transition(context.Background(), session.StatusLoading,
		session.WithTransitionReason("bootstrap"),
		session.WithTransitionMetadata(map[string]any{"source": "test"}),
		session.WithBeforeTransitionHook(func(ctx context.Context, tc session.TransitionContext) error {
			seen = tc
			return nil
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, session.StatusIdle, seen.From)
	assert.Equal(t, session.StatusLoading, seen.To)
	assert.Equal(t, "bootstrap", seen.Meta.Reason)
	assert.Equal(t, "test", seen.Meta.Metadata["source"])
}

func TestStateMachinePublishesActivity(t *testing.T) {
	sink := &collectSink{}
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	sm := session.NewSessionStateMachine(
		session.WithStateMachineActivitySink(sink),
		session.WithStateMachineClock(func() time.Time { return now }),
	)

	_, err := sm.Transition(context.Background(), session.StatusLoading,
		session.WithTransitionReason("bootstrap"),
	)
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, session.ActivityEventStatusChanged, events[0].EventType)
	assert.Equal(t, session.StatusIdle, events[0].FromStatus)
	assert.Equal(t, session.StatusLoading, events[0].ToStatus)
	assert.Equal(t, "bootstrap", events[0].Metadata["reason"])
	assert.Equal(t, now, events[0].OccurredAt)
}

func TestStateMachineSerializesConcurrentTransitions(t *testing.T) {
	sm := session.NewSessionStateMachine()

	_, err := sm.Transition(context.Background(), session.StatusUnauthenticated)
	require.NoError(t, err)

	ch, cancelSub := sm.Subscribe()
	defer cancelSub()

	hookEntered := make(chan struct{})
	releaseHook := make(chan struct{})
	firstDone := make(chan struct{})

	go func() {
		defer close(firstDone)
		_, err := sm.Transition(context.Background(), session.StatusPendingTwoFactor,
			session.WithTransitionUser(testUser()),
			session.WithBeforeTransitionHook(func(ctx context.Context, tc session.TransitionContext) error {
				close(hookEntered)
				<-releaseHook
				return nil
			}),
		)
		assert.NoError(t, err)
	}()

	<-hookEntered

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		_, err := sm.Transition(context.Background(), session.StatusAuthenticated,
			session.WithTransitionUser(testUser()),
			session.WithTransitionToken("tok-1"),
		)
		assert.NoError(t, err)
	}()

	select {
	case <-secondDone:
		t.Fatal("a transition committed while another was still validating")
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseHook)
	<-firstDone
	<-secondDone

	// the parked transition commits first, the waiting one re-validates
	// against its result
	var seen []session.Status
	for len(seen) < 2 {
		select {
		case snap := <-ch:
			seen = append(seen, snap.Status)
		case <-time.After(time.Second):
			t.Fatal("expected both transition snapshots")
		}
	}
	assert.Equal(t, []session.Status{session.StatusPendingTwoFactor, session.StatusAuthenticated}, seen)
	assert.Equal(t, session.StatusAuthenticated, sm.Status())
}

func TestStateMachineSubscribe(t *testing.T) {
	sm := session.NewSessionStateMachine()
	ch, cancel := sm.Subscribe()

	_, err := sm.Transition(context.Background(), session.StatusLoading)
	require.NoError(t, err)

	select {
	case snap := <-ch:
		assert.Equal(t, session.StatusLoading, snap.Status)
	case <-time.After(time.Second):
		t.Fatal("expected a snapshot on the subscription channel")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open, "cancel must close the channel")
}
