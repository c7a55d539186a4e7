package session_test

import (
	"context"
	"sync"

	session "github.com/sessionkit/go-session"
	"github.com/stretchr/testify/mock"
)

// MockIdentityService implements session.IdentityService
type MockIdentityService struct {
	mock.Mock
}

func (m *MockIdentityService) Login(ctx context.Context, identifier, secret string) (*session.Credentials, error) {
	args := m.Called(ctx, identifier, secret)
	var creds *session.Credentials
	if v := args.Get(0); v != nil {
		creds = v.(*session.Credentials)
	}
	return creds, args.Error(1)
}

func (m *MockIdentityService) Register(ctx context.Context, payload session.RegisterPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockIdentityService) Logout(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockIdentityService) Refresh(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityService) VerifyOTP(ctx context.Context, code, method string) (*session.Credentials, error) {
	args := m.Called(ctx, code, method)
	var creds *session.Credentials
	if v := args.Get(0); v != nil {
		creds = v.(*session.Credentials)
	}
	return creds, args.Error(1)
}

func (m *MockIdentityService) WhoAmI(ctx context.Context, token string) (*session.User, error) {
	args := m.Called(ctx, token)
	var user *session.User
	if v := args.Get(0); v != nil {
		user = v.(*session.User)
	}
	return user, args.Error(1)
}

// recordingNavigator captures redirect targets
type recordingNavigator struct {
	mu     sync.Mutex
	routes []string
}

func (n *recordingNavigator) Redirect(route string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
}

func (n *recordingNavigator) Routes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.routes))
	copy(out, n.routes)
	return out
}

// collectSink records activity events
type collectSink struct {
	mu     sync.Mutex
	events []session.ActivityEvent
}

func (s *collectSink) Record(_ context.Context, event session.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *collectSink) Events() []session.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]session.ActivityEvent, len(s.events))
	copy(out, s.events)
	return out
}

// failingStorage rejects every write
type failingStorage struct {
	err error
}

func (s *failingStorage) Get(string) (string, bool) { return "", false }
func (s *failingStorage) Set(string, string) error  { return s.err }
func (s *failingStorage) Delete(string) error       { return s.err }
