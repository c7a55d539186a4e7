package session_test

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	session "github.com/sessionkit/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, session.Classify(nil))
	assert.Equal(t, "", session.ErrKind(nil))
	assert.Equal(t, "", session.ErrorMessage(nil))
}

func TestClassifyUnauthorized(t *testing.T) {
	err := &session.APIError{Operation: "who_am_i", Status: 401}

	rich := session.Classify(err)
	require.NotNil(t, rich)
	assert.Equal(t, session.KindUnauthorized, rich.TextCode)
	assert.Equal(t, goerrors.CategoryAuth, rich.Category)
	assert.Equal(t, "the credentials provided are invalid", rich.Message)
	assert.True(t, session.IsUnauthorized(err))
}

func TestClassifyInvalidRequestPrefersServiceMessage(t *testing.T) {
	err := &session.APIError{Operation: "register", Status: 409, Message: "identifier already in use"}

	rich := session.Classify(err)
	assert.Equal(t, session.KindInvalidRequest, rich.TextCode)
	assert.Equal(t, "identifier already in use", rich.Message)
	assert.Equal(t, 409, rich.Metadata["status"])
}

func TestClassifyServiceUnavailable(t *testing.T) {
	err := &session.APIError{Operation: "login", Status: 503}

	rich := session.Classify(err)
	assert.Equal(t, session.KindServiceUnavailable, rich.TextCode)
	assert.Equal(t, goerrors.CategoryOperation, rich.Category)
}

func TestClassifyTimeoutIsUnknown(t *testing.T) {
	rich := session.Classify(context.DeadlineExceeded)
	assert.Equal(t, session.KindUnknown, rich.TextCode)
}

func TestClassifyTransportFailureIsNetwork(t *testing.T) {
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	rich := session.Classify(opErr)
	assert.Equal(t, session.KindNetwork, rich.TextCode)
	assert.Equal(t, "unable to reach the authentication service", rich.Message)
}

func TestClassifyURLErrorIsNetwork(t *testing.T) {
	err := &url.Error{Op: "Post", URL: "http://identity.invalid/auth/login", Err: errors.New("no such host")}

	rich := session.Classify(err)
	assert.Equal(t, session.KindNetwork, rich.TextCode)
}

func TestClassifyDecodeFailureIsUnknown(t *testing.T) {
	err := &session.APIError{Operation: "login", Status: 200, Code: "invalid_response", Message: "failed to decode response"}

	rich := session.Classify(err)
	assert.Equal(t, session.KindUnknown, rich.TextCode)
}

func TestClassifyUnrecognizedErrorIsUnknown(t *testing.T) {
	rich := session.Classify(errors.New("boom"))
	assert.Equal(t, session.KindUnknown, rich.TextCode)
	assert.Equal(t, "an unexpected authentication error occurred", rich.Message)
}

func TestClassifyIsStableForClassifiedErrors(t *testing.T) {
	first := session.Classify(&session.APIError{Status: 401})
	second := session.Classify(first)
	assert.Equal(t, first.TextCode, second.TextCode)
}

func TestErrorMessageFallsBack(t *testing.T) {
	msg := session.ErrorMessage(errors.New("raw transport junk"))
	assert.Equal(t, "an unexpected authentication error occurred", msg)
}

func TestAPIErrorStringAndUnwrap(t *testing.T) {
	inner := errors.New("bad json")
	err := &session.APIError{Operation: "login", Status: 200, Code: "invalid_response", Message: "failed to decode response", Err: inner}

	assert.Contains(t, err.Error(), "identity login failed")
	assert.ErrorIs(t, err, inner)

	bare := &session.APIError{Operation: "refresh", Status: 500}
	assert.Contains(t, bare.Error(), "status 500")
}
