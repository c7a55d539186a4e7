package session

import (
	"context"
	"errors"
	"net"
	"net/url"

	goerrors "github.com/goliatone/go-errors"
)

// Kind text codes attached to every classified error. They are the stable
// vocabulary callers should branch on; categories and HTTP codes are carried
// for interop with the rest of the error stack.
const (
	KindNetwork            = "NETWORK"
	KindUnauthorized       = "UNAUTHORIZED"
	KindInvalidRequest     = "INVALID_REQUEST"
	KindServiceUnavailable = "SERVICE_UNAVAILABLE"
	KindUnknown            = "UNKNOWN"
)

const (
	msgNetwork            = "unable to reach the authentication service"
	msgUnauthorized       = "the credentials provided are invalid"
	msgInvalidRequest     = "the request was rejected by the authentication service"
	msgServiceUnavailable = "the authentication service is temporarily unavailable"
	msgUnknown            = "an unexpected authentication error occurred"
)

// ErrNoStoredToken is returned by flows that need a persisted token when the
// store is empty.
var ErrNoStoredToken = goerrors.New("no stored session token", goerrors.CategoryAuth).
	WithTextCode(KindUnauthorized).
	WithCode(goerrors.CodeUnauthorized)

// Classify normalizes heterogeneous transport and HTTP failures into the
// session error taxonomy. It is pure: no logging, no state mutation. The
// Message on the returned error is suitable for direct display and prefers
// the service-provided message over the generic fallback.
func Classify(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && isKind(rich.TextCode) {
		return rich
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}

	if isTimeout(err) {
		return goerrors.Wrap(err, goerrors.CategoryOperation, msgUnknown).
			WithTextCode(KindUnknown).
			WithCode(goerrors.CodeInternal)
	}

	if isTransportFailure(err) {
		return goerrors.Wrap(err, goerrors.CategoryOperation, msgNetwork).
			WithTextCode(KindNetwork).
			WithCode(goerrors.CodeInternal)
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, msgUnknown).
		WithTextCode(KindUnknown).
		WithCode(goerrors.CodeInternal)
}

// ErrKind returns the taxonomy kind for err, classifying it first when
// needed. Returns an empty string for nil errors.
func ErrKind(err error) string {
	if err == nil {
		return ""
	}
	return Classify(err).TextCode
}

// IsUnauthorized reports whether err classifies as a session-invalidating
// 401 failure.
func IsUnauthorized(err error) bool {
	return ErrKind(err) == KindUnauthorized
}

// ErrorMessage returns a display-safe message for err.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if rich := Classify(err); rich.Message != "" {
		return rich.Message
	}
	return msgUnknown
}

func classifyAPIError(apiErr *APIError) *goerrors.Error {
	meta := map[string]any{"status": apiErr.Status}
	if apiErr.Operation != "" {
		meta["operation"] = apiErr.Operation
	}

	switch {
	case apiErr.Status == 401:
		return goerrors.Wrap(apiErr, goerrors.CategoryAuth, displayMessage(apiErr, msgUnauthorized)).
			WithTextCode(KindUnauthorized).
			WithCode(goerrors.CodeUnauthorized).
			WithMetadata(meta)
	case apiErr.Status >= 400 && apiErr.Status < 500:
		return goerrors.Wrap(apiErr, goerrors.CategoryBadInput, displayMessage(apiErr, msgInvalidRequest)).
			WithTextCode(KindInvalidRequest).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(meta)
	case apiErr.Status >= 500:
		return goerrors.Wrap(apiErr, goerrors.CategoryOperation, msgServiceUnavailable).
			WithTextCode(KindServiceUnavailable).
			WithCode(goerrors.CodeInternal).
			WithMetadata(meta)
	default:
		// decode failures and other non-HTTP API errors
		return goerrors.Wrap(apiErr, goerrors.CategoryInternal, msgUnknown).
			WithTextCode(KindUnknown).
			WithCode(goerrors.CodeInternal).
			WithMetadata(meta)
	}
}

func displayMessage(apiErr *APIError, fallback string) string {
	if apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

func isKind(code string) bool {
	switch code {
	case KindNetwork, KindUnauthorized, KindInvalidRequest, KindServiceUnavailable, KindUnknown:
		return true
	default:
		return false
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTransportFailure(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
