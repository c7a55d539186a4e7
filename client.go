package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError captures a normalized identity service response failure. Status
// is the HTTP status code; Message is the service-provided error message
// when the payload carried one.
type APIError struct {
	Operation string
	Status    int
	Code      string
	Message   string
	Err       error
}

func (e *APIError) Error() string {
	if e == nil {
		return "identity service error"
	}

	scope := "identity service"
	if e.Operation != "" {
		scope = fmt.Sprintf("identity %s", e.Operation)
	}

	if e.Message != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}

	return fmt.Sprintf("%s failed: status %d", scope, e.Status)
}

func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPIdentityClient talks JSON over HTTP to the remote identity service.
type HTTPIdentityClient struct {
	baseURL    string
	httpClient *http.Client
	logger     Logger
}

var _ IdentityService = (*HTTPIdentityClient)(nil)

// ClientOption customizes HTTPIdentityClient construction.
type ClientOption func(*HTTPIdentityClient)

// WithHTTPClient injects a custom *http.Client (timeouts, transports, test
// doubles).
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPIdentityClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithClientLogger overrides the client logger.
func WithClientLogger(logger Logger) ClientOption {
	return func(c *HTTPIdentityClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewHTTPIdentityClient(baseURL string, opts ...ClientOption) *HTTPIdentityClient {
	c := &HTTPIdentityClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type verifyOTPRequest struct {
	Code   string `json:"code"`
	Method string `json:"method"`
}

type refreshResponse struct {
	Token string `json:"token"`
}

type whoAmIResponse struct {
	User *User `json:"user"`
}

type errorPayload struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (p errorPayload) text() string {
	if p.Message != "" {
		return p.Message
	}
	return p.Error
}

// Login exchanges credentials for either a full session or a pending
// two-factor challenge.
func (c *HTTPIdentityClient) Login(ctx context.Context, identifier, secret string) (*Credentials, error) {
	creds := &Credentials{}
	err := c.do(ctx, "login", http.MethodPost, "/auth/login", "", loginRequest{
		Identifier: identifier,
		Secret:     secret,
	}, creds)
	if err != nil {
		return nil, err
	}

	if creds.User == nil {
		return nil, &APIError{Operation: "login", Code: "invalid_response", Message: "login response is missing the user"}
	}
	if creds.Token == "" && !creds.RequiresTwoFactor {
		return nil, &APIError{Operation: "login", Code: "invalid_response", Message: "login response is missing the token"}
	}

	return creds, nil
}

// Register creates an account. It does not authenticate it.
func (c *HTTPIdentityClient) Register(ctx context.Context, payload RegisterPayload) error {
	return c.do(ctx, "register", http.MethodPost, "/auth/register", "", payload, nil)
}

// Logout notifies the service that the token should be revoked.
func (c *HTTPIdentityClient) Logout(ctx context.Context, token string) error {
	return c.do(ctx, "logout", http.MethodPost, "/auth/logout", token, nil, nil)
}

// Refresh requests a replacement token for the current session.
func (c *HTTPIdentityClient) Refresh(ctx context.Context, token string) (string, error) {
	out := &refreshResponse{}
	if err := c.do(ctx, "refresh", http.MethodPost, "/auth/refresh", token, nil, out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &APIError{Operation: "refresh", Code: "invalid_response", Message: "refresh response is missing the token"}
	}
	return out.Token, nil
}

// VerifyOTP submits a one-time code to complete a pending two-factor login.
func (c *HTTPIdentityClient) VerifyOTP(ctx context.Context, code, method string) (*Credentials, error) {
	creds := &Credentials{}
	err := c.do(ctx, "verify_otp", http.MethodPost, "/auth/verify-otp", "", verifyOTPRequest{
		Code:   code,
		Method: method,
	}, creds)
	if err != nil {
		return nil, err
	}
	if creds.User == nil || creds.Token == "" {
		return nil, &APIError{Operation: "verify_otp", Code: "invalid_response", Message: "verification response is incomplete"}
	}
	return creds, nil
}

// WhoAmI resolves the identity behind the token.
func (c *HTTPIdentityClient) WhoAmI(ctx context.Context, token string) (*User, error) {
	out := &whoAmIResponse{}
	if err := c.do(ctx, "who_am_i", http.MethodGet, "/auth/me", token, nil, out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, &APIError{Operation: "who_am_i", Code: "invalid_response", Message: "identity response is missing the user"}
	}
	return out.User, nil
}

func (c *HTTPIdentityClient) do(ctx context.Context, operation, method, path, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return &APIError{Operation: operation, Code: "invalid_request", Message: "failed to encode request", Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &APIError{Operation: operation, Code: "invalid_request", Message: "failed to build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// transport failures stay raw so Classify can tell timeouts from
		// unreachable hosts
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var svcErr errorPayload
		_ = json.Unmarshal(raw, &svcErr)
		c.logger.Debug("identity %s returned %d: %s", operation, resp.StatusCode, svcErr.text())
		return &APIError{
			Operation: operation,
			Status:    resp.StatusCode,
			Message:   svcErr.text(),
		}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{
			Operation: operation,
			Status:    resp.StatusCode,
			Code:      "invalid_response",
			Message:   "failed to decode response",
			Err:       err,
		}
	}

	return nil
}
