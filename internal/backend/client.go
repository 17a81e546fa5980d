package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/reconcile"
)

// DefaultRequestTimeout bounds a single backend call.
const DefaultRequestTimeout = 10 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// ErrNotSettled is wrapped in the transient error returned for a 202.
var ErrNotSettled = errors.New("external operation not settled yet")

// HTTPError is an unexpected backend status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
}

// User is the account record returned with a session.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// SessionRequest asks the backend to create a session for a completed
// sign-in.
type SessionRequest struct {
	Reference     string `json:"reference"`
	CorrelationID string `json:"correlationId"`
}

// Session is a created or existing session.
type Session struct {
	Token         string `json:"token"`
	User          User   `json:"user"`
	AlreadyExists bool   `json:"alreadyExists"`
}

// IntentRequest creates a payment intent at the gateway.
type IntentRequest struct {
	AmountMinor   int64  `json:"amountMinor"`
	Currency      string `json:"currency"`
	AccountID     string `json:"accountId"`
	CorrelationID string `json:"correlationId"`
}

// Intent is a created payment intent.
type Intent struct {
	Reference   string `json:"reference"`
	CheckoutURL string `json:"checkoutUrl"`
}

// errorBody is the shape of non-2xx bodies.
type errorBody struct {
	Code             string      `json:"code,omitempty"`
	Message          string      `json:"message,omitempty"`
	AlreadyProcessed bool        `json:"alreadyProcessed,omitempty"`
	OutcomeData      ir.IRObject `json:"outcomeData,omitempty"`
}

// Client calls the confirmation endpoints. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRequestTimeout sets the per-call timeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify implements reconcile.Verifier.
func (c *Client) Verify(ctx context.Context, req ir.VerifyRequest) (ir.VerificationResult, error) {
	if !req.Kind.Valid() {
		return ir.VerificationResult{}, reconcile.NewRejectedError(fmt.Sprintf("unknown kind %q", req.Kind))
	}

	status, body, err := c.post(ctx, "/"+string(req.Kind)+"/verify", req)
	if err != nil {
		return ir.VerificationResult{}, err
	}

	switch {
	case status == http.StatusOK:
		var res ir.VerificationResult
		if err := json.Unmarshal(body, &res); err != nil {
			return ir.VerificationResult{}, reconcile.NewTransientError(fmt.Errorf("decode verification: %w", err))
		}
		return res, nil

	case status == http.StatusAccepted:
		return ir.VerificationResult{}, reconcile.NewTransientError(ErrNotSettled)

	case status == http.StatusConflict:
		return interpretVerifyConflict(body)
	}
	return ir.VerificationResult{}, classifyStatus(status, body)
}

// interpretVerifyConflict decides whether a 409 means "already processed".
// A 409 carrying any other explanation is surfaced as a conflict instead of
// being adopted.
func interpretVerifyConflict(body []byte) (ir.VerificationResult, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ir.VerificationResult{AlreadyProcessed: true}, nil
	}

	var eb errorBody
	if err := json.Unmarshal(trimmed, &eb); err != nil {
		return ir.VerificationResult{}, reconcile.NewConflictError(fmt.Sprintf("unrecognized 409 body: %s", truncate(trimmed)))
	}
	if eb.AlreadyProcessed || eb.Code == "already_processed" {
		return ir.VerificationResult{AlreadyProcessed: true, OutcomeData: eb.OutcomeData}, nil
	}

	msg := eb.Message
	if msg == "" {
		msg = eb.Code
	}
	if msg == "" {
		msg = "backend reported a conflict"
	}
	return ir.VerificationResult{}, reconcile.NewConflictError(msg)
}

// CreateSession creates a session for a verified sign-in. A 409 means the
// session already exists; its token is still returned.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	status, body, err := c.post(ctx, "/auth/session", req)
	if err != nil {
		return Session{}, err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusConflict {
		return Session{}, classifyStatus(status, body)
	}

	var sess Session
	if err := json.Unmarshal(body, &sess); err != nil {
		return Session{}, reconcile.NewTransientError(fmt.Errorf("decode session: %w", err))
	}
	if status == http.StatusConflict {
		sess.AlreadyExists = true
	}
	if sess.Token == "" {
		return Session{}, reconcile.NewRejectedError("session response carried no token")
	}
	return sess, nil
}

// CreateIntent creates a payment intent and returns its reference.
func (c *Client) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	status, body, err := c.post(ctx, "/payment/intents", req)
	if err != nil {
		return Intent{}, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return Intent{}, classifyStatus(status, body)
	}
	var intent Intent
	if err := json.Unmarshal(body, &intent); err != nil {
		return Intent{}, fmt.Errorf("decode intent: %w", err)
	}
	return intent, nil
}

// Health checks that the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode}
	}
	return nil
}

// post sends a JSON body. Transport failures are returned as transient
// errors; any HTTP status is returned to the caller.
func (c *Client) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encode %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, reconcile.NewTransientError(fmt.Errorf("POST %s: %w", path, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, reconcile.NewTransientError(fmt.Errorf("read %s response: %w", path, err))
	}
	return resp.StatusCode, body, nil
}

// classifyStatus maps an unexpected status to a coordinator error.
func classifyStatus(status int, body []byte) error {
	herr := &HTTPError{StatusCode: status, Body: truncate(bytes.TrimSpace(body))}
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return reconcile.NewTransientError(herr)
	}
	return &reconcile.OperationError{
		Code:    reconcile.CodeRejectedOperation,
		Message: "backend refused the request",
		Err:     herr,
	}
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
