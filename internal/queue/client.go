package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/ingest-worker/internal/worker/domain"
)

// Config holds queue API client configuration
type Config struct {
	BaseURL        string
	Email          string
	Password       string
	RequestTimeout time.Duration
}

// Client talks to the remote queue/API service. It owns the bearer
// credential: Login stores it, and every request carries it. When a
// response signals credential expiry the client re-authenticates once and
// retries the original request once; a second expiry is surfaced to the
// caller. No other retries happen at this layer.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *slog.Logger

	// token is replaced wholesale on every login, never mutated in place.
	// In-flight requests holding the old value fail and retry with the new
	// one.
	token atomic.Value // string
}

// NewClient creates a new queue API client
func NewClient(config *Config, logger *slog.Logger) *Client {
	c := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		logger: logger,
	}
	c.token.Store("")
	return c
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login authenticates against the queue API and stores the bearer token
// for subsequent requests. A non-2xx response or a response without a
// token is an authentication error.
func (c *Client) Login(ctx context.Context) error {
	payload, err := json.Marshal(loginRequest{
		Email:    c.config.Email,
		Password: c.config.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/login", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read login response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return domain.NewAuthError("login", resp.StatusCode, errors.New(strings.TrimSpace(string(body))))
	}

	var loginResp loginResponse
	if err := json.Unmarshal(body, &loginResp); err != nil {
		return domain.NewAuthError("login", resp.StatusCode, fmt.Errorf("malformed login response: %w", err))
	}
	if loginResp.Token == "" {
		return domain.NewAuthError("login", resp.StatusCode, errors.New("no token in login response"))
	}

	c.token.Store(loginResp.Token)
	c.logger.Info("Authenticated against queue API",
		slog.String("email", c.config.Email),
	)

	return nil
}

// bearerToken returns the current credential value.
func (c *Client) bearerToken() string {
	token, _ := c.token.Load().(string)
	return token
}

// isCredentialExpired reports whether a response signals that the bearer
// token is no longer valid: a 401, or a 400 whose body mentions an expired
// or invalid token.
func isCredentialExpired(status int, body []byte) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	if status != http.StatusBadRequest {
		return false
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "expired") || strings.Contains(lower, "invalid token")
}

// attempt performs one authorized request and returns the status and the
// fully read body.
func (c *Client) attempt(ctx context.Context, method, url string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearerToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, body, nil
}

// do performs an authorized request, transparently recovering from a single
// credential expiry by re-authenticating and retrying the original request
// once.
func (c *Client) do(ctx context.Context, op, method, url string, payload []byte) (int, []byte, error) {
	status, body, err := c.attempt(ctx, method, url, payload)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", op, err)
	}
	if !isCredentialExpired(status, body) {
		return status, body, nil
	}

	c.logger.Warn("Credential expired, re-authenticating",
		slog.String("op", op),
		slog.Int("status", status),
	)

	if err := c.Login(ctx); err != nil {
		return 0, nil, err
	}

	status, body, err = c.attempt(ctx, method, url, payload)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", op, err)
	}
	if isCredentialExpired(status, body) {
		return 0, nil, domain.NewAuthError(op, status, errors.New(strings.TrimSpace(string(body))))
	}

	return status, body, nil
}

type leaseRequest struct {
	LeaserID      string   `json:"leaserId"`
	LeaseDuration int      `json:"leaseDuration"`
	JobTypes      []string `json:"jobTypes"`
}

// LeaseJob attempts to lease one pending job matching jobTypes for this
// worker. An empty queue is a normal outcome and is reported as
// domain.ErrNoJobAvailable, never as a transport error.
func (c *Client) LeaseJob(ctx context.Context, leaserID string, leaseDuration time.Duration, jobTypes []string) (*domain.Job, error) {
	payload, err := json.Marshal(leaseRequest{
		LeaserID:      leaserID,
		LeaseDuration: int(leaseDuration.Seconds()),
		JobTypes:      jobTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode lease request: %w", err)
	}

	status, body, err := c.do(ctx, "lease", http.MethodPost, c.config.BaseURL+"/leases", payload)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusNotFound:
		return nil, domain.ErrNoJobAvailable
	case status == http.StatusCreated && len(bytes.TrimSpace(body)) == 0:
		return nil, domain.ErrNoJobAvailable
	case status == http.StatusCreated:
		var job domain.Job
		if err := json.Unmarshal(body, &job); err != nil {
			return nil, fmt.Errorf("lease: malformed job payload: %w", err)
		}
		return &job, nil
	default:
		return nil, domain.NewTransportError("lease", status, strings.TrimSpace(string(body)))
	}
}

// FetchFile downloads the raw payload for an entity. Any non-200 response
// is an error.
func (c *Client) FetchFile(ctx context.Context, entityID string) ([]byte, error) {
	url := fmt.Sprintf("%s/files/%s/download", c.config.BaseURL, entityID)

	status, body, err := c.do(ctx, "fetch", http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, domain.NewTransportError("fetch", status, strings.TrimSpace(string(body)))
	}

	return body, nil
}

// IngestRequest is the chunk batch submitted to the index service. JobID
// and LeaserID let the index attribute and deduplicate the submission;
// Replace signals that prior chunks for the same entity should be
// overwritten.
type IngestRequest struct {
	Chunks   []string `json:"chunks"`
	ID       string   `json:"id"`
	Replace  bool     `json:"replace"`
	JobID    string   `json:"jobId"`
	LeaserID string   `json:"leaserId"`
}

// Ingest submits a chunk batch to the index service. A 2xx ingest response
// completes the job; there is no separate mark-done call.
func (c *Client) Ingest(ctx context.Context, req *IngestRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode ingest request: %w", err)
	}

	status, body, err := c.do(ctx, "ingest", http.MethodPost, c.config.BaseURL+"/index", payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return domain.NewTransportError("ingest", status, strings.TrimSpace(string(body)))
	}

	return nil
}

type markFailedRequest struct {
	LeaserID string `json:"leaserId"`
	Reason   string `json:"reason"`
}

// MarkFailed returns the job to the queue as failed so it can be retried
// or retired according to the queue's own retry bookkeeping.
func (c *Client) MarkFailed(ctx context.Context, jobID, leaserID, reason string) error {
	payload, err := json.Marshal(markFailedRequest{
		LeaserID: leaserID,
		Reason:   reason,
	})
	if err != nil {
		return fmt.Errorf("failed to encode mark-failed request: %w", err)
	}

	url := fmt.Sprintf("%s/jobs/%s/failed", c.config.BaseURL, jobID)

	status, body, err := c.do(ctx, "mark failed", http.MethodPatch, url, payload)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return domain.NewTransportError("mark failed", status, strings.TrimSpace(string(body)))
	}

	return nil
}
