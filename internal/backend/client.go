// Package backend is the HTTP+JSON client for the evaluation service that
// runs scenarios, judges responses and writes reports.
//
// Every failed call returns a *model.BackendError. Non-2xx responses carry
// the status code and the service's detail message; transport failures carry
// StatusCode 0 and wrap the cause.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the evaluation service
	// (e.g. "http://localhost:8000").
	BaseURL string

	// Token is sent as a bearer token when non-empty.
	Token string

	// HTTPClient is an optional custom HTTP client. If nil, a client with
	// Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client talks to the evaluation service. All methods are safe for
// concurrent use.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  httpClient,
	}, nil
}

// BaseURL returns the service root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// HealthStatus is the service's health probe response.
type HealthStatus struct {
	Status string `json:"status"`
}

// Health probes the service.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var resp HealthStatus
	if err := c.get(ctx, "health", "/api/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// detailEnvelope is the service's error body: {"detail": "..."}. Validation
// failures put a list of objects in detail instead of a string.
type detailEnvelope struct {
	Detail json.RawMessage `json:"detail"`
}

func (c *Client) post(ctx context.Context, op, path string, body, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return &model.BackendError{Op: op, Err: fmt.Errorf("marshal request body: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return &model.BackendError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, op, req, dest)
}

func (c *Client) get(ctx context.Context, op, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &model.BackendError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}

	return c.doRequest(ctx, op, req, dest)
}

func (c *Client) doRequest(ctx context.Context, op string, req *http.Request, dest any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		return &model.BackendError{Op: op, Err: fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(op, resp, dest)
}

func handleResponse(op string, resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &model.BackendError{Op: op, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseErrorResponse(op, resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return &model.BackendError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func parseErrorResponse(op string, statusCode int, body []byte) *model.BackendError {
	apiErr := &model.BackendError{Op: op, StatusCode: statusCode}

	var envelope detailEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Detail) > 0 {
		var msg string
		if err := json.Unmarshal(envelope.Detail, &msg); err == nil {
			apiErr.Message = msg
			return apiErr
		}
		apiErr.Message = string(envelope.Detail)
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(statusCode)
	}
	return apiErr
}
