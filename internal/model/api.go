package model

import (
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeBackend       = "BACKEND_ERROR"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// SubmitRunRequest is the request body for POST /api/runs.
type SubmitRunRequest struct {
	ScenarioIDs []string `json:"scenario_ids"`
	Models      []string `json:"models"`
	Concurrency int      `json:"concurrency"`
}

// SubmitScoredRunRequest is the request body for POST /api/heatmap/run.
type SubmitScoredRunRequest struct {
	Domains     []string `json:"domains"`
	Models      []string `json:"models"`
	Concurrency int      `json:"concurrency"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Operator string `json:"operator"`
	APIKey   string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend"`
	Journal string `json:"journal"`
	Uptime  int64  `json:"uptime_seconds"`
}

// Catalog bundles the slow-changing metadata a dashboard needs once per
// session.
type Catalog struct {
	Taxonomy  Taxonomy   `json:"taxonomy"`
	Scenarios []Scenario `json:"scenarios"`
	Models    []string   `json:"models"`
}
