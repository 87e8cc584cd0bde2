package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/skillcheck/internal/auth"
	"github.com/ashita-ai/skillcheck/internal/model"
	"github.com/ashita-ai/skillcheck/internal/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	// rate=1 token/sec and burst=2 allows the first 2 rapid requests, then
	// rejects until tokens refill.
	limiter := ratelimit.NewMemoryLimiter(1, 2)
	defer func() { _ = limiter.Close() }()

	handler := rateLimitMiddleware(limiter, testLogger(), okHandler())

	for i := range 3 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/runs", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		handler.ServeHTTP(rec, req)

		if i < 2 {
			if rec.Code != http.StatusOK {
				t.Errorf("request %d: got status %d, want %d (within burst)", i+1, rec.Code, http.StatusOK)
			}
			continue
		}
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("request %d: got status %d, want %d (burst exhausted)", i+1, rec.Code, http.StatusTooManyRequests)
		}
		secs, err := strconv.Atoi(rec.Header().Get("Retry-After"))
		require.NoError(t, err, "rate-limited response should include Retry-After seconds")
		assert.GreaterOrEqual(t, secs, 1)
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

		var apiErr model.APIError
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&apiErr))
		assert.Equal(t, model.ErrCodeRateLimited, apiErr.Error.Code)
	}
}

func TestRateLimitMiddleware_DifferentIPs(t *testing.T) {
	// Each IP gets its own bucket.
	limiter := ratelimit.NewMemoryLimiter(1, 1)
	defer func() { _ = limiter.Close() }()

	handler := rateLimitMiddleware(limiter, testLogger(), okHandler())

	do := func(addr string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/runs", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1000"), "IP A first request")
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1000"), "IP A second request")
	assert.Equal(t, http.StatusOK, do("10.0.0.2:2000"), "IP B unaffected by IP A")
}

func TestRateLimitMiddleware_Noop(t *testing.T) {
	handler := rateLimitMiddleware(ratelimit.NoopLimiter{}, testLogger(), okHandler())
	for range 20 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/runs", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestAuthMiddleware(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour, testLogger())
	require.NoError(t, err)
	token, _, err := mgr.IssueToken("alice")
	require.NoError(t, err)

	var seen *auth.Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := authMiddleware(mgr, inner)

	tests := []struct {
		name       string
		target     string
		header     string
		wantStatus int
		wantClaims bool
	}{
		{"public health", "/health", "", http.StatusOK, false},
		{"public token issuance", "/auth/token", "", http.StatusOK, false},
		{"public spa asset", "/assets/app.js", "", http.StatusOK, false},
		{"api without token", "/api/catalog", "", http.StatusUnauthorized, false},
		{"api with bad scheme", "/api/catalog", "Basic " + token, http.StatusUnauthorized, false},
		{"api with garbage token", "/api/catalog", "Bearer not-a-jwt", http.StatusUnauthorized, false},
		{"api with token", "/api/catalog", "Bearer " + token, http.StatusOK, true},
		{"mcp without token", "/mcp", "", http.StatusUnauthorized, false},
		{"events with query token", eventsPath + "?access_token=" + token, "", http.StatusOK, true},
		{"query token ignored elsewhere", "/api/catalog?access_token=" + token, "", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantClaims {
				require.NotNil(t, seen)
				assert.Equal(t, "alice", seen.Operator)
			} else {
				assert.Nil(t, seen)
			}
		})
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	handler := authMiddleware(nil, okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/catalog", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggingMiddlewareSeesClaims(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour, testLogger())
	require.NoError(t, err)
	token, _, err := mgr.IssueToken("bob")
	require.NoError(t, err)

	var captured *statusWriter
	outer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		authMiddleware(mgr, okHandler()).ServeHTTP(captured, r)
	})

	req := httptest.NewRequest("GET", "/api/runs/current", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	outer.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, captured.claims)
	assert.Equal(t, "bob", captured.claims.Operator)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(testLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/catalog", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var apiErr model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&apiErr))
	assert.Equal(t, model.ErrCodeInternalError, apiErr.Error.Code)
}

func TestRecoveryMiddleware_AbortHandler(t *testing.T) {
	handler := recoveryMiddleware(testLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	})
}

func TestRequestIDAndSecurityHeaders(t *testing.T) {
	var ctxID string
	handler := requestIDMiddleware(securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	})))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-123", ctxID)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))

	// Oversized IDs are replaced.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("a", 200))
	handler.ServeHTTP(rec, req)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}

func TestDecodeJSON(t *testing.T) {
	decode := func(body string, limit int64) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/runs", strings.NewReader(body))
		var target model.SubmitRunRequest
		if err := decodeJSON(rec, req, &target, limit); err != nil {
			handleDecodeError(rec, req, err)
		}
		return rec
	}

	assert.Equal(t, http.StatusOK, decode(`{"models":["opus"]}`, 1024).Code)
	assert.Equal(t, http.StatusBadRequest, decode(`{"models":["opus"],"bogus":1}`, 1024).Code)
	assert.Equal(t, http.StatusBadRequest, decode(`{`, 1024).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, decode(`{"models":["opus","sonnet","haiku"]}`, 8).Code)
}
