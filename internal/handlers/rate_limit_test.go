package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketmesh/internal/config"
	"marketmesh/internal/logger"
	"marketmesh/internal/services"
)

type stubLimiter struct {
	allowSeq  []bool
	idx       int
	limit     int64
	enabled   bool
	err       error
	usageErr  error
	lastScope string
}

func (s *stubLimiter) Allow(_ context.Context, scope, _ string) (services.AttemptDecision, error) {
	s.lastScope = scope
	if s.err != nil {
		return services.AttemptDecision{}, s.err
	}
	if s.idx >= len(s.allowSeq) {
		return services.AttemptDecision{ResetAt: time.Now()}, nil
	}
	val := s.allowSeq[s.idx]
	s.idx++
	return services.AttemptDecision{
		Allowed:   val,
		Used:      int64(s.idx),
		Remaining: s.limit - int64(s.idx),
		ResetAt:   time.Now().Add(time.Minute),
	}, nil
}

func (s *stubLimiter) Enabled() bool { return s.enabled || len(s.allowSeq) > 0 }
func (s *stubLimiter) Limit() int64  { return s.limit }
func (s *stubLimiter) Window() time.Duration {
	return time.Minute
}
func (s *stubLimiter) Usage(_ context.Context, scope, _ string) (services.AttemptDecision, error) {
	s.lastScope = scope
	if s.usageErr != nil {
		return services.AttemptDecision{}, s.usageErr
	}
	return services.AttemptDecision{Allowed: true, Used: 2, Remaining: s.limit - 2, ResetAt: time.Now().Add(time.Minute)}, nil
}

func TestAttemptLimitMiddleware_BlocksAfterLimit(t *testing.T) {
	limiter := &stubLimiter{allowSeq: []bool{true, false}, limit: 1}
	log := logger.New(&config.LoggerConfig{Level: "error", Format: "json"})

	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	wrapped := AttemptLimitMiddleware(limiter, services.AttemptScopeRedeem, log, handler)
	req := httptest.NewRequest(http.MethodPost, "/api/promos/redeem", nil)
	req.RemoteAddr = "1.2.3.4:1234"

	rr1 := httptest.NewRecorder()
	wrapped(rr1, req)
	if rr1.Code != http.StatusOK || calls != 1 {
		t.Fatalf("first request expected 200, calls=1; got %d, calls=%d", rr1.Code, calls)
	}
	if rr1.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("expected limit header, got %q", rr1.Header().Get("X-RateLimit-Limit"))
	}

	rr2 := httptest.NewRecorder()
	wrapped(rr2, req)
	if rr2.Code != http.StatusTooManyRequests || calls != 1 {
		t.Fatalf("second request expected 429, calls still 1; got %d, calls=%d", rr2.Code, calls)
	}
	if limiter.lastScope != services.AttemptScopeRedeem {
		t.Fatalf("expected redeem scope, got %q", limiter.lastScope)
	}
}

func TestAttemptLimitMiddleware_DisabledSkips(t *testing.T) {
	limiter := &stubLimiter{enabled: false}
	log := logger.New(&config.LoggerConfig{Level: "error", Format: "json"})
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	wrapped := AttemptLimitMiddleware(limiter, services.AttemptScopeValidate, log, handler)
	rr := httptest.NewRecorder()
	wrapped(rr, httptest.NewRequest(http.MethodPost, "/api/promos/validate", nil))

	if calls != 1 || rr.Code != http.StatusOK {
		t.Fatalf("expected middleware to skip limiter, code=%d calls=%d", rr.Code, calls)
	}
}

func TestAttemptLimitMiddleware_StoreErrorFailsOpen(t *testing.T) {
	limiter := &stubLimiter{limit: 1, enabled: true, err: errors.New("redis down")}
	log := logger.New(&config.LoggerConfig{Level: "error", Format: "json"})
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	AttemptLimitMiddleware(limiter, services.AttemptScopeValidate, log, handler)(rr, httptest.NewRequest(http.MethodPost, "/api/promos/validate", nil))

	if rr.Code != http.StatusOK || calls != 1 {
		t.Fatalf("expected request to pass on limiter error, code=%d calls=%d", rr.Code, calls)
	}
}

func TestRateLimitStatus_Disabled(t *testing.T) {
	handler := NewRateLimitHandler(nil, logger.New(&config.LoggerConfig{Level: "error", Format: "json"}))
	req := httptest.NewRequest(http.MethodGet, "/api/rate-limit/status", nil)
	rr := httptest.NewRecorder()

	handler.Status(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp["enabled"] != false {
		t.Fatalf("expected enabled=false, got %s", rr.Body.String())
	}
}

func TestRateLimitStatus_Enabled(t *testing.T) {
	limiter := &stubLimiter{limit: 5, enabled: true}
	handler := NewRateLimitHandler(limiter, logger.New(&config.LoggerConfig{Level: "error", Format: "json"}))

	req := httptest.NewRequest(http.MethodGet, "/api/rate-limit/status?scope=redeem", nil)
	rr := httptest.NewRecorder()
	handler.Status(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp["scope"] != "redeem" || resp["remaining"] != 3.0 || resp["window_seconds"] != 60.0 {
		t.Fatalf("unexpected status body: %v", resp)
	}
	if limiter.lastScope != services.AttemptScopeRedeem {
		t.Fatalf("expected usage lookup in redeem scope, got %q", limiter.lastScope)
	}
}

func TestRateLimitStatus_UnknownScope(t *testing.T) {
	handler := NewRateLimitHandler(&stubLimiter{limit: 5, enabled: true}, logger.New(&config.LoggerConfig{Level: "error", Format: "json"}))
	rr := httptest.NewRecorder()
	handler.Status(rr, httptest.NewRequest(http.MethodGet, "/api/rate-limit/status?scope=checkout", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestRateLimitStatus_Error(t *testing.T) {
	limiter := &stubLimiter{limit: 5, enabled: true, usageErr: errors.New("usage error")}
	handler := NewRateLimitHandler(limiter, logger.New(&config.LoggerConfig{Level: "error", Format: "json"}))

	req := httptest.NewRequest(http.MethodGet, "/api/rate-limit/status", nil)
	rr := httptest.NewRecorder()

	handler.Status(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestRateLimitStatus_MethodNotAllowed(t *testing.T) {
	handler := NewRateLimitHandler(nil, logger.New(&config.LoggerConfig{Level: "error", Format: "json"}))
	req := httptest.NewRequest(http.MethodPost, "/api/rate-limit/status", nil)
	rr := httptest.NewRecorder()
	handler.Status(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestAttemptLimiterSatisfiesStatusProvider(t *testing.T) {
	var _ AttemptStatusProvider = (*services.AttemptLimiter)(nil)
}
