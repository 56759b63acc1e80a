package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestRateLimiter_FixedWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(3, time.Second)
	rl.now = clock.now

	wantAllowed := []bool{true, true, true, false}
	wantRemaining := []int{2, 1, 0, 0}
	var first Decision
	for i := range wantAllowed {
		clock.t = clock.t.Add(100 * time.Millisecond)
		d := rl.Admit("user-1")
		if i == 0 {
			first = d
		}
		if d.Allowed != wantAllowed[i] || d.Remaining != wantRemaining[i] {
			t.Fatalf("call %d: got allowed=%v remaining=%d", i, d.Allowed, d.Remaining)
		}
		if !d.ResetAt.Equal(first.ResetAt) {
			t.Fatalf("call %d: reset time moved within the window", i)
		}
	}

	// Another key has its own bucket.
	if d := rl.Admit("user-2"); !d.Allowed || d.Remaining != 2 {
		t.Fatalf("expected independent bucket, got %+v", d)
	}

	// At exactly resetAt the window is still current.
	clock.t = first.ResetAt
	if d := rl.Admit("user-1"); d.Allowed {
		t.Fatalf("expected denial at resetAt, got %+v", d)
	}

	clock.t = first.ResetAt.Add(time.Millisecond)
	d := rl.Admit("user-1")
	if !d.Allowed || d.Remaining != 2 {
		t.Fatalf("expected fresh window, got %+v", d)
	}
	if !d.ResetAt.Equal(clock.t.Add(time.Second)) {
		t.Fatalf("expected new reset time, got %v", d.ResetAt)
	}
}

func TestRateLimiter_NonPositiveLimit(t *testing.T) {
	for _, limit := range []int{0, -1} {
		clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		rl := NewRateLimiter(limit, 0)
		rl.now = clock.now

		first := rl.Admit("k")
		if !first.Allowed || first.Remaining != 0 {
			t.Fatalf("limit %d: expected one admission with nothing remaining, got %+v", limit, first)
		}
		if !first.ResetAt.Equal(clock.t.Add(time.Minute)) {
			t.Fatalf("limit %d: expected default window, got reset %v", limit, first.ResetAt)
		}
		if d := rl.Admit("k"); d.Allowed || d.Remaining != 0 {
			t.Fatalf("limit %d: expected denial, got %+v", limit, d)
		}
		if b := rl.buckets["k"]; b.count > 1 {
			t.Fatalf("limit %d: count %d exceeds limit", limit, b.count)
		}
	}
}

func TestRateLimiter_BoundaryBurst(t *testing.T) {
	// Fixed windows admit up to 2x the limit across a boundary.
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(3, time.Second)
	rl.now = clock.now

	allowed := 0
	rl.Admit("k")
	allowed++
	clock.t = clock.t.Add(990 * time.Millisecond)
	for i := 0; i < 2; i++ {
		if rl.Admit("k").Allowed {
			allowed++
		}
	}
	clock.t = clock.t.Add(20 * time.Millisecond)
	for i := 0; i < 3; i++ {
		if rl.Admit("k").Allowed {
			allowed++
		}
	}
	if allowed != 6 {
		t.Fatalf("expected 6 admissions within ~30ms of the boundary, got %d", allowed)
	}
}

func TestRateLimiter_Prune(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(5, time.Minute)
	rl.now = clock.now

	rl.Admit("old")
	clock.t = clock.t.Add(30 * time.Second)
	rl.Admit("new")

	if n := rl.Prune(clock.t.Add(45 * time.Second)); n != 1 {
		t.Fatalf("expected 1 expired bucket, got %d", n)
	}
	if _, ok := rl.buckets["new"]; !ok {
		t.Fatalf("expected live bucket to survive")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	userID := uuid.New()
	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ai/chat", nil)
		return req.WithContext(context.WithValue(req.Context(), UserIDKey, userID))
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newReq())
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected first request through, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "0" || rr.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("unexpected rate headers: %v", rr.Header())
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, newReq())
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	json.NewDecoder(rr.Body).Decode(&body)
	if body.Error.Code != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED, got %q", body.Error.Code)
	}

	// Anonymous callers are keyed by IP, separate from the user.
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/ai/chat", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected anonymous request through, got %d", rr.Code)
	}
}

func TestJWTAuth_Middleware(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	userID := uuid.New()

	var gotUser uuid.UUID
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token, err := auth.GenerateAccessToken(userID, time.Hour)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	expired, _ := auth.GenerateAccessToken(userID, -time.Minute)
	foreign, _ := NewJWTAuth("other-secret").GenerateAccessToken(userID, time.Hour)

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"valid", "Bearer " + token, http.StatusOK, ""},
		{"missing", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", "Token " + token, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, "UNAUTHORIZED"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gotUser = uuid.Nil
			req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if tc.status == http.StatusOK {
				if gotUser != userID {
					t.Fatalf("expected user id in context")
				}
				return
			}
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			json.NewDecoder(rr.Body).Decode(&body)
			if body.Error.Code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, body.Error.Code)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != "req-42" || rr.Header().Get("X-Request-ID") != "req-42" {
		t.Fatalf("expected caller request id to propagate, got %q", seen)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("expected generated uuid, got %q", seen)
	}
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/clients", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("expected preflight to succeed, got %d %v", rr.Code, rr.Header())
	}
	if rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials for explicit origin")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/clients", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" || rr.Code != http.StatusTeapot {
		t.Fatalf("expected foreign origin to get no CORS headers")
	}
}
