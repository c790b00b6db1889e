package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coparent/internal/domain"
)

var teapot = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
})

func TestAuth(t *testing.T) {
	h := Auth("secret")(teapot)

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer secret", http.StatusTeapot},
		{"bearer lowercase scheme", "Authorization", "bearer secret", http.StatusTeapot},
		{"service key header", ServiceKeyHeader, "secret", http.StatusTeapot},
		{"wrong", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"basic scheme", "Authorization", "Basic secret", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	Auth("")(teapot).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

type countingLimiter struct {
	limit int
	seen  map[string]int
	err   error
}

func (c *countingLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (domain.RateDecision, error) {
	if c.err != nil {
		return domain.RateDecision{}, c.err
	}
	if c.seen == nil {
		c.seen = map[string]int{}
	}
	c.seen[key]++
	if c.seen[key] > limit {
		return domain.RateDecision{RetryAfter: window / 2}, nil
	}
	return domain.RateDecision{Allowed: true, Remaining: limit - c.seen[key]}, nil
}

func TestRateLimitPerClientIP(t *testing.T) {
	lim := &countingLimiter{}
	h := RateLimit(lim, "ratelimit:tone", 2, time.Minute, nil, slog.Default())(teapot)

	send := func(remote, xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = remote
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusTeapot, send("10.0.0.1:1234", ""))
	assert.Equal(t, http.StatusTeapot, send("10.0.0.1:5678", ""))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:1234", ""))
	assert.Equal(t, http.StatusTeapot, send("10.0.0.2:1234", ""))
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	lim := &countingLimiter{}
	h := RateLimit(lim, "tone", 1, time.Minute, nil, slog.Default())(teapot)

	var codes []int
	for i := range 5 {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{418, 429, 429, 429, 429}, codes)
	assert.Equal(t, map[string]int{"tone:10.0.0.1": 5}, lim.seen)
}

func TestClientIPBehindTrustedProxy(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	req := func(remote, xff, xri string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = remote
		if xff != "" {
			r.Header.Set("X-Forwarded-For", xff)
		}
		if xri != "" {
			r.Header.Set("X-Real-IP", xri)
		}
		return r
	}

	// The rightmost untrusted hop is the client; a spoofed leftmost entry is ignored.
	assert.Equal(t, "203.0.113.7", clientIP(req("10.1.1.1:80", "198.51.100.9, 203.0.113.7, 10.2.2.2", ""), trusted))
	assert.Equal(t, "203.0.113.8", clientIP(req("10.1.1.1:80", "", "203.0.113.8"), trusted))
	assert.Equal(t, "10.1.1.1", clientIP(req("10.1.1.1:80", "garbage", ""), trusted))
	assert.Equal(t, "192.0.2.1", clientIP(req("192.0.2.1:80", "203.0.113.7", "203.0.113.8"), trusted))
}

func TestRateLimitHeaders(t *testing.T) {
	h := RateLimit(&countingLimiter{}, "p", 1, time.Minute, nil, slog.Default())(teapot)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestRetrySeconds(t *testing.T) {
	assert.Equal(t, "2", retrySeconds(1500*time.Millisecond, time.Minute))
	assert.Equal(t, "1", retrySeconds(time.Millisecond, time.Minute))
	assert.Equal(t, "60", retrySeconds(0, time.Minute))
}

func TestRateLimitFailsOpen(t *testing.T) {
	h := RateLimit(&countingLimiter{err: errors.New("redis down")}, "p", 1, time.Minute, nil, slog.Default())(teapot)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(nil, "p", 1, time.Minute, nil, slog.Default())(teapot)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(teapot)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingRecordsStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Logging(logger)(teapot)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestLoggingExposesRequestIDAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "probe-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "probe-1", seen)
	assert.Empty(t, buf.String(), "health probes log at debug")

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Contains(t, buf.String(), `"bytes":2`)
	assert.Contains(t, buf.String(), `"level":"INFO"`)
	assert.Empty(t, RequestID(context.Background()))
}
