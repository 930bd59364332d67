package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"subject": SubjectFromContext(r.Context())})
})

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestRequireAuth(t *testing.T) {
	const secret = "test-secret"
	valid := signToken(t, secret, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "player-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	expired := signToken(t, secret, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "player-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signToken(t, "other-secret", jwt.SigningMethodHS256, jwt.MapClaims{"sub": "player-1"})
	wrongAlg := signToken(t, secret, jwt.SigningMethodHS384, jwt.MapClaims{"sub": "player-1"})

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{name: "valid", header: "Bearer " + valid, wantCode: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + valid, wantCode: http.StatusOK},
		{name: "missing", wantCode: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, wantCode: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + wrongKey, wantCode: http.StatusUnauthorized},
		{name: "wrong algorithm", header: "Bearer " + wrongAlg, wantCode: http.StatusUnauthorized},
	}
	mw := NewMiddleware([]byte(secret), discardLogger(), nil)
	h := mw.RequireAuth(okHandler)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/server", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantCode == http.StatusOK && !strings.Contains(rec.Body.String(), `"subject":"player-1"`) {
				t.Errorf("expected subject in context, got %s", rec.Body.String())
			}
		})
	}
}

func TestRequireAuthDisabledWithoutSecret(t *testing.T) {
	mw := NewMiddleware(nil, discardLogger(), nil)
	rec := httptest.NewRecorder()
	mw.RequireAuth(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/server", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	mw := NewMiddleware(nil, discardLogger(), nil)
	defer mw.Stop()
	h := mw.RateLimit(2)(okHandler)

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/server", nil)
		req.RemoteAddr = ip + ":40000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := range 2 {
		if rec := send("10.0.0.1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := send("10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rec := send("10.0.0.2"); rec.Code != http.StatusOK {
		t.Errorf("expected a separate bucket per IP, got %d", rec.Code)
	}
}

func TestRealIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "x-real-ip", headers: map[string]string{"X-Real-IP": "1.2.3.4"}, remote: "9.9.9.9:1", want: "1.2.3.4"},
		{name: "forwarded list", headers: map[string]string{"X-Forwarded-For": "5.6.7.8, 10.0.0.1"}, remote: "9.9.9.9:1", want: "5.6.7.8"},
		{name: "remote addr", remote: "9.9.9.9:1234", want: "9.9.9.9"},
		{name: "ipv6 remote", remote: "[::1]:1234", want: "::1"},
		{name: "no port", remote: "9.9.9.9", want: "9.9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := realIP(req); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRequestIDAndResponseTime(t *testing.T) {
	mw := NewMiddleware(nil, discardLogger(), nil)
	var seen string
	h := mw.RequestID(mw.Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("expected generated request ID %q in header, got %q", seen, rec.Header().Get(RequestIDHeader))
	}
	if rt := rec.Header().Get("X-Response-Time"); !strings.HasSuffix(rt, " ms") {
		t.Errorf("expected X-Response-Time in ms, got %q", rt)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "caller-id" || rec.Header().Get(RequestIDHeader) != "caller-id" {
		t.Errorf("expected caller request ID to be kept, got %q", seen)
	}
}

func TestCORS(t *testing.T) {
	mw := NewMiddleware(nil, discardLogger(), nil)
	h := mw.CORS([]string{"http://localhost:3000", "https://play.example.com"})(okHandler)

	tests := []struct {
		name        string
		method      string
		origin      string
		preflight   bool
		wantCode    int
		wantAllowed bool
	}{
		{name: "allowed origin", method: http.MethodGet, origin: "http://localhost:3000", wantCode: http.StatusOK, wantAllowed: true},
		{name: "unknown origin", method: http.MethodGet, origin: "https://evil.example.com", wantCode: http.StatusOK},
		{name: "preflight", method: http.MethodOptions, origin: "https://play.example.com", preflight: true, wantCode: http.StatusNoContent, wantAllowed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/server", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			got := rec.Header().Get("Access-Control-Allow-Origin")
			if tt.wantAllowed && got != tt.origin {
				t.Errorf("expected allow-origin %s, got %q", tt.origin, got)
			}
			if !tt.wantAllowed && got != "" {
				t.Errorf("expected no allow-origin, got %q", got)
			}
		})
	}
}

type recordedRequest struct {
	method, path string
	status       int
}

type fakeMetrics struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (f *fakeMetrics) RecordHTTPRequest(method, path string, statusCode int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method: method, path: path, status: statusCode})
}

func (f *fakeMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
}
