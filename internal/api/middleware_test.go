package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRequireBearer(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{"open when no secret", "", "", http.StatusOK},
		{"missing header", "s3cret", "", http.StatusUnauthorized},
		{"wrong secret", "s3cret", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "s3cret", "Basic s3cret", http.StatusUnauthorized},
		{"correct", "s3cret", "Bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(RequireBearer(tt.secret))
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	quit := make(chan struct{})
	defer close(quit)
	r := newRouter(RateLimiter(1, 2, quit))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}

func TestUploadRateLimiter_KeysByLink(t *testing.T) {
	quit := make(chan struct{})
	defer close(quit)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/upload/:token", UploadRateLimiter(6, 2, quit), func(c *gin.Context) { c.Status(http.StatusOK) })

	post := func(token, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/upload/"+token, nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	// Different addresses share the same link's budget.
	if w := post("tok-a", "10.0.0.1"); w.Code != http.StatusOK {
		t.Fatalf("first attempt = %d", w.Code)
	}
	if w := post("tok-a", "10.0.0.2"); w.Code != http.StatusOK {
		t.Fatalf("second attempt = %d", w.Code)
	}
	w := post("tok-a", "10.0.0.3")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third attempt = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "10" {
		t.Errorf("Retry-After = %q, want 10", got)
	}

	// Another link is unaffected.
	if w := post("tok-b", "10.0.0.3"); w.Code != http.StatusOK {
		t.Errorf("other link = %d, want 200", w.Code)
	}
}

func TestLimiterSet_EvictsIdleKeys(t *testing.T) {
	quit := make(chan struct{})
	defer close(quit)
	s := newLimiterSet(rate.Limit(1), 1, quit)

	start := time.Now()
	s.allow("old", start)
	s.allow("fresh", start.Add(9*time.Minute))
	s.evictIdle(start.Add(11 * time.Minute))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets["old"]; ok {
		t.Error("idle key not evicted")
	}
	if _, ok := s.buckets["fresh"]; !ok {
		t.Error("recent key evicted")
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := newRouter(SecurityHeaders())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
}
