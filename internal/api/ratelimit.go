package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepEvery = 5 * time.Minute
)

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet hands out one token bucket per key and forgets keys idle for
// limiterIdleTTL.
type limiterSet struct {
	mu      sync.Mutex
	buckets map[string]*keyedLimiter
	limit   rate.Limit
	burst   int
}

func newLimiterSet(limit rate.Limit, burst int, quit <-chan struct{}) *limiterSet {
	s := &limiterSet{buckets: make(map[string]*keyedLimiter), limit: limit, burst: burst}
	go func() {
		ticker := time.NewTicker(limiterSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				s.evictIdle(time.Now())
			}
		}
	}()
	return s
}

func (s *limiterSet) allow(key string, now time.Time) bool {
	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		b = &keyedLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	s.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

func (s *limiterSet) evictIdle(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(s.buckets, key)
		}
	}
}

// retryAfter is the whole number of seconds until one token is available.
func (s *limiterSet) retryAfter() string {
	secs := 1
	if s.limit > 0 {
		secs = max(1, int(time.Duration(float64(time.Second)/float64(s.limit)).Round(time.Second)/time.Second))
	}
	return strconv.Itoa(secs)
}

func (s *limiterSet) middleware(key func(*gin.Context) string, msg string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.allow(key(c), time.Now()) {
			c.Header("Retry-After", s.retryAfter())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": msg})
			return
		}
		c.Next()
	}
}

// RateLimiter returns a Gin middleware that enforces per-IP token-bucket
// rate limiting. rps is the steady-state requests per second; burst is the
// maximum burst size. Idle entries are dropped until quit is closed.
func RateLimiter(rps, burst int, quit <-chan struct{}) gin.HandlerFunc {
	s := newLimiterSet(rate.Limit(rps), burst, quit)
	return s.middleware(func(c *gin.Context) string { return c.ClientIP() }, "rate limit exceeded")
}

// UploadRateLimiter limits upload attempts per upload link rather than per
// IP, so a shared link cannot be hammered from many addresses. perMinute
// attempts are refilled each minute, up to burst.
func UploadRateLimiter(perMinute, burst int, quit <-chan struct{}) gin.HandlerFunc {
	s := newLimiterSet(rate.Limit(float64(perMinute)/60), burst, quit)
	return s.middleware(func(c *gin.Context) string { return "upload:" + c.Param("token") },
		"too many upload attempts for this link, please wait a minute and try again")
}
