package ingest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/dylantcon/countertrak-ingest/internal/ingestmetrics"
)

// tokenLimiterEntry tracks per-token rate limiting state.
type tokenLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenRateLimiter enforces one request budget per GSI auth token, rather
// than per IP, since many game clients can share a NAT (spec.md §4.6
// "rate limiting is keyed on auth.token, not remote address").
type TokenRateLimiter struct {
	limiters sync.Map // map[string]*tokenLimiterEntry
	rps      float64
	burst    int

	cleanupInterval time.Duration
	stopOnce        sync.Once
	stopChan        chan struct{}

	rejectedCount uint64
}

func NewTokenRateLimiter(requestsPerSecond float64, burst int) *TokenRateLimiter {
	rl := &TokenRateLimiter{
		rps:             requestsPerSecond,
		burst:           burst,
		cleanupInterval: 5 * time.Minute,
		stopChan:        make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *TokenRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

func (rl *TokenRateLimiter) getLimiter(token string) *rate.Limiter {
	now := time.Now()
	if entry, ok := rl.limiters.Load(token); ok {
		e := entry.(*tokenLimiterEntry)
		e.lastSeen = now
		return e.limiter
	}
	entry := &tokenLimiterEntry{
		limiter:  rate.NewLimiter(rate.Limit(rl.rps), rl.burst),
		lastSeen: now,
	}
	actual, _ := rl.limiters.LoadOrStore(token, entry)
	return actual.(*tokenLimiterEntry).limiter
}

func (rl *TokenRateLimiter) Allow(token string) bool {
	if rl.getLimiter(token).Allow() {
		return true
	}
	atomic.AddUint64(&rl.rejectedCount, 1)
	return false
}

func (rl *TokenRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *TokenRateLimiter) cleanup() {
	cutoff := time.Now().Add(-rl.cleanupInterval * 2)
	rl.limiters.Range(func(key, value any) bool {
		if value.(*tokenLimiterEntry).lastSeen.Before(cutoff) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// peekToken extracts auth.token from the request body without consuming it,
// so the rate limiter can key on it before the handler fully decodes the
// payload. Non-JSON or unreadable bodies fall back to the remote address so
// malformed traffic still gets bucketed.
func peekToken(r *http.Request) string {
	const maxPeek = 1 << 16
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPeek))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))

	if err != nil {
		return r.RemoteAddr
	}
	var probe struct {
		Auth struct {
			Token string `json:"token"`
		} `json:"auth"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Auth.Token == "" {
		return r.RemoteAddr
	}
	return probe.Auth.Token
}

// Middleware rejects requests whose auth token has exceeded its budget
// before the body is even fully parsed.
func (rl *TokenRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		token := peekToken(r)
		if !rl.Allow(token) {
			ingestmetrics.RateLimited.Inc()
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
