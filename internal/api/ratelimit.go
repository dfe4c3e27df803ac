package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimiter applies a global token bucket and one bucket per client.
type RateLimiter struct {
	globalLimiter  *rate.Limiter
	clientLimiters map[string]*clientLimiter
	mu             sync.Mutex

	requestsPerSecond float64
	burst             int
	idleTTL           time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter. The global bucket allows ten
// clients' worth of traffic.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		globalLimiter:     rate.NewLimiter(rate.Limit(requestsPerSecond*10), burst*10),
		clientLimiters:    make(map[string]*clientLimiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		idleTTL:           10 * time.Minute,
	}
}

// Allow checks if a request should be allowed
func (rl *RateLimiter) Allow(clientID string) bool {
	if !rl.globalLimiter.Allow() {
		return false
	}
	return rl.getClientLimiter(clientID).Allow()
}

// Wait blocks until a request can be made
func (rl *RateLimiter) Wait(ctx context.Context, clientID string) error {
	if err := rl.globalLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("global rate limit: %w", err)
	}
	if err := rl.getClientLimiter(clientID).Wait(ctx); err != nil {
		return fmt.Errorf("client rate limit: %w", err)
	}
	return nil
}

// getClientLimiter gets or creates the limiter for a client and drops
// limiters idle for longer than idleTTL.
func (rl *RateLimiter) getClientLimiter(clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if cl, ok := rl.clientLimiters[clientID]; ok {
		cl.lastSeen = now
		return cl.limiter
	}

	for id, cl := range rl.clientLimiters {
		if now.Sub(cl.lastSeen) > rl.idleTTL {
			delete(rl.clientLimiters, id)
		}
	}

	cl := &clientLimiter{
		limiter:  rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burst),
		lastSeen: now,
	}
	rl.clientLimiters[clientID] = cl
	return cl.limiter
}

// Middleware rejects requests over the limit with 429. Clients are keyed by
// echo's RealIP.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.Allow(c.RealIP()) {
				return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			}
			return next(c)
		}
	}
}
