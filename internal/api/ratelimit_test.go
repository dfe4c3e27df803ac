package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRateLimiter_BasicEnforcement(t *testing.T) {
	limiter := NewRateLimiter(2.0, 2)

	if !limiter.Allow("client1") {
		t.Error("first request should be allowed")
	}
	if !limiter.Allow("client1") {
		t.Error("second request should be allowed")
	}
	if limiter.Allow("client1") {
		t.Error("third request should be rate limited")
	}
}

func TestRateLimiter_RateReset(t *testing.T) {
	limiter := NewRateLimiter(2.0, 2)

	limiter.Allow("client1")
	limiter.Allow("client1")
	if limiter.Allow("client1") {
		t.Error("request should be rate limited")
	}

	time.Sleep(600 * time.Millisecond)

	if !limiter.Allow("client1") {
		t.Error("request should be allowed after waiting")
	}
}

func TestRateLimiter_MultipleClients(t *testing.T) {
	limiter := NewRateLimiter(1.0, 1)

	if !limiter.Allow("client1") {
		t.Error("client1 first request should be allowed")
	}
	if limiter.Allow("client1") {
		t.Error("client1 second request should be limited")
	}
	if !limiter.Allow("client2") {
		t.Error("client2 should have its own bucket")
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	limiter := NewRateLimiter(5.0, 5)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow("client1") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got < 5 || got > 6 {
		t.Errorf("expected about 5 allowed requests, got %d", got)
	}
}

func TestRateLimiter_WaitContextCancelled(t *testing.T) {
	limiter := NewRateLimiter(0.1, 1)
	limiter.Allow("client1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx, "client1")
	if err == nil {
		t.Fatal("expected wait to fail")
	}
	if errors.Is(err, context.Canceled) {
		t.Errorf("unexpected cancel error: %v", err)
	}
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(1.0, 1)
	limiter.idleTTL = time.Millisecond

	limiter.Allow("client1")
	time.Sleep(5 * time.Millisecond)
	limiter.Allow("client2")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.clientLimiters["client1"]; ok {
		t.Error("idle client limiter should have been evicted")
	}
	if len(limiter.clientLimiters) != 1 {
		t.Errorf("expected 1 client limiter, got %d", len(limiter.clientLimiters))
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	e := echo.New()
	e.Use(NewRateLimiter(1.0, 1).Middleware())
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	codes := make([]int, 0, 2)
	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("expected [200 429], got %v", codes)
	}
}
