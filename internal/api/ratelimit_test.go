package api

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()

	if !rl.Allow("anon_a") || !rl.Allow("anon_a") {
		t.Fatal("first two requests should be allowed")
	}
	if rl.Allow("anon_a") {
		t.Fatal("third request should be rejected")
	}
	if !rl.Allow("anon_b") {
		t.Fatal("other keys must not share the budget")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Close()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("anon_a") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("anon_a") {
		t.Fatal("second request inside window should be rejected")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("anon_a") {
		t.Fatal("request after window should be allowed")
	}
}

func TestRateLimiterEvictsStaleKeys(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Close()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.Allow("anon_a")

	now = now.Add(2 * time.Minute)
	rl.evict()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.requests["anon_a"]; ok {
		t.Fatal("stale key should be evicted")
	}
}

func TestRateLimiterCloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Close()
	rl.Close()
}
