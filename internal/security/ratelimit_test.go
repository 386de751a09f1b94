package security

import (
	"testing"

	"golang.org/x/time/rate"
)

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 3)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Errorf("request %d within burst should be allowed", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst should be denied")
	}
}

func TestRateLimiterPerIPIsolation(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	defer rl.Stop()

	if !rl.Allow("10.0.0.1") {
		t.Error("first request from IP A should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("second request from IP A should be denied")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("first request from IP B should be allowed despite A's exhaustion")
	}
}

func TestRateLimiterUpdateRate(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	defer rl.Stop()

	rl.Allow("10.0.0.1")
	if rl.Allow("10.0.0.1") {
		t.Error("burst of 1 should be exhausted")
	}

	rl.UpdateRate(rate.Limit(10), 10)
	if !rl.Allow("10.0.0.1") {
		t.Error("limiter should be recreated with the new rate after UpdateRate")
	}
}

func TestRateLimiterMaxEntries(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	defer rl.Stop()
	rl.maxEntries = 2

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.2") {
		t.Fatal("first two IPs should be tracked")
	}
	if rl.Allow("10.0.0.3") {
		t.Error("a new IP beyond maxEntries should be rejected")
	}
}
