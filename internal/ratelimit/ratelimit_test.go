package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestClientKeyPrefersAPIKey(t *testing.T) {
	key := ClientKey("wx_live_abcdefghijklmnop", "1.2.3.4", func() string { return "rand" })
	if key != "key:wx_live_" {
		t.Errorf("ClientKey = %q, want first 8 chars prefixed", key)
	}
}

func TestClientKeyFallsBackToIP(t *testing.T) {
	key := ClientKey("", "1.2.3.4", func() string { return "rand" })
	if key != "ip:1.2.3.4" {
		t.Errorf("ClientKey = %q, want ip:1.2.3.4", key)
	}
}

func TestClientKeyFallsBackToRandom(t *testing.T) {
	key := ClientKey("", "", func() string { return "r-1" })
	if key != "anon:r-1" {
		t.Errorf("ClientKey = %q, want anon:r-1", key)
	}
}

func TestInProcessLimiterAllowsUpToLimit(t *testing.T) {
	l := NewInProcessLimiter(time.Hour)
	defer l.Stop()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, "k1", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
		if !res.Allowed {
			t.Errorf("Allow #%d = denied, want allowed", i)
		}
	}

	res, err := l.Allow(ctx, "k1", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow #4: %v", err)
	}
	if res.Allowed {
		t.Errorf("Allow #4 = allowed, want denied")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
}

func TestInProcessLimiterResetsAfterWindow(t *testing.T) {
	l := NewInProcessLimiter(time.Hour)
	defer l.Stop()
	ctx := context.Background()

	if _, err := l.Allow(ctx, "k2", 1, 10*time.Millisecond); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	res, err := l.Allow(ctx, "k2", 1, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Allow after window: %v", err)
	}
	if !res.Allowed {
		t.Errorf("Allow after window = denied, want allowed")
	}
}

func TestInProcessLimiterIsolatesKeys(t *testing.T) {
	l := NewInProcessLimiter(time.Hour)
	defer l.Stop()
	ctx := context.Background()

	if _, err := l.Allow(ctx, "a", 1, time.Minute); err != nil {
		t.Fatalf("Allow a: %v", err)
	}
	res, err := l.Allow(ctx, "b", 1, time.Minute)
	if err != nil {
		t.Fatalf("Allow b: %v", err)
	}
	if !res.Allowed {
		t.Errorf("distinct key b was denied, want allowed")
	}
}

func TestInProcessLimiterJanitorEvictsExpiredWindows(t *testing.T) {
	l := NewInProcessLimiter(5 * time.Millisecond)
	defer l.Stop()
	ctx := context.Background()

	if _, err := l.Allow(ctx, "evict-me", 1, 5*time.Millisecond); err != nil {
		t.Fatalf("Allow: %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	l.mu.Lock()
	_, present := l.windows["evict-me"]
	l.mu.Unlock()
	if present {
		t.Errorf("expected expired window to be evicted by janitor")
	}
}
