package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterDisabled(t *testing.T) {
	var nilLimiter *Limiter
	for _, l := range []*Limiter{nilLimiter, New(0, 5)} {
		for i := 0; i < 100; i++ {
			if ok, _ := l.Allow("k"); !ok {
				t.Fatal("disabled limiter rejected a request")
			}
		}
	}
}

func TestLimiterBurstAndRefill(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(2, 3)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow("a"); !ok {
			t.Fatalf("request %d rejected within burst", i)
		}
	}
	ok, retry := l.Allow("a")
	if ok {
		t.Fatal("request beyond burst allowed")
	}
	if retry != 500*time.Millisecond {
		t.Fatalf("retryAfter = %v, want 500ms", retry)
	}

	if ok, _ := l.Allow("b"); !ok {
		t.Fatal("keys should not share a bucket")
	}

	now = now.Add(500 * time.Millisecond)
	if ok, _ := l.Allow("a"); !ok {
		t.Fatal("token should have refilled")
	}
}

func TestLimiterDefaultBurst(t *testing.T) {
	l := New(0.1, 0)
	l.now = func() time.Time { return time.Unix(0, 0) }
	if ok, _ := l.Allow("a"); !ok {
		t.Fatal("first request rejected")
	}
	if ok, _ := l.Allow("a"); ok {
		t.Fatal("burst should default to one for slow rates")
	}
}

func TestLimiterPrunesIdleKeys(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(1, 1)
	l.now = func() time.Time { return now }
	l.maxKeys = 2

	l.Allow("a")
	l.Allow("b")
	now = now.Add(time.Minute)
	l.Allow("c")
	if len(l.buckets) != 1 {
		t.Fatalf("buckets = %d, want idle keys pruned", len(l.buckets))
	}
}
