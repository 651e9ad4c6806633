package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryLimiterEnforcesCeiling(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(Config{MaxPerWindow: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "u1")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok {
			t.Fatalf("event %d denied below ceiling", i+1)
		}
	}

	ok, _ := l.Allow(ctx, "u1")
	if ok {
		t.Fatal("event above ceiling allowed")
	}

	// Independent keys have independent windows.
	ok, _ = l.Allow(ctx, "u2")
	if !ok {
		t.Fatal("fresh key denied")
	}
}

func TestMemoryLimiterWindowResets(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	l := NewMemoryLimiter(Config{MaxPerWindow: 1, Window: time.Minute})
	l.now = func() time.Time { return now }

	if ok, _ := l.Allow(ctx, "u1"); !ok {
		t.Fatal("first event denied")
	}
	if ok, _ := l.Allow(ctx, "u1"); ok {
		t.Fatal("second event in window allowed")
	}

	// The window resets even though it was exceeded.
	now = now.Add(61 * time.Second)
	if ok, _ := l.Allow(ctx, "u1"); !ok {
		t.Fatal("event after window reset denied")
	}
}

func TestMemoryLimiterConcurrentAcquisition(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(Config{MaxPerWindow: 100, Window: time.Minute})

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow(ctx, "u1"); ok {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Fatalf("allowed %d concurrent events, want exactly 100", allowed)
	}
}
