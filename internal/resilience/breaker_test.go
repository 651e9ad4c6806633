package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(NewMemoryStore(), 3, time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.ReportFailure(ctx); err != nil {
			t.Fatalf("ReportFailure: %v", err)
		}
		if err := b.Allow(ctx); err != nil {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i+1)
		}
	}

	b.ReportFailure(ctx)
	if err := b.Allow(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after threshold, got %v", err)
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	b := NewBreaker(NewMemoryStore(), 1, 30*time.Second)
	b.now = func() time.Time { return now }

	b.ReportFailure(ctx)
	if err := b.Allow(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("breaker should be open")
	}

	// Cooldown elapses: exactly one trial call is admitted.
	now = now.Add(31 * time.Second)
	if err := b.Allow(ctx); err != nil {
		t.Fatalf("expected trial call after cooldown, got %v", err)
	}
	if err := b.Allow(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("second call during half-open trial should be rejected")
	}

	s, _ := b.Current(ctx)
	if s.State != StateHalfOpen {
		t.Fatalf("state = %s, want %s", s.State, StateHalfOpen)
	}
}

func TestBreakerClosesOnTrialSuccess(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	b := NewBreaker(NewMemoryStore(), 1, time.Second)
	b.now = func() time.Time { return now }

	b.ReportFailure(ctx)
	now = now.Add(2 * time.Second)
	if err := b.Allow(ctx); err != nil {
		t.Fatalf("trial call rejected: %v", err)
	}

	b.ReportSuccess(ctx)

	s, _ := b.Current(ctx)
	if s.State != StateClosed || s.ConsecutiveFailures != 0 {
		t.Fatalf("got state=%s failures=%d, want closed with 0 failures", s.State, s.ConsecutiveFailures)
	}
	if err := b.Allow(ctx); err != nil {
		t.Fatalf("closed breaker rejected call: %v", err)
	}
}

func TestBreakerReopensOnTrialFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	b := NewBreaker(NewMemoryStore(), 5, time.Second)
	b.now = func() time.Time { return now }

	// Force open via repeated failures.
	for i := 0; i < 5; i++ {
		b.ReportFailure(ctx)
	}
	now = now.Add(2 * time.Second)
	if err := b.Allow(ctx); err != nil {
		t.Fatalf("trial call rejected: %v", err)
	}

	// Failed trial reopens immediately, well below the threshold count.
	b.ReportFailure(ctx)
	s, _ := b.Current(ctx)
	if s.State != StateOpen {
		t.Fatalf("state = %s, want %s after failed trial", s.State, StateOpen)
	}
}

func TestBreakerSharedStoreConcurrentFailures(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// Two replicas booking failures against one store concurrently; every
	// increment must survive.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		b := NewBreaker(store, 100, time.Minute)
		for j := 0; j < 25; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.ReportFailure(ctx)
			}()
		}
	}
	wg.Wait()

	s, _ := store.Load(ctx)
	if s.ConsecutiveFailures != 50 {
		t.Fatalf("failures = %d, want 50 (lost updates across replicas)", s.ConsecutiveFailures)
	}
}

func TestBreakerThresholdEnforcedAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	b1 := NewBreaker(store, 2, time.Minute)
	b2 := NewBreaker(store, 2, time.Minute)

	b1.ReportFailure(ctx)
	b2.ReportFailure(ctx)

	if err := b1.Allow(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("two failures across replicas did not open the shared breaker")
	}
	if err := b2.Allow(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("second replica does not see the open breaker")
	}
}

func TestBreakerSingleTrialAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	clock := func() time.Time { return now }

	b1 := NewBreaker(store, 1, time.Second)
	b1.now = clock
	b2 := NewBreaker(store, 1, time.Second)
	b2.now = clock

	b1.ReportFailure(ctx)
	now = now.Add(2 * time.Second)

	// Both replicas observe the elapsed cooldown; only one wins the trial.
	if err := b1.Allow(ctx); err != nil {
		t.Fatalf("first replica trial rejected: %v", err)
	}
	if err := b2.Allow(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("both replicas admitted a half-open trial")
	}
}

func TestMemoryStoreTryHalfOpenSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.RecordFailure(ctx, time.Now(), 1)

	won, err := store.TryHalfOpen(ctx)
	if err != nil || !won {
		t.Fatalf("first caller should win the transition, got won=%v err=%v", won, err)
	}
	won, err = store.TryHalfOpen(ctx)
	if err != nil || won {
		t.Fatalf("second caller must lose the transition, got won=%v err=%v", won, err)
	}
}
