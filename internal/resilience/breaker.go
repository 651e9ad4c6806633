// Package resilience provides the circuit-breaker and retry executor shared by
// the notification orchestrator and the delivery channels. Each call site owns
// its own Breaker instance; state lives behind a StateStore so a multi-instance
// deployment can point all replicas at the same counters.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without invoking
// the wrapped operation. Callers should back off.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state machine position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// BreakerState is the persisted breaker record.
type BreakerState struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure"`
}

// StateStore persists breaker state. Every mutation is a single atomic
// operation at the store, so replicas sharing one store cannot lose failure
// increments or both win the half-open transition.
type StateStore interface {
	Load(ctx context.Context) (BreakerState, error)
	// Reset returns the breaker to CLOSED with a zero failure count.
	Reset(ctx context.Context) error
	// RecordFailure increments the failure count, stamps the failure time and
	// opens the breaker when the count reaches threshold or a half-open trial
	// failed. Returns the resulting state.
	RecordFailure(ctx context.Context, at time.Time, threshold int) (BreakerState, error)
	// TryHalfOpen flips OPEN to HALF_OPEN and reports whether this caller won
	// the transition. At most one concurrent caller wins.
	TryHalfOpen(ctx context.Context) (bool, error)
}

// MemoryStore keeps breaker state in process memory. Correct for a
// single-instance deployment and for tests.
type MemoryStore struct {
	mu    sync.Mutex
	state BreakerState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: BreakerState{State: StateClosed}}
}

func (m *MemoryStore) Load(ctx context.Context) (BreakerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *MemoryStore) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = BreakerState{State: StateClosed}
	return nil
}

func (m *MemoryStore) RecordFailure(ctx context.Context, at time.Time, threshold int) (BreakerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.ConsecutiveFailures++
	m.state.LastFailure = at
	if m.state.State == StateHalfOpen || m.state.ConsecutiveFailures >= threshold {
		m.state.State = StateOpen
	}
	return m.state, nil
}

func (m *MemoryStore) TryHalfOpen(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.State != StateOpen {
		return false, nil
	}
	m.state.State = StateHalfOpen
	return true, nil
}

// Breaker guards a dependency with the CLOSED/OPEN/HALF_OPEN state machine.
// After FailureThreshold consecutive failures it opens; once Cooldown has
// elapsed it admits exactly one trial call in HALF_OPEN. All state mutation is
// delegated to the store, so the Breaker itself carries no synchronization.
type Breaker struct {
	store     StateStore
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func NewBreaker(store StateStore, threshold int, cooldown time.Duration) *Breaker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Breaker{
		store:     store,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. Returns ErrCircuitOpen when the
// breaker is open and the cooldown has not elapsed, or while a half-open trial
// is already in flight.
func (b *Breaker) Allow(ctx context.Context) error {
	s, err := b.store.Load(ctx)
	if err != nil {
		return err
	}

	switch s.State {
	case StateOpen:
		if b.now().Sub(s.LastFailure) < b.cooldown {
			return ErrCircuitOpen
		}
		// Cooldown elapsed: the store admits one trial call.
		won, err := b.store.TryHalfOpen(ctx)
		if err != nil {
			return err
		}
		if !won {
			// Another caller claimed the trial slot first.
			return ErrCircuitOpen
		}
		return nil
	case StateHalfOpen:
		// A trial is in flight; reject until it reports an outcome.
		return ErrCircuitOpen
	default:
		return nil
	}
}

// ReportSuccess resets the failure count and closes the breaker.
func (b *Breaker) ReportSuccess(ctx context.Context) error {
	return b.store.Reset(ctx)
}

// ReportFailure increments the consecutive-failure count and opens the breaker
// once the threshold is reached. A failed half-open trial reopens immediately.
func (b *Breaker) ReportFailure(ctx context.Context) error {
	_, err := b.store.RecordFailure(ctx, b.now(), b.threshold)
	return err
}

// Current returns the breaker state for health reporting.
func (b *Breaker) Current(ctx context.Context) (BreakerState, error) {
	return b.store.Load(ctx)
}
