package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Outcome classifies the result of one Execute call for bookkeeping.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeRejected Outcome = "rejected"
)

// Config tunes one executor instance. Injected at construction so each call
// site (orchestrator, email channel, ...) carries its own thresholds.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	Jitter           float64 // randomization fraction applied to each delay
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		MaxAttempts:      3,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		Jitter:           0.2,
	}
}

// PermanentError marks an error as not retryable. The retry loop stops
// immediately when the operation returns one.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the executor will not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// permanenter lets domain error types opt out of retries without importing
// this package's wrapper.
type permanenter interface {
	Permanent() bool
}

func isPermanent(err error) bool {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	var p permanenter
	return errors.As(err, &p) && p.Permanent()
}

// Executor wraps operations in the breaker gate plus a bounded retry loop with
// exponential backoff and jitter. Exhausting all attempts counts as a single
// breaker failure, not one per attempt.
type Executor struct {
	cfg       Config
	breaker   *Breaker
	sleep     func(ctx context.Context, d time.Duration) error
	onOutcome func(Outcome)
	logger    *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithOutcomeFunc registers a callback invoked once per Execute call with the
// final outcome.
func WithOutcomeFunc(fn func(Outcome)) Option {
	return func(e *Executor) { e.onOutcome = fn }
}

// WithSleep overrides the inter-attempt sleep. Tests inject a fake to capture
// the backoff schedule.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func NewExecutor(cfg Config, store StateStore, opts ...Option) *Executor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	e := &Executor{
		cfg:     cfg,
		breaker: NewBreaker(store, cfg.FailureThreshold, cfg.Cooldown),
		sleep:   sleepCtx,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Breaker exposes the underlying breaker for health reporting.
func (e *Executor) Breaker() *Breaker { return e.breaker }

// Execute runs op under the breaker and retry policy. If the breaker is open
// it returns ErrCircuitOpen without invoking op. Transient failures are
// retried up to MaxAttempts with delays of
// min(MaxDelay, BaseDelay*2^(attempt-1)) plus jitter; permanent failures stop
// the loop immediately. The last underlying error is returned on exhaustion.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := e.breaker.Allow(ctx); err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			e.report(OutcomeRejected)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.BaseDelay
	bo.MaxInterval = e.cfg.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = e.cfg.Jitter
	bo.Reset()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, bo.NextBackOff()); err != nil {
				// Caller timeout fired mid-retry: abandon further attempts.
				// The failed attempts so far still count as one breaker
				// failure below.
				lastErr = err
				break
			}
		}

		attempts = attempt
		err := op(ctx)
		if err == nil {
			if serr := e.breaker.ReportSuccess(ctx); serr != nil {
				e.logger.Warn("breaker state save failed", "error", serr)
			}
			e.report(OutcomeSuccess)
			return nil
		}
		lastErr = err

		if isPermanent(err) {
			break
		}
		if ctx.Err() != nil {
			// Caller timeout: surface it instead of the attempt error; the
			// attempt is still booked against the breaker below.
			lastErr = ctx.Err()
			break
		}
		e.logger.Warn("attempt failed, will retry",
			"attempt", attempt,
			"max_attempts", e.cfg.MaxAttempts,
			"error", err,
		)
	}

	if serr := e.breaker.ReportFailure(ctx); serr != nil {
		e.logger.Warn("breaker state save failed", "error", serr)
	}
	e.report(OutcomeFailure)
	return fmt.Errorf("after %d attempt(s): %w", attempts, lastErr)
}

func (e *Executor) report(o Outcome) {
	if e.onOutcome != nil {
		e.onOutcome(o)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
