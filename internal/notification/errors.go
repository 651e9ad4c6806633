package notification

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned when the business-level limiter denies a send.
// Never retried internally; the caller may retry after the window resets.
var ErrRateLimited = errors.New("rate limit exceeded")

// ValidationError reports malformed input. Not retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// FailureKind classifies a delivery failure.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
)

// DeliveryError reports a channel failure. Transient failures are retried by
// the channel's resilience executor; permanent ones surface immediately.
type DeliveryError struct {
	Channel Channel
	Kind    FailureKind
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery (%s): %v", e.Channel, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Permanent satisfies the resilience executor's retry gate.
func (e *DeliveryError) Permanent() bool { return e.Kind == FailurePermanent }

// TransientDelivery wraps err as a retryable delivery failure.
func TransientDelivery(ch Channel, err error) *DeliveryError {
	return &DeliveryError{Channel: ch, Kind: FailureTransient, Err: err}
}

// PermanentDelivery wraps err as a non-retryable delivery failure.
func PermanentDelivery(ch Channel, err error) *DeliveryError {
	return &DeliveryError{Channel: ch, Kind: FailurePermanent, Err: err}
}

// ProviderError carries an HTTP-ish status code from a delivery provider so
// channels can classify without string matching.
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider status %d: %v", e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
