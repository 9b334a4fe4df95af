package runner

import (
	"fmt"

	"market_maker/internal/risk"

	"github.com/pkg/errors"
)

// Kind decides how the loop recovers from a failed cycle.
type Kind int

const (
	// KindUnhealthy skips the cycle and retries after the short backoff.
	KindUnhealthy Kind = iota + 1
	KindMaintenance
	KindRetryable
	// KindFatal stops the loop.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindUnhealthy:
		return "unhealthy"
	case KindMaintenance:
		return "maintenance"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type CycleError struct {
	Kind Kind
	Err  error
}

func (e *CycleError) Error() string { return e.Kind.String() + ": " + e.Err.Error() }
func (e *CycleError) Unwrap() error { return e.Err }

func unhealthy(format string, args ...any) error {
	return &CycleError{Kind: KindUnhealthy, Err: errors.Errorf(format, args...)}
}

// classify tags err with the recovery it needs. Errors that are already
// tagged pass through unchanged.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ce *CycleError
	if errors.As(err, &ce) {
		return err
	}
	kind := KindRetryable
	if errors.Is(err, risk.ErrNoMarkPrice) {
		kind = KindFatal
	}
	return &CycleError{Kind: kind, Err: errors.Wrap(err, msg)}
}

// KindOf reports the kind of err. Untagged errors count as retryable.
func KindOf(err error) Kind {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindRetryable
}
