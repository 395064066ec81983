package enrichment

import (
	"errors"
	"time"

	apperrors "wikirelay/pkg/errors"
	"wikirelay/pkg/retry"
)

// RetryState carries one Enrich call through its attempts. It is a value; Advance returns the next state.
type RetryState struct {
	Attempt     int
	MaxAttempts int
	BaseDelay   time.Duration
	Result      string
	Terminal    bool
	LastErr     error
}

func NewRetryState(maxAttempts int, baseDelay time.Duration) RetryState {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return RetryState{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

// Advance records the outcome of the attempt that just finished.
func (s RetryState) Advance(result string, err error) RetryState {
	s.Attempt++
	s.LastErr = err

	switch {
	case err == nil:
		s.Result = result
		s.Terminal = true
	case !isRetryable(err), s.Attempt >= s.MaxAttempts:
		s.Result = ""
		s.Terminal = true
	}
	return s
}

// NextDelay is the pause before the next attempt: Attempt × BaseDelay.
func (s RetryState) NextDelay() time.Duration {
	return retry.LinearDelay(s.Attempt, s.BaseDelay)
}

// Exhausted reports whether the state ended because attempts ran out.
func (s RetryState) Exhausted() bool {
	return s.Terminal && s.LastErr != nil && isRetryable(s.LastErr)
}

func isRetryable(err error) bool {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.IsRetryable()
	}
	return true
}

// outcome labels an attempt error for metrics and logs.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, errBreakerOpen):
		return "breaker_open"
	case errors.Is(err, apperrors.ErrTransport):
		return "transport"
	case errors.Is(err, apperrors.ErrDecode):
		return "decode"
	case errors.Is(err, apperrors.ErrUnexpected):
		return "unexpected"
	case errors.Is(err, apperrors.ErrEmptyResult):
		return "empty"
	default:
		return "error"
	}
}
