package pipeline

import (
	"errors"
	"fmt"
)

// StepError is the classified outcome of a failed execution step. Only the
// execution step decides terminal versus retryable; callers translate:
// the queue consumer acks terminal failures and redelivers retryable ones,
// the HTTP step endpoint returns 2xx versus 5xx accordingly.
type StepError struct {
	Code      string
	Retryable bool
	// Backoff marks retryable failures that should wait for the recovery
	// sweep instead of being redelivered immediately (rate limits).
	Backoff bool
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (retryable=%t): %v", e.Code, e.Retryable, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func terminalErr(code string, err error) *StepError {
	return &StepError{Code: code, Retryable: false, Err: err}
}

func retryableErr(code string, err error) *StepError {
	return &StepError{Code: code, Retryable: true, Err: err}
}

// IsRetryable reports whether the dispatch surface should redeliver.
func IsRetryable(err error) bool {
	var step *StepError
	if errors.As(err, &step) {
		return step.Retryable
	}
	return false
}

// WantsBackoff reports whether redelivery should be deferred to the sweep.
func WantsBackoff(err error) bool {
	var step *StepError
	if errors.As(err, &step) {
		return step.Backoff
	}
	return false
}
