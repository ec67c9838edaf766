package worker

import (
	"time"

	"signalsync/internal/database"
)

// RetryPolicy defines linear backoff parameters for queue retries.
type RetryPolicy struct {
	MaxRetries int
	Step       time.Duration
	MaxDelay   time.Duration
}

// NextDelay returns the delay before retry number retryCount (1-based):
// retryCount*Step, clamped to MaxDelay.
func (r RetryPolicy) NextDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if r.Step <= 0 {
		r.Step = database.DefaultRetryStep
	}

	d := time.Duration(retryCount) * r.Step
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	return d
}

// Backoff adapts the policy to the queue store.
func (r RetryPolicy) Backoff() database.Backoff {
	return r.NextDelay
}
