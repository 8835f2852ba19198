package flow

import "time"

// RetryPolicy defines automatic retry configuration for transient
// step failures.
//
// When a step fails with a transient classification, the policy
// determines how many attempts are made and how long to wait between
// them. Delays grow geometrically and are capped at MaxDelay.
//
// Backoff is deterministic: the same attempt number always yields the
// same delay. Runs execute one step at a time, so there is no retry
// storm for jitter to break up, and deterministic delays keep recovery
// timelines predictable.
type RetryPolicy struct {
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// Multiplier scales the delay after each retry.
	// Must be >= 1.0.
	Multiplier float64

	// MaxDelay caps the computed delay. Must be >= InitialDelay.
	MaxDelay time.Duration

	// MaxAttempts is the maximum number of executor invocations,
	// including the initial attempt. Must be >= 1; a value of 1 means
	// no retries.
	MaxAttempts int
}

// DefaultRetryPolicy returns the standard policy: 5 attempts with
// delays of 1s, 2s, 4s, 8s between them, capped at 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  5,
	}
}

// Validate checks the policy configuration. Returns
// ErrInvalidRetryPolicy if any constraint is violated:
//   - MaxAttempts must be >= 1
//   - InitialDelay must be > 0
//   - Multiplier must be >= 1.0
//   - MaxDelay must be >= InitialDelay
func (rp RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.InitialDelay <= 0 {
		return ErrInvalidRetryPolicy
	}
	if rp.Multiplier < 1.0 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay < rp.InitialDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// Delay computes the wait before retry number attempt (1-based: the
// delay after the first failure is Delay(1)).
//
// delay = min(InitialDelay * Multiplier^(attempt-1), MaxDelay)
//
// Example with the default policy:
//   - attempt 1: 1s
//   - attempt 2: 2s
//   - attempt 3: 4s
//   - attempt 4: 8s
//   - attempt 10: 60s (capped)
func (rp RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(rp.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= rp.Multiplier
		if delay >= float64(rp.MaxDelay) {
			return rp.MaxDelay
		}
	}

	d := time.Duration(delay)
	if d > rp.MaxDelay {
		return rp.MaxDelay
	}
	return d
}
