package engine

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultJitter is the uniform jitter factor applied to computed delays
// (spec.md §4.5 step 4c).
const DefaultJitter = 0.5

// ComputeDelay returns the pre-jitter delay for a given attempt:
// min(max_delay, base_delay * 2^(attempt-1)) (spec.md §4.5 step 4c,
// §8 "Backoff bounds" property). Exposed as a pure function so the bound
// is independently testable; the engine's actual sleep uses
// newExponentialBackOff below, configured to reproduce the same formula
// with jitter applied by the library.
func ComputeDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}
	return delay
}

// newExponentialBackOff configures github.com/cenkalti/backoff/v5 to
// compute base_delay * 2^(attempt-1) capped at max_delay, jittered
// uniformly in [1-jitter, 1+jitter] — the library's randomization formula
// (currentInterval ± currentInterval*RandomizationFactor) matches
// spec.md's multiplicative jitter form exactly, so no extra jitter layer
// is needed on top.
func newExponentialBackOff(base, max time.Duration, jitter float64) *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(base),
		backoff.WithMaxInterval(max),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(jitter),
		backoff.WithMaxElapsedTime(0),
	)
}

// jitteredDelay is what the engine actually sleeps: ComputeDelay's
// deterministic pre-jitter bound, passed through a single-shot
// ExponentialBackOff so the multiplicative jitter factor in
// [1-jitter, 1+jitter] (spec.md §4.5 step 4c) lands on top of it. Seeding
// the backoff with InitialInterval == MaxInterval == pre means its first
// (and only) NextBackOff() call returns pre randomized by RandomizationFactor,
// independent of the attempt number the backoff instance itself would
// otherwise have to track — ComputeDelay already carries that via `attempt`,
// so this stays resumable across process restarts the way a long-lived
// stateful BackOff instance would not be.
func jitteredDelay(base, max time.Duration, attempt int, jitter float64) time.Duration {
	pre := ComputeDelay(base, max, attempt)
	return newExponentialBackOff(pre, pre, jitter).NextBackOff()
}
