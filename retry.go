package pipehost

import "time"

// RetryBuilder builds the RetryPolicy of a solid, for
// PipelineBuilder.SolidWithRetry.
//
// A solid whose attempt fails and has attempts left records a STEP_RETRY
// event carrying the error, waits for the policy's delay and runs again
// with the same inputs. The last failed attempt records STEP_FAILURE. A run
// that is terminated while a solid waits between attempts ends CANCELED
// without further attempts.
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry starts a policy allowing maxAttempts attempts per run, the first
// one included. Values below 1 mean a single attempt. Without a backoff
// option retries start at once.
func Retry(maxAttempts int) RetryBuilder {
	return RetryBuilder{policy: RetryPolicy{MaxAttempts: max(maxAttempts, 1)}}
}

// WithExponentialBackoff waits initial before the first retry and
// multiplies the wait by multiplier for each following one, up to limit.
// multiplier <= 0 means 2. limit <= 0 leaves the wait uncapped.
//
//	Retry(3).WithExponentialBackoff(100*time.Millisecond, 2, 2*time.Second)
func (r RetryBuilder) WithExponentialBackoff(initial time.Duration, multiplier float64, limit time.Duration) RetryBuilder {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	r.policy.Backoff = initial
	r.policy.BackoffMultiplier = multiplier
	r.policy.MaxBackoff = limit
	return r
}

// WithConstantBackoff waits delay before every retry.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	r.policy.Backoff = delay
	r.policy.BackoffMultiplier = 1.0
	r.policy.MaxBackoff = 0
	return r
}

// Immediate drops any backoff; the attempt count is kept.
func (r RetryBuilder) Immediate() RetryBuilder {
	r.policy = RetryPolicy{MaxAttempts: r.policy.MaxAttempts}
	return r
}

// Delays lists the waits before each retry the policy allows.
func (r RetryBuilder) Delays() []time.Duration {
	p := r.policy
	out := make([]time.Duration, 0, p.Attempts()-1)
	for n := 1; n < p.Attempts(); n++ {
		out = append(out, p.Delay(n))
	}
	return out
}

// Policy returns the built policy.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}
