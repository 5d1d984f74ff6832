// Package backoff computes exponential-backoff-with-jitter retry delays.
// locker.RetryPolicy builds a Policy from the locker's own retry delay for
// callers that retry lock acquisition.
package backoff

import (
	"math/rand"
	"time"
)

// Policy configures exponential backoff with jitter.
type Policy struct {
	// BaseDelay is the delay used for the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth. Zero means uncapped.
	MaxDelay time.Duration
	// MaxAttempts is the maximum number of attempts including the first.
	// Must be >= 1.
	MaxAttempts int
}

// Validate reports whether the policy is internally consistent.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errInvalidPolicy
	}
	if p.MaxDelay > 0 && p.BaseDelay > 0 && p.MaxDelay < p.BaseDelay {
		return errInvalidPolicy
	}
	return nil
}

// Compute returns the delay before retry attempt (0-indexed: 0 is the first
// retry after the initial attempt), following
// delay = min(base * 2^attempt, maxDelay) + jitter(0, base).
// rng may be nil, in which case the package-level math/rand source is used.
func Compute(attempt int, p Policy, rng *rand.Rand) time.Duration {
	delay := p.BaseDelay * (1 << attempt)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.BaseDelay <= 0 {
		return delay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(p.BaseDelay)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(p.BaseDelay))) // #nosec G404 -- jitter timing, not security
	}
	return delay + jitter
}

type invalidPolicyError struct{}

func (invalidPolicyError) Error() string { return "backoff: invalid policy" }

var errInvalidPolicy error = invalidPolicyError{}

// ErrInvalidPolicy is returned by Validate when MaxAttempts < 1 or MaxDelay
// is set below BaseDelay.
var ErrInvalidPolicy = errInvalidPolicy
