// Package retry runs fallible calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/googleapis/gax-go/v2"
)

const (
	defaultAttempts   = 3
	defaultInitial    = 100 * time.Millisecond
	defaultMax        = 2 * time.Second
	defaultMultiplier = 2
)

// Policy bounds how often and how patiently a call is retried.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
}

// DefaultPolicy returns the policy used when configuration leaves fields empty.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: defaultAttempts,
		Initial:     defaultInitial,
		Max:         defaultMax,
		Multiplier:  defaultMultiplier,
	}
}

func (p Policy) normalised() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// Sleeper pauses between attempts. gax.Sleep is the production implementation.
type Sleeper func(ctx context.Context, d time.Duration) error

// Retryable classifies errors worth another attempt.
type Retryable func(error) bool

// ErrAttemptsExhausted wraps the last error once every attempt failed.
var ErrAttemptsExhausted = errors.New("retry: attempts exhausted")

// Do calls fn until it succeeds, returns a non-retryable error, attempts run out or ctx ends.
// The attempt number passed to fn starts at 1.
func Do(ctx context.Context, policy Policy, sleep Sleeper, retryable Retryable, fn func(ctx context.Context, attempt int) error) error {
	policy = policy.normalised()
	if sleep == nil {
		sleep = gax.Sleep
	}
	backoff := gax.Backoff{
		Initial:    policy.Initial,
		Max:        policy.Max,
		Multiplier: policy.Multiplier,
	}

	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if retryable == nil || !retryable(err) {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if sleepErr := sleep(ctx, backoff.Pause()); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
	}
	return errors.Join(ErrAttemptsExhausted, err)
}
