package services

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy gates reconnect attempts with capped exponential backoff.
// Delays are deterministic (no jitter) and never stop growing until the cap.
type ReconnectPolicy struct {
	clock         Clock
	bo            *backoff.ExponentialBackOff
	nextAttemptAt time.Time
}

func NewReconnectPolicy(base, max time.Duration, clock Clock) *ReconnectPolicy {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.MaxInterval = max
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Clock = clock
	bo.Reset()

	return &ReconnectPolicy{
		clock: clock,
		bo:    bo,
	}
}

// Ready reports whether an attempt is allowed at now
func (p *ReconnectPolicy) Ready(now time.Time) bool {
	return !now.Before(p.nextAttemptAt)
}

// NextAttemptAt is zero when no failure is pending
func (p *ReconnectPolicy) NextAttemptAt() time.Time {
	return p.nextAttemptAt
}

// Failure records a failed attempt and returns the delay before the next one
func (p *ReconnectPolicy) Failure(now time.Time) time.Duration {
	delay := p.bo.NextBackOff()
	if delay == backoff.Stop {
		delay = p.bo.MaxInterval
	}
	p.nextAttemptAt = now.Add(delay)
	return delay
}

// Success resets the delay to base
func (p *ReconnectPolicy) Success() {
	p.bo.Reset()
	p.nextAttemptAt = time.Time{}
}

// Failing reports whether the last attempt failed
func (p *ReconnectPolicy) Failing() bool {
	return !p.nextAttemptAt.IsZero()
}
