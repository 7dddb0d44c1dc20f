package services

import (
	"log"
	"time"
)

// RetryPolicy is the single bounded-retry-with-backoff combinator shared
// by the carrier client, its login path, and the rate-fetch path.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(error) bool

	// Sleep is overridable in tests; nil means time.Sleep.
	Sleep func(time.Duration)
}

// LinearBackoff waits attempt*base between tries.
func LinearBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * base
	}
}

// Do runs fn up to MaxAttempts times. A non-retryable error aborts
// immediately; otherwise the last error is returned after exhaustion.
func (p RetryPolicy) Do(label string, fn func() error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		wait := time.Duration(0)
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		log.Printf("[Retry] %s attempt %d/%d failed: %v (next in %s)", label, attempt, attempts, err, wait)
		sleep(wait)
	}
	return err
}
