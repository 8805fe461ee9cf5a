package connectors

import (
	"math"
	"time"
)

const (
	// initialBackoffDuration is the starting duration for exponential backoff
	initialBackoffDuration = 100 * time.Millisecond

	// maxBackoffDuration is the maximum duration for backoff
	maxBackoffDuration = 10 * time.Second
)

// Backoff tracks consecutive failures of a non-blocking reader so it can skip
// polls until the backoff period has passed.
type Backoff struct {
	consecutiveFailures int
	retryAt             time.Time
}

// Failed records a failure at now and schedules the next attempt.
func (b *Backoff) Failed(now time.Time) {
	b.consecutiveFailures++
	b.retryAt = now.Add(BackoffDuration(b.consecutiveFailures))
}

// Succeeded resets the failure count.
func (b *Backoff) Succeeded() {
	b.consecutiveFailures = 0
	b.retryAt = time.Time{}
}

// Ready reports whether another attempt may be made at now.
func (b *Backoff) Ready(now time.Time) bool {
	return !now.Before(b.retryAt)
}

// BackoffDuration returns an increasingly longer duration as failures
// accumulate, up to a maximum duration.
func BackoffDuration(consecutiveFailures int) time.Duration {
	if consecutiveFailures == 0 {
		return 0
	}

	factor := math.Pow(2, float64(consecutiveFailures))
	return min(time.Duration(float64(initialBackoffDuration)*factor), maxBackoffDuration)
}
