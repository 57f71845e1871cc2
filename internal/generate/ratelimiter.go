package generate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter implements a token bucket with exponential backoff
// for generation-service calls.
type RateLimiter struct {
	requestsPerMinute int
	tokens            chan struct{}
	lastRefill        time.Time
	stop              chan struct{}
	mu                sync.Mutex

	// Backoff state
	consecutiveErrors int
	lastErrorTime     time.Time
	backoffDuration   time.Duration
}

// NewRateLimiter creates a rate limiter allowing rpm requests per
// minute (defaults to 60 when rpm is not positive).
func NewRateLimiter(rpm int) *RateLimiter {
	if rpm <= 0 {
		rpm = 60
	}

	rl := &RateLimiter{
		requestsPerMinute: rpm,
		tokens:            make(chan struct{}, rpm),
		lastRefill:        time.Now(),
		stop:              make(chan struct{}),
	}

	for i := 0; i < rpm; i++ {
		rl.tokens <- struct{}{}
	}

	go rl.refillLoop()
	return rl
}

// Wait blocks until a token is available or ctx is cancelled.
// Returns immediately with an error while backoff is active.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.isInBackoff() {
		return fmt.Errorf("rate limited: backoff active for %s", rl.getBackoffRemaining())
	}

	select {
	case <-rl.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire attempts to take a token without blocking.
func (rl *RateLimiter) TryAcquire() bool {
	if rl.isInBackoff() {
		return false
	}

	select {
	case <-rl.tokens:
		return true
	default:
		return false
	}
}

// RecordSuccess resets the exponential backoff after a good call.
func (rl *RateLimiter) RecordSuccess() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.consecutiveErrors = 0
	rl.backoffDuration = 0
}

// RecordError bumps the consecutive-error count and extends the
// backoff window: 2^n seconds capped at five minutes.
func (rl *RateLimiter) RecordError() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.consecutiveErrors++
	rl.lastErrorTime = time.Now()

	backoff := time.Duration(1<<uint(rl.consecutiveErrors)) * time.Second
	if backoff > 300*time.Second {
		backoff = 300 * time.Second
	}
	rl.backoffDuration = backoff
}

func (rl *RateLimiter) isInBackoff() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.backoffDuration == 0 {
		return false
	}
	return time.Since(rl.lastErrorTime) < rl.backoffDuration
}

func (rl *RateLimiter) getBackoffRemaining() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.backoffDuration == 0 {
		return 0
	}
	remaining := rl.backoffDuration - time.Since(rl.lastErrorTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (rl *RateLimiter) refillLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.refillTokens()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) refillTokens() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for {
		select {
		case <-rl.tokens:
			continue
		default:
		}
		break
	}

	for i := 0; i < rl.requestsPerMinute; i++ {
		select {
		case rl.tokens <- struct{}{}:
		default:
		}
	}
	rl.lastRefill = time.Now()
}

// Stats holds rate limiter statistics.
type Stats struct {
	RequestsPerMinute int
	TokensAvailable   int
	ConsecutiveErrors int
	InBackoff         bool
	BackoffRemaining  time.Duration
	LastRefill        time.Time
}

// GetStats returns a point-in-time view of the limiter state.
func (rl *RateLimiter) GetStats() Stats {
	inBackoff := rl.isInBackoff()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	backoffRemaining := time.Duration(0)
	if inBackoff {
		backoffRemaining = rl.backoffDuration - time.Since(rl.lastErrorTime)
	}

	return Stats{
		RequestsPerMinute: rl.requestsPerMinute,
		TokensAvailable:   len(rl.tokens),
		ConsecutiveErrors: rl.consecutiveErrors,
		InBackoff:         inBackoff,
		BackoffRemaining:  backoffRemaining,
		LastRefill:        rl.lastRefill,
	}
}

// Close stops the refill goroutine.
func (rl *RateLimiter) Close() {
	close(rl.stop)
}
