package generate

import (
	"context"
	"testing"
	"time"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60)
	defer rl.Close()

	stats := rl.GetStats()
	if stats.RequestsPerMinute != 60 {
		t.Errorf("Expected 60 rpm, got %d", stats.RequestsPerMinute)
	}

	if stats.TokensAvailable != 60 {
		t.Errorf("Expected 60 tokens initially, got %d", stats.TokensAvailable)
	}
}

func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(5) // 5 tokens
	defer rl.Close()

	ctx := context.Background()

	// Consume all 5 tokens
	for i := 0; i < 5; i++ {
		err := rl.Wait(ctx)
		if err != nil {
			t.Fatalf("Failed to acquire token %d: %v", i, err)
		}
	}

	// 6th request should block (we'll use timeout)
	ctx6, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx6)
	if err != context.DeadlineExceeded {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestTryAcquire(t *testing.T) {
	rl := NewRateLimiter(3)
	defer rl.Close()

	// Should succeed 3 times
	for i := 0; i < 3; i++ {
		if !rl.TryAcquire() {
			t.Errorf("TryAcquire %d failed", i)
		}
	}

	// 4th should fail (no blocking)
	if rl.TryAcquire() {
		t.Error("TryAcquire should have failed (no tokens)")
	}
}

func TestRecordSuccess(t *testing.T) {
	rl := NewRateLimiter(60)
	defer rl.Close()

	// Simulate errors
	rl.RecordError()
	rl.RecordError()

	stats := rl.GetStats()
	if stats.ConsecutiveErrors != 2 {
		t.Errorf("Expected 2 consecutive errors, got %d", stats.ConsecutiveErrors)
	}

	// Record success should reset
	rl.RecordSuccess()

	stats = rl.GetStats()
	if stats.ConsecutiveErrors != 0 {
		t.Errorf("Expected 0 consecutive errors after success, got %d", stats.ConsecutiveErrors)
	}
}

func TestExponentialBackoff(t *testing.T) {
	rl := NewRateLimiter(60)
	defer rl.Close()

	// First error: 2^1 = 2 seconds backoff
	rl.RecordError()
	stats := rl.GetStats()
	if stats.InBackoff {
		expectedBackoff := 2 * time.Second
		if stats.BackoffRemaining < expectedBackoff-100*time.Millisecond ||
			stats.BackoffRemaining > expectedBackoff+100*time.Millisecond {
			t.Errorf("Expected backoff ~2s, got %s", stats.BackoffRemaining)
		}
	}

	rl.RecordError()
	rl.RecordError()
	stats = rl.GetStats()
	if stats.ConsecutiveErrors != 3 {
		t.Errorf("Expected 3 errors, got %d", stats.ConsecutiveErrors)
	}
}

func TestBackoffMax(t *testing.T) {
	rl := NewRateLimiter(60)
	defer rl.Close()

	// Simulate many errors to trigger max backoff (300s)
	for i := 0; i < 10; i++ {
		rl.RecordError()
	}

	stats := rl.GetStats()
	if !stats.InBackoff {
		t.Fatal("Should be in backoff")
	}
	if stats.BackoffRemaining > 300*time.Second {
		t.Errorf("Backoff exceeds 300s cap: %s", stats.BackoffRemaining)
	}
	if stats.BackoffRemaining < 299*time.Second {
		t.Errorf("Expected backoff near 300s, got %s", stats.BackoffRemaining)
	}
}

func TestWaitDuringBackoff(t *testing.T) {
	rl := NewRateLimiter(60)
	defer rl.Close()

	// Trigger backoff
	rl.RecordError()

	ctx := context.Background()
	err := rl.Wait(ctx)

	if err == nil {
		t.Error("Wait should fail during backoff")
	}

	if !rl.isInBackoff() {
		t.Error("Should still be in backoff")
	}
}

func TestBackoffExpiry(t *testing.T) {
	rl := NewRateLimiter(60)
	defer rl.Close()

	if rl.isInBackoff() {
		t.Error("Should not be in backoff initially")
	}

	rl.RecordError()
	if !rl.isInBackoff() {
		t.Error("Should be in backoff after error")
	}

	// Wait for the 2s backoff to expire
	time.Sleep(2500 * time.Millisecond)

	if rl.isInBackoff() {
		t.Error("Should not be in backoff after expiry")
	}
}
