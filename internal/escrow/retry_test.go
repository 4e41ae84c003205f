package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cheth/backend/internal/chesshost"
)

func testEngine(maxAttempts int, slept *[]time.Duration) *RetryEngine {
	e := NewRetryEngine(maxAttempts, 30*time.Second)
	e.sleep = func(ctx context.Context, d time.Duration) bool {
		*slept = append(*slept, d)
		return true
	}
	return e
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	var slept []time.Duration
	e := testEngine(5, &slept)

	calls := 0
	err := e.Do(context.Background(), "attach", func(ctx context.Context) error {
		calls++
		if calls < 5 {
			return errors.New("stream not ready")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success on final attempt: %v", err)
	}
	if calls != 5 {
		t.Errorf("expected 5 invocations, got %d", calls)
	}
	if len(slept) != 4 {
		t.Errorf("expected 4 waits, got %d", len(slept))
	}
	for _, d := range slept {
		if d != 30*time.Second {
			t.Errorf("expected base delay 30s, got %s", d)
		}
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	var slept []time.Duration
	e := testEngine(5, &slept)

	calls := 0
	err := e.Do(context.Background(), "attach", func(ctx context.Context) error {
		calls++
		return errors.New("still down")
	})

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if calls != 5 {
		t.Errorf("expected exactly 5 invocations, got %d", calls)
	}
	// No wait after the final attempt.
	if len(slept) != 4 {
		t.Errorf("expected 4 waits, got %d", len(slept))
	}
}

func TestRetryHonorsRateLimitHint(t *testing.T) {
	var slept []time.Duration
	e := testEngine(3, &slept)

	calls := 0
	err := e.Do(context.Background(), "challenge", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &chesshost.RateLimitError{RetryAfter: 10 * time.Second}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slept) != 1 || slept[0] != 10*time.Second {
		t.Errorf("expected one 10s wait from Retry-After, got %v", slept)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	e := NewRetryEngine(5, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := e.Do(ctx, "attach", func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("failing")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 invocation before cancellation, got %d", calls)
	}
}
