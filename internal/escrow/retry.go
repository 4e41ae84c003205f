package escrow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cheth/backend/internal/chesshost"
)

// ErrExhausted is returned when the retry budget runs out.
var ErrExhausted = errors.New("retry attempts exhausted")

// RetryEngine executes an operation with bounded retries and rate-limit
// aware delays. It blocks between attempts, so callers run it on its own
// goroutine per room.
type RetryEngine struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// sleep is swapped in tests. The bool result is false when the context
	// expired during the wait.
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewRetryEngine(maxAttempts int, baseDelay time.Duration) *RetryEngine {
	return &RetryEngine{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Do runs op up to MaxAttempts times. A rate-limited failure waits the
// host's Retry-After hint when provided; any other failure waits BaseDelay.
// On exhaustion the last error is wrapped in ErrExhausted.
func (e *RetryEngine) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.Printf("[RETRY] %s succeeded on attempt %d/%d", name, attempt, e.MaxAttempts)
			}
			return nil
		}
		lastErr = err

		if attempt == e.MaxAttempts {
			break
		}

		delay := e.BaseDelay
		var rl *chesshost.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			delay = rl.RetryAfter
		}

		log.Printf("[RETRY] %s attempt %d/%d failed: %v (next attempt in %s)",
			name, attempt, e.MaxAttempts, err, delay)

		if !e.sleep(ctx, delay) {
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, e.MaxAttempts, lastErr)
}
