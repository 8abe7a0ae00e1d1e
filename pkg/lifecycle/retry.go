package lifecycle

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/Rupali59/docbridge/pkg/failure"
)

// Backoff configures RetryWithBackoff.
type Backoff struct {
	Attempts int
	Base     time.Duration
	// Max caps a single sleep. Zero means 8s.
	Max time.Duration
}

// RetryWithBackoff retries op with exponential backoff and jitter.
// The base sleep is doubled each attempt up to Max, with ±25% jitter.
// Errors that failure.IsRetryable rejects (not-found, closed, config) end the
// loop at once. Respects ctx cancellation. Returns the last error if all
// attempts fail.
func RetryWithBackoff(ctx context.Context, b Backoff, op func(ctx context.Context) error) error {
	if b.Attempts <= 0 {
		b.Attempts = 1
	}
	if b.Max <= 0 {
		b.Max = 8 * time.Second
	}

	var err error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if !failure.IsRetryable(err) || attempt == b.Attempts-1 {
			break
		}

		sleep := b.Base * time.Duration(1<<uint(attempt))
		if sleep > b.Max {
			sleep = b.Max
		}
		if sleep > 0 {
			jitter := time.Duration(rand.Int63n(int64(sleep)/2+1)) - sleep/4
			sleep += jitter
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	if !failure.IsRetryable(err) {
		return err
	}
	return fmt.Errorf("failed after %d attempts: %w", b.Attempts, err)
}
