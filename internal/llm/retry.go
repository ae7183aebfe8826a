package llm

import (
	"context"
	"errors"
	"time"

	"github.com/memorilabs/memori/internal/domain"
)

const (
	maxRateLimitAttempts = 4
	maxBackoff           = 60 * time.Second
)

// ChatWithRetry calls the client with bounded retries. A rate-limited call
// backs off exponentially, capped at 60 seconds. Any other failure gets a
// single immediate retry. Sleeps are interruptible through ctx.
func ChatWithRetry(ctx context.Context, client domain.AnalysisClient, messages []domain.Message, opts domain.ChatOptions) (string, error) {
	backoff := time.Second
	var lastErr error

	for attempt := 0; attempt < maxRateLimitAttempts; attempt++ {
		out, err := client.Chat(ctx, messages, opts)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !errors.Is(err, ErrRateLimited) {
			// One retry covers transient failures; persistent ones
			// surface to the caller.
			if attempt >= 1 {
				return "", lastErr
			}
			continue
		}

		if err := sleep(ctx, backoff); err != nil {
			return "", err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return "", lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
