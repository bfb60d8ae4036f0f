package toolfed

import (
	"context"
	"time"
)

// DiscoveryMaxAttempts and DiscoveryBaseDelay bound tool-server discovery
// retries: up to 3 attempts with exponential backoff from a 2s base.
const (
	DiscoveryMaxAttempts = 3
	DiscoveryBaseDelay   = 2 * time.Second
)

// retryExponential runs op up to maxAttempts times, doubling the delay
// (base, 2*base, 4*base, ...) between attempts. It is the exponential
// counterpart to providers.BaseProvider.Retry's linear backoff, used here
// because tool-server discovery specifically wants exponential backoff.
func retryExponential(ctx context.Context, maxAttempts int, base time.Duration, op func(attempt int) error) error {
	var lastErr error
	delay := base
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := op(attempt); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
