package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"cwfork/internal/metrics"
)

// ExponentialBackoffStrategy retries transient remote failures, doubling the
// wait after every attempt up to maxDelay. Waits are jittered in [d/2, d].
type ExponentialBackoffStrategy struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
}

// NewExponentialBackoffStrategy creates a new ExponentialBackoffStrategy
func NewExponentialBackoffStrategy(maxRetries int, initialDelay, maxDelay time.Duration) *ExponentialBackoffStrategy {
	return &ExponentialBackoffStrategy{
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
	}
}

// Execute runs the operation until it succeeds, fails permanently or runs
// out of attempts. Permanent errors are returned unchanged so callers can
// match them with errors.Is.
func (s *ExponentialBackoffStrategy) Execute(ctx context.Context, info OperationInfo, operation Operation) error {
	delay := s.initialDelay

	for attempt := 1; ; attempt++ {
		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("Remote operation succeeded after retry",
					"operation", info.Name,
					"key", info.Key,
					"attempt", attempt)
			}
			return nil
		}
		if !IsRecoverable(err) {
			return err
		}
		if attempt > s.maxRetries {
			return fmt.Errorf("%s failed after %d attempts: %w", info.Name, attempt, err)
		}

		wait := jitter(delay)
		metrics.RetriesTotal.WithLabelValues(info.Name).Inc()
		slog.Warn("Remote operation failed, retrying with exponential backoff",
			"operation", info.Name,
			"key", info.Key,
			"attempt", attempt,
			"max_attempts", s.maxRetries+1,
			"retry_in", wait,
			"error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-timer.C:
		}

		delay = min(delay*2, s.maxDelay)
	}
}

func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d-half+1)))
}

// temporary is implemented by net.Error and by chain.StatusError
type temporary interface {
	Temporary() bool
}

// transportPatterns match dial and read failures that carry no typed error
var transportPatterns = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"network is unreachable",
	"no such host",
	"i/o timeout",
	"tls handshake timeout",
	"unexpected eof",
}

// IsRecoverable determines if an error is a transient failure worth retrying
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// A false Temporary is not trusted: url.Error reports refused dials as permanent
	var t temporary
	if errors.As(err, &t) && t.Temporary() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range transportPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
