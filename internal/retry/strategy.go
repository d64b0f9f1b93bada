package retry

import (
	"context"
	"log/slog"
)

// Strategy defines the interface for retry strategies
type Strategy interface {
	// Execute runs the operation with the configured retry logic
	Execute(ctx context.Context, info OperationInfo, operation Operation) error
}

// Operation is a function that can be retried
type Operation func(ctx context.Context) error

// OperationInfo describes the operation being retried, for logs
type OperationInfo struct {
	Name string
	Key  string
}

// NewStrategy creates a retry strategy based on configuration
func NewStrategy(config Config) Strategy {
	if config.MaxRetries <= 0 {
		slog.Debug("Retry disabled, using NoRetryStrategy")
		return NewNoRetryStrategy()
	}

	slog.Debug("Retry enabled, using ExponentialBackoffStrategy",
		"max_retries", config.MaxRetries,
		"initial_delay", config.InitialDelay,
		"max_delay", config.MaxDelay,
	)

	return NewExponentialBackoffStrategy(
		config.MaxRetries,
		config.InitialDelay,
		config.MaxDelay,
	)
}
