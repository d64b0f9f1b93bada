package retry

import (
	"context"
)

// NoRetryStrategy executes operations without any retry logic
type NoRetryStrategy struct{}

// NewNoRetryStrategy creates a new NoRetryStrategy
func NewNoRetryStrategy() *NoRetryStrategy {
	return &NoRetryStrategy{}
}

// Execute runs the operation once without retrying
func (s *NoRetryStrategy) Execute(ctx context.Context, info OperationInfo, operation Operation) error {
	return operation(ctx)
}
