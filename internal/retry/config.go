package retry

import "time"

// Config holds retry settings for remote fetches.
// The zero Config disables retries.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultConfig is used when no environment is loaded
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}
