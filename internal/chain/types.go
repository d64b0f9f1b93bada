package chain

import "time"

// ClientTimeoutConfig is expressed in seconds
type ClientTimeoutConfig struct {
	Timeout int
}

// ClientConfig describes how to reach the chain
type ClientConfig struct {
	// LCD (REST) endpoint, e.g. https://lcd.example.org
	Endpoint string

	// Optional CometBFT JSON-RPC endpoint used for status and block headers
	CometEndpoint string

	// Page size for paginated LCD queries
	PageSize int

	TimeoutConfig ClientTimeoutConfig
}

func (c ClientConfig) timeout() time.Duration {
	if c.TimeoutConfig.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutConfig.Timeout) * time.Second
}
