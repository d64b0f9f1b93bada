package chain

import (
	"fmt"
	"net/http"
)

type Builder struct {
	ClientConfig ClientConfig
}

// Build will create a new Client from ClientConfig
func (b *Builder) Build() (Client, error) {
	if b.ClientConfig.Endpoint == "" {
		return nil, fmt.Errorf("ClientConfig.Endpoint value is empty, please provide a valid LCD endpoint")
	}

	httpClient := &http.Client{Timeout: b.ClientConfig.timeout()}
	lcd := NewLCDClient(b.ClientConfig.Endpoint, httpClient, b.ClientConfig.PageSize)

	if b.ClientConfig.CometEndpoint == "" {
		return lcd, nil
	}
	return &cometLCDClient{
		LCDClient: lcd,
		comet:     NewCometClient(b.ClientConfig.CometEndpoint),
	}, nil
}
