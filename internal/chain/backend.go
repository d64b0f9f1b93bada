package chain

import (
	"io"
	"sync"
)

// BackendHandlerService defines the generic interface for managing backend lifecycle and access
type BackendHandlerService[T any] interface {
	Start() error              // Initialize the backend
	Close() error              // Shutdown the backend
	HandleBackend() (T, error) // Retrieve the backend instance
	IsAvailable() bool         // Check if the backend is ready
}

// Backend owns the lifecycle of a chain Client built from a ClientConfig
type Backend struct {
	ClientConfig ClientConfig

	mu          sync.RWMutex
	client      Client
	buildErr    error
	isAvailable bool
}

var _ BackendHandlerService[Client] = (*Backend)(nil)

// Start builds the client
func (b *Backend) Start() error {
	builder := Builder{ClientConfig: b.ClientConfig}
	client, err := builder.Build()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.buildErr = err
		b.isAvailable = false
		return err
	}
	b.client = client
	b.buildErr = nil
	b.isAvailable = true
	return nil
}

// Close releases the client if it holds resources
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isAvailable = false
	if closer, ok := b.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// IsAvailable returns whether the backend is ready for use
func (b *Backend) IsAvailable() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isAvailable
}

// HandleBackend returns the underlying client
func (b *Backend) HandleBackend() (Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client, b.buildErr
}
