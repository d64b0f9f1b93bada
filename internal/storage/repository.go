package storage

import (
	"context"
	"fmt"

	"cwfork/internal/models"
)

// CacheKey identifies one immutable remote answer.
// Remote state at a fixed height never changes, so entries never expire.
type CacheKey struct {
	Endpoint string
	Height   uint64
	Kind     string
	Key      string
}

// String renders the key in a form usable as a flat KV key
func (k CacheKey) String() string {
	return fmt.Sprintf("%s|%d|%s|%s", k.Endpoint, k.Height, k.Kind, k.Key)
}

// Repository defines the interface for all storage operations
type Repository interface {
	// Remote-read cache
	LoadRemote(ctx context.Context, key CacheKey) ([]byte, bool, error)
	SaveRemote(ctx context.Context, key CacheKey, value []byte) error

	// Simulation archive
	SaveSimulation(ctx context.Context, record *models.SimulationRecord) error
	ListSimulations(ctx context.Context, sessionID string, limit, offset int) ([]*models.SimulationRecord, error)
	CountSimulations(ctx context.Context, sessionID string) (int, error)

	// Health & Maintenance
	Ping(ctx context.Context) error
	Close() error
}
