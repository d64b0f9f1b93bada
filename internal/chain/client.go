package chain

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cwfork/internal/models"
)

// ErrNotFound is returned when the remote chain has no such contract or code
var ErrNotFound = errors.New("not found")

// StatusError is a non-200 answer from the LCD that is not a missing record
type StatusError struct {
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lcd %s: status %d: %s", e.Path, e.Status, e.Message)
}

// Temporary reports whether the node may answer differently on a later attempt
func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// Client reads chain state at a given height.
// A height of 0 means the node's latest state.
type Client interface {
	// LatestHeight returns the current chain height
	LatestHeight(ctx context.Context) (uint64, error)

	// Block returns the header of the block at height
	Block(ctx context.Context, height uint64) (*models.BlockHeader, error)

	// ContractInfo returns the code id and metadata bound to a contract address
	ContractInfo(ctx context.Context, height uint64, address string) (*models.ContractRecord, error)

	// Code returns the wasm bytecode stored under codeID
	Code(ctx context.Context, height uint64, codeID uint64) ([]byte, error)

	// ContractState returns the full storage of a contract, keyed by raw key bytes
	ContractState(ctx context.Context, height uint64, address string) (map[string][]byte, error)

	// AllBalances returns every bank balance of an address
	AllBalances(ctx context.Context, height uint64, address string) (models.Coins, error)

	// Endpoint identifies the remote, used to key persistent caches
	Endpoint() string
}
