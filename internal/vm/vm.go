// Package vm is the boundary between the execution engine and contract code.
package vm

import (
	"context"
	"errors"

	"cwfork/internal/models"
)

var (
	// ErrTrap marks any failure inside contract execution: a wasm trap, an abort,
	// a malformed region or an unreadable result.
	ErrTrap = errors.New("vm trap")

	// ErrInvalidCode is returned for bytecode that cannot run as a contract
	ErrInvalidCode = errors.New("invalid contract code")
)

// Order values accepted by Host.Scan
const (
	OrderAscending  int32 = 1
	OrderDescending int32 = 2
)

// Host is the environment a running contract sees through its imports.
// Any error returned by a Host method aborts the running entry point and is
// returned unchanged by the Instance call.
type Host interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Set(ctx context.Context, key, value []byte) error
	Remove(ctx context.Context, key []byte) error
	Scan(ctx context.Context, start, end []byte, order int32) ([]models.KV, error)

	// QueryChain answers a QueryRequest with an encoded SystemResult
	QueryChain(ctx context.Context, request []byte) ([]byte, error)

	AddrValidate(addr string) error
	AddrCanonicalize(addr string) ([]byte, error)
	AddrHumanize(canonical []byte) (string, error)

	Debug(msg string)
}

// Instance is one loaded contract bound to a Host.
// Every entry point returns the raw JSON result written by the contract.
type Instance interface {
	Instantiate(ctx context.Context, env, info, msg []byte) ([]byte, error)
	Execute(ctx context.Context, env, info, msg []byte) ([]byte, error)
	Query(ctx context.Context, env, msg []byte) ([]byte, error)
	Reply(ctx context.Context, env, reply []byte) ([]byte, error)

	// Coverage returns the coverage buffer of the last run, or nil when the
	// contract is not instrumented
	Coverage(ctx context.Context) ([]byte, error)

	Close(ctx context.Context) error
}

// VM loads contract code
type VM interface {
	// Load prepares a fresh instance of code with its own memory
	Load(ctx context.Context, code []byte, host Host) (Instance, error)

	// Validate checks that code is a loadable contract
	Validate(ctx context.Context, code []byte) error

	Close(ctx context.Context) error
}
