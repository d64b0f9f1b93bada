package engine

import (
	"errors"

	"cwfork/internal/remote"
	"cwfork/internal/state"
	"cwfork/internal/vm"
)

var (
	// ErrDepthExceeded aborts a call whose sub-messages or queries nest too deep
	ErrDepthExceeded = errors.New("max call depth exceeded")

	// ErrQueryWrite is raised when a contract writes storage in a query context
	ErrQueryWrite = errors.New("storage write in query context")

	// ErrUnsupportedMessage is returned for message variants the sandbox cannot execute
	ErrUnsupportedMessage = errors.New("unsupported message")
)

// Kind classifies why a call failed
type Kind string

const (
	KindRemoteUnavailable Kind = "RemoteUnavailable"
	KindContractNotFound  Kind = "ContractNotFound"
	KindCodeNotFound      Kind = "CodeNotFound"
	KindInsufficientFunds Kind = "InsufficientFunds"
	KindDepthExceeded     Kind = "DepthExceeded"
	KindVMTrap            Kind = "VMTrap"
	KindContractError     Kind = "ContractError"
	KindHostError         Kind = "HostError"
)

// IsHost reports whether the failure was raised by the sandbox rather than the contract
func (k Kind) IsHost() bool {
	return k != KindVMTrap && k != KindContractError
}

// CallError is the error carried by a failed Result
type CallError struct {
	Kind Kind
	Err  error
}

func (e *CallError) Error() string { return e.Err.Error() }

func (e *CallError) Unwrap() error { return e.Err }

// contractError wraps an error string returned by a contract
func contractError(msg string) *CallError {
	return &CallError{Kind: KindContractError, Err: errors.New(msg)}
}

// Classify maps any error to a CallError
func Classify(err error) *CallError {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}

	kind := KindHostError
	switch {
	case errors.Is(err, remote.ErrRemoteUnavailable):
		kind = KindRemoteUnavailable
	case errors.Is(err, remote.ErrContractNotFound):
		kind = KindContractNotFound
	case errors.Is(err, remote.ErrCodeNotFound):
		kind = KindCodeNotFound
	case errors.Is(err, state.ErrInsufficientFunds):
		kind = KindInsufficientFunds
	case errors.Is(err, ErrDepthExceeded):
		kind = KindDepthExceeded
	case errors.Is(err, vm.ErrTrap), errors.Is(err, ErrQueryWrite):
		kind = KindVMTrap
	}
	return &CallError{Kind: kind, Err: err}
}

// isFatal errors bypass reply handlers and revert the whole call
func isFatal(err error) bool {
	return errors.Is(err, ErrDepthExceeded) ||
		errors.Is(err, ErrQueryWrite) ||
		errors.Is(err, remote.ErrRemoteUnavailable)
}
