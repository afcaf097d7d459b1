package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match with errors.Is; producers wrap with %w.
var (
	// ErrInvalidInput marks unparsable records or phrases.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupportedOperation marks mnemonic derivation on a chain without a derivation path.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrChainUnavailable marks a transient RPC/network failure. Always recoverable.
	ErrChainUnavailable = errors.New("chain unavailable")
	// ErrDuplicateAddress marks the same address observed on two different chains.
	ErrDuplicateAddress = errors.New("duplicate address conflict")
	// ErrNotFound marks a missing wallet record.
	ErrNotFound = errors.New("not found")
)

// DuplicateAddressError carries the two chains that claimed one address.
type DuplicateAddressError struct {
	Address  string
	Stored   Chain
	Incoming Chain
}

func (e *DuplicateAddressError) Error() string {
	return fmt.Sprintf("%s: address %s stored as %s, incoming %s", ErrDuplicateAddress, e.Address, e.Stored, e.Incoming)
}

// Is lets errors.Is(err, ErrDuplicateAddress) match.
func (e *DuplicateAddressError) Is(target error) bool {
	return target == ErrDuplicateAddress
}

// ChainError wraps an adapter failure with the chain and operation that produced it.
type ChainError struct {
	Chain Chain
	Op    string
	Err   error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Chain, e.Op, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }

// Is makes every ChainError match ErrChainUnavailable.
func (e *ChainError) Is(target error) bool {
	return target == ErrChainUnavailable
}

// Unavailable builds a ChainError for op on chain.
func Unavailable(chain Chain, op string, err error) error {
	return &ChainError{Chain: chain, Op: op, Err: err}
}
