package types

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when another approval poll, stake or unstake is
	// already in flight for the wallet. The attempt is rejected, not queued.
	ErrBusy = errors.New("another transaction step is in flight")

	// ErrNotConnected is returned for writes without a connected wallet.
	ErrNotConnected = errors.New("wallet not connected")

	// ErrApprovalPending is returned when an approval is already awaiting confirmation.
	ErrApprovalPending = errors.New("approval already pending")

	// ErrInsufficientTier is returned when the wallet's tier is below what
	// an action requires.
	ErrInsufficientTier = errors.New("access tier too low")
)

// NetworkError indicates an RPC or HTTP endpoint was unreachable or
// answered with a non-2xx status.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("network error during %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// WalletRejectedError indicates the user declined to sign.
type WalletRejectedError struct {
	Op  string
	Err error
}

func (e *WalletRejectedError) Error() string {
	return fmt.Sprintf("wallet rejected %s: %v", e.Op, e.Err)
}

func (e *WalletRejectedError) Unwrap() error { return e.Err }

// ChainMismatchError blocks writes while the wallet is on the wrong network.
type ChainMismatchError struct {
	Expected uint64
	Actual   uint64
}

func (e *ChainMismatchError) Error() string {
	return fmt.Sprintf("wrong network: connected to chain %d, expected %d", e.Actual, e.Expected)
}

// ValidationError rejects input before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SchemaError indicates a third-party response did not match its expected shape.
type SchemaError struct {
	Source string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected %s response: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("unexpected %s response: %s", e.Source, e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.Err }

func IsNetworkError(err error) bool {
	var e *NetworkError
	return errors.As(err, &e)
}

func IsWalletRejected(err error) bool {
	var e *WalletRejectedError
	return errors.As(err, &e)
}

func IsChainMismatch(err error) bool {
	var e *ChainMismatchError
	return errors.As(err, &e)
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsSchemaError(err error) bool {
	var e *SchemaError
	return errors.As(err, &e)
}
