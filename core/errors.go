package core

import "errors"

var (
	// ErrInvalidSignature is returned when the signer cannot be recovered.
	ErrInvalidSignature = errors.New("ledger: invalid call signature")
	// ErrNonceMismatch is returned when the call nonce differs from the
	// account's next expected nonce.
	ErrNonceMismatch = errors.New("ledger: nonce mismatch")
	// ErrInsufficientFunds is returned when the attached value exceeds the
	// sender's native balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient native balance")
	// ErrDuplicateCall is returned when a call with the same hash already has
	// a receipt.
	ErrDuplicateCall = errors.New("ledger: call already processed")
	ErrUnknownMethod = errors.New("ledger: unknown method")
	ErrInvalidParams = errors.New("ledger: invalid params")
	// ErrReadOnly is returned when a mutating method is sent to Query.
	ErrReadOnly = errors.New("ledger: method mutates state")
	// ErrReverted wraps the market error of a call that executed and failed.
	ErrReverted = errors.New("ledger: execution reverted")
	// ErrReceiptNotFound indicates no call with the given hash was executed.
	ErrReceiptNotFound = errors.New("ledger: receipt not found")
)
