package services

import "errors"

// Terminal business errors. Controllers map these onto HTTP responses; none
// of them are retryable. ErrStoreUnavailable is the only transient kind and
// the caller owns any retry policy.
var (
	ErrAlreadyCheckedIn    = errors.New("already checked in for this day")
	ErrInsufficientBalance = errors.New("insufficient point balance")
	ErrOutOfWindow         = errors.New("day is outside the allowed window")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrNotFound            = errors.New("record not found")
	ErrStoreUnavailable    = errors.New("store unavailable")

	// ErrInvariantViolation signals ledger corruption risk. It should never
	// occur; the operation is aborted and the error logged loudly, never
	// silently patched.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	ErrTransferDisabled  = errors.New("transfers are disabled")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrGroupExists       = errors.New("group name already exists")
	ErrInvalidGroupName  = errors.New("invalid group name")
	ErrInvalidCapability = errors.New("unknown capability")
	ErrEmailTaken        = errors.New("email already bound by another user")
)
