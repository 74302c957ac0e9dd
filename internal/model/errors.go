package model

import "errors"

// Sentinel errors shared across services. Business validation failures route
// the current order to the refund path; invariant violations must surface to
// the caller and require manual reconciliation.
var (
	ErrNotFound            = errors.New("record not found")
	ErrSessionNotOpen      = errors.New("session not open")
	ErrItemInactive        = errors.New("item not active")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidTransition   = errors.New("invalid consignment state transition")
	ErrNotOwner            = errors.New("holding not owned by user")
	ErrAlreadyConsigned    = errors.New("holding already consigned")
	ErrHoldingLocked       = errors.New("holding still within unlock window")
	ErrAlreadySettled      = errors.New("consignment already settled")
	ErrOrderNotPending     = errors.New("buy order not pending")

	// ErrLedgerInvariant indicates a before/after snapshot mismatch. It is a
	// data-integrity bug, never an operational failure.
	ErrLedgerInvariant = errors.New("ledger before/after invariant violated")
)
