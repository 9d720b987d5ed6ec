package ledger

import "errors"

// Sentinel errors returned by ledger mutations. Callers distinguish them
// with errors.Is — never by message text.
var (
	// ErrAccountLocked is returned by every mutation on a locked account.
	ErrAccountLocked = errors.New("account is locked")

	// ErrInsufficientFunds is returned by Debit when available < amount.
	// Hold deliberately does NOT return it: a dispute on a withdrawal may
	// drive available negative, mirroring real chargeback mechanics.
	ErrInsufficientFunds = errors.New("insufficient available funds")
)
