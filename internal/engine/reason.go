package engine

// Reason is the closed enumeration of transaction-local rejection causes.
// Every rejected event carries exactly one Reason; stream-fatal failures
// (unreadable input, broken transport) are plain errors and never appear here.
type Reason int32

const (
	ReasonNone Reason = iota

	// ReasonInvalidAmount rejects deposits/withdrawals with amount <= 0.
	ReasonInvalidAmount

	// ReasonInsufficientFunds rejects withdrawals exceeding available funds.
	ReasonInsufficientFunds

	// ReasonAccountLocked rejects any event touching a locked account.
	ReasonAccountLocked

	// ReasonUnknownTransaction rejects dispute-family events referencing a
	// transaction id absent from the history index.
	ReasonUnknownTransaction

	// ReasonClientMismatch rejects dispute-family events whose client field
	// does not match the referenced transaction's owner.
	ReasonClientMismatch

	// ReasonInvalidState rejects dispute-family events arriving in the wrong
	// dispute state (e.g. a Resolve on a transaction that is not Disputed).
	ReasonInvalidState

	// ReasonDuplicateTransaction rejects a deposit/withdrawal reusing a
	// transaction id already in the history index.
	ReasonDuplicateTransaction

	// ReasonOutOfOrder rejects events whose per-client source sequence
	// regressed. Only possible on sequenced (streaming) input.
	ReasonOutOfOrder
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonInvalidAmount:
		return "invalid_amount"
	case ReasonInsufficientFunds:
		return "insufficient_funds"
	case ReasonAccountLocked:
		return "account_locked"
	case ReasonUnknownTransaction:
		return "unknown_transaction"
	case ReasonClientMismatch:
		return "client_mismatch"
	case ReasonInvalidState:
		return "invalid_state"
	case ReasonDuplicateTransaction:
		return "duplicate_transaction"
	case ReasonOutOfOrder:
		return "out_of_order"
	default:
		return "unknown"
	}
}
