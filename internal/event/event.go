package event

// Kind discriminates transaction event payloads
type Kind int32

const (
	KindUnknown Kind = iota
	KindDeposit
	KindWithdrawal
	KindDispute
	KindResolve
	KindChargeback
)

// Event is the interface all transaction events implement
type Event interface {
	// Kind returns the discriminator
	Kind() Kind

	// Client returns the client the event is addressed to
	Client() uint16

	// Tx returns the transaction identifier. For Dispute/Resolve/Chargeback
	// this references a prior deposit or withdrawal, not a new transaction.
	Tx() uint32

	// SourceSequence returns the upstream per-client ordering key.
	// Zero means the source carries no sequence (batch input).
	SourceSequence() int64
}

func (k Kind) String() string {
	switch k {
	case KindDeposit:
		return "Deposit"
	case KindWithdrawal:
		return "Withdrawal"
	case KindDispute:
		return "Dispute"
	case KindResolve:
		return "Resolve"
	case KindChargeback:
		return "Chargeback"
	default:
		return "Unknown"
	}
}
