package event

// Deposit credits funds to a client's available balance
type Deposit struct {
	ClientID uint16
	TxID     uint32
	Amount   int64 // Fixed-point: amount * 1e4
	Sequence int64
}

func (d *Deposit) Kind() Kind {
	return KindDeposit
}

func (d *Deposit) Client() uint16 {
	return d.ClientID
}

func (d *Deposit) Tx() uint32 {
	return d.TxID
}

func (d *Deposit) SourceSequence() int64 {
	return d.Sequence
}

// Withdrawal debits funds from a client's available balance
type Withdrawal struct {
	ClientID uint16
	TxID     uint32
	Amount   int64 // Fixed-point
	Sequence int64
}

func (w *Withdrawal) Kind() Kind {
	return KindWithdrawal
}

func (w *Withdrawal) Client() uint16 {
	return w.ClientID
}

func (w *Withdrawal) Tx() uint32 {
	return w.TxID
}

func (w *Withdrawal) SourceSequence() int64 {
	return w.Sequence
}
