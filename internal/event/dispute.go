package event

// Dispute freezes the amount of a prior deposit or withdrawal pending
// resolution. Carries no amount of its own — the referenced transaction does.
type Dispute struct {
	ClientID uint16
	TxID     uint32
	Sequence int64
}

func (d *Dispute) Kind() Kind {
	return KindDispute
}

func (d *Dispute) Client() uint16 {
	return d.ClientID
}

func (d *Dispute) Tx() uint32 {
	return d.TxID
}

func (d *Dispute) SourceSequence() int64 {
	return d.Sequence
}

// Resolve settles an open dispute in the client's favor, returning the held
// amount to available.
type Resolve struct {
	ClientID uint16
	TxID     uint32
	Sequence int64
}

func (r *Resolve) Kind() Kind {
	return KindResolve
}

func (r *Resolve) Client() uint16 {
	return r.ClientID
}

func (r *Resolve) Tx() uint32 {
	return r.TxID
}

func (r *Resolve) SourceSequence() int64 {
	return r.Sequence
}

// Chargeback settles an open dispute against the client, removing the held
// amount and locking the account.
type Chargeback struct {
	ClientID uint16
	TxID     uint32
	Sequence int64
}

func (c *Chargeback) Kind() Kind {
	return KindChargeback
}

func (c *Chargeback) Client() uint16 {
	return c.ClientID
}

func (c *Chargeback) Tx() uint32 {
	return c.TxID
}

func (c *Chargeback) SourceSequence() int64 {
	return c.Sequence
}
