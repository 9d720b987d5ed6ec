package ledger

// Account is the mutable per-client balance state.
// Amounts are fixed-point at 1e4 scale (see internal/money).
type Account struct {
	Client    uint16
	Available int64 // Funds usable for withdrawal; may go negative under Hold
	Held      int64 // Funds frozen pending dispute resolution
	Locked    bool  // Terminal once set; rejects all further mutation
}

// Total returns the account's full asset value.
// Always derived — never stored independently, so it cannot drift.
func (a *Account) Total() int64 {
	return a.Available + a.Held
}

// Snapshot is the read-only projection handed to output collaborators.
// Kept distinct from Account so internal field changes never ripple into
// the external format.
type Snapshot struct {
	Client    uint16
	Available int64
	Held      int64
	Total     int64
	Locked    bool
}

func (a *Account) snapshot() Snapshot {
	return Snapshot{
		Client:    a.Client,
		Available: a.Available,
		Held:      a.Held,
		Total:     a.Total(),
		Locked:    a.Locked,
	}
}
