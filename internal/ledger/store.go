package ledger

import "sort"

// Ledger is the capability contract the transaction processor depends on.
// It enforces invariants on a single account in isolation and knows nothing
// about transaction history or dispute semantics.
type Ledger interface {
	Credit(client uint16, amount int64) error
	Debit(client uint16, amount int64) error
	Hold(client uint16, amount int64) error
	Release(client uint16, amount int64) error
	Terminate(client uint16, amount int64) error
	Snapshot(client uint16) (Snapshot, bool)
	Snapshots() []Snapshot
}

var _ Ledger = (*AccountStore)(nil)

// AccountStore maintains in-memory per-client accounts.
// Not thread-safe — only accessed from the single-threaded processor.
type AccountStore struct {
	accounts map[uint16]*Account
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[uint16]*Account),
	}
}

// account returns the account for a client, creating it with zero balances
// on first access. Accounts are never deleted.
func (s *AccountStore) account(client uint16) *Account {
	acct, ok := s.accounts[client]
	if !ok {
		acct = &Account{Client: client}
		s.accounts[client] = acct
	}
	return acct
}

// Credit adds amount to available funds.
func (s *AccountStore) Credit(client uint16, amount int64) error {
	acct := s.account(client)
	if acct.Locked {
		return ErrAccountLocked
	}
	acct.Available += amount
	return nil
}

// Debit removes amount from available funds.
func (s *AccountStore) Debit(client uint16, amount int64) error {
	acct := s.account(client)
	if acct.Locked {
		return ErrAccountLocked
	}
	if acct.Available < amount {
		return ErrInsufficientFunds
	}
	acct.Available -= amount
	return nil
}

// Hold moves amount from available to held. Available may go negative —
// the disputed funds are reclaimed pending resolution regardless of the
// current balance.
func (s *AccountStore) Hold(client uint16, amount int64) error {
	acct := s.account(client)
	if acct.Locked {
		return ErrAccountLocked
	}
	acct.Available -= amount
	acct.Held += amount
	return nil
}

// Release moves amount from held back to available.
func (s *AccountStore) Release(client uint16, amount int64) error {
	acct := s.account(client)
	if acct.Locked {
		return ErrAccountLocked
	}
	acct.Held -= amount
	acct.Available += amount
	return nil
}

// Terminate permanently removes amount from held and locks the account.
// Once locked the account is terminal: every later mutation, including a
// second Terminate, fails with ErrAccountLocked.
func (s *AccountStore) Terminate(client uint16, amount int64) error {
	acct := s.account(client)
	if acct.Locked {
		return ErrAccountLocked
	}
	acct.Held -= amount
	acct.Locked = true
	return nil
}

// Snapshot returns the read-only projection for one client.
// Does not create the account — reads never mutate the store.
func (s *AccountStore) Snapshot(client uint16) (Snapshot, bool) {
	acct, ok := s.accounts[client]
	if !ok {
		return Snapshot{}, false
	}
	return acct.snapshot(), true
}

// Snapshots returns projections for every account ever touched,
// ordered by client id for deterministic output.
func (s *AccountStore) Snapshots() []Snapshot {
	snaps := make([]Snapshot, 0, len(s.accounts))
	for _, acct := range s.accounts {
		snaps = append(snaps, acct.snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Client < snaps[j].Client
	})
	return snaps
}

// Size returns the number of accounts ever created.
func (s *AccountStore) Size() int {
	return len(s.accounts)
}

// Accounts returns a copy of every account, ordered by client id.
// Used when capturing state for a snapshot.
func (s *AccountStore) Accounts() []Account {
	out := make([]Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, *acct)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Client < out[j].Client
	})
	return out
}

// Restore replaces the store's contents when resuming from a snapshot.
func (s *AccountStore) Restore(accounts []Account) {
	s.accounts = make(map[uint16]*Account, len(accounts))
	for _, acct := range accounts {
		a := acct
		s.accounts[a.Client] = &a
	}
}
