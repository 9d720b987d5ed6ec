package engine

import (
	"sort"

	"PayLedger/internal/ledger"
)

// State is the processor's full in-memory state at a point in time,
// serializable for snapshots and restorable on startup.
type State struct {
	Sequence      int64
	StateHash     [32]byte
	Accounts      []ledger.Account
	Records       []Record
	SequenceMarks map[uint16]int64
}

// CaptureState copies the processor's state. Deterministic ordering so two
// captures of the same state serialize identically. Safe to call from the
// snapshot goroutine while events are flowing: the processor lock holds the
// event stream still for the duration of the copy.
func (p *Processor) CaptureState() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	recs := p.history.all()
	records := make([]Record, 0, len(recs))
	for _, rec := range recs {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].TxID < records[j].TxID
	})

	return State{
		Sequence:      p.sequence,
		StateHash:     p.hasher.GetPrevHash(),
		Accounts:      p.accounts.Accounts(),
		Records:       records,
		SequenceMarks: p.validator.marks(),
	}
}

// RestoreState replaces the processor's state, used when resuming from a
// snapshot before replaying the tail of the event stream.
func (p *Processor) RestoreState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sequence = s.Sequence
	p.hasher.SetPrevHash(s.StateHash)
	p.accounts.Restore(s.Accounts)
	p.validator.restore(s.SequenceMarks)

	p.history = newHistoryIndex()
	p.disputesOpen = 0
	for _, rec := range s.Records {
		p.history.restore(rec)
		if rec.State == DisputeOpen {
			p.disputesOpen++
		}
	}
}
