package engine

// DisputeState tracks the dispute lifecycle of one applied transaction
type DisputeState int32

const (
	DisputeNone DisputeState = iota
	DisputeOpen
	DisputeResolved
	DisputeChargedBack
)

func (s DisputeState) String() string {
	switch s {
	case DisputeNone:
		return "none"
	case DisputeOpen:
		return "disputed"
	case DisputeResolved:
		return "resolved"
	case DisputeChargedBack:
		return "charged_back"
	default:
		return "unknown"
	}
}

// Record is the historical entry for a successfully applied deposit or
// withdrawal, kept so later dispute-family events can resolve their
// reference. Records are never deleted; the dispute state transition is
// the only mutation.
type Record struct {
	TxID   uint32
	Client uint16
	Amount int64
	State  DisputeState
}

// historyIndex maps transaction id to its record.
// Not thread-safe — only accessed from the single-threaded processor.
type historyIndex struct {
	records map[uint32]*Record
}

func newHistoryIndex() *historyIndex {
	return &historyIndex{
		records: make(map[uint32]*Record),
	}
}

func (h *historyIndex) get(tx uint32) (*Record, bool) {
	rec, ok := h.records[tx]
	return rec, ok
}

func (h *historyIndex) contains(tx uint32) bool {
	_, ok := h.records[tx]
	return ok
}

// insert records a newly applied deposit or withdrawal.
func (h *historyIndex) insert(tx uint32, client uint16, amount int64) {
	h.records[tx] = &Record{
		TxID:   tx,
		Client: client,
		Amount: amount,
		State:  DisputeNone,
	}
}

// all returns every record, unordered. Used for snapshots.
func (h *historyIndex) all() []*Record {
	out := make([]*Record, 0, len(h.records))
	for _, rec := range h.records {
		out = append(out, rec)
	}
	return out
}

// restore reinstates a record from a snapshot.
func (h *historyIndex) restore(rec Record) {
	r := rec
	h.records[rec.TxID] = &r
}
