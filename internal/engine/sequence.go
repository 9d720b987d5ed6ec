package engine

// sequenceValidator tracks the highest source sequence seen per client and
// rejects events arriving out of order. Gaps are tolerated; only regressions
// and replays of the same sequence fail. Events carrying sequence 0 bypass
// validation entirely, which lets tests and batch replays construct events
// without threading sequence numbers through.
type sequenceValidator struct {
	lastSeq map[uint16]int64
}

func newSequenceValidator() *sequenceValidator {
	return &sequenceValidator{
		lastSeq: make(map[uint16]int64),
	}
}

// validate returns false when seq is at or below the last accepted sequence
// for the client. A passing sequence is recorded as the new high-water mark.
func (v *sequenceValidator) validate(client uint16, seq int64) bool {
	if seq == 0 {
		return true
	}
	if last, ok := v.lastSeq[client]; ok && seq <= last {
		return false
	}
	v.lastSeq[client] = seq
	return true
}

// restore replaces the per-client high-water marks, used when resuming from
// a snapshot.
func (v *sequenceValidator) restore(marks map[uint16]int64) {
	v.lastSeq = make(map[uint16]int64, len(marks))
	for client, seq := range marks {
		v.lastSeq[client] = seq
	}
}

// marks returns a copy of the per-client high-water marks for snapshotting.
func (v *sequenceValidator) marks() map[uint16]int64 {
	out := make(map[uint16]int64, len(v.lastSeq))
	for client, seq := range v.lastSeq {
		out[client] = seq
	}
	return out
}
