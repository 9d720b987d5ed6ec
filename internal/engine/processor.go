package engine

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"PayLedger/internal/event"
	"PayLedger/internal/ledger"
	"PayLedger/internal/observability"
)

// Outcome is the per-event result. Applied and Reason are mutually
// exclusive: a rejected event carries the single Reason that stopped it and
// changes no account state.
type Outcome struct {
	Applied bool
	Reason  Reason
}

// Output is the record the processor emits downstream for every event,
// applied or rejected. Persistence consumes it to write the transaction and
// rejection logs; projections consume it to maintain read models.
type Output struct {
	Sequence  int64
	Event     event.Event
	Applied   bool
	Reason    Reason
	Account   ledger.Snapshot // touched account after processing; zero if never created
	StateHash [32]byte        // zero for rejected events — the chain only advances on apply
	PrevHash  [32]byte
}

// Processor is the single-threaded transaction processor. It owns the
// account store, the transaction history, and the state hash chain; nothing
// else mutates them. Process is called from one goroutine; mu exists so the
// snapshot goroutine can capture state without racing the event stream.
type Processor struct {
	mu        sync.Mutex
	sequence  int64
	accounts  *ledger.AccountStore
	history   *historyIndex
	hasher    *StateHasher
	validator *sequenceValidator
	metrics   *observability.Metrics

	disputesOpen int64

	persistChan    chan<- Output
	projectionChan chan<- Output
}

// NewProcessor builds a processor starting at startSequence. Both channels
// may be nil (batch mode runs without downstream consumers).
func NewProcessor(
	startSequence int64,
	persistChan, projectionChan chan<- Output,
	metrics *observability.Metrics,
) *Processor {
	return &Processor{
		sequence:       startSequence,
		accounts:       ledger.NewAccountStore(),
		history:        newHistoryIndex(),
		hasher:         NewStateHasher(),
		validator:      newSequenceValidator(),
		metrics:        metrics,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// AttachChannels sets the downstream channels. Called after startup replay
// so replayed events are not re-persisted or re-projected.
func (p *Processor) AttachChannels(persistChan, projectionChan chan<- Output) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persistChan = persistChan
	p.projectionChan = projectionChan
}

// Process runs one event through the pipeline: sequence validation,
// dispatch, apply, hash, emit. A rejection never halts the stream — the
// caller inspects the Outcome and continues with the next event.
func (p *Processor) Process(evt event.Event) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	kind := evt.Kind().String()

	// Step 1: source sequence validation (per client, gaps tolerated)
	if !p.validator.validate(evt.Client(), evt.SourceSequence()) {
		if p.metrics != nil {
			p.metrics.EventOutOfOrder.WithLabelValues(kind).Inc()
		}
		return p.reject(evt, kind, ReasonOutOfOrder, start)
	}

	// Step 2: dispatch
	var reason Reason
	switch e := evt.(type) {
	case *event.Deposit:
		reason = p.applyDeposit(e)
	case *event.Withdrawal:
		reason = p.applyWithdrawal(e)
	case *event.Dispute:
		reason = p.applyDispute(e)
	case *event.Resolve:
		reason = p.applyResolve(e)
	case *event.Chargeback:
		reason = p.applyChargeback(e)
	default:
		panic(fmt.Sprintf("FATAL: unhandled event type %T in processor dispatch", evt))
	}

	if reason != ReasonNone {
		return p.reject(evt, kind, reason, start)
	}

	// Step 3: state hash over the touched account
	snap, _ := p.accounts.Snapshot(evt.Client())
	prev := p.hasher.GetPrevHash()
	hash := p.hasher.ComputeHash(p.sequence, accountDigest(snap))

	out := Output{
		Sequence:  p.sequence,
		Event:     evt,
		Applied:   true,
		Reason:    ReasonNone,
		Account:   snap,
		StateHash: hash,
		PrevHash:  prev,
	}
	p.sequence++

	// Step 4: emit
	p.emit(out)

	if p.metrics != nil {
		p.metrics.CoreEventsApplied.WithLabelValues(kind).Inc()
		p.metrics.CoreEventDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		p.metrics.CoreSequence.Set(float64(p.sequence))
		p.metrics.CoreAccounts.Set(float64(p.accounts.Size()))
		p.metrics.CoreDisputesOpen.Set(float64(p.disputesOpen))
	}

	return Outcome{Applied: true}
}

func (p *Processor) reject(evt event.Event, kind string, reason Reason, start time.Time) Outcome {
	snap, _ := p.accounts.Snapshot(evt.Client())

	p.emit(Output{
		Sequence: p.sequence,
		Event:    evt,
		Applied:  false,
		Reason:   reason,
		Account:  snap,
		PrevHash: p.hasher.GetPrevHash(),
	})

	if p.metrics != nil {
		p.metrics.CoreEventsRejected.WithLabelValues(kind, reason.String()).Inc()
		p.metrics.CoreEventDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}

	return Outcome{Applied: false, Reason: reason}
}

// emit sends to persistence with a blocking send (backpressure: the core
// stalls until the persistence worker drains, so no event is ever lost) and
// to projections with a non-blocking send (drop on full; projections rebuild
// from the transaction log when they fall behind).
func (p *Processor) emit(out Output) {
	if p.persistChan != nil {
		select {
		case p.persistChan <- out:
		default:
			if p.metrics != nil {
				p.metrics.PersistBackpressure.Inc()
			}
			p.persistChan <- out
		}
	}

	if p.projectionChan != nil {
		select {
		case p.projectionChan <- out:
		default:
			if p.metrics != nil {
				p.metrics.ProjectionDrops.Inc()
			}
		}
	}
}

func (p *Processor) applyDeposit(e *event.Deposit) Reason {
	if e.Amount <= 0 {
		return ReasonInvalidAmount
	}
	if p.history.contains(e.TxID) {
		return ReasonDuplicateTransaction
	}
	if err := p.accounts.Credit(e.ClientID, e.Amount); err != nil {
		return reasonForLedgerErr(err)
	}
	p.history.insert(e.TxID, e.ClientID, e.Amount)
	return ReasonNone
}

func (p *Processor) applyWithdrawal(e *event.Withdrawal) Reason {
	if e.Amount <= 0 {
		return ReasonInvalidAmount
	}
	if p.history.contains(e.TxID) {
		return ReasonDuplicateTransaction
	}
	if err := p.accounts.Debit(e.ClientID, e.Amount); err != nil {
		// Failed withdrawals never enter history — their tx id stays
		// free and cannot be disputed.
		return reasonForLedgerErr(err)
	}
	p.history.insert(e.TxID, e.ClientID, e.Amount)
	return ReasonNone
}

func (p *Processor) applyDispute(e *event.Dispute) Reason {
	rec, ok := p.history.get(e.TxID)
	if !ok {
		return ReasonUnknownTransaction
	}
	if rec.Client != e.ClientID {
		return ReasonClientMismatch
	}
	if rec.State != DisputeNone {
		return ReasonInvalidState
	}
	if err := p.accounts.Hold(e.ClientID, rec.Amount); err != nil {
		return reasonForLedgerErr(err)
	}
	rec.State = DisputeOpen
	p.disputesOpen++
	return ReasonNone
}

func (p *Processor) applyResolve(e *event.Resolve) Reason {
	rec, ok := p.history.get(e.TxID)
	if !ok {
		return ReasonUnknownTransaction
	}
	if rec.Client != e.ClientID {
		return ReasonClientMismatch
	}
	if rec.State != DisputeOpen {
		return ReasonInvalidState
	}
	if err := p.accounts.Release(e.ClientID, rec.Amount); err != nil {
		return reasonForLedgerErr(err)
	}
	rec.State = DisputeResolved
	p.disputesOpen--
	return ReasonNone
}

func (p *Processor) applyChargeback(e *event.Chargeback) Reason {
	rec, ok := p.history.get(e.TxID)
	if !ok {
		return ReasonUnknownTransaction
	}
	if rec.Client != e.ClientID {
		return ReasonClientMismatch
	}
	if rec.State != DisputeOpen {
		return ReasonInvalidState
	}
	if err := p.accounts.Terminate(e.ClientID, rec.Amount); err != nil {
		return reasonForLedgerErr(err)
	}
	rec.State = DisputeChargedBack
	p.disputesOpen--
	return ReasonNone
}

// reasonForLedgerErr maps ledger sentinel errors to rejection reasons.
func reasonForLedgerErr(err error) Reason {
	switch {
	case errors.Is(err, ledger.ErrAccountLocked):
		return ReasonAccountLocked
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return ReasonInsufficientFunds
	default:
		panic(fmt.Sprintf("FATAL: unexpected ledger error: %v", err))
	}
}

// Sequence returns the next sequence number to be assigned.
func (p *Processor) Sequence() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sequence
}

// StateHash returns the current tip of the state hash chain.
func (p *Processor) StateHash() [32]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasher.GetPrevHash()
}

// AccountSnapshot returns the read-only view of one client's account.
func (p *Processor) AccountSnapshot(client uint16) (ledger.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accounts.Snapshot(client)
}

// AccountSnapshots returns every account ever touched, ordered by client id.
func (p *Processor) AccountSnapshots() []ledger.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accounts.Snapshots()
}

// TransactionRecord returns the history entry for a transaction id.
func (p *Processor) TransactionRecord(tx uint32) (Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.history.get(tx)
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// EventSource yields events in stream order. Next returns io.EOF when the
// source is exhausted; any other error is stream-fatal.
type EventSource interface {
	Next() (event.Event, error)
}

// Drain processes every event from src until io.EOF. Rejections are reported
// through onOutcome (which may be nil) and never stop the drain; only a
// source read error does.
func (p *Processor) Drain(src EventSource, onOutcome func(event.Event, Outcome)) error {
	for {
		evt, err := src.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}

		outcome := p.Process(evt)
		if onOutcome != nil {
			onOutcome(evt, outcome)
		}
	}
}
