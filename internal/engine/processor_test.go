package engine_test

import (
	"io"
	"testing"

	"PayLedger/internal/engine"
	"PayLedger/internal/event"
)

// --- Test helpers ---

// newTestProcessor creates a Processor with buffered channels and no metrics.
func newTestProcessor() (*engine.Processor, chan engine.Output, chan engine.Output) {
	persistChan := make(chan engine.Output, 1024)
	projChan := make(chan engine.Output, 1024)
	p := engine.NewProcessor(0, persistChan, projChan, nil)
	return p, persistChan, projChan
}

func deposit(client uint16, tx uint32, amount int64) *event.Deposit {
	return &event.Deposit{ClientID: client, TxID: tx, Amount: amount}
}

func withdrawal(client uint16, tx uint32, amount int64) *event.Withdrawal {
	return &event.Withdrawal{ClientID: client, TxID: tx, Amount: amount}
}

func dispute(client uint16, tx uint32) *event.Dispute {
	return &event.Dispute{ClientID: client, TxID: tx}
}

func resolve(client uint16, tx uint32) *event.Resolve {
	return &event.Resolve{ClientID: client, TxID: tx}
}

func chargeback(client uint16, tx uint32) *event.Chargeback {
	return &event.Chargeback{ClientID: client, TxID: tx}
}

func mustApply(t *testing.T, p *engine.Processor, evt event.Event) {
	t.Helper()
	outcome := p.Process(evt)
	if !outcome.Applied {
		t.Fatalf("%s client=%d tx=%d rejected: %s",
			evt.Kind(), evt.Client(), evt.Tx(), outcome.Reason)
	}
}

func mustReject(t *testing.T, p *engine.Processor, evt event.Event, want engine.Reason) {
	t.Helper()
	outcome := p.Process(evt)
	if outcome.Applied {
		t.Fatalf("%s client=%d tx=%d applied, want rejection %s",
			evt.Kind(), evt.Client(), evt.Tx(), want)
	}
	if outcome.Reason != want {
		t.Fatalf("got reason %s, want %s", outcome.Reason, want)
	}
}

func checkBalance(t *testing.T, p *engine.Processor, client uint16, available, held int64, locked bool) {
	t.Helper()
	snap, ok := p.AccountSnapshot(client)
	if !ok {
		t.Fatalf("account %d does not exist", client)
	}
	if snap.Available != available {
		t.Errorf("available: got %d, want %d", snap.Available, available)
	}
	if snap.Held != held {
		t.Errorf("held: got %d, want %d", snap.Held, held)
	}
	if snap.Total != available+held {
		t.Errorf("total: got %d, want %d", snap.Total, available+held)
	}
	if snap.Locked != locked {
		t.Errorf("locked: got %v, want %v", snap.Locked, locked)
	}
}

func drainOutputs(ch chan engine.Output) []engine.Output {
	var outputs []engine.Output
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// ============================================================================
// Test: Deposits
// ============================================================================

func TestDeposit_IncreasesAvailable(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_5000))
	checkBalance(t, p, 1, 1_5000, 0, false)
}

func TestMultipleDeposits_Accumulate(t *testing.T) {
	p, _, _ := newTestProcessor()

	for tx := uint32(1); tx <= 5; tx++ {
		mustApply(t, p, deposit(1, tx, 10_0000))
	}
	checkBalance(t, p, 1, 50_0000, 0, false)
}

func TestDeposit_ZeroAmount_Rejected(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustReject(t, p, deposit(1, 1, 0), engine.ReasonInvalidAmount)
	mustReject(t, p, deposit(1, 2, -5000), engine.ReasonInvalidAmount)
}

func TestDeposit_DuplicateTx_Rejected(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_0000))
	mustReject(t, p, deposit(1, 1, 1_0000), engine.ReasonDuplicateTransaction)

	// Cross-client reuse of the id is still a duplicate: tx ids are global.
	mustReject(t, p, deposit(2, 1, 1_0000), engine.ReasonDuplicateTransaction)
	checkBalance(t, p, 1, 1_0000, 0, false)
}

func TestDeposits_IsolatedPerClient(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_0000))
	mustApply(t, p, deposit(2, 2, 2_0000))

	checkBalance(t, p, 1, 1_0000, 0, false)
	checkBalance(t, p, 2, 2_0000, 0, false)
}

// ============================================================================
// Test: Withdrawals
// ============================================================================

func TestWithdrawal_DecreasesAvailable(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 5_0000))
	mustApply(t, p, withdrawal(1, 2, 1_5000))
	checkBalance(t, p, 1, 3_5000, 0, false)
}

func TestWithdrawal_InsufficientFunds_Rejected(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_0000))
	mustReject(t, p, withdrawal(1, 2, 2_0000), engine.ReasonInsufficientFunds)
	checkBalance(t, p, 1, 1_0000, 0, false)
}

func TestWithdrawal_FromUnknownClient_Rejected(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustReject(t, p, withdrawal(9, 1, 1_0000), engine.ReasonInsufficientFunds)
}

func TestFailedWithdrawal_TxIDStaysFree(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_0000))
	mustReject(t, p, withdrawal(1, 2, 5_0000), engine.ReasonInsufficientFunds)

	// The failed withdrawal never entered history: disputing it fails, and
	// its tx id can be reused.
	mustReject(t, p, dispute(1, 2), engine.ReasonUnknownTransaction)
	mustApply(t, p, deposit(1, 2, 2_0000))
	checkBalance(t, p, 1, 3_0000, 0, false)
}

// ============================================================================
// Test: Dispute lifecycle
// ============================================================================

func TestDispute_MovesFundsToHeld(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 3_0000))
	mustApply(t, p, dispute(1, 1))
	checkBalance(t, p, 1, 0, 3_0000, false)

	rec, ok := p.TransactionRecord(1)
	if !ok {
		t.Fatal("transaction 1 should be in history")
	}
	if rec.State != engine.DisputeOpen {
		t.Errorf("dispute state: got %s, want %s", rec.State, engine.DisputeOpen)
	}
}

func TestDispute_AfterSpending_DrivesAvailableNegative(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 3_0000))
	mustApply(t, p, withdrawal(1, 2, 2_0000))
	mustApply(t, p, dispute(1, 1))

	// The deposited 3.0 is held even though only 1.0 remained available.
	checkBalance(t, p, 1, -2_0000, 3_0000, false)
}

func TestDispute_UnknownTx_Rejected(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_0000))
	mustReject(t, p, dispute(1, 99), engine.ReasonUnknownTransaction)

	// A dispute from a never-seen client must not create an account.
	mustReject(t, p, dispute(5, 99), engine.ReasonUnknownTransaction)
	if _, ok := p.AccountSnapshot(5); ok {
		t.Error("dispute from unknown client created an account")
	}
}

func TestDispute_WrongClient_Rejected(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_0000))
	mustReject(t, p, dispute(2, 1), engine.ReasonClientMismatch)
	checkBalance(t, p, 1, 1_0000, 0, false)
}

func TestDispute_AlreadyDisputed_Rejected(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_0000))
	mustApply(t, p, dispute(1, 1))
	mustReject(t, p, dispute(1, 1), engine.ReasonInvalidState)
	checkBalance(t, p, 1, 0, 1_0000, false)
}

func TestResolve_ReturnsHeldFunds(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 3_0000))
	mustApply(t, p, dispute(1, 1))
	mustApply(t, p, resolve(1, 1))
	checkBalance(t, p, 1, 3_0000, 0, false)
}

func TestResolve_WithoutDispute_Rejected(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_0000))
	mustReject(t, p, resolve(1, 1), engine.ReasonInvalidState)
}

func TestResolvedTx_CannotBeDisputedAgain(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_0000))
	mustApply(t, p, dispute(1, 1))
	mustApply(t, p, resolve(1, 1))
	mustReject(t, p, dispute(1, 1), engine.ReasonInvalidState)
}

// ============================================================================
// Test: Chargebacks and locked accounts
// ============================================================================

func TestChargeback_RemovesHeldAndLocks(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 3_0000))
	mustApply(t, p, dispute(1, 1))
	mustApply(t, p, chargeback(1, 1))
	checkBalance(t, p, 1, 0, 0, true)
}

func TestChargeback_WithoutDispute_Rejected(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_0000))
	mustReject(t, p, chargeback(1, 1), engine.ReasonInvalidState)
	checkBalance(t, p, 1, 1_0000, 0, false)
}

func TestLockedAccount_RejectsAllMutations(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 3_0000))
	mustApply(t, p, deposit(1, 2, 1_0000))
	mustApply(t, p, dispute(1, 1))
	mustApply(t, p, chargeback(1, 1))

	mustReject(t, p, deposit(1, 3, 1_0000), engine.ReasonAccountLocked)
	mustReject(t, p, withdrawal(1, 4, 5000), engine.ReasonAccountLocked)
	mustReject(t, p, dispute(1, 2), engine.ReasonAccountLocked)

	// The untouched second deposit survives the lock.
	checkBalance(t, p, 1, 1_0000, 0, true)
}

func TestLockedAccount_DoesNotAffectOthers(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_0000))
	mustApply(t, p, deposit(2, 2, 2_0000))
	mustApply(t, p, dispute(1, 1))
	mustApply(t, p, chargeback(1, 1))

	mustApply(t, p, deposit(2, 3, 1_0000))
	checkBalance(t, p, 2, 3_0000, 0, false)
}

// ============================================================================
// Test: Source sequence validation
// ============================================================================

func TestSourceSequence_RegressionRejected(t *testing.T) {
	p, _, _ := newTestProcessor()

	d1 := deposit(1, 1, 1_0000)
	d1.Sequence = 10
	mustApply(t, p, d1)

	d2 := deposit(1, 2, 1_0000)
	d2.Sequence = 10
	mustReject(t, p, d2, engine.ReasonOutOfOrder)

	d3 := deposit(1, 3, 1_0000)
	d3.Sequence = 5
	mustReject(t, p, d3, engine.ReasonOutOfOrder)

	// Gaps are tolerated; only regressions are rejected.
	d4 := deposit(1, 4, 1_0000)
	d4.Sequence = 100
	mustApply(t, p, d4)
}

func TestSourceSequence_PerClient(t *testing.T) {
	p, _, _ := newTestProcessor()

	d1 := deposit(1, 1, 1_0000)
	d1.Sequence = 10
	mustApply(t, p, d1)

	// Another client may use a lower sequence.
	d2 := deposit(2, 2, 1_0000)
	d2.Sequence = 3
	mustApply(t, p, d2)
}

func TestSourceSequence_ZeroBypassesValidation(t *testing.T) {
	p, _, _ := newTestProcessor()

	d1 := deposit(1, 1, 1_0000)
	d1.Sequence = 10
	mustApply(t, p, d1)

	// Batch input carries no sequence; it is never out of order.
	mustApply(t, p, deposit(1, 2, 1_0000))
}

// ============================================================================
// Test: Output emission
// ============================================================================

func TestOutput_AppliedAndRejectedBothEmitted(t *testing.T) {
	p, persistCh, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_0000))
	mustReject(t, p, withdrawal(1, 2, 9_0000), engine.ReasonInsufficientFunds)

	outputs := drainOutputs(persistCh)
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}

	if !outputs[0].Applied {
		t.Error("first output should be applied")
	}
	if outputs[0].Sequence != 0 {
		t.Errorf("first sequence: got %d, want 0", outputs[0].Sequence)
	}

	if outputs[1].Applied {
		t.Error("second output should be rejected")
	}
	if outputs[1].Reason != engine.ReasonInsufficientFunds {
		t.Errorf("got reason %s, want %s", outputs[1].Reason, engine.ReasonInsufficientFunds)
	}
}

func TestOutput_RejectionDoesNotConsumeSequence(t *testing.T) {
	p, persistCh, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_0000))
	mustReject(t, p, deposit(1, 1, 1_0000), engine.ReasonDuplicateTransaction)
	mustApply(t, p, deposit(1, 2, 1_0000))

	outputs := drainOutputs(persistCh)
	if outputs[2].Sequence != 1 {
		t.Errorf("third output sequence: got %d, want 1", outputs[2].Sequence)
	}
	if p.Sequence() != 2 {
		t.Errorf("next sequence: got %d, want 2", p.Sequence())
	}
}

func TestOutput_HashChainLinks(t *testing.T) {
	p, persistCh, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_0000))
	mustApply(t, p, deposit(1, 2, 2_0000))
	mustApply(t, p, withdrawal(1, 3, 5000))

	outputs := drainOutputs(persistCh)
	for i := 1; i < len(outputs); i++ {
		if outputs[i].PrevHash != outputs[i-1].StateHash {
			t.Errorf("output %d prev hash does not match output %d state hash", i, i-1)
		}
	}
}

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistChan := make(chan engine.Output, 1024)
	projChan := make(chan engine.Output, 1) // tiny on purpose
	p := engine.NewProcessor(0, persistChan, projChan, nil)

	for tx := uint32(1); tx <= 5; tx++ {
		mustApply(t, p, deposit(1, tx, 1_0000))
	}

	// Persistence got all five, projections only what fit.
	if got := len(drainOutputs(persistChan)); got != 5 {
		t.Errorf("persist outputs: got %d, want 5", got)
	}
	if got := len(drainOutputs(projChan)); got != 1 {
		t.Errorf("projection outputs: got %d, want 1", got)
	}
}

// ============================================================================
// Test: Determinism
// ============================================================================

func TestStateHash_DeterministicAcrossRuns(t *testing.T) {
	run := func() [32]byte {
		p, _, _ := newTestProcessor()
		mustApply(t, p, deposit(1, 1, 3_0000))
		mustApply(t, p, deposit(2, 2, 5_0000))
		mustApply(t, p, withdrawal(1, 3, 1_0000))
		mustApply(t, p, dispute(2, 2))
		mustApply(t, p, chargeback(2, 2))
		return p.StateHash()
	}

	h1 := run()
	h2 := run()
	if h1 != h2 {
		t.Errorf("state hash differs across identical runs: %x vs %x", h1, h2)
	}
}

func TestCaptureState_ConcurrentWithProcessing(t *testing.T) {
	p := engine.NewProcessor(0, nil, nil, nil)

	const events = 5000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < events; i++ {
			if out := p.Process(deposit(uint16(i%50+1), uint32(i+1), 1_0000)); !out.Applied {
				t.Errorf("deposit %d rejected: %s", i+1, out.Reason)
				return
			}
		}
	}()

	// Every deposit adds exactly 1.0, so any consistent capture satisfies
	// total funds == sequence * 1.0. A capture that interleaves with an
	// in-flight event breaks that relation.
	for i := 0; i < 200; i++ {
		st := p.CaptureState()
		var total int64
		for _, a := range st.Accounts {
			total += a.Available + a.Held
		}
		if total != st.Sequence*1_0000 {
			t.Fatalf("torn capture: total funds %d at sequence %d", total, st.Sequence)
		}
		if seq := p.Sequence(); seq < st.Sequence {
			t.Fatalf("sequence went backwards: capture saw %d, accessor saw %d", st.Sequence, seq)
		}
	}
	<-done

	final := p.CaptureState()
	if final.Sequence != events {
		t.Fatalf("final sequence %d, want %d", final.Sequence, events)
	}
}

func TestTotalConservation_AcrossMixedStream(t *testing.T) {
	p, _, _ := newTestProcessor()

	// Each step pairs an event with the change it makes to the total funds
	// held across all accounts. Deposits add, withdrawals subtract, dispute
	// and resolve only move funds between available and held, chargeback
	// removes the disputed amount entirely.
	steps := []struct {
		evt   event.Event
		delta int64
	}{
		{deposit(1, 1, 10_0000), 10_0000},
		{deposit(2, 2, 4_0000), 4_0000},
		{withdrawal(1, 3, 2_5000), -2_5000},
		{dispute(1, 1), 0},
		{deposit(3, 4, 1_2345), 1_2345},
		{resolve(1, 1), 0},
		{dispute(2, 2), 0},
		{withdrawal(3, 5, 2345), -2345},
		{chargeback(2, 2), -4_0000},
	}

	var want int64
	for _, step := range steps {
		mustApply(t, p, step.evt)
		want += step.delta

		var got int64
		for _, snap := range p.AccountSnapshots() {
			got += snap.Available + snap.Held
		}
		if got != want {
			t.Fatalf("after %s tx=%d: total funds %d, want %d",
				step.evt.Kind(), step.evt.Tx(), got, want)
		}
	}
}

func TestReordering_PreservingPerClientOrder_SameSnapshots(t *testing.T) {
	// Interleavings that keep each client's events in relative order must
	// produce identical final account state.
	client1 := []event.Event{
		deposit(1, 1, 5_0000),
		withdrawal(1, 3, 2_0000),
		dispute(1, 1),
	}
	client2 := []event.Event{
		deposit(2, 2, 3_0000),
		deposit(2, 4, 1_0000),
	}

	runA, _, _ := newTestProcessor()
	for _, evt := range append(append([]event.Event{}, client1...), client2...) {
		runA.Process(evt)
	}

	runB, _, _ := newTestProcessor()
	interleaved := []event.Event{
		client2[0], client1[0], client1[1], client2[1], client1[2],
	}
	for _, evt := range interleaved {
		runB.Process(evt)
	}

	a := runA.AccountSnapshots()
	b := runB.AccountSnapshots()
	if len(a) != len(b) {
		t.Fatalf("account counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("account %d diverged: %+v vs %+v", a[i].Client, a[i], b[i])
		}
	}
}

func TestStateHash_AdvancesOnlyOnApply(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 1_0000))
	before := p.StateHash()

	mustReject(t, p, deposit(1, 1, 1_0000), engine.ReasonDuplicateTransaction)
	if p.StateHash() != before {
		t.Error("rejected event advanced the hash chain")
	}

	mustApply(t, p, deposit(1, 2, 1_0000))
	if p.StateHash() == before {
		t.Error("applied event did not advance the hash chain")
	}
}

// ============================================================================
// Test: Snapshot capture/restore
// ============================================================================

func TestSnapshot_RoundTrip(t *testing.T) {
	p, _, _ := newTestProcessor()

	mustApply(t, p, deposit(1, 1, 3_0000))
	mustApply(t, p, deposit(2, 2, 5_0000))
	mustApply(t, p, dispute(1, 1))

	state := p.CaptureState()

	restored := engine.NewProcessor(0, nil, nil, nil)
	restored.RestoreState(state)

	if restored.Sequence() != p.Sequence() {
		t.Errorf("sequence: got %d, want %d", restored.Sequence(), p.Sequence())
	}
	if restored.StateHash() != p.StateHash() {
		t.Errorf("state hash mismatch after restore")
	}
	checkBalance(t, restored, 1, 0, 3_0000, false)
	checkBalance(t, restored, 2, 5_0000, 0, false)

	// Dispute state survives: the restored processor still accepts the
	// resolve and rejects a second dispute.
	mustReject(t, restored, dispute(1, 1), engine.ReasonInvalidState)
	mustApply(t, restored, resolve(1, 1))
	checkBalance(t, restored, 1, 3_0000, 0, false)
}

func TestSnapshot_ContinuationMatchesUninterruptedRun(t *testing.T) {
	// Run A: all events through one processor.
	a, _, _ := newTestProcessor()
	mustApply(t, a, deposit(1, 1, 3_0000))
	mustApply(t, a, deposit(1, 2, 2_0000))
	mustApply(t, a, withdrawal(1, 3, 1_0000))
	mustApply(t, a, dispute(1, 1))
	mustApply(t, a, resolve(1, 1))

	// Run B: snapshot midway, restore into a fresh processor, continue.
	b1, _, _ := newTestProcessor()
	mustApply(t, b1, deposit(1, 1, 3_0000))
	mustApply(t, b1, deposit(1, 2, 2_0000))

	b2 := engine.NewProcessor(0, nil, nil, nil)
	b2.RestoreState(b1.CaptureState())
	mustApply(t, b2, withdrawal(1, 3, 1_0000))
	mustApply(t, b2, dispute(1, 1))
	mustApply(t, b2, resolve(1, 1))

	if a.StateHash() != b2.StateHash() {
		t.Errorf("snapshot continuation diverged: %x vs %x", a.StateHash(), b2.StateHash())
	}
}

// ============================================================================
// Test: Drain
// ============================================================================

type sliceSource struct {
	events []event.Event
	pos    int
}

func (s *sliceSource) Next() (event.Event, error) {
	if s.pos >= len(s.events) {
		return nil, io.EOF
	}
	evt := s.events[s.pos]
	s.pos++
	return evt, nil
}

func TestDrain_ProcessesAllAndReportsRejections(t *testing.T) {
	p := engine.NewProcessor(0, nil, nil, nil)

	src := &sliceSource{events: []event.Event{
		deposit(1, 1, 2_0000),
		withdrawal(1, 2, 5_0000), // rejected
		withdrawal(1, 3, 1_0000),
	}}

	var rejected []engine.Reason
	err := p.Drain(src, func(_ event.Event, outcome engine.Outcome) {
		if !outcome.Applied {
			rejected = append(rejected, outcome.Reason)
		}
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	if len(rejected) != 1 || rejected[0] != engine.ReasonInsufficientFunds {
		t.Errorf("rejections: got %v, want [insufficient_funds]", rejected)
	}
	checkBalance(t, p, 1, 1_0000, 0, false)
}
