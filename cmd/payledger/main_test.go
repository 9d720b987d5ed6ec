package main

import (
	"context"
	"testing"
	"time"

	"PayLedger/internal/engine"
	"PayLedger/internal/event"
	"PayLedger/internal/ingestion"
	"PayLedger/internal/persistence"
	"PayLedger/internal/projection"
)

// ============================================================================
// Test: Output bridge shutdown
// ============================================================================

func TestBridgeOutputs_ExitsOnCancelWhileWorkerChannelIsFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	persistIn := make(chan engine.Output, 4)
	projectionIn := make(chan engine.Output, 4)
	persistOut := make(chan persistence.Record) // no worker consuming
	projectionOut := make(chan projection.AccountUpdate, 4)
	publishOut := make(chan ingestion.PublishableOutcome, 4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		bridgeOutputs(ctx, persistIn, projectionIn, persistOut, projectionOut, publishOut)
	}()

	// Two outputs: the bridge takes the first and blocks sending it to the
	// unconsumed worker channel, exactly the state it is in when the
	// persistence worker has already stopped with a backlog remaining.
	out := engine.Output{
		Sequence: 0,
		Event:    &event.Deposit{ClientID: 1, TxID: 1, Amount: 1_0000},
		Applied:  true,
	}
	persistIn <- out
	persistIn <- out

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge still running after cancel with a blocked worker send")
	}

	// Shutdown closes the worker channels only after the bridge has
	// exited; with the bridge gone this must not panic.
	close(persistOut)
	close(projectionOut)
	close(publishOut)
}

func TestBridgeOutputs_ExitsWhenInputsClose(t *testing.T) {
	ctx := context.Background()

	persistIn := make(chan engine.Output)
	projectionIn := make(chan engine.Output)
	persistOut := make(chan persistence.Record, 4)
	projectionOut := make(chan projection.AccountUpdate, 4)
	publishOut := make(chan ingestion.PublishableOutcome, 4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		bridgeOutputs(ctx, persistIn, projectionIn, persistOut, projectionOut, publishOut)
	}()

	close(persistIn)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge still running after input channel closed")
	}
}
