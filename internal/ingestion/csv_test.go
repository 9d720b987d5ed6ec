package ingestion_test

import (
	"io"
	"strings"
	"testing"

	"PayLedger/internal/event"
	"PayLedger/internal/ingestion"
)

func readAll(t *testing.T, src *ingestion.CSVSource) []event.Event {
	t.Helper()
	var events []event.Event
	for {
		evt, err := src.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		events = append(events, evt)
	}
}

func TestCSV_BasicFile(t *testing.T) {
	input := `type, client, tx, amount
deposit, 1, 1, 1.0
deposit, 2, 2, 2.0
withdrawal, 1, 3, 0.5
dispute, 1, 1,
resolve, 1, 1,
`
	events := readAll(t, ingestion.NewCSVSource(strings.NewReader(input)))
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}

	d, ok := events[0].(*event.Deposit)
	if !ok {
		t.Fatalf("first event: got %T, want *event.Deposit", events[0])
	}
	if d.ClientID != 1 || d.TxID != 1 || d.Amount != 1_0000 {
		t.Errorf("got client=%d tx=%d amount=%d, want 1/1/10000", d.ClientID, d.TxID, d.Amount)
	}
	if d.SourceSequence() != 0 {
		t.Errorf("batch events must carry source sequence 0, got %d", d.SourceSequence())
	}

	if _, ok := events[3].(*event.Dispute); !ok {
		t.Errorf("fourth event: got %T, want *event.Dispute", events[3])
	}
	if _, ok := events[4].(*event.Resolve); !ok {
		t.Errorf("fifth event: got %T, want *event.Resolve", events[4])
	}
}

func TestCSV_DisputeRowWithoutAmountColumn(t *testing.T) {
	// Reference rows may drop the fourth column entirely.
	input := "deposit,1,1,1.0\ndispute,1,1\nchargeback,1,1\n"

	events := readAll(t, ingestion.NewCSVSource(strings.NewReader(input)))
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if _, ok := events[2].(*event.Chargeback); !ok {
		t.Errorf("third event: got %T, want *event.Chargeback", events[2])
	}
}

func TestCSV_NoHeader(t *testing.T) {
	input := "deposit,5,9,3.25\n"

	events := readAll(t, ingestion.NewCSVSource(strings.NewReader(input)))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	d := events[0].(*event.Deposit)
	if d.ClientID != 5 || d.Amount != 3_2500 {
		t.Errorf("got client=%d amount=%d, want 5/32500", d.ClientID, d.Amount)
	}
}

func TestCSV_MalformedRowsSkipped(t *testing.T) {
	input := `type,client,tx,amount
deposit,1,1,1.0
deposit,notaclient,2,1.0
refund,1,3,1.0
deposit,1,4,1.00001
withdrawal,1,5
deposit,1,6,2.0
`
	src := ingestion.NewCSVSource(strings.NewReader(input))
	events := readAll(t, src)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if src.Malformed() != 4 {
		t.Errorf("malformed count: got %d, want 4", src.Malformed())
	}
	if events[1].Tx() != 6 {
		t.Errorf("second valid event tx: got %d, want 6", events[1].Tx())
	}
}

func TestCSV_WhitespaceTolerated(t *testing.T) {
	input := "deposit,   42,   7,    1.5\n"

	events := readAll(t, ingestion.NewCSVSource(strings.NewReader(input)))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	d := events[0].(*event.Deposit)
	if d.ClientID != 42 || d.TxID != 7 || d.Amount != 1_5000 {
		t.Errorf("got client=%d tx=%d amount=%d, want 42/7/15000", d.ClientID, d.TxID, d.Amount)
	}
}

func TestCSV_EmptyInput(t *testing.T) {
	events := readAll(t, ingestion.NewCSVSource(strings.NewReader("")))
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}

func TestCSV_HeaderOnly(t *testing.T) {
	events := readAll(t, ingestion.NewCSVSource(strings.NewReader("type,client,tx,amount\n")))
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}
