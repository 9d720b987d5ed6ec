package report_test

import (
	"bytes"
	"strings"
	"testing"

	"PayLedger/internal/engine"
	"PayLedger/internal/ingestion"
	"PayLedger/internal/ledger"
	"PayLedger/internal/report"
)

func TestWriteSnapshots(t *testing.T) {
	snaps := []ledger.Snapshot{
		{Client: 1, Available: 1_5000, Held: 0, Total: 1_5000, Locked: false},
		{Client: 2, Available: -2_0000, Held: 3_0000, Total: 1_0000, Locked: false},
		{Client: 3, Available: 0, Held: 0, Total: 0, Locked: true},
	}

	var buf bytes.Buffer
	if err := report.WriteSnapshots(&buf, snaps); err != nil {
		t.Fatalf("WriteSnapshots failed: %v", err)
	}

	want := "client,available,held,total,locked\n" +
		"1,1.5,0,1.5,false\n" +
		"2,-2,3,1,false\n" +
		"3,0,0,0,true\n"
	if buf.String() != want {
		t.Errorf("output mismatch:\n--- got ---\n%s--- want ---\n%s", buf.String(), want)
	}
}

func TestWriteSnapshots_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := report.WriteSnapshots(&buf, nil); err != nil {
		t.Fatalf("WriteSnapshots failed: %v", err)
	}

	if buf.String() != "client,available,held,total,locked\n" {
		t.Errorf("got %q, want header only", buf.String())
	}
}

// End-to-end batch run: CSV in, processed, snapshot CSV out.
func TestBatchRun_DisputeChargeback(t *testing.T) {
	input := `type,client,tx,amount
deposit,1,1,5.0
deposit,2,2,3.0
dispute,1,1,
chargeback,1,1,
deposit,1,3,10.0
withdrawal,3,4,10.0
`
	p := engine.NewProcessor(0, nil, nil, nil)
	err := p.Drain(ingestion.NewCSVSource(strings.NewReader(input)), nil)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	var buf bytes.Buffer
	if err := report.WriteSnapshots(&buf, p.AccountSnapshots()); err != nil {
		t.Fatalf("WriteSnapshots failed: %v", err)
	}

	want := "client,available,held,total,locked\n" +
		"1,0,0,0,true\n" +
		"2,3,0,3,false\n" +
		"3,0,0,0,false\n"
	if buf.String() != want {
		t.Errorf("output mismatch:\n--- got ---\n%s--- want ---\n%s", buf.String(), want)
	}
}
