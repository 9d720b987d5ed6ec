package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"PayLedger/internal/event"
	"PayLedger/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"client":   uint16(1),
		"tx":       uint32(100),
		"amount":   "1.5",
		"sequence": int64(42),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "Deposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	d, ok := evt.(*event.Deposit)
	if !ok {
		t.Fatalf("expected *event.Deposit, got %T", evt)
	}
	if d.ClientID != 1 {
		t.Errorf("client: got %d, want 1", d.ClientID)
	}
	if d.TxID != 100 {
		t.Errorf("tx: got %d, want 100", d.TxID)
	}
	if d.Amount != 1_5000 {
		t.Errorf("amount: got %d, want 15000", d.Amount)
	}
	if d.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", d.Sequence)
	}
}

func TestParseWithdrawal(t *testing.T) {
	payload := map[string]interface{}{
		"client":   uint16(2),
		"tx":       uint32(200),
		"amount":   "0.0001",
		"sequence": int64(7),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "Withdrawal")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	w, ok := evt.(*event.Withdrawal)
	if !ok {
		t.Fatalf("expected *event.Withdrawal, got %T", evt)
	}
	if w.Amount != 1 {
		t.Errorf("amount: got %d, want 1", w.Amount)
	}
}

func TestParseDispute_NoAmountField(t *testing.T) {
	payload := map[string]interface{}{
		"client":   uint16(1),
		"tx":       uint32(100),
		"sequence": int64(43),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "Dispute")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	d, ok := evt.(*event.Dispute)
	if !ok {
		t.Fatalf("expected *event.Dispute, got %T", evt)
	}
	if d.TxID != 100 {
		t.Errorf("tx: got %d, want 100", d.TxID)
	}
}

func TestParseDeposit_BadAmount(t *testing.T) {
	payload := map[string]interface{}{
		"client": uint16(1),
		"tx":     uint32(1),
		"amount": "not-a-number",
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "Deposit"); err == nil {
		t.Error("expected parse error for bad amount")
	}
}

func TestParseDeposit_TooPreciseAmount(t *testing.T) {
	payload := map[string]interface{}{
		"client": uint16(1),
		"tx":     uint32(1),
		"amount": "1.00001",
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "Deposit"); err == nil {
		t.Error("expected parse error for five decimal places")
	}
}

func TestParseUnknownEventType(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{})
	if _, err := ingestion.ParseRawEvent(raw, "Refund"); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestParseMalformedJSON(t *testing.T) {
	raw := ingestion.RawEvent{
		Subject: "test",
		Data:    []byte("{not json"),
		AckFunc: func() {},
		NakFunc: func() {},
	}
	if _, err := ingestion.ParseRawEvent(raw, "Deposit"); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestEventTypeForSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    string
	}{
		{"pay.tx.deposit", "Deposit"},
		{"pay.tx.withdrawal", "Withdrawal"},
		{"pay.tx.dispute", "Dispute"},
		{"pay.tx.resolve", "Resolve"},
		{"pay.tx.chargeback", "Chargeback"},
		{"pay.tx.refund", ""},
	}
	for _, c := range cases {
		if got := ingestion.EventTypeForSubject(c.subject); got != c.want {
			t.Errorf("EventTypeForSubject(%q): got %q, want %q", c.subject, got, c.want)
		}
	}
}
