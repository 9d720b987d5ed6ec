package ingestion

import (
	"encoding/json"
	"fmt"

	"PayLedger/internal/event"
	"PayLedger/internal/money"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates and converts raw events
// before sending to the deterministic core; a parse failure means the
// message is malformed, not that the transaction is invalid.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "Deposit":
		return parseDeposit(raw.Data)
	case "Withdrawal":
		return parseWithdrawal(raw.Data)
	case "Dispute":
		return parseDispute(raw.Data)
	case "Resolve":
		return parseResolve(raw.Data)
	case "Chargeback":
		return parseChargeback(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Amounts arrive as decimal strings ("1.5") and convert to fixed-point;
// field names use snake_case to match upstream producers.

type transactionJSON struct {
	Client   uint16 `json:"client"`
	Tx       uint32 `json:"tx"`
	Amount   string `json:"amount"`
	Sequence int64  `json:"sequence"`
}

func parseDeposit(data []byte) (*event.Deposit, error) {
	var j transactionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Deposit: %w", err)
	}
	amount, err := money.Parse(j.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse Deposit amount: %w", err)
	}
	return &event.Deposit{
		ClientID: j.Client,
		TxID:     j.Tx,
		Amount:   amount,
		Sequence: j.Sequence,
	}, nil
}

func parseWithdrawal(data []byte) (*event.Withdrawal, error) {
	var j transactionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Withdrawal: %w", err)
	}
	amount, err := money.Parse(j.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse Withdrawal amount: %w", err)
	}
	return &event.Withdrawal{
		ClientID: j.Client,
		TxID:     j.Tx,
		Amount:   amount,
		Sequence: j.Sequence,
	}, nil
}

type referenceJSON struct {
	Client   uint16 `json:"client"`
	Tx       uint32 `json:"tx"`
	Sequence int64  `json:"sequence"`
}

func parseDispute(data []byte) (*event.Dispute, error) {
	var j referenceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Dispute: %w", err)
	}
	return &event.Dispute{
		ClientID: j.Client,
		TxID:     j.Tx,
		Sequence: j.Sequence,
	}, nil
}

func parseResolve(data []byte) (*event.Resolve, error) {
	var j referenceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Resolve: %w", err)
	}
	return &event.Resolve{
		ClientID: j.Client,
		TxID:     j.Tx,
		Sequence: j.Sequence,
	}, nil
}

func parseChargeback(data []byte) (*event.Chargeback, error) {
	var j referenceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Chargeback: %w", err)
	}
	return &event.Chargeback{
		ClientID: j.Client,
		TxID:     j.Tx,
		Sequence: j.Sequence,
	}, nil
}
