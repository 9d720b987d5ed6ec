package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// LedgerWriter writes applied transactions and rejections to Postgres using
// multi-row INSERT. Writes are idempotent: re-delivered rows hit the
// conflict target and drop out.
type LedgerWriter struct {
	db *sql.DB
}

// TransactionRow represents a row in ledger.transactions — one applied event.
type TransactionRow struct {
	Sequence       int64
	EventType      string
	Client         uint16
	Tx             uint32
	Amount         int64 // 0 for dispute-family events; they carry no amount
	StateHash      []byte
	PrevHash       []byte
	SourceSequence int64
	Timestamp      time.Time
}

// RejectionRow represents a row in ledger.rejections — one rejected event.
type RejectionRow struct {
	RejectionID    string // uuid
	EventType      string
	Client         uint16
	Tx             uint32
	Amount         int64
	Reason         string
	SourceSequence int64
	Timestamp      time.Time
}

func NewLedgerWriter(db *sql.DB) *LedgerWriter {
	return &LedgerWriter{db: db}
}

// WriteTransactionBatch writes applied transactions inside tx.
func (w *LedgerWriter) WriteTransactionBatch(ctx context.Context, tx *sql.Tx, rows []TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO ledger.transactions
		(sequence, event_type, client, tx, amount, state_hash, prev_hash, source_sequence, created_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*9)

	for i, r := range rows {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			r.Sequence, r.EventType, int32(r.Client), int64(r.Tx), r.Amount,
			r.StateHash, r.PrevHash, r.SourceSequence, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteRejectionBatch writes rejections inside tx.
func (w *LedgerWriter) WriteRejectionBatch(ctx context.Context, tx *sql.Tx, rows []RejectionRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO ledger.rejections
		(rejection_id, event_type, client, tx, amount, reason, source_sequence, created_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)

	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.RejectionID, r.EventType, int32(r.Client), int64(r.Tx), r.Amount,
			r.Reason, r.SourceSequence, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (rejection_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
