package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// A snapshot captures the processor's full in-memory state: accounts, the
// transaction history with dispute states, per-client sequence marks, and
// the state hash chain tip.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serializable processor state at a point in time.
type SnapshotData struct {
	Sequence      int64            `json:"sequence"`
	StateHash     []byte           `json:"state_hash"`
	Accounts      []AccountSnap    `json:"accounts"`
	Records       []RecordSnap     `json:"records"`
	SequenceMarks map[uint16]int64 `json:"sequence_marks"`
	CreatedAt     time.Time        `json:"created_at"`
}

// AccountSnap is a serializable account.
type AccountSnap struct {
	Client    uint16 `json:"client"`
	Available int64  `json:"available"`
	Held      int64  `json:"held"`
	Locked    bool   `json:"locked"`
}

// RecordSnap is a serializable transaction history entry.
type RecordSnap struct {
	Tx     uint32 `json:"tx"`
	Client uint16 `json:"client"`
	Amount int64  `json:"amount"`
	State  int32  `json:"state"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by replaying transactions from the snapshot
// sequence forward.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO ledger.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart, load the latest snapshot then replay transactions from
// snapshot.sequence forward. Returns nil on cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM ledger.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE ledger.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadTransactionsFrom loads applied transactions from a given sequence for
// replay. Used for warm restart (replay from snapshot) and cold restart
// (replay all).
func (sm *SnapshotManager) LoadTransactionsFrom(ctx context.Context, fromSequence int64, limit int) ([]TransactionRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, client, tx, amount,
		       state_hash, prev_hash, source_sequence, created_at
		FROM ledger.transactions
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransactionRow
	for rows.Next() {
		var r TransactionRow
		var client int32
		var tx int64
		if err := rows.Scan(
			&r.Sequence, &r.EventType, &client, &tx, &r.Amount,
			&r.StateHash, &r.PrevHash, &r.SourceSequence, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		r.Client = uint16(client)
		r.Tx = uint32(tx)
		out = append(out, r)
	}

	return out, rows.Err()
}

// GetLatestSequence returns the highest sequence in the transaction log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM ledger.transactions
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty transaction log
	}
	return seq.Int64, nil
}
