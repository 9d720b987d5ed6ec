package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"PayLedger/internal/money"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Service provides read-only access to the projection and log tables.
// Queries never touch the processor's in-memory state; every response
// carries as_of_sequence so callers can reason about freshness.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetAccount returns one client's projected account state.
func (qs *Service) GetAccount(ctx context.Context, client uint16) (*AccountResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var available, held, total int64
	var locked bool
	err = qs.db.QueryRowContext(ctx, `
		SELECT available, held, total, locked
		FROM projections.accounts
		WHERE client = $1
	`, int32(client)).Scan(&available, &held, &total, &locked)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &AccountResponse{
		Client:       client,
		Available:    money.Format(available),
		Held:         money.Format(held),
		Total:        money.Format(total),
		Locked:       locked,
		AsOfSequence: asOfSeq,
	}, nil
}

// ListAccounts returns projected accounts ordered by client id with
// cursor-based pagination: pass the last client id seen to get the next page.
func (qs *Service) ListAccounts(ctx context.Context, limit int, afterClient *uint16) ([]AccountResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT client, available, held, total, locked
		FROM projections.accounts
	`
	args := []interface{}{}
	argIdx := 1

	if afterClient != nil {
		query += fmt.Sprintf(" WHERE client > $%d", argIdx)
		args = append(args, int32(*afterClient))
		argIdx++
	}

	query += " ORDER BY client ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []AccountResponse
	for rows.Next() {
		var client int32
		var available, held, total int64
		var locked bool
		if err := rows.Scan(&client, &available, &held, &total, &locked); err != nil {
			return nil, err
		}
		accounts = append(accounts, AccountResponse{
			Client:       uint16(client),
			Available:    money.Format(available),
			Held:         money.Format(held),
			Total:        money.Format(total),
			Locked:       locked,
			AsOfSequence: asOfSeq,
		})
	}

	return accounts, rows.Err()
}

// GetTransaction returns the applied deposit or withdrawal for a tx id,
// with its dispute state derived from later dispute-family rows.
func (qs *Service) GetTransaction(ctx context.Context, tx uint32) (*TransactionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var resp TransactionResponse
	var client int32
	var amount int64
	var stateHash []byte
	err = qs.db.QueryRowContext(ctx, `
		SELECT sequence, event_type, client, amount, state_hash
		FROM ledger.transactions
		WHERE tx = $1 AND event_type IN ('Deposit', 'Withdrawal')
		ORDER BY sequence ASC
		LIMIT 1
	`, int64(tx)).Scan(&resp.Sequence, &resp.Type, &client, &amount, &stateHash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	resp.Tx = tx
	resp.Client = uint16(client)
	resp.Amount = money.Format(amount)
	resp.StateHash = hex.EncodeToString(stateHash)
	resp.AsOfSequence = asOfSeq

	// The most recent dispute-family row for this tx decides its state.
	var lastEvent string
	err = qs.db.QueryRowContext(ctx, `
		SELECT event_type
		FROM ledger.transactions
		WHERE tx = $1 AND event_type IN ('Dispute', 'Resolve', 'Chargeback')
		ORDER BY sequence DESC
		LIMIT 1
	`, int64(tx)).Scan(&lastEvent)
	switch {
	case err == sql.ErrNoRows:
		resp.DisputeState = "none"
	case err != nil:
		return nil, err
	default:
		switch lastEvent {
		case "Dispute":
			resp.DisputeState = "disputed"
		case "Resolve":
			resp.DisputeState = "resolved"
		case "Chargeback":
			resp.DisputeState = "charged_back"
		}
	}

	return &resp, nil
}

// ListTransactions returns a client's applied transactions newest-first with
// cursor-based pagination on sequence.
func (qs *Service) ListTransactions(ctx context.Context, client uint16, limit int, beforeSequence *int64) ([]TransactionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, event_type, tx, amount, state_hash
		FROM ledger.transactions
		WHERE client = $1
	`
	args := []interface{}{int32(client)}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []TransactionResponse
	for rows.Next() {
		var resp TransactionResponse
		var tx int64
		var amount int64
		var stateHash []byte
		if err := rows.Scan(&resp.Sequence, &resp.Type, &tx, &amount, &stateHash); err != nil {
			return nil, err
		}
		resp.Tx = uint32(tx)
		resp.Client = client
		resp.Amount = money.Format(amount)
		resp.StateHash = hex.EncodeToString(stateHash)
		resp.AsOfSequence = asOfSeq
		transactions = append(transactions, resp)
	}

	return transactions, rows.Err()
}

// ListRejections returns rejected events newest-first, optionally filtered
// by client.
func (qs *Service) ListRejections(ctx context.Context, client *uint16, limit int) ([]RejectionResponse, error) {
	query := `
		SELECT rejection_id, event_type, client, tx, amount, reason, created_at
		FROM ledger.rejections
	`
	args := []interface{}{}
	argIdx := 1

	if client != nil {
		query += fmt.Sprintf(" WHERE client = $%d", argIdx)
		args = append(args, int32(*client))
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rejections []RejectionResponse
	for rows.Next() {
		var resp RejectionResponse
		var clientCol int32
		var tx, amount int64
		var createdAt time.Time
		if err := rows.Scan(&resp.RejectionID, &resp.Type, &clientCol, &tx, &amount, &resp.Reason, &createdAt); err != nil {
			return nil, err
		}
		resp.Client = uint16(clientCol)
		resp.Tx = uint32(tx)
		if amount != 0 {
			resp.Amount = money.Format(amount)
		}
		resp.Timestamp = createdAt.UTC().Format(time.RFC3339Nano)
		rejections = append(rejections, resp)
	}

	return rejections, rows.Err()
}

// VerifyIntegrity checks hash chain continuity over the transaction log.
func (qs *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT t1.sequence
		FROM ledger.transactions t1
		LEFT JOIN ledger.transactions t2 ON t2.sequence = t1.sequence - 1
		WHERE t2.sequence IS NOT NULL AND t1.prev_hash != t2.state_hash
		ORDER BY t1.sequence ASC
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var latest sql.NullInt64
	if err := qs.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM ledger.transactions`,
	).Scan(&latest); err != nil {
		return nil, err
	}
	report.LatestSequence = latest.Int64

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

// --- helpers ---

func (qs *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
