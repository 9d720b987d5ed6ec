package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"PayLedger/internal/observability"
)

// AccountUpdate mirrors the data projection workers need from a processed
// event. The orchestrator bridges between engine.Output and this.
type AccountUpdate struct {
	Sequence  int64
	Client    uint16
	Available int64
	Held      int64
	Total     int64
	Locked    bool
}

// Worker maintains the projections.accounts read model from processed
// events. The projection channel is non-blocking with drop: if this worker
// falls behind, projections lag and are rebuilt from the transaction log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan AccountUpdate
	metrics   *observability.Metrics
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan AccountUpdate, metrics *observability.Metrics) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the projection worker loop.
func (pw *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case update, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.apply(ctx, update); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", update.Sequence, err)
				// Continue — projections are eventually consistent and can
				// be rebuilt from the transaction log
			}

			pw.lastSeq = update.Sequence
		}
	}
}

// LastSequence returns the highest sequence this worker has applied.
func (pw *Worker) LastSequence() int64 {
	return pw.lastSeq
}

func (pw *Worker) apply(ctx context.Context, update AccountUpdate) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.accounts (client, available, held, total, locked, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (client) DO UPDATE SET
			available = $2, held = $3, total = $4, locked = $5,
			last_sequence = $6, updated_at = NOW()
	`, int32(update.Client), update.Available, update.Held, update.Total,
		update.Locked, update.Sequence); err != nil {
		return fmt.Errorf("account projection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, update.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("accounts").Observe(time.Since(start).Seconds())
	}
	return nil
}

// Rebuild reconstructs projections.accounts from the transaction log. Each
// account's latest state lives on its most recent applied transaction row,
// but balances are not stored per-row, so the rebuild replays amounts:
// deposits add, withdrawals subtract, the dispute lifecycle moves funds
// between available and held. Rebuilding in SQL would duplicate the
// processor's dispute semantics, so the worker instead truncates and lets
// the next snapshot-driven resync repopulate current accounts.
func Rebuild(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`TRUNCATE projections.accounts`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	log.Println("INFO: projection tables cleared; awaiting resync")
	return nil
}

// Resync bulk-writes the full account state, used after a rebuild or on
// startup when projections lag the replayed core state.
func Resync(ctx context.Context, db *sql.DB, updates []AccountUpdate) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxSeq int64
	for _, update := range updates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.accounts (client, available, held, total, locked, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (client) DO UPDATE SET
				available = $2, held = $3, total = $4, locked = $5,
				last_sequence = $6, updated_at = NOW()
		`, int32(update.Client), update.Available, update.Held, update.Total,
			update.Locked, update.Sequence); err != nil {
			return fmt.Errorf("resync client %d: %w", update.Client, err)
		}
		if update.Sequence > maxSeq {
			maxSeq = update.Sequence
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, maxSeq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("INFO: projection resync complete (%d accounts)", len(updates))
	return nil
}
