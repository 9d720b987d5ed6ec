package persistence

import (
	"context"
	"database/sql"
	"log"
	"time"

	"PayLedger/internal/observability"
)

// Record mirrors engine.Output to avoid an import cycle. The orchestrator
// (cmd/payledger) bridges between engine.Output and this.
type Record struct {
	Transaction *TransactionRow // set when the event was applied
	Rejection   *RejectionRow   // set when the event was rejected
}

// Worker drains the persist channel and batch-writes to Postgres. This
// goroutine runs independently from the deterministic core. The persist
// channel uses BLOCKING sends from the core, so if this worker falls behind,
// the core stalls — guaranteeing no event is lost.
type Worker struct {
	db           *sql.DB
	writer       *LedgerWriter
	inputChan    <-chan Record
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan Record,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		db:           db,
		writer:       NewLedgerWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the persistence worker loop. It batches incoming records and
// flushes either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled or the input channel closes.
func (pw *Worker) Run(ctx context.Context) error {
	txBatch := make([]TransactionRow, 0, pw.batchSize)
	rejBatch := make([]RejectionRow, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flushAll := func(flushCtx context.Context) {
		if len(txBatch) == 0 && len(rejBatch) == 0 {
			return
		}
		if err := pw.flushWithRetry(flushCtx, txBatch, rejBatch); err != nil {
			log.Printf("ERROR: batch flush failed after retries: %v", err)
		}
		txBatch = txBatch[:0]
		rejBatch = rejBatch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining with a fresh context
			flushAll(context.Background())
			return ctx.Err()

		case rec, ok := <-pw.inputChan:
			if !ok {
				flushAll(context.Background())
				return nil
			}

			if rec.Transaction != nil {
				txBatch = append(txBatch, *rec.Transaction)
			}
			if rec.Rejection != nil {
				rejBatch = append(rejBatch, *rec.Rejection)
			}

			if len(txBatch)+len(rejBatch) >= pw.batchSize {
				flushAll(ctx)
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flushAll(ctx)
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker
// NEVER drops records — it retries until the write succeeds or the context
// is cancelled, and then makes one last attempt with a background context.
func (pw *Worker) flushWithRetry(ctx context.Context, txRows []TransactionRow, rejRows []RejectionRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, rows=%d)",
				attempt, backoff, len(txRows)+len(rejRows))
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return pw.flush(context.Background(), txRows, rejRows)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, txRows, rejRows)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}
	}
}

func (pw *Worker) flush(ctx context.Context, txRows []TransactionRow, rejRows []RejectionRow) error {
	start := time.Now()

	// Transactions and rejections commit atomically
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteTransactionBatch(ctx, tx, txRows); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_transactions").Inc()
		}
		return err
	}

	if err := pw.writer.WriteRejectionBatch(ctx, tx, rejRows); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_rejections").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(txRows) + len(rejRows)))
		pw.metrics.PersistTxWritten.Add(float64(len(txRows)))
		pw.metrics.PersistRejectionsWritten.Add(float64(len(rejRows)))
		if len(txRows) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(txRows[len(txRows)-1].Sequence))
		}
	}

	return nil
}
