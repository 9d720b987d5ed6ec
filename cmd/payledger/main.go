package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PayLedger/internal/config"
	"PayLedger/internal/engine"
	"PayLedger/internal/event"
	"PayLedger/internal/ingestion"
	"PayLedger/internal/ledger"
	"PayLedger/internal/money"
	"PayLedger/internal/observability"
	"PayLedger/internal/persistence"
	"PayLedger/internal/projection"
	"PayLedger/internal/query"
	"PayLedger/internal/report"
	"PayLedger/internal/server"
)

func main() {
	// Batch mode: `payledger transactions.csv` processes the file and
	// prints final account state to stdout. Anything else starts the
	// streaming service.
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		if err := runBatch(os.Args[1]); err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		return
	}

	runService()
}

// runBatch processes a CSV transaction file and writes the final account
// snapshot to stdout. Rejections go to stderr as diagnostics; they never
// fail the run.
func runBatch(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	processor := engine.NewProcessor(0, nil, nil, nil)
	source := ingestion.NewCSVSource(f)

	err = processor.Drain(source, func(evt event.Event, outcome engine.Outcome) {
		if !outcome.Applied {
			log.Printf("WARN: rejected %s client=%d tx=%d reason=%s",
				evt.Kind(), evt.Client(), evt.Tx(), outcome.Reason)
		}
	})
	if err != nil {
		return err
	}

	return report.WriteSnapshots(os.Stdout, processor.AccountSnapshots())
}

func runService() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: PayLedger starting...")

	cfg := config.Load()

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	log.Println("INFO: Postgres connected")

	// --- Run SQL migrations ---
	migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	log.Println("INFO: migrations applied")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Recovery: load snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db)

	processor := engine.NewProcessor(0, nil, nil, metrics)

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Printf("WARN: failed to load snapshot: %v", err)
	}
	replayFrom := int64(0)
	if snap != nil {
		processor.RestoreState(snapshotToState(snap))
		// Snapshot sequence is the next sequence to assign, so replay
		// resumes exactly there.
		replayFrom = snap.Sequence
		log.Printf("INFO: restored state from snapshot at sequence %d", snap.Sequence)
	} else {
		log.Println("INFO: no snapshot found, cold start from sequence 0")
	}

	if tip, err := snapMgr.GetLatestSequence(ctx); err != nil {
		log.Printf("WARN: read log tip: %v", err)
	} else if tip > replayFrom {
		log.Printf("INFO: transaction log tip at sequence %d, replaying from %d", tip, replayFrom)
	}

	replayed, err := replayFromLog(ctx, snapMgr, processor, replayFrom, metrics)
	if err != nil {
		log.Fatalf("FATAL: replay failed: %v", err)
	}
	if replayed > 0 {
		log.Printf("INFO: replayed %d transactions (sequence now at %d)", replayed, processor.Sequence())

		// The projection channel drops under load, so the read models may
		// lag the log after a crash. Bulk-sync them from replayed state.
		snaps := processor.AccountSnapshots()
		updates := make([]projection.AccountUpdate, 0, len(snaps))
		for _, snap := range snaps {
			updates = append(updates, projection.AccountUpdate{
				Sequence:  processor.Sequence() - 1,
				Client:    snap.Client,
				Available: snap.Available,
				Held:      snap.Held,
				Total:     snap.Total,
				Locked:    snap.Locked,
			})
		}
		if len(updates) > 0 {
			if err := projection.Resync(ctx, db, updates); err != nil {
				log.Printf("WARN: projection resync failed: %v", err)
			}
		}
	}

	// --- Channels ---
	// Persist channel blocks (backpressure), projection channel drops.
	persistChan := make(chan engine.Output, cfg.PersistChanSize)
	projectionChan := make(chan engine.Output, cfg.ProjectionChanSize)
	processor.AttachChannels(persistChan, projectionChan)

	// Bridge channels for the downstream workers (avoids import cycles)
	persistWorkerChan := make(chan persistence.Record, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.AccountUpdate, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableOutcome, cfg.PublishChanSize)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	log.Println("INFO: NATS connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure NATS streams: %v", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure outbound stream: %v", err)
	}

	rawEventChan := make(chan ingestion.RawEvent, cfg.RawEventChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, metrics)
	if err := natsSubscriber.Subscribe(ctx); err != nil {
		log.Fatalf("FATAL: nats subscribe: %v", err)
	}

	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan)

	// --- Services ---
	queryService := query.NewService(db)
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, queryService, healthChecker, observability.NewLogger("http"), metrics)
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, observability.NewLogger("grpc"))

	// --- Start goroutines ---
	errChan := make(chan error, 10)

	// 1. Persistence worker
	persistWorker := persistence.NewWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	// 2. Projection worker
	projWorker := projection.NewWorker(db, projectionWorkerChan, metrics)
	go func() {
		errChan <- projWorker.Run(ctx)
	}()

	// 3. Outbound publisher
	go func() {
		errChan <- outboundPublisher.Run(ctx)
	}()

	// 4. Output bridge: engine.Output → persistence / projection / publish
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		bridgeOutputs(ctx, persistChan, projectionChan, persistWorkerChan, projectionWorkerChan, publishChan)
	}()

	// 5. NATS → processor ingestion loop (the only goroutine that calls
	//    processor.Process once the service is live)
	go func() {
		runIngestionLoop(ctx, rawEventChan, processor, metrics)
	}()

	// 6. HTTP query API
	go func() {
		errChan <- httpServer.Run(ctx)
	}()

	// 7. gRPC health/reflection
	go func() {
		errChan <- grpcServer.Run(ctx)
	}()

	// 8. Periodic snapshots
	go func() {
		runPeriodicSnapshots(ctx, processor, snapMgr, cfg.SnapshotInterval, metrics)
	}()

	// 9. Channel utilization gauges
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
				metrics.SetChannelMetrics("projection", len(projectionChan), cap(projectionChan))
				metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
				metrics.SetChannelMetrics("raw_events", len(rawEventChan), cap(rawEventChan))
			}
		}
	}()

	// 10. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Printf("INFO: metrics server listening on %s/metrics", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	log.Printf("INFO: PayLedger ready (sequence=%d, http=%s, grpc=%s, metrics=%s)",
		processor.Sequence(), cfg.HTTPAddr, cfg.GRPCAddr, cfg.MetricsAddr)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	// --- Graceful shutdown: stop intake, drain workers, final snapshot ---
	cancel()
	natsSubscriber.Stop()

	// The bridge must be out of its send paths before the worker channels
	// close, or a backlogged send lands on a closed channel.
	<-bridgeDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	close(persistWorkerChan)
	close(projectionWorkerChan)
	close(publishChan)

	if err := takeSnapshot(shutdownCtx, processor, snapMgr, metrics); err != nil {
		log.Printf("ERROR: final snapshot failed: %v", err)
	} else {
		log.Println("INFO: final snapshot saved")
	}

	log.Println("INFO: PayLedger shutdown complete")
}

// bridgeOutputs converts engine.Output into the worker-specific formats.
// Applied events fan out to persistence, projections, and the outbound
// publisher; rejections persist only.
func bridgeOutputs(
	ctx context.Context,
	persistIn, projectionIn <-chan engine.Output,
	persistOut chan<- persistence.Record,
	projectionOut chan<- projection.AccountUpdate,
	publishOut chan<- ingestion.PublishableOutcome,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case out, ok := <-persistIn:
			if !ok {
				return
			}

			// The persistence worker stops consuming once ctx is
			// cancelled, so the blocking send must stay cancellable.
			select {
			case persistOut <- outputToRecord(out):
			case <-ctx.Done():
				return
			}

			select {
			case publishOut <- outputToPublishable(out):
			default:
				// Drop if publish channel is full
			}

		case out, ok := <-projectionIn:
			if !ok {
				return
			}
			if !out.Applied {
				continue
			}

			select {
			case projectionOut <- projection.AccountUpdate{
				Sequence:  out.Sequence,
				Client:    out.Account.Client,
				Available: out.Account.Available,
				Held:      out.Account.Held,
				Total:     out.Account.Total,
				Locked:    out.Account.Locked,
			}:
			default:
				// Drop if the projection worker channel is full
			}
		}
	}
}

func outputToRecord(out engine.Output) persistence.Record {
	now := time.Now()

	if out.Applied {
		return persistence.Record{
			Transaction: &persistence.TransactionRow{
				Sequence:       out.Sequence,
				EventType:      out.Event.Kind().String(),
				Client:         out.Event.Client(),
				Tx:             out.Event.Tx(),
				Amount:         eventAmount(out.Event),
				StateHash:      out.StateHash[:],
				PrevHash:       out.PrevHash[:],
				SourceSequence: out.Event.SourceSequence(),
				Timestamp:      now,
			},
		}
	}

	return persistence.Record{
		Rejection: &persistence.RejectionRow{
			RejectionID:    uuid.New().String(),
			EventType:      out.Event.Kind().String(),
			Client:         out.Event.Client(),
			Tx:             out.Event.Tx(),
			Amount:         eventAmount(out.Event),
			Reason:         out.Reason.String(),
			SourceSequence: out.Event.SourceSequence(),
			Timestamp:      now,
		},
	}
}

func outputToPublishable(out engine.Output) ingestion.PublishableOutcome {
	pub := ingestion.PublishableOutcome{
		Sequence:  out.Sequence,
		EventType: out.Event.Kind().String(),
		Client:    out.Event.Client(),
		Tx:        out.Event.Tx(),
		Applied:   out.Applied,
		Available: money.Format(out.Account.Available),
		Held:      money.Format(out.Account.Held),
		Total:     money.Format(out.Account.Total),
		Locked:    out.Account.Locked,
		Timestamp: time.Now(),
	}
	if out.Applied {
		pub.StateHash = out.StateHash[:]
	} else {
		pub.Reason = out.Reason.String()
	}
	return pub
}

// eventAmount returns the transaction amount for deposits and withdrawals;
// dispute-family events carry none.
func eventAmount(evt event.Event) int64 {
	switch e := evt.(type) {
	case *event.Deposit:
		return e.Amount
	case *event.Withdrawal:
		return e.Amount
	default:
		return 0
	}
}

// runIngestionLoop reads raw events from NATS, parses them, and feeds the
// processor. Messages are acked after the parse, not after processing:
// rejection is a recorded outcome, not a delivery failure, so redelivery
// would only produce duplicate rejections.
func runIngestionLoop(ctx context.Context, rawChan <-chan ingestion.RawEvent, processor *engine.Processor, metrics *observability.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			eventType := ingestion.EventTypeForSubject(raw.Subject)
			if eventType == "" {
				log.Printf("WARN: unknown NATS subject: %s", raw.Subject)
				raw.AckFunc() // Ack to avoid a redelivery loop
				continue
			}

			evt, err := ingestion.ParseRawEvent(raw, eventType)
			if err != nil {
				log.Printf("WARN: parse event failed (subject=%s): %v", raw.Subject, err)
				raw.AckFunc()
				continue
			}
			raw.AckFunc()

			processor.Process(evt)

			if metrics != nil {
				metrics.IngestToApply.WithLabelValues(eventType).
					Observe(time.Since(raw.Timestamp).Seconds())
			}
		}
	}
}

// --- Snapshot restore & replay ---

func snapshotToState(snap *persistence.SnapshotData) engine.State {
	st := engine.State{
		Sequence:      snap.Sequence,
		SequenceMarks: snap.SequenceMarks,
	}
	copy(st.StateHash[:], snap.StateHash)

	for _, a := range snap.Accounts {
		st.Accounts = append(st.Accounts, ledger.Account{
			Client:    a.Client,
			Available: a.Available,
			Held:      a.Held,
			Locked:    a.Locked,
		})
	}
	for _, r := range snap.Records {
		st.Records = append(st.Records, engine.Record{
			TxID:   r.Tx,
			Client: r.Client,
			Amount: r.Amount,
			State:  engine.DisputeState(r.State),
		})
	}
	return st
}

func stateToSnapshot(st engine.State) *persistence.SnapshotData {
	snap := &persistence.SnapshotData{
		Sequence:      st.Sequence,
		StateHash:     st.StateHash[:],
		SequenceMarks: st.SequenceMarks,
		CreatedAt:     time.Now(),
	}
	for _, a := range st.Accounts {
		snap.Accounts = append(snap.Accounts, persistence.AccountSnap{
			Client:    a.Client,
			Available: a.Available,
			Held:      a.Held,
			Locked:    a.Locked,
		})
	}
	for _, r := range st.Records {
		snap.Records = append(snap.Records, persistence.RecordSnap{
			Tx:     r.TxID,
			Client: r.Client,
			Amount: r.Amount,
			State:  int32(r.State),
		})
	}
	return snap
}

// replayFromLog replays applied transactions from the log starting at
// fromSequence, then verifies the recomputed hash chain against the stored
// one. The processor has no channels attached during replay, so nothing is
// re-persisted.
func replayFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	processor *engine.Processor,
	fromSequence int64,
	metrics *observability.Metrics,
) (int64, error) {
	const batchSize = 1000
	start := time.Now()

	var totalReplayed int64
	var lastHash []byte

	for {
		rows, err := snapMgr.LoadTransactionsFrom(ctx, fromSequence, batchSize)
		if err != nil {
			return totalReplayed, fmt.Errorf("load transactions from seq %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			evt, err := rowToEvent(row)
			if err != nil {
				return totalReplayed, fmt.Errorf("replay seq %d: %w", row.Sequence, err)
			}

			outcome := processor.Process(evt)
			if !outcome.Applied {
				return totalReplayed, fmt.Errorf(
					"replay seq %d rejected (%s) — log and state have diverged",
					row.Sequence, outcome.Reason)
			}
			totalReplayed++
		}

		lastHash = rows[len(rows)-1].StateHash
		fromSequence = rows[len(rows)-1].Sequence + 1
	}

	if totalReplayed > 0 {
		actual := processor.StateHash()
		if hex.EncodeToString(actual[:]) != hex.EncodeToString(lastHash) {
			return totalReplayed, fmt.Errorf(
				"state hash mismatch after replay — stored %x, recomputed %x",
				lastHash, actual)
		}
		log.Println("INFO: state hash verified after replay")
	}

	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(totalReplayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	return totalReplayed, nil
}

// rowToEvent reconstructs the typed event from a stored transaction row.
func rowToEvent(row persistence.TransactionRow) (event.Event, error) {
	switch row.EventType {
	case "Deposit":
		return &event.Deposit{ClientID: row.Client, TxID: row.Tx, Amount: row.Amount, Sequence: row.SourceSequence}, nil
	case "Withdrawal":
		return &event.Withdrawal{ClientID: row.Client, TxID: row.Tx, Amount: row.Amount, Sequence: row.SourceSequence}, nil
	case "Dispute":
		return &event.Dispute{ClientID: row.Client, TxID: row.Tx, Sequence: row.SourceSequence}, nil
	case "Resolve":
		return &event.Resolve{ClientID: row.Client, TxID: row.Tx, Sequence: row.SourceSequence}, nil
	case "Chargeback":
		return &event.Chargeback{ClientID: row.Client, TxID: row.Tx, Sequence: row.SourceSequence}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", row.EventType)
	}
}

// --- Snapshot helpers ---

func runPeriodicSnapshots(
	ctx context.Context,
	processor *engine.Processor,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	metrics *observability.Metrics,
) {
	if interval <= 0 {
		interval = 100_000
	}

	lastSnapshotSeq := processor.Sequence()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			currentSeq := processor.Sequence()
			if currentSeq-lastSnapshotSeq >= interval {
				if err := takeSnapshot(ctx, processor, snapMgr, metrics); err != nil {
					log.Printf("WARN: periodic snapshot failed: %v", err)
				} else {
					lastSnapshotSeq = currentSeq
					log.Printf("INFO: periodic snapshot at sequence %d", currentSeq)
				}
			}
		}
	}
}

func takeSnapshot(
	ctx context.Context,
	processor *engine.Processor,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	snap := stateToSnapshot(processor.CaptureState())
	if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	// Mark as verified immediately (we just created it from live state)
	if err := snapMgr.MarkVerified(ctx, snap.Sequence); err != nil {
		log.Printf("WARN: mark snapshot verified failed: %v", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return nil
}
