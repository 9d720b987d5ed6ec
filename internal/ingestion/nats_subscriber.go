package ingestion

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"PayLedger/internal/observability"
)

// NATSSubscriber subscribes to the transaction stream and feeds events into
// the deterministic core via the eventChan.
//
// All transaction kinds share ONE stream and ONE durable consumer. Dispute
// events are only meaningful relative to the deposit or withdrawal they
// reference, so splitting kinds across streams would destroy the cross-kind
// ordering the processor depends on.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumer  jetstream.ConsumeContext
	metrics   *observability.Metrics
}

// RawEvent is the parsed-but-untyped event from NATS, ready for the shell
// to validate and convert into a typed event.Event before sending to the core.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

const (
	// TransactionStream carries every inbound transaction event.
	TransactionStream = "PAY_TRANSACTIONS"

	// TransactionSubjects matches pay.tx.{kind} for all five kinds.
	TransactionSubjects = "pay.tx.>"

	// TransactionConsumer is the single durable consumer name. One consumer
	// total — the core is single-threaded and order-dependent.
	TransactionConsumer = "ledger-transactions"
)

// EventTypeForSubject maps a subject like "pay.tx.deposit" to the event
// type string ParseRawEvent expects. Returns "" for unrecognized subjects.
func EventTypeForSubject(subject string) string {
	kind := subject
	if idx := strings.LastIndex(subject, "."); idx >= 0 {
		kind = subject[idx+1:]
	}
	switch kind {
	case "deposit":
		return "Deposit"
	case "withdrawal":
		return "Withdrawal"
	case "dispute":
		return "Dispute"
	case "resolve":
		return "Resolve"
	case "chargeback":
		return "Chargeback"
	default:
		return ""
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, metrics *observability.Metrics) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		metrics:   metrics,
	}
}

// Subscribe creates the durable JetStream consumer on the transaction
// stream. Explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, TransactionStream, jetstream.ConsumerConfig{
		Durable:       TransactionConsumer,
		FilterSubject: TransactionSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", TransactionConsumer, err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		received := time.Now()
		raw := RawEvent{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: received,
			AckFunc:   func() { msg.Ack() },
			NakFunc:   func() { msg.Nak() },
		}

		select {
		case ns.eventChan <- raw:
			// Queued for processing; the wait here is the ingest queue
			// backpressure seen by this subject.
			if ns.metrics != nil {
				ns.metrics.NATSPullLatency.WithLabelValues(msg.Subject()).
					Observe(time.Since(received).Seconds())
			}
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", TransactionConsumer, err)
	}

	ns.consumer = consumerContext
	log.Printf("INFO: subscribed to %s (consumer=%s)", TransactionSubjects, TransactionConsumer)
	return nil
}

// EnsureStreams creates the transaction stream if it doesn't exist.
// FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      TransactionStream,
		Subjects:  []string{TransactionSubjects},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", TransactionStream, err)
	}
	log.Printf("INFO: ensured stream %s", TransactionStream)
	return nil
}

// Stop gracefully stops the consumer.
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	log.Println("INFO: NATS subscriber stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
