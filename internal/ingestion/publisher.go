package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes processed outcomes to NATS for downstream
// consumers. Outcomes are published after persistence is confirmed.
// Subjects follow the pattern: pay.ledger.outcomes.{event_type}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableOutcome
}

// PublishableOutcome is a processed event outcome ready for outbound
// publishing. Balances are decimal strings, matching the inbound format.
type PublishableOutcome struct {
	Sequence  int64     `json:"sequence"`
	EventType string    `json:"event_type"`
	Client    uint16    `json:"client"`
	Tx        uint32    `json:"tx"`
	Applied   bool      `json:"applied"`
	Reason    string    `json:"reason,omitempty"`
	Available string    `json:"available"`
	Held      string    `json:"held"`
	Total     string    `json:"total"`
	Locked    bool      `json:"locked"`
	StateHash []byte    `json:"state_hash,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableOutcome) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", out.Sequence, err)
				// Non-fatal: downstream consumers can query the transaction log directly
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out PublishableOutcome) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	subject := fmt.Sprintf("pay.ledger.outcomes.%s", strings.ToLower(out.EventType))
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound outcomes stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PAY_LEDGER_OUTCOMES",
		Subjects:  []string{"pay.ledger.outcomes.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream PAY_LEDGER_OUTCOMES")
	return nil
}
