package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"EscrowLedger/internal/escrow"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundPublisher publishes escrow events to NATS for downstream consumers
// once the persistence worker has committed them.
// Subjects follow the pattern: escrow.ledger.events.{type}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

// PublishableEvent is a committed escrow event ready for outbound publishing.
type PublishableEvent struct {
	Sequence  int64        `json:"sequence"`
	StateHash string       `json:"state_hash"`
	Event     escrow.Event `json:"event"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can read the event log directly.
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

// OutboundSubject returns the subject an escrow event type publishes on.
func OutboundSubject(eventType string) string {
	return "escrow.ledger.events." + strings.TrimPrefix(eventType, "escrow.")
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Msg id lets JetStream drop duplicates if a publish is retried.
	_, err = op.js.Publish(ctx, OutboundSubject(evt.Event.Type), data,
		jetstream.WithMsgID(fmt.Sprintf("%d", evt.Sequence)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	cfg := streamConfig(OutboundStream, "escrow.ledger.events.>")
	cfg.Duplicates = 2 * time.Minute
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", OutboundStream).Msg("ensured outbound stream")
	return nil
}
