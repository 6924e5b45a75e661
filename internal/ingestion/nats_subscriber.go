package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"EscrowLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw messages
// to the Dispatcher through eventChan.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// RawEvent is the parsed-but-untyped message from NATS. Timestamp is when the
// stream stored the message and becomes the ledger time of the command.
type RawEvent struct {
	Subject   string
	Data      []byte
	Headers   nats.Header
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message once the core has answered
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to event types.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

const (
	OpsStream      = "ESCROW_OPS"
	FundsStream    = "ESCROW_FUNDS"
	OutboundStream = "ESCROW_LEDGER_EVENTS"
)

// DefaultSubjects returns one subject per operation so consumers scale independently.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "escrow.ops.create.>", EventType: "EscrowCreate", ConsumerName: "ledger-create", StreamName: OpsStream},
		{Subject: "escrow.ops.fund.>", EventType: "EscrowFund", ConsumerName: "ledger-fund", StreamName: OpsStream},
		{Subject: "escrow.ops.complete.>", EventType: "EscrowComplete", ConsumerName: "ledger-complete", StreamName: OpsStream},
		{Subject: "escrow.ops.cancel.>", EventType: "EscrowCancel", ConsumerName: "ledger-cancel", StreamName: OpsStream},
		{Subject: "escrow.ops.refund.>", EventType: "EscrowRefund", ConsumerName: "ledger-refund", StreamName: OpsStream},
		{Subject: "escrow.funds.deposit.>", EventType: "Deposit", ConsumerName: "ledger-deposit", StreamName: FundsStream},
		{Subject: "escrow.funds.withdraw.>", EventType: "Withdrawal", ConsumerName: "ledger-withdraw", StreamName: FundsStream},
	}
}

// SubjectResolver maps a concrete subject to its event type by longest prefix.
type SubjectResolver struct {
	prefixes map[string]string
}

func NewSubjectResolver(subjects []SubjectConfig) *SubjectResolver {
	r := &SubjectResolver{prefixes: make(map[string]string, len(subjects))}
	for _, cfg := range subjects {
		r.prefixes[strings.TrimSuffix(cfg.Subject, ".>")] = cfg.EventType
	}
	return r
}

// Resolve returns the event type for subject, or "" when nothing matches.
func (r *SubjectResolver) Resolve(subject string) string {
	bestMatch := ""
	bestType := ""
	for prefix, evtType := range r.prefixes {
		if subject != prefix && !strings.HasPrefix(subject, prefix+".") {
			continue
		}
		if len(prefix) > len(bestMatch) {
			bestMatch = prefix
			bestType = evtType
		}
	}
	return bestType
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, metrics *observability.Metrics, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		stream := cfg.StreamName
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Headers:   msg.Headers(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}
			if md, err := msg.Metadata(); err == nil {
				// Redeliveries keep the original stored time.
				raw.Timestamp = md.Timestamp
				if ns.metrics != nil {
					ns.metrics.NATSPullLatency.WithLabelValues(stream).Observe(time.Since(md.Timestamp).Seconds())
				}
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

func streamConfig(name string, subjects ...string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
}

// EnsureStreams creates the inbound streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		streamConfig(OpsStream, "escrow.ops.>"),
		streamConfig(FundsStream, "escrow.funds.>"),
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("escrowledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
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
