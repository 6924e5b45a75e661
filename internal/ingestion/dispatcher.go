package ingestion

import (
	"context"
	"errors"
	"time"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Submitter is the slice of core.Submitter ingestion needs.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) (core.Result, error)
}

// Dispatcher turns raw NATS messages into core submissions. A message is
// acked once the core has given a verdict, accepted or rejected, and nakked
// only when the core could not be reached.
type Dispatcher struct {
	resolver  *SubjectResolver
	submitter Submitter
	clock     *IngressClock
	admin     AdminAuth
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewDispatcher(
	subjects []SubjectConfig,
	submitter Submitter,
	clock *IngressClock,
	admin AdminAuth,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		resolver:  NewSubjectResolver(subjects),
		submitter: submitter,
		clock:     clock,
		admin:     admin,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run drains rawChan until ctx is cancelled or the channel closes.
func (d *Dispatcher) Run(ctx context.Context, rawChan <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			d.Handle(ctx, raw)
		}
	}
}

// Handle processes one message and settles its ack.
func (d *Dispatcher) Handle(ctx context.Context, raw RawEvent) {
	eventType := d.resolver.Resolve(raw.Subject)
	if eventType == "" {
		d.reject(raw, "unknown_subject", nil)
		return
	}

	if isFundsEvent(eventType) {
		if err := d.admin.Check(raw.Headers.Get(AdminTokenHeader)); err != nil {
			d.reject(raw, "unauthorized", err)
			return
		}
	}

	evt, err := ParseRawEvent(raw, eventType, d.clock)
	if err != nil {
		reason := "parse"
		switch {
		case errors.Is(err, ErrSignerMismatch), errors.Is(err, ErrBadSignature), errors.Is(err, ErrMissingSignature):
			reason = "signature"
			if d.metrics != nil {
				d.metrics.SignatureFailures.Inc()
			}
		case errors.Is(err, ErrClockSkew):
			reason = "clock_skew"
		}
		// Invalid messages are acked so they are not redelivered forever.
		d.reject(raw, reason, err)
		return
	}

	res, err := d.submitter.Submit(ctx, evt)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("core unavailable, message will be redelivered")
		raw.NakFunc()
		return
	}
	raw.AckFunc()

	if d.metrics != nil && res.Err == nil {
		d.metrics.IngestToApply.WithLabelValues(eventType).Observe(time.Since(raw.Timestamp).Seconds())
	}
	if res.Err != nil {
		d.logger.Info().
			Err(res.Err).
			Str("event_type", eventType).
			Str("request_id", evt.IdempotencyKey()).
			Msg("operation rejected")
	}
}

func isFundsEvent(eventType string) bool {
	switch event.ParseEventType(eventType) {
	case event.EventTypeDeposit, event.EventTypeWithdrawal:
		return true
	}
	return false
}

func (d *Dispatcher) reject(raw RawEvent, reason string, err error) {
	if d.metrics != nil {
		d.metrics.IngestRejected.WithLabelValues(raw.Subject, reason).Inc()
	}
	d.logger.Warn().Err(err).Str("subject", raw.Subject).Str("reason", reason).Msg("message dropped")
	raw.AckFunc()
}
