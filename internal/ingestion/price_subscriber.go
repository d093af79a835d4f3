package ingestion

import (
	"context"
	"fmt"
	"time"

	"UsdnLedger/internal/observability"

	sdkmath "cosmossdk.io/math"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// PriceSink receives accepted prices. oracle.Feed implements it.
type PriceSink interface {
	Publish(price sdkmath.Int, at time.Time) error
}

// PriceSubscriber consumes usdn.prices.> and feeds the oracle history.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
type PriceSubscriber struct {
	js       jetstream.JetStream
	sink     PriceSink
	tracker  *SequenceTracker
	metrics  *observability.Metrics
	logger   zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, sink PriceSink, metrics *observability.Metrics, logger zerolog.Logger) *PriceSubscriber {
	return &PriceSubscriber{
		js:      js,
		sink:    sink,
		tracker: NewSequenceTracker(),
		metrics: metrics,
		logger:  logger,
	}
}

// Tracker exposes the per-source sequence state.
func (ps *PriceSubscriber) Tracker() *SequenceTracker {
	return ps.tracker
}

// Subscribe creates the durable consumer and starts consuming.
func (ps *PriceSubscriber) Subscribe(ctx context.Context, durable string) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, PriceStream, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: PriceSubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", durable, err)
	}

	cc, err := consumer.Consume(ps.handle)
	if err != nil {
		return fmt.Errorf("consume %s: %w", durable, err)
	}
	ps.consumer = cc
	ps.logger.Info().Str("consumer", durable).Msg("subscribed to prices")
	return nil
}

// handle parses, orders and records one price message. Malformed messages
// are terminated since redelivery cannot fix them.
func (ps *PriceSubscriber) handle(msg jetstream.Msg) {
	upd, err := ParsePriceUpdate(RawMessage{Subject: msg.Subject(), Data: msg.Data(), Timestamp: time.Now()})
	if err != nil {
		ps.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed price")
		_ = msg.Term()
		return
	}

	if !ps.tracker.Accept(upd.Source, upd.Sequence) {
		ps.logger.Debug().Str("source", upd.Source).Int64("seq", upd.Sequence).Msg("stale price")
		_ = msg.Ack()
		return
	}

	if err := ps.sink.Publish(upd.Price, upd.PublishTime); err != nil {
		ps.logger.Error().Err(err).Str("source", upd.Source).Msg("price rejected by feed")
		_ = msg.Term()
		return
	}
	if ps.metrics != nil {
		ps.metrics.PricesIngested.WithLabelValues(upd.Source).Inc()
	}
	_ = msg.Ack()
}

// Stop stops the consumer.
func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
	ps.logger.Info().Msg("price subscriber stopped")
}
