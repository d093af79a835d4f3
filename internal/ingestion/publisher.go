package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"UsdnLedger/internal/event"
	"UsdnLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// DefaultPublishBuffer bounds events waiting for the bus.
const DefaultPublishBuffer = 4096

// streamPublisher is the part of jetstream.JetStream the publisher needs.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventPublisher is an event.Sink that forwards engine events to JetStream on
// usdn.events.<type>. Emit never blocks the engine: events are buffered and a
// full buffer drops the event.
type EventPublisher struct {
	js      streamPublisher
	queue   chan event.Event
	metrics *observability.Metrics
	logger  zerolog.Logger
}

var _ event.Sink = (*EventPublisher)(nil)

func NewEventPublisher(js jetstream.JetStream, metrics *observability.Metrics, logger zerolog.Logger) *EventPublisher {
	return newEventPublisher(js, DefaultPublishBuffer, metrics, logger)
}

func newEventPublisher(js streamPublisher, buffer int, metrics *observability.Metrics, logger zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		js:      js,
		queue:   make(chan event.Event, buffer),
		metrics: metrics,
		logger:  logger,
	}
}

func (ep *EventPublisher) Emit(evt event.Event) {
	select {
	case ep.queue <- evt:
	default:
		ep.recordError()
		ep.logger.Warn().Str("event", evt.EventType().String()).Uint64("seq", evt.Metadata().Sequence).
			Msg("publish buffer full, dropping event")
	}
}

// Run publishes buffered events until ctx is done. Publish failures are
// logged; consumers can rebuild from snapshots.
func (ep *EventPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-ep.queue:
			if err := ep.publish(ctx, evt); err != nil {
				ep.recordError()
				ep.logger.Warn().Err(err).Uint64("seq", evt.Metadata().Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (ep *EventPublisher) publish(ctx context.Context, evt event.Event) error {
	env, err := event.Wrap(evt)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	// the event id doubles as the JetStream dedup id
	_, err = ep.js.Publish(ctx, evt.EventType().Subject(), data, jetstream.WithMsgID(evt.IdempotencyKey()))
	return err
}

func (ep *EventPublisher) recordError() {
	if ep.metrics != nil {
		ep.metrics.PublishErrors.WithLabelValues("nats").Inc()
	}
}
