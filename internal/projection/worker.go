package projection

import (
	"context"
	"sync/atomic"

	"UsdnLedger/internal/event"
	"UsdnLedger/internal/observability"
	"UsdnLedger/internal/persistence"

	"github.com/rs/zerolog"
)

const rebuildPage = 500

// EventSource pages through the persisted event log.
type EventSource interface {
	LoadEventsFrom(ctx context.Context, from uint64, limit int) ([]persistence.EventRow, error)
}

// Worker updates projections from engine events. Emit never blocks: when
// the worker falls behind events are dropped, and the projections can be
// rebuilt from the event log.
type Worker struct {
	in           chan event.Event
	funding      *FundingHistoryProjection
	liquidations *LiquidationHistoryProjection
	lastSeq      atomic.Uint64
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

var _ event.Sink = (*Worker)(nil)

func NewWorker(buffer, capacity int, metrics *observability.Metrics, logger zerolog.Logger) *Worker {
	return &Worker{
		in:           make(chan event.Event, buffer),
		funding:      NewFundingHistoryProjection(capacity),
		liquidations: NewLiquidationHistoryProjection(capacity),
		metrics:      metrics,
		logger:       logger,
	}
}

func (w *Worker) Emit(evt event.Event) {
	select {
	case w.in <- evt:
	default:
		if w.metrics != nil {
			w.metrics.ProjectionDropped.Inc()
		}
	}
}

// Run applies queued events until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-w.in:
			w.Apply(evt)
		}
	}
}

// Apply folds one event into the projections.
func (w *Worker) Apply(evt event.Event) {
	switch e := evt.(type) {
	case *event.FundingApplied:
		w.funding.Apply(e)
	case *event.TickLiquidated:
		w.liquidations.ApplyTick(e)
	case *event.PositionLiquidated:
		w.liquidations.ApplyPosition(e)
	}
	seq := evt.Metadata().Sequence
	if seq > w.lastSeq.Load() {
		w.lastSeq.Store(seq)
		if w.metrics != nil {
			w.metrics.ProjectionSequence.Set(float64(seq))
		}
	}
}

// Rebuild clears the projections and replays the event log from sequence
// from. It returns the number of events applied.
func (w *Worker) Rebuild(ctx context.Context, src EventSource, from uint64) (int, error) {
	w.funding.h.reset()
	w.liquidations.h.reset()
	w.lastSeq.Store(0)

	applied := 0
	apply := func(rows []persistence.EventRow) {
		for _, row := range rows {
			evt, err := event.Decode(row.EventType, row.Payload)
			if err != nil {
				w.logger.Warn().Err(err).Str("event_id", row.EventID.String()).Msg("skipping undecodable event")
				continue
			}
			w.Apply(evt)
			applied++
		}
	}

	next := from
	for {
		rows, err := src.LoadEventsFrom(ctx, next, rebuildPage)
		if err != nil {
			return applied, err
		}
		if len(rows) < rebuildPage {
			apply(rows)
			break
		}
		// The page may end inside a call; hold back that call's events and
		// start the next page at its sequence.
		last := rows[len(rows)-1].Sequence
		cut := len(rows)
		for cut > 0 && rows[cut-1].Sequence == last {
			cut--
		}
		if cut == 0 {
			apply(rows)
			next = last + 1
			continue
		}
		apply(rows[:cut])
		next = last
	}
	w.logger.Info().Int("events", applied).Uint64("last_sequence", w.LastSequence()).Msg("projection rebuild complete")
	return applied, nil
}

func (w *Worker) Funding() *FundingHistoryProjection { return w.funding }

func (w *Worker) Liquidations() *LiquidationHistoryProjection { return w.liquidations }

// LastSequence is the highest engine sequence applied so far.
func (w *Worker) LastSequence() uint64 { return w.lastSeq.Load() }
