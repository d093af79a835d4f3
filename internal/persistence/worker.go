package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"UsdnLedger/internal/event"
	"UsdnLedger/internal/observability"

	"github.com/rs/zerolog"
)

// EventLogWorker is an event.Sink that batches engine events into Postgres.
// Emit blocks when the buffer is full, so a stalled database stalls the
// engine instead of losing events.
type EventLogWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	input        chan event.Event
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

var _ event.Sink = (*EventLogWorker)(nil)

func NewEventLogWorker(
	db *sql.DB,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *EventLogWorker {
	return &EventLogWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		input:        make(chan event.Event, batchSize*4),
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

func (w *EventLogWorker) Emit(evt event.Event) {
	w.input <- evt
}

// Writer returns the underlying writer for event log queries.
func (w *EventLogWorker) Writer() *EventLogWriter {
	return w.writer
}

// Run batches incoming events and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled.
func (w *EventLogWorker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context, reason string) {
		if len(batch) == 0 {
			return
		}
		if err := w.flushWithRetry(ctx, batch); err != nil {
			w.logger.Error().Err(err).Str("reason", reason).Int("events", len(batch)).Msg("event batch flush failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// drain what the engine already handed over
		drain:
			for {
				select {
				case evt := <-w.input:
					batch = w.appendRow(batch, evt)
				default:
					break drain
				}
			}
			flush(context.Background(), "shutdown")
			return ctx.Err()

		case evt := <-w.input:
			batch = w.appendRow(batch, evt)
			if len(batch) >= w.batchSize {
				flush(ctx, "full")
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			flush(ctx, "timeout")
			timer.Reset(w.flushTimeout)
		}
	}
}

func (w *EventLogWorker) appendRow(batch []EventRow, evt event.Event) []EventRow {
	row, err := EventRowFrom(evt)
	if err != nil {
		w.countError("encode")
		w.logger.Error().Err(err).Msg("dropping unencodable event")
		return batch
	}
	return append(batch, row)
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or the context is cancelled, in which case one last attempt is made.
func (w *EventLogWorker) flushWithRetry(ctx context.Context, events []EventRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("events", len(events)).Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), events); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, events)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		w.logger.Warn().Err(err).Msg("event batch write failed")
	}
}

func (w *EventLogWorker) flush(ctx context.Context, events []EventRow) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, events); err != nil {
		w.countError("write_events")
		return err
	}
	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistEventsWritten.Add(float64(len(events)))
	}
	return nil
}

func (w *EventLogWorker) countError(stage string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
