package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"UsdnLedger/internal/event"

	"github.com/google/uuid"
)

// EventRow represents a row in usdn.events.
type EventRow struct {
	EventID   uuid.UUID
	Sequence  uint64
	EventType string
	Payload   []byte // JSON-encoded event payload
	EmittedAt time.Time
}

// EventRowFrom flattens an engine event for storage.
func EventRowFrom(evt event.Event) (EventRow, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	meta := evt.Metadata()
	return EventRow{
		EventID:   meta.ID,
		Sequence:  meta.Sequence,
		EventType: evt.EventType().String(),
		Payload:   payload,
		EmittedAt: meta.Timestamp,
	}, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes events to Postgres using multi-row INSERTs.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

const eventColumns = 5

// WriteEventBatch writes a batch of events to usdn.events. Rewriting an
// event id is a no-op, so replays are idempotent.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO usdn.events (event_id, sequence, event_type, payload, emitted_at) VALUES `

	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*eventColumns)

	for i, e := range events {
		base := i * eventColumns
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5))
		args = append(args, e.EventID, int64(e.Sequence), e.EventType, e.Payload, e.EmittedAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (event_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// LoadEventsFrom returns up to limit events with sequence >= from, in order.
func (w *EventLogWriter) LoadEventsFrom(ctx context.Context, from uint64, limit int) ([]EventRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT event_id, sequence, event_type, payload, emitted_at
		FROM usdn.events
		WHERE sequence >= $1
		ORDER BY sequence ASC, emitted_at ASC
		LIMIT $2
	`, int64(from), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			e   EventRow
			seq int64
		)
		if err := rows.Scan(&e.EventID, &seq, &e.EventType, &e.Payload, &e.EmittedAt); err != nil {
			return nil, err
		}
		e.Sequence = uint64(seq)
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestSequence returns the highest sequence in the event log.
func (w *EventLogWriter) LatestSequence(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM usdn.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// TruncateAfter deletes events past seq. Run at startup so the log never
// runs ahead of the restored checkpoint.
func (w *EventLogWriter) TruncateAfter(ctx context.Context, seq uint64) (int64, error) {
	res, err := w.db.ExecContext(ctx, `DELETE FROM usdn.events WHERE sequence > $1`, int64(seq))
	if err != nil {
		return 0, fmt.Errorf("truncate event log: %w", err)
	}
	return res.RowsAffected()
}
