package persistence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"UsdnLedger/internal/event"

	sdkmath "cosmossdk.io/math"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fundingEvent(seq uint64) *event.FundingApplied {
	return &event.FundingApplied{
		Meta:         event.Meta{ID: event.NewEventID(seq, 0), Sequence: seq, Timestamp: time.Unix(1_700_000_000, 0).UTC()},
		Price:        sdkmath.NewInt(2_000),
		RatePerDay:   sdkmath.NewInt(1),
		FundAsset:    sdkmath.ZeroInt(),
		BalanceLong:  sdkmath.NewInt(50),
		BalanceVault: sdkmath.NewInt(100),
	}
}

func TestEventRowFrom(t *testing.T) {
	row, err := EventRowFrom(fundingEvent(4))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), row.Sequence)
	assert.Equal(t, "FundingApplied", row.EventType)
	assert.Equal(t, event.NewEventID(4, 0), row.EventID)
	assert.Contains(t, string(row.Payload), `"sequence":4`)
}

func TestEventLogWriter_WriteEventBatch(t *testing.T) {
	db, mock := newMockDB(t)
	w := NewEventLogWriter(db)

	rows := make([]EventRow, 0, 2)
	for seq := uint64(1); seq <= 2; seq++ {
		row, err := EventRowFrom(fundingEvent(seq))
		require.NoError(t, err)
		rows = append(rows, row)
	}

	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO usdn.events (event_id, sequence, event_type, payload, emitted_at) VALUES ($1, $2, $3, $4, $5), ($6, $7, $8, $9, $10) ON CONFLICT (event_id) DO NOTHING`)).
		WithArgs(rows[0].EventID, int64(1), "FundingApplied", rows[0].Payload, rows[0].EmittedAt,
			rows[1].EventID, int64(2), "FundingApplied", rows[1].Payload, rows[1].EmittedAt).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, w.WriteEventBatch(context.Background(), db, rows))
	require.NoError(t, w.WriteEventBatch(context.Background(), db, nil), "empty batch is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventLogWriter_LatestSequence(t *testing.T) {
	db, mock := newMockDB(t)
	w := NewEventLogWriter(db)

	q := regexp.QuoteMeta(`SELECT MAX(sequence) FROM usdn.events`)
	mock.ExpectQuery(q).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectQuery(q).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(12)))

	seq, err := w.LatestSequence(context.Background())
	require.NoError(t, err)
	assert.Zero(t, seq, "empty event log")

	seq, err = w.LatestSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(12), seq)
}

func TestEventLogWriter_TruncateAfter(t *testing.T) {
	db, mock := newMockDB(t)
	w := NewEventLogWriter(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM usdn.events WHERE sequence > $1`)).
		WithArgs(int64(40)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := w.TruncateAfter(context.Background(), 40)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventLogWorker_FlushesFullBatch(t *testing.T) {
	db, mock := newMockDB(t)
	worker := NewEventLogWorker(db, 2, time.Hour, nil, zerolog.Nop())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO usdn.events`)).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	worker.Emit(fundingEvent(1))
	worker.Emit(fundingEvent(2))

	require.Eventually(t, func() bool { return mock.ExpectationsWereMet() == nil }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestEventLogWorker_FlushesOnShutdown(t *testing.T) {
	db, mock := newMockDB(t)
	worker := NewEventLogWorker(db, 100, time.Hour, nil, zerolog.Nop())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO usdn.events`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	worker.Emit(fundingEvent(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, worker.Run(ctx), context.Canceled)
	assert.NoError(t, mock.ExpectationsWereMet())
}
