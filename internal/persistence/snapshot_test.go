package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"UsdnLedger/internal/core"
	"UsdnLedger/internal/ledger"

	sdkmath "cosmossdk.io/math"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func testCheckpoint(seq uint64, hashByte string) *Checkpoint {
	return &Checkpoint{
		Engine: &core.Snapshot{
			Version:   core.SnapshotVersion,
			Sequence:  seq,
			PrevHash:  strings.Repeat("00", 32),
			StateHash: strings.Repeat(hashByte, 32),
		},
		Bank: ledger.BankSnapshot{Sequence: 3, Balances: []ledger.BalanceRecord{
			{Account: ledger.NewProtocolAccountKey(ledger.SubTypeCollateralPool, ledger.AssetUnderlying), Amount: sdkmath.NewInt(150)},
		}},
		TakenAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSnapshotStore_Save(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSnapshotStore(db)
	cp := testCheckpoint(7, "ab")

	stateHash, _ := hex.DecodeString(cp.Engine.StateHash)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO usdn.snapshots`)).
		WithArgs(int64(7), stateHash, make([]byte, 32), CheckpointFormat, sqlmock.AnyArg(), sqlmock.AnyArg(), cp.TakenAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Save(context.Background(), cp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotStore_SaveRejectsBadHash(t *testing.T) {
	db, _ := newMockDB(t)
	cp := testCheckpoint(7, "ab")
	cp.Engine.StateHash = "not-hex"

	assert.Error(t, NewSnapshotStore(db).Save(context.Background(), cp))
	assert.Error(t, NewSnapshotStore(db).Save(context.Background(), &Checkpoint{}))
}

func TestSnapshotStore_LoadLatest(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSnapshotStore(db)
	want := testCheckpoint(9, "cd")
	data, err := json.Marshal(want)
	require.NoError(t, err)

	query := regexp.QuoteMeta(`SELECT data, format_version FROM usdn.snapshots`)
	mock.ExpectQuery(query).
		WillReturnRows(sqlmock.NewRows([]string{"data", "format_version"}).AddRow(data, CheckpointFormat))

	got, err := store.LoadLatest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(9), got.Engine.Sequence)
	assert.Equal(t, want.Engine.StateHash, got.Engine.StateHash)
	assert.True(t, got.Bank.Balances[0].Amount.Equal(sdkmath.NewInt(150)))

	mock.ExpectQuery(query).WillReturnError(sql.ErrNoRows)
	got, err = store.LoadLatest(context.Background())
	require.NoError(t, err, "no rows is a cold start")
	assert.Nil(t, got)

	mock.ExpectQuery(query).
		WillReturnRows(sqlmock.NewRows([]string{"data", "format_version"}).AddRow(data, 99))
	_, err = store.LoadLatest(context.Background())
	assert.ErrorContains(t, err, "unsupported format")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotStore_Prune(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM usdn.snapshots`)).
		WithArgs(5).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewSnapshotStore(db).Prune(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
