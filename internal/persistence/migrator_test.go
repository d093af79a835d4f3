package persistence

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMigrations = fstest.MapFS{
	"000001_schema.up.sql":   {Data: []byte("CREATE SCHEMA usdn;")},
	"000001_schema.down.sql": {Data: []byte("DROP SCHEMA usdn;")},
	"000002_events.up.sql":   {Data: []byte("CREATE TABLE usdn.events ();")},
	"000002_events.down.sql": {Data: []byte("DROP TABLE usdn.events;")},
	"README.md":              {Data: []byte("not a migration")},
}

const ensureTable = `CREATE TABLE IF NOT EXISTS public.schema_migrations`

func TestMigrator_UpSkipsApplied(t *testing.T) {
	db, mock := newMockDB(t)
	m := NewMigrator(db, testMigrations, zerolog.Nop())

	mock.ExpectExec(regexp.QuoteMeta(ensureTable)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version FROM public.schema_migrations`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("000001"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE usdn.events ();")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO public.schema_migrations`)).
		WithArgs("000002", "000002_events.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, m.Up(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_UpRollsBackFailedMigration(t *testing.T) {
	db, mock := newMockDB(t)
	m := NewMigrator(db, testMigrations, zerolog.Nop())

	mock.ExpectExec(regexp.QuoteMeta(ensureTable)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version FROM public.schema_migrations`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE SCHEMA usdn;")).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err := m.Up(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000001_schema.up.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_Down(t *testing.T) {
	db, mock := newMockDB(t)
	m := NewMigrator(db, testMigrations, zerolog.Nop())

	mock.ExpectExec(regexp.QuoteMeta(ensureTable)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version, filename FROM public.schema_migrations`)).
		WillReturnRows(sqlmock.NewRows([]string{"version", "filename"}).AddRow("000002", "000002_events.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE usdn.events;")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM public.schema_migrations`)).
		WithArgs("000002").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, m.Down(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_EmbeddedSchema(t *testing.T) {
	m := NewMigrator(nil, nil, zerolog.Nop())
	files, err := m.listMigrationFiles(".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_usdn.up.sql"}, files)
	assert.Equal(t, "000001", extractVersion(files[0]))
}
