package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/zonedesk/ingest/internal/pipeline"
)

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo, err := NewWithPool(mock, "records")
	require.NoError(t, err)
	return repo, mock
}

// TestUpsertReturnsStableID verifies the upsert statement carries the
// identity columns and returns the row id.
func TestUpsertReturnsStableID(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO records`).
		WithArgs("freezone", "dmcc", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("row-1"))

	id, err := repo.Upsert(context.Background(), "freezone", "dmcc", pipeline.Record{"name": "DMCC"})
	require.NoError(t, err)
	require.Equal(t, "row-1", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestUpsertWrapsDatabaseErrors verifies pool failures surface as typed
// store errors.
func TestUpsertWrapsDatabaseErrors(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO records`).
		WithArgs("freezone", "dmcc", pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	_, err := repo.Upsert(context.Background(), "freezone", "dmcc", pipeline.Record{"name": "DMCC"})
	var se *pipeline.StoreError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "freezone", se.Kind)
	require.Equal(t, "dmcc", se.Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestUpsertRejectsEmptyIdentity verifies identity validation happens before
// any query is issued.
func TestUpsertRejectsEmptyIdentity(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	defer mock.Close()

	_, err := repo.Upsert(context.Background(), "", "dmcc", pipeline.Record{})
	var se *pipeline.StoreError
	require.True(t, errors.As(err, &se))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestGetByIDDecodesPayload verifies the JSONB payload round-trips into a
// record.
func TestGetByIDDecodesPayload(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT payload FROM records WHERE id = $1`)).
		WithArgs("row-1").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow([]byte(`{"name":"DMCC"}`)))

	record, err := repo.GetByID(context.Background(), "row-1")
	require.NoError(t, err)
	require.Equal(t, "DMCC", record["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestGetAllPushesKindFilterDown verifies the kind filter becomes a WHERE
// clause while payload filters apply client-side.
func TestGetAllPushesKindFilterDown(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT payload FROM records WHERE kind = $1`)).
		WithArgs("freezone").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).
			AddRow([]byte(`{"name":"DMCC","emirate":"Dubai"}`)).
			AddRow([]byte(`{"name":"KIZAD","emirate":"Abu Dhabi"}`)))

	records, err := repo.GetAll(context.Background(), map[string]string{"kind": "freezone", "emirate": "Dubai"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "DMCC", records[0]["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestNewWithPoolValidatesTableName verifies identifier injection via the
// table name is rejected.
func TestNewWithPoolValidatesTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, `records"; DROP TABLE records;--`)
	require.Error(t, err)

	repo, err := NewWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "records", repo.table)
}
