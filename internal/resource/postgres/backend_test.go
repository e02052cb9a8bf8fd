package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitescout/internal/resource"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Backend) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	b, err := NewWithPool(mock, "records")
	require.NoError(t, err)
	return mock, b
}

func TestPutUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, b := newMock(t)
	data := []byte(`{"id":"a"}`)
	mock.ExpectExec("INSERT INTO records").
		WithArgs("pages", "a", data).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, b.Put(context.Background(), "pages", "a", data))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMapsNoRowsToNotFound(t *testing.T) {
	t.Parallel()

	mock, b := newMock(t)
	mock.ExpectQuery("SELECT data FROM records").
		WithArgs("pages", "missing").
		WillReturnRows(pgxmock.NewRows([]string{"data"}))

	_, err := b.Get(context.Background(), "pages", "missing")
	require.ErrorIs(t, err, resource.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsData(t *testing.T) {
	t.Parallel()

	mock, b := newMock(t)
	mock.ExpectQuery("SELECT data FROM records").
		WithArgs("pages", "a").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"a"}`)))

	got, err := b.Get(context.Background(), "pages", "a")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"a"}`, string(got))
}

func TestDeleteReportsMissingRow(t *testing.T) {
	t.Parallel()

	mock, b := newMock(t)
	mock.ExpectExec("DELETE FROM records").
		WithArgs("pages", "a").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM records").
		WithArgs("pages", "b").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.ErrorIs(t, b.Delete(context.Background(), "pages", "a"), resource.ErrNotFound)
	require.NoError(t, b.Delete(context.Background(), "pages", "b"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAndResources(t *testing.T) {
	t.Parallel()

	mock, b := newMock(t)
	mock.ExpectQuery("SELECT data FROM records WHERE resource").
		WithArgs("pages").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"id":"a"}`)).
			AddRow([]byte(`{"id":"b"}`)))
	mock.ExpectQuery("SELECT DISTINCT resource FROM records").
		WillReturnRows(pgxmock.NewRows([]string{"resource"}).AddRow("pages").AddRow("sites"))

	list, err := b.List(context.Background(), "pages")
	require.NoError(t, err)
	require.Len(t, list, 2)

	names, err := b.Resources(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"pages", "sites"}, names)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCreatesTable(t *testing.T) {
	t.Parallel()

	mock, b := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS records").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, b.Migrate(context.Background()))

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS records").
		WillReturnError(errors.New("permission denied"))
	require.ErrorContains(t, b.Migrate(context.Background()), "create table")
}

func TestNewWithPoolValidates(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "records")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "drop table")
	require.ErrorContains(t, err, "invalid table name")
}
