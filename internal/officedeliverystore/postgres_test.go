package officedeliverystore

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routeplan/internal/domain"
)

type pgxMockAdapter struct {
	mock pgxmock.PgxPoolIface
}

func (a *pgxMockAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return a.mock.Exec(ctx, sql, args...)
}
func (a *pgxMockAdapter) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return a.mock.Query(ctx, sql, args...)
}
func (a *pgxMockAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return a.mock.QueryRow(ctx, sql, args...)
}
func (a *pgxMockAdapter) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return a.mock.BeginTx(ctx, txOptions)
}
func (a *pgxMockAdapter) Close()                        { a.mock.Close() }
func (a *pgxMockAdapter) Ping(ctx context.Context) error { return a.mock.Ping(ctx) }

func setupMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return mock, NewPostgresStore(&pgxMockAdapter{mock: mock})
}

func TestPostgresStore_Create_InsertsHeaderAndOneRowPerParcel(t *testing.T) {
	mock, store := setupMockStore(t)
	defer mock.Close()

	d := &domain.OfficeDelivery{
		DriverRef: "driver1", OfficeRef: "O1", ParcelRefs: []string{"P1", "P2"},
		Timestamp: time.Now(), RouteRef: "R1",
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO office_deliveries").
		WithArgs(d.DriverRef, d.OfficeRef, d.Timestamp, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec("INSERT INTO office_delivery_parcels").
		WithArgs(int64(1), d.DriverRef, d.OfficeRef, d.Timestamp, "P1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO office_delivery_parcels").
		WithArgs(int64(1), d.DriverRef, d.OfficeRef, d.Timestamp, "P2").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.Create(context.Background(), d)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Create_RollsBackOnParcelInsertFailure(t *testing.T) {
	mock, store := setupMockStore(t)
	defer mock.Close()

	d := &domain.OfficeDelivery{
		DriverRef: "driver1", OfficeRef: "O1", ParcelRefs: []string{"P1"},
		Timestamp: time.Now(), RouteRef: "R1",
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO office_deliveries").
		WithArgs(d.DriverRef, d.OfficeRef, d.Timestamp, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec("INSERT INTO office_delivery_parcels").
		WithArgs(int64(1), d.DriverRef, d.OfficeRef, d.Timestamp, "P1").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := store.Create(context.Background(), d)

	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FilterNew_ExcludesAlreadyRecordedParcels(t *testing.T) {
	mock, store := setupMockStore(t)
	defer mock.Close()

	date := time.Now()
	mock.ExpectQuery("SELECT parcel_ref FROM office_delivery_parcels").
		WithArgs("driver1", "O1", date, []string{"P1", "P2", "P3"}).
		WillReturnRows(pgxmock.NewRows([]string{"parcel_ref"}).AddRow("P2"))

	fresh, err := store.FilterNew(context.Background(), "driver1", "O1", date, []string{"P1", "P2", "P3"})

	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P3"}, fresh)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FilterNew_AllFreshWhenNoneRecorded(t *testing.T) {
	mock, store := setupMockStore(t)
	defer mock.Close()

	date := time.Now()
	mock.ExpectQuery("SELECT parcel_ref FROM office_delivery_parcels").
		WithArgs("driver1", "O1", date, []string{"P1"}).
		WillReturnRows(pgxmock.NewRows([]string{"parcel_ref"}))

	fresh, err := store.FilterNew(context.Background(), "driver1", "O1", date, []string{"P1"})

	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, fresh)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDroppedParcelIDs_MergesAcrossDeliveries(t *testing.T) {
	mock, store := setupMockStore(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT parcel_ref FROM office_delivery_parcels").
		WithArgs("driver1").
		WillReturnRows(pgxmock.NewRows([]string{"parcel_ref"}).
			AddRow("P1").
			AddRow("P2").
			AddRow("P3"))

	dropped, err := store.ListDroppedParcelIDs(context.Background(), "driver1")

	require.NoError(t, err)
	assert.True(t, dropped["P1"])
	assert.True(t, dropped["P2"])
	assert.True(t, dropped["P3"])
	assert.Len(t, dropped, 3)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDroppedParcelIDs_EmptyWhenNoDeliveries(t *testing.T) {
	mock, store := setupMockStore(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT parcel_ref FROM office_delivery_parcels").
		WithArgs("driver1").
		WillReturnRows(pgxmock.NewRows([]string{"parcel_ref"}))

	dropped, err := store.ListDroppedParcelIDs(context.Background(), "driver1")

	require.NoError(t, err)
	assert.Empty(t, dropped)
	require.NoError(t, mock.ExpectationsWereMet())
}
