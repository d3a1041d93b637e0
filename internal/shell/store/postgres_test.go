package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/artpar/realty-collector/internal/core/domain"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMockStore returns a store speaking the Postgres dialect over sqlmock.
func setupMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return newSQLStore(sqlx.NewDb(db, DriverPostgres)), mock
}

func TestPostgres_CheckStatusUsesNumberedPlaceholders(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE c.city = $1 AND c.state = $2")).
		WithArgs("AUSTIN", "TX").
		WillReturnRows(sqlmock.NewRows([]string{"job_status"}).AddRow("PENDING"))

	status, err := store.CheckStatus(context.Background(), "austin", "tx")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CheckStatusQueryError(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery("FROM status").WillReturnError(sql.ErrConnDone)

	status, err := store.CheckStatus(context.Background(), "Austin", "TX")
	require.Error(t, err)
	assert.Equal(t, domain.JobInternalError, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetStatusUpsert(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO city (city, state) VALUES ($1, $2)")).
		WithArgs("AUSTIN", "TX").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM city WHERE city = $1 AND state = $2")).
		WithArgs("AUSTIN", "TX").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (city_id) DO UPDATE")).
		WithArgs(int64(7), "COMPLETED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SetStatus(context.Background(), "Austin", "TX", domain.JobCompleted)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetStatusRejectsBeforeQuerying(t *testing.T) {
	store, mock := setupMockStore(t)

	err := store.SetStatus(context.Background(), "Austin", "TX", domain.JobUnknown)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetAgentNotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM agent WHERE encodedzuid = $1")).
		WithArgs("X1").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetAgent(context.Background(), "X1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListStaleJobs(t *testing.T) {
	store, mock := setupMockStore(t)
	cutoff := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.job_status = $1 AND s.last_updated < $2")).
		WithArgs("PENDING", cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id", "city", "state"}).AddRow(3, "AUSTIN", "TX"))

	cities, err := store.ListStaleJobs(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []domain.City{{ID: 3, City: "AUSTIN", State: "TX"}}, cities)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveBatchRollsBack(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("INSERT INTO city").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id FROM city").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM agent WHERE encodedzuid IN ($1)")).
		WithArgs("X1").
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()
	mock.ExpectExec("INSERT INTO city").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id FROM city").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec("INSERT INTO status").
		WithArgs(int64(1), "ERROR", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	agent := domain.Agent{EncodedZUID: "X1"}
	result, err := store.SaveAgents(context.Background(), "Austin", "TX", []domain.Agent{agent}, SaveOptions{UpdateExisting: true})
	require.Error(t, err)
	assert.Equal(t, 1, result.FailedBatches)
	assert.Equal(t, domain.JobError, result.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
