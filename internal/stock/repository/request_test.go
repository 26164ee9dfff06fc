package repository_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/pharmflow/pharmflow-backend/internal/stock/repository"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	apperrors "github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
	"github.com/pharmflow/pharmflow-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequestRepo(t *testing.T) (*repository.RequestRepository, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	log := logger.New("stock-test", "test")
	repo := repository.NewRequestRepository(database.FromSqlx(mockDB.DB, log))
	return repo, mockDB
}

func TestRequestRepository_UpdateStatusTx_OptimisticCheck(t *testing.T) {
	repo, mockDB := newRequestRepo(t)
	defer mockDB.Close()

	seen := time.Now().Add(-time.Minute)

	mockDB.ExpectBegin()
	mockDB.ExpectExec("UPDATE stock_requests").
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := mockDB.DB.Beginx()
	require.NoError(t, err)

	err = repo.UpdateStatusTx(context.Background(), tx, "req-1", "pending_gm", seen, nil)
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

// A decision that raced another sees zero rows and surfaces a retryable
// conflict instead of silently double-applying.
func TestRequestRepository_UpdateStatusTx_LostRace(t *testing.T) {
	repo, mockDB := newRequestRepo(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	mockDB.ExpectExec("UPDATE stock_requests").
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := mockDB.DB.Beginx()
	require.NoError(t, err)

	err = repo.UpdateStatusTx(context.Background(), tx, "req-1", "pending_gm", time.Now(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConcurrencyConflict))

	var appErr *apperrors.AppError
	require.True(t, apperrors.As(err, &appErr))
	assert.True(t, appErr.Retryable)
	assert.Equal(t, "CONCURRENCY_CONFLICT", appErr.Code)

	mockDB.ExpectationsWereMet(t)
}

// Constraint violations on the append-only tables surface as AppErrors,
// matching every other write path.
func TestRequestRepository_AddHistoryTx_MapsConstraintViolation(t *testing.T) {
	repo, mockDB := newRequestRepo(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("INSERT INTO stock_request_history").
		WillReturnError(&pq.Error{Code: "23503"})

	tx, err := mockDB.DB.Beginx()
	require.NoError(t, err)

	err = repo.AddHistoryTx(context.Background(), tx, &repository.RequestHistory{
		RequestID: "missing-request",
		Action:    "created",
		ToStatus:  "pending_stock_review",
		Actor:     "user-1",
	})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, apperrors.As(err, &appErr))
	assert.Equal(t, "BAD_REQUEST", appErr.Code)

	mockDB.ExpectationsWereMet(t)
}

func TestRequestRepository_AddApprovalTx_MapsConstraintViolation(t *testing.T) {
	repo, mockDB := newRequestRepo(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("INSERT INTO stock_request_approvals").
		WillReturnError(&pq.Error{Code: "23502", Column: "actor"})

	tx, err := mockDB.DB.Beginx()
	require.NoError(t, err)

	err = repo.AddApprovalTx(context.Background(), tx, &repository.RequestApproval{
		RequestID: "req-1",
		Role:      "general_manager",
		Approved:  true,
	})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, apperrors.As(err, &appErr))
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
	assert.Contains(t, appErr.Details, "actor")

	mockDB.ExpectationsWereMet(t)
}

func TestRequestRepository_GetByID_NotFound(t *testing.T) {
	repo, mockDB := newRequestRepo(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	mockDB.ExpectationsWereMet(t)
}
