package repository_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pharmflow/pharmflow-backend/internal/stock/repository"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	apperrors "github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
	"github.com/pharmflow/pharmflow-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var inventoryColumns = []string{
	"location", "product_id", "quantity", "reserved_quantity",
	"available_quantity", "reorder_level", "updated_at",
}

func newInventoryRepo(t *testing.T) (*repository.InventoryRepository, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	log := logger.New("stock-test", "test")
	repo := repository.NewInventoryRepository(database.FromSqlx(mockDB.DB, log), 100)
	return repo, mockDB
}

func expectMovementAudit(mockDB *testutil.MockDB) {
	mockDB.ExpectExec("INSERT INTO inventory_movements").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec("DELETE FROM inventory_movements").
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestInventoryRepository_Adjust_CreditCreatesRecord(t *testing.T) {
	repo, mockDB := newInventoryRepo(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("INSERT INTO inventory_records").
		WithArgs("warehouse-windhoek", "SPIRULINA", 120).
		WillReturnRows(testutil.MockRows(inventoryColumns...).
			AddRow("warehouse-windhoek", "SPIRULINA", 120, 0, 120, 0, time.Now()))
	expectMovementAudit(mockDB)

	rec, err := repo.Adjust(context.Background(), "warehouse-windhoek", "SPIRULINA", 120, "batch_intake", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 120, rec.Quantity)
	assert.Equal(t, 0, rec.ReservedQuantity)
	assert.Equal(t, 120, rec.AvailableQuantity)

	mockDB.ExpectationsWereMet(t)
}

func TestInventoryRepository_Adjust_DebitGuarded(t *testing.T) {
	repo, mockDB := newInventoryRepo(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("UPDATE inventory_records").
		WithArgs("warehouse-windhoek", "SPIRULINA", -20).
		WillReturnRows(testutil.MockRows(inventoryColumns...).
			AddRow("warehouse-windhoek", "SPIRULINA", 100, 0, 100, 0, time.Now()))
	expectMovementAudit(mockDB)

	rec, err := repo.Adjust(context.Background(), "warehouse-windhoek", "SPIRULINA", -20, "transfer_dispatch", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 100, rec.Quantity)

	mockDB.ExpectationsWereMet(t)
}

func TestInventoryRepository_Adjust_DebitInsufficientStock(t *testing.T) {
	repo, mockDB := newInventoryRepo(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("UPDATE inventory_records").
		WithArgs("warehouse-windhoek", "SPIRULINA", -500).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Adjust(context.Background(), "warehouse-windhoek", "SPIRULINA", -500, "transfer_dispatch", "user-1")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInsufficientStock))

	var appErr *apperrors.AppError
	require.True(t, apperrors.As(err, &appErr))
	assert.Equal(t, "INSUFFICIENT_STOCK", appErr.Code)

	mockDB.ExpectationsWereMet(t)
}

func TestInventoryRepository_Adjust_ZeroDeltaRejected(t *testing.T) {
	repo, mockDB := newInventoryRepo(t)
	defer mockDB.Close()

	_, err := repo.Adjust(context.Background(), "warehouse-windhoek", "SPIRULINA", 0, "noop", "user-1")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	mockDB.ExpectationsWereMet(t)
}

// Two dispatchers race for the last units: the loser's guarded update
// matches no row and the debit fails whole.
func TestInventoryRepository_Adjust_ConcurrentDebitLoser(t *testing.T) {
	repo, mockDB := newInventoryRepo(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("UPDATE inventory_records").
		WithArgs("warehouse-windhoek", "SPIRULINA", -80).
		WillReturnRows(testutil.MockRows(inventoryColumns...).
			AddRow("warehouse-windhoek", "SPIRULINA", 20, 0, 20, 0, time.Now()))
	expectMovementAudit(mockDB)

	mockDB.ExpectQuery("UPDATE inventory_records").
		WithArgs("warehouse-windhoek", "SPIRULINA", -80).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Adjust(context.Background(), "warehouse-windhoek", "SPIRULINA", -80, "transfer_dispatch", "dispatcher-a")
	require.NoError(t, err)

	_, err = repo.Adjust(context.Background(), "warehouse-windhoek", "SPIRULINA", -80, "transfer_dispatch", "dispatcher-b")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInsufficientStock))

	mockDB.ExpectationsWereMet(t)
}

func TestInventoryRepository_Reserve(t *testing.T) {
	repo, mockDB := newInventoryRepo(t)
	defer mockDB.Close()

	mockDB.ExpectExec("UPDATE inventory_records").
		WithArgs("warehouse-windhoek", "SPIRULINA", 30).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Reserve(context.Background(), "warehouse-windhoek", "SPIRULINA", 30)
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestInventoryRepository_Reserve_InsufficientAvailable(t *testing.T) {
	repo, mockDB := newInventoryRepo(t)
	defer mockDB.Close()

	mockDB.ExpectExec("UPDATE inventory_records").
		WithArgs("warehouse-windhoek", "SPIRULINA", 300).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Reserve(context.Background(), "warehouse-windhoek", "SPIRULINA", 300)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInsufficientAvailable))

	var appErr *apperrors.AppError
	require.True(t, apperrors.As(err, &appErr))
	assert.Equal(t, "INSUFFICIENT_AVAILABLE", appErr.Code)

	mockDB.ExpectationsWereMet(t)
}

func TestInventoryRepository_Release_ExceedsReservedRejected(t *testing.T) {
	repo, mockDB := newInventoryRepo(t)
	defer mockDB.Close()

	mockDB.ExpectExec("UPDATE inventory_records").
		WithArgs("warehouse-windhoek", "SPIRULINA", 50).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Release(context.Background(), "warehouse-windhoek", "SPIRULINA", 50)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	mockDB.ExpectationsWereMet(t)
}

func TestInventoryRepository_Get_NotFound(t *testing.T) {
	repo, mockDB := newInventoryRepo(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT").
		WithArgs("townshop", "SPIRULINA").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "townshop", "SPIRULINA")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	mockDB.ExpectationsWereMet(t)
}
