package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/pharmflow/pharmflow-backend/internal/stock/events"
	"github.com/pharmflow/pharmflow-backend/internal/stock/repository"
	"github.com/pharmflow/pharmflow-backend/internal/stock/service"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	apperrors "github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
	"github.com/pharmflow/pharmflow-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	transferColumns = []string{
		"id", "request_id", "from_warehouse", "to_branch", "status", "notes",
		"created_by", "dispatched_at", "delivered_at", "received_at", "created_at", "updated_at",
	}
	transferItemColumns = []string{"id", "transfer_id", "product_id", "quantity", "unit"}
	batchColumns        = []string{
		"id", "product_id", "batch_no", "expiry_date", "quantity", "remaining_quantity",
		"location", "status", "received_at", "created_at", "updated_at",
	}
	noteColumns = []string{
		"id", "transfer_id", "barcode", "status", "dispatched_by", "dispatched_at",
		"received_by", "received_at",
	}
)

func newTransferService(t *testing.T) (*service.TransferService, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	log := logger.New("stock-test", "test")
	db := database.FromSqlx(mockDB.DB, log)
	publisher := events.NewStockEventPublisher(nil, log)
	svc := service.NewTransferService(
		db,
		repository.NewTransferRepository(db),
		repository.NewRequestRepository(db),
		repository.NewInventoryRepository(db, 100),
		repository.NewBatchRepository(db),
		publisher,
		log,
	)
	return svc, mockDB
}

func expectTransferLock(mockDB *testutil.MockDB, id, status string, itemQty int) {
	mockDB.ExpectQuery("SELECT * FROM stock_transfers").
		WithArgs(id).
		WillReturnRows(testutil.MockRows(transferColumns...).
			AddRow(id, nil, "warehouse-windhoek", "townshop", status, nil,
				"user-1", nil, nil, nil, time.Now().Add(-time.Hour), time.Now().Add(-time.Minute)))
	mockDB.ExpectQuery("SELECT * FROM stock_transfer_items").
		WithArgs(id).
		WillReturnRows(testutil.MockRows(transferItemColumns...).
			AddRow("item-1", id, "SPIRULINA", itemQty, "unit"))
}

// A shortfall on any line rolls the whole dispatch back: no batch rows are
// decremented, no note is issued, the transfer stays pending.
func TestTransferService_Dispatch_AllOrNothing(t *testing.T) {
	svc, mockDB := newTransferService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectTransferLock(mockDB, "tr-1", service.TransferStatusPending, 8)

	received := time.Now().Add(-72 * time.Hour)
	mockDB.ExpectQuery("SELECT * FROM stock_batches").
		WithArgs("warehouse-windhoek", "SPIRULINA").
		WillReturnRows(testutil.MockRows(batchColumns...).
			AddRow("batch-1", "SPIRULINA", "BN-1001", *testutil.ExpiryMonth(2025, time.January),
				5, 5, "warehouse-windhoek", "available", received, received, received))
	mockDB.ExpectRollback()

	_, err := svc.Dispatch(context.Background(), "tr-1")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInsufficientStock))

	mockDB.ExpectationsWereMet(t)
}

// Re-dispatching hands back the note issued the first time instead of
// debiting the warehouse again.
func TestTransferService_Dispatch_AlreadyDispatchedReturnsExistingNote(t *testing.T) {
	svc, mockDB := newTransferService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectTransferLock(mockDB, "tr-1", service.TransferStatusDispatched, 8)

	dispatchedAt := time.Now().Add(-time.Hour)
	mockDB.ExpectQuery("SELECT * FROM dispatch_notes").
		WithArgs("tr-1").
		WillReturnRows(testutil.MockRows(noteColumns...).
			AddRow("note-1", "tr-1", "DN-TR1-ABC-123", "in_transit", "user-1", dispatchedAt, nil, nil))
	mockDB.ExpectQuery("SELECT * FROM dispatch_note_items").
		WithArgs("note-1").
		WillReturnRows(testutil.MockRows("id", "note_id", "product_id", "batch_id", "batch_no", "expiry_date", "quantity").
			AddRow("line-1", "note-1", "SPIRULINA", "batch-1", "BN-1001", nil, 8))
	mockDB.ExpectCommit()

	result, err := svc.Dispatch(context.Background(), "tr-1")
	require.NoError(t, err)
	assert.False(t, result.Applied)
	require.NotNil(t, result.Note)
	assert.Equal(t, "DN-TR1-ABC-123", result.Note.Barcode)

	mockDB.ExpectationsWereMet(t)
}

func TestTransferService_Dispatch_CancelledRejected(t *testing.T) {
	svc, mockDB := newTransferService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectTransferLock(mockDB, "tr-1", service.TransferStatusCancelled, 8)
	mockDB.ExpectRollback()

	_, err := svc.Dispatch(context.Background(), "tr-1")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))

	mockDB.ExpectationsWereMet(t)
}

// Receiving an already received transfer credits nothing and reports
// Applied=false, so double scans at the branch stay harmless.
func TestTransferService_Receive_Idempotent(t *testing.T) {
	svc, mockDB := newTransferService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectTransferLock(mockDB, "tr-1", service.TransferStatusReceived, 8)
	mockDB.ExpectCommit()

	result, err := svc.Receive(context.Background(), "tr-1")
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, service.TransferStatusReceived, result.Transfer.Status)

	mockDB.ExpectationsWereMet(t)
}

func TestTransferService_Receive_PendingRejected(t *testing.T) {
	svc, mockDB := newTransferService(t)
	defer mockDB.Close()

	mockDB.ExpectBegin()
	expectTransferLock(mockDB, "tr-1", service.TransferStatusPending, 8)
	mockDB.ExpectRollback()

	_, err := svc.Receive(context.Background(), "tr-1")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))

	mockDB.ExpectationsWereMet(t)
}

func TestTransferService_Create_RejectsUnapprovedRequest(t *testing.T) {
	svc, mockDB := newTransferService(t)
	defer mockDB.Close()

	expectRequestLoad(mockDB, "req-1", string(service.StatusPendingGM))

	requestID := "req-1"
	_, err := svc.Create(context.Background(), &service.CreateTransferInput{
		RequestID:     &requestID,
		FromWarehouse: "warehouse-windhoek",
		ToBranch:      "townshop",
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))

	mockDB.ExpectationsWereMet(t)
}

func TestTransferService_Create_RequiresItems(t *testing.T) {
	svc, mockDB := newTransferService(t)
	defer mockDB.Close()

	_, err := svc.Create(context.Background(), &service.CreateTransferInput{
		FromWarehouse: "warehouse-windhoek",
		ToBranch:      "townshop",
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	mockDB.ExpectationsWereMet(t)
}

func TestTransferService_ResolveBarcode_NormalizesScan(t *testing.T) {
	svc, mockDB := newTransferService(t)
	defer mockDB.Close()

	dispatchedAt := time.Now().Add(-time.Hour)
	mockDB.ExpectQuery("SELECT * FROM dispatch_notes").
		WithArgs("DN-TR1-ABC-123").
		WillReturnRows(testutil.MockRows(noteColumns...).
			AddRow("note-1", "tr-1", "DN-TR1-ABC-123", "in_transit", "user-1", dispatchedAt, nil, nil))
	mockDB.ExpectQuery("SELECT * FROM dispatch_note_items").
		WithArgs("note-1").
		WillReturnRows(testutil.MockRows("id", "note_id", "product_id", "batch_id", "batch_no", "expiry_date", "quantity"))

	note, err := svc.ResolveBarcode(context.Background(), "  dn-tr1-abc-123\n")
	require.NoError(t, err)
	assert.Equal(t, "DN-TR1-ABC-123", note.Barcode)

	mockDB.ExpectationsWereMet(t)
}
