package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/pharmflow/pharmflow-backend/internal/stock/events"
	"github.com/pharmflow/pharmflow-backend/internal/stock/repository"
	"github.com/pharmflow/pharmflow-backend/internal/stock/service"
	"github.com/pharmflow/pharmflow-backend/pkg/actor"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	apperrors "github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
	"github.com/pharmflow/pharmflow-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var requestColumns = []string{
	"id", "request_number", "requesting_branch", "status", "priority",
	"notes", "created_by", "approved_by", "approved_at", "created_at", "updated_at",
}

func newRequestService(t *testing.T) (*service.RequestService, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	log := logger.New("stock-test", "test")
	db := database.FromSqlx(mockDB.DB, log)
	publisher := events.NewStockEventPublisher(nil, log)
	svc := service.NewRequestService(db, repository.NewRequestRepository(db), publisher, log)
	return svc, mockDB
}

func expectRequestLoad(mockDB *testutil.MockDB, id, status string) {
	mockDB.ExpectQuery("SELECT * FROM stock_requests").
		WithArgs(id).
		WillReturnRows(testutil.MockRows(requestColumns...).
			AddRow(id, "SR-2026-00042", "townshop", status, "normal",
				nil, "user-1", nil, nil, time.Now().Add(-time.Hour), time.Now().Add(-time.Minute)))
	mockDB.ExpectQuery("SELECT * FROM stock_request_items").
		WithArgs(id).
		WillReturnRows(testutil.MockRows("id", "request_id", "product_id", "quantity", "unit").
			AddRow("item-1", id, "SPIRULINA", 120, "unit"))
	mockDB.ExpectQuery("SELECT * FROM stock_request_approvals").
		WithArgs(id).
		WillReturnRows(testutil.MockRows("id", "request_id", "role", "approved", "actor", "notes", "created_at"))
	mockDB.ExpectQuery("SELECT * FROM stock_request_history").
		WithArgs(id).
		WillReturnRows(testutil.MockRows("id", "request_id", "action", "from_status", "to_status", "actor", "notes", "created_at"))
}

func TestRequestService_Create_RejectsMalformedItems(t *testing.T) {
	svc, mockDB := newRequestService(t)
	defer mockDB.Close()

	_, err := svc.Create(context.Background(), &service.CreateRequestInput{
		RequestingBranch: "townshop",
		Items: []service.CreateRequestItem{
			{ProductID: "SPIRULINA", Quantity: 120},
			{ProductID: "", Quantity: 10},
			{ProductID: "PARACETAMOL", Quantity: 0},
		},
	})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, apperrors.As(err, &appErr))
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
	assert.Contains(t, appErr.Details, "items[1].product_id")
	assert.Contains(t, appErr.Details, "items[2].quantity")

	// The whole request is rejected; nothing reaches the database.
	mockDB.ExpectationsWereMet(t)
}

func TestRequestService_Create_RejectsEmptyItems(t *testing.T) {
	svc, mockDB := newRequestService(t)
	defer mockDB.Close()

	_, err := svc.Create(context.Background(), &service.CreateRequestInput{
		RequestingBranch: "townshop",
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	mockDB.ExpectationsWereMet(t)
}

// Deciding on a terminal request is a no-op, not an error, so redelivered
// decisions stay harmless.
func TestRequestService_Advance_TerminalIsNoOp(t *testing.T) {
	for _, status := range []string{"approved", "rejected", "cancelled"} {
		t.Run(status, func(t *testing.T) {
			svc, mockDB := newRequestService(t)
			defer mockDB.Close()

			expectRequestLoad(mockDB, "req-1", status)

			ctx := actor.WithActor(context.Background(), &actor.Actor{
				ID: "user-2", Role: service.RoleGeneralManager,
			})
			result, err := svc.Advance(ctx, "req-1", &service.DecisionInput{Approved: true})
			require.NoError(t, err)
			assert.False(t, result.Applied)
			assert.Equal(t, status, result.Request.Status)

			mockDB.ExpectationsWereMet(t)
		})
	}
}

func TestRequestService_Advance_WrongRoleForbidden(t *testing.T) {
	svc, mockDB := newRequestService(t)
	defer mockDB.Close()

	expectRequestLoad(mockDB, "req-1", string(service.StatusPendingGM))

	ctx := actor.WithActor(context.Background(), &actor.Actor{
		ID: "user-2", Role: service.RoleStockReviewer,
	})
	_, err := svc.Advance(ctx, "req-1", &service.DecisionInput{Approved: true})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, apperrors.As(err, &appErr))
	assert.Equal(t, "FORBIDDEN", appErr.Code)

	mockDB.ExpectationsWereMet(t)
}

func TestRequestService_Cancel_OnlyBeforeReview(t *testing.T) {
	svc, mockDB := newRequestService(t)
	defer mockDB.Close()

	expectRequestLoad(mockDB, "req-1", string(service.StatusPendingWarehouse))

	_, err := svc.Cancel(context.Background(), "req-1", nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))

	mockDB.ExpectationsWereMet(t)
}

func TestRequestService_List_RejectsUnknownStatus(t *testing.T) {
	svc, mockDB := newRequestService(t)
	defer mockDB.Close()

	_, err := svc.List(context.Background(), repository.RequestFilter{Status: "shipped"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	mockDB.ExpectationsWereMet(t)
}
