package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pharmflow/pharmflow-backend/internal/stock/events"
	"github.com/pharmflow/pharmflow-backend/internal/stock/repository"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
	"github.com/pharmflow/pharmflow-backend/pkg/messaging"
)

// Request priorities.
const (
	PriorityNormal = "normal"
	PriorityUrgent = "urgent"
)

// CreateRequestInput is the payload for raising a stock request.
type CreateRequestInput struct {
	RequestingBranch string              `json:"requesting_branch" validate:"required"`
	Priority         string              `json:"priority" validate:"omitempty,oneof=normal urgent"`
	Notes            *string             `json:"notes,omitempty"`
	Items            []CreateRequestItem `json:"items" validate:"required,min=1"`
}

// CreateRequestItem is one requested product line.
type CreateRequestItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Unit      string `json:"unit"`
}

// DecisionInput is an approval chain decision on a request.
type DecisionInput struct {
	Approved bool    `json:"approved"`
	Notes    *string `json:"notes,omitempty"`
}

// AdvanceResult reports the outcome of a decision. Applied is false when
// the request was already terminal and the call was a no-op.
type AdvanceResult struct {
	Request *repository.StockRequest `json:"request"`
	Applied bool                     `json:"applied"`
}

// RequestService runs stock requests through the approval chain.
type RequestService struct {
	db        *database.DB
	requests  *repository.RequestRepository
	publisher *events.StockEventPublisher
	logger    *logger.Logger
}

// NewRequestService creates a new request service
func NewRequestService(
	db *database.DB,
	requests *repository.RequestRepository,
	publisher *events.StockEventPublisher,
	log *logger.Logger,
) *RequestService {
	return &RequestService{
		db:        db,
		requests:  requests,
		publisher: publisher,
		logger:    log.WithComponent("request-service"),
	}
}

// Create raises a new request in pending_stock_review. Item validation is
// strict: any malformed line rejects the whole request, with details keyed
// by the item's position.
func (s *RequestService) Create(ctx context.Context, input *CreateRequestInput) (*repository.StockRequest, error) {
	if len(input.Items) == 0 {
		return nil, errors.Validation(map[string]string{"items": "at least one item is required"})
	}

	details := map[string]string{}
	for i, item := range input.Items {
		if item.ProductID == "" {
			details[fmt.Sprintf("items[%d].product_id", i)] = "required"
		}
		if item.Quantity <= 0 {
			details[fmt.Sprintf("items[%d].quantity", i)] = "must be greater than zero"
		}
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	number, err := s.requests.NextRequestNumber(ctx)
	if err != nil {
		return nil, err
	}

	priority := input.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	act := acting(ctx)
	req := &repository.StockRequest{
		RequestNumber:    number,
		RequestingBranch: input.RequestingBranch,
		Status:           string(StatusPendingStockReview),
		Priority:         priority,
		Notes:            input.Notes,
		CreatedBy:        act.ID,
	}
	for _, item := range input.Items {
		unit := item.Unit
		if unit == "" {
			unit = "unit"
		}
		req.Items = append(req.Items, &repository.RequestItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Unit:      unit,
		})
	}

	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := s.requests.CreateTx(ctx, tx, req); err != nil {
			return err
		}
		return s.requests.AddHistoryTx(ctx, tx, &repository.RequestHistory{
			RequestID: req.ID,
			Action:    "created",
			ToStatus:  req.Status,
			Actor:     act.ID,
			Notes:     input.Notes,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Str("request_number", req.RequestNumber).
		Str("branch", req.RequestingBranch).
		Int("items", len(req.Items)).
		Msg("stock request created")

	s.publisher.PublishRequestCreated(ctx, &messaging.RequestCreatedEvent{
		RequestID:        req.ID,
		RequestNumber:    req.RequestNumber,
		RequestingBranch: req.RequestingBranch,
		Status:           req.Status,
		Priority:         req.Priority,
		ItemCount:        len(req.Items),
		CreatedBy:        req.CreatedBy,
	})

	return req, nil
}

// Advance applies one approval chain decision. The acting role must match
// the request's current stage. Deciding on a terminal request is an
// idempotent no-op; a lost race against a concurrent decision surfaces as
// a retryable conflict.
func (s *RequestService) Advance(ctx context.Context, requestID string, input *DecisionInput) (*AdvanceResult, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	current := RequestStatus(req.Status)
	if IsTerminal(current) {
		return &AdvanceResult{Request: req, Applied: false}, nil
	}

	requiredRole, ok := StageRole(current)
	if !ok {
		return nil, errors.InvalidTransition(req.Status, "advance")
	}

	act := acting(ctx)
	if !act.IsSystem() && act.Role != requiredRole {
		return nil, errors.New("FORBIDDEN",
			fmt.Sprintf("role %s may not decide a request in %s", act.Role, req.Status), 403)
	}

	next, _ := Transition(current, input.Approved)

	var approvedBy *string
	if next == StatusApproved {
		approvedBy = &act.ID
	}

	action := "rejected"
	if input.Approved {
		action = "approved_stage"
		if next == StatusApproved {
			action = "approved"
		}
	}

	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := s.requests.UpdateStatusTx(ctx, tx, req.ID, string(next), req.UpdatedAt, approvedBy); err != nil {
			return err
		}
		if err := s.requests.AddApprovalTx(ctx, tx, &repository.RequestApproval{
			RequestID: req.ID,
			Role:      requiredRole,
			Approved:  input.Approved,
			Actor:     act.ID,
			Notes:     input.Notes,
		}); err != nil {
			return err
		}
		fromStatus := req.Status
		return s.requests.AddHistoryTx(ctx, tx, &repository.RequestHistory{
			RequestID:  req.ID,
			Action:     action,
			FromStatus: &fromStatus,
			ToStatus:   string(next),
			Actor:      act.ID,
			Notes:      input.Notes,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Str("from", req.Status).
		Str("to", string(next)).
		Str("role", requiredRole).
		Msg("stock request advanced")

	s.publisher.PublishRequestUpdated(ctx, &messaging.RequestUpdatedEvent{
		RequestID:      req.ID,
		RequestNumber:  req.RequestNumber,
		PreviousStatus: string(Canonical(current)),
		Status:         string(next),
		ActingRole:     requiredRole,
		Actor:          act.ID,
	})

	updated, err := s.requests.GetByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &AdvanceResult{Request: updated, Applied: true}, nil
}

// Cancel withdraws a request. Only the earliest stage can be cancelled;
// once review has started the chain decides the outcome.
func (s *RequestService) Cancel(ctx context.Context, requestID string, notes *string) (*repository.StockRequest, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	current := RequestStatus(req.Status)
	if current == StatusCancelled {
		return req, nil
	}
	if current != StatusPendingStockReview {
		return nil, errors.InvalidTransition(req.Status, "cancel")
	}

	act := acting(ctx)
	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := s.requests.UpdateStatusTx(ctx, tx, req.ID, string(StatusCancelled), req.UpdatedAt, nil); err != nil {
			return err
		}
		fromStatus := req.Status
		return s.requests.AddHistoryTx(ctx, tx, &repository.RequestHistory{
			RequestID:  req.ID,
			Action:     "cancelled",
			FromStatus: &fromStatus,
			ToStatus:   string(StatusCancelled),
			Actor:      act.ID,
			Notes:      notes,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishRequestUpdated(ctx, &messaging.RequestUpdatedEvent{
		RequestID:      req.ID,
		RequestNumber:  req.RequestNumber,
		PreviousStatus: string(Canonical(current)),
		Status:         string(StatusCancelled),
		ActingRole:     act.Role,
		Actor:          act.ID,
	})

	return s.requests.GetByID(ctx, req.ID)
}

// Get returns a request with its items, approvals and history.
func (s *RequestService) Get(ctx context.Context, requestID string) (*repository.StockRequest, error) {
	return s.requests.GetByID(ctx, requestID)
}

// List returns requests matching the filter.
func (s *RequestService) List(ctx context.Context, filter repository.RequestFilter) ([]*repository.StockRequest, error) {
	if filter.Status != "" && !IsValidStatus(RequestStatus(filter.Status)) {
		return nil, errors.Validation(map[string]string{"status": "unknown status"})
	}
	return s.requests.List(ctx, filter)
}
