package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pharmflow/pharmflow-backend/internal/stock/events"
	"github.com/pharmflow/pharmflow-backend/internal/stock/repository"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
	"github.com/pharmflow/pharmflow-backend/pkg/messaging"
)

// Transfer statuses.
const (
	TransferStatusPending    = "pending"
	TransferStatusDispatched = "dispatched"
	TransferStatusDelivered  = "delivered"
	TransferStatusReceived   = "received"
	TransferStatusCancelled  = "cancelled"
)

// CreateTransferInput materializes a transfer, usually from an approved
// request. Items may be omitted when RequestID is set; the request's lines
// are used as-is.
type CreateTransferInput struct {
	RequestID     *string              `json:"request_id,omitempty"`
	FromWarehouse string               `json:"from_warehouse" validate:"required"`
	ToBranch      string               `json:"to_branch" validate:"required"`
	Notes         *string              `json:"notes,omitempty"`
	Items         []CreateTransferItem `json:"items,omitempty"`
}

// CreateTransferItem is one product line on a new transfer.
type CreateTransferItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Unit      string `json:"unit"`
}

// DispatchResult reports the outcome of a dispatch call. Applied is false
// when the transfer had already been dispatched and the existing note is
// returned unchanged.
type DispatchResult struct {
	Transfer *repository.StockTransfer `json:"transfer"`
	Note     *repository.DispatchNote  `json:"dispatch_note"`
	Applied  bool                      `json:"applied"`
}

// ReceiveResult reports the outcome of a receive call.
type ReceiveResult struct {
	Transfer *repository.StockTransfer `json:"transfer"`
	Applied  bool                      `json:"applied"`
}

// TransferService runs the dispatch protocol. Creating a transfer reserves
// source stock; dispatch converts reservations into batch-level debits and
// issues the barcoded note, all inside one transaction; receipt credits the
// destination from the note's batch lines.
type TransferService struct {
	db        *database.DB
	transfers *repository.TransferRepository
	requests  *repository.RequestRepository
	inventory *repository.InventoryRepository
	batches   *repository.BatchRepository
	publisher *events.StockEventPublisher
	logger    *logger.Logger
}

// NewTransferService creates a new transfer service
func NewTransferService(
	db *database.DB,
	transfers *repository.TransferRepository,
	requests *repository.RequestRepository,
	inventory *repository.InventoryRepository,
	batches *repository.BatchRepository,
	publisher *events.StockEventPublisher,
	log *logger.Logger,
) *TransferService {
	return &TransferService{
		db:        db,
		transfers: transfers,
		requests:  requests,
		inventory: inventory,
		batches:   batches,
		publisher: publisher,
		logger:    log.WithComponent("transfer-service"),
	}
}

// Create materializes a transfer and reserves every line at the source
// warehouse in the same transaction. Any line that cannot be reserved
// rejects the whole transfer, leaving no reservations behind.
func (s *TransferService) Create(ctx context.Context, input *CreateTransferInput) (*repository.StockTransfer, error) {
	items := make([]*repository.TransferItem, 0, len(input.Items))

	if input.RequestID != nil {
		req, err := s.requests.GetByID(ctx, *input.RequestID)
		if err != nil {
			return nil, err
		}
		if RequestStatus(req.Status) != StatusApproved {
			return nil, errors.InvalidTransition(req.Status, "create transfer")
		}
		if len(input.Items) == 0 {
			for _, line := range req.Items {
				items = append(items, &repository.TransferItem{
					ProductID: line.ProductID,
					Quantity:  line.Quantity,
					Unit:      line.Unit,
				})
			}
		}
	}

	for _, line := range input.Items {
		if line.ProductID == "" || line.Quantity <= 0 {
			return nil, errors.Validation(map[string]string{
				"items": "each item needs a product_id and a positive quantity",
			})
		}
		unit := line.Unit
		if unit == "" {
			unit = "unit"
		}
		items = append(items, &repository.TransferItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Unit:      unit,
		})
	}

	if len(items) == 0 {
		return nil, errors.Validation(map[string]string{"items": "at least one item is required"})
	}

	act := acting(ctx)
	transfer := &repository.StockTransfer{
		RequestID:     input.RequestID,
		FromWarehouse: input.FromWarehouse,
		ToBranch:      input.ToBranch,
		Status:        TransferStatusPending,
		Notes:         input.Notes,
		CreatedBy:     act.ID,
		Items:         items,
	}

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := s.transfers.CreateTx(ctx, tx, transfer); err != nil {
			return err
		}
		for _, item := range transfer.Items {
			if err := s.inventory.ReserveTx(ctx, tx, input.FromWarehouse, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		return s.transfers.AddHistoryTx(ctx, tx, &repository.TransferHistory{
			TransferID: transfer.ID,
			Action:     "created",
			ToStatus:   TransferStatusPending,
			Actor:      act.ID,
			Notes:      input.Notes,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("transfer_id", transfer.ID).
		Str("from", transfer.FromWarehouse).
		Str("to", transfer.ToBranch).
		Int("items", len(transfer.Items)).
		Msg("stock transfer created")

	requestID := ""
	if transfer.RequestID != nil {
		requestID = *transfer.RequestID
	}
	s.publisher.PublishTransferCreated(ctx, &messaging.TransferCreatedEvent{
		TransferID:    transfer.ID,
		RequestID:     requestID,
		FromWarehouse: transfer.FromWarehouse,
		ToBranch:      transfer.ToBranch,
		Status:        transfer.Status,
		ItemCount:     len(transfer.Items),
		CreatedBy:     transfer.CreatedBy,
	})

	return transfer, nil
}

// Dispatch allocates every line FEFO under row locks, debits the source,
// and issues the barcoded dispatch note. The operation is all-or-nothing:
// any shortfall rolls the whole transaction back with nothing dispatched.
// Dispatching an already dispatched transfer returns the existing note.
func (s *TransferService) Dispatch(ctx context.Context, transferID string) (*DispatchResult, error) {
	var (
		note     *repository.DispatchNote
		transfer *repository.StockTransfer
	)

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		transfer, err = s.transfers.GetByIDTx(ctx, tx, transferID)
		if err != nil {
			return err
		}

		switch transfer.Status {
		case TransferStatusDispatched, TransferStatusDelivered, TransferStatusReceived:
			// Already dispatched; hand back the note issued then.
			note, err = s.transfers.GetNoteByTransferTx(ctx, tx, transferID)
			return err
		case TransferStatusPending:
		default:
			return errors.InvalidTransition(transfer.Status, "dispatch")
		}

		act := acting(ctx)
		note = &repository.DispatchNote{
			TransferID:   transfer.ID,
			Barcode:      GenerateBarcode(shortRef(transfer.ID)),
			DispatchedBy: act.ID,
		}

		for _, item := range transfer.Items {
			available, err := s.batches.ListAvailableForUpdate(ctx, tx, transfer.FromWarehouse, item.ProductID)
			if err != nil {
				return err
			}

			plan := PlanFEFO(available, item.Quantity)
			if !plan.Complete() {
				return errors.InsufficientStock(transfer.FromWarehouse, item.ProductID)
			}

			byID := make(map[string]*repository.StockBatch, len(available))
			for _, b := range available {
				byID[b.ID] = b
			}

			for _, alloc := range plan.Allocations {
				if err := s.batches.DecrementTx(ctx, tx, alloc.BatchID, alloc.Take); err != nil {
					return err
				}
				src := byID[alloc.BatchID]
				note.Items = append(note.Items, &repository.DispatchNoteItem{
					ProductID:  item.ProductID,
					BatchID:    alloc.BatchID,
					BatchNo:    alloc.BatchNo,
					ExpiryDate: src.ExpiryDate,
					Quantity:   alloc.Take,
				})
			}

			// The reservation made at creation backs this debit; release
			// it first so the ledger guard sees the stock as spendable.
			if err := s.inventory.ReleaseTx(ctx, tx, transfer.FromWarehouse, item.ProductID, item.Quantity); err != nil {
				return err
			}
			if _, err := s.inventory.AdjustTx(ctx, tx, transfer.FromWarehouse, item.ProductID, -item.Quantity, ReasonDispatch, act.ID); err != nil {
				return err
			}
		}

		if err := s.transfers.CreateNoteTx(ctx, tx, note); err != nil {
			return err
		}
		if err := s.transfers.UpdateStatusTx(ctx, tx, transfer.ID, TransferStatusDispatched, transfer.UpdatedAt); err != nil {
			return err
		}

		fromStatus := transfer.Status
		return s.transfers.AddHistoryTx(ctx, tx, &repository.TransferHistory{
			TransferID: transfer.ID,
			Action:     "dispatched",
			FromStatus: &fromStatus,
			ToStatus:   TransferStatusDispatched,
			Actor:      act.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	if transfer.Status != TransferStatusPending {
		return &DispatchResult{Transfer: transfer, Note: note, Applied: false}, nil
	}

	s.logger.Info().
		Str("transfer_id", transfer.ID).
		Str("barcode", note.Barcode).
		Msg("transfer dispatched")

	s.publisher.PublishTransferUpdated(ctx, &messaging.TransferUpdatedEvent{
		TransferID:     transfer.ID,
		PreviousStatus: TransferStatusPending,
		Status:         TransferStatusDispatched,
		Barcode:        note.Barcode,
		Actor:          acting(ctx).ID,
	})

	updated, err := s.transfers.GetByID(ctx, transfer.ID)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{Transfer: updated, Note: note, Applied: true}, nil
}

// Deliver marks a dispatched transfer as arrived at the destination. The
// status is advisory; stock only moves on receipt. Marking a delivered
// transfer again is a no-op.
func (s *TransferService) Deliver(ctx context.Context, transferID string) (*repository.StockTransfer, error) {
	transfer, err := s.transfers.GetByID(ctx, transferID)
	if err != nil {
		return nil, err
	}

	switch transfer.Status {
	case TransferStatusDelivered, TransferStatusReceived:
		return transfer, nil
	case TransferStatusDispatched:
	default:
		return nil, errors.InvalidTransition(transfer.Status, "deliver")
	}

	act := acting(ctx)
	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := s.transfers.UpdateStatusTx(ctx, tx, transfer.ID, TransferStatusDelivered, transfer.UpdatedAt); err != nil {
			return err
		}
		fromStatus := transfer.Status
		return s.transfers.AddHistoryTx(ctx, tx, &repository.TransferHistory{
			TransferID: transfer.ID,
			Action:     "delivered",
			FromStatus: &fromStatus,
			ToStatus:   TransferStatusDelivered,
			Actor:      act.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishTransferUpdated(ctx, &messaging.TransferUpdatedEvent{
		TransferID:     transfer.ID,
		PreviousStatus: transfer.Status,
		Status:         TransferStatusDelivered,
		Actor:          act.ID,
	})

	return s.transfers.GetByID(ctx, transfer.ID)
}

// Receive credits the destination from the note's batch lines, mirroring
// batch numbers and expiries for downstream FEFO. Receiving an already
// received transfer is an idempotent no-op; stock is never credited twice.
func (s *TransferService) Receive(ctx context.Context, transferID string) (*ReceiveResult, error) {
	var (
		transfer *repository.StockTransfer
		applied  bool
	)

	act := acting(ctx)
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		transfer, err = s.transfers.GetByIDTx(ctx, tx, transferID)
		if err != nil {
			return err
		}

		switch transfer.Status {
		case TransferStatusReceived:
			return nil
		case TransferStatusDispatched, TransferStatusDelivered:
		default:
			return errors.InvalidTransition(transfer.Status, "receive")
		}

		note, err := s.transfers.GetNoteByTransferTx(ctx, tx, transferID)
		if err != nil {
			return err
		}

		marked, err := s.transfers.MarkNoteReceivedTx(ctx, tx, note.ID, act.ID)
		if err != nil {
			return err
		}
		if !marked {
			// The note was received by a racing call whose status update
			// has not landed yet; do not credit again.
			return errors.ConcurrencyConflict("dispatch note")
		}

		perProduct := map[string]int{}
		for _, line := range note.Items {
			if err := s.batches.ReceiveTx(ctx, tx, &repository.StockBatch{
				ProductID:         line.ProductID,
				BatchNo:           line.BatchNo,
				ExpiryDate:        line.ExpiryDate,
				Quantity:          line.Quantity,
				RemainingQuantity: line.Quantity,
				Location:          transfer.ToBranch,
			}); err != nil {
				return err
			}
			perProduct[line.ProductID] += line.Quantity
		}

		for productID, qty := range perProduct {
			if _, err := s.inventory.AdjustTx(ctx, tx, transfer.ToBranch, productID, qty, ReasonReceipt, act.ID); err != nil {
				return err
			}
		}

		if err := s.transfers.UpdateStatusTx(ctx, tx, transfer.ID, TransferStatusReceived, transfer.UpdatedAt); err != nil {
			return err
		}

		fromStatus := transfer.Status
		if err := s.transfers.AddHistoryTx(ctx, tx, &repository.TransferHistory{
			TransferID: transfer.ID,
			Action:     "received",
			FromStatus: &fromStatus,
			ToStatus:   TransferStatusReceived,
			Actor:      act.ID,
		}); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		return &ReceiveResult{Transfer: transfer, Applied: false}, nil
	}

	s.logger.Info().
		Str("transfer_id", transfer.ID).
		Str("to", transfer.ToBranch).
		Msg("transfer received")

	s.publisher.PublishTransferUpdated(ctx, &messaging.TransferUpdatedEvent{
		TransferID:     transfer.ID,
		PreviousStatus: transfer.Status,
		Status:         TransferStatusReceived,
		Actor:          act.ID,
	})

	updated, err := s.transfers.GetByID(ctx, transfer.ID)
	if err != nil {
		return nil, err
	}
	return &ReceiveResult{Transfer: updated, Applied: true}, nil
}

// Cancel withdraws a pending transfer and releases its reservations.
// Dispatched stock is on a truck; it can only complete the protocol.
func (s *TransferService) Cancel(ctx context.Context, transferID string, notes *string) (*repository.StockTransfer, error) {
	transfer, err := s.transfers.GetByID(ctx, transferID)
	if err != nil {
		return nil, err
	}

	if transfer.Status == TransferStatusCancelled {
		return transfer, nil
	}
	if transfer.Status != TransferStatusPending {
		return nil, errors.InvalidTransition(transfer.Status, "cancel")
	}

	act := acting(ctx)
	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := s.transfers.UpdateStatusTx(ctx, tx, transfer.ID, TransferStatusCancelled, transfer.UpdatedAt); err != nil {
			return err
		}
		for _, item := range transfer.Items {
			if err := s.inventory.ReleaseTx(ctx, tx, transfer.FromWarehouse, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		fromStatus := transfer.Status
		return s.transfers.AddHistoryTx(ctx, tx, &repository.TransferHistory{
			TransferID: transfer.ID,
			Action:     "cancelled",
			FromStatus: &fromStatus,
			ToStatus:   TransferStatusCancelled,
			Actor:      act.ID,
			Notes:      notes,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishTransferUpdated(ctx, &messaging.TransferUpdatedEvent{
		TransferID:     transfer.ID,
		PreviousStatus: transfer.Status,
		Status:         TransferStatusCancelled,
		Actor:          act.ID,
	})

	return s.transfers.GetByID(ctx, transfer.ID)
}

// Get returns a transfer with its items and history.
func (s *TransferService) Get(ctx context.Context, transferID string) (*repository.StockTransfer, error) {
	return s.transfers.GetByID(ctx, transferID)
}

// List returns transfers matching the filter.
func (s *TransferService) List(ctx context.Context, filter repository.TransferFilter) ([]*repository.StockTransfer, error) {
	return s.transfers.List(ctx, filter)
}

// GetNote returns the dispatch note for a transfer.
func (s *TransferService) GetNote(ctx context.Context, transferID string) (*repository.DispatchNote, error) {
	return s.transfers.GetNoteByTransfer(ctx, transferID)
}

// ResolveBarcode looks up a dispatch note by a scanned barcode.
func (s *TransferService) ResolveBarcode(ctx context.Context, scanned string) (*repository.DispatchNote, error) {
	code := NormalizeBarcode(scanned)
	if code == "" {
		return nil, errors.Validation(map[string]string{"barcode": "required"})
	}
	return s.transfers.GetNoteByBarcode(ctx, code)
}

// shortRef shortens a transfer ID to a printable note reference.
func shortRef(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
