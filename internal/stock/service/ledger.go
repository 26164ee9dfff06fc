package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pharmflow/pharmflow-backend/internal/stock/events"
	"github.com/pharmflow/pharmflow-backend/internal/stock/repository"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
	"github.com/pharmflow/pharmflow-backend/pkg/messaging"
)

// Movement reasons written to the audit ring.
const (
	ReasonIntake     = "batch_intake"
	ReasonAdjustment = "manual_adjustment"
	ReasonDispatch   = "transfer_dispatch"
	ReasonReceipt    = "transfer_receipt"
)

// SnapshotEntry is one inventory record enriched with catalog display
// fields from the product cache.
type SnapshotEntry struct {
	*repository.InventoryRecord
	ProductName string `json:"product_name,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

// BatchIntakeInput describes a lot arriving at a location.
type BatchIntakeInput struct {
	Location   string     `json:"location" validate:"required"`
	ProductID  string     `json:"product_id" validate:"required"`
	BatchNo    string     `json:"batch_no" validate:"required"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	Quantity   int        `json:"quantity" validate:"required,gt=0"`
}

// LedgerService owns the inventory ledger operations. Quantity guards live
// in the repository SQL; this layer sequences them, keeps batch rows and
// the aggregate consistent, and emits events after commit.
type LedgerService struct {
	db           *database.DB
	inventory    *repository.InventoryRepository
	batches      *repository.BatchRepository
	productCache *repository.ProductCacheRepository
	publisher    *events.StockEventPublisher
	logger       *logger.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(
	db *database.DB,
	inventory *repository.InventoryRepository,
	batches *repository.BatchRepository,
	productCache *repository.ProductCacheRepository,
	publisher *events.StockEventPublisher,
	log *logger.Logger,
) *LedgerService {
	return &LedgerService{
		db:           db,
		inventory:    inventory,
		batches:      batches,
		productCache: productCache,
		publisher:    publisher,
		logger:       log.WithComponent("ledger-service"),
	}
}

// Adjust applies a manual quantity delta and records the movement. A debit
// that would drop quantity below the reserved amount is rejected whole.
func (s *LedgerService) Adjust(ctx context.Context, location, productID string, delta int, reason string) (*repository.InventoryRecord, error) {
	if location == "" || productID == "" {
		return nil, errors.Validation(map[string]string{
			"location":   "required",
			"product_id": "required",
		})
	}
	if reason == "" {
		reason = ReasonAdjustment
	}

	act := acting(ctx)
	rec, err := s.inventory.Adjust(ctx, location, productID, delta, reason, act.ID)
	if err != nil {
		return nil, err
	}

	s.publisher.PublishWarehouseUpdated(ctx, &messaging.WarehouseUpdatedEvent{
		Location:    location,
		ProductID:   productID,
		Delta:       delta,
		NewQuantity: rec.Quantity,
		Reason:      reason,
		PerformedBy: act.ID,
	})

	return rec, nil
}

// Reserve earmarks stock for a pending transfer.
func (s *LedgerService) Reserve(ctx context.Context, location, productID string, qty int) error {
	return s.inventory.Reserve(ctx, location, productID, qty)
}

// Release returns earmarked stock to the available pool.
func (s *LedgerService) Release(ctx context.Context, location, productID string, qty int) error {
	return s.inventory.Release(ctx, location, productID, qty)
}

// IntakeBatch records a received lot and credits the ledger in one
// transaction, so batch rows and the aggregate can never disagree.
func (s *LedgerService) IntakeBatch(ctx context.Context, input *BatchIntakeInput) (*repository.StockBatch, error) {
	if input.Quantity <= 0 {
		return nil, errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	}

	act := acting(ctx)
	batch := &repository.StockBatch{
		ProductID:         input.ProductID,
		BatchNo:           input.BatchNo,
		ExpiryDate:        input.ExpiryDate,
		Quantity:          input.Quantity,
		RemainingQuantity: input.Quantity,
		Location:          input.Location,
	}

	var rec *repository.InventoryRecord
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := s.batches.CreateTx(ctx, tx, batch); err != nil {
			return err
		}

		var err error
		rec, err = s.inventory.AdjustTx(ctx, tx, input.Location, input.ProductID, input.Quantity, ReasonIntake, act.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("location", input.Location).
		Str("product_id", input.ProductID).
		Str("batch_no", input.BatchNo).
		Int("quantity", input.Quantity).
		Msg("batch received into stock")

	s.publisher.PublishWarehouseUpdated(ctx, &messaging.WarehouseUpdatedEvent{
		Location:    input.Location,
		ProductID:   input.ProductID,
		Delta:       input.Quantity,
		NewQuantity: rec.Quantity,
		Reason:      ReasonIntake,
		PerformedBy: act.ID,
	})

	return batch, nil
}

// GetRecord returns the ledger record for one (location, product) pair.
func (s *LedgerService) GetRecord(ctx context.Context, location, productID string) (*repository.InventoryRecord, error) {
	return s.inventory.Get(ctx, location, productID)
}

// GetSnapshot returns all records at a location with catalog names merged
// in from the product cache.
func (s *LedgerService) GetSnapshot(ctx context.Context, location string) ([]*SnapshotEntry, error) {
	records, err := s.inventory.GetSnapshot(ctx, location)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ProductID)
	}

	products, err := s.productCache.GetMap(ctx, ids)
	if err != nil {
		// The cache is a convenience, not a dependency.
		s.logger.Warn().Err(err).Msg("product cache lookup failed, returning bare snapshot")
		products = map[string]*repository.ProductCache{}
	}

	entries := make([]*SnapshotEntry, 0, len(records))
	for _, rec := range records {
		entry := &SnapshotEntry{InventoryRecord: rec}
		if p, ok := products[rec.ProductID]; ok {
			entry.ProductName = p.Name
			entry.Unit = p.Unit
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// ListBatches returns the available batches at a location in FEFO order.
func (s *LedgerService) ListBatches(ctx context.Context, location string) ([]*repository.StockBatch, error) {
	return s.batches.ListByLocation(ctx, location)
}

// PreviewAllocation plans a FEFO allocation without touching stock. The
// plan is advisory; dispatch re-plans under row locks.
func (s *LedgerService) PreviewAllocation(ctx context.Context, location, productID string, required int) (*AllocationPlan, error) {
	if required <= 0 {
		return nil, errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	}

	batches, err := s.batches.ListAvailable(ctx, location, productID)
	if err != nil {
		return nil, err
	}
	return PlanFEFO(batches, required), nil
}

// ListMovements returns the audit ring for a record, most recent first.
func (s *LedgerService) ListMovements(ctx context.Context, location, productID string) ([]*repository.InventoryMovement, error) {
	return s.inventory.ListMovements(ctx, location, productID)
}

// SetReorderLevel updates the low stock threshold for a record.
func (s *LedgerService) SetReorderLevel(ctx context.Context, location, productID string, level int) error {
	return s.inventory.SetReorderLevel(ctx, location, productID, level)
}

// GetExpiring returns batches with remaining stock expiring within days.
func (s *LedgerService) GetExpiring(ctx context.Context, days int) ([]*repository.StockBatch, error) {
	if days <= 0 {
		return nil, errors.Validation(map[string]string{"days": "must be greater than zero"})
	}
	return s.batches.GetExpiringWithin(ctx, days)
}

// ListLowStock returns records at or below their reorder level.
func (s *LedgerService) ListLowStock(ctx context.Context) ([]*repository.InventoryRecord, error) {
	return s.inventory.ListLowStock(ctx)
}

// RemoveBatch deletes a batch row by operator action.
func (s *LedgerService) RemoveBatch(ctx context.Context, id string, force bool) error {
	return s.batches.Remove(ctx, id, force)
}
