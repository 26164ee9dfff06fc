package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
)

// Batch statuses
const (
	BatchStatusAvailable = "available"
	BatchStatusExhausted = "exhausted"
)

// StockBatch represents a received lot of one product at one location.
// Expiry is tracked at month granularity; a NULL expiry means unknown and
// sorts after every dated batch in FEFO order.
type StockBatch struct {
	ID                string     `db:"id" json:"id"`
	ProductID         string     `db:"product_id" json:"product_id"`
	BatchNo           string     `db:"batch_no" json:"batch_no"`
	ExpiryDate        *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	Quantity          int        `db:"quantity" json:"quantity"`
	RemainingQuantity int        `db:"remaining_quantity" json:"remaining_quantity"`
	Location          string     `db:"location" json:"location"`
	Status            string     `db:"status" json:"status"`
	ReceivedAt        time.Time  `db:"received_at" json:"received_at"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// BatchRepository handles batch persistence
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create creates a new batch
func (r *BatchRepository) Create(ctx context.Context, batch *StockBatch) error {
	return r.create(ctx, r.db, batch)
}

// CreateTx creates a new batch inside a caller-owned transaction.
func (r *BatchRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, batch *StockBatch) error {
	return r.create(ctx, tx, batch)
}

func (r *BatchRepository) create(ctx context.Context, ext sqlx.ExtContext, batch *StockBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.Status == "" {
		batch.Status = BatchStatusAvailable
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO stock_batches (
			id, product_id, batch_no, expiry_date, quantity, remaining_quantity,
			location, status, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := ext.QueryRowxContext(ctx, query,
		batch.ID, batch.ProductID, batch.BatchNo, batch.ExpiryDate, batch.Quantity,
		batch.RemainingQuantity, batch.Location, batch.Status, batch.ReceivedAt,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}
	return nil
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*StockBatch, error) {
	var batch StockBatch
	query := `SELECT * FROM stock_batches WHERE id = $1`
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// ListAvailable lists batches with remaining stock for a product at a
// location in FEFO order: soonest expiry first, unknown expiry last,
// oldest receipt breaking ties.
func (r *BatchRepository) ListAvailable(ctx context.Context, location, productID string) ([]*StockBatch, error) {
	var batches []*StockBatch
	query := `
		SELECT * FROM stock_batches
		WHERE location = $1 AND product_id = $2 AND status = 'available' AND remaining_quantity > 0
		ORDER BY expiry_date ASC NULLS LAST, received_at ASC
	`
	if err := r.db.SelectContext(ctx, &batches, query, location, productID); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListAvailableForUpdate is ListAvailable with row locks, for use inside the
// dispatch transaction so two dispatchers cannot plan against the same stock.
func (r *BatchRepository) ListAvailableForUpdate(ctx context.Context, tx *sqlx.Tx, location, productID string) ([]*StockBatch, error) {
	var batches []*StockBatch
	query := `
		SELECT * FROM stock_batches
		WHERE location = $1 AND product_id = $2 AND status = 'available' AND remaining_quantity > 0
		ORDER BY expiry_date ASC NULLS LAST, received_at ASC
		FOR UPDATE
	`
	if err := sqlx.SelectContext(ctx, tx, &batches, query, location, productID); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListByLocation lists all non-exhausted batches at a location.
func (r *BatchRepository) ListByLocation(ctx context.Context, location string) ([]*StockBatch, error) {
	var batches []*StockBatch
	query := `
		SELECT * FROM stock_batches
		WHERE location = $1 AND status = 'available'
		ORDER BY product_id, expiry_date ASC NULLS LAST
	`
	if err := r.db.SelectContext(ctx, &batches, query, location); err != nil {
		return nil, err
	}
	return batches, nil
}

// DecrementTx takes stock out of a batch. The guard requires the batch to
// still hold at least take units; zero rows means another operation won the
// row and the caller's plan is stale.
func (r *BatchRepository) DecrementTx(ctx context.Context, tx *sqlx.Tx, batchID string, take int) error {
	if take <= 0 {
		return errors.Validation(map[string]string{"take": "must be greater than zero"})
	}

	query := `
		UPDATE stock_batches
		SET remaining_quantity = remaining_quantity - $2,
		    status = CASE WHEN remaining_quantity - $2 = 0 THEN 'exhausted' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'available' AND remaining_quantity >= $2
	`
	result, err := tx.ExecContext(ctx, query, batchID, take)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.ConcurrencyConflict("batch")
	}

	return nil
}

// ReceiveTx credits a lot at the destination, mirroring the dispatched batch
// number and expiry for traceability. Receiving the same lot again at the
// same location tops up the existing row.
func (r *BatchRepository) ReceiveTx(ctx context.Context, tx *sqlx.Tx, batch *StockBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO stock_batches (
			id, product_id, batch_no, expiry_date, quantity, remaining_quantity,
			location, status, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'available', $8)
		ON CONFLICT (location, product_id, batch_no) DO UPDATE
		SET quantity = stock_batches.quantity + EXCLUDED.quantity,
		    remaining_quantity = stock_batches.remaining_quantity + EXCLUDED.remaining_quantity,
		    status = 'available',
		    updated_at = NOW()
	`
	_, err := tx.ExecContext(ctx, query,
		batch.ID, batch.ProductID, batch.BatchNo, batch.ExpiryDate, batch.Quantity,
		batch.RemainingQuantity, batch.Location, batch.ReceivedAt,
	)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}
	return nil
}

// Remove deletes a batch by operator action. Batches with remaining stock
// are only removable when force is set.
func (r *BatchRepository) Remove(ctx context.Context, id string, force bool) error {
	query := `DELETE FROM stock_batches WHERE id = $1 AND (remaining_quantity = 0 OR $2)`
	result, err := r.db.ExecContext(ctx, query, id, force)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Conflict("batch still holds stock; pass force to remove it")
	}

	return nil
}

// GetExpiringWithin gets batches with remaining stock expiring within days.
func (r *BatchRepository) GetExpiringWithin(ctx context.Context, days int) ([]*StockBatch, error) {
	var batches []*StockBatch
	query := `
		SELECT * FROM stock_batches
		WHERE status = 'available' AND remaining_quantity > 0
		AND expiry_date IS NOT NULL
		AND expiry_date <= NOW() + INTERVAL '1 day' * $1
		ORDER BY expiry_date
	`
	if err := r.db.SelectContext(ctx, &batches, query, days); err != nil {
		return nil, err
	}
	return batches, nil
}
