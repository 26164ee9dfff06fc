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

// InventoryRecord is the per-(location, product) aggregate the ledger
// maintains. Quantities are a cached projection of the batch rows; batches
// remain the source of truth whenever expiry ordering matters.
type InventoryRecord struct {
	Location          string    `db:"location" json:"location"`
	ProductID         string    `db:"product_id" json:"product_id"`
	Quantity          int       `db:"quantity" json:"quantity"`
	ReservedQuantity  int       `db:"reserved_quantity" json:"reserved_quantity"`
	AvailableQuantity int       `db:"available_quantity" json:"available_quantity"`
	ReorderLevel      int       `db:"reorder_level" json:"reorder_level"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// InventoryMovement is one entry of the bounded per-product audit ring.
type InventoryMovement struct {
	ID            string    `db:"id" json:"id"`
	Location      string    `db:"location" json:"location"`
	ProductID     string    `db:"product_id" json:"product_id"`
	Delta         int       `db:"delta" json:"delta"`
	QuantityAfter int       `db:"quantity_after" json:"quantity_after"`
	Reason        string    `db:"reason" json:"reason"`
	PerformedBy   string    `db:"performed_by" json:"performed_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// InventoryRepository owns the inventory ledger. All quantity guards live in
// the SQL itself, so concurrent callers serialize on the row and an
// operation either applies fully or not at all.
type InventoryRepository struct {
	db          *database.DB
	movementCap int
}

// NewInventoryRepository creates a new inventory repository. movementCap
// bounds the audit ring kept per (location, product).
func NewInventoryRepository(db *database.DB, movementCap int) *InventoryRepository {
	if movementCap <= 0 {
		movementCap = 100
	}
	return &InventoryRepository{db: db, movementCap: movementCap}
}

// Adjust applies delta to the aggregate quantity and records a movement.
func (r *InventoryRepository) Adjust(ctx context.Context, location, productID string, delta int, reason, performedBy string) (*InventoryRecord, error) {
	return r.adjust(ctx, r.db, location, productID, delta, reason, performedBy)
}

// AdjustTx is Adjust inside a caller-owned transaction. Used by dispatch and
// receipt so batch decrements and the aggregate stay consistent.
func (r *InventoryRepository) AdjustTx(ctx context.Context, tx *sqlx.Tx, location, productID string, delta int, reason, performedBy string) (*InventoryRecord, error) {
	return r.adjust(ctx, tx, location, productID, delta, reason, performedBy)
}

func (r *InventoryRepository) adjust(ctx context.Context, ext sqlx.ExtContext, location, productID string, delta int, reason, performedBy string) (*InventoryRecord, error) {
	if delta == 0 {
		return nil, errors.Validation(map[string]string{"delta": "must not be zero"})
	}

	var rec InventoryRecord

	if delta > 0 {
		// Credit: create the record on first receipt at a location.
		query := `
			INSERT INTO inventory_records (location, product_id, quantity, reserved_quantity, reorder_level)
			VALUES ($1, $2, $3, 0, 0)
			ON CONFLICT (location, product_id) DO UPDATE
			SET quantity = inventory_records.quantity + EXCLUDED.quantity, updated_at = NOW()
			RETURNING location, product_id, quantity, reserved_quantity, quantity - reserved_quantity AS available_quantity, reorder_level, updated_at
		`
		if err := sqlx.GetContext(ctx, ext, &rec, query, location, productID, delta); err != nil {
			if mapped := database.MapPQError(err); mapped != nil {
				return nil, mapped
			}
			return nil, err
		}
	} else {
		// Debit: the guard keeps quantity above reserved, which also keeps it
		// non-negative. Zero rows means the debit would lose stock.
		query := `
			UPDATE inventory_records
			SET quantity = quantity + $3, updated_at = NOW()
			WHERE location = $1 AND product_id = $2 AND quantity + $3 >= reserved_quantity
			RETURNING location, product_id, quantity, reserved_quantity, quantity - reserved_quantity AS available_quantity, reorder_level, updated_at
		`
		if err := sqlx.GetContext(ctx, ext, &rec, query, location, productID, delta); err != nil {
			if err == sql.ErrNoRows {
				return nil, errors.InsufficientStock(location, productID)
			}
			if mapped := database.MapPQError(err); mapped != nil {
				return nil, mapped
			}
			return nil, err
		}
	}

	if err := r.appendMovement(ctx, ext, location, productID, delta, rec.Quantity, reason, performedBy); err != nil {
		return nil, err
	}

	return &rec, nil
}

// appendMovement records one audit entry and trims the ring to the cap.
func (r *InventoryRepository) appendMovement(ctx context.Context, ext sqlx.ExtContext, location, productID string, delta, quantityAfter int, reason, performedBy string) error {
	insert := `
		INSERT INTO inventory_movements (id, location, product_id, delta, quantity_after, reason, performed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := ext.ExecContext(ctx, insert, uuid.New().String(), location, productID, delta, quantityAfter, reason, performedBy); err != nil {
		return err
	}

	trim := `
		DELETE FROM inventory_movements
		WHERE location = $1 AND product_id = $2 AND id NOT IN (
			SELECT id FROM inventory_movements
			WHERE location = $1 AND product_id = $2
			ORDER BY created_at DESC
			LIMIT $3
		)
	`
	if _, err := ext.ExecContext(ctx, trim, location, productID, r.movementCap); err != nil {
		return err
	}

	return nil
}

// Reserve earmarks qty without changing the total quantity.
func (r *InventoryRepository) Reserve(ctx context.Context, location, productID string, qty int) error {
	return r.reserve(ctx, r.db, location, productID, qty)
}

// ReserveTx is Reserve inside a caller-owned transaction.
func (r *InventoryRepository) ReserveTx(ctx context.Context, tx *sqlx.Tx, location, productID string, qty int) error {
	return r.reserve(ctx, tx, location, productID, qty)
}

func (r *InventoryRepository) reserve(ctx context.Context, ext sqlx.ExtContext, location, productID string, qty int) error {
	if qty <= 0 {
		return errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	}

	query := `
		UPDATE inventory_records
		SET reserved_quantity = reserved_quantity + $3, updated_at = NOW()
		WHERE location = $1 AND product_id = $2 AND quantity - reserved_quantity >= $3
	`
	result, err := ext.ExecContext(ctx, query, location, productID, qty)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.InsufficientAvailable(location, productID)
	}

	return nil
}

// Release returns earmarked stock to the available pool. Releasing more
// than is reserved is rejected rather than clamped; clamping would hide a
// bookkeeping error.
func (r *InventoryRepository) Release(ctx context.Context, location, productID string, qty int) error {
	return r.release(ctx, r.db, location, productID, qty)
}

// ReleaseTx is Release inside a caller-owned transaction.
func (r *InventoryRepository) ReleaseTx(ctx context.Context, tx *sqlx.Tx, location, productID string, qty int) error {
	return r.release(ctx, tx, location, productID, qty)
}

func (r *InventoryRepository) release(ctx context.Context, ext sqlx.ExtContext, location, productID string, qty int) error {
	if qty <= 0 {
		return errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	}

	query := `
		UPDATE inventory_records
		SET reserved_quantity = reserved_quantity - $3, updated_at = NOW()
		WHERE location = $1 AND product_id = $2 AND reserved_quantity >= $3
	`
	result, err := ext.ExecContext(ctx, query, location, productID, qty)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Validation(map[string]string{
			"quantity": "release exceeds reserved quantity",
		})
	}

	return nil
}

// Get returns the record for one (location, product) pair.
func (r *InventoryRepository) Get(ctx context.Context, location, productID string) (*InventoryRecord, error) {
	var rec InventoryRecord
	query := `
		SELECT location, product_id, quantity, reserved_quantity, quantity - reserved_quantity AS available_quantity, reorder_level, updated_at
		FROM inventory_records
		WHERE location = $1 AND product_id = $2
	`
	if err := r.db.GetContext(ctx, &rec, query, location, productID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("inventory record")
		}
		return nil, err
	}
	return &rec, nil
}

// GetSnapshot returns all records at a location.
func (r *InventoryRepository) GetSnapshot(ctx context.Context, location string) ([]*InventoryRecord, error) {
	var records []*InventoryRecord
	query := `
		SELECT location, product_id, quantity, reserved_quantity, quantity - reserved_quantity AS available_quantity, reorder_level, updated_at
		FROM inventory_records
		WHERE location = $1
		ORDER BY product_id
	`
	if err := r.db.SelectContext(ctx, &records, query, location); err != nil {
		return nil, err
	}
	return records, nil
}

// ListLowStock returns records at or below their reorder level.
func (r *InventoryRepository) ListLowStock(ctx context.Context) ([]*InventoryRecord, error) {
	var records []*InventoryRecord
	query := `
		SELECT location, product_id, quantity, reserved_quantity, quantity - reserved_quantity AS available_quantity, reorder_level, updated_at
		FROM inventory_records
		WHERE quantity - reserved_quantity <= reorder_level
		ORDER BY location, product_id
	`
	if err := r.db.SelectContext(ctx, &records, query); err != nil {
		return nil, err
	}
	return records, nil
}

// SetReorderLevel updates the reorder threshold for a record.
func (r *InventoryRepository) SetReorderLevel(ctx context.Context, location, productID string, level int) error {
	if level < 0 {
		return errors.Validation(map[string]string{"reorder_level": "must not be negative"})
	}

	query := `
		UPDATE inventory_records
		SET reorder_level = $3, updated_at = NOW()
		WHERE location = $1 AND product_id = $2
	`
	result, err := r.db.ExecContext(ctx, query, location, productID, level)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("inventory record")
	}

	return nil
}

// ListMovements returns the audit ring for a record, most recent first.
func (r *InventoryRepository) ListMovements(ctx context.Context, location, productID string) ([]*InventoryMovement, error) {
	var movements []*InventoryMovement
	query := `
		SELECT id, location, product_id, delta, quantity_after, reason, performed_by, created_at
		FROM inventory_movements
		WHERE location = $1 AND product_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	if err := r.db.SelectContext(ctx, &movements, query, location, productID, r.movementCap); err != nil {
		return nil, err
	}
	return movements, nil
}
