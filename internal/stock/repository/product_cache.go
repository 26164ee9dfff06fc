package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
)

// ProductCache is a read model of the catalog service's products, kept
// fresh by the catalog event consumer. Stock operations only need the
// display fields, so a stale row degrades labels, never quantities.
type ProductCache struct {
	ProductID string    `db:"product_id" json:"product_id"`
	Name      string    `db:"name" json:"name"`
	Unit      string    `db:"unit" json:"unit"`
	Category  string    `db:"category" json:"category"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ProductCacheRepository handles the local product read model
type ProductCacheRepository struct {
	db *database.DB
}

// NewProductCacheRepository creates a new product cache repository
func NewProductCacheRepository(db *database.DB) *ProductCacheRepository {
	return &ProductCacheRepository{db: db}
}

// Upsert inserts or refreshes a cached product.
func (r *ProductCacheRepository) Upsert(ctx context.Context, p *ProductCache) error {
	query := `
		INSERT INTO product_cache (product_id, name, unit, category, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (product_id) DO UPDATE
		SET name = EXCLUDED.name, unit = EXCLUDED.unit, category = EXCLUDED.category, updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, p.ProductID, p.Name, p.Unit, p.Category)
	return err
}

// Delete removes a cached product after a catalog delete event.
func (r *ProductCacheRepository) Delete(ctx context.Context, productID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM product_cache WHERE product_id = $1`, productID)
	return err
}

// Get returns one cached product.
func (r *ProductCacheRepository) Get(ctx context.Context, productID string) (*ProductCache, error) {
	var p ProductCache
	if err := r.db.GetContext(ctx, &p, `SELECT * FROM product_cache WHERE product_id = $1`, productID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("product")
		}
		return nil, err
	}
	return &p, nil
}

// GetMap returns cached products for the given IDs keyed by product ID.
// Missing IDs are simply absent; callers fall back to the raw ID.
func (r *ProductCacheRepository) GetMap(ctx context.Context, productIDs []string) (map[string]*ProductCache, error) {
	result := make(map[string]*ProductCache, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM product_cache WHERE product_id IN (?)`, productIDs)
	if err != nil {
		return nil, err
	}

	var products []*ProductCache
	if err := r.db.SelectContext(ctx, &products, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	for _, p := range products {
		result[p.ProductID] = p
	}
	return result, nil
}
