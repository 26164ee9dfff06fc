package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
)

// StockRequest is a branch's replenishment request moving through the
// approval chain. Stock quantities on a request are never authoritative;
// every delta flows through the inventory ledger.
type StockRequest struct {
	ID               string     `db:"id" json:"id"`
	RequestNumber    string     `db:"request_number" json:"request_number"`
	RequestingBranch string     `db:"requesting_branch" json:"requesting_branch"`
	Status           string     `db:"status" json:"status"`
	Priority         string     `db:"priority" json:"priority"`
	Notes            *string    `db:"notes" json:"notes,omitempty"`
	CreatedBy        string     `db:"created_by" json:"created_by"`
	ApprovedBy       *string    `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`

	Items     []*RequestItem     `db:"-" json:"items,omitempty"`
	Approvals []*RequestApproval `db:"-" json:"approvals,omitempty"`
	History   []*RequestHistory  `db:"-" json:"history,omitempty"`
}

// RequestItem is one product line on a stock request.
type RequestItem struct {
	ID        string `db:"id" json:"id"`
	RequestID string `db:"request_id" json:"request_id"`
	ProductID string `db:"product_id" json:"product_id"`
	Quantity  int    `db:"quantity" json:"quantity"`
	Unit      string `db:"unit" json:"unit"`
}

// RequestApproval records one decision in the approval chain.
type RequestApproval struct {
	ID        string    `db:"id" json:"id"`
	RequestID string    `db:"request_id" json:"request_id"`
	Role      string    `db:"role" json:"role"`
	Approved  bool      `db:"approved" json:"approved"`
	Actor     string    `db:"actor" json:"actor"`
	Notes     *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RequestHistory is one append-only audit entry. History rows are never
// rewritten or reordered.
type RequestHistory struct {
	ID         string    `db:"id" json:"id"`
	RequestID  string    `db:"request_id" json:"request_id"`
	Action     string    `db:"action" json:"action"`
	FromStatus *string   `db:"from_status" json:"from_status,omitempty"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	Actor      string    `db:"actor" json:"actor"`
	Notes      *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// RequestFilter narrows request listings.
type RequestFilter struct {
	Branch string
	Status string
}

// RequestRepository handles stock request persistence
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// NextRequestNumber reserves the next request number, SR-<year>-<seq>.
func (r *RequestRepository) NextRequestNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := r.db.GetContext(ctx, &seq, `SELECT nextval('stock_request_number_seq')`); err != nil {
		return "", err
	}
	return fmt.Sprintf("SR-%d-%05d", time.Now().UTC().Year(), seq), nil
}

// CreateTx inserts a request with its items and the opening history entry.
func (r *RequestRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, req *StockRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_requests (id, request_number, requesting_branch, status, priority, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := tx.QueryRowxContext(ctx, query,
		req.ID, req.RequestNumber, req.RequestingBranch, req.Status, req.Priority,
		req.Notes, req.CreatedBy,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	for _, item := range req.Items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.RequestID = req.ID

		itemQuery := `
			INSERT INTO stock_request_items (id, request_id, product_id, quantity, unit)
			VALUES ($1, $2, $3, $4, $5)
		`
		if _, err := tx.ExecContext(ctx, itemQuery, item.ID, item.RequestID, item.ProductID, item.Quantity, item.Unit); err != nil {
			if mapped := database.MapPQError(err); mapped != nil {
				return mapped
			}
			return err
		}
	}

	return nil
}

// GetByID gets a request with its items, approvals and history.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*StockRequest, error) {
	var req StockRequest
	query := `SELECT * FROM stock_requests WHERE id = $1`
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("stock request")
		}
		return nil, err
	}

	if err := r.db.SelectContext(ctx, &req.Items,
		`SELECT * FROM stock_request_items WHERE request_id = $1 ORDER BY product_id`, id); err != nil {
		return nil, err
	}
	if err := r.db.SelectContext(ctx, &req.Approvals,
		`SELECT * FROM stock_request_approvals WHERE request_id = $1 ORDER BY created_at`, id); err != nil {
		return nil, err
	}
	if err := r.db.SelectContext(ctx, &req.History,
		`SELECT * FROM stock_request_history WHERE request_id = $1 ORDER BY created_at`, id); err != nil {
		return nil, err
	}

	return &req, nil
}

// List lists requests matching the filter, newest first.
func (r *RequestRepository) List(ctx context.Context, filter RequestFilter) ([]*StockRequest, error) {
	query := `SELECT * FROM stock_requests WHERE 1=1`
	args := []interface{}{}

	if filter.Branch != "" {
		args = append(args, filter.Branch)
		query += fmt.Sprintf(" AND requesting_branch = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	var requests []*StockRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, err
	}
	return requests, nil
}

// UpdateStatusTx moves a request to a new status with an optimistic check on
// updated_at. Zero rows means a concurrent advance committed first.
func (r *RequestRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id, status string, seenUpdatedAt time.Time, approvedBy *string) error {
	query := `
		UPDATE stock_requests
		SET status = $2,
		    approved_by = COALESCE($4, approved_by),
		    approved_at = CASE WHEN $2 = 'approved' THEN NOW() ELSE approved_at END,
		    updated_at = NOW()
		WHERE id = $1 AND updated_at = $3
	`
	result, err := tx.ExecContext(ctx, query, id, status, seenUpdatedAt, approvedBy)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.ConcurrencyConflict("stock request")
	}

	return nil
}

// AddApprovalTx appends one approval chain entry.
func (r *RequestRepository) AddApprovalTx(ctx context.Context, tx *sqlx.Tx, approval *RequestApproval) error {
	if approval.ID == "" {
		approval.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_request_approvals (id, request_id, role, approved, actor, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := tx.QueryRowxContext(ctx, query,
		approval.ID, approval.RequestID, approval.Role, approval.Approved, approval.Actor, approval.Notes,
	).Scan(&approval.CreatedAt)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}
	return nil
}

// AddHistoryTx appends one audit entry. Entries are insert-only.
func (r *RequestRepository) AddHistoryTx(ctx context.Context, tx *sqlx.Tx, entry *RequestHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_request_history (id, request_id, action, from_status, to_status, actor, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := tx.QueryRowxContext(ctx, query,
		entry.ID, entry.RequestID, entry.Action, entry.FromStatus, entry.ToStatus, entry.Actor, entry.Notes,
	).Scan(&entry.CreatedAt)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}
	return nil
}
