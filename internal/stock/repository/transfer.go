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

// Dispatch note statuses
const (
	NoteStatusInTransit = "in_transit"
	NoteStatusReceived  = "received"
)

// StockTransfer moves stock from a warehouse to a branch. Creating a
// transfer reserves stock at the source; dispatch converts the reservation
// into batch-level debits inside one transaction.
type StockTransfer struct {
	ID            string     `db:"id" json:"id"`
	RequestID     *string    `db:"request_id" json:"request_id,omitempty"`
	FromWarehouse string     `db:"from_warehouse" json:"from_warehouse"`
	ToBranch      string     `db:"to_branch" json:"to_branch"`
	Status        string     `db:"status" json:"status"`
	Notes         *string    `db:"notes" json:"notes,omitempty"`
	CreatedBy     string     `db:"created_by" json:"created_by"`
	DispatchedAt  *time.Time `db:"dispatched_at" json:"dispatched_at,omitempty"`
	DeliveredAt   *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ReceivedAt    *time.Time `db:"received_at" json:"received_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`

	Items   []*TransferItem    `db:"-" json:"items,omitempty"`
	History []*TransferHistory `db:"-" json:"history,omitempty"`
}

// TransferItem is one product line on a transfer.
type TransferItem struct {
	ID         string `db:"id" json:"id"`
	TransferID string `db:"transfer_id" json:"transfer_id"`
	ProductID  string `db:"product_id" json:"product_id"`
	Quantity   int    `db:"quantity" json:"quantity"`
	Unit       string `db:"unit" json:"unit"`
}

// TransferHistory is one append-only audit entry on a transfer.
type TransferHistory struct {
	ID         string    `db:"id" json:"id"`
	TransferID string    `db:"transfer_id" json:"transfer_id"`
	Action     string    `db:"action" json:"action"`
	FromStatus *string   `db:"from_status" json:"from_status,omitempty"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	Actor      string    `db:"actor" json:"actor"`
	Notes      *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// DispatchNote is the barcoded document issued when a transfer leaves the
// warehouse. The transfer_id uniqueness constraint guarantees at most one
// note per transfer regardless of racing dispatchers.
type DispatchNote struct {
	ID           string     `db:"id" json:"id"`
	TransferID   string     `db:"transfer_id" json:"transfer_id"`
	Barcode      string     `db:"barcode" json:"barcode"`
	Status       string     `db:"status" json:"status"`
	DispatchedBy string     `db:"dispatched_by" json:"dispatched_by"`
	DispatchedAt time.Time  `db:"dispatched_at" json:"dispatched_at"`
	ReceivedBy   *string    `db:"received_by" json:"received_by,omitempty"`
	ReceivedAt   *time.Time `db:"received_at" json:"received_at,omitempty"`

	Items []*DispatchNoteItem `db:"-" json:"items,omitempty"`
}

// DispatchNoteItem records which batch each dispatched unit came from, so
// the receiving side can mirror batch numbers and expiries.
type DispatchNoteItem struct {
	ID         string     `db:"id" json:"id"`
	NoteID     string     `db:"note_id" json:"note_id"`
	ProductID  string     `db:"product_id" json:"product_id"`
	BatchID    string     `db:"batch_id" json:"batch_id"`
	BatchNo    string     `db:"batch_no" json:"batch_no"`
	ExpiryDate *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	Quantity   int        `db:"quantity" json:"quantity"`
}

// TransferFilter narrows transfer listings.
type TransferFilter struct {
	FromWarehouse string
	ToBranch      string
	Status        string
}

// TransferRepository handles transfer and dispatch note persistence
type TransferRepository struct {
	db *database.DB
}

// NewTransferRepository creates a new transfer repository
func NewTransferRepository(db *database.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// CreateTx inserts a transfer with its items.
func (r *TransferRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, transfer *StockTransfer) error {
	if transfer.ID == "" {
		transfer.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_transfers (id, request_id, from_warehouse, to_branch, status, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := tx.QueryRowxContext(ctx, query,
		transfer.ID, transfer.RequestID, transfer.FromWarehouse, transfer.ToBranch,
		transfer.Status, transfer.Notes, transfer.CreatedBy,
	).Scan(&transfer.CreatedAt, &transfer.UpdatedAt)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	for _, item := range transfer.Items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.TransferID = transfer.ID

		itemQuery := `
			INSERT INTO stock_transfer_items (id, transfer_id, product_id, quantity, unit)
			VALUES ($1, $2, $3, $4, $5)
		`
		if _, err := tx.ExecContext(ctx, itemQuery, item.ID, item.TransferID, item.ProductID, item.Quantity, item.Unit); err != nil {
			if mapped := database.MapPQError(err); mapped != nil {
				return mapped
			}
			return err
		}
	}

	return nil
}

// GetByID gets a transfer with its items and history.
func (r *TransferRepository) GetByID(ctx context.Context, id string) (*StockTransfer, error) {
	var transfer StockTransfer
	query := `SELECT * FROM stock_transfers WHERE id = $1`
	if err := r.db.GetContext(ctx, &transfer, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("stock transfer")
		}
		return nil, err
	}

	if err := r.db.SelectContext(ctx, &transfer.Items,
		`SELECT * FROM stock_transfer_items WHERE transfer_id = $1 ORDER BY product_id`, id); err != nil {
		return nil, err
	}
	if err := r.db.SelectContext(ctx, &transfer.History,
		`SELECT * FROM stock_transfer_history WHERE transfer_id = $1 ORDER BY created_at`, id); err != nil {
		return nil, err
	}

	return &transfer, nil
}

// GetByIDTx re-reads a transfer under the caller's transaction with a row
// lock, so status checks and updates inside dispatch see a stable row.
func (r *TransferRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*StockTransfer, error) {
	var transfer StockTransfer
	query := `SELECT * FROM stock_transfers WHERE id = $1 FOR UPDATE`
	if err := sqlx.GetContext(ctx, tx, &transfer, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("stock transfer")
		}
		return nil, err
	}

	if err := sqlx.SelectContext(ctx, tx, &transfer.Items,
		`SELECT * FROM stock_transfer_items WHERE transfer_id = $1 ORDER BY product_id`, id); err != nil {
		return nil, err
	}

	return &transfer, nil
}

// List lists transfers matching the filter, newest first.
func (r *TransferRepository) List(ctx context.Context, filter TransferFilter) ([]*StockTransfer, error) {
	query := `SELECT * FROM stock_transfers WHERE 1=1`
	args := []interface{}{}

	if filter.FromWarehouse != "" {
		args = append(args, filter.FromWarehouse)
		query += fmt.Sprintf(" AND from_warehouse = $%d", len(args))
	}
	if filter.ToBranch != "" {
		args = append(args, filter.ToBranch)
		query += fmt.Sprintf(" AND to_branch = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	var transfers []*StockTransfer
	if err := r.db.SelectContext(ctx, &transfers, query, args...); err != nil {
		return nil, err
	}
	return transfers, nil
}

// UpdateStatusTx moves a transfer to a new status with an optimistic check
// on updated_at. The matching stage timestamp is stamped alongside.
func (r *TransferRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id, status string, seenUpdatedAt time.Time) error {
	query := `
		UPDATE stock_transfers
		SET status = $2,
		    dispatched_at = CASE WHEN $2 = 'dispatched' THEN NOW() ELSE dispatched_at END,
		    delivered_at = CASE WHEN $2 = 'delivered' THEN NOW() ELSE delivered_at END,
		    received_at = CASE WHEN $2 = 'received' THEN NOW() ELSE received_at END,
		    updated_at = NOW()
		WHERE id = $1 AND updated_at = $3
	`
	result, err := tx.ExecContext(ctx, query, id, status, seenUpdatedAt)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.ConcurrencyConflict("stock transfer")
	}

	return nil
}

// CreateNoteTx inserts the dispatch note and its batch-level lines. A
// duplicate transfer_id or barcode surfaces as a conflict from the unique
// constraints, never as a second note.
func (r *TransferRepository) CreateNoteTx(ctx context.Context, tx *sqlx.Tx, note *DispatchNote) error {
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	if note.Status == "" {
		note.Status = NoteStatusInTransit
	}

	query := `
		INSERT INTO dispatch_notes (id, transfer_id, barcode, status, dispatched_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING dispatched_at
	`
	err := tx.QueryRowxContext(ctx, query,
		note.ID, note.TransferID, note.Barcode, note.Status, note.DispatchedBy,
	).Scan(&note.DispatchedAt)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}

	for _, item := range note.Items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.NoteID = note.ID

		itemQuery := `
			INSERT INTO dispatch_note_items (id, note_id, product_id, batch_id, batch_no, expiry_date, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		if _, err := tx.ExecContext(ctx, itemQuery,
			item.ID, item.NoteID, item.ProductID, item.BatchID, item.BatchNo, item.ExpiryDate, item.Quantity,
		); err != nil {
			if mapped := database.MapPQError(err); mapped != nil {
				return mapped
			}
			return err
		}
	}

	return nil
}

// GetNoteByTransfer gets the dispatch note for a transfer, with lines.
func (r *TransferRepository) GetNoteByTransfer(ctx context.Context, transferID string) (*DispatchNote, error) {
	var note DispatchNote
	query := `SELECT * FROM dispatch_notes WHERE transfer_id = $1`
	if err := r.db.GetContext(ctx, &note, query, transferID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("dispatch note")
		}
		return nil, err
	}

	if err := r.loadNoteItems(ctx, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// GetNoteByBarcode resolves a scanned barcode to its note and lines.
func (r *TransferRepository) GetNoteByBarcode(ctx context.Context, barcode string) (*DispatchNote, error) {
	var note DispatchNote
	query := `SELECT * FROM dispatch_notes WHERE barcode = $1`
	if err := r.db.GetContext(ctx, &note, query, barcode); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("dispatch note")
		}
		return nil, err
	}

	if err := r.loadNoteItems(ctx, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// GetNoteByTransferTx reads the note with its lines under the caller's
// transaction. Receipt replays batch lines, so it needs the locked view.
func (r *TransferRepository) GetNoteByTransferTx(ctx context.Context, tx *sqlx.Tx, transferID string) (*DispatchNote, error) {
	var note DispatchNote
	query := `SELECT * FROM dispatch_notes WHERE transfer_id = $1 FOR UPDATE`
	if err := sqlx.GetContext(ctx, tx, &note, query, transferID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("dispatch note")
		}
		return nil, err
	}

	var items []*DispatchNoteItem
	if err := sqlx.SelectContext(ctx, tx, &items,
		`SELECT * FROM dispatch_note_items WHERE note_id = $1 ORDER BY product_id, batch_no`, note.ID); err != nil {
		return nil, err
	}
	note.Items = items
	return &note, nil
}

func (r *TransferRepository) loadNoteItems(ctx context.Context, note *DispatchNote) error {
	var items []*DispatchNoteItem
	if err := r.db.SelectContext(ctx, &items,
		`SELECT * FROM dispatch_note_items WHERE note_id = $1 ORDER BY product_id, batch_no`, note.ID); err != nil {
		return err
	}
	note.Items = items
	return nil
}

// MarkNoteReceivedTx stamps the note as received. Zero rows means it was
// already received, which receipt treats as a no-op.
func (r *TransferRepository) MarkNoteReceivedTx(ctx context.Context, tx *sqlx.Tx, noteID, receivedBy string) (bool, error) {
	query := `
		UPDATE dispatch_notes
		SET status = 'received', received_by = $2, received_at = NOW()
		WHERE id = $1 AND status = 'in_transit'
	`
	result, err := tx.ExecContext(ctx, query, noteID, receivedBy)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return false, mapped
		}
		return false, err
	}

	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// AddHistoryTx appends one audit entry. Entries are insert-only.
func (r *TransferRepository) AddHistoryTx(ctx context.Context, tx *sqlx.Tx, entry *TransferHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_transfer_history (id, transfer_id, action, from_status, to_status, actor, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := tx.QueryRowxContext(ctx, query,
		entry.ID, entry.TransferID, entry.Action, entry.FromStatus, entry.ToStatus, entry.Actor, entry.Notes,
	).Scan(&entry.CreatedAt)
	if err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return mapped
		}
		return err
	}
	return nil
}
