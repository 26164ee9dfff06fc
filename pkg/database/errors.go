package database

import (
	"strings"

	"github.com/lib/pq"
	"github.com/pharmflow/pharmflow-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	// Serialization failure (40001) - optimistic callers should retry
	case "40001":
		return errors.ConcurrencyConflict("record")

	default:
		return nil
	}
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_non_negative"):
		return errors.Validation(map[string]string{
			"quantity": "must not go negative",
		})

	case strings.Contains(constraint, "reserved_within_quantity"):
		return errors.Validation(map[string]string{
			"reserved_quantity": "must not exceed total quantity",
		})

	case strings.Contains(constraint, "remaining_within_quantity"):
		return errors.Validation(map[string]string{
			"remaining_quantity": "must be between 0 and the batch quantity",
		})

	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "is not a recognised status value",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "barcode"):
		return "a dispatch note with this barcode already exists"
	case strings.Contains(constraint, "transfer_id"):
		return "this transfer already has a dispatch note"
	case strings.Contains(constraint, "request_number"):
		return "a stock request with this number already exists"
	case strings.Contains(constraint, "batch_no"):
		return "a batch with this number already exists at this location"
	default:
		return "a record with these values already exists"
	}
}
