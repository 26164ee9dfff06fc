package service

// RequestStatus is a stock request's position in the approval chain.
type RequestStatus string

// Stock request statuses. StatusPending is a legacy alias still present in
// old rows; it sits before the GM stage, approving into StatusPendingGM,
// and is never written by new code.
const (
	StatusPendingStockReview RequestStatus = "pending_stock_review"
	StatusPendingGM          RequestStatus = "pending_gm"
	StatusPendingWarehouse   RequestStatus = "pending_warehouse"
	StatusApproved           RequestStatus = "approved"
	StatusRejected           RequestStatus = "rejected"
	StatusCancelled          RequestStatus = "cancelled"
	StatusPending            RequestStatus = "pending"
)

// Approval chain roles.
const (
	RoleStockReviewer    = "stock_reviewer"
	RoleGeneralManager   = "general_manager"
	RoleWarehouseManager = "warehouse_manager"
)

// stageRole maps each reviewable status to the role allowed to act on it.
var stageRole = map[RequestStatus]string{
	StatusPendingStockReview: RoleStockReviewer,
	StatusPendingGM:          RoleGeneralManager,
	StatusPendingWarehouse:   RoleWarehouseManager,
	StatusPending:            RoleStockReviewer,
}

// approveNext maps each reviewable status to its successor on approval.
var approveNext = map[RequestStatus]RequestStatus{
	StatusPendingStockReview: StatusPendingGM,
	StatusPendingGM:          StatusPendingWarehouse,
	StatusPendingWarehouse:   StatusApproved,
	StatusPending:            StatusPendingGM,
}

// Transition returns the status a request moves to when the current stage
// is approved or rejected. ok is false when current is not reviewable.
func Transition(current RequestStatus, approved bool) (RequestStatus, bool) {
	if _, reviewable := stageRole[current]; !reviewable {
		return current, false
	}
	if !approved {
		return StatusRejected, true
	}
	return approveNext[current], true
}

// StageRole returns the role that may act on a request in the given status.
func StageRole(current RequestStatus) (string, bool) {
	role, ok := stageRole[current]
	return role, ok
}

// IsTerminal reports whether a status accepts no further decisions.
func IsTerminal(s RequestStatus) bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// IsValidStatus reports whether s is a known request status.
func IsValidStatus(s RequestStatus) bool {
	switch s {
	case StatusPendingStockReview, StatusPendingGM, StatusPendingWarehouse,
		StatusApproved, StatusRejected, StatusCancelled, StatusPending:
		return true
	}
	return false
}

// Canonical collapses the legacy alias so comparisons and event payloads
// see one spelling.
func Canonical(s RequestStatus) RequestStatus {
	if s == StatusPending {
		return StatusPendingStockReview
	}
	return s
}
