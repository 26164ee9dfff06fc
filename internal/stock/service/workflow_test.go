package service_test

import (
	"testing"

	"github.com/pharmflow/pharmflow-backend/internal/stock/service"
	"github.com/pharmflow/pharmflow-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
)

type decision struct {
	current  service.RequestStatus
	approved bool
}

type outcome struct {
	Next service.RequestStatus
	OK   bool
}

func TestTransition_ApprovalChain(t *testing.T) {
	cases := []testutil.TestCase[decision, outcome]{
		{Name: "stock review approved", Input: decision{service.StatusPendingStockReview, true}, Expected: outcome{service.StatusPendingGM, true}},
		{Name: "gm approved", Input: decision{service.StatusPendingGM, true}, Expected: outcome{service.StatusPendingWarehouse, true}},
		{Name: "warehouse approved", Input: decision{service.StatusPendingWarehouse, true}, Expected: outcome{service.StatusApproved, true}},
		{Name: "legacy pending approved still needs gm", Input: decision{service.StatusPending, true}, Expected: outcome{service.StatusPendingGM, true}},
		{Name: "stock review rejected", Input: decision{service.StatusPendingStockReview, false}, Expected: outcome{service.StatusRejected, true}},
		{Name: "gm rejected", Input: decision{service.StatusPendingGM, false}, Expected: outcome{service.StatusRejected, true}},
		{Name: "warehouse rejected", Input: decision{service.StatusPendingWarehouse, false}, Expected: outcome{service.StatusRejected, true}},
		{Name: "legacy pending rejected", Input: decision{service.StatusPending, false}, Expected: outcome{service.StatusRejected, true}},
		{Name: "approved is terminal", Input: decision{service.StatusApproved, true}, Expected: outcome{service.StatusApproved, false}},
		{Name: "rejected is terminal", Input: decision{service.StatusRejected, true}, Expected: outcome{service.StatusRejected, false}},
		{Name: "cancelled is terminal", Input: decision{service.StatusCancelled, false}, Expected: outcome{service.StatusCancelled, false}},
	}

	testutil.RunTestCases(t, cases, func(d decision) (outcome, error) {
		next, ok := service.Transition(d.current, d.approved)
		return outcome{Next: next, OK: ok}, nil
	})
}

// The legacy alias never lets a request skip the GM stage: approving from
// pending lands on pending_gm, so the chain still takes three approvals.
func TestTransition_LegacyAliasKeepsGMStage(t *testing.T) {
	afterAlias, ok := service.Transition(service.StatusPending, true)
	assert.True(t, ok)
	assert.Equal(t, service.StatusPendingGM, afterAlias)

	afterGM, ok := service.Transition(afterAlias, true)
	assert.True(t, ok)
	assert.Equal(t, service.StatusPendingWarehouse, afterGM)
}

// Every known status must either be reviewable or terminal; nothing may
// strand a request.
func TestTransition_Totality(t *testing.T) {
	statuses := []service.RequestStatus{
		service.StatusPendingStockReview,
		service.StatusPendingGM,
		service.StatusPendingWarehouse,
		service.StatusApproved,
		service.StatusRejected,
		service.StatusCancelled,
		service.StatusPending,
	}

	for _, s := range statuses {
		_, reviewable := service.StageRole(s)
		terminal := service.IsTerminal(s)
		assert.Truef(t, reviewable || terminal, "status %s is neither reviewable nor terminal", s)
		assert.Falsef(t, reviewable && terminal, "status %s is both reviewable and terminal", s)

		if reviewable {
			next, ok := service.Transition(s, true)
			assert.True(t, ok)
			assert.NotEqual(t, s, next)

			rej, ok := service.Transition(s, false)
			assert.True(t, ok)
			assert.Equal(t, service.StatusRejected, rej)
		}
	}
}

func TestStageRole(t *testing.T) {
	tests := []struct {
		current service.RequestStatus
		role    string
	}{
		{service.StatusPendingStockReview, service.RoleStockReviewer},
		{service.StatusPendingGM, service.RoleGeneralManager},
		{service.StatusPendingWarehouse, service.RoleWarehouseManager},
		{service.StatusPending, service.RoleStockReviewer},
	}

	for _, tt := range tests {
		role, ok := service.StageRole(tt.current)
		assert.True(t, ok)
		assert.Equal(t, tt.role, role)
	}

	_, ok := service.StageRole(service.StatusApproved)
	assert.False(t, ok)
}

func TestCanonical_CollapsesLegacyAlias(t *testing.T) {
	assert.Equal(t, service.StatusPendingStockReview, service.Canonical(service.StatusPending))
	assert.Equal(t, service.StatusApproved, service.Canonical(service.StatusApproved))
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, service.IsValidStatus(service.StatusPendingGM))
	assert.True(t, service.IsValidStatus(service.StatusPending))
	assert.False(t, service.IsValidStatus("shipped"))
}
