package service_test

import (
	"testing"
	"time"

	"github.com/pharmflow/pharmflow-backend/internal/stock/repository"
	"github.com/pharmflow/pharmflow-backend/internal/stock/service"
	"github.com/pharmflow/pharmflow-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureBatch(f *testutil.FixtureFactory, remaining int, expiry *time.Time) *repository.StockBatch {
	b := f.Batch("warehouse-windhoek", "SPIRULINA", remaining, expiry)
	return &repository.StockBatch{
		ID:                b.ID,
		ProductID:         b.ProductID,
		BatchNo:           b.BatchNo,
		ExpiryDate:        b.ExpiryDate,
		Quantity:          b.Quantity,
		RemainingQuantity: b.RemainingQuantity,
		Location:          b.Location,
		Status:            b.Status,
		ReceivedAt:        b.ReceivedAt,
	}
}

func TestPlanFEFO_TakesEarliestExpiryFirst(t *testing.T) {
	f := testutil.NewFixtureFactory()

	jan := fixtureBatch(f, 5, testutil.ExpiryMonth(2025, time.January))
	mar := fixtureBatch(f, 10, testutil.ExpiryMonth(2025, time.March))

	// Deliberately out of order; the planner sorts.
	plan := service.PlanFEFO([]*repository.StockBatch{mar, jan}, 8)

	require.True(t, plan.Complete())
	assert.Equal(t, 8, plan.Requested)
	assert.Equal(t, 8, plan.Allocated)
	assert.Equal(t, 0, plan.Shortfall)

	require.Len(t, plan.Allocations, 2)
	assert.Equal(t, jan.ID, plan.Allocations[0].BatchID)
	assert.Equal(t, 5, plan.Allocations[0].Take)
	assert.Equal(t, 0, plan.Allocations[0].Remaining)
	assert.Equal(t, mar.ID, plan.Allocations[1].BatchID)
	assert.Equal(t, 3, plan.Allocations[1].Take)
	assert.Equal(t, 7, plan.Allocations[1].Remaining)
}

func TestPlanFEFO_UnknownExpirySortsLast(t *testing.T) {
	f := testutil.NewFixtureFactory()

	unknown := fixtureBatch(f, 10, nil)
	dated := fixtureBatch(f, 4, testutil.ExpiryMonth(2026, time.June))

	plan := service.PlanFEFO([]*repository.StockBatch{unknown, dated}, 6)

	require.True(t, plan.Complete())
	require.Len(t, plan.Allocations, 2)
	assert.Equal(t, dated.ID, plan.Allocations[0].BatchID)
	assert.Equal(t, 4, plan.Allocations[0].Take)
	assert.Equal(t, unknown.ID, plan.Allocations[1].BatchID)
	assert.Equal(t, 2, plan.Allocations[1].Take)
}

func TestPlanFEFO_ReceiptOrderBreaksExpiryTies(t *testing.T) {
	f := testutil.NewFixtureFactory()
	expiry := testutil.ExpiryMonth(2025, time.December)

	newer := fixtureBatch(f, 5, expiry)
	older := fixtureBatch(f, 5, expiry)
	older.ReceivedAt = newer.ReceivedAt.Add(-24 * time.Hour)

	plan := service.PlanFEFO([]*repository.StockBatch{newer, older}, 5)

	require.Len(t, plan.Allocations, 1)
	assert.Equal(t, older.ID, plan.Allocations[0].BatchID)
}

func TestPlanFEFO_PartialPlanReportsShortfall(t *testing.T) {
	f := testutil.NewFixtureFactory()

	only := fixtureBatch(f, 3, testutil.ExpiryMonth(2025, time.May))

	plan := service.PlanFEFO([]*repository.StockBatch{only}, 10)

	assert.False(t, plan.Complete())
	assert.Equal(t, 10, plan.Requested)
	assert.Equal(t, 3, plan.Allocated)
	assert.Equal(t, 7, plan.Shortfall)
	require.Len(t, plan.Allocations, 1)
	assert.Equal(t, 3, plan.Allocations[0].Take)
}

func TestPlanFEFO_SkipsExhaustedAndEmptyBatches(t *testing.T) {
	f := testutil.NewFixtureFactory()

	empty := fixtureBatch(f, 0, testutil.ExpiryMonth(2025, time.January))
	exhausted := fixtureBatch(f, 5, testutil.ExpiryMonth(2025, time.February))
	exhausted.Status = repository.BatchStatusExhausted
	usable := fixtureBatch(f, 5, testutil.ExpiryMonth(2025, time.March))

	plan := service.PlanFEFO([]*repository.StockBatch{empty, exhausted, usable}, 5)

	require.True(t, plan.Complete())
	require.Len(t, plan.Allocations, 1)
	assert.Equal(t, usable.ID, plan.Allocations[0].BatchID)
}

func TestPlanFEFO_ZeroRequiredYieldsEmptyPlan(t *testing.T) {
	f := testutil.NewFixtureFactory()
	batches := []*repository.StockBatch{fixtureBatch(f, 5, nil)}

	for _, required := range []int{0, -3} {
		plan := service.PlanFEFO(batches, required)
		assert.Empty(t, plan.Allocations)
		assert.Equal(t, 0, plan.Allocated)
		assert.Equal(t, 0, plan.Shortfall)
	}
}

func TestPlanFEFO_DoesNotMutateInput(t *testing.T) {
	f := testutil.NewFixtureFactory()

	b := fixtureBatch(f, 5, testutil.ExpiryMonth(2025, time.January))
	service.PlanFEFO([]*repository.StockBatch{b}, 5)

	assert.Equal(t, 5, b.RemainingQuantity)
	assert.Equal(t, repository.BatchStatusAvailable, b.Status)
}
