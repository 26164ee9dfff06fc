package service

import (
	"sort"

	"github.com/pharmflow/pharmflow-backend/internal/stock/repository"
)

// BatchAllocation is one slice of an allocation plan: take Take units from
// the identified batch.
type BatchAllocation struct {
	BatchID   string `json:"batch_id"`
	BatchNo   string `json:"batch_no"`
	Take      int    `json:"take"`
	Remaining int    `json:"remaining"`
}

// AllocationPlan is the result of a FEFO query. Shortfall is zero when the
// request can be satisfied in full; a partial plan still lists every batch
// it would drain.
type AllocationPlan struct {
	Allocations []BatchAllocation `json:"allocations"`
	Requested   int               `json:"requested"`
	Allocated   int               `json:"allocated"`
	Shortfall   int               `json:"shortfall"`
}

// Complete reports whether the plan covers the full requested quantity.
func (p *AllocationPlan) Complete() bool {
	return p.Shortfall == 0
}

// PlanFEFO builds a first-expired-first-out allocation of required units
// across the given batches. Batches are consumed in ascending expiry order,
// unknown expiry last, earliest receipt breaking ties. The function never
// mutates the batches and performs no I/O; callers hold whatever locks the
// plan needs to stay valid.
func PlanFEFO(batches []*repository.StockBatch, required int) *AllocationPlan {
	plan := &AllocationPlan{Requested: required}
	if required <= 0 {
		return plan
	}

	ordered := make([]*repository.StockBatch, 0, len(batches))
	for _, b := range batches {
		if b.RemainingQuantity > 0 && b.Status == repository.BatchStatusAvailable {
			ordered = append(ordered, b)
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate == nil:
			return a.ReceivedAt.Before(b.ReceivedAt)
		case a.ExpiryDate == nil:
			return false
		case b.ExpiryDate == nil:
			return true
		case !a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ExpiryDate.Before(*b.ExpiryDate)
		default:
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
	})

	remaining := required
	for _, batch := range ordered {
		if remaining == 0 {
			break
		}

		take := batch.RemainingQuantity
		if take > remaining {
			take = remaining
		}

		plan.Allocations = append(plan.Allocations, BatchAllocation{
			BatchID:   batch.ID,
			BatchNo:   batch.BatchNo,
			Take:      take,
			Remaining: batch.RemainingQuantity - take,
		})
		remaining -= take
	}

	plan.Allocated = required - remaining
	plan.Shortfall = remaining
	return plan
}
