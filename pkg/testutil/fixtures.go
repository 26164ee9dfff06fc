package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BatchFixture represents test batch data
type BatchFixture struct {
	ID                string
	ProductID         string
	BatchNo           string
	ExpiryDate        *time.Time
	Quantity          int
	RemainingQuantity int
	Location          string
	Status            string
	ReceivedAt        time.Time
}

// RequestItemFixture represents a test stock request line
type RequestItemFixture struct {
	ProductID string
	Quantity  int
	Unit      string
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

func (f *FixtureFactory) next() int {
	f.sequence++
	return f.sequence
}

// Batch creates a batch fixture at the given location with remaining stock.
func (f *FixtureFactory) Batch(location, productID string, remaining int, expiry *time.Time) *BatchFixture {
	n := f.next()
	return &BatchFixture{
		ID:                uuid.New().String(),
		ProductID:         productID,
		BatchNo:           fmt.Sprintf("BN-%04d", n),
		ExpiryDate:        expiry,
		Quantity:          remaining,
		RemainingQuantity: remaining,
		Location:          location,
		Status:            "available",
		ReceivedAt:        time.Now().UTC().Add(-time.Duration(n) * time.Hour),
	}
}

// RequestItem creates a request line fixture.
func (f *FixtureFactory) RequestItem(productID string, qty int) *RequestItemFixture {
	return &RequestItemFixture{
		ProductID: productID,
		Quantity:  qty,
		Unit:      "unit",
	}
}

// ExpiryMonth returns a pointer to the first day of the given year-month in UTC.
// Batch expiries are tracked at month granularity.
func ExpiryMonth(year int, month time.Month) *time.Time {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return &t
}
