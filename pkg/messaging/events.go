package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types. The routing key is <resource>.<action>, so downstream
// consumers can bind to "stock_requests.*" or "#" as needed.
const (
	// Stock request events
	EventRequestCreated = "stock_requests.created"
	EventRequestUpdated = "stock_requests.updated"

	// Transfer events
	EventTransferCreated = "stock_transfers.created"
	EventTransferUpdated = "stock_transfers.updated"

	// Warehouse/ledger events
	EventWarehouseUpdated = "warehouse.updated"

	// Catalog events (consumed, published by the catalog service)
	EventProductCreated = "catalog.product.created"
	EventProductUpdated = "catalog.product.updated"
	EventProductDeleted = "catalog.product.deleted"
)

// Exchange names
const (
	ExchangeStockEvents   = "stock.events"
	ExchangeCatalogEvents = "catalog.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Stock request events

// RequestCreatedEvent is published when a stock request is raised
type RequestCreatedEvent struct {
	RequestID        string `json:"request_id"`
	RequestNumber    string `json:"request_number"`
	RequestingBranch string `json:"requesting_branch"`
	Status           string `json:"status"`
	Priority         string `json:"priority"`
	ItemCount        int    `json:"item_count"`
	CreatedBy        string `json:"created_by"`
}

// RequestUpdatedEvent is published when a stock request advances (or is rejected)
type RequestUpdatedEvent struct {
	RequestID      string `json:"request_id"`
	RequestNumber  string `json:"request_number"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	ActingRole     string `json:"acting_role"`
	Actor          string `json:"actor"`
}

// Transfer events

// TransferCreatedEvent is published when a transfer is materialized
type TransferCreatedEvent struct {
	TransferID    string `json:"transfer_id"`
	RequestID     string `json:"request_id,omitempty"`
	FromWarehouse string `json:"from_warehouse"`
	ToBranch      string `json:"to_branch"`
	Status        string `json:"status"`
	ItemCount     int    `json:"item_count"`
	CreatedBy     string `json:"created_by"`
}

// TransferUpdatedEvent is published on dispatch, delivery, receipt and cancellation
type TransferUpdatedEvent struct {
	TransferID     string `json:"transfer_id"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	Barcode        string `json:"barcode,omitempty"`
	Actor          string `json:"actor"`
}

// Warehouse events

// WarehouseUpdatedEvent is published when ledger quantities change
type WarehouseUpdatedEvent struct {
	Location    string `json:"location"`
	ProductID   string `json:"product_id"`
	Delta       int    `json:"delta"`
	NewQuantity int    `json:"new_quantity"`
	Reason      string `json:"reason"`
	PerformedBy string `json:"performed_by"`
}

// Catalog events (consume side)

// ProductEvent carries product catalog data for the local cache
type ProductEvent struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Unit      string `json:"unit"`
	Category  string `json:"category,omitempty"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Nanosecond()%10000)
}
