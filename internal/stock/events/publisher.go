package events

import (
	"context"

	"github.com/pharmflow/pharmflow-backend/pkg/logger"
	"github.com/pharmflow/pharmflow-backend/pkg/messaging"
)

// StockEventPublisher publishes stock lifecycle events. Every method is
// fire-and-forget: failures are logged and never surfaced to the caller,
// because the state change has already committed. A nil publisher is a
// valid no-op, which keeps event wiring optional in tests.
type StockEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a new stock event publisher
func NewStockEventPublisher(publisher *messaging.Publisher, log *logger.Logger) *StockEventPublisher {
	return &StockEventPublisher{
		publisher: publisher,
		logger:    log,
	}
}

// PublishRequestCreated publishes a stock_requests.created event
func (p *StockEventPublisher) PublishRequestCreated(ctx context.Context, event *messaging.RequestCreatedEvent) {
	if p == nil || p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventRequestCreated, event); err != nil {
		p.logger.Error().Err(err).
			Str("request_id", event.RequestID).
			Msg("failed to publish request created event")
	}
}

// PublishRequestUpdated publishes a stock_requests.updated event
func (p *StockEventPublisher) PublishRequestUpdated(ctx context.Context, event *messaging.RequestUpdatedEvent) {
	if p == nil || p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventRequestUpdated, event); err != nil {
		p.logger.Error().Err(err).
			Str("request_id", event.RequestID).
			Str("status", event.Status).
			Msg("failed to publish request updated event")
	}
}

// PublishTransferCreated publishes a stock_transfers.created event
func (p *StockEventPublisher) PublishTransferCreated(ctx context.Context, event *messaging.TransferCreatedEvent) {
	if p == nil || p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventTransferCreated, event); err != nil {
		p.logger.Error().Err(err).
			Str("transfer_id", event.TransferID).
			Msg("failed to publish transfer created event")
	}
}

// PublishTransferUpdated publishes a stock_transfers.updated event
func (p *StockEventPublisher) PublishTransferUpdated(ctx context.Context, event *messaging.TransferUpdatedEvent) {
	if p == nil || p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventTransferUpdated, event); err != nil {
		p.logger.Error().Err(err).
			Str("transfer_id", event.TransferID).
			Str("status", event.Status).
			Msg("failed to publish transfer updated event")
	}
}

// PublishWarehouseUpdated publishes a warehouse.updated event
func (p *StockEventPublisher) PublishWarehouseUpdated(ctx context.Context, event *messaging.WarehouseUpdatedEvent) {
	if p == nil || p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventWarehouseUpdated, event); err != nil {
		p.logger.Error().Err(err).
			Str("location", event.Location).
			Str("product_id", event.ProductID).
			Msg("failed to publish warehouse updated event")
	}
}
