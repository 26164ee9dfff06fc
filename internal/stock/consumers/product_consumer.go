// Package consumers wires catalog events into the local product cache.
package consumers

import (
	"context"
	"fmt"

	"github.com/pharmflow/pharmflow-backend/internal/stock/repository"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
	"github.com/pharmflow/pharmflow-backend/pkg/messaging"
)

// ProductConsumer keeps the product cache in sync with the catalog
// service. The cache only feeds display fields, so a lost event degrades
// labels until the next update, never stock math.
type ProductConsumer struct {
	consumer *messaging.Consumer
	cache    *repository.ProductCacheRepository
	logger   *logger.Logger
}

// NewProductConsumer creates a consumer bound to the catalog exchange.
func NewProductConsumer(rmq *messaging.RabbitMQ, cache *repository.ProductCacheRepository, log *logger.Logger) (*ProductConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "stock-service.product-cache", log)
	if err != nil {
		return nil, fmt.Errorf("failed to create product consumer: %w", err)
	}

	if err := consumer.Subscribe(messaging.ExchangeCatalogEvents, "catalog.product.*"); err != nil {
		return nil, fmt.Errorf("failed to subscribe to catalog events: %w", err)
	}

	pc := &ProductConsumer{
		consumer: consumer,
		cache:    cache,
		logger:   log.WithComponent("product-consumer"),
	}

	consumer.RegisterHandler(messaging.EventProductCreated, pc.handleUpsert)
	consumer.RegisterHandler(messaging.EventProductUpdated, pc.handleUpsert)
	consumer.RegisterHandler(messaging.EventProductDeleted, pc.handleDelete)

	return pc, nil
}

// Start begins consuming catalog events.
func (c *ProductConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *ProductConsumer) handleUpsert(ctx context.Context, event *messaging.Event) error {
	var data messaging.ProductEvent
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("failed to unmarshal product event: %w", err)
	}
	if data.ProductID == "" {
		c.logger.Warn().Str("event_id", event.ID).Msg("product event without product_id, skipping")
		return nil
	}

	if err := c.cache.Upsert(ctx, &repository.ProductCache{
		ProductID: data.ProductID,
		Name:      data.Name,
		Unit:      data.Unit,
		Category:  data.Category,
	}); err != nil {
		return fmt.Errorf("failed to upsert cached product: %w", err)
	}

	c.logger.Debug().Str("product_id", data.ProductID).Msg("product cache updated")
	return nil
}

func (c *ProductConsumer) handleDelete(ctx context.Context, event *messaging.Event) error {
	var data messaging.ProductEvent
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("failed to unmarshal product event: %w", err)
	}
	if data.ProductID == "" {
		return nil
	}

	if err := c.cache.Delete(ctx, data.ProductID); err != nil {
		return fmt.Errorf("failed to delete cached product: %w", err)
	}

	c.logger.Debug().Str("product_id", data.ProductID).Msg("product removed from cache")
	return nil
}
