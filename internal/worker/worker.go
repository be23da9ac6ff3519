package worker

import (
	"context"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventLedger records which events were already applied
type EventLedger interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// CatalogCache is the cache the worker keeps honest
type CatalogCache interface {
	EvictProducts(ctx context.Context, ids ...uuid.UUID) error
}

// Consumer feeds messages to a handler until ctx ends
type Consumer interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// CatalogCacheWorker evicts cached catalog entries once an approval has
// taken their stock, so cart and checkout reads see the new counters
type CatalogCacheWorker struct {
	consumer     Consumer
	eventHandler *broker.EventHandler
	ledger       EventLedger
	cache        CatalogCache
	logger       *zap.Logger
}

// NewCatalogCacheWorker creates a new catalog cache worker
func NewCatalogCacheWorker(consumer Consumer, ledger EventLedger, cache CatalogCache) *CatalogCacheWorker {
	w := &CatalogCacheWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		ledger:       ledger,
		cache:        cache,
		logger:       util.GetLogger(),
	}
	w.eventHandler.On(models.EventTypeOrderApproved, w.HandleOrderApproved)
	return w
}

// Start blocks consuming events until ctx is cancelled
func (w *CatalogCacheWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting catalog cache worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the underlying consumer
func (w *CatalogCacheWorker) Stop() error {
	w.logger.Info("Stopping catalog cache worker...")
	return w.consumer.Close()
}

// HandleOrderApproved evicts the products whose stock the approval committed
func (w *CatalogCacheWorker) HandleOrderApproved(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	if !event.StockCommitted || len(event.Items) == 0 {
		return nil
	}

	processed, err := w.ledger.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Debug("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	ids := make([]uuid.UUID, 0, len(event.Items))
	for _, item := range event.Items {
		ids = append(ids, item.ProductID)
	}
	if err := w.cache.EvictProducts(ctx, ids...); err != nil {
		return err
	}
	util.CatalogCacheEvictionsTotal.Add(float64(len(ids)))

	if err := w.ledger.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return err
	}

	w.logger.Info("Evicted catalog entries after approval",
		zap.String("order_id", event.OrderID.String()),
		zap.Int("products", len(ids)))
	return nil
}
