package service

import (
	"context"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// statusChange describes a committed transition for publishing
type statusChange struct {
	order          *models.Order
	from           models.OrderStatus
	actorID        uuid.UUID
	notes          string
	stockCommitted bool
}

// publishStatusChanged announces a committed transition; failures are logged only
func publishStatusChanged(ctx context.Context, publisher EventPublisher, logger *zap.Logger, change statusChange) {
	util.OrderTransitionsTotal.WithLabelValues(string(change.from), string(change.order.Status)).Inc()
	if publisher == nil {
		return
	}

	event := &models.OrderStatusChangedEvent{
		BaseEvent:      models.NewBaseEvent(models.EventTypeForStatus(change.order.Status)),
		OrderID:        change.order.ID,
		CustomerID:     change.order.CustomerID,
		From:           change.from,
		To:             change.order.Status,
		ActorID:        change.actorID,
		Notes:          change.notes,
		StockCommitted: change.stockCommitted,
		Items:          models.ItemData(change.order.Items),
	}
	if err := publisher.PublishStatusChanged(ctx, event); err != nil {
		util.EventsPublishFailedTotal.WithLabelValues(event.EventType).Inc()
		logger.Error("Failed to publish status change event",
			zap.String("order_id", change.order.ID.String()),
			zap.String("event_type", event.EventType),
			zap.Error(err))
	}
}
