package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing order lifecycle events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderCreated publishes ORDER_CREATED
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID.String()), event)
}

// PublishStatusChanged publishes the event matching the status the order entered
func (ep *EventPublisher) PublishStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID.String()), event)
}

// Events of one order share a key so they land on one partition in order
func orderKey(orderID string) string {
	return fmt.Sprintf("order-%s", orderID)
}

// StatusChangedHandler processes one decoded lifecycle event
type StatusChangedHandler func(context.Context, *models.OrderStatusChangedEvent) error

// EventHandler routes incoming events by type
type EventHandler struct {
	onStatusChanged map[string]StatusChangedHandler
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{onStatusChanged: make(map[string]StatusChangedHandler)}
}

// On registers a handler for a status-change event type such as ORDER_APPROVED
func (eh *EventHandler) On(eventType string, handler StatusChangedHandler) {
	eh.onStatusChanged[eventType] = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: failed to unmarshal base event: %v", ErrMalformed, err)
	}

	logger := util.GetLogger()
	handler, ok := eh.onStatusChanged[baseEvent.EventType]
	if !ok {
		logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
		return nil
	}

	logger.Info("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	var event models.OrderStatusChangedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("%w: failed to unmarshal %s event: %v", ErrMalformed, baseEvent.EventType, err)
	}
	return handler(ctx, &event)
}
