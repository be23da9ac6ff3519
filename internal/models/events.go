package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderApproved  = "ORDER_APPROVED"
	EventTypeOrderRejected  = "ORDER_REJECTED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
	EventTypeOrderShipped   = "ORDER_SHIPPED"
	EventTypeOrderDelivered = "ORDER_DELIVERED"
)

// EventTypeForStatus maps the status an order entered to the event announcing it
func EventTypeForStatus(status OrderStatus) string {
	switch status {
	case OrderStatusPaid:
		return EventTypeOrderPaid
	case OrderStatusApproved:
		return EventTypeOrderApproved
	case OrderStatusRejected:
		return EventTypeOrderRejected
	case OrderStatusCancelled:
		return EventTypeOrderCancelled
	case OrderStatusShipped:
		return EventTypeOrderShipped
	case OrderStatusDelivered:
		return EventTypeOrderDelivered
	default:
		return EventTypeOrderCreated
	}
}

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event envelope
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// OrderCreatedEvent published when checkout compiles a cart into an order
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     uuid.UUID       `json:"order_id"`
	CustomerID  uuid.UUID       `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	BankName    string          `json:"bank_name"`
	Items       []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published on every later lifecycle transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID        uuid.UUID       `json:"order_id"`
	CustomerID     uuid.UUID       `json:"customer_id"`
	From           OrderStatus     `json:"from"`
	To             OrderStatus     `json:"to"`
	ActorID        uuid.UUID       `json:"actor_id"`
	Notes          string          `json:"notes,omitempty"`
	StockCommitted bool            `json:"stock_committed"`
	Items          []OrderItemData `json:"items,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ItemData converts frozen order items to their event representation
func ItemData(items []OrderItem) []OrderItemData {
	data := make([]OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return data
}
