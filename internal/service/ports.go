package service

import (
	"context"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CatalogReader looks up live product data. Implementations return an
// apperr NotFound for unknown ids.
type CatalogReader interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error)
}

// ArtifactStorage persists uploaded evidence and returns an opaque URL
type ArtifactStorage interface {
	Store(ctx context.Context, key, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

// EventPublisher announces committed lifecycle changes
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

type ProductStore interface {
	GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
}

type ProductCache interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	SetProduct(ctx context.Context, product *models.Product, ttl time.Duration) error
	EvictProducts(ctx context.Context, ids ...uuid.UUID) error
}

type CartStore interface {
	GetCartLines(ctx context.Context, customerID uuid.UUID) ([]models.CartLine, error)
	GetCartLine(ctx context.Context, customerID, productID uuid.UUID) (*models.CartLine, error)
	UpsertCartLine(ctx context.Context, customerID, productID uuid.UUID, quantity int) error
	DeleteCartLine(ctx context.Context, customerID, productID uuid.UUID) error
	ClearCart(ctx context.Context, customerID uuid.UUID) error
}

type OrderStore interface {
	CreateOrderFromCart(ctx context.Context, order *models.Order, snapshot []models.CartLine) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	ListOrders(ctx context.Context, filter store.OrderFilter) ([]models.Order, error)
	TransitionOrder(ctx context.Context, t store.Transition) (*models.Order, error)
	GetProofsByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.PaymentProof, error)
	ListAuditEntries(ctx context.Context, orderID uuid.UUID) ([]models.AuditEntry, error)
}

type ReportStore interface {
	CountOrdersByStatus(ctx context.Context) (map[models.OrderStatus]int, error)
	SumRevenue(ctx context.Context, statuses []models.OrderStatus) (decimal.Decimal, error)
	CountLowStockProducts(ctx context.Context, threshold int) (int, error)
}

// CheckoutReplayCache remembers which order a checkout fingerprint produced
type CheckoutReplayCache interface {
	GetCheckoutReplay(ctx context.Context, fingerprint string) (uuid.UUID, bool, error)
	SetCheckoutReplay(ctx context.Context, fingerprint string, orderID uuid.UUID, ttl time.Duration) error
}

// Locker serializes checkouts of one customer across instances
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}
