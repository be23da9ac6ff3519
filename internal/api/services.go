package api

import (
	"context"

	"storefront/config"
	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/google/uuid"
)

type CartService interface {
	GetCart(ctx context.Context, p *auth.Principal) (*models.Cart, error)
	AddItem(ctx context.Context, p *auth.Principal, productID uuid.UUID, quantity int) (*models.Cart, error)
	SetQuantity(ctx context.Context, p *auth.Principal, productID uuid.UUID, quantity int) (*models.Cart, error)
	RemoveItem(ctx context.Context, p *auth.Principal, productID uuid.UUID) (*models.Cart, error)
	Clear(ctx context.Context, p *auth.Principal) error
}

type CheckoutService interface {
	Compile(ctx context.Context, p *auth.Principal, input service.CheckoutInput) (*models.Order, error)
	Banks() []config.Bank
}

type PaymentService interface {
	SubmitProof(ctx context.Context, p *auth.Principal, orderID uuid.UUID, artifact service.Artifact) (*models.PaymentProof, error)
}

type ReviewService interface {
	Approve(ctx context.Context, p *auth.Principal, orderID uuid.UUID, input service.ApproveInput) (*models.Order, error)
	Reject(ctx context.Context, p *auth.Principal, orderID uuid.UUID, input service.DecisionInput) (*models.Order, error)
	Cancel(ctx context.Context, p *auth.Principal, orderID uuid.UUID, input service.DecisionInput) (*models.Order, error)
	Ship(ctx context.Context, p *auth.Principal, orderID uuid.UUID) (*models.Order, error)
	Deliver(ctx context.Context, p *auth.Principal, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, p *auth.Principal, filter service.ListFilter) ([]models.Order, error)
	GetOrder(ctx context.Context, p *auth.Principal, orderID uuid.UUID) (*service.OrderDetails, error)
}

type ReportService interface {
	Stats(ctx context.Context, p *auth.Principal) (*service.Stats, error)
}

// Services bundles the domain services the HTTP layer delegates to
type Services struct {
	Cart     CartService
	Checkout CheckoutService
	Payments PaymentService
	Review   ReviewService
	Reports  ReportService
}

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error
