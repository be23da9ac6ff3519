package service

import (
	"context"
	"errors"
	"time"

	"storefront/config"
	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Audit actions
const (
	ActionApprove       = "approve"
	ActionApproveForced = "approve_forced"
	ActionReject        = "reject"
	ActionCancel        = "cancel"
	ActionShip          = "ship"
	ActionDeliver       = "deliver"
)

// ApproveInput carries the reviewer's decision details
type ApproveInput struct {
	Notes string `json:"notes" validate:"max=2000"`
	// ForceWithoutStock approves without committing stock; super admins only
	ForceWithoutStock bool `json:"force_without_stock"`
}

// DecisionInput carries a free-text rationale
type DecisionInput struct {
	Notes string `json:"notes" validate:"max=2000"`
}

// ListFilter narrows order listings
type ListFilter struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// OrderDetails is an order with its evidence and administrative history
type OrderDetails struct {
	*models.Order
	Proofs  []models.PaymentProof `json:"proofs"`
	History []models.AuditEntry   `json:"history,omitempty"`
}

// ReviewService is the administrative authority over paid orders and the
// downstream fulfilment transitions
type ReviewService struct {
	orders    OrderStore
	publisher EventPublisher
	policy    config.StockPolicy
	logger    *zap.Logger
}

// NewReviewService creates a new review service
func NewReviewService(orders OrderStore, publisher EventPublisher, policy config.StockPolicy) *ReviewService {
	return &ReviewService{
		orders:    orders,
		publisher: publisher,
		policy:    policy,
		logger:    util.GetLogger(),
	}
}

// transitionRequest is one lifecycle step applied by an actor
type transitionRequest struct {
	actor          *auth.Principal
	orderID        uuid.UUID
	to             models.OrderStatus
	action         string
	notes          string
	decrementStock bool
	proofStatus    models.ProofStatus
	// authorize runs against the loaded order before anything is written
	authorize func(order *models.Order) error
}

// Approve moves a paid order to approved. Under the decrement policy the
// order's frozen quantities are taken from stock in the same transaction;
// if any product cannot cover its line the order stays paid.
func (s *ReviewService) Approve(ctx context.Context, p *auth.Principal, orderID uuid.UUID, input ApproveInput) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.Approve")
	defer func() { util.EndSpan(span, err) }()

	if err := auth.RequireAdmin(p); err != nil {
		return nil, err
	}
	if input.ForceWithoutStock {
		if err := auth.RequireSuperAdmin(p); err != nil {
			return nil, err
		}
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	action := ActionApprove
	if input.ForceWithoutStock {
		action = ActionApproveForced
	}

	start := time.Now()
	defer func() { util.ApprovalLatency.Observe(time.Since(start).Seconds()) }()

	return s.apply(ctx, transitionRequest{
		actor:          p,
		orderID:        orderID,
		to:             models.OrderStatusApproved,
		action:         action,
		notes:          input.Notes,
		decrementStock: s.policy == config.StockPolicyDecrement && !input.ForceWithoutStock,
		proofStatus:    models.ProofStatusApproved,
	})
}

// Reject moves a paid order to rejected; stock is never touched
func (s *ReviewService) Reject(ctx context.Context, p *auth.Principal, orderID uuid.UUID, input DecisionInput) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.Reject")
	defer func() { util.EndSpan(span, err) }()

	if err := auth.RequireAdmin(p); err != nil {
		return nil, err
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	return s.apply(ctx, transitionRequest{
		actor:       p,
		orderID:     orderID,
		to:          models.OrderStatusRejected,
		action:      ActionReject,
		notes:       input.Notes,
		proofStatus: models.ProofStatusRejected,
	})
}

// Cancel withdraws a pending order; the owner or any admin may cancel
func (s *ReviewService) Cancel(ctx context.Context, p *auth.Principal, orderID uuid.UUID, input DecisionInput) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.Cancel")
	defer func() { util.EndSpan(span, err) }()

	if err := auth.RequireAny(p); err != nil {
		return nil, err
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	return s.apply(ctx, transitionRequest{
		actor:   p,
		orderID: orderID,
		to:      models.OrderStatusCancelled,
		action:  ActionCancel,
		notes:   input.Notes,
		authorize: func(order *models.Order) error {
			return authorizeOwnerOrAdmin(p, order)
		},
	})
}

// Ship moves an approved order to shipped
func (s *ReviewService) Ship(ctx context.Context, p *auth.Principal, orderID uuid.UUID) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.Ship")
	defer func() { util.EndSpan(span, err) }()

	if err := auth.RequireAdmin(p); err != nil {
		return nil, err
	}
	return s.apply(ctx, transitionRequest{
		actor:   p,
		orderID: orderID,
		to:      models.OrderStatusShipped,
		action:  ActionShip,
	})
}

// Deliver moves a shipped order to delivered
func (s *ReviewService) Deliver(ctx context.Context, p *auth.Principal, orderID uuid.UUID) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.Deliver")
	defer func() { util.EndSpan(span, err) }()

	if err := auth.RequireAdmin(p); err != nil {
		return nil, err
	}
	return s.apply(ctx, transitionRequest{
		actor:   p,
		orderID: orderID,
		to:      models.OrderStatusDelivered,
		action:  ActionDeliver,
	})
}

func (s *ReviewService) apply(ctx context.Context, req transitionRequest) (*models.Order, error) {
	order, err := s.load(ctx, req.orderID)
	if err != nil {
		return nil, err
	}
	if req.authorize != nil {
		if err := req.authorize(order); err != nil {
			return nil, err
		}
	}
	from := order.Status
	if !from.CanTransitionTo(req.to) {
		return nil, invalidTransition(from, req.to)
	}

	t := store.Transition{
		OrderID:     order.ID,
		From:        from,
		To:          req.to,
		Notes:       req.notes,
		ProofStatus: req.proofStatus,
	}
	if req.decrementStock {
		t.DecrementStock = order.Items
	}
	if req.actor.IsAdmin() {
		t.Audit = &models.AuditEntry{
			AdminID:    req.actor.ID,
			Action:     req.action,
			OrderID:    order.ID,
			FromStatus: string(from),
			ToStatus:   string(req.to),
			Notes:      req.notes,
		}
	}

	updated, err := s.orders.TransitionOrder(ctx, t)
	if err != nil {
		return nil, s.transitionError(ctx, order, req.to, err)
	}

	s.logger.Info("Order status changed",
		zap.String("order_id", order.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(req.to)),
		zap.String("actor_id", req.actor.ID.String()),
		zap.Bool("stock_committed", req.decrementStock))

	publishStatusChanged(ctx, s.publisher, s.logger, statusChange{
		order:          updated,
		from:           from,
		actorID:        req.actor.ID,
		notes:          req.notes,
		stockCommitted: req.decrementStock,
	})
	return updated, nil
}

func (s *ReviewService) transitionError(ctx context.Context, order *models.Order, to models.OrderStatus, err error) error {
	var conflict *store.StockConflictError
	switch {
	case errors.As(err, &conflict):
		util.StockConflictsTotal.Inc()
		s.logger.Warn("Approval refused, stock no longer covers order",
			zap.String("order_id", order.ID.String()),
			zap.Int("short_lines", len(conflict.Shortages)))
		return apperr.Wrap(apperr.CodeStockConflict, err, "stock no longer covers this order").
			WithDetails(conflict.Shortages)
	case errors.Is(err, store.ErrStatusChanged):
		// another decision committed first; report the status it left behind
		current := order.Status
		if latest, loadErr := s.orders.GetOrderByID(ctx, order.ID); loadErr == nil {
			current = latest.Status
		}
		return invalidTransition(current, to)
	default:
		return apperr.Temporary(err, "failed to update order")
	}
}

// ListOrders returns orders newest first; customers only see their own
func (s *ReviewService) ListOrders(ctx context.Context, p *auth.Principal, filter ListFilter) (orders []models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.ListOrders")
	defer func() { util.EndSpan(span, err) }()

	if err := auth.RequireAny(p); err != nil {
		return nil, err
	}

	query := store.OrderFilter{Limit: filter.Limit, Offset: filter.Offset}
	if query.Limit <= 0 {
		query.Limit = defaultListLimit
	}
	if query.Limit > maxListLimit {
		query.Limit = maxListLimit
	}
	if query.Offset < 0 {
		return nil, apperr.New(apperr.CodeValidation, "offset must not be negative")
	}
	if filter.Status != "" {
		status, err := models.ParseOrderStatus(filter.Status)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeValidation, err, "unknown order status").
				WithDetails(map[string]string{"status": "is invalid"})
		}
		query.Status = status
	}
	if !p.IsAdmin() {
		customerID := p.ID
		query.CustomerID = &customerID
	}

	orders, err = s.orders.ListOrders(ctx, query)
	if err != nil {
		return nil, apperr.Temporary(err, "failed to list orders")
	}
	return orders, nil
}

// GetOrder returns an order with its proofs; admins also get the audit trail
func (s *ReviewService) GetOrder(ctx context.Context, p *auth.Principal, orderID uuid.UUID) (details *OrderDetails, err error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.GetOrder")
	defer func() { util.EndSpan(span, err) }()

	if err := auth.RequireAny(p); err != nil {
		return nil, err
	}
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwnerOrAdmin(p, order); err != nil {
		return nil, err
	}

	proofs, err := s.orders.GetProofsByOrderID(ctx, orderID)
	if err != nil {
		return nil, apperr.Temporary(err, "failed to load payment proofs")
	}
	details = &OrderDetails{Order: order, Proofs: proofs}

	if p.IsAdmin() {
		history, err := s.orders.ListAuditEntries(ctx, orderID)
		if err != nil {
			return nil, apperr.Temporary(err, "failed to load order history")
		}
		details.History = history
	}
	return details, nil
}

func (s *ReviewService) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Newf(apperr.CodeNotFound, "order %s not found", orderID)
	}
	if err != nil {
		return nil, apperr.Temporary(err, "failed to load order")
	}
	return order, nil
}

func authorizeOwnerOrAdmin(p *auth.Principal, order *models.Order) error {
	if p.IsAdmin() || p.ID == order.CustomerID {
		return nil
	}
	return apperr.New(apperr.CodeUnauthorized, "order belongs to another customer")
}

func invalidTransition(from, to models.OrderStatus) error {
	return apperr.Newf(apperr.CodeInvalidTransition, "cannot move order from %s to %s", from, to).
		WithDetails(apperr.TransitionDetails{From: string(from), To: string(to)})
}
