package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
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

const checkoutLockTTL = 30 * time.Second

// CheckoutInput carries the contact and settlement details of a checkout
type CheckoutInput struct {
	CustomerName    string `json:"customer_name" validate:"required,max=200"`
	CustomerEmail   string `json:"customer_email" validate:"required,email,max=254"`
	CustomerPhone   string `json:"customer_phone" validate:"required,min=6,max=32"`
	ShippingAddress string `json:"shipping_address" validate:"required,max=500"`
	Bank            string `json:"bank" validate:"required"`
	// IdempotencyKey is supplied by the client through a header, never the body
	IdempotencyKey string `json:"-" validate:"max=128"`
}

// CheckoutService compiles a cart into an immutable pending order
type CheckoutService struct {
	orders    OrderStore
	carts     CartStore
	catalog   CatalogReader
	publisher EventPublisher
	banks     map[string]config.Bank
	bankList  []config.Bank
	replay    CheckoutReplayCache
	replayTTL time.Duration
	locker    Locker
	logger    *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	orders OrderStore,
	carts CartStore,
	catalog CatalogReader,
	publisher EventPublisher,
	banks []config.Bank,
) *CheckoutService {
	byCode := make(map[string]config.Bank, len(banks))
	for _, bank := range banks {
		byCode[strings.ToLower(bank.Code)] = bank
	}
	return &CheckoutService{
		orders:    orders,
		carts:     carts,
		catalog:   catalog,
		publisher: publisher,
		banks:     byCode,
		bankList:  banks,
		logger:    util.GetLogger(),
	}
}

// WithReplayCache enables answering retries that arrive after the cart was cleared
func (s *CheckoutService) WithReplayCache(cache CheckoutReplayCache, ttl time.Duration) *CheckoutService {
	s.replay = cache
	s.replayTTL = ttl
	return s
}

// WithLocker serializes concurrent checkouts of the same customer
func (s *CheckoutService) WithLocker(locker Locker) *CheckoutService {
	s.locker = locker
	return s
}

// Banks lists the settlement accounts customers may transfer to
func (s *CheckoutService) Banks() []config.Bank {
	return append([]config.Bank(nil), s.bankList...)
}

// Compile converts the caller's cart into a pending order. Either the order
// with all its lines is created and the cart emptied, or nothing changes.
func (s *CheckoutService) Compile(ctx context.Context, p *auth.Principal, input CheckoutInput) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Compile")
	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
		outcome := "created"
		if err != nil {
			outcome = string(apperr.CodeOf(err))
		}
		util.CheckoutsTotal.WithLabelValues(outcome).Inc()
		util.EndSpan(span, err)
	}()

	customerID, err := auth.RequireCustomer(p)
	if err != nil {
		return nil, err
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	bank, ok := s.banks[strings.ToLower(strings.TrimSpace(input.Bank))]
	if !ok {
		return nil, apperr.Newf(apperr.CodeValidation, "unknown bank %q", input.Bank).
			WithDetails(map[string]string{"bank": "is not a settlement bank"})
	}

	if input.IdempotencyKey != "" {
		existing, err := s.orderByKey(ctx, customerID, clientKey(customerID, input.IdempotencyKey))
		if err != nil || existing != nil {
			return existing, err
		}
	}

	if s.locker != nil {
		lockKey := fmt.Sprintf("checkout:%s", customerID)
		token, acquired, err := s.locker.AcquireLock(ctx, lockKey, checkoutLockTTL)
		if err != nil {
			return nil, apperr.Temporary(err, "checkout lock unavailable")
		}
		if !acquired {
			return nil, apperr.New(apperr.CodeTemporaryFailure, "checkout already in progress")
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.Background(), lockKey, token); err != nil {
				s.logger.Warn("Failed to release checkout lock", zap.String("customer_id", customerID.String()), zap.Error(err))
			}
		}()
	}

	lines, err := s.carts.GetCartLines(ctx, customerID)
	if err != nil {
		return nil, apperr.Temporary(err, "failed to read cart")
	}
	if len(lines) == 0 {
		if replayed, err := s.replayed(ctx, customerID, input); err != nil || replayed != nil {
			return replayed, err
		}
		return nil, apperr.New(apperr.CodeValidation, "cart is empty")
	}

	key := clientKey(customerID, input.IdempotencyKey)
	if input.IdempotencyKey == "" {
		key = snapshotKey(customerID, lines, input)
		existing, err := s.orderByKey(ctx, customerID, key)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	items, err := s.freeze(ctx, lines)
	if err != nil {
		return nil, err
	}

	order = &models.Order{
		ID:              uuid.New(),
		CustomerID:      customerID,
		TotalAmount:     models.SumItems(items),
		Status:          models.OrderStatusPending,
		CustomerName:    strings.TrimSpace(input.CustomerName),
		CustomerEmail:   strings.TrimSpace(input.CustomerEmail),
		CustomerPhone:   strings.TrimSpace(input.CustomerPhone),
		ShippingAddress: strings.TrimSpace(input.ShippingAddress),
		PaymentMethod:   models.PaymentMethodBankTransfer,
		BankName:        bank.Name,
		IdempotencyKey:  key,
		Items:           items,
	}

	err = s.orders.CreateOrderFromCart(ctx, order, lines)
	switch {
	case errors.Is(err, store.ErrDuplicateIdempotencyKey):
		// a concurrent request with the same key won
		existing, lookupErr := s.orderByKey(ctx, customerID, key)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing == nil {
			return nil, apperr.New(apperr.CodeTemporaryFailure, "checkout conflicted, retry")
		}
		return existing, nil
	case errors.Is(err, store.ErrCartChanged):
		return nil, apperr.Wrap(apperr.CodeTemporaryFailure, err, "cart changed during checkout, retry")
	case err != nil:
		return nil, apperr.Temporary(err, "failed to create order")
	}

	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("customer_id", customerID.String()),
		zap.String("total", order.TotalAmount.StringFixed(2)),
		zap.Int("lines", len(order.Items)))

	s.remember(ctx, customerID, input, order.ID)
	s.publishCreated(ctx, order)
	return order, nil
}

// freeze re-validates every line against current stock and copies the
// product's name and price into an order line
func (s *CheckoutService) freeze(ctx context.Context, lines []models.CartLine) ([]models.OrderItem, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	var shortages []apperr.StockShortage
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			shortages = append(shortages, apperr.StockShortage{ProductID: line.ProductID, Requested: line.Quantity})
			continue
		}
		if available := availableQuantity(product); line.Quantity > available {
			shortages = append(shortages, apperr.StockShortage{
				ProductID: product.ID,
				Name:      product.Name,
				Requested: line.Quantity,
				Available: available,
			})
			continue
		}
		items = append(items, models.OrderItem{
			ID:          uuid.New(),
			ProductID:   product.ID,
			ProductName: product.Name,
			UnitPrice:   product.Price,
			Quantity:    line.Quantity,
		})
	}

	if len(shortages) > 0 {
		return nil, apperr.Newf(apperr.CodeInsufficientStock, "%d cart line(s) exceed available stock", len(shortages)).
			WithDetails(shortages)
	}
	return items, nil
}

func (s *CheckoutService) orderByKey(ctx context.Context, customerID uuid.UUID, key string) (*models.Order, error) {
	existing, err := s.orders.GetOrderByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, apperr.Temporary(err, "failed to check idempotency")
	}
	if existing == nil || existing.CustomerID != customerID {
		return nil, nil
	}
	s.logger.Info("Duplicate checkout request detected",
		zap.String("order_id", existing.ID.String()),
		zap.String("customer_id", customerID.String()))
	return existing, nil
}

func (s *CheckoutService) replayed(ctx context.Context, customerID uuid.UUID, input CheckoutInput) (*models.Order, error) {
	if s.replay == nil {
		return nil, nil
	}
	orderID, ok, err := s.replay.GetCheckoutReplay(ctx, inputFingerprint(customerID, input))
	if err != nil {
		s.logger.Warn("Checkout replay lookup failed", zap.Error(err))
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Temporary(err, "failed to load order")
	}
	if order.CustomerID != customerID {
		return nil, nil
	}
	s.logger.Info("Checkout retry answered from replay record", zap.String("order_id", orderID.String()))
	return order, nil
}

func (s *CheckoutService) remember(ctx context.Context, customerID uuid.UUID, input CheckoutInput, orderID uuid.UUID) {
	if s.replay == nil {
		return
	}
	if err := s.replay.SetCheckoutReplay(ctx, inputFingerprint(customerID, input), orderID, s.replayTTL); err != nil {
		s.logger.Warn("Failed to write checkout replay record",
			zap.String("order_id", orderID.String()),
			zap.Error(err))
	}
}

func (s *CheckoutService) publishCreated(ctx context.Context, order *models.Order) {
	if s.publisher == nil {
		return
	}
	event := &models.OrderCreatedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		TotalAmount: order.TotalAmount,
		BankName:    order.BankName,
		Items:       models.ItemData(order.Items),
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		util.EventsPublishFailedTotal.WithLabelValues(event.EventType).Inc()
		s.logger.Error("Failed to publish OrderCreated event",
			zap.String("order_id", order.ID.String()),
			zap.Error(err))
	}
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func clientKey(customerID uuid.UUID, key string) string {
	return digest("client", customerID.String(), key)
}

func inputFingerprint(customerID uuid.UUID, input CheckoutInput) string {
	return digest(
		"input",
		customerID.String(),
		strings.TrimSpace(input.CustomerName),
		strings.ToLower(strings.TrimSpace(input.CustomerEmail)),
		strings.TrimSpace(input.CustomerPhone),
		strings.TrimSpace(input.ShippingAddress),
		strings.ToLower(strings.TrimSpace(input.Bank)),
		input.IdempotencyKey,
	)
}

// snapshotKey derives an idempotency key from the customer, the sorted
// cart content and the checkout input. Line timestamps tell a retried
// snapshot apart from an identical cart filled again later.
func snapshotKey(customerID uuid.UUID, lines []models.CartLine, input CheckoutInput) string {
	sorted := append([]models.CartLine(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ProductID.String() < sorted[j].ProductID.String()
	})

	parts := []string{"cart", inputFingerprint(customerID, input)}
	for _, line := range sorted {
		parts = append(parts, fmt.Sprintf("%s:%d:%d", line.ProductID, line.Quantity, line.UpdatedAt.UnixNano()))
	}
	return digest(parts...)
}
