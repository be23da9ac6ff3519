package service

import (
	"context"
	"math"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartService owns the per-customer cart ledger. Stock is checked on every
// mutation but never reserved; checkout and approval re-check it.
type CartService struct {
	carts   CartStore
	catalog CatalogReader
	logger  *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(carts CartStore, catalog CatalogReader) *CartService {
	return &CartService{
		carts:   carts,
		catalog: catalog,
		logger:  util.GetLogger(),
	}
}

// AddItem increments the line for productID by quantity
func (s *CartService) AddItem(ctx context.Context, p *auth.Principal, productID uuid.UUID, quantity int) (cart *models.Cart, err error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer func() { util.EndSpan(span, err) }()
	defer func() { recordCartMutation("add", err) }()

	customerID, err := auth.RequireCustomer(p)
	if err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, apperr.New(apperr.CodeValidation, "quantity must be at least 1")
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	existing, err := s.carts.GetCartLine(ctx, customerID, productID)
	if err != nil {
		return nil, apperr.Temporary(err, "failed to read cart")
	}

	current := 0
	if existing != nil {
		current = existing.Quantity
	}
	// compare against the remaining room so huge quantities cannot wrap the sum
	if !product.Purchasable() || quantity > availableQuantity(product)-current {
		requested := math.MaxInt
		if quantity <= math.MaxInt-current {
			requested = current + quantity
		}
		return nil, outOfStock(product, requested)
	}
	total := current + quantity

	if err := s.carts.UpsertCartLine(ctx, customerID, productID, total); err != nil {
		return nil, apperr.Temporary(err, "failed to update cart")
	}

	s.logger.Debug("Cart item added",
		zap.String("customer_id", customerID.String()),
		zap.String("product_id", productID.String()),
		zap.Int("quantity", total))

	return s.GetCart(ctx, p)
}

// SetQuantity replaces the line quantity; quantity <= 0 removes the line
func (s *CartService) SetQuantity(ctx context.Context, p *auth.Principal, productID uuid.UUID, quantity int) (cart *models.Cart, err error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, p, productID)
	}

	ctx, span := util.StartSpan(ctx, "CartService.SetQuantity")
	defer func() { util.EndSpan(span, err) }()
	defer func() { recordCartMutation("set", err) }()

	customerID, err := auth.RequireCustomer(p)
	if err != nil {
		return nil, err
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := checkStock(product, quantity); err != nil {
		return nil, err
	}

	if err := s.carts.UpsertCartLine(ctx, customerID, productID, quantity); err != nil {
		return nil, apperr.Temporary(err, "failed to update cart")
	}
	return s.GetCart(ctx, p)
}

// RemoveItem deletes the line; removing an absent line succeeds
func (s *CartService) RemoveItem(ctx context.Context, p *auth.Principal, productID uuid.UUID) (cart *models.Cart, err error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer func() { util.EndSpan(span, err) }()
	defer func() { recordCartMutation("remove", err) }()

	customerID, err := auth.RequireCustomer(p)
	if err != nil {
		return nil, err
	}
	if err := s.carts.DeleteCartLine(ctx, customerID, productID); err != nil {
		return nil, apperr.Temporary(err, "failed to update cart")
	}
	return s.GetCart(ctx, p)
}

// Clear drops every line of the caller's cart
func (s *CartService) Clear(ctx context.Context, p *auth.Principal) (err error) {
	ctx, span := util.StartSpan(ctx, "CartService.Clear")
	defer func() { util.EndSpan(span, err) }()
	defer func() { recordCartMutation("clear", err) }()

	customerID, err := auth.RequireCustomer(p)
	if err != nil {
		return err
	}
	if err := s.carts.ClearCart(ctx, customerID); err != nil {
		return apperr.Temporary(err, "failed to clear cart")
	}
	return nil
}

// GetCart returns the ledger priced at current catalog prices
func (s *CartService) GetCart(ctx context.Context, p *auth.Principal) (*models.Cart, error) {
	customerID, err := auth.RequireCustomer(p)
	if err != nil {
		return nil, err
	}

	lines, err := s.carts.GetCartLines(ctx, customerID)
	if err != nil {
		return nil, apperr.Temporary(err, "failed to read cart")
	}

	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	cart := &models.Cart{
		CustomerID: customerID,
		Items:      make([]models.CartItemView, 0, len(lines)),
		Subtotal:   decimal.Zero,
	}
	for _, line := range lines {
		item := models.CartItemView{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: decimal.Zero,
			Subtotal:  decimal.Zero,
		}
		// a product deleted after the lines were read shows at zero
		if product, ok := products[line.ProductID]; ok {
			item.Name = product.Name
			item.UnitPrice = product.Price
			item.Available = availableQuantity(product)
			item.Subtotal = product.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		}
		cart.Items = append(cart.Items, item)
		cart.ItemCount += line.Quantity
		cart.Subtotal = cart.Subtotal.Add(item.Subtotal)
	}
	return cart, nil
}

// Totals derives the item count and subtotal at current prices
func (s *CartService) Totals(ctx context.Context, p *auth.Principal) (int, decimal.Decimal, error) {
	cart, err := s.GetCart(ctx, p)
	if err != nil {
		return 0, decimal.Zero, err
	}
	return cart.ItemCount, cart.Subtotal, nil
}

func availableQuantity(product *models.Product) int {
	if !product.IsActive {
		return 0
	}
	return product.StockQuantity
}

func checkStock(product *models.Product, requested int) error {
	if product.Purchasable() && requested <= availableQuantity(product) {
		return nil
	}
	return outOfStock(product, requested)
}

func outOfStock(product *models.Product, requested int) error {
	available := availableQuantity(product)
	return apperr.Newf(apperr.CodeOutOfStock, "only %d of %s available", available, product.Name).
		WithDetails([]apperr.StockShortage{{
			ProductID: product.ID,
			Name:      product.Name,
			Requested: requested,
			Available: available,
		}})
}

func recordCartMutation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.CodeOf(err))
	}
	util.CartMutationsTotal.WithLabelValues(operation, outcome).Inc()
}
