package service

import (
	"context"
	"errors"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CatalogClient reads products from the database through a short-lived cache
type CatalogClient struct {
	store   ProductStore
	cache   ProductCache
	ttl     time.Duration
	timeout time.Duration
	fresh   bool
	logger  *zap.Logger
}

// NewCatalogClient creates a catalog reader; cache may be nil
func NewCatalogClient(store ProductStore, cache ProductCache, ttl, timeout time.Duration) *CatalogClient {
	return &CatalogClient{
		store:   store,
		cache:   cache,
		ttl:     ttl,
		timeout: timeout,
		logger:  util.GetLogger(),
	}
}

// Fresh returns a reader that always loads from the store and refreshes the
// cache with what it read. Checkout uses it for the authoritative stock and
// price check.
func (c *CatalogClient) Fresh() *CatalogClient {
	fresh := *c
	fresh.fresh = true
	return &fresh
}

// GetProduct returns one product or NotFound
func (c *CatalogClient) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogClient.GetProduct")
	defer span.End()

	if cached := c.fromCache(ctx, id); cached != nil {
		return cached, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	product, err := c.store.GetProductByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Newf(apperr.CodeNotFound, "product %s not found", id)
	}
	if err != nil {
		return nil, apperr.Temporary(err, "catalog unavailable")
	}

	c.toCache(ctx, product)
	return product, nil
}

// GetProducts returns the products found among ids; missing ids are absent from the map
func (c *CatalogClient) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogClient.GetProducts")
	defer span.End()

	result := make(map[uuid.UUID]*models.Product, len(ids))
	misses := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if cached := c.fromCache(ctx, id); cached != nil {
			result[id] = cached
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return result, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	products, err := c.store.GetProductsByIDs(ctx, misses)
	if err != nil {
		return nil, apperr.Temporary(err, "catalog unavailable")
	}
	for i := range products {
		product := &products[i]
		result[product.ID] = product
		c.toCache(ctx, product)
	}
	return result, nil
}

func (c *CatalogClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *CatalogClient) fromCache(ctx context.Context, id uuid.UUID) *models.Product {
	if c.cache == nil || c.fresh {
		return nil
	}
	product, err := c.cache.GetProduct(ctx, id)
	if err != nil {
		c.logger.Warn("Catalog cache read failed, falling back to DB",
			zap.String("product_id", id.String()),
			zap.Error(err))
		return nil
	}
	return product
}

func (c *CatalogClient) toCache(ctx context.Context, product *models.Product) {
	if c.cache == nil || c.ttl <= 0 {
		return
	}
	if err := c.cache.SetProduct(ctx, product, c.ttl); err != nil {
		c.logger.Warn("Failed to cache product",
			zap.String("product_id", product.ID.String()),
			zap.Error(err))
	}
}
