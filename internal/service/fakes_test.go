package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"storefront/config"
	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeDB is an in-memory stand-in for the Postgres store. Every method holds
// one mutex, so TransitionOrder is as atomic as the real transaction.
type fakeDB struct {
	mu       sync.Mutex
	products map[uuid.UUID]*models.Product
	carts    map[uuid.UUID]map[uuid.UUID]models.CartLine
	orders   map[uuid.UUID]*models.Order
	proofs   map[uuid.UUID][]models.PaymentProof
	audit    map[uuid.UUID][]models.AuditEntry
	clock    time.Time

	failReads        error
	beforeCreate     func(order *models.Order)
	beforeTransition func(t store.Transition)
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		products: make(map[uuid.UUID]*models.Product),
		carts:    make(map[uuid.UUID]map[uuid.UUID]models.CartLine),
		orders:   make(map[uuid.UUID]*models.Order),
		proofs:   make(map[uuid.UUID][]models.PaymentProof),
		audit:    make(map[uuid.UUID][]models.AuditEntry),
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick must be called with mu held
func (f *fakeDB) tick() time.Time {
	f.clock = f.clock.Add(time.Millisecond)
	return f.clock
}

func (f *fakeDB) addProduct(name, price string, stock int) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.products[id] = &models.Product{
		ID:            id,
		Name:          name,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		IsActive:      true,
		UpdatedAt:     f.tick(),
	}
	return id
}

func (f *fakeDB) updateProduct(id uuid.UUID, fn func(p *models.Product)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.products[id])
}

func (f *fakeDB) stock(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[id].StockQuantity
}

func (f *fakeDB) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func (f *fakeDB) status(id uuid.UUID) models.OrderStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id].Status
}

func (f *fakeDB) GetProductByID(_ context.Context, id uuid.UUID) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads != nil {
		return nil, f.failReads
	}
	product, ok := f.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *product
	return &clone, nil
}

func (f *fakeDB) GetProductsByIDs(_ context.Context, ids []uuid.UUID) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads != nil {
		return nil, f.failReads
	}
	products := []models.Product{}
	for _, id := range ids {
		if product, ok := f.products[id]; ok {
			products = append(products, *product)
		}
	}
	return products, nil
}

func (f *fakeDB) CountLowStockProducts(_ context.Context, threshold int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, product := range f.products {
		if product.IsActive && product.StockQuantity < threshold {
			count++
		}
	}
	return count, nil
}

func (f *fakeDB) linesLocked(customerID uuid.UUID) []models.CartLine {
	lines := []models.CartLine{}
	for _, line := range f.carts[customerID] {
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].CreatedAt.Before(lines[j].CreatedAt) })
	return lines
}

func (f *fakeDB) GetCartLines(_ context.Context, customerID uuid.UUID) ([]models.CartLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.linesLocked(customerID), nil
}

func (f *fakeDB) GetCartLine(_ context.Context, customerID, productID uuid.UUID) (*models.CartLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	line, ok := f.carts[customerID][productID]
	if !ok {
		return nil, nil
	}
	return &line, nil
}

func (f *fakeDB) UpsertCartLine(_ context.Context, customerID, productID uuid.UUID, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.carts[customerID] == nil {
		f.carts[customerID] = make(map[uuid.UUID]models.CartLine)
	}
	now := f.tick()
	line, ok := f.carts[customerID][productID]
	if !ok {
		line = models.CartLine{CustomerID: customerID, ProductID: productID, CreatedAt: now}
	}
	line.Quantity = quantity
	line.UpdatedAt = now
	f.carts[customerID][productID] = line
	return nil
}

func (f *fakeDB) DeleteCartLine(_ context.Context, customerID, productID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.carts[customerID], productID)
	return nil
}

func (f *fakeDB) ClearCart(_ context.Context, customerID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.carts, customerID)
	return nil
}

func cloneOrder(order *models.Order) *models.Order {
	clone := *order
	clone.Items = append([]models.OrderItem(nil), order.Items...)
	return &clone
}

func (f *fakeDB) CreateOrderFromCart(_ context.Context, order *models.Order, snapshot []models.CartLine) error {
	if f.beforeCreate != nil {
		f.beforeCreate(order)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	current := f.linesLocked(order.CustomerID)
	if len(current) != len(snapshot) {
		return store.ErrCartChanged
	}
	want := make(map[uuid.UUID]int)
	for _, line := range snapshot {
		want[line.ProductID] = line.Quantity
	}
	for _, line := range current {
		if qty, ok := want[line.ProductID]; !ok || qty != line.Quantity {
			return store.ErrCartChanged
		}
	}
	for _, existing := range f.orders {
		if existing.IdempotencyKey == order.IdempotencyKey {
			return store.ErrDuplicateIdempotencyKey
		}
	}

	now := f.tick()
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}
	f.orders[order.ID] = cloneOrder(order)
	delete(f.carts, order.CustomerID)
	return nil
}

func (f *fakeDB) GetOrderByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (f *fakeDB) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, order := range f.orders {
		if order.IdempotencyKey == key {
			return cloneOrder(order), nil
		}
	}
	return nil, nil
}

func (f *fakeDB) ListOrders(_ context.Context, filter store.OrderFilter) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	orders := []models.Order{}
	for _, order := range f.orders {
		if filter.CustomerID != nil && order.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		clone := *order
		clone.Items = nil
		orders = append(orders, clone)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	if filter.Offset >= len(orders) {
		return []models.Order{}, nil
	}
	orders = orders[filter.Offset:]
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

func (f *fakeDB) TransitionOrder(_ context.Context, t store.Transition) (*models.Order, error) {
	if f.beforeTransition != nil {
		f.beforeTransition(t)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[t.OrderID]
	if !ok || order.Status != t.From {
		return nil, store.ErrStatusChanged
	}

	needed := make(map[uuid.UUID]int)
	names := make(map[uuid.UUID]string)
	for _, item := range t.DecrementStock {
		needed[item.ProductID] += item.Quantity
		names[item.ProductID] = item.ProductName
	}
	var shortages []apperr.StockShortage
	for id, qty := range needed {
		available := 0
		if product, ok := f.products[id]; ok {
			available = product.StockQuantity
		}
		if available < qty {
			shortages = append(shortages, apperr.StockShortage{ProductID: id, Name: names[id], Requested: qty, Available: available})
		}
	}
	if len(shortages) > 0 {
		return nil, &store.StockConflictError{Shortages: shortages}
	}
	for id, qty := range needed {
		f.products[id].StockQuantity -= qty
	}

	now := f.tick()
	order.Status = t.To
	order.UpdatedAt = now
	if t.Notes != "" {
		order.AdminNotes = t.Notes
	}
	if t.Proof != nil {
		t.Proof.SubmittedAt = now
		f.proofs[t.OrderID] = append(f.proofs[t.OrderID], *t.Proof)
	}
	if t.ProofStatus != "" {
		for i := range f.proofs[t.OrderID] {
			f.proofs[t.OrderID][i].Status = t.ProofStatus
		}
	}
	if t.Audit != nil {
		entry := *t.Audit
		entry.ID = uuid.New()
		entry.CreatedAt = now
		f.audit[t.OrderID] = append(f.audit[t.OrderID], entry)
	}
	return cloneOrder(order), nil
}

func (f *fakeDB) GetProofsByOrderID(_ context.Context, orderID uuid.UUID) ([]models.PaymentProof, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PaymentProof{}, f.proofs[orderID]...), nil
}

func (f *fakeDB) ListAuditEntries(_ context.Context, orderID uuid.UUID) ([]models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AuditEntry{}, f.audit[orderID]...), nil
}

func (f *fakeDB) CountOrdersByStatus(_ context.Context) (map[models.OrderStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[models.OrderStatus]int)
	for _, order := range f.orders {
		counts[order.Status]++
	}
	return counts, nil
}

func (f *fakeDB) SumRevenue(_ context.Context, statuses []models.OrderStatus) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := decimal.Zero
	for _, order := range f.orders {
		for _, status := range statuses {
			if order.Status == status {
				total = total.Add(order.TotalAmount)
			}
		}
	}
	return total, nil
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	err     error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (s *fakeStorage) Store(_ context.Context, key, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.objects[key] = data
	return "https://files.test/" + key, nil
}

func (s *fakeStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

type fakePublisher struct {
	mu      sync.Mutex
	created []*models.OrderCreatedEvent
	changed []*models.OrderStatusChangedEvent
	err     error
}

func (p *fakePublisher) PublishOrderCreated(_ context.Context, event *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, event)
	return p.err
}

func (p *fakePublisher) PublishStatusChanged(_ context.Context, event *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, event)
	return p.err
}

func (p *fakePublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := []string{}
	for _, event := range p.changed {
		types = append(types, event.EventType)
	}
	return types
}

type fakeReplay struct {
	mu      sync.Mutex
	records map[string]uuid.UUID
}

func (r *fakeReplay) GetCheckoutReplay(_ context.Context, fingerprint string) (uuid.UUID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.records[fingerprint]
	return id, ok, nil
}

func (r *fakeReplay) SetCheckoutReplay(_ context.Context, fingerprint string, orderID uuid.UUID, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[fingerprint] = orderID
	return nil
}

type fakeLocker struct {
	mu    sync.Mutex
	held  map[string]string
	err   error
	calls int
}

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return "", false, l.err
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = token
	return token, true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

var errDBDown = errors.New("connection refused")

// pngBytes carries a PNG signature followed by junk
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)

type harness struct {
	db        *fakeDB
	storage   *fakeStorage
	publisher *fakePublisher
	replay    *fakeReplay
	locker    *fakeLocker
	cart      *CartService
	checkout  *CheckoutService
	payments  *PaymentService
	review    *ReviewService
	reports   *ReportService
	admin     *auth.Principal
	super     *auth.Principal
}

func newHarness(t *testing.T, policy config.StockPolicy) *harness {
	t.Helper()
	db := newFakeDB()
	h := &harness{
		db:        db,
		storage:   newFakeStorage(),
		publisher: &fakePublisher{},
		replay:    &fakeReplay{records: make(map[string]uuid.UUID)},
		locker:    &fakeLocker{held: make(map[string]string)},
		admin:     auth.Admin(uuid.New(), false),
		super:     auth.Admin(uuid.New(), true),
	}
	catalog := NewCatalogClient(db, nil, 0, time.Second)
	h.cart = NewCartService(db, catalog)
	h.checkout = NewCheckoutService(db, db, catalog.Fresh(), h.publisher, config.DefaultBanks).
		WithReplayCache(h.replay, time.Hour).
		WithLocker(h.locker)
	h.payments = NewPaymentService(db, h.storage, h.publisher, 1024, time.Second)
	h.review = NewReviewService(db, h.publisher, policy)
	h.reports = NewReportService(db, 10)
	return h
}

func checkoutInput() CheckoutInput {
	return CheckoutInput{
		CustomerName:    "Ana Silva",
		CustomerEmail:   "ana@example.com",
		CustomerPhone:   "+244923000000",
		ShippingAddress: "Rua Direita 10, Luanda",
		Bank:            "BAI",
	}
}

// placeOrder fills a cart and compiles it into a pending order
func (h *harness) placeOrder(t *testing.T, customer *auth.Principal, productID uuid.UUID, qty int) *models.Order {
	t.Helper()
	ctx := context.Background()
	_, err := h.cart.AddItem(ctx, customer, productID, qty)
	require.NoError(t, err)
	order, err := h.checkout.Compile(ctx, customer, checkoutInput())
	require.NoError(t, err)
	return order
}

// placePaidOrder additionally submits a proof
func (h *harness) placePaidOrder(t *testing.T, customer *auth.Principal, productID uuid.UUID, qty int) *models.Order {
	t.Helper()
	order := h.placeOrder(t, customer, productID, qty)
	_, err := h.payments.SubmitProof(context.Background(), customer, order.ID, Artifact{FileName: "receipt.png", Data: pngBytes})
	require.NoError(t, err)
	return order
}

func newCustomer() *auth.Principal {
	return auth.Customer(uuid.New())
}
