package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderRowColumns = []string{
	"id", "customer_id", "total_amount", "status", "customer_name", "customer_email",
	"customer_phone", "shipping_address", "payment_method", "bank_name", "admin_notes",
	"idempotency_key", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreFromDB(sqlx.NewDb(db, "postgres")), mock
}

func orderRow(order *models.Order) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(orderRowColumns).AddRow(
		order.ID.String(), order.CustomerID.String(), order.TotalAmount.String(), string(order.Status),
		order.CustomerName, order.CustomerEmail, order.CustomerPhone, order.ShippingAddress,
		order.PaymentMethod, order.BankName, order.AdminNotes, order.IdempotencyKey, now, now,
	)
}

func newTestOrder(customerID uuid.UUID, productID uuid.UUID) *models.Order {
	orderID := uuid.New()
	return &models.Order{
		ID:              orderID,
		CustomerID:      customerID,
		TotalAmount:     decimal.RequireFromString("3000.00"),
		Status:          models.OrderStatusPending,
		CustomerName:    "Ana Silva",
		CustomerEmail:   "ana@example.com",
		CustomerPhone:   "+244900000000",
		ShippingAddress: "Rua 1, Luanda",
		PaymentMethod:   models.PaymentMethodBankTransfer,
		BankName:        "BAI",
		IdempotencyKey:  "key-1",
		Items: []models.OrderItem{
			{ID: uuid.New(), ProductID: productID, ProductName: "Kettle", UnitPrice: decimal.RequireFromString("1500.00"), Quantity: 2},
		},
	}
}

func cartRows(customerID uuid.UUID, lines ...models.CartLine) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"customer_id", "product_id", "quantity", "created_at", "updated_at"})
	for _, line := range lines {
		rows.AddRow(customerID.String(), line.ProductID.String(), line.Quantity, time.Now(), time.Now())
	}
	return rows
}

func TestCreateOrderFromCart_Success(t *testing.T) {
	s, mock := newMockStore(t)
	customerID, productID := uuid.New(), uuid.New()
	order := newTestOrder(customerID, productID)
	snapshot := []models.CartLine{{CustomerID: customerID, ProductID: productID, Quantity: 2}}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM cart_lines WHERE customer_id = $1 FOR UPDATE")).
		WithArgs(customerID).
		WillReturnRows(cartRows(customerID, snapshot...))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnRows(orderRow(order))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs(order.Items[0].ID, order.ID, productID, "Kettle", sqlmock.AnyArg(), 2).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cart_lines WHERE customer_id = $1")).
		WithArgs(customerID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.CreateOrderFromCart(context.Background(), order, snapshot))
	assert.Equal(t, order.ID, order.Items[0].OrderID)
	assert.False(t, order.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderFromCart_CartChanged(t *testing.T) {
	s, mock := newMockStore(t)
	customerID, productID := uuid.New(), uuid.New()
	order := newTestOrder(customerID, productID)
	snapshot := []models.CartLine{{CustomerID: customerID, ProductID: productID, Quantity: 2}}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(cartRows(customerID, models.CartLine{ProductID: productID, Quantity: 3}))
	mock.ExpectRollback()

	err := s.CreateOrderFromCart(context.Background(), order, snapshot)
	assert.ErrorIs(t, err, ErrCartChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderFromCart_DuplicateKey(t *testing.T) {
	s, mock := newMockStore(t)
	customerID, productID := uuid.New(), uuid.New()
	order := newTestOrder(customerID, productID)
	snapshot := []models.CartLine{{CustomerID: customerID, ProductID: productID, Quantity: 2}}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(cartRows(customerID, snapshot...))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := s.CreateOrderFromCart(context.Background(), order, snapshot)
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionOrder_ApproveDecrementsStock(t *testing.T) {
	s, mock := newMockStore(t)
	customerID, productID, adminID := uuid.New(), uuid.New(), uuid.New()
	order := newTestOrder(customerID, productID)
	order.Status = models.OrderStatusApproved

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE orders")).
		WithArgs(models.OrderStatusApproved, "ok", order.ID, models.OrderStatusPaid).
		WillReturnRows(orderRow(order))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $2 AND stock_quantity >= $1")).
		WithArgs(2, productID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payment_proofs SET status = $1")).
		WithArgs(models.ProofStatusApproved, order.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO admin_logs")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items WHERE order_id = $1")).
		WithArgs(order.ID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "product_name", "unit_price", "quantity"}).
			AddRow(order.Items[0].ID.String(), order.ID.String(), productID.String(), "Kettle", "1500.00", 2))

	updated, err := s.TransitionOrder(context.Background(), Transition{
		OrderID:        order.ID,
		From:           models.OrderStatusPaid,
		To:             models.OrderStatusApproved,
		Notes:          "ok",
		DecrementStock: order.Items,
		ProofStatus:    models.ProofStatusApproved,
		Audit:          &models.AuditEntry{AdminID: adminID, Action: "approve", OrderID: order.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusApproved, updated.Status)
	require.Len(t, updated.Items, 1)
	assert.Equal(t, 2, updated.Items[0].Quantity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionOrder_StockConflictRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	customerID, productID := uuid.New(), uuid.New()
	order := newTestOrder(customerID, productID)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE orders")).
		WillReturnRows(orderRow(order))
	mock.ExpectExec(regexp.QuoteMeta("stock_quantity >= $1")).
		WithArgs(2, productID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT stock_quantity FROM products WHERE id = $1")).
		WithArgs(productID).
		WillReturnRows(sqlmock.NewRows([]string{"stock_quantity"}).AddRow(1))
	mock.ExpectRollback()

	_, err := s.TransitionOrder(context.Background(), Transition{
		OrderID:        order.ID,
		From:           models.OrderStatusPaid,
		To:             models.OrderStatusApproved,
		DecrementStock: order.Items,
	})

	var conflict *StockConflictError
	require.True(t, errors.As(err, &conflict))
	require.Len(t, conflict.Shortages, 1)
	assert.Equal(t, apperr.StockShortage{ProductID: productID, Name: "Kettle", Requested: 2, Available: 1}, conflict.Shortages[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionOrder_StatusChanged(t *testing.T) {
	s, mock := newMockStore(t)
	orderID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE orders")).
		WillReturnRows(sqlmock.NewRows(orderRowColumns))
	mock.ExpectRollback()

	_, err := s.TransitionOrder(context.Background(), Transition{
		OrderID: orderID,
		From:    models.OrderStatusPending,
		To:      models.OrderStatusCancelled,
	})
	assert.ErrorIs(t, err, ErrStatusChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductByID_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "stock_quantity", "is_active", "updated_at"}))

	_, err := s.GetProductByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetProductsByIDs(t *testing.T) {
	s, mock := newMockStore(t)
	a, b := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id IN ($1, $2)")).
		WithArgs(a, b).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "stock_quantity", "is_active", "updated_at"}).
			AddRow(a.String(), "Kettle", "1500.00", 4, true, time.Now()).
			AddRow(b.String(), "Toaster", "900.50", 0, true, time.Now()))

	products, err := s.GetProductsByIDs(context.Background(), []uuid.UUID{a, b})
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.True(t, decimal.RequireFromString("900.50").Equal(products[1].Price))

	empty, err := s.GetProductsByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrders_Filters(t *testing.T) {
	s, mock := newMockStore(t)
	customerID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("AND customer_id = $1 AND status = $2 ORDER BY created_at DESC, id LIMIT $3")).
		WithArgs(customerID, models.OrderStatusPaid, 20).
		WillReturnRows(sqlmock.NewRows(orderRowColumns))

	orders, err := s.ListOrders(context.Background(), OrderFilter{
		CustomerID: &customerID,
		Status:     models.OrderStatusPaid,
		Limit:      20,
	})
	require.NoError(t, err)
	assert.Empty(t, orders)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountOrdersByStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("paid", 3).
			AddRow("approved", 2))

	counts, err := s.CountOrdersByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.OrderStatusPaid])
	assert.Equal(t, 2, counts[models.OrderStatusApproved])
	assert.Zero(t, counts[models.OrderStatusPending])
}
