package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, customer_id, total_amount, status, customer_name, customer_email,
	customer_phone, shipping_address, payment_method, bank_name, admin_notes,
	idempotency_key, created_at, updated_at`

const orderItemColumns = `id, order_id, product_id, product_name, unit_price, quantity`

// StockConflictError is returned when an approval could not decrement every line
type StockConflictError struct {
	Shortages []apperr.StockShortage
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("insufficient stock for %d line(s)", len(e.Shortages))
}

// OrderFilter narrows ListOrders; zero values mean no restriction
type OrderFilter struct {
	CustomerID *uuid.UUID
	Status     models.OrderStatus
	Limit      int
	Offset     int
}

// Transition describes one conditional status change and the writes that
// must commit or roll back together with it.
type Transition struct {
	OrderID uuid.UUID
	From    models.OrderStatus
	To      models.OrderStatus
	// Notes replaces admin_notes when non-empty
	Notes string
	// DecrementStock lists lines whose quantities are taken from stock
	DecrementStock []models.OrderItem
	// Proof is inserted in the same transaction when set
	Proof *models.PaymentProof
	// ProofStatus is applied to every proof of the order when set
	ProofStatus models.ProofStatus
	// Audit is appended to admin_logs when set
	Audit *models.AuditEntry
}

// CreateOrderFromCart persists the order with its frozen items and clears the
// cart lines it was compiled from. The cart is re-read under lock and compared
// against snapshot; any difference aborts with ErrCartChanged.
func (s *Store) CreateOrderFromCart(ctx context.Context, order *models.Order, snapshot []models.CartLine) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var current []models.CartLine
		err := tx.SelectContext(ctx, &current,
			"SELECT "+cartLineColumns+" FROM cart_lines WHERE customer_id = $1 FOR UPDATE",
			order.CustomerID)
		if err != nil {
			return fmt.Errorf("failed to lock cart: %w", err)
		}
		if !sameLines(current, snapshot) {
			return ErrCartChanged
		}

		err = tx.GetContext(ctx, order, `
			INSERT INTO orders (id, customer_id, total_amount, status, customer_name, customer_email,
				customer_phone, shipping_address, payment_method, bank_name, admin_notes, idempotency_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING `+orderColumns,
			order.ID, order.CustomerID, order.TotalAmount, order.Status, order.CustomerName,
			order.CustomerEmail, order.CustomerPhone, order.ShippingAddress, order.PaymentMethod,
			order.BankName, order.AdminNotes, order.IdempotencyKey)
		if isUniqueViolation(err) {
			return ErrDuplicateIdempotencyKey
		}
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, product_id, product_name, unit_price, quantity)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				item.ID, item.OrderID, item.ProductID, item.ProductName, item.UnitPrice, item.Quantity)
			if err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM cart_lines WHERE customer_id = $1", order.CustomerID); err != nil {
			return fmt.Errorf("failed to clear cart: %w", err)
		}
		return nil
	})
}

func sameLines(current, snapshot []models.CartLine) bool {
	if len(current) != len(snapshot) {
		return false
	}
	want := make(map[uuid.UUID]int, len(snapshot))
	for _, line := range snapshot {
		want[line.ProductID] = line.Quantity
	}
	for _, line := range current {
		qty, ok := want[line.ProductID]
		if !ok || qty != line.Quantity {
			return false
		}
	}
	return true
}

// GetOrderByID retrieves an order and its items
func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	items, err := s.GetOrderItemsByOrderID(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key, nil when absent
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := s.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = $1 ORDER BY product_name, id", orderID)
	return items, err
}

// ListOrders retrieves orders newest first without their items
func (s *Store) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE 1=1"
	args := []interface{}{}

	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		query += fmt.Sprintf(" AND customer_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// TransitionOrder applies t atomically. The status moves only if the order is
// still in t.From; otherwise ErrStatusChanged is returned and nothing is written.
// A stock line that cannot be covered rolls back everything with a
// *StockConflictError listing every short line.
func (s *Store) TransitionOrder(ctx context.Context, t Transition) (*models.Order, error) {
	var order models.Order
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &order, `
			UPDATE orders
			SET status = $1,
				admin_notes = CASE WHEN $2 <> '' THEN $2 ELSE admin_notes END,
				updated_at = NOW()
			WHERE id = $3 AND status = $4
			RETURNING `+orderColumns,
			t.To, t.Notes, t.OrderID, t.From)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStatusChanged
		}
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		if err := decrementStock(ctx, tx, t.DecrementStock); err != nil {
			return err
		}

		if t.Proof != nil {
			p := t.Proof
			err := tx.GetContext(ctx, &p.SubmittedAt, `
				INSERT INTO payment_proofs (id, order_id, file_url, file_name, content_type, file_size, status)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING submitted_at`,
				p.ID, p.OrderID, p.FileURL, p.FileName, p.ContentType, p.FileSize, p.Status)
			if err != nil {
				return fmt.Errorf("failed to insert payment proof: %w", err)
			}
		}

		if t.ProofStatus != "" {
			_, err := tx.ExecContext(ctx,
				"UPDATE payment_proofs SET status = $1 WHERE order_id = $2",
				t.ProofStatus, t.OrderID)
			if err != nil {
				return fmt.Errorf("failed to update payment proof: %w", err)
			}
		}

		if t.Audit != nil {
			if err := insertAuditEntry(ctx, tx, t.Audit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	items, err := s.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

// decrementStock takes each line from stock with a guarded update. Lines are
// aggregated per product and applied in product order so concurrent approvals
// lock rows in the same sequence.
func decrementStock(ctx context.Context, tx *sqlx.Tx, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	quantities := make(map[uuid.UUID]int)
	names := make(map[uuid.UUID]string)
	for _, item := range items {
		quantities[item.ProductID] += item.Quantity
		names[item.ProductID] = item.ProductName
	}
	ids := make([]uuid.UUID, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	var shortages []apperr.StockShortage
	for _, id := range ids {
		qty := quantities[id]
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity - $1, updated_at = NOW()
			WHERE id = $2 AND stock_quantity >= $1`,
			qty, id)
		if err != nil {
			return fmt.Errorf("failed to decrement stock: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 1 {
			continue
		}

		var available int
		err = tx.GetContext(ctx, &available, "SELECT stock_quantity FROM products WHERE id = $1", id)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read stock: %w", err)
		}
		shortages = append(shortages, apperr.StockShortage{
			ProductID: id,
			Name:      names[id],
			Requested: qty,
			Available: available,
		})
	}

	if len(shortages) > 0 {
		return &StockConflictError{Shortages: shortages}
	}
	return nil
}

// CountOrdersByStatus groups order counts by status
func (s *Store) CountOrdersByStatus(ctx context.Context) (map[models.OrderStatus]int, error) {
	var rows []struct {
		Status models.OrderStatus `db:"status"`
		Count  int                `db:"count"`
	}
	err := s.db.SelectContext(ctx, &rows, "SELECT status, COUNT(*) AS count FROM orders GROUP BY status")
	if err != nil {
		return nil, err
	}

	counts := make(map[models.OrderStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// SumRevenue totals orders in any of the given statuses
func (s *Store) SumRevenue(ctx context.Context, statuses []models.OrderStatus) (decimal.Decimal, error) {
	if len(statuses) == 0 {
		return decimal.Zero, nil
	}

	query, args, err := sqlx.In("SELECT COALESCE(SUM(total_amount), 0) FROM orders WHERE status IN (?)", statuses)
	if err != nil {
		return decimal.Zero, err
	}

	var total decimal.Decimal
	err = s.db.GetContext(ctx, &total, s.db.Rebind(query), args...)
	return total, err
}
