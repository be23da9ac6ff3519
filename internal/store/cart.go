package store

import (
	"context"
	"database/sql"
	"errors"

	"storefront/internal/models"

	"github.com/google/uuid"
)

const cartLineColumns = `customer_id, product_id, quantity, created_at, updated_at`

// GetCartLines retrieves every cart line of a customer, oldest first
func (s *Store) GetCartLines(ctx context.Context, customerID uuid.UUID) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT "+cartLineColumns+" FROM cart_lines WHERE customer_id = $1 ORDER BY created_at, product_id",
		customerID)
	return lines, err
}

// GetCartLine retrieves a single cart line, nil when absent
func (s *Store) GetCartLine(ctx context.Context, customerID, productID uuid.UUID) (*models.CartLine, error) {
	var line models.CartLine
	err := s.db.GetContext(ctx, &line,
		"SELECT "+cartLineColumns+" FROM cart_lines WHERE customer_id = $1 AND product_id = $2",
		customerID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// UpsertCartLine creates the line or replaces its quantity
func (s *Store) UpsertCartLine(ctx context.Context, customerID, productID uuid.UUID, quantity int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_lines (customer_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (customer_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()`,
		customerID, productID, quantity)
	return err
}

// DeleteCartLine removes a line; deleting an absent line is not an error
func (s *Store) DeleteCartLine(ctx context.Context, customerID, productID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_lines WHERE customer_id = $1 AND product_id = $2",
		customerID, productID)
	return err
}

// ClearCart removes every line of a customer
func (s *Store) ClearCart(ctx context.Context, customerID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cart_lines WHERE customer_id = $1", customerID)
	return err
}
