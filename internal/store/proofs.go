package store

import (
	"context"
	"fmt"

	"storefront/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const proofColumns = `id, order_id, file_url, file_name, content_type, file_size, status, submitted_at`

// GetProofsByOrderID retrieves the payment proofs of an order, newest first
func (s *Store) GetProofsByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.PaymentProof, error) {
	proofs := []models.PaymentProof{}
	err := s.db.SelectContext(ctx, &proofs,
		"SELECT "+proofColumns+" FROM payment_proofs WHERE order_id = $1 ORDER BY submitted_at DESC", orderID)
	return proofs, err
}

// ListAuditEntries retrieves the administrative history of an order
func (s *Store) ListAuditEntries(ctx context.Context, orderID uuid.UUID) ([]models.AuditEntry, error) {
	entries := []models.AuditEntry{}
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, admin_id, action, order_id, from_status, to_status, notes, created_at
		FROM admin_logs WHERE order_id = $1 ORDER BY created_at`, orderID)
	return entries, err
}

func insertAuditEntry(ctx context.Context, tx *sqlx.Tx, entry *models.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	err := tx.GetContext(ctx, &entry.CreatedAt, `
		INSERT INTO admin_logs (id, admin_id, action, order_id, from_status, to_status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		entry.ID, entry.AdminID, entry.Action, entry.OrderID, entry.FromStatus, entry.ToStatus, entry.Notes)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}
