package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Artifact is an uploaded payment proof before it is stored
type Artifact struct {
	FileName string
	Data     []byte
}

var allowedProofTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// PaymentService accepts the customer's proof of bank transfer and moves the
// order from pending to paid
type PaymentService struct {
	orders    OrderStore
	storage   ArtifactStorage
	publisher EventPublisher
	maxBytes  int64
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewPaymentService creates a new payment proof intake
func NewPaymentService(orders OrderStore, storage ArtifactStorage, publisher EventPublisher, maxBytes int64, timeout time.Duration) *PaymentService {
	return &PaymentService{
		orders:    orders,
		storage:   storage,
		publisher: publisher,
		maxBytes:  maxBytes,
		timeout:   timeout,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// SubmitProof stores the artifact and records it against a pending order
func (s *PaymentService) SubmitProof(ctx context.Context, p *auth.Principal, orderID uuid.UUID, artifact Artifact) (proof *models.PaymentProof, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.SubmitProof")
	defer func() {
		outcome := "accepted"
		if err != nil {
			outcome = string(apperr.CodeOf(err))
		}
		util.ProofsSubmittedTotal.WithLabelValues(outcome).Inc()
		util.EndSpan(span, err)
	}()

	customerID, err := auth.RequireCustomer(p)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Newf(apperr.CodeNotFound, "order %s not found", orderID)
	}
	if err != nil {
		return nil, apperr.Temporary(err, "failed to load order")
	}
	if order.CustomerID != customerID {
		return nil, apperr.New(apperr.CodeUnauthorized, "order belongs to another customer")
	}
	if order.Status != models.OrderStatusPending {
		return nil, invalidState(order.Status, models.OrderStatusPaid, "payment proof already submitted")
	}

	contentType, ext, err := s.inspect(artifact)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("payment-proofs/%s-%d%s", orderID, s.now().UnixMilli(), ext)
	url, err := s.store(ctx, key, contentType, artifact.Data)
	if err != nil {
		return nil, err
	}

	proof = &models.PaymentProof{
		ID:          uuid.New(),
		OrderID:     orderID,
		FileURL:     url,
		FileName:    displayName(artifact.FileName, ext),
		ContentType: contentType,
		FileSize:    int64(len(artifact.Data)),
		Status:      models.ProofStatusPending,
	}

	updated, err := s.orders.TransitionOrder(ctx, store.Transition{
		OrderID: orderID,
		From:    models.OrderStatusPending,
		To:      models.OrderStatusPaid,
		Proof:   proof,
	})
	if err != nil {
		s.discard(key)
		if errors.Is(err, store.ErrStatusChanged) {
			current := order.Status
			if latest, loadErr := s.orders.GetOrderByID(ctx, orderID); loadErr == nil {
				current = latest.Status
			}
			return nil, invalidState(current, models.OrderStatusPaid, "order changed while the proof was uploading")
		}
		return nil, apperr.Temporary(err, "failed to record payment proof")
	}

	util.ProofBytes.Observe(float64(proof.FileSize))
	s.logger.Info("Payment proof submitted",
		zap.String("order_id", orderID.String()),
		zap.String("content_type", contentType),
		zap.Int64("size", proof.FileSize))

	publishStatusChanged(ctx, s.publisher, s.logger, statusChange{
		order:   updated,
		from:    models.OrderStatusPending,
		actorID: customerID,
	})
	return proof, nil
}

// inspect enforces the size limit and sniffs the content type from the bytes
func (s *PaymentService) inspect(artifact Artifact) (string, string, error) {
	size := int64(len(artifact.Data))
	if size == 0 {
		return "", "", apperr.New(apperr.CodeValidation, "payment proof is empty")
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return "", "", apperr.Newf(apperr.CodeValidation, "payment proof exceeds %d bytes", s.maxBytes).
			WithDetails(map[string]int64{"max_bytes": s.maxBytes, "size": size})
	}

	detected := mimetype.Detect(artifact.Data)
	for contentType, ext := range allowedProofTypes {
		if detected.Is(contentType) {
			return contentType, ext, nil
		}
	}
	return "", "", apperr.Newf(apperr.CodeValidation, "unsupported payment proof type %s", detected.String()).
		WithDetails(map[string]string{"file": "must be a JPEG, PNG, WEBP or PDF"})
}

func (s *PaymentService) store(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	url, err := s.storage.Store(ctx, key, contentType, data)
	if err != nil {
		return "", apperr.Temporary(err, "storage unavailable")
	}
	return url, nil
}

// discard removes an artifact whose database write did not commit
func (s *PaymentService) discard(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.storage.Delete(ctx, key); err != nil {
		s.logger.Warn("Failed to delete orphaned payment proof", zap.String("key", key), zap.Error(err))
	}
}

func displayName(name, ext string) string {
	base := strings.TrimSpace(filepath.Base(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "payment-proof" + ext
	}
	if len(base) > 255 {
		base = base[:255]
	}
	return base
}

func invalidState(from, to models.OrderStatus, message string) error {
	return apperr.New(apperr.CodeInvalidState, message).
		WithDetails(apperr.TransitionDetails{From: string(from), To: string(to)})
}
