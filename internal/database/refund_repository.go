package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/payment-service/internal/models"
)

// RefundRepository reads refund records. Refunds are created out of band.
type RefundRepository struct {
	db *sqlx.DB
}

// NewRefundRepository creates a new RefundRepository
func NewRefundRepository(db *sqlx.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

// GetByPaymentID lists refunds recorded against a payment
func (r *RefundRepository) GetByPaymentID(ctx context.Context, paymentID string) ([]*models.Refund, error) {
	var refunds []*models.Refund
	query := `
		SELECT id, payment_id, amount, reason, status, requested_at, processed_at
		FROM refunds
		WHERE payment_id = $1
		ORDER BY requested_at DESC`
	if err := r.db.SelectContext(ctx, &refunds, query, paymentID); err != nil {
		return nil, fmt.Errorf("failed to get refunds: %w", err)
	}
	return refunds, nil
}
