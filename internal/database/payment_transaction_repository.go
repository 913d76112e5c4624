package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/payment-service/internal/models"
)

// PaymentTransactionRepository stores the per-payment transition history
type PaymentTransactionRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentTransactionRepository creates a new payment transaction repository
func NewPaymentTransactionRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentTransactionRepository {
	return &PaymentTransactionRepository{
		db:     db,
		logger: logger,
	}
}

// Log appends a history entry
func (r *PaymentTransactionRepository) Log(ctx context.Context, entry *models.PaymentTransaction) error {
	if entry == nil {
		return fmt.Errorf("transaction entry cannot be nil")
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_transactions (
			id, payment_id, transaction_type, old_status, new_status,
			provider_response, error_message, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.PaymentID, entry.TransactionType, entry.OldStatus, entry.NewStatus,
		entry.ProviderResponse, entry.ErrorMessage, entry.IPAddress, entry.UserAgent, entry.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"payment_id":       entry.PaymentID,
			"transaction_type": entry.TransactionType,
			"new_status":       entry.NewStatus,
		}).Error("CRITICAL: Failed to log payment transaction")
		return fmt.Errorf("failed to log payment transaction: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"payment_id":       entry.PaymentID,
		"transaction_type": entry.TransactionType,
	}).Debug("Payment transaction logged")

	return nil
}

// GetByPaymentID returns a payment's history in the order it happened
func (r *PaymentTransactionRepository) GetByPaymentID(ctx context.Context, paymentID string) ([]*models.PaymentTransaction, error) {
	var entries []*models.PaymentTransaction
	query := `
		SELECT id, payment_id, transaction_type, old_status, new_status,
			provider_response, error_message, ip_address, user_agent, created_at
		FROM payment_transactions
		WHERE payment_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &entries, query, paymentID); err != nil {
		return nil, fmt.Errorf("failed to get payment transactions: %w", err)
	}
	return entries, nil
}
