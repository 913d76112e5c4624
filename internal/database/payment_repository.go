package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/payment-service/internal/models"
)

// PaymentRepository handles payment database operations.
// Every status change is a single conditional UPDATE guarded by the source statuses,
// so two actors racing on the same payment can never both win.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, payment_id, booking_id, owner_id, amount, currency, amount_reference,
	payment_method, description, status, provider_transaction_id, provider_token, payer_ref,
	failure_reason, created_at, updated_at, processed_at, expires_at`

// ============================================================================
// CREATE / READ
// ============================================================================

// Create inserts a new payment. Unique violations are translated into
// models.ErrBookingAlreadyPaid or models.ErrPaymentAlreadyPending.
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt

	query := `
		INSERT INTO payments (
			id, payment_id, booking_id, owner_id, amount, currency, amount_reference,
			payment_method, description, status, created_at, updated_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.PaymentID, p.BookingID, p.OwnerID, p.Amount, p.Currency, p.AmountReference,
		p.PaymentMethod, p.Description, p.Status, p.CreatedAt, p.UpdatedAt, p.ExpiresAt,
	)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			if constraint == constraintOwnerActiveUnique {
				return models.ErrPaymentAlreadyPending
			}
			// booking_id is the only other unique key a caller can collide on
			return models.ErrBookingAlreadyPaid
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetByPaymentID returns the payment or nil if it does not exist
func (r *PaymentRepository) GetByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error) {
	var p models.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_id = $1`
	err := r.db.GetContext(ctx, &p, query, paymentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// GetByProviderTransactionID finds the payment a provider order/session belongs to
func (r *PaymentRepository) GetByProviderTransactionID(ctx context.Context, providerTxID string) (*models.Payment, error) {
	var p models.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_transaction_id = $1`
	err := r.db.GetContext(ctx, &p, query, providerTxID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by provider transaction: %w", err)
	}
	return &p, nil
}

// ExistsByBookingID reports whether any payment, in any status, used the booking
func (r *PaymentRepository) ExistsByBookingID(ctx context.Context, bookingID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM payments WHERE booking_id = $1)`
	if err := r.db.GetContext(ctx, &exists, query, bookingID); err != nil {
		return false, fmt.Errorf("failed to check booking: %w", err)
	}
	return exists, nil
}

// HasActiveForOwner reports whether the owner has a CREATED or PENDING payment
func (r *PaymentRepository) HasActiveForOwner(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM payments WHERE owner_id = $1 AND status IN ('CREATED', 'PENDING'))`
	if err := r.db.GetContext(ctx, &exists, query, ownerID); err != nil {
		return false, fmt.Errorf("failed to check active payments: %w", err)
	}
	return exists, nil
}

// ListByOwner returns an owner's payments, newest first
func (r *PaymentRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*models.Payment, error) {
	var payments []*models.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &payments, query, ownerID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// CountByOwner counts all payments of an owner
func (r *PaymentRepository) CountByOwner(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM payments WHERE owner_id = $1`, ownerID); err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return count, nil
}

// ============================================================================
// CONDITIONAL TRANSITIONS
// Each returns (nil, nil) when the row was not in an allowed source status.
// ============================================================================

// MarkPending moves CREATED -> PENDING and stores the provider transaction ID.
// The provider transaction ID can only be set once.
func (r *PaymentRepository) MarkPending(ctx context.Context, paymentID, providerTxID string) (*models.Payment, error) {
	query := `
		UPDATE payments
		SET status = 'PENDING', provider_transaction_id = $2, updated_at = $3, claimed_until = NULL
		WHERE payment_id = $1 AND status = 'CREATED' AND provider_transaction_id IS NULL
		RETURNING ` + paymentColumns

	return r.updateReturning(ctx, query, paymentID, providerTxID, time.Now())
}

// MarkCompleted moves PENDING -> COMPLETED, stamping processed_at and the capture tokens
func (r *PaymentRepository) MarkCompleted(ctx context.Context, paymentID string, providerToken, payerRef *string) (*models.Payment, error) {
	now := time.Now()
	query := `
		UPDATE payments
		SET status = 'COMPLETED', provider_token = $2, payer_ref = $3,
			processed_at = $4, updated_at = $4, claimed_until = NULL
		WHERE payment_id = $1 AND status = 'PENDING'
		RETURNING ` + paymentColumns

	return r.updateReturning(ctx, query, paymentID, providerToken, payerRef, now)
}

// MarkClosed moves the payment to a closing status (FAILED, CANCELLED, EXPIRED) with a reason,
// only if it is currently in one of the given source statuses.
func (r *PaymentRepository) MarkClosed(ctx context.Context, paymentID string, to models.PaymentStatus, reason string, from ...models.PaymentStatus) (*models.Payment, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("at least one source status is required")
	}

	args := []interface{}{paymentID, to, reason, time.Now()}
	placeholders := make([]string, len(from))
	for i, s := range from {
		args = append(args, s)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	query := `
		UPDATE payments
		SET status = $2, failure_reason = $3, updated_at = $4, claimed_until = NULL
		WHERE payment_id = $1 AND status IN (` + strings.Join(placeholders, ", ") + `)
		RETURNING ` + paymentColumns

	return r.updateReturning(ctx, query, args...)
}

// ClaimForProvider reserves the payment for one outbound provider call. It only succeeds while
// the payment is still in the given status and nobody else holds an unexpired claim.
// Every status transition clears the claim.
func (r *PaymentRepository) ClaimForProvider(ctx context.Context, paymentID string, status models.PaymentStatus, lease time.Duration) (bool, error) {
	now := time.Now()
	query := `
		UPDATE payments
		SET claimed_until = $3
		WHERE payment_id = $1 AND status = $2 AND (claimed_until IS NULL OR claimed_until < $4)`

	result, err := r.db.ExecContext(ctx, query, paymentID, status, now.Add(lease), now)
	if err != nil {
		return false, fmt.Errorf("failed to claim payment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim payment: %w", err)
	}
	return rows == 1, nil
}

// ReleaseClaim drops a claim without changing the status
func (r *PaymentRepository) ReleaseClaim(ctx context.Context, paymentID string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE payments SET claimed_until = NULL WHERE payment_id = $1`, paymentID); err != nil {
		return fmt.Errorf("failed to release payment claim: %w", err)
	}
	return nil
}

func (r *PaymentRepository) updateReturning(ctx context.Context, query string, args ...interface{}) (*models.Payment, error) {
	var p models.Payment
	err := r.db.GetContext(ctx, &p, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}
	return &p, nil
}

// ============================================================================
// SWEEPER QUERIES
// ============================================================================

// FindStale returns CREATED/PENDING payments created before the cutoff, oldest first
func (r *PaymentRepository) FindStale(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Payment, error) {
	var payments []*models.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE status IN ('CREATED', 'PENDING') AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &payments, query, createdBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to find stale payments: %w", err)
	}
	return payments, nil
}

// PurgeExpired permanently deletes EXPIRED payments last touched before the cutoff
func (r *PaymentRepository) PurgeExpired(ctx context.Context, updatedBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM payments WHERE status = 'EXPIRED' AND updated_at < $1`, updatedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired payments: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
