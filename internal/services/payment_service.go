package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/payment-service/internal/metrics"
	"github.com/smarttransit/payment-service/internal/models"
	"github.com/smarttransit/payment-service/internal/utils"
)

// Failure reasons written by the engine itself
const (
	ReasonCancelledByUser       = "cancelled by user"
	ReasonCancelledByProvider   = "cancelled at provider"
	ReasonExpiredInactivity     = "expired due to inactivity"
	ReasonExpiredBeforeInitiate = "payment expired before initiation"
)

// providerClaimLease bounds how long one provider call keeps a payment reserved.
// It outlives the provider HTTP timeouts so a live call never loses its claim.
const providerClaimLease = 2 * time.Minute

// PaymentStore is the persistence contract of the engine
type PaymentStore interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error)
	GetByProviderTransactionID(ctx context.Context, providerTxID string) (*models.Payment, error)
	ExistsByBookingID(ctx context.Context, bookingID string) (bool, error)
	HasActiveForOwner(ctx context.Context, ownerID uuid.UUID) (bool, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*models.Payment, error)
	CountByOwner(ctx context.Context, ownerID uuid.UUID) (int, error)
	MarkPending(ctx context.Context, paymentID, providerTxID string) (*models.Payment, error)
	MarkCompleted(ctx context.Context, paymentID string, providerToken, payerRef *string) (*models.Payment, error)
	MarkClosed(ctx context.Context, paymentID string, to models.PaymentStatus, reason string, from ...models.PaymentStatus) (*models.Payment, error)
	ClaimForProvider(ctx context.Context, paymentID string, status models.PaymentStatus, lease time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, paymentID string) error
	FindStale(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Payment, error)
	PurgeExpired(ctx context.Context, updatedBefore time.Time) (int64, error)
}

// TransactionStore keeps the per-payment history
type TransactionStore interface {
	Log(ctx context.Context, entry *models.PaymentTransaction) error
	GetByPaymentID(ctx context.Context, paymentID string) ([]*models.PaymentTransaction, error)
}

// RefundReader reads refund records
type RefundReader interface {
	GetByPaymentID(ctx context.Context, paymentID string) ([]*models.Refund, error)
}

// PaymentService is the payment lifecycle engine. It is the only writer of payment status.
type PaymentService struct {
	payments PaymentStore
	history  TransactionStore
	refunds  RefundReader
	router   *ProviderRouter
	currency CurrencyConverter
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	ttl      time.Duration
	now      func() time.Time
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(
	payments PaymentStore,
	history TransactionStore,
	refunds RefundReader,
	router *ProviderRouter,
	currency CurrencyConverter,
	m *metrics.Metrics,
	logger *logrus.Logger,
	ttl time.Duration,
) *PaymentService {
	return &PaymentService{
		payments: payments,
		history:  history,
		refunds:  refunds,
		router:   router,
		currency: currency,
		metrics:  m,
		logger:   logger,
		ttl:      ttl,
		now:      time.Now,
	}
}

// TTL is the authoritative payment time-to-live
func (s *PaymentService) TTL() time.Duration {
	return s.ttl
}

// ============================================================================
// CREATE
// ============================================================================

// CreatePayment validates the request and stores a new CREATED payment
func (s *PaymentService) CreatePayment(ctx context.Context, ownerID uuid.UUID, req *models.CreatePaymentRequest, origin models.RequestOrigin) (*models.Payment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	method, err := models.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	exists, err := s.payments.ExistsByBookingID(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, models.ErrBookingAlreadyPaid
	}

	active, err := s.payments.HasActiveForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, models.ErrPaymentAlreadyPending
	}

	if !s.router.Supports(method, req.Currency) {
		return nil, fmt.Errorf("%w: %s does not accept %s", models.ErrUnsupportedCurrency, method, req.Currency)
	}

	reference, err := s.currency.ConvertToReference(ctx, req.Amount, req.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to convert amount to %s: %w", models.ReferenceCurrency, err)
	}

	now := s.now()
	paymentID, err := utils.GeneratePaymentID(now)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:              uuid.New(),
		PaymentID:       paymentID,
		BookingID:       req.BookingID,
		OwnerID:         ownerID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		AmountReference: reference,
		PaymentMethod:   method,
		Description:     req.Description,
		Status:          models.PaymentStatusCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(s.ttl),
	}

	// the unique indexes are authoritative; the pre-checks above only save a round trip
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	s.metrics.IncTransition("NEW", string(models.PaymentStatusCreated))
	s.record(ctx, models.NewPaymentTransaction(payment.PaymentID, models.PaymentTransactionCreated, payment.Status).
		SetOrigin(origin))

	s.logger.WithFields(logrus.Fields{
		"payment_id": payment.PaymentID,
		"booking_id": payment.BookingID,
		"method":     payment.PaymentMethod,
		"amount":     payment.Amount.String(),
		"currency":   payment.Currency,
	}).Info("Payment created")

	return payment, nil
}

// ============================================================================
// INITIATE
// ============================================================================

// InitiatePayment creates the provider order and moves the payment to PENDING.
// A payment that is not CREATED yields a result carrying its current status, not an error.
func (s *PaymentService) InitiatePayment(ctx context.Context, paymentID string, origin models.RequestOrigin) (*models.RedirectResult, error) {
	payment, err := s.getExisting(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.Status != models.PaymentStatusCreated {
		return notInitiated(payment), nil
	}

	if payment.IsExpiredAt(s.now()) {
		expired, err := s.close(ctx, payment, models.PaymentStatusExpired, ReasonExpiredBeforeInitiate,
			models.PaymentTransactionExpired, origin, nil, models.PaymentStatusCreated)
		if err != nil {
			return nil, err
		}
		return notInitiated(expired), nil
	}

	provider, err := s.router.Route(payment.PaymentMethod)
	if err != nil {
		return nil, err
	}

	claimed, err := s.payments.ClaimForProvider(ctx, paymentID, models.PaymentStatusCreated, providerClaimLease)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// another initiate is talking to the provider, or the payment moved on
		current, err := s.getExisting(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		return notInitiated(current), nil
	}

	order, err := provider.CreateOrder(ctx, payment)
	if err != nil {
		providerErr := asProviderError(provider.Name(), err)
		s.metrics.IncProviderError(provider.Name(), string(providerErr.Category))

		reason := providerErr.Category.FailureReason(provider.Name(), providerErr.Message)
		failed, won, closeErr := s.transition(ctx, payment, models.PaymentStatusFailed, reason,
			models.PaymentTransactionFailed, origin, nil, models.PaymentStatusCreated)
		if closeErr != nil {
			return nil, errors.Join(providerErr, closeErr)
		}
		if !won {
			return notInitiated(failed), nil
		}
		return nil, providerErr
	}

	pending, err := s.payments.MarkPending(ctx, payment.PaymentID, order.ProviderTransactionID)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		// someone else moved it first (sweeper or a concurrent initiate)
		current, err := s.getExisting(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		s.logger.WithFields(logrus.Fields{
			"payment_id":     paymentID,
			"status":         current.Status,
			"provider":       provider.Name(),
			"provider_tx_id": order.ProviderTransactionID,
		}).Warn("Payment changed while creating provider order, order left unused")
		return notInitiated(current), nil
	}

	s.metrics.IncTransition(string(models.PaymentStatusCreated), string(models.PaymentStatusPending))
	s.record(ctx, models.NewPaymentTransaction(paymentID, models.PaymentTransactionInitiated, pending.Status).
		From(models.PaymentStatusCreated).
		SetProviderResponse(order.Raw).
		SetOrigin(origin))

	s.logger.WithFields(logrus.Fields{
		"payment_id":     paymentID,
		"provider":       provider.Name(),
		"provider_tx_id": order.ProviderTransactionID,
	}).Info("Payment initiated")

	return &models.RedirectResult{
		PaymentID:       paymentID,
		RedirectURL:     order.RedirectURL,
		ProviderOrderID: order.ProviderTransactionID,
		Status:          pending.Status,
	}, nil
}

func notInitiated(p *models.Payment) *models.RedirectResult {
	return &models.RedirectResult{
		PaymentID: p.PaymentID,
		Status:    p.Status,
		Message:   fmt.Sprintf("Payment cannot be initiated in status %s", p.Status),
	}
}

// ============================================================================
// CAPTURE
// ============================================================================

// CaptureSuccess finalizes a PENDING payment at the provider. Only one call can ever
// complete a payment; any other call gets ErrInvalidState together with the current record.
func (s *PaymentService) CaptureSuccess(ctx context.Context, paymentID, providerToken, payerRef string, origin models.RequestOrigin) (*models.Payment, error) {
	payment, err := s.getExisting(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.Status != models.PaymentStatusPending || payment.ProviderTransactionID == nil {
		return payment, fmt.Errorf("%w: payment %s is %s", models.ErrInvalidState, paymentID, payment.Status)
	}
	if providerToken != "" && providerToken != *payment.ProviderTransactionID {
		return nil, fmt.Errorf("%w: token does not match the provider order", models.ErrValidation)
	}

	provider, err := s.router.Route(payment.PaymentMethod)
	if err != nil {
		return nil, err
	}

	claimed, err := s.payments.ClaimForProvider(ctx, paymentID, models.PaymentStatusPending, providerClaimLease)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// a concurrent capture owns the provider call
		return s.invalidState(ctx, paymentID)
	}

	result, err := provider.Capture(ctx, *payment.ProviderTransactionID)
	if err != nil {
		providerErr := asProviderError(provider.Name(), err)
		s.metrics.IncProviderError(provider.Name(), string(providerErr.Category))

		reason := providerErr.Category.FailureReason(provider.Name(), providerErr.Message)
		if providerErr.Category == models.ProviderErrorTechnical {
			reason = "Technical error during payment capture: " + providerErr.Message
		}
		// persist first, then raise
		failed, won, closeErr := s.transition(ctx, payment, models.PaymentStatusFailed, reason,
			models.PaymentTransactionFailed, origin, nil, models.PaymentStatusPending)
		if closeErr != nil {
			return nil, errors.Join(providerErr, closeErr)
		}
		if !won {
			return failed, fmt.Errorf("%w: payment %s is %s", models.ErrInvalidState, paymentID, failed.Status)
		}
		return failed, providerErr
	}

	if result.Unsettled {
		// the payer has not finished paying; keep PENDING and let a later callback capture it
		if err := s.payments.ReleaseClaim(ctx, paymentID); err != nil {
			s.logger.WithError(err).WithField("payment_id", paymentID).Warn("Failed to release payment claim")
		}
		s.logger.WithFields(logrus.Fields{
			"payment_id":      paymentID,
			"provider":        provider.Name(),
			"provider_status": result.Status,
		}).Info("Payment not settled at provider yet")
		return payment, nil
	}

	if !result.Success {
		failed, won, err := s.transition(ctx, payment, models.PaymentStatusFailed, result.FailureReason,
			models.PaymentTransactionFailed, origin, result.Raw, models.PaymentStatusPending)
		if err != nil {
			return nil, err
		}
		if !won {
			return failed, fmt.Errorf("%w: payment %s is %s", models.ErrInvalidState, paymentID, failed.Status)
		}
		return failed, nil
	}

	completed, err := s.payments.MarkCompleted(ctx, paymentID, optional(providerToken), optional(payerRef))
	if err != nil {
		return nil, err
	}
	if completed == nil {
		return s.invalidState(ctx, paymentID)
	}

	s.metrics.IncTransition(string(models.PaymentStatusPending), string(models.PaymentStatusCompleted))
	s.record(ctx, models.NewPaymentTransaction(paymentID, models.PaymentTransactionCaptured, completed.Status).
		From(models.PaymentStatusPending).
		SetProviderResponse(result.Raw).
		SetOrigin(origin))

	s.logger.WithFields(logrus.Fields{
		"payment_id": paymentID,
		"booking_id": completed.BookingID,
		"provider":   provider.Name(),
	}).Info("Payment completed")

	return completed, nil
}

// invalidState re-reads a payment another actor is working on and reports it as ErrInvalidState
func (s *PaymentService) invalidState(ctx context.Context, paymentID string) (*models.Payment, error) {
	current, err := s.getExisting(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return current, fmt.Errorf("%w: payment %s is %s", models.ErrInvalidState, paymentID, current.Status)
}

// CaptureByProviderTransaction captures the payment owning a provider order (webhooks)
func (s *PaymentService) CaptureByProviderTransaction(ctx context.Context, providerTxID string, origin models.RequestOrigin) (*models.Payment, error) {
	payment, err := s.payments.GetByProviderTransactionID(ctx, providerTxID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, models.ErrPaymentNotFound
	}
	return s.CaptureSuccess(ctx, payment.PaymentID, "", "", origin)
}

// ============================================================================
// CANCEL / EXPIRE
// ============================================================================

// Cancel cancels a CREATED or PENDING payment. On any other status it returns the
// stored record unchanged.
func (s *PaymentService) Cancel(ctx context.Context, paymentID, reason string, origin models.RequestOrigin) (*models.Payment, error) {
	payment, err := s.getExisting(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.Status.IsActive() {
		return payment, nil
	}
	if reason == "" {
		reason = ReasonCancelledByUser
	}
	return s.close(ctx, payment, models.PaymentStatusCancelled, reason,
		models.PaymentTransactionCancelled, origin, nil, models.ActivePaymentStatuses...)
}

// CancelByProviderTransaction cancels the payment owning a provider order (webhooks)
func (s *PaymentService) CancelByProviderTransaction(ctx context.Context, providerTxID string, origin models.RequestOrigin) (*models.Payment, error) {
	payment, err := s.payments.GetByProviderTransactionID(ctx, providerTxID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, models.ErrPaymentNotFound
	}
	return s.Cancel(ctx, payment.PaymentID, ReasonCancelledByProvider, origin)
}

// ExpireStale expires CREATED/PENDING payments older than the TTL, batch by batch.
// Individual failures are logged and skipped. Returns how many payments this call expired.
func (s *PaymentService) ExpireStale(ctx context.Context, batchSize int) (int, error) {
	cutoff := s.now().Add(-s.ttl)
	expired := 0

	for {
		stale, err := s.payments.FindStale(ctx, cutoff, batchSize)
		if err != nil {
			return expired, err
		}

		progressed := 0
		for _, payment := range stale {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			_, won, err := s.transition(ctx, payment, models.PaymentStatusExpired, ReasonExpiredInactivity,
				models.PaymentTransactionExpired, models.RequestOrigin{}, nil, models.ActivePaymentStatuses...)
			if err != nil {
				s.logger.WithError(err).WithField("payment_id", payment.PaymentID).Error("Failed to expire payment")
				continue
			}
			if won {
				progressed++
			}
		}
		expired += progressed

		if len(stale) < batchSize || progressed == 0 {
			break
		}
	}

	s.metrics.AddSweeperExpired(expired)
	return expired, nil
}

// PurgeExpired deletes EXPIRED payments untouched for longer than retention
func (s *PaymentService) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	purged, err := s.payments.PurgeExpired(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	s.metrics.AddSweeperPurged(purged)
	return purged, nil
}

// close applies a conditional move to FAILED, CANCELLED or EXPIRED. If another actor
// changed the payment first, the current stored record is returned instead.
func (s *PaymentService) close(
	ctx context.Context,
	payment *models.Payment,
	to models.PaymentStatus,
	reason string,
	txType models.PaymentTransactionType,
	origin models.RequestOrigin,
	raw map[string]interface{},
	from ...models.PaymentStatus,
) (*models.Payment, error) {
	updated, _, err := s.transition(ctx, payment, to, reason, txType, origin, raw, from...)
	return updated, err
}

// transition is close that also reports whether this call made the change
func (s *PaymentService) transition(
	ctx context.Context,
	payment *models.Payment,
	to models.PaymentStatus,
	reason string,
	txType models.PaymentTransactionType,
	origin models.RequestOrigin,
	raw map[string]interface{},
	from ...models.PaymentStatus,
) (*models.Payment, bool, error) {
	updated, err := s.payments.MarkClosed(ctx, payment.PaymentID, to, reason, from...)
	if err != nil {
		return nil, false, err
	}
	if updated == nil {
		current, err := s.getExisting(ctx, payment.PaymentID)
		return current, false, err
	}

	s.metrics.IncTransition(string(payment.Status), string(to))
	s.record(ctx, models.NewPaymentTransaction(payment.PaymentID, txType, to).
		From(payment.Status).
		SetError(reason).
		SetProviderResponse(raw).
		SetOrigin(origin))

	s.logger.WithFields(logrus.Fields{
		"payment_id": payment.PaymentID,
		"from":       payment.Status,
		"to":         to,
		"reason":     reason,
	}).Info("Payment closed")

	return updated, true, nil
}

// ============================================================================
// READS
// ============================================================================

// GetPayment returns a payment or ErrPaymentNotFound
func (s *PaymentService) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	return s.getExisting(ctx, paymentID)
}

// GetPaymentDetails returns a payment with its refund records
func (s *PaymentService) GetPaymentDetails(ctx context.Context, paymentID string) (*models.PaymentResponse, error) {
	payment, err := s.getExisting(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	refunds, err := s.refunds.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &models.PaymentResponse{Payment: payment, Refunds: refunds}, nil
}

// ListForOwner returns one page of the owner's payments, newest first
func (s *PaymentService) ListForOwner(ctx context.Context, ownerID uuid.UUID, page, size int) (*models.PaymentPage, error) {
	payments, err := s.payments.ListByOwner(ctx, ownerID, size, page*size)
	if err != nil {
		return nil, err
	}
	total, err := s.payments.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return models.NewPaymentPage(payments, page, size, total), nil
}

// GetHistory returns the transition history of a payment
func (s *PaymentService) GetHistory(ctx context.Context, paymentID string) ([]*models.PaymentTransaction, error) {
	if _, err := s.getExisting(ctx, paymentID); err != nil {
		return nil, err
	}
	entries, err := s.history.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*models.PaymentTransaction{}
	}
	return entries, nil
}

// AvailableMethods lists the payment methods usable with a currency
func (s *PaymentService) AvailableMethods(currency string) []models.PaymentMethod {
	return s.router.SupportedMethods(currency)
}

func (s *PaymentService) getExisting(ctx context.Context, paymentID string) (*models.Payment, error) {
	payment, err := s.payments.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, models.ErrPaymentNotFound
	}
	return payment, nil
}

// record writes history after a transition. The transition already happened, so a
// failure here is only logged.
func (s *PaymentService) record(ctx context.Context, entry *models.PaymentTransaction) {
	if s.history == nil {
		return
	}
	if err := s.history.Log(ctx, entry); err != nil {
		s.logger.WithError(err).WithField("payment_id", entry.PaymentID).Error("CRITICAL: payment history not recorded")
	}
}

// asProviderError keeps categorized errors and treats anything else as a technical failure
func asProviderError(provider string, err error) *models.ProviderError {
	if pe, ok := models.AsProviderError(err); ok {
		return pe
	}
	return models.NewProviderError(provider, models.ProviderErrorTechnical, err.Error(), err)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
