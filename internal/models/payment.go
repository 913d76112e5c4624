package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// PAYMENT STATUS & METHOD (matches CHECK constraints in payments table)
// ============================================================================

// PaymentStatus represents where a payment is in its lifecycle
type PaymentStatus string

const (
	PaymentStatusCreated           PaymentStatus = "CREATED"            // Stored, not yet sent to a provider
	PaymentStatusPending           PaymentStatus = "PENDING"            // Provider order created, waiting for the payer
	PaymentStatusCompleted         PaymentStatus = "COMPLETED"          // Captured
	PaymentStatusFailed            PaymentStatus = "FAILED"             // Provider declined or technical failure
	PaymentStatusCancelled         PaymentStatus = "CANCELLED"          // Cancelled by the payer or the provider
	PaymentStatusExpired           PaymentStatus = "EXPIRED"            // TTL elapsed before completion
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"           // Fully refunded (not orchestrated here)
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED" // Partially refunded (not orchestrated here)
)

// paymentTransitions is the directed graph of legal status changes.
// Nothing ever moves back to an earlier status.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusCreated: {
		PaymentStatusPending,
		PaymentStatusFailed,
		PaymentStatusCancelled,
		PaymentStatusExpired,
	},
	PaymentStatusPending: {
		PaymentStatusCompleted,
		PaymentStatusFailed,
		PaymentStatusCancelled,
		PaymentStatusExpired,
	},
	PaymentStatusCompleted: {
		PaymentStatusRefunded,
		PaymentStatusPartiallyRefunded,
	},
	PaymentStatusPartiallyRefunded: {
		PaymentStatusRefunded,
	},
}

// CanTransitionTo reports whether moving from s to next is allowed
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive is true while the payment can still be initiated, captured or cancelled
func (s PaymentStatus) IsActive() bool {
	return s == PaymentStatusCreated || s == PaymentStatusPending
}

// IsTerminal is true once the lifecycle engine will no longer act on the payment
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled,
		PaymentStatusExpired, PaymentStatusRefunded:
		return true
	}
	return false
}

// IsValid checks the status against the known set
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusCreated, PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed,
		PaymentStatusCancelled, PaymentStatusExpired, PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}

// ActivePaymentStatuses lists the statuses counted as "in flight" for an owner
var ActivePaymentStatuses = []PaymentStatus{PaymentStatusCreated, PaymentStatusPending}

// PaymentMethod is the rail chosen by the payer
type PaymentMethod string

const (
	PaymentMethodCreditCard    PaymentMethod = "CREDIT_CARD"
	PaymentMethodDebitCard     PaymentMethod = "DEBIT_CARD"
	PaymentMethodPayPal        PaymentMethod = "PAYPAL"
	PaymentMethodStripe        PaymentMethod = "STRIPE"
	PaymentMethodBankTransfer  PaymentMethod = "BANK_TRANSFER"
	PaymentMethodGiftCard      PaymentMethod = "GIFT_CARD"
	PaymentMethodLoyaltyPoints PaymentMethod = "LOYALTY_POINTS"
)

// ParsePaymentMethod normalizes user input into a known PaymentMethod
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToUpper(strings.TrimSpace(raw)))
	switch m {
	case PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodPayPal, PaymentMethodStripe,
		PaymentMethodBankTransfer, PaymentMethodGiftCard, PaymentMethodLoyaltyPoints:
		return m, nil
	}
	return "", errors.New("invalid payment_method: " + raw)
}

// ReferenceCurrency is the currency every payment is converted to for reporting
const ReferenceCurrency = "USD"

// ============================================================================
// PAYMENT
// ============================================================================

// Payment is a single payment attempt for one booking
type Payment struct {
	ID                    uuid.UUID       `json:"-" db:"id"`
	PaymentID             string          `json:"payment_id" db:"payment_id"`
	BookingID             string          `json:"booking_id" db:"booking_id"`
	OwnerID               uuid.UUID       `json:"owner_id" db:"owner_id"`
	Amount                decimal.Decimal `json:"amount" db:"amount"`
	Currency              string          `json:"currency" db:"currency"`
	AmountReference       decimal.Decimal `json:"amount_in_reference_currency" db:"amount_reference"`
	PaymentMethod         PaymentMethod   `json:"payment_method" db:"payment_method"`
	Description           *string         `json:"description,omitempty" db:"description"`
	Status                PaymentStatus   `json:"status" db:"status"`
	ProviderTransactionID *string         `json:"provider_transaction_id,omitempty" db:"provider_transaction_id"`
	ProviderToken         *string         `json:"-" db:"provider_token"`
	PayerRef              *string         `json:"-" db:"payer_ref"`
	FailureReason         *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
	ProcessedAt           *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	ExpiresAt             time.Time       `json:"expires_at" db:"expires_at"`
}

// IsExpiredAt reports whether the payment's TTL has elapsed at the given instant
func (p *Payment) IsExpiredAt(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// BelongsTo checks payment ownership
func (p *Payment) BelongsTo(ownerID uuid.UUID) bool {
	return p.OwnerID == ownerID
}
