package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// REQUEST/RESPONSE DTOs
// ============================================================================

// MaxDescriptionLength is the longest description stored with a payment
const MaxDescriptionLength = 255

// CreatePaymentRequest is the body of POST /payments
type CreatePaymentRequest struct {
	BookingID     string          `json:"booking_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	Currency      string          `json:"currency" binding:"required"`
	PaymentMethod string          `json:"payment_method" binding:"required"`
	Description   *string         `json:"description,omitempty"`
}

// Validate checks the request and normalizes currency/method casing
func (r *CreatePaymentRequest) Validate() error {
	r.BookingID = strings.TrimSpace(r.BookingID)
	if r.BookingID == "" {
		return fmt.Errorf("%w: booking_id is required", ErrValidation)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrValidation)
	}
	if strings.TrimSpace(r.PaymentMethod) == "" {
		return fmt.Errorf("%w: payment_method is required", ErrValidation)
	}
	if r.Description != nil && len(*r.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description must be at most %d characters", ErrValidation, MaxDescriptionLength)
	}
	return nil
}

// RedirectResult is returned by initiate. A non-empty RedirectURL means the
// payer should be sent to the provider; otherwise Status/Message explain why not.
type RedirectResult struct {
	PaymentID       string        `json:"payment_id"`
	RedirectURL     string        `json:"redirect_url,omitempty"`
	ProviderOrderID string        `json:"provider_order_id,omitempty"`
	Status          PaymentStatus `json:"status"`
	Message         string        `json:"message,omitempty"`
}

// Initiated is true when the call moved the payment to PENDING
func (r *RedirectResult) Initiated() bool {
	return r.RedirectURL != ""
}

// PaymentResponse is the API representation of a payment
type PaymentResponse struct {
	*Payment
	Refunds []*Refund `json:"refunds,omitempty"`
}

// PaymentPage is one page of an owner's payments, newest first
type PaymentPage struct {
	Payments   []*Payment `json:"payments"`
	Page       int        `json:"page"`
	Size       int        `json:"size"`
	TotalCount int        `json:"total_count"`
	TotalPages int        `json:"total_pages"`
}

// NewPaymentPage builds the page envelope and its derived counts
func NewPaymentPage(payments []*Payment, page, size, total int) *PaymentPage {
	if payments == nil {
		payments = []*Payment{}
	}
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return &PaymentPage{
		Payments:   payments,
		Page:       page,
		Size:       size,
		TotalCount: total,
		TotalPages: pages,
	}
}

// PaymentStatusResponse is the polling view used by front-ends during a redirect
type PaymentStatusResponse struct {
	PaymentID     string        `json:"payment_id"`
	BookingID     string        `json:"booking_id"`
	Status        PaymentStatus `json:"status"`
	FailureReason *string       `json:"failure_reason,omitempty"`
	ProcessedAt   *time.Time    `json:"processed_at,omitempty"`
	ExpiresAt     time.Time     `json:"expires_at"`
}

// NewPaymentStatusResponse builds the polling view from a payment
func NewPaymentStatusResponse(p *Payment) *PaymentStatusResponse {
	return &PaymentStatusResponse{
		PaymentID:     p.PaymentID,
		BookingID:     p.BookingID,
		Status:        p.Status,
		FailureReason: p.FailureReason,
		ProcessedAt:   p.ProcessedAt,
		ExpiresAt:     p.ExpiresAt,
	}
}

// AvailableMethodsResponse lists the methods usable with a currency
type AvailableMethodsResponse struct {
	Currency string          `json:"currency"`
	Methods  []PaymentMethod `json:"methods"`
}
