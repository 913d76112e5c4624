package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation wraps bad client input
	ErrValidation = errors.New("validation failed")

	// ErrPaymentNotFound is returned when no payment has the requested ID
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrBookingAlreadyPaid is returned when a payment already exists for the booking (any status)
	ErrBookingAlreadyPaid = errors.New("a payment already exists for this booking")

	// ErrPaymentAlreadyPending is returned when the owner already has a CREATED or PENDING payment
	ErrPaymentAlreadyPending = errors.New("owner already has a payment in progress")

	// ErrInvalidState is returned when a transition is not legal from the current status
	ErrInvalidState = errors.New("invalid payment state for this operation")

	// ErrUnsupportedCurrency is returned when the method cannot be used with the currency
	ErrUnsupportedCurrency = errors.New("currency not supported for payment method")

	// ErrUnsupportedMethod is returned when no provider is registered for the method
	ErrUnsupportedMethod = errors.New("no provider available for payment method")
)

// ProviderErrorCategory classifies a provider-side failure
type ProviderErrorCategory string

const (
	ProviderErrorUnsupportedCurrency ProviderErrorCategory = "unsupported_currency"
	ProviderErrorInstrumentDeclined  ProviderErrorCategory = "instrument_declined"
	ProviderErrorInsufficientFunds   ProviderErrorCategory = "insufficient_funds"
	ProviderErrorPayerActionRequired ProviderErrorCategory = "payer_action_required"
	ProviderErrorGeneric             ProviderErrorCategory = "generic"
	ProviderErrorTechnical           ProviderErrorCategory = "technical"
)

// FailureReason is the human-readable text stored on the payment for a category
func (c ProviderErrorCategory) FailureReason(provider, detail string) string {
	switch c {
	case ProviderErrorUnsupportedCurrency:
		return fmt.Sprintf("Currency not supported by %s", provider)
	case ProviderErrorInstrumentDeclined:
		return fmt.Sprintf("%s funding source declined", provider)
	case ProviderErrorInsufficientFunds:
		return fmt.Sprintf("Insufficient funds in %s account", provider)
	case ProviderErrorPayerActionRequired:
		return fmt.Sprintf("Payer action required on %s account", provider)
	case ProviderErrorTechnical:
		return fmt.Sprintf("Technical error talking to %s: %s", provider, detail)
	}
	return fmt.Sprintf("%s API error: %s", provider, detail)
}

// ProviderError is a categorized failure reported by (or while talking to) a provider
type ProviderError struct {
	Provider string
	Category ProviderErrorCategory
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s error: %s: %v", e.Provider, e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s error: %s", e.Provider, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a ProviderError
func NewProviderError(provider string, category ProviderErrorCategory, message string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Category: category,
		Message:  message,
		Err:      err,
	}
}

// AsProviderError unwraps err into a *ProviderError if possible
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
