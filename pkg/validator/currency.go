package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyCurrency indicates the currency code is empty
	ErrEmptyCurrency = errors.New("currency code cannot be empty")

	// ErrInvalidCurrency indicates the code is not a three-letter ISO 4217 code
	ErrInvalidCurrency = errors.New("currency code must be three letters (ISO 4217)")

	// ErrInvalidPaymentID indicates a malformed payment reference
	ErrInvalidPaymentID = errors.New("payment id must look like PAY-<millis>-<6 digits>")
)

// currencyRegex matches an upper-cased ISO 4217 alpha code
var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// paymentIDRegex matches PAY-<unix millis>-<6 digits>
var paymentIDRegex = regexp.MustCompile(`^PAY-\d{13,}-\d{6}$`)

// CurrencyValidator handles currency code validation
type CurrencyValidator struct{}

// NewCurrencyValidator creates a new currency validator instance
func NewCurrencyValidator() *CurrencyValidator {
	return &CurrencyValidator{}
}

// Validate normalizes a currency code ("eur " -> "EUR") and checks its shape.
// Whether any provider accepts the code is decided by the provider router.
func (v *CurrencyValidator) Validate(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return "", ErrEmptyCurrency
	}
	if !currencyRegex.MatchString(normalized) {
		return "", ErrInvalidCurrency
	}
	return normalized, nil
}

// IsValid reports whether code is a well-formed currency code
func (v *CurrencyValidator) IsValid(code string) bool {
	_, err := v.Validate(code)
	return err == nil
}

// ValidatePaymentID checks the shape of a public payment reference
func ValidatePaymentID(id string) error {
	if !paymentIDRegex.MatchString(id) {
		return ErrInvalidPaymentID
	}
	return nil
}
