package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentTransactionType represents what caused a payment transition
type PaymentTransactionType string

const (
	PaymentTransactionCreated   PaymentTransactionType = "payment_created"
	PaymentTransactionInitiated PaymentTransactionType = "payment_initiated"
	PaymentTransactionCaptured  PaymentTransactionType = "payment_captured"
	PaymentTransactionFailed    PaymentTransactionType = "payment_failed"
	PaymentTransactionCancelled PaymentTransactionType = "payment_cancelled"
	PaymentTransactionExpired   PaymentTransactionType = "payment_expired"
)

// JSONB is a custom type for handling JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
// Returns JSON as string for compatibility with pgx simple protocol mode
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	}
	return nil
}

// PaymentTransaction is an immutable history row written for every status change
type PaymentTransaction struct {
	ID               uuid.UUID              `json:"id" db:"id"`
	PaymentID        string                 `json:"payment_id" db:"payment_id"`
	TransactionType  PaymentTransactionType `json:"transaction_type" db:"transaction_type"`
	OldStatus        *PaymentStatus         `json:"old_status,omitempty" db:"old_status"`
	NewStatus        PaymentStatus          `json:"new_status" db:"new_status"`
	ProviderResponse JSONB                  `json:"provider_response,omitempty" db:"provider_response"`
	ErrorMessage     *string                `json:"error_message,omitempty" db:"error_message"`
	IPAddress        *string                `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent        *string                `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
}

// NewPaymentTransaction creates a history entry for a move to newStatus
func NewPaymentTransaction(paymentID string, txType PaymentTransactionType, newStatus PaymentStatus) *PaymentTransaction {
	return &PaymentTransaction{
		ID:              uuid.New(),
		PaymentID:       paymentID,
		TransactionType: txType,
		NewStatus:       newStatus,
		CreatedAt:       time.Now(),
	}
}

// From sets the status the payment left
func (pt *PaymentTransaction) From(status PaymentStatus) *PaymentTransaction {
	pt.OldStatus = &status
	return pt
}

// SetError records the failure text
func (pt *PaymentTransaction) SetError(message string) *PaymentTransaction {
	if message != "" {
		pt.ErrorMessage = &message
	}
	return pt
}

// SetProviderResponse stores the provider's reply (ids, statuses)
func (pt *PaymentTransaction) SetProviderResponse(payload map[string]interface{}) *PaymentTransaction {
	pt.ProviderResponse = JSONB(payload)
	return pt
}

// SetOrigin sets request metadata of the caller that triggered the change
func (pt *PaymentTransaction) SetOrigin(origin RequestOrigin) *PaymentTransaction {
	if origin.IPAddress != "" {
		ip := origin.IPAddress
		pt.IPAddress = &ip
	}
	if origin.UserAgent != "" {
		ua := origin.UserAgent
		pt.UserAgent = &ua
	}
	return pt
}

// RequestOrigin describes who triggered an engine call. The zero value means "system".
type RequestOrigin struct {
	IPAddress string
	UserAgent string
}
