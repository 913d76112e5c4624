package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RefundStatus tracks a refund request. Refunds are recorded but not orchestrated by this service.
type RefundStatus string

const (
	RefundStatusRequested  RefundStatus = "REQUESTED"
	RefundStatusPending    RefundStatus = "PENDING"
	RefundStatusApproved   RefundStatus = "APPROVED"
	RefundStatusProcessing RefundStatus = "PROCESSING"
	RefundStatusCompleted  RefundStatus = "COMPLETED"
	RefundStatusRejected   RefundStatus = "REJECTED"
)

// Refund is a refund record attached to a completed payment
type Refund struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	PaymentID   string          `json:"payment_id" db:"payment_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Reason      *string         `json:"reason,omitempty" db:"reason"`
	Status      RefundStatus    `json:"status" db:"status"`
	RequestedAt time.Time       `json:"requested_at" db:"requested_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}
