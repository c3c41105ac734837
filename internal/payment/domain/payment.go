package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("payment not found")

type PaymentID string
type OrderID string

type Status string

const (
	StatusPending           Status = "Pending"
	StatusProcessing        Status = "Processing"
	StatusSucceeded         Status = "Succeeded"
	StatusFailed            Status = "Failed"
	StatusCancelled         Status = "Cancelled"
	StatusRefunded          Status = "Refunded"
	StatusPartiallyRefunded Status = "PartiallyRefunded"
)

// Payment records one capture attempt against an order. Several payments may
// exist per order: retries and partial refunds each get their own row.
type Payment struct {
	ID            PaymentID
	OrderID       OrderID
	PaymentNumber string
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	Status        Status
	Description   string
	TransactionID string
	FailureReason string
	ProcessedAt   *time.Time

	RefundedAt   *time.Time
	RefundAmount *decimal.Decimal
	RefundReason string

	GatewayPaymentIntentID string
	GatewayCustomerID      string
	GatewayRefundID        string

	CreatedAt time.Time
	UpdatedAt *time.Time
	IsDeleted bool
}
