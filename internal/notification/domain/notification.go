package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("notification not found")
	ErrTemplateNotFound = errors.New("notification template not found")
	ErrDuplicateEvent   = errors.New("event already processed")
)

type NotificationID string
type CustomerID string

type Type string

const (
	TypeEmail Type = "Email"
	TypeSMS   Type = "SMS"
	TypePush  Type = "Push"
)

type Status string

const (
	StatusPending   Status = "Pending"
	StatusSending   Status = "Sending"
	StatusSent      Status = "Sent"
	StatusDelivered Status = "Delivered"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// Notification tracks one outbound message. RetryCount and NextRetryAt drive
// the retry scheduler; a row whose NextRetryAt is cleared is terminal.
type Notification struct {
	ID                 NotificationID
	CustomerID         CustomerID
	NotificationNumber string
	Type               Type
	Subject            string
	Content            string
	Recipient          string
	Status             Status
	SentAt             *time.Time
	DeliveredAt        *time.Time
	FailureReason      string
	RetryCount         int
	NextRetryAt        *time.Time
	ExternalID         string

	OrderID   string
	PaymentID string
	ProductID string

	CreatedAt time.Time
	UpdatedAt *time.Time
	IsDeleted bool
}

type Template struct {
	ID          string
	Name        string
	Type        Type
	Subject     string
	Content     string
	Description string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// Render substitutes {key} placeholders literally. Unmatched placeholders are
// left verbatim; there is no escaping.
func Render(text string, variables map[string]string) string {
	for key, value := range variables {
		text = strings.ReplaceAll(text, "{"+key+"}", value)
	}
	return text
}
