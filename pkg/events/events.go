package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Topics shared by every service. Partition keys default to the event's
// aggregate id, so per-aggregate ordering holds within a topic.
const (
	TopicOrderEvents        = "order-events"
	TopicOrderStatusUpdated = "order-status-updated"
	TopicOrderCancelled     = "order-cancelled"
	TopicPaymentEvents      = "payment-events"
	TopicNotificationEvents = "notification-events"
	TopicProductEvents      = "product-events"
)

const (
	TypeOrderCreated        = "order.created"
	TypeOrderStatusUpdated  = "order.status_updated"
	TypeOrderCancelled      = "order.cancelled"
	TypePaymentProcessed    = "payment.processed"
	TypePaymentFailed       = "payment.failed"
	TypePaymentRefunded     = "payment.refunded"
	TypeNotificationFailed  = "notification.failed"
	TypeProductCreated      = "product.created"
	TypeProductPriceChanged = "product.price_changed"
)

// Envelope is the metadata wrapper every domain event is published in. It is
// embedded in the typed events so the wire shape stays flat.
type Envelope struct {
	EventID     string    `json:"eventId"`
	OccurredOn  time.Time `json:"occurredOn"`
	EventType   string    `json:"eventType"`
	AggregateID string    `json:"aggregateId"`
	Version     int64     `json:"version"`
}

// NewEnvelope stamps a fresh event id and occurrence time. Version is a
// constant 1; nothing consumes it causally.
func NewEnvelope(eventType, aggregateID string) Envelope {
	return Envelope{
		EventID:     uuid.NewString(),
		OccurredOn:  time.Now().UTC(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Version:     1,
	}
}

func (e Envelope) Meta() Envelope { return e }

// Key is the partition key for the envelope: the aggregate id, or a random id
// when absent, which forfeits per-aggregate ordering.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return uuid.NewString()
}

// Event is anything publishable on the broker.
type Event interface {
	Meta() Envelope
}

type OrderItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
}

type OrderCreated struct {
	Envelope
	OrderID     string          `json:"orderId"`
	CustomerID  string          `json:"customerId"`
	Items       []OrderItem     `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Status      string          `json:"status"`
	OrderDate   time.Time       `json:"orderDate"`
}

func NewOrderCreated(orderID, customerID string, items []OrderItem, totalAmount decimal.Decimal, status string) OrderCreated {
	return OrderCreated{
		Envelope:    NewEnvelope(TypeOrderCreated, orderID),
		OrderID:     orderID,
		CustomerID:  customerID,
		Items:       items,
		TotalAmount: totalAmount,
		Status:      status,
		OrderDate:   time.Now().UTC(),
	}
}

type OrderStatusUpdated struct {
	Envelope
	OrderID   string    `json:"orderId"`
	OldStatus string    `json:"oldStatus"`
	NewStatus string    `json:"newStatus"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewOrderStatusUpdated(orderID, oldStatus, newStatus string) OrderStatusUpdated {
	return OrderStatusUpdated{
		Envelope:  NewEnvelope(TypeOrderStatusUpdated, orderID),
		OrderID:   orderID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		UpdatedAt: time.Now().UTC(),
	}
}

type OrderCancelled struct {
	Envelope
	OrderID     string    `json:"orderId"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelledAt"`
}

func NewOrderCancelled(orderID, reason string) OrderCancelled {
	return OrderCancelled{
		Envelope:    NewEnvelope(TypeOrderCancelled, orderID),
		OrderID:     orderID,
		Reason:      reason,
		CancelledAt: time.Now().UTC(),
	}
}

type PaymentProcessed struct {
	Envelope
	PaymentID     string          `json:"paymentId"`
	OrderID       string          `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transactionId"`
	ProcessedAt   time.Time       `json:"processedAt"`
}

func NewPaymentProcessed(paymentID, orderID string, amount decimal.Decimal, method, status, transactionID string) PaymentProcessed {
	return PaymentProcessed{
		Envelope:      NewEnvelope(TypePaymentProcessed, paymentID),
		PaymentID:     paymentID,
		OrderID:       orderID,
		Amount:        amount,
		PaymentMethod: method,
		Status:        status,
		TransactionID: transactionID,
		ProcessedAt:   time.Now().UTC(),
	}
}

type PaymentFailed struct {
	Envelope
	PaymentID     string          `json:"paymentId"`
	OrderID       string          `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
	ErrorMessage  string          `json:"errorMessage"`
	FailedAt      time.Time       `json:"failedAt"`
}

func NewPaymentFailed(paymentID, orderID string, amount decimal.Decimal, method, errorMessage string) PaymentFailed {
	return PaymentFailed{
		Envelope:      NewEnvelope(TypePaymentFailed, paymentID),
		PaymentID:     paymentID,
		OrderID:       orderID,
		Amount:        amount,
		PaymentMethod: method,
		ErrorMessage:  errorMessage,
		FailedAt:      time.Now().UTC(),
	}
}

type PaymentRefunded struct {
	Envelope
	PaymentID    string          `json:"paymentId"`
	OrderID      string          `json:"orderId"`
	RefundAmount decimal.Decimal `json:"refundAmount"`
	Reason       string          `json:"reason"`
	RefundedAt   time.Time       `json:"refundedAt"`
}

func NewPaymentRefunded(paymentID, orderID string, refundAmount decimal.Decimal, reason string) PaymentRefunded {
	return PaymentRefunded{
		Envelope:     NewEnvelope(TypePaymentRefunded, paymentID),
		PaymentID:    paymentID,
		OrderID:      orderID,
		RefundAmount: refundAmount,
		Reason:       reason,
		RefundedAt:   time.Now().UTC(),
	}
}

// NotificationFailed is the terminal outcome of the notification retry loop.
type NotificationFailed struct {
	Envelope
	NotificationID string `json:"notificationId"`
	CustomerID     string `json:"customerId"`
	Type           string `json:"type"`
	Recipient      string `json:"recipient"`
	FailureReason  string `json:"failureReason"`
	Attempts       int    `json:"attempts"`
}

func NewNotificationFailed(notificationID, customerID, typ, recipient, reason string, attempts int) NotificationFailed {
	return NotificationFailed{
		Envelope:       NewEnvelope(TypeNotificationFailed, notificationID),
		NotificationID: notificationID,
		CustomerID:     customerID,
		Type:           typ,
		Recipient:      recipient,
		FailureReason:  reason,
		Attempts:       attempts,
	}
}

// Product lifecycle events are part of the shared schema even though the
// catalog service owns them.
type ProductCreated struct {
	Envelope
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
}

type ProductPriceChanged struct {
	Envelope
	ProductID string          `json:"productId"`
	OldPrice  decimal.Decimal `json:"oldPrice"`
	NewPrice  decimal.Decimal `json:"newPrice"`
}

// DeliveryReceipt reports a successful hand-off to the broker.
type DeliveryReceipt struct {
	Topic       string
	Key         string
	PublishedAt time.Time
}

// BatchResult is the per-event outcome of PublishBatch. Partial success is
// normal; callers must not assume all-or-nothing.
type BatchResult struct {
	Receipt *DeliveryReceipt
	Err     error
}

// Publisher is the broker capability the lifecycle services depend on. One
// instance is owned by the process and passed to every component that
// publishes.
type Publisher interface {
	Publish(ctx context.Context, topic string, evt Event) (*DeliveryReceipt, error)
	PublishWithKey(ctx context.Context, topic, key string, evt Event) (*DeliveryReceipt, error)
	PublishBatch(ctx context.Context, topic string, evts []Event) ([]BatchResult, error)
}

// DecodeEnvelope pulls the envelope metadata out of a raw message so
// consumers can route on eventType before decoding the full payload.
func DecodeEnvelope(value []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
