package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound            = errors.New("order not found")
	ErrIdempotencyConflict = errors.New("idempotency key already used")
)

type OrderID string
type CustomerID string
type ProductID string

type Status string

const (
	StatusPending    Status = "Pending"
	StatusConfirmed  Status = "Confirmed"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
	StatusRefunded   Status = "Refunded"
)

type AddressType string

const (
	AddressShipping AddressType = "Shipping"
	AddressBilling  AddressType = "Billing"
)

type Item struct {
	ID          string
	ProductID   ProductID
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
}

type Address struct {
	Type           AddressType
	FirstName      string
	LastName       string
	StreetAddress  string
	StreetAddress2 string
	City           string
	State          string
	PostalCode     string
	Country        string
	PhoneNumber    string
	Email          string
}

// Order is the aggregate owned by the order service. It is never physically
// deleted; IsDeleted hides it from every read path.
type Order struct {
	ID              OrderID
	CustomerID      CustomerID
	OrderNumber     string
	Status          Status
	TotalAmount     decimal.Decimal
	TaxAmount       decimal.Decimal
	ShippingAmount  decimal.Decimal
	DiscountAmount  decimal.Decimal
	OrderDate       time.Time
	ShippedDate     *time.Time
	DeliveredDate   *time.Time
	TrackingNumber  string
	Notes           string
	Items           []Item
	ShippingAddress Address
	BillingAddress  Address
	CreatedAt       time.Time
	UpdatedAt       *time.Time
	IsDeleted       bool
}
