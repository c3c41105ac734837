package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/ecommerce-events-go/internal/order/domain"
	"github.com/nazeru/ecommerce-events-go/pkg/apperr"
	"github.com/nazeru/ecommerce-events-go/pkg/events"
	"github.com/nazeru/ecommerce-events-go/pkg/logging"
	"github.com/nazeru/ecommerce-events-go/pkg/refnum"
)

const serviceName = "order-service"

// Store is the persistence the lifecycle needs. Insert must write the order,
// its items, both addresses and the idempotency row in one transaction.
type Store interface {
	Insert(ctx context.Context, o *domain.Order, idempotencyKey string) error
	Get(ctx context.Context, id domain.OrderID) (*domain.Order, error)
	UpdateStatus(ctx context.Context, id domain.OrderID, status domain.Status, notes string) error
	SetShipped(ctx context.Context, id domain.OrderID, trackingNumber string, at time.Time) error
	SetDelivered(ctx context.Context, id domain.OrderID, at time.Time) error
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
}

// Pricer resolves product identity and unit price; the catalog owns both.
type Pricer interface {
	Price(ctx context.Context, productID domain.ProductID) (name string, unitPrice decimal.Decimal, err error)
}

// StaticPricer prices everything the same; a stand-in until the catalog
// lookup is plugged in.
type StaticPricer struct {
	Unit decimal.Decimal
}

func (p StaticPricer) Price(_ context.Context, productID domain.ProductID) (string, decimal.Decimal, error) {
	return fmt.Sprintf("Product %s", productID), p.Unit, nil
}

type Config struct {
	TaxRate     decimal.Decimal
	ShippingFee decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		TaxRate:     decimal.NewFromFloat(0.08),
		ShippingFee: decimal.NewFromFloat(9.99),
	}
}

type Service struct {
	store  Store
	pub    events.Publisher
	pricer Pricer
	cfg    Config
}

func New(store Store, pub events.Publisher, pricer Pricer, cfg Config) *Service {
	return &Service{store: store, pub: pub, pricer: pricer, cfg: cfg}
}

type CreateItem struct {
	ProductID domain.ProductID
	Quantity  int
}

type CreateParams struct {
	CustomerID      domain.CustomerID
	Items           []CreateItem
	ShippingAddress domain.Address
	BillingAddress  domain.Address
	Notes           string
	IdempotencyKey  string
}

// Create persists the order atomically and publishes OrderCreated. Publishing
// is best-effort: a broker failure is logged, the committed order stands.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Order, error) {
	if len(p.Items) == 0 {
		return nil, apperr.Validation("order must contain at least one item")
	}
	for _, it := range p.Items {
		if it.ProductID == "" || it.Quantity < 1 {
			return nil, apperr.Validation("each item needs a product id and quantity >= 1")
		}
	}

	if p.IdempotencyKey != "" {
		if existing, err := s.store.GetByIdempotencyKey(ctx, p.IdempotencyKey); err == nil && existing != nil {
			return existing, nil
		}
	}

	subtotal := decimal.Zero
	items := make([]domain.Item, 0, len(p.Items))
	for _, it := range p.Items {
		name, unit, err := s.pricer.Price(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		lineTotal := unit.Mul(decimal.NewFromInt(int64(it.Quantity)))
		subtotal = subtotal.Add(lineTotal)
		items = append(items, domain.Item{
			ID:          uuid.NewString(),
			ProductID:   it.ProductID,
			ProductName: name,
			Quantity:    it.Quantity,
			UnitPrice:   unit,
			TotalPrice:  lineTotal,
		})
	}

	tax := subtotal.Mul(s.cfg.TaxRate).Round(2)
	discount := decimal.Zero
	total := subtotal.Add(tax).Add(s.cfg.ShippingFee).Sub(discount)

	now := time.Now().UTC()
	shipping := p.ShippingAddress
	shipping.Type = domain.AddressShipping
	billing := p.BillingAddress
	billing.Type = domain.AddressBilling

	order := &domain.Order{
		ID:              domain.OrderID(uuid.NewString()),
		CustomerID:      p.CustomerID,
		OrderNumber:     refnum.New("ORD"),
		Status:          domain.StatusPending,
		TotalAmount:     total,
		TaxAmount:       tax,
		ShippingAmount:  s.cfg.ShippingFee,
		DiscountAmount:  discount,
		OrderDate:       now,
		Notes:           p.Notes,
		Items:           items,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		CreatedAt:       now,
	}

	if err := s.store.Insert(ctx, order, p.IdempotencyKey); err != nil {
		if errors.Is(err, domain.ErrIdempotencyConflict) && p.IdempotencyKey != "" {
			if existing, lerr := s.store.GetByIdempotencyKey(ctx, p.IdempotencyKey); lerr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	evtItems := make([]events.OrderItem, 0, len(items))
	for _, it := range items {
		evtItems = append(evtItems, events.OrderItem{
			ProductID:   string(it.ProductID),
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			TotalPrice:  it.TotalPrice,
		})
	}
	evt := events.NewOrderCreated(string(order.ID), string(order.CustomerID), evtItems, order.TotalAmount, string(order.Status))
	s.publish(ctx, events.TopicOrderEvents, evt, string(order.ID))

	logging.Log(logging.Fields{Service: serviceName, OrderID: string(order.ID), Step: "create", Status: string(order.Status), Message: "order created " + order.OrderNumber})
	return order, nil
}

// UpdateStatus overwrites the status unconditionally; there is no transition
// table, any status may follow any other.
func (s *Service) UpdateStatus(ctx context.Context, id domain.OrderID, newStatus domain.Status, notes string) (*domain.Order, error) {
	order, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	oldStatus := order.Status
	if err := s.store.UpdateStatus(ctx, id, newStatus, notes); err != nil {
		return nil, err
	}
	order.Status = newStatus
	if notes != "" {
		order.Notes = notes
	}
	now := time.Now().UTC()
	order.UpdatedAt = &now

	evt := events.NewOrderStatusUpdated(string(id), string(oldStatus), string(newStatus))
	s.publish(ctx, events.TopicOrderStatusUpdated, evt, string(id))

	logging.Log(logging.Fields{Service: serviceName, OrderID: string(id), Step: "update_status", Status: string(newStatus), Message: string(oldStatus) + " -> " + string(newStatus)})
	return order, nil
}

func (s *Service) Cancel(ctx context.Context, id domain.OrderID, reason string) (bool, error) {
	order, err := s.get(ctx, id)
	if err != nil {
		return false, err
	}

	if err := s.store.UpdateStatus(ctx, id, domain.StatusCancelled, order.Notes); err != nil {
		return false, err
	}

	evt := events.NewOrderCancelled(string(id), reason)
	s.publish(ctx, events.TopicOrderCancelled, evt, string(id))

	logging.Log(logging.Fields{Service: serviceName, OrderID: string(id), Step: "cancel", Status: string(domain.StatusCancelled), Message: reason})
	return true, nil
}

func (s *Service) Ship(ctx context.Context, id domain.OrderID, trackingNumber string) (*domain.Order, error) {
	order, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	oldStatus := order.Status
	now := time.Now().UTC()
	if err := s.store.SetShipped(ctx, id, trackingNumber, now); err != nil {
		return nil, err
	}
	order.Status = domain.StatusShipped
	order.ShippedDate = &now
	order.TrackingNumber = trackingNumber
	order.UpdatedAt = &now

	evt := events.NewOrderStatusUpdated(string(id), string(oldStatus), string(domain.StatusShipped))
	s.publish(ctx, events.TopicOrderStatusUpdated, evt, string(id))

	logging.Log(logging.Fields{Service: serviceName, OrderID: string(id), Step: "ship", Status: string(domain.StatusShipped), Message: "tracking " + trackingNumber})
	return order, nil
}

func (s *Service) Deliver(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	order, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	oldStatus := order.Status
	now := time.Now().UTC()
	if err := s.store.SetDelivered(ctx, id, now); err != nil {
		return nil, err
	}
	order.Status = domain.StatusDelivered
	order.DeliveredDate = &now
	order.UpdatedAt = &now

	evt := events.NewOrderStatusUpdated(string(id), string(oldStatus), string(domain.StatusDelivered))
	s.publish(ctx, events.TopicOrderStatusUpdated, evt, string(id))

	logging.Log(logging.Fields{Service: serviceName, OrderID: string(id), Step: "deliver", Status: string(domain.StatusDelivered)})
	return order, nil
}

func (s *Service) Get(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	return s.get(ctx, id)
}

func (s *Service) get(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	order, err := s.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) publish(ctx context.Context, topic string, evt events.Event, orderID string) {
	if _, err := s.pub.Publish(ctx, topic, evt); err != nil {
		logging.Error(logging.Fields{Service: serviceName, OrderID: orderID, EventID: evt.Meta().EventID, Topic: topic, Step: "publish", Status: "error", Message: "event publish failed, order state stands"}, err)
	}
}
