package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/ecommerce-events-go/internal/order/domain"
	"github.com/nazeru/ecommerce-events-go/pkg/events"
)

type fakeStore struct {
	orders    map[domain.OrderID]*domain.Order
	byIdemKey map[string]domain.OrderID
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:    map[domain.OrderID]*domain.Order{},
		byIdemKey: map[string]domain.OrderID{},
	}
}

func (s *fakeStore) Insert(_ context.Context, o *domain.Order, idempotencyKey string) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	if idempotencyKey != "" {
		if _, ok := s.byIdemKey[idempotencyKey]; ok {
			return domain.ErrIdempotencyConflict
		}
		s.byIdemKey[idempotencyKey] = o.ID
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *fakeStore) Get(_ context.Context, id domain.OrderID) (*domain.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id domain.OrderID, status domain.Status, notes string) error {
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = status
	if notes != "" {
		o.Notes = notes
	}
	return nil
}

func (s *fakeStore) SetShipped(_ context.Context, id domain.OrderID, trackingNumber string, at time.Time) error {
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = domain.StatusShipped
	o.TrackingNumber = trackingNumber
	o.ShippedDate = &at
	return nil
}

func (s *fakeStore) SetDelivered(_ context.Context, id domain.OrderID, at time.Time) error {
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = domain.StatusDelivered
	o.DeliveredDate = &at
	return nil
}

func (s *fakeStore) GetByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	id, ok := s.byIdemKey[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.Get(context.Background(), id)
}

type fakePublisher struct {
	published []publishedEvent
	err       error
}

type publishedEvent struct {
	topic string
	evt   events.Event
}

func (p *fakePublisher) Publish(_ context.Context, topic string, evt events.Event) (*events.DeliveryReceipt, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.published = append(p.published, publishedEvent{topic: topic, evt: evt})
	return &events.DeliveryReceipt{Topic: topic, Key: evt.Meta().Key(), PublishedAt: time.Now().UTC()}, nil
}

func (p *fakePublisher) PublishWithKey(ctx context.Context, topic, _ string, evt events.Event) (*events.DeliveryReceipt, error) {
	return p.Publish(ctx, topic, evt)
}

func (p *fakePublisher) PublishBatch(ctx context.Context, topic string, evts []events.Event) ([]events.BatchResult, error) {
	results := make([]events.BatchResult, len(evts))
	for i, evt := range evts {
		receipt, err := p.Publish(ctx, topic, evt)
		results[i] = events.BatchResult{Receipt: receipt, Err: err}
	}
	return results, nil
}

type mapPricer map[domain.ProductID]decimal.Decimal

func (p mapPricer) Price(_ context.Context, productID domain.ProductID) (string, decimal.Decimal, error) {
	price, ok := p[productID]
	if !ok {
		return "", decimal.Zero, errors.New("unknown product")
	}
	return "Product " + string(productID), price, nil
}

func newService(store Store, pub events.Publisher, pricer Pricer) *Service {
	return New(store, pub, pricer, DefaultConfig())
}

func validParams() CreateParams {
	return CreateParams{
		CustomerID: "cust-1",
		Items: []CreateItem{
			{ProductID: "sku-1", Quantity: 1},
			{ProductID: "sku-2", Quantity: 2},
		},
		ShippingAddress: domain.Address{City: "Testville"},
		BillingAddress:  domain.Address{City: "Testville"},
	}
}

func TestCreateComputesTotals(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	pricer := mapPricer{
		"sku-1": decimal.RequireFromString("10.00"),
		"sku-2": decimal.RequireFromString("5.00"),
	}
	svc := newService(store, pub, pricer)

	order, err := svc.Create(context.Background(), validParams())
	require.NoError(t, err)

	// subtotal 20.00, tax 1.60, shipping 9.99, discount 0
	assert.Equal(t, "1.60", order.TaxAmount.StringFixed(2))
	assert.Equal(t, "9.99", order.ShippingAmount.StringFixed(2))
	assert.Equal(t, "0.00", order.DiscountAmount.StringFixed(2))
	assert.Equal(t, "31.59", order.TotalAmount.StringFixed(2))
	assert.Equal(t, domain.StatusPending, order.Status)
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-F]{8}$`, order.OrderNumber)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "10.00", order.Items[1].TotalPrice.StringFixed(2))
	assert.Equal(t, domain.AddressShipping, order.ShippingAddress.Type)
	assert.Equal(t, domain.AddressBilling, order.BillingAddress.Type)
}

func TestCreatePublishesOrderCreated(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newService(store, pub, mapPricer{"sku-1": decimal.RequireFromString("10.00"), "sku-2": decimal.RequireFromString("5.00")})

	order, err := svc.Create(context.Background(), validParams())
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	assert.Equal(t, events.TopicOrderEvents, pub.published[0].topic)
	evt, ok := pub.published[0].evt.(events.OrderCreated)
	require.True(t, ok)
	assert.Equal(t, string(order.ID), evt.OrderID)
	assert.Equal(t, string(order.ID), evt.AggregateID)
	assert.Equal(t, "31.59", evt.TotalAmount.StringFixed(2))
}

func TestCreateSurvivesPublishFailure(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := newService(store, pub, mapPricer{"sku-1": decimal.RequireFromString("10.00"), "sku-2": decimal.RequireFromString("5.00")})

	order, err := svc.Create(context.Background(), validParams())
	require.NoError(t, err)

	// The committed order stands even though the event never left.
	stored, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestCreateRejectsEmptyItems(t *testing.T) {
	svc := newService(newFakeStore(), &fakePublisher{}, mapPricer{})
	p := validParams()
	p.Items = nil
	_, err := svc.Create(context.Background(), p)
	assert.Error(t, err)
}

func TestCreateRejectsBadQuantity(t *testing.T) {
	svc := newService(newFakeStore(), &fakePublisher{}, mapPricer{})
	p := validParams()
	p.Items = []CreateItem{{ProductID: "sku-1", Quantity: 0}}
	_, err := svc.Create(context.Background(), p)
	assert.Error(t, err)
}

func TestCreateIdempotentReplay(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newService(store, pub, mapPricer{"sku-1": decimal.RequireFromString("10.00"), "sku-2": decimal.RequireFromString("5.00")})

	p := validParams()
	p.IdempotencyKey = "key-1"
	first, err := svc.Create(context.Background(), p)
	require.NoError(t, err)

	second, err := svc.Create(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	// The replay neither re-inserts nor re-publishes.
	assert.Len(t, pub.published, 1)
	assert.Len(t, store.orders, 1)
}

func TestUpdateStatusPublishesOldAndNew(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newService(store, pub, mapPricer{"sku-1": decimal.RequireFromString("10.00"), "sku-2": decimal.RequireFromString("5.00")})

	order, err := svc.Create(context.Background(), validParams())
	require.NoError(t, err)
	pub.published = nil

	updated, err := svc.UpdateStatus(context.Background(), order.ID, domain.StatusConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, updated.Status)

	require.Len(t, pub.published, 1)
	evt, ok := pub.published[0].evt.(events.OrderStatusUpdated)
	require.True(t, ok)
	assert.Equal(t, "Pending", evt.OldStatus)
	assert.Equal(t, "Confirmed", evt.NewStatus)
}

func TestUpdateStatusAllowsAnyTransition(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newService(store, pub, mapPricer{"sku-1": decimal.RequireFromString("10.00"), "sku-2": decimal.RequireFromString("5.00")})

	order, err := svc.Create(context.Background(), validParams())
	require.NoError(t, err)

	// There is no transition table; Delivered straight back to Pending holds.
	_, err = svc.UpdateStatus(context.Background(), order.ID, domain.StatusDelivered, "")
	require.NoError(t, err)
	updated, err := svc.UpdateStatus(context.Background(), order.ID, domain.StatusPending, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, updated.Status)
}

func TestUpdateStatusNotFound(t *testing.T) {
	svc := newService(newFakeStore(), &fakePublisher{}, mapPricer{})
	_, err := svc.UpdateStatus(context.Background(), "missing", domain.StatusConfirmed, "")
	assert.Error(t, err)
}

func TestCancelPublishesOrderCancelled(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newService(store, pub, mapPricer{"sku-1": decimal.RequireFromString("10.00"), "sku-2": decimal.RequireFromString("5.00")})

	order, err := svc.Create(context.Background(), validParams())
	require.NoError(t, err)
	pub.published = nil

	ok, err := svc.Cancel(context.Background(), order.ID, "changed my mind")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)

	require.Len(t, pub.published, 1)
	assert.Equal(t, events.TopicOrderCancelled, pub.published[0].topic)
	evt, isCancelled := pub.published[0].evt.(events.OrderCancelled)
	require.True(t, isCancelled)
	assert.Equal(t, "changed my mind", evt.Reason)
}

func TestShipStampsTracking(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newService(store, pub, mapPricer{"sku-1": decimal.RequireFromString("10.00"), "sku-2": decimal.RequireFromString("5.00")})

	order, err := svc.Create(context.Background(), validParams())
	require.NoError(t, err)
	pub.published = nil

	shipped, err := svc.Ship(context.Background(), order.ID, "TRACK-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusShipped, shipped.Status)
	assert.Equal(t, "TRACK-1", shipped.TrackingNumber)
	require.NotNil(t, shipped.ShippedDate)

	require.Len(t, pub.published, 1)
	evt, isUpdate := pub.published[0].evt.(events.OrderStatusUpdated)
	require.True(t, isUpdate)
	assert.Equal(t, "Shipped", evt.NewStatus)
}

func TestDeliverStampsDate(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newService(store, pub, mapPricer{"sku-1": decimal.RequireFromString("10.00"), "sku-2": decimal.RequireFromString("5.00")})

	order, err := svc.Create(context.Background(), validParams())
	require.NoError(t, err)

	delivered, err := svc.Deliver(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, delivered.Status)
	require.NotNil(t, delivered.DeliveredDate)
}

func TestGetNotFound(t *testing.T) {
	svc := newService(newFakeStore(), &fakePublisher{}, mapPricer{})
	_, err := svc.Get(context.Background(), "missing")
	assert.Error(t, err)
}
