package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/ecommerce-events-go/internal/notification/channel"
	"github.com/nazeru/ecommerce-events-go/internal/notification/domain"
	"github.com/nazeru/ecommerce-events-go/internal/notification/service"
	"github.com/nazeru/ecommerce-events-go/pkg/events"
	"github.com/nazeru/ecommerce-events-go/pkg/kafka"
)

type fakeStore struct {
	notifications map[domain.NotificationID]*domain.Notification
	templates     map[string]*domain.Template
	seen          map[string]bool

	insertErr error // consumed by the next InsertFromEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		notifications: map[domain.NotificationID]*domain.Notification{},
		templates:     map[string]*domain.Template{},
		seen:          map[string]bool{},
	}
}

func (s *fakeStore) Insert(_ context.Context, n *domain.Notification) error {
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *fakeStore) Get(_ context.Context, id domain.NotificationID) (*domain.Notification, error) {
	n, ok := s.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *fakeStore) UpdateDispatchResult(_ context.Context, n *domain.Notification) error {
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *fakeStore) GetActiveTemplate(_ context.Context, name string) (*domain.Template, error) {
	t, ok := s.templates[name]
	if !ok || !t.IsActive {
		return nil, domain.ErrTemplateNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) UpsertTemplate(_ context.Context, t *domain.Template) error {
	cp := *t
	s.templates[t.Name] = &cp
	return nil
}

func (s *fakeStore) FetchDueRetries(_ context.Context, _ time.Time, _, _ int) ([]*domain.Notification, error) {
	return nil, nil
}

func (s *fakeStore) InsertFromEvent(_ context.Context, eventID string, n *domain.Notification) error {
	if s.seen[eventID] {
		return domain.ErrDuplicateEvent
	}
	if s.insertErr != nil {
		// The claim rolls back with the failed insert.
		err := s.insertErr
		s.insertErr = nil
		return err
	}
	s.seen[eventID] = true
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(_ context.Context, topic string, evt events.Event) (*events.DeliveryReceipt, error) {
	return &events.DeliveryReceipt{Topic: topic, Key: evt.Meta().Key(), PublishedAt: time.Now().UTC()}, nil
}

func (p nopPublisher) PublishWithKey(ctx context.Context, topic, _ string, evt events.Event) (*events.DeliveryReceipt, error) {
	return p.Publish(ctx, topic, evt)
}

func (p nopPublisher) PublishBatch(ctx context.Context, topic string, evts []events.Event) ([]events.BatchResult, error) {
	results := make([]events.BatchResult, len(evts))
	for i, evt := range evts {
		receipt, err := p.Publish(ctx, topic, evt)
		results[i] = events.BatchResult{Receipt: receipt, Err: err}
	}
	return results, nil
}

func seedTemplates(t *testing.T, store *fakeStore) {
	t.Helper()
	for _, name := range []string{TemplateOrderConfirmation, TemplatePaymentSuccess, TemplatePaymentFailure} {
		require.NoError(t, store.UpsertTemplate(context.Background(), &domain.Template{
			ID:       name,
			Name:     name,
			Type:     domain.TypeEmail,
			Subject:  "Update on {orderId}",
			Content:  "Order {orderId}",
			IsActive: true,
		}))
	}
}

func newConsumer(store *fakeStore) *Consumer {
	svc := service.New(store, nopPublisher{}, map[domain.Type]channel.Channel{}, service.DefaultConfig())
	return New(svc)
}

func message(t *testing.T, topic string, evt events.Event) kafka.Message {
	t.Helper()
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	return kafka.Message{Topic: topic, Key: []byte(evt.Meta().Key()), Value: data}
}

func TestHandleOrderCreatedRecordsNotification(t *testing.T) {
	store := newFakeStore()
	seedTemplates(t, store)
	c := newConsumer(store)

	evt := events.NewOrderCreated("order-1", "cust-1", nil, decimal.RequireFromString("31.59"), "Pending")
	err := c.Handle(context.Background(), message(t, events.TopicOrderEvents, evt))
	require.NoError(t, err)

	require.Len(t, store.notifications, 1)
	for _, n := range store.notifications {
		assert.Equal(t, domain.StatusPending, n.Status)
		assert.Equal(t, "Update on order-1", n.Subject)
		assert.Equal(t, "order-1", n.OrderID)
		assert.Equal(t, domain.CustomerID("cust-1"), n.CustomerID)
	}
}

func TestHandleDeduplicatesByEventID(t *testing.T) {
	store := newFakeStore()
	seedTemplates(t, store)
	c := newConsumer(store)

	evt := events.NewOrderCreated("order-1", "cust-1", nil, decimal.RequireFromString("31.59"), "Pending")
	msg := message(t, events.TopicOrderEvents, evt)

	require.NoError(t, c.Handle(context.Background(), msg))
	// Redelivery of the same event id is a no-op.
	require.NoError(t, c.Handle(context.Background(), msg))

	assert.Len(t, store.notifications, 1)
}

func TestHandlePaymentProcessed(t *testing.T) {
	store := newFakeStore()
	seedTemplates(t, store)
	c := newConsumer(store)

	evt := events.NewPaymentProcessed("pay-1", "order-1", decimal.RequireFromString("31.59"), "card", "Succeeded", "pi_123")
	require.NoError(t, c.Handle(context.Background(), message(t, events.TopicPaymentEvents, evt)))

	require.Len(t, store.notifications, 1)
	for _, n := range store.notifications {
		assert.Equal(t, "pay-1", n.PaymentID)
		assert.Equal(t, "order-1", n.OrderID)
	}
}

func TestHandlePaymentFailed(t *testing.T) {
	store := newFakeStore()
	seedTemplates(t, store)
	c := newConsumer(store)

	evt := events.NewPaymentFailed("pay-1", "order-1", decimal.RequireFromString("31.59"), "card", "card_declined")
	require.NoError(t, c.Handle(context.Background(), message(t, events.TopicPaymentEvents, evt)))

	assert.Len(t, store.notifications, 1)
}

func TestHandleIgnoresUnknownEventTypes(t *testing.T) {
	store := newFakeStore()
	seedTemplates(t, store)
	c := newConsumer(store)

	evt := events.NewOrderCancelled("order-1", "whatever")
	require.NoError(t, c.Handle(context.Background(), message(t, events.TopicOrderEvents, evt)))

	assert.Empty(t, store.notifications)
	// Ignored types never touch the inbox.
	assert.False(t, store.seen[evt.EventID])
}

func TestHandleRetriesAfterInsertFailure(t *testing.T) {
	store := newFakeStore()
	seedTemplates(t, store)
	c := newConsumer(store)

	evt := events.NewOrderCreated("order-1", "cust-1", nil, decimal.RequireFromString("31.59"), "Pending")
	msg := message(t, events.TopicOrderEvents, evt)

	// A transient store failure must leave the message uncommitted and the
	// event unclaimed, so redelivery can complete the write.
	store.insertErr = errors.New("connection reset")
	require.Error(t, c.Handle(context.Background(), msg))
	assert.Empty(t, store.notifications)

	require.NoError(t, c.Handle(context.Background(), msg))
	assert.Len(t, store.notifications, 1)
}

func TestHandleSkipsUndecodableMessages(t *testing.T) {
	store := newFakeStore()
	c := newConsumer(store)

	err := c.Handle(context.Background(), kafka.Message{Topic: events.TopicOrderEvents, Value: []byte("not json")})
	require.NoError(t, err)
	assert.Empty(t, store.notifications)
}

func TestHandleMissingTemplateDoesNotBlockTheTopic(t *testing.T) {
	store := newFakeStore() // no templates seeded
	c := newConsumer(store)

	evt := events.NewOrderCreated("order-1", "cust-1", nil, decimal.RequireFromString("31.59"), "Pending")
	err := c.Handle(context.Background(), message(t, events.TopicOrderEvents, evt))
	// A missing template is logged and skipped, not retried forever.
	require.NoError(t, err)
	assert.Empty(t, store.notifications)
}
