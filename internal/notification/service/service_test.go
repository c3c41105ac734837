package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/ecommerce-events-go/internal/notification/channel"
	"github.com/nazeru/ecommerce-events-go/internal/notification/domain"
	"github.com/nazeru/ecommerce-events-go/pkg/apperr"
	"github.com/nazeru/ecommerce-events-go/pkg/events"
)

type fakeStore struct {
	notifications map[domain.NotificationID]*domain.Notification
	templates     map[string]*domain.Template
	seen          map[string]bool
	inserts       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		notifications: map[domain.NotificationID]*domain.Notification{},
		templates:     map[string]*domain.Template{},
		seen:          map[string]bool{},
	}
}

func (s *fakeStore) Insert(_ context.Context, n *domain.Notification) error {
	s.inserts++
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
	if _, ok := s.notifications[n.ID]; !ok {
		return domain.ErrNotFound
	}
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

func (s *fakeStore) FetchDueRetries(_ context.Context, now time.Time, maxAttempts, limit int) ([]*domain.Notification, error) {
	var due []*domain.Notification
	for _, n := range s.notifications {
		if n.Status != domain.StatusFailed || n.NextRetryAt == nil || n.RetryCount >= maxAttempts {
			continue
		}
		if n.NextRetryAt.After(now) {
			continue
		}
		cp := *n
		due = append(due, &cp)
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (s *fakeStore) InsertFromEvent(_ context.Context, eventID string, n *domain.Notification) error {
	if s.seen[eventID] {
		return domain.ErrDuplicateEvent
	}
	s.seen[eventID] = true
	return s.Insert(context.Background(), n)
}

type fakeChannel struct {
	externalID string
	err        error
	calls      int
}

func (c *fakeChannel) Deliver(_ context.Context, _, _, _ string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.externalID, nil
}

type fakePublisher struct {
	published []events.Event
	topics    []string
}

func (p *fakePublisher) Publish(_ context.Context, topic string, evt events.Event) (*events.DeliveryReceipt, error) {
	p.published = append(p.published, evt)
	p.topics = append(p.topics, topic)
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

func emailOnly(ch channel.Channel) map[domain.Type]channel.Channel {
	return map[domain.Type]channel.Channel{domain.TypeEmail: ch}
}

func sendParams() SendParams {
	return SendParams{
		CustomerID: "cust-1",
		Type:       domain.TypeEmail,
		Subject:    "Hi",
		Content:    "Hello there",
		Recipient:  "ann@example.com",
		OrderID:    "order-1",
	}
}

func TestSendSuccess(t *testing.T) {
	store := newFakeStore()
	ch := &fakeChannel{externalID: "msg-1"}
	svc := New(store, &fakePublisher{}, emailOnly(ch), DefaultConfig())

	n, err := svc.Send(context.Background(), sendParams())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSent, n.Status)
	assert.Equal(t, "msg-1", n.ExternalID)
	require.NotNil(t, n.SentAt)
	assert.Regexp(t, `^NOT-\d{8}-[0-9A-F]{8}$`, n.NotificationNumber)
	assert.Equal(t, 1, ch.calls)

	stored, err := store.Get(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)
}

func TestSendDeliveryFailureIsNotAnError(t *testing.T) {
	store := newFakeStore()
	ch := &fakeChannel{err: errors.New("sendgrid: status 503")}
	svc := New(store, &fakePublisher{}, emailOnly(ch), DefaultConfig())

	n, err := svc.Send(context.Background(), sendParams())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, n.Status)
	assert.Equal(t, "sendgrid: status 503", n.FailureReason)
	// The retry slot is seeded so the scheduler will pick it up.
	require.NotNil(t, n.NextRetryAt)
	assert.True(t, n.NextRetryAt.After(time.Now()))
}

func TestSendMisconfiguredIsAnError(t *testing.T) {
	store := newFakeStore()
	ch := &fakeChannel{err: apperr.Misconfigured("sendgrid api key not configured")}
	svc := New(store, &fakePublisher{}, emailOnly(ch), DefaultConfig())

	_, err := svc.Send(context.Background(), sendParams())
	require.Error(t, err)
	assert.True(t, apperr.IsMisconfigured(err))

	// The row is still recorded as failed.
	require.Len(t, store.notifications, 1)
	for _, n := range store.notifications {
		assert.Equal(t, domain.StatusFailed, n.Status)
	}
}

func TestSendUnsupportedType(t *testing.T) {
	store := newFakeStore()
	svc := New(store, &fakePublisher{}, emailOnly(&fakeChannel{}), DefaultConfig())

	p := sendParams()
	p.Type = domain.TypePush
	_, err := svc.Send(context.Background(), p)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	// The attempt is recorded even though the type is unsupported, but no
	// retry slot is seeded: retrying a rejected type cannot succeed.
	require.Len(t, store.notifications, 1)
	for _, n := range store.notifications {
		assert.Equal(t, domain.StatusFailed, n.Status)
		assert.Nil(t, n.NextRetryAt)
	}
}

func TestSendFromTemplateRendersAndRecordsOnly(t *testing.T) {
	store := newFakeStore()
	ch := &fakeChannel{}
	svc := New(store, &fakePublisher{}, emailOnly(ch), DefaultConfig())

	require.NoError(t, store.UpsertTemplate(context.Background(), &domain.Template{
		ID:       "tpl-1",
		Name:     "order-confirmation",
		Type:     domain.TypeEmail,
		Subject:  "Order {orderId} confirmed",
		Content:  "Total: {totalAmount}",
		IsActive: true,
	}))

	n, err := svc.SendFromTemplate(context.Background(), TemplateParams{
		CustomerID:   "cust-1",
		TemplateName: "order-confirmation",
		Recipient:    "ann@example.com",
		Variables:    map[string]string{"orderId": "ORD-1", "totalAmount": "31.59"},
		OrderID:      "order-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "Order ORD-1 confirmed", n.Subject)
	assert.Equal(t, "Total: 31.59", n.Content)
	// The template path records intent; nothing is dispatched.
	assert.Equal(t, domain.StatusPending, n.Status)
	assert.Zero(t, ch.calls)
}

func TestSendFromTemplateClaimsEventOnce(t *testing.T) {
	store := newFakeStore()
	svc := New(store, &fakePublisher{}, emailOnly(&fakeChannel{}), DefaultConfig())

	require.NoError(t, store.UpsertTemplate(context.Background(), &domain.Template{
		ID: "tpl-1", Name: "order-confirmation", Type: domain.TypeEmail, Content: "x", IsActive: true,
	}))

	p := TemplateParams{TemplateName: "order-confirmation", Recipient: "ann@example.com", EventID: "evt-1"}
	_, err := svc.SendFromTemplate(context.Background(), p)
	require.NoError(t, err)

	_, err = svc.SendFromTemplate(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrDuplicateEvent)
	assert.Len(t, store.notifications, 1)
}

func TestSendFromTemplateMissing(t *testing.T) {
	svc := New(newFakeStore(), &fakePublisher{}, emailOnly(&fakeChannel{}), DefaultConfig())
	_, err := svc.SendFromTemplate(context.Background(), TemplateParams{TemplateName: "nope"})
	assert.True(t, apperr.IsNotFound(err))
}

func TestSendFromTemplateInactive(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.UpsertTemplate(context.Background(), &domain.Template{
		ID: "tpl-1", Name: "retired", Type: domain.TypeEmail, Content: "x", IsActive: false,
	}))
	svc := New(store, &fakePublisher{}, emailOnly(&fakeChannel{}), DefaultConfig())

	_, err := svc.SendFromTemplate(context.Background(), TemplateParams{TemplateName: "retired"})
	assert.True(t, apperr.IsNotFound(err))
}

func TestSeedTemplates(t *testing.T) {
	store := newFakeStore()
	svc := New(store, &fakePublisher{}, nil, DefaultConfig())

	err := svc.SeedTemplates(context.Background(), []domain.Template{
		{ID: "a", Name: "one", Type: domain.TypeEmail, Content: "x", IsActive: true},
		{ID: "b", Name: "two", Type: domain.TypeSMS, Content: "y", IsActive: true},
	})
	require.NoError(t, err)
	assert.Len(t, store.templates, 2)
}

func TestGetNotFound(t *testing.T) {
	svc := New(newFakeStore(), &fakePublisher{}, nil, DefaultConfig())
	_, err := svc.Get(context.Background(), "missing")
	assert.True(t, apperr.IsNotFound(err))
}
