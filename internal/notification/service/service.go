package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/ecommerce-events-go/internal/notification/channel"
	"github.com/nazeru/ecommerce-events-go/internal/notification/domain"
	"github.com/nazeru/ecommerce-events-go/pkg/apperr"
	"github.com/nazeru/ecommerce-events-go/pkg/events"
	"github.com/nazeru/ecommerce-events-go/pkg/logging"
	"github.com/nazeru/ecommerce-events-go/pkg/refnum"
)

const serviceName = "notification-service"

type Store interface {
	Insert(ctx context.Context, n *domain.Notification) error
	// InsertFromEvent claims eventID and writes the notification atomically;
	// a duplicate claim is ErrDuplicateEvent and writes nothing.
	InsertFromEvent(ctx context.Context, eventID string, n *domain.Notification) error
	Get(ctx context.Context, id domain.NotificationID) (*domain.Notification, error)
	UpdateDispatchResult(ctx context.Context, n *domain.Notification) error
	GetActiveTemplate(ctx context.Context, name string) (*domain.Template, error)
	UpsertTemplate(ctx context.Context, t *domain.Template) error
	FetchDueRetries(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*domain.Notification, error)
}

type Config struct {
	// InitialRetryDelay seeds NextRetryAt on a failed dispatch; the scheduler
	// doubles it per attempt.
	InitialRetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{InitialRetryDelay: time.Minute}
}

type Service struct {
	store    Store
	pub      events.Publisher
	channels map[domain.Type]channel.Channel
	cfg      Config
}

func New(store Store, pub events.Publisher, channels map[domain.Type]channel.Channel, cfg Config) *Service {
	return &Service{store: store, pub: pub, channels: channels, cfg: cfg}
}

type SendParams struct {
	CustomerID domain.CustomerID
	Type       domain.Type
	Subject    string
	Content    string
	Recipient  string
	OrderID    string
	PaymentID  string
	ProductID  string
}

// Send persists the notification and dispatches it in the same call. The
// outcome lands on the row: Sent with the provider id, or Failed with the
// reason and a retry slot. A delivery failure is a normal completed-with-
// failure result; misconfigured credentials and unsupported types are errors.
func (s *Service) Send(ctx context.Context, p SendParams) (*domain.Notification, error) {
	n := s.newNotification(p.CustomerID, p.Type, p.Subject, p.Content, p.Recipient, p.OrderID, p.PaymentID, p.ProductID)
	if err := s.store.Insert(ctx, n); err != nil {
		return nil, err
	}

	ch, ok := s.channels[p.Type]
	if !ok {
		// A rejected type is not retryable; no retry slot is seeded.
		s.markFailed(ctx, n, "unsupported notification type: "+string(p.Type), false)
		return nil, apperr.Validation("unsupported notification type: %s", p.Type)
	}

	externalID, err := ch.Deliver(ctx, n.Recipient, n.Subject, n.Content)
	if err != nil {
		s.markFailed(ctx, n, err.Error(), true)
		if apperr.IsMisconfigured(err) {
			return nil, err
		}
		logging.Log(logging.Fields{Service: serviceName, NotificationID: string(n.ID), Step: "send", Status: string(n.Status), Message: n.FailureReason})
		return n, nil
	}

	now := time.Now().UTC()
	n.Status = domain.StatusSent
	n.SentAt = &now
	n.ExternalID = externalID
	n.UpdatedAt = &now
	if err := s.store.UpdateDispatchResult(ctx, n); err != nil {
		return nil, err
	}

	logging.Log(logging.Fields{Service: serviceName, NotificationID: string(n.ID), Step: "send", Status: string(n.Status), Message: n.NotificationNumber})
	return n, nil
}

type TemplateParams struct {
	CustomerID   domain.CustomerID
	TemplateName string
	Recipient    string
	Variables    map[string]string
	OrderID      string
	PaymentID    string
	ProductID    string

	// EventID, when set, dedups the write against the inbox: the claim and
	// the notification insert commit together, or not at all.
	EventID string
}

// SendFromTemplate renders an active template and records the notification as
// Pending. It does not dispatch; this path only records intent.
func (s *Service) SendFromTemplate(ctx context.Context, p TemplateParams) (*domain.Notification, error) {
	tmpl, err := s.store.GetActiveTemplate(ctx, p.TemplateName)
	if errors.Is(err, domain.ErrTemplateNotFound) {
		return nil, apperr.NotFound("template %q not found or inactive", p.TemplateName)
	}
	if err != nil {
		return nil, err
	}

	subject := domain.Render(tmpl.Subject, p.Variables)
	content := domain.Render(tmpl.Content, p.Variables)

	n := s.newNotification(p.CustomerID, tmpl.Type, subject, content, p.Recipient, p.OrderID, p.PaymentID, p.ProductID)
	if p.EventID != "" {
		if err := s.store.InsertFromEvent(ctx, p.EventID, n); err != nil {
			return nil, err
		}
	} else if err := s.store.Insert(ctx, n); err != nil {
		return nil, err
	}

	logging.Log(logging.Fields{Service: serviceName, NotificationID: string(n.ID), Step: "send_from_template", Status: string(n.Status), Message: p.TemplateName})
	return n, nil
}

func (s *Service) Get(ctx context.Context, id domain.NotificationID) (*domain.Notification, error) {
	n, err := s.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperr.NotFound("notification %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// SeedTemplates upserts the embedded template catalog at startup.
func (s *Service) SeedTemplates(ctx context.Context, tmpls []domain.Template) error {
	for i := range tmpls {
		if err := s.store.UpsertTemplate(ctx, &tmpls[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) newNotification(customerID domain.CustomerID, typ domain.Type, subject, content, recipient, orderID, paymentID, productID string) *domain.Notification {
	return &domain.Notification{
		ID:                 domain.NotificationID(uuid.NewString()),
		CustomerID:         customerID,
		NotificationNumber: refnum.New("NOT"),
		Type:               typ,
		Subject:            subject,
		Content:            content,
		Recipient:          recipient,
		Status:             domain.StatusPending,
		OrderID:            orderID,
		PaymentID:          paymentID,
		ProductID:          productID,
		CreatedAt:          time.Now().UTC(),
	}
}

func (s *Service) markFailed(ctx context.Context, n *domain.Notification, reason string, retry bool) {
	now := time.Now().UTC()
	n.Status = domain.StatusFailed
	n.FailureReason = reason
	n.UpdatedAt = &now
	if retry {
		next := now.Add(s.cfg.InitialRetryDelay)
		n.NextRetryAt = &next
	}
	if err := s.store.UpdateDispatchResult(ctx, n); err != nil {
		logging.Error(logging.Fields{Service: serviceName, NotificationID: string(n.ID), Step: "send", Status: "store_error", Message: "failed to record dispatch failure"}, err)
	}
}
