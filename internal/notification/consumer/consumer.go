package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nazeru/ecommerce-events-go/internal/notification/domain"
	"github.com/nazeru/ecommerce-events-go/internal/notification/service"
	"github.com/nazeru/ecommerce-events-go/pkg/apperr"
	"github.com/nazeru/ecommerce-events-go/pkg/events"
	"github.com/nazeru/ecommerce-events-go/pkg/kafka"
	"github.com/nazeru/ecommerce-events-go/pkg/logging"
)

const serviceName = "notification-service"

const (
	TemplateOrderConfirmation = "order-confirmation"
	TemplatePaymentSuccess    = "payment-success"
	TemplatePaymentFailure    = "payment-failure"
)

// Consumer reacts to order and payment events by recording templated
// notifications. Deliveries are at-least-once; the inbox claim commits in the
// same transaction as the notification write, so a failed write releases the
// claim and the redelivered event is processed again.
type Consumer struct {
	svc *service.Service
}

func New(svc *service.Service) *Consumer {
	return &Consumer{svc: svc}
}

// Handle processes one broker message. A nil return commits the message; a
// non-nil return leaves it uncommitted for redelivery.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	env, err := events.DecodeEnvelope(msg.Value)
	if err != nil || env.EventID == "" {
		// Undecodable messages would poison the partition if retried.
		logging.Error(logging.Fields{Service: serviceName, Topic: msg.Topic, Step: "consume", Status: "decode_error", Message: "skipping undecodable event"}, err)
		return nil
	}

	switch env.EventType {
	case events.TypeOrderCreated:
		var evt events.OrderCreated
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logging.Error(logging.Fields{Service: serviceName, EventID: env.EventID, Step: "consume", Status: "decode_error"}, err)
			return nil
		}
		return c.record(ctx, service.TemplateParams{
			CustomerID:   domain.CustomerID(evt.CustomerID),
			TemplateName: TemplateOrderConfirmation,
			// Contact resolution belongs to the customer service; the
			// customer id stands in as the recipient correlation.
			Recipient: evt.CustomerID,
			Variables: map[string]string{
				"orderId":     evt.OrderID,
				"totalAmount": evt.TotalAmount.StringFixed(2),
				"status":      evt.Status,
			},
			OrderID: evt.OrderID,
			EventID: env.EventID,
		})
	case events.TypePaymentProcessed:
		var evt events.PaymentProcessed
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logging.Error(logging.Fields{Service: serviceName, EventID: env.EventID, Step: "consume", Status: "decode_error"}, err)
			return nil
		}
		return c.record(ctx, service.TemplateParams{
			TemplateName: TemplatePaymentSuccess,
			Recipient:    evt.OrderID,
			Variables: map[string]string{
				"paymentId": evt.PaymentID,
				"orderId":   evt.OrderID,
				"amount":    evt.Amount.StringFixed(2),
			},
			OrderID:   evt.OrderID,
			PaymentID: evt.PaymentID,
			EventID:   env.EventID,
		})
	case events.TypePaymentFailed:
		var evt events.PaymentFailed
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logging.Error(logging.Fields{Service: serviceName, EventID: env.EventID, Step: "consume", Status: "decode_error"}, err)
			return nil
		}
		return c.record(ctx, service.TemplateParams{
			TemplateName: TemplatePaymentFailure,
			Recipient:    evt.OrderID,
			Variables: map[string]string{
				"paymentId": evt.PaymentID,
				"orderId":   evt.OrderID,
				"reason":    evt.ErrorMessage,
			},
			OrderID:   evt.OrderID,
			PaymentID: evt.PaymentID,
			EventID:   env.EventID,
		})
	default:
		logging.Log(logging.Fields{Service: serviceName, EventID: env.EventID, Topic: msg.Topic, Step: "consume", Status: "ignored", Message: env.EventType})
		return nil
	}
}

func (c *Consumer) record(ctx context.Context, p service.TemplateParams) error {
	n, err := c.svc.SendFromTemplate(ctx, p)
	if errors.Is(err, domain.ErrDuplicateEvent) {
		logging.Log(logging.Fields{Service: serviceName, EventID: p.EventID, Step: "consume", Status: "duplicate"})
		return nil
	}
	if apperr.IsNotFound(err) {
		// A missing template would retry forever; record and move on.
		logging.Error(logging.Fields{Service: serviceName, EventID: p.EventID, Step: "consume", Status: "template_missing", Message: p.TemplateName}, err)
		return nil
	}
	if err != nil {
		return err
	}
	logging.Log(logging.Fields{Service: serviceName, EventID: p.EventID, NotificationID: string(n.ID), Step: "consume", Status: "recorded", Message: p.TemplateName})
	return nil
}
