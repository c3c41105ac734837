package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/ecommerce-events-go/internal/payment/domain"
	"github.com/nazeru/ecommerce-events-go/internal/payment/gateway"
	"github.com/nazeru/ecommerce-events-go/pkg/apperr"
	"github.com/nazeru/ecommerce-events-go/pkg/events"
	"github.com/nazeru/ecommerce-events-go/pkg/logging"
	"github.com/nazeru/ecommerce-events-go/pkg/refnum"
)

const serviceName = "payment-service"

type Store interface {
	Insert(ctx context.Context, p *domain.Payment) error
	Get(ctx context.Context, id domain.PaymentID) (*domain.Payment, error)
	RecordCaptureResult(ctx context.Context, p *domain.Payment) error
	RecordRefund(ctx context.Context, p *domain.Payment) error
}

type Service struct {
	store Store
	pub   events.Publisher
	gw    gateway.Gateway
}

func New(store Store, pub events.Publisher, gw gateway.Gateway) *Service {
	return &Service{store: store, pub: pub, gw: gw}
}

type CreateParams struct {
	OrderID       domain.OrderID
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	Description   string
}

// Create records the payment intent as pure bookkeeping; no gateway call
// happens until Process.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Payment, error) {
	if p.OrderID == "" {
		return nil, apperr.Validation("order id is required")
	}
	if p.Amount.IsNegative() || p.Amount.IsZero() {
		return nil, apperr.Validation("amount must be positive")
	}
	if p.Currency == "" {
		return nil, apperr.Validation("currency is required")
	}

	payment := &domain.Payment{
		ID:            domain.PaymentID(uuid.NewString()),
		OrderID:       p.OrderID,
		PaymentNumber: refnum.New("PAY"),
		Amount:        p.Amount,
		Currency:      p.Currency,
		PaymentMethod: p.PaymentMethod,
		Status:        domain.StatusPending,
		Description:   p.Description,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, payment); err != nil {
		return nil, err
	}

	logging.Log(logging.Fields{Service: serviceName, PaymentID: string(payment.ID), OrderID: string(p.OrderID), Step: "create", Status: string(payment.Status), Message: "payment created " + payment.PaymentNumber})
	return payment, nil
}

// Process captures the payment through the gateway. A decline is a normal
// completed-with-failure outcome and returns no error; a gateway fault is
// persisted the same way but re-raised so the boundary can surface a 5xx.
func (s *Service) Process(ctx context.Context, id domain.PaymentID, methodToken, customerRef string) (*domain.Payment, error) {
	payment, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	result, gwErr := s.gw.Capture(ctx, gateway.CaptureRequest{
		AmountMinor: minorUnits(payment.Amount),
		Currency:    payment.Currency,
		MethodToken: methodToken,
		CustomerRef: customerRef,
		Description: payment.Description,
	})

	now := time.Now().UTC()
	payment.ProcessedAt = &now

	if gwErr != nil {
		payment.Status = domain.StatusFailed
		payment.FailureReason = gwErr.Error()
		if err := s.store.RecordCaptureResult(ctx, payment); err != nil {
			return nil, err
		}
		s.publishFailed(ctx, payment)
		logging.Error(logging.Fields{Service: serviceName, PaymentID: string(id), OrderID: string(payment.OrderID), Step: "process", Status: "gateway_fault"}, gwErr)
		return nil, apperr.GatewayFault(gwErr)
	}

	if result.Declined {
		payment.Status = domain.StatusFailed
		payment.FailureReason = result.DeclineReason
		payment.GatewayPaymentIntentID = result.IntentID
		if err := s.store.RecordCaptureResult(ctx, payment); err != nil {
			return nil, err
		}
		s.publishFailed(ctx, payment)
		logging.Log(logging.Fields{Service: serviceName, PaymentID: string(id), OrderID: string(payment.OrderID), Step: "process", Status: string(payment.Status), Message: result.DeclineReason})
		return payment, nil
	}

	payment.Status = domain.StatusSucceeded
	payment.TransactionID = result.IntentID
	payment.GatewayPaymentIntentID = result.IntentID
	payment.GatewayCustomerID = customerRef
	payment.FailureReason = ""
	if err := s.store.RecordCaptureResult(ctx, payment); err != nil {
		return nil, err
	}

	evt := events.NewPaymentProcessed(string(payment.ID), string(payment.OrderID), payment.Amount, payment.PaymentMethod, string(payment.Status), payment.TransactionID)
	s.publish(ctx, evt, payment)

	logging.Log(logging.Fields{Service: serviceName, PaymentID: string(id), OrderID: string(payment.OrderID), Step: "process", Status: string(payment.Status)})
	return payment, nil
}

// Refund validates locally before any gateway call; a gateway fault here
// propagates without touching the payment row.
func (s *Service) Refund(ctx context.Context, id domain.PaymentID, amount *decimal.Decimal, reason string) (*domain.Payment, error) {
	payment, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if payment.GatewayPaymentIntentID == "" {
		return nil, apperr.Validation("payment %s was not captured through the gateway", id)
	}

	refundAmount := payment.Amount
	if amount != nil {
		if amount.GreaterThan(payment.Amount) {
			return nil, apperr.Validation("refund amount exceeds original amount")
		}
		if amount.IsNegative() || amount.IsZero() {
			return nil, apperr.Validation("refund amount must be positive")
		}
		refundAmount = *amount
	}

	result, gwErr := s.gw.Refund(ctx, gateway.RefundRequest{
		IntentID:    payment.GatewayPaymentIntentID,
		AmountMinor: minorUnits(refundAmount),
		Reason:      reason,
	})
	if gwErr != nil {
		logging.Error(logging.Fields{Service: serviceName, PaymentID: string(id), OrderID: string(payment.OrderID), Step: "refund", Status: "gateway_fault"}, gwErr)
		return nil, apperr.GatewayFault(gwErr)
	}

	now := time.Now().UTC()
	payment.RefundAmount = &refundAmount
	payment.RefundReason = reason
	payment.RefundedAt = &now
	payment.GatewayRefundID = result.RefundID
	if refundAmount.Equal(payment.Amount) {
		payment.Status = domain.StatusRefunded
	} else {
		payment.Status = domain.StatusPartiallyRefunded
	}
	if err := s.store.RecordRefund(ctx, payment); err != nil {
		return nil, err
	}

	evt := events.NewPaymentRefunded(string(payment.ID), string(payment.OrderID), refundAmount, reason)
	s.publish(ctx, evt, payment)

	logging.Log(logging.Fields{Service: serviceName, PaymentID: string(id), OrderID: string(payment.OrderID), Step: "refund", Status: string(payment.Status), Message: reason})
	return payment, nil
}

func (s *Service) Get(ctx context.Context, id domain.PaymentID) (*domain.Payment, error) {
	return s.get(ctx, id)
}

func (s *Service) get(ctx context.Context, id domain.PaymentID) (*domain.Payment, error) {
	payment, err := s.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperr.NotFound("payment %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *Service) publishFailed(ctx context.Context, p *domain.Payment) {
	evt := events.NewPaymentFailed(string(p.ID), string(p.OrderID), p.Amount, p.PaymentMethod, p.FailureReason)
	s.publish(ctx, evt, p)
}

func (s *Service) publish(ctx context.Context, evt events.Event, p *domain.Payment) {
	if _, err := s.pub.Publish(ctx, events.TopicPaymentEvents, evt); err != nil {
		logging.Error(logging.Fields{Service: serviceName, PaymentID: string(p.ID), EventID: evt.Meta().EventID, Topic: events.TopicPaymentEvents, Step: "publish", Status: "error", Message: "event publish failed, payment state stands"}, err)
	}
}

// minorUnits converts a major-unit amount to the gateway's cent convention.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
