package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nazeru/ecommerce-events-go/internal/payment/domain"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Insert(ctx context.Context, p *domain.Payment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO payments(id, order_id, payment_number, amount, currency, payment_method, status, description, created_at)
		 VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(p.ID), string(p.OrderID), p.PaymentNumber, p.Amount.String(), p.Currency, p.PaymentMethod, string(p.Status), p.Description, p.CreatedAt,
	)
	return err
}

func (s *Postgres) Get(ctx context.Context, id domain.PaymentID) (*domain.Payment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, order_id, payment_number, amount::text, currency, payment_method, status, COALESCE(description, ''),
		        COALESCE(transaction_id, ''), COALESCE(failure_reason, ''), processed_at,
		        refunded_at, refund_amount::text, COALESCE(refund_reason, ''),
		        COALESCE(gateway_payment_intent_id, ''), COALESCE(gateway_customer_id, ''), COALESCE(gateway_refund_id, ''),
		        created_at, updated_at, is_deleted
		 FROM payments WHERE id=$1 AND NOT is_deleted`, string(id))

	var p domain.Payment
	var pid, oid, status, amount string
	var refundAmount *string
	if err := row.Scan(&pid, &oid, &p.PaymentNumber, &amount, &p.Currency, &p.PaymentMethod, &status, &p.Description,
		&p.TransactionID, &p.FailureReason, &p.ProcessedAt,
		&p.RefundedAt, &refundAmount, &p.RefundReason,
		&p.GatewayPaymentIntentID, &p.GatewayCustomerID, &p.GatewayRefundID,
		&p.CreatedAt, &p.UpdatedAt, &p.IsDeleted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	p.ID = domain.PaymentID(pid)
	p.OrderID = domain.OrderID(oid)
	p.Status = domain.Status(status)
	var err error
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if refundAmount != nil {
		ra, err := decimal.NewFromString(*refundAmount)
		if err != nil {
			return nil, err
		}
		p.RefundAmount = &ra
	}
	return &p, nil
}

func (s *Postgres) RecordCaptureResult(ctx context.Context, p *domain.Payment) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payments SET status=$2, transaction_id=NULLIF($3, ''), failure_reason=NULLIF($4, ''),
		        gateway_payment_intent_id=NULLIF($5, ''), gateway_customer_id=NULLIF($6, ''), processed_at=$7, updated_at=now()
		 WHERE id=$1 AND NOT is_deleted`,
		string(p.ID), string(p.Status), p.TransactionID, p.FailureReason, p.GatewayPaymentIntentID, p.GatewayCustomerID, p.ProcessedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Postgres) RecordRefund(ctx context.Context, p *domain.Payment) error {
	var refundAmount *string
	if p.RefundAmount != nil {
		v := p.RefundAmount.String()
		refundAmount = &v
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE payments SET status=$2, refunded_at=$3, refund_amount=$4, refund_reason=NULLIF($5, ''), gateway_refund_id=NULLIF($6, ''), updated_at=now()
		 WHERE id=$1 AND NOT is_deleted`,
		string(p.ID), string(p.Status), p.RefundedAt, refundAmount, p.RefundReason, p.GatewayRefundID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
