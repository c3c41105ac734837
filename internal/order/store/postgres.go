package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nazeru/ecommerce-events-go/internal/order/domain"
)

// Postgres persists the order aggregate with raw SQL over pgx.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Insert(ctx context.Context, o *domain.Order, idempotencyKey string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO orders(id, customer_id, order_number, status, total_amount, tax_amount, shipping_amount, discount_amount, order_date, notes, created_at)
		 VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(o.ID), string(o.CustomerID), o.OrderNumber, string(o.Status),
		o.TotalAmount.String(), o.TaxAmount.String(), o.ShippingAmount.String(), o.DiscountAmount.String(),
		o.OrderDate, o.Notes, o.CreatedAt,
	)
	if err != nil {
		return err
	}

	for _, it := range o.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items(id, order_id, product_id, product_name, quantity, unit_price, total_price)
			 VALUES($1, $2, $3, $4, $5, $6, $7)`,
			it.ID, string(o.ID), string(it.ProductID), it.ProductName, it.Quantity, it.UnitPrice.String(), it.TotalPrice.String(),
		)
		if err != nil {
			return err
		}
	}

	for _, addr := range []domain.Address{o.ShippingAddress, o.BillingAddress} {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_addresses(order_id, address_type, first_name, last_name, street_address, street_address2, city, state, postal_code, country, phone_number, email)
			 VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			string(o.ID), string(addr.Type), addr.FirstName, addr.LastName, addr.StreetAddress, addr.StreetAddress2,
			addr.City, addr.State, addr.PostalCode, addr.Country, addr.PhoneNumber, addr.Email,
		)
		if err != nil {
			return err
		}
	}

	if idempotencyKey != "" {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_idempotency(idempotency_key, order_id) VALUES($1, $2)`,
			idempotencyKey, string(o.ID),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrIdempotencyConflict
			}
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Postgres) Get(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, customer_id, order_number, status, total_amount::text, tax_amount::text, shipping_amount::text, discount_amount::text,
		        order_date, shipped_date, delivered_date, COALESCE(tracking_number, ''), COALESCE(notes, ''), created_at, updated_at, is_deleted
		 FROM orders WHERE id=$1 AND NOT is_deleted`, string(id))

	var o domain.Order
	var oid, cid, status string
	var total, tax, shipping, discount string
	if err := row.Scan(&oid, &cid, &o.OrderNumber, &status, &total, &tax, &shipping, &discount,
		&o.OrderDate, &o.ShippedDate, &o.DeliveredDate, &o.TrackingNumber, &o.Notes, &o.CreatedAt, &o.UpdatedAt, &o.IsDeleted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	o.ID = domain.OrderID(oid)
	o.CustomerID = domain.CustomerID(cid)
	o.Status = domain.Status(status)
	var err error
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	if o.TaxAmount, err = decimal.NewFromString(tax); err != nil {
		return nil, err
	}
	if o.ShippingAmount, err = decimal.NewFromString(shipping); err != nil {
		return nil, err
	}
	if o.DiscountAmount, err = decimal.NewFromString(discount); err != nil {
		return nil, err
	}

	if err := s.loadItems(ctx, &o); err != nil {
		return nil, err
	}
	if err := s.loadAddresses(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Postgres) loadItems(ctx context.Context, o *domain.Order) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, product_name, quantity, unit_price::text, total_price::text
		 FROM order_items WHERE order_id=$1 ORDER BY id`, string(o.ID))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var it domain.Item
		var pid, unit, total string
		if err := rows.Scan(&it.ID, &pid, &it.ProductName, &it.Quantity, &unit, &total); err != nil {
			return err
		}
		it.ProductID = domain.ProductID(pid)
		if it.UnitPrice, err = decimal.NewFromString(unit); err != nil {
			return err
		}
		if it.TotalPrice, err = decimal.NewFromString(total); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (s *Postgres) loadAddresses(ctx context.Context, o *domain.Order) error {
	rows, err := s.pool.Query(ctx,
		`SELECT address_type, first_name, last_name, street_address, COALESCE(street_address2, ''), city, state, postal_code, country, COALESCE(phone_number, ''), COALESCE(email, '')
		 FROM order_addresses WHERE order_id=$1`, string(o.ID))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.Address
		var typ string
		if err := rows.Scan(&typ, &a.FirstName, &a.LastName, &a.StreetAddress, &a.StreetAddress2,
			&a.City, &a.State, &a.PostalCode, &a.Country, &a.PhoneNumber, &a.Email); err != nil {
			return err
		}
		a.Type = domain.AddressType(typ)
		switch a.Type {
		case domain.AddressShipping:
			o.ShippingAddress = a
		case domain.AddressBilling:
			o.BillingAddress = a
		}
	}
	return rows.Err()
}

func (s *Postgres) UpdateStatus(ctx context.Context, id domain.OrderID, status domain.Status, notes string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status=$2, notes=COALESCE(NULLIF($3, ''), notes), updated_at=now() WHERE id=$1 AND NOT is_deleted`,
		string(id), string(status), notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Postgres) SetShipped(ctx context.Context, id domain.OrderID, trackingNumber string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status=$2, shipped_date=$3, tracking_number=$4, updated_at=now() WHERE id=$1 AND NOT is_deleted`,
		string(id), string(domain.StatusShipped), at, trackingNumber)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Postgres) SetDelivered(ctx context.Context, id domain.OrderID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status=$2, delivered_date=$3, updated_at=now() WHERE id=$1 AND NOT is_deleted`,
		string(id), string(domain.StatusDelivered), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Postgres) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	var orderID string
	err := s.pool.QueryRow(ctx, `SELECT order_id FROM order_idempotency WHERE idempotency_key=$1`, key).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, domain.OrderID(orderID))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate")
}
