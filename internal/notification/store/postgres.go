package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/ecommerce-events-go/internal/notification/domain"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertNotification(ctx context.Context, db execer, n *domain.Notification) error {
	_, err := db.Exec(ctx,
		`INSERT INTO notifications(id, customer_id, notification_number, type, subject, content, recipient, status,
		        failure_reason, retry_count, next_retry_at, order_id, payment_id, product_id, created_at)
		 VALUES($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, NULLIF($12, ''), NULLIF($13, ''), NULLIF($14, ''), $15)`,
		string(n.ID), string(n.CustomerID), n.NotificationNumber, string(n.Type), n.Subject, n.Content, n.Recipient, string(n.Status),
		n.FailureReason, n.RetryCount, n.NextRetryAt, n.OrderID, n.PaymentID, n.ProductID, n.CreatedAt,
	)
	return err
}

func (s *Postgres) Insert(ctx context.Context, n *domain.Notification) error {
	return insertNotification(ctx, s.pool, n)
}

// InsertFromEvent claims the event id in the inbox and writes the
// notification in one transaction, so a failed insert releases the claim and
// a redelivered event gets another chance. A lost claim reports
// ErrDuplicateEvent.
func (s *Postgres) InsertFromEvent(ctx context.Context, eventID string, n *domain.Notification) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO inbox(event_id, seen_at) VALUES($1, now()) ON CONFLICT (event_id) DO NOTHING`, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateEvent
	}
	if err := insertNotification(ctx, tx, n); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) Get(ctx context.Context, id domain.NotificationID) (*domain.Notification, error) {
	row := s.pool.QueryRow(ctx, selectNotification+` WHERE id=$1 AND NOT is_deleted`, string(id))
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func (s *Postgres) UpdateDispatchResult(ctx context.Context, n *domain.Notification) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET status=$2, sent_at=$3, delivered_at=$4, failure_reason=NULLIF($5, ''),
		        retry_count=$6, next_retry_at=$7, external_id=NULLIF($8, ''), updated_at=now()
		 WHERE id=$1 AND NOT is_deleted`,
		string(n.ID), string(n.Status), n.SentAt, n.DeliveredAt, n.FailureReason, n.RetryCount, n.NextRetryAt, n.ExternalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Postgres) GetActiveTemplate(ctx context.Context, name string) (*domain.Template, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, type, subject, content, COALESCE(description, ''), is_active, created_at, updated_at
		 FROM notification_templates WHERE name=$1 AND is_active`, name)

	var t domain.Template
	var typ string
	if err := row.Scan(&t.ID, &t.Name, &typ, &t.Subject, &t.Content, &t.Description, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, err
	}
	t.Type = domain.Type(typ)
	return &t, nil
}

func (s *Postgres) UpsertTemplate(ctx context.Context, t *domain.Template) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notification_templates(id, name, type, subject, content, description, is_active, created_at)
		 VALUES($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		 ON CONFLICT (name) DO UPDATE
		 SET type=EXCLUDED.type, subject=EXCLUDED.subject, content=EXCLUDED.content,
		     description=EXCLUDED.description, is_active=EXCLUDED.is_active, updated_at=now()`,
		t.ID, t.Name, string(t.Type), t.Subject, t.Content, t.Description, t.IsActive, t.CreatedAt)
	return err
}

// FetchDueRetries returns Failed rows whose retry slot has come due. Rows
// whose next_retry_at is NULL are terminal and never returned.
func (s *Postgres) FetchDueRetries(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*domain.Notification, error) {
	rows, err := s.pool.Query(ctx,
		selectNotification+
			` WHERE status=$1 AND NOT is_deleted AND retry_count < $2 AND next_retry_at IS NOT NULL AND next_retry_at <= $3
			 ORDER BY next_retry_at LIMIT $4`,
		string(domain.StatusFailed), maxAttempts, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, n)
	}
	return due, rows.Err()
}

const selectNotification = `SELECT id, customer_id, notification_number, type, subject, content, recipient, status,
        sent_at, delivered_at, COALESCE(failure_reason, ''), retry_count, next_retry_at, COALESCE(external_id, ''),
        COALESCE(order_id, ''), COALESCE(payment_id, ''), COALESCE(product_id, ''), created_at, updated_at, is_deleted
 FROM notifications`

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	var id, customerID, typ, status string
	if err := row.Scan(&id, &customerID, &n.NotificationNumber, &typ, &n.Subject, &n.Content, &n.Recipient, &status,
		&n.SentAt, &n.DeliveredAt, &n.FailureReason, &n.RetryCount, &n.NextRetryAt, &n.ExternalID,
		&n.OrderID, &n.PaymentID, &n.ProductID, &n.CreatedAt, &n.UpdatedAt, &n.IsDeleted); err != nil {
		return nil, err
	}
	n.ID = domain.NotificationID(id)
	n.CustomerID = domain.CustomerID(customerID)
	n.Type = domain.Type(typ)
	n.Status = domain.Status(status)
	return &n, nil
}
