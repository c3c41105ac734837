package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/ecommerce-events-go/pkg/events"
	"github.com/nazeru/ecommerce-events-go/pkg/logging"
)

// DB is satisfied by both *pgxpool.Pool and pgx.Tx. The services wire the
// pool, so the row lands after the aggregate commit: a durable buffer the
// dispatcher drains at-least-once, not same-transaction atomicity.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}

func Insert(ctx context.Context, db DB, eventID, topic, key string, payload []byte) error {
	_, err := db.Exec(ctx, `INSERT INTO outbox(event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`, eventID, topic, key, payload)
	return err
}

func MarkSent(ctx context.Context, db DB, id int64) error {
	_, err := db.Exec(ctx, `UPDATE outbox SET sent_at=now() WHERE id=$1`, id)
	return err
}

func FetchPending(ctx context.Context, pool *pgxpool.Pool, limit int) ([]Record, error) {
	rows, err := pool.Query(ctx, `SELECT id, event_id, topic, key, payload, created_at, sent_at FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Publisher implements events.Publisher by parking events in the outbox
// table. A receipt here means the row is durable, not that the broker has
// seen it; the dispatcher owns broker delivery.
type Publisher struct {
	db DB
}

func NewPublisher(db DB) *Publisher {
	return &Publisher{db: db}
}

func (p *Publisher) Publish(ctx context.Context, topic string, evt events.Event) (*events.DeliveryReceipt, error) {
	return p.PublishWithKey(ctx, topic, evt.Meta().Key(), evt)
}

func (p *Publisher) PublishWithKey(ctx context.Context, topic, key string, evt events.Event) (*events.DeliveryReceipt, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	if err := Insert(ctx, p.db, evt.Meta().EventID, topic, key, data); err != nil {
		return nil, err
	}
	return &events.DeliveryReceipt{Topic: topic, Key: key, PublishedAt: time.Now().UTC()}, nil
}

func (p *Publisher) PublishBatch(ctx context.Context, topic string, evts []events.Event) ([]events.BatchResult, error) {
	results := make([]events.BatchResult, len(evts))
	for i, evt := range evts {
		receipt, err := p.Publish(ctx, topic, evt)
		results[i] = events.BatchResult{Receipt: receipt, Err: err}
	}
	return results, nil
}

// RawPublisher sends an already-marshaled payload; the kafka publisher
// provides it for the dispatcher.
type RawPublisher interface {
	PublishRaw(ctx context.Context, topic, key string, payload []byte) error
}

// Dispatcher drains pending outbox rows to the broker. Rows stay pending on
// publish failure and are retried on the next tick, so delivery is
// at-least-once.
type Dispatcher struct {
	pool     *pgxpool.Pool
	pub      RawPublisher
	service  string
	interval time.Duration
	batch    int
}

func NewDispatcher(pool *pgxpool.Pool, pub RawPublisher, service string, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{pool: pool, pub: pub, service: service, interval: interval, batch: 100}
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	recs, err := FetchPending(ctx, d.pool, d.batch)
	if err != nil {
		logging.Error(logging.Fields{Service: d.service, Step: "outbox_drain", Status: "fetch_error", Message: "outbox fetch failed"}, err)
		return
	}
	for _, rec := range recs {
		if err := d.pub.PublishRaw(ctx, rec.Topic, rec.Key, rec.Payload); err != nil {
			logging.Error(logging.Fields{Service: d.service, EventID: rec.EventID, Topic: rec.Topic, Step: "outbox_drain", Status: "publish_error", Message: "outbox publish failed"}, err)
			return
		}
		if err := MarkSent(ctx, d.pool, rec.ID); err != nil {
			logging.Error(logging.Fields{Service: d.service, EventID: rec.EventID, Topic: rec.Topic, Step: "outbox_drain", Status: "mark_error", Message: "outbox mark sent failed"}, err)
			return
		}
		logging.Log(logging.Fields{Service: d.service, EventID: rec.EventID, Topic: rec.Topic, Step: "outbox_drain", Status: "sent"})
	}
}
