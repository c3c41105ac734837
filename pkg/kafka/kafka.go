package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nazeru/ecommerce-events-go/pkg/events"
	"github.com/nazeru/ecommerce-events-go/pkg/logging"
	"github.com/nazeru/ecommerce-events-go/pkg/metrics"
)

var ErrDisabled = errors.New("kafka disabled")

type Client struct {
	Brokers []string
}

func NewClient(brokersCSV string) *Client {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers}
}

func (c *Client) Enabled() bool {
	return len(c.Brokers) > 0
}

func (c *Client) newWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func (c *Client) newReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.Brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}

// Publisher implements events.Publisher on top of kafka-go. Writers are
// hash-balanced per topic so equal keys land on the same partition.
type Publisher struct {
	client *Client
	em     *metrics.EventMetrics

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewPublisher(client *Client, em *metrics.EventMetrics) *Publisher {
	return &Publisher{client: client, em: em, writers: map[string]*kafka.Writer{}}
}

func (p *Publisher) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.writers[topic]
	if !ok {
		w = p.client.newWriter(topic)
		p.writers[topic] = w
	}
	return w
}

func (p *Publisher) Publish(ctx context.Context, topic string, evt events.Event) (*events.DeliveryReceipt, error) {
	return p.PublishWithKey(ctx, topic, evt.Meta().Key(), evt)
}

func (p *Publisher) PublishWithKey(ctx context.Context, topic, key string, evt events.Event) (*events.DeliveryReceipt, error) {
	if !p.client.Enabled() {
		return nil, ErrDisabled
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	msg := kafka.Message{Key: []byte(key), Value: data, Time: time.Now().UTC()}
	if err := p.writer(topic).WriteMessages(ctx, msg); err != nil {
		p.count(p.em, topic, "error")
		return nil, err
	}
	p.count(p.em, topic, "ok")
	return &events.DeliveryReceipt{Topic: topic, Key: key, PublishedAt: msg.Time}, nil
}

// PublishRaw sends an already-marshaled payload; the outbox dispatcher uses
// it to forward parked events verbatim.
func (p *Publisher) PublishRaw(ctx context.Context, topic, key string, payload []byte) error {
	if !p.client.Enabled() {
		return ErrDisabled
	}
	err := p.writer(topic).WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload, Time: time.Now().UTC()})
	if err != nil {
		p.count(p.em, topic, "error")
		return err
	}
	p.count(p.em, topic, "ok")
	return nil
}

// PublishBatch fans the events out concurrently. It errors as a whole only
// when the broker cannot be reached at all; otherwise each event's outcome is
// independent and reported in its slot.
func (p *Publisher) PublishBatch(ctx context.Context, topic string, evts []events.Event) ([]events.BatchResult, error) {
	if !p.client.Enabled() {
		return nil, ErrDisabled
	}
	results := make([]events.BatchResult, len(evts))
	var wg sync.WaitGroup
	for i, evt := range evts {
		wg.Add(1)
		go func(i int, evt events.Event) {
			defer wg.Done()
			receipt, err := p.Publish(ctx, topic, evt)
			results[i] = events.BatchResult{Receipt: receipt, Err: err}
		}(i, evt)
	}
	wg.Wait()
	return results, nil
}

func (p *Publisher) count(em *metrics.EventMetrics, topic, outcome string) {
	if em != nil {
		em.Published.WithLabelValues(topic, outcome).Inc()
	}
}

// Close flushes and closes every topic writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.writers = map[string]*kafka.Writer{}
	return firstErr
}

// Message is what subscription handlers receive.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int
	Offset    int64
}

// Handler processes one message. A non-nil error leaves the message
// uncommitted and it is retried in place.
type Handler func(ctx context.Context, msg Message) error

// Subscriber consumes one topic at a time, single-threaded: a message is
// fully handled before the next is fetched, and committed only after the
// handler returns nil. There is no dead-letter routing; a poison message
// retries until it succeeds or the context is cancelled.
type Subscriber struct {
	client     *Client
	groupID    string
	service    string
	em         *metrics.EventMetrics
	retryDelay time.Duration
}

func NewSubscriber(client *Client, groupID, service string, em *metrics.EventMetrics) *Subscriber {
	return &Subscriber{
		client:     client,
		groupID:    groupID,
		service:    service,
		em:         em,
		retryDelay: 2 * time.Second,
	}
}

// messageReader is the slice of *kafka.Reader the consume loop needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func (s *Subscriber) Run(ctx context.Context, topic string, handler Handler) error {
	if !s.client.Enabled() {
		return ErrDisabled
	}
	return s.run(ctx, topic, s.client.newReader(topic, s.groupID), handler)
}

func (s *Subscriber) run(ctx context.Context, topic string, reader messageReader, handler Handler) error {
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Error(logging.Fields{Service: s.service, Topic: topic, Step: "consume", Status: "fetch_error", Message: "kafka fetch failed"}, err)
			if !s.sleep(ctx) {
				return nil
			}
			continue
		}

		m := Message{Topic: msg.Topic, Key: msg.Key, Value: msg.Value, Partition: msg.Partition, Offset: msg.Offset}
		for {
			err := handler(ctx, m)
			if err == nil {
				s.count(topic, "ok")
				break
			}
			s.count(topic, "error")
			logging.Error(logging.Fields{Service: s.service, Topic: topic, Step: "consume", Status: "handler_error", Message: "handler failed, message stays uncommitted"}, err)
			if !s.sleep(ctx) {
				return nil
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Uncommitted but handled: the message will be redelivered, which
			// is the at-least-once contract consumers already tolerate.
			logging.Error(logging.Fields{Service: s.service, Topic: topic, Step: "consume", Status: "commit_error", Message: "offset commit failed"}, err)
		}
	}
}

func (s *Subscriber) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.retryDelay):
		return true
	}
}

func (s *Subscriber) count(topic, outcome string) {
	if s.em != nil {
		s.em.Consumed.WithLabelValues(topic, outcome).Inc()
	}
}
