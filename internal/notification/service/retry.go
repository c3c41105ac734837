package service

import (
	"context"
	"time"

	"github.com/nazeru/ecommerce-events-go/internal/notification/channel"
	"github.com/nazeru/ecommerce-events-go/internal/notification/domain"
	"github.com/nazeru/ecommerce-events-go/pkg/events"
	"github.com/nazeru/ecommerce-events-go/pkg/logging"
)

type SchedulerConfig struct {
	Interval     time.Duration
	InitialDelay time.Duration
	MaxAttempts  int
	Batch        int
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:     30 * time.Second,
		InitialDelay: time.Minute,
		MaxAttempts:  5,
		Batch:        50,
	}
}

// Scheduler re-attempts Failed notifications whose retry slot is due. The
// delay doubles per attempt; past MaxAttempts the row goes terminal and a
// notification.failed event is published. Pending rows (the template path)
// are never picked up.
type Scheduler struct {
	store    Store
	pub      events.Publisher
	channels map[domain.Type]channel.Channel
	cfg      SchedulerConfig
}

func NewScheduler(store Store, pub events.Publisher, channels map[domain.Type]channel.Channel, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	return &Scheduler{store: store, pub: pub, channels: channels, cfg: cfg}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick processes one batch of due retries.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	due, err := s.store.FetchDueRetries(ctx, now, s.cfg.MaxAttempts, s.cfg.Batch)
	if err != nil {
		logging.Error(logging.Fields{Service: serviceName, Step: "retry", Status: "fetch_error", Message: "due retry fetch failed"}, err)
		return
	}
	for _, n := range due {
		s.attempt(ctx, n, now)
	}
}

func (s *Scheduler) attempt(ctx context.Context, n *domain.Notification, now time.Time) {
	ch, ok := s.channels[n.Type]
	if !ok {
		s.terminal(ctx, n, now, "unsupported notification type: "+string(n.Type))
		return
	}

	externalID, err := ch.Deliver(ctx, n.Recipient, n.Subject, n.Content)
	if err == nil {
		n.Status = domain.StatusSent
		n.SentAt = &now
		n.ExternalID = externalID
		n.FailureReason = ""
		n.NextRetryAt = nil
		n.UpdatedAt = &now
		if uerr := s.store.UpdateDispatchResult(ctx, n); uerr != nil {
			logging.Error(logging.Fields{Service: serviceName, NotificationID: string(n.ID), Step: "retry", Status: "store_error"}, uerr)
			return
		}
		logging.Log(logging.Fields{Service: serviceName, NotificationID: string(n.ID), Step: "retry", Status: string(n.Status), Message: "retry succeeded"})
		return
	}

	n.RetryCount++
	n.FailureReason = err.Error()
	if n.RetryCount >= s.cfg.MaxAttempts {
		s.terminal(ctx, n, now, n.FailureReason)
		return
	}

	delay := s.cfg.InitialDelay << n.RetryCount
	next := now.Add(delay)
	n.Status = domain.StatusFailed
	n.NextRetryAt = &next
	n.UpdatedAt = &now
	if uerr := s.store.UpdateDispatchResult(ctx, n); uerr != nil {
		logging.Error(logging.Fields{Service: serviceName, NotificationID: string(n.ID), Step: "retry", Status: "store_error"}, uerr)
		return
	}
	logging.Log(logging.Fields{Service: serviceName, NotificationID: string(n.ID), Step: "retry", Status: string(n.Status), Message: n.FailureReason})
}

// terminal clears the retry slot so the row is never fetched again and
// publishes the terminal failure.
func (s *Scheduler) terminal(ctx context.Context, n *domain.Notification, now time.Time, reason string) {
	n.Status = domain.StatusFailed
	n.FailureReason = reason
	n.NextRetryAt = nil
	n.UpdatedAt = &now
	if err := s.store.UpdateDispatchResult(ctx, n); err != nil {
		logging.Error(logging.Fields{Service: serviceName, NotificationID: string(n.ID), Step: "retry", Status: "store_error"}, err)
		return
	}

	evt := events.NewNotificationFailed(string(n.ID), string(n.CustomerID), string(n.Type), n.Recipient, reason, n.RetryCount)
	if _, err := s.pub.Publish(ctx, events.TopicNotificationEvents, evt); err != nil {
		logging.Error(logging.Fields{Service: serviceName, NotificationID: string(n.ID), EventID: evt.Meta().EventID, Topic: events.TopicNotificationEvents, Step: "publish", Status: "error"}, err)
	}
	logging.Log(logging.Fields{Service: serviceName, NotificationID: string(n.ID), Step: "retry", Status: "terminal", Message: reason})
}
