package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/ecommerce-events-go/internal/notification/channel"
	"github.com/nazeru/ecommerce-events-go/internal/notification/consumer"
	"github.com/nazeru/ecommerce-events-go/internal/notification/domain"
	"github.com/nazeru/ecommerce-events-go/internal/notification/service"
	"github.com/nazeru/ecommerce-events-go/internal/notification/store"
	"github.com/nazeru/ecommerce-events-go/internal/notification/templates"
	"github.com/nazeru/ecommerce-events-go/pkg/apperr"
	"github.com/nazeru/ecommerce-events-go/pkg/config"
	"github.com/nazeru/ecommerce-events-go/pkg/events"
	"github.com/nazeru/ecommerce-events-go/pkg/kafka"
	"github.com/nazeru/ecommerce-events-go/pkg/logging"
	"github.com/nazeru/ecommerce-events-go/pkg/metrics"
	"github.com/nazeru/ecommerce-events-go/pkg/outbox"
)

const serviceName = "notification-service"

type cfg struct {
	Port         string `env:"PORT" envDefault:"8082"`
	DatabaseURL  string `env:"DATABASE_URL,required"`
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaGroupID string `env:"KAFKA_GROUP_ID" envDefault:"notification-service"`
	PublishMode  string `env:"PUBLISH_MODE" envDefault:"direct"` // direct | outbox
	OutboxTickMS int    `env:"OUTBOX_TICK_MS" envDefault:"1000"`

	SendGridAPIKey    string `env:"SENDGRID_API_KEY"`
	SendGridFromEmail string `env:"SENDGRID_FROM_EMAIL"`
	SendGridFromName  string `env:"SENDGRID_FROM_NAME" envDefault:"Ecommerce"`
	TwilioAccountSID  string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken   string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromPhone   string `env:"TWILIO_FROM_PHONE"`

	RetryIntervalSec int `env:"RETRY_INTERVAL_SEC" envDefault:"30"`
	RetryInitialSec  int `env:"RETRY_INITIAL_DELAY_SEC" envDefault:"60"`
	RetryMaxAttempts int `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
}

func main() {
	var c cfg
	if err := config.ParseEnv(&c); err != nil {
		log.Fatalf("config error: %v", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, c.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()
	if err := pingDB(ctx, pool); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	sm := metrics.NewServerMetrics("notification")
	em := metrics.NewEventMetrics("notification")

	client := kafka.NewClient(c.KafkaBrokers)
	kpub := kafka.NewPublisher(client, em)
	defer kpub.Close()

	var pub events.Publisher = kpub
	if c.PublishMode == "outbox" {
		pub = outbox.NewPublisher(pool)
		dispatcher := outbox.NewDispatcher(pool, kpub, serviceName, time.Duration(c.OutboxTickMS)*time.Millisecond)
		go dispatcher.Run(ctx)
	}

	channels := map[domain.Type]channel.Channel{
		domain.TypeEmail: channel.NewSendGrid(channel.SendGridConfig{
			APIKey:    c.SendGridAPIKey,
			FromEmail: c.SendGridFromEmail,
			FromName:  c.SendGridFromName,
		}),
		domain.TypeSMS: channel.NewTwilio(channel.TwilioConfig{
			AccountSID:      c.TwilioAccountSID,
			AuthToken:       c.TwilioAuthToken,
			FromPhoneNumber: c.TwilioFromPhone,
		}),
	}

	st := store.NewPostgres(pool)
	svcCfg := service.Config{InitialRetryDelay: time.Duration(c.RetryInitialSec) * time.Second}
	svc := service.New(st, pub, channels, svcCfg)

	catalog, err := templates.Load()
	if err != nil {
		log.Fatalf("template catalog error: %v", err)
	}
	if err := svc.SeedTemplates(ctx, catalog); err != nil {
		log.Fatalf("template seed error: %v", err)
	}

	scheduler := service.NewScheduler(st, pub, channels, service.SchedulerConfig{
		Interval:     time.Duration(c.RetryIntervalSec) * time.Second,
		InitialDelay: time.Duration(c.RetryInitialSec) * time.Second,
		MaxAttempts:  c.RetryMaxAttempts,
		Batch:        50,
	})
	go scheduler.Run(ctx)

	// One subscriber per topic; the group id keeps offsets shared across
	// replicas.
	cons := consumer.New(svc)
	for _, topic := range []string{events.TopicOrderEvents, events.TopicPaymentEvents} {
		go func(topic string) {
			sub := kafka.NewSubscriber(client, c.KafkaGroupID, serviceName, em)
			if err := sub.Run(ctx, topic, cons.Handle); err != nil && !errors.Is(err, kafka.ErrDisabled) {
				logging.Error(logging.Fields{Service: serviceName, Topic: topic, Step: "consume", Status: "stopped"}, err)
			}
		}(topic)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("POST /notifications", instrument(sm, "send_notification", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CustomerID string `json:"customerId"`
			Type       string `json:"type"`
			Subject    string `json:"subject"`
			Content    string `json:"content"`
			Recipient  string `json:"recipient"`
			OrderID    string `json:"orderId"`
			PaymentID  string `json:"paymentId"`
			ProductID  string `json:"productId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperr.Validation("invalid json"))
			return
		}
		if req.Recipient == "" {
			writeError(w, apperr.Validation("recipient is required"))
			return
		}
		n, err := svc.Send(r.Context(), service.SendParams{
			CustomerID: domain.CustomerID(req.CustomerID),
			Type:       domain.Type(req.Type),
			Subject:    req.Subject,
			Content:    req.Content,
			Recipient:  req.Recipient,
			OrderID:    req.OrderID,
			PaymentID:  req.PaymentID,
			ProductID:  req.ProductID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toNotificationResponse(n))
	}))

	mux.HandleFunc("POST /notifications/template", instrument(sm, "send_from_template", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CustomerID   string            `json:"customerId"`
			TemplateName string            `json:"templateName"`
			Recipient    string            `json:"recipient"`
			Variables    map[string]string `json:"variables"`
			OrderID      string            `json:"orderId"`
			PaymentID    string            `json:"paymentId"`
			ProductID    string            `json:"productId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperr.Validation("invalid json"))
			return
		}
		if req.TemplateName == "" {
			writeError(w, apperr.Validation("templateName is required"))
			return
		}
		n, err := svc.SendFromTemplate(r.Context(), service.TemplateParams{
			CustomerID:   domain.CustomerID(req.CustomerID),
			TemplateName: req.TemplateName,
			Recipient:    req.Recipient,
			Variables:    req.Variables,
			OrderID:      req.OrderID,
			PaymentID:    req.PaymentID,
			ProductID:    req.ProductID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toNotificationResponse(n))
	}))

	mux.HandleFunc("GET /notifications/{id}", instrument(sm, "get_notification", func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.Get(r.Context(), domain.NotificationID(r.PathValue("id")))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toNotificationResponse(n))
	}))

	srv := &http.Server{
		Addr:              ":" + c.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Log(logging.Fields{Service: serviceName, Step: "startup", Status: "listening", Message: ":" + c.Port + " (PUBLISH_MODE=" + c.PublishMode + ")"})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server error: %v", err)
	}
}

func pingDB(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return pool.Ping(ctx)
}

type notificationResponse struct {
	ID                 string     `json:"id"`
	CustomerID         string     `json:"customerId,omitempty"`
	NotificationNumber string     `json:"notificationNumber"`
	Type               string     `json:"type"`
	Subject            string     `json:"subject,omitempty"`
	Content            string     `json:"content"`
	Recipient          string     `json:"recipient"`
	Status             string     `json:"status"`
	SentAt             *time.Time `json:"sentAt,omitempty"`
	FailureReason      string     `json:"failureReason,omitempty"`
	RetryCount         int        `json:"retryCount"`
	NextRetryAt        *time.Time `json:"nextRetryAt,omitempty"`
	OrderID            string     `json:"orderId,omitempty"`
	PaymentID          string     `json:"paymentId,omitempty"`
	ProductID          string     `json:"productId,omitempty"`
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	return notificationResponse{
		ID:                 string(n.ID),
		CustomerID:         string(n.CustomerID),
		NotificationNumber: n.NotificationNumber,
		Type:               string(n.Type),
		Subject:            n.Subject,
		Content:            n.Content,
		Recipient:          n.Recipient,
		Status:             string(n.Status),
		SentAt:             n.SentAt,
		FailureReason:      n.FailureReason,
		RetryCount:         n.RetryCount,
		NextRetryAt:        n.NextRetryAt,
		OrderID:            n.OrderID,
		PaymentID:          n.PaymentID,
		ProductID:          n.ProductID,
	}
}

func instrument(sm *metrics.ServerMetrics, handler string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		sm.Requests.WithLabelValues(handler, strconv.Itoa(rec.status)).Inc()
		sm.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.StatusOf(err), map[string]string{"error": err.Error(), "code": apperr.CodeOf(err)})
}
