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
	"github.com/shopspring/decimal"

	"github.com/nazeru/ecommerce-events-go/internal/payment/domain"
	"github.com/nazeru/ecommerce-events-go/internal/payment/gateway"
	"github.com/nazeru/ecommerce-events-go/internal/payment/service"
	"github.com/nazeru/ecommerce-events-go/internal/payment/store"
	"github.com/nazeru/ecommerce-events-go/pkg/apperr"
	"github.com/nazeru/ecommerce-events-go/pkg/config"
	"github.com/nazeru/ecommerce-events-go/pkg/events"
	"github.com/nazeru/ecommerce-events-go/pkg/kafka"
	"github.com/nazeru/ecommerce-events-go/pkg/logging"
	"github.com/nazeru/ecommerce-events-go/pkg/metrics"
	"github.com/nazeru/ecommerce-events-go/pkg/outbox"
)

const serviceName = "payment-service"

type cfg struct {
	Port            string `env:"PORT" envDefault:"8081"`
	DatabaseURL     string `env:"DATABASE_URL,required"`
	KafkaBrokers    string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	PublishMode     string `env:"PUBLISH_MODE" envDefault:"direct"` // direct | outbox
	OutboxTickMS    int    `env:"OUTBOX_TICK_MS" envDefault:"1000"`
	StripeAPIKey    string `env:"STRIPE_API_KEY"`
	StripeBaseURL   string `env:"STRIPE_BASE_URL"`
	StripeReturnURL string `env:"STRIPE_RETURN_URL"`
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

	sm := metrics.NewServerMetrics("payment")
	em := metrics.NewEventMetrics("payment")

	client := kafka.NewClient(c.KafkaBrokers)
	kpub := kafka.NewPublisher(client, em)
	defer kpub.Close()

	var pub events.Publisher = kpub
	if c.PublishMode == "outbox" {
		pub = outbox.NewPublisher(pool)
		dispatcher := outbox.NewDispatcher(pool, kpub, serviceName, time.Duration(c.OutboxTickMS)*time.Millisecond)
		go dispatcher.Run(ctx)
	}

	gw := gateway.NewStripe(gateway.StripeConfig{
		APIKey:    c.StripeAPIKey,
		BaseURL:   c.StripeBaseURL,
		ReturnURL: c.StripeReturnURL,
	})
	svc := service.New(store.NewPostgres(pool), pub, gw)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("POST /payments", instrument(sm, "create_payment", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OrderID       string `json:"orderId"`
			Amount        string `json:"amount"`
			Currency      string `json:"currency"`
			PaymentMethod string `json:"paymentMethod"`
			Description   string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperr.Validation("invalid json"))
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(w, apperr.Validation("invalid amount"))
			return
		}
		payment, err := svc.Create(r.Context(), service.CreateParams{
			OrderID:       domain.OrderID(req.OrderID),
			Amount:        amount,
			Currency:      req.Currency,
			PaymentMethod: req.PaymentMethod,
			Description:   req.Description,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toPaymentResponse(payment))
	}))

	mux.HandleFunc("GET /payments/{id}", instrument(sm, "get_payment", func(w http.ResponseWriter, r *http.Request) {
		payment, err := svc.Get(r.Context(), domain.PaymentID(r.PathValue("id")))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPaymentResponse(payment))
	}))

	mux.HandleFunc("POST /payments/{id}/process", instrument(sm, "process_payment", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MethodToken string `json:"methodToken"`
			CustomerRef string `json:"customerRef"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		payment, err := svc.Process(r.Context(), domain.PaymentID(r.PathValue("id")), req.MethodToken, req.CustomerRef)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPaymentResponse(payment))
	}))

	mux.HandleFunc("POST /payments/{id}/refund", instrument(sm, "refund_payment", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount *string `json:"amount"`
			Reason string  `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperr.Validation("invalid json"))
			return
		}
		var amount *decimal.Decimal
		if req.Amount != nil {
			a, err := decimal.NewFromString(*req.Amount)
			if err != nil {
				writeError(w, apperr.Validation("invalid amount"))
				return
			}
			amount = &a
		}
		payment, err := svc.Refund(r.Context(), domain.PaymentID(r.PathValue("id")), amount, req.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPaymentResponse(payment))
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

type paymentResponse struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"orderId"`
	PaymentNumber string     `json:"paymentNumber"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	PaymentMethod string     `json:"paymentMethod"`
	Status        string     `json:"status"`
	TransactionID string     `json:"transactionId,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	RefundedAt    *time.Time `json:"refundedAt,omitempty"`
	RefundAmount  string     `json:"refundAmount,omitempty"`
	RefundReason  string     `json:"refundReason,omitempty"`
}

func toPaymentResponse(p *domain.Payment) paymentResponse {
	resp := paymentResponse{
		ID:            string(p.ID),
		OrderID:       string(p.OrderID),
		PaymentNumber: p.PaymentNumber,
		Amount:        p.Amount.StringFixed(2),
		Currency:      p.Currency,
		PaymentMethod: p.PaymentMethod,
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
		FailureReason: p.FailureReason,
		ProcessedAt:   p.ProcessedAt,
		RefundedAt:    p.RefundedAt,
		RefundReason:  p.RefundReason,
	}
	if p.RefundAmount != nil {
		resp.RefundAmount = p.RefundAmount.StringFixed(2)
	}
	return resp
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
