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

	"github.com/nazeru/ecommerce-events-go/internal/order/domain"
	"github.com/nazeru/ecommerce-events-go/internal/order/service"
	"github.com/nazeru/ecommerce-events-go/internal/order/store"
	"github.com/nazeru/ecommerce-events-go/pkg/apperr"
	"github.com/nazeru/ecommerce-events-go/pkg/config"
	"github.com/nazeru/ecommerce-events-go/pkg/events"
	"github.com/nazeru/ecommerce-events-go/pkg/kafka"
	"github.com/nazeru/ecommerce-events-go/pkg/logging"
	"github.com/nazeru/ecommerce-events-go/pkg/metrics"
	"github.com/nazeru/ecommerce-events-go/pkg/outbox"
)

const serviceName = "order-service"

type cfg struct {
	Port         string  `env:"PORT" envDefault:"8080"`
	DatabaseURL  string  `env:"DATABASE_URL,required"`
	KafkaBrokers string  `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	PublishMode  string  `env:"PUBLISH_MODE" envDefault:"direct"` // direct | outbox
	OutboxTickMS int     `env:"OUTBOX_TICK_MS" envDefault:"1000"`
	TaxRate      float64 `env:"TAX_RATE" envDefault:"0.08"`
	ShippingFee  float64 `env:"SHIPPING_FEE" envDefault:"9.99"`
	UnitPrice    float64 `env:"UNIT_PRICE" envDefault:"29.99"`
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

	sm := metrics.NewServerMetrics("order")
	em := metrics.NewEventMetrics("order")

	client := kafka.NewClient(c.KafkaBrokers)
	kpub := kafka.NewPublisher(client, em)
	defer kpub.Close()

	// In outbox mode events are parked in the same database and drained by
	// the dispatcher; in direct mode they go straight to the broker.
	var pub events.Publisher = kpub
	if c.PublishMode == "outbox" {
		pub = outbox.NewPublisher(pool)
		dispatcher := outbox.NewDispatcher(pool, kpub, serviceName, time.Duration(c.OutboxTickMS)*time.Millisecond)
		go dispatcher.Run(ctx)
	}

	svcCfg := service.Config{
		TaxRate:     decimal.NewFromFloat(c.TaxRate),
		ShippingFee: decimal.NewFromFloat(c.ShippingFee),
	}
	pricer := service.StaticPricer{Unit: decimal.NewFromFloat(c.UnitPrice)}
	svc := service.New(store.NewPostgres(pool), pub, pricer, svcCfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("POST /orders", instrument(sm, "create_order", func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperr.Validation("invalid json"))
			return
		}
		items := make([]service.CreateItem, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, service.CreateItem{ProductID: domain.ProductID(it.ProductID), Quantity: it.Quantity})
		}
		order, err := svc.Create(r.Context(), service.CreateParams{
			CustomerID:      domain.CustomerID(req.CustomerID),
			Items:           items,
			ShippingAddress: req.ShippingAddress.toDomain(),
			BillingAddress:  req.BillingAddress.toDomain(),
			Notes:           req.Notes,
			IdempotencyKey:  r.Header.Get("Idempotency-Key"),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toOrderResponse(order))
	}))

	mux.HandleFunc("GET /orders/{id}", instrument(sm, "get_order", func(w http.ResponseWriter, r *http.Request) {
		order, err := svc.Get(r.Context(), domain.OrderID(r.PathValue("id")))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderResponse(order))
	}))

	mux.HandleFunc("PUT /orders/{id}/status", instrument(sm, "update_status", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status string `json:"status"`
			Notes  string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperr.Validation("invalid json"))
			return
		}
		if req.Status == "" {
			writeError(w, apperr.Validation("status is required"))
			return
		}
		order, err := svc.UpdateStatus(r.Context(), domain.OrderID(r.PathValue("id")), domain.Status(req.Status), req.Notes)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderResponse(order))
	}))

	mux.HandleFunc("POST /orders/{id}/cancel", instrument(sm, "cancel_order", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		ok, err := svc.Cancel(r.Context(), domain.OrderID(r.PathValue("id")), req.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
	}))

	mux.HandleFunc("POST /orders/{id}/ship", instrument(sm, "ship_order", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TrackingNumber string `json:"trackingNumber"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		order, err := svc.Ship(r.Context(), domain.OrderID(r.PathValue("id")), req.TrackingNumber)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderResponse(order))
	}))

	mux.HandleFunc("POST /orders/{id}/deliver", instrument(sm, "deliver_order", func(w http.ResponseWriter, r *http.Request) {
		order, err := svc.Deliver(r.Context(), domain.OrderID(r.PathValue("id")))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderResponse(order))
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

type addressPayload struct {
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	StreetAddress  string `json:"streetAddress"`
	StreetAddress2 string `json:"streetAddress2"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postalCode"`
	Country        string `json:"country"`
	PhoneNumber    string `json:"phoneNumber"`
	Email          string `json:"email"`
}

func (a addressPayload) toDomain() domain.Address {
	return domain.Address{
		FirstName:      a.FirstName,
		LastName:       a.LastName,
		StreetAddress:  a.StreetAddress,
		StreetAddress2: a.StreetAddress2,
		City:           a.City,
		State:          a.State,
		PostalCode:     a.PostalCode,
		Country:        a.Country,
		PhoneNumber:    a.PhoneNumber,
		Email:          a.Email,
	}
}

type createOrderRequest struct {
	CustomerID string `json:"customerId"`
	Items      []struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	ShippingAddress addressPayload `json:"shippingAddress"`
	BillingAddress  addressPayload `json:"billingAddress"`
	Notes           string         `json:"notes"`
}

type orderItemResponse struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	TotalPrice  string `json:"totalPrice"`
}

type orderResponse struct {
	ID             string              `json:"id"`
	CustomerID     string              `json:"customerId"`
	OrderNumber    string              `json:"orderNumber"`
	Status         string              `json:"status"`
	TotalAmount    string              `json:"totalAmount"`
	TaxAmount      string              `json:"taxAmount"`
	ShippingAmount string              `json:"shippingAmount"`
	DiscountAmount string              `json:"discountAmount"`
	OrderDate      time.Time           `json:"orderDate"`
	ShippedDate    *time.Time          `json:"shippedDate,omitempty"`
	DeliveredDate  *time.Time          `json:"deliveredDate,omitempty"`
	TrackingNumber string              `json:"trackingNumber,omitempty"`
	Notes          string              `json:"notes,omitempty"`
	Items          []orderItemResponse `json:"items"`
}

func toOrderResponse(o *domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ProductID:   string(it.ProductID),
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			TotalPrice:  it.TotalPrice.StringFixed(2),
		})
	}
	return orderResponse{
		ID:             string(o.ID),
		CustomerID:     string(o.CustomerID),
		OrderNumber:    o.OrderNumber,
		Status:         string(o.Status),
		TotalAmount:    o.TotalAmount.StringFixed(2),
		TaxAmount:      o.TaxAmount.StringFixed(2),
		ShippingAmount: o.ShippingAmount.StringFixed(2),
		DiscountAmount: o.DiscountAmount.StringFixed(2),
		OrderDate:      o.OrderDate,
		ShippedDate:    o.ShippedDate,
		DeliveredDate:  o.DeliveredDate,
		TrackingNumber: o.TrackingNumber,
		Notes:          o.Notes,
		Items:          items,
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
