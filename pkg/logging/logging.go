package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields is the shared logging vocabulary across the services. Empty fields
// are dropped from the output.
type Fields struct {
	Service        string
	OrderID        string
	PaymentID      string
	NotificationID string
	EventID        string
	Topic          string
	Step           string
	Status         string
	DurationMS     int64
	Message        string
}

var base = newBase()

func newBase() *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stdout), zapcore.InfoLevel)
	return zap.New(core)
}

func (f Fields) zap() []zap.Field {
	out := make([]zap.Field, 0, 10)
	add := func(key, val string) {
		if val != "" {
			out = append(out, zap.String(key, val))
		}
	}
	add("service", f.Service)
	add("order_id", f.OrderID)
	add("payment_id", f.PaymentID)
	add("notification_id", f.NotificationID)
	add("event_id", f.EventID)
	add("topic", f.Topic)
	add("step", f.Step)
	add("status", f.Status)
	if f.DurationMS > 0 {
		out = append(out, zap.Int64("duration_ms", f.DurationMS))
	}
	return out
}

func Log(fields Fields) {
	base.Info(fields.Message, fields.zap()...)
}

func Error(fields Fields, err error) {
	zf := fields.zap()
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	base.Error(fields.Message, zf...)
}

// Sync flushes buffered entries; call on shutdown.
func Sync() {
	_ = base.Sync()
}
