package gateway

import "context"

// CaptureRequest carries amounts in the gateway's minor units (cents).
type CaptureRequest struct {
	AmountMinor int64
	Currency    string
	MethodToken string
	CustomerRef string
	Description string
}

// CaptureResult distinguishes a business decline from a transport fault:
// declines come back as a result, faults as an error.
type CaptureResult struct {
	IntentID      string
	Declined      bool
	DeclineReason string
}

type RefundRequest struct {
	IntentID    string
	AmountMinor int64
	Reason      string
}

type RefundResult struct {
	RefundID string
}

// Gateway is the narrow capability the payment lifecycle depends on; the
// provider SDK never leaks past this boundary.
type Gateway interface {
	Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}
