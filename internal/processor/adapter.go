// Package processor defines the adapter interface for external payment
// rails and the registry the orchestrator resolves adapters from.
package processor

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Request is the common payload for authorize/capture/refund calls.
// IdempotencyKey is forwarded to the rail so a retried call cannot move
// money twice.
type Request struct {
	TransactionID       string
	MerchantAccountCode string
	Amount              decimal.Decimal
	Currency            string
	PayerID             string
	PaymentMethodToken  string
	IdempotencyKey      string
}

// Result is the in-band outcome of a processor call. Transport-level
// failures (timeouts, connection errors) surface as Go errors instead
// and are always retryable.
type Result struct {
	Success    bool
	ExternalID string
	ReasonCode string
	Retryable  bool // 5xx-style failure reported in-band
}

// Adapter is implemented once per payment rail. Every call must respect
// the context deadline; the orchestrator enforces a bounded per-call
// timeout.
type Adapter interface {
	Code() string
	Authorize(ctx context.Context, req Request) (Result, error)
	Capture(ctx context.Context, req Request) (Result, error)
	Refund(ctx context.Context, req Request) (Result, error)
}

// Reason codes that end the whole charge: the payment method itself was
// rejected, so presenting it to another processor would fail the same
// way.
var requestTerminalReasons = map[string]bool{
	"card_declined":      true,
	"insufficient_funds": true,
	"compliance_block":   true,
	"fraud_block":        true,
}

// RequestTerminal reports whether a failure reason invalidates the
// payment method rather than the processor, i.e. the next routing
// candidate must not be attempted.
func RequestTerminal(reasonCode string) bool {
	return requestTerminalReasons[strings.ToLower(reasonCode)]
}

// Registry resolves adapters by processor code. Constructed at startup
// and handed to the orchestrator; adapters for new rails register here.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its processor code
func (r *Registry) Register(a Adapter) {
	r.adapters[strings.ToLower(a.Code())] = a
}

// Get resolves an adapter by processor code
func (r *Registry) Get(code string) (Adapter, bool) {
	a, ok := r.adapters[strings.ToLower(code)]
	return a, ok
}
