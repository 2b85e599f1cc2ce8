package processor

import (
	"context"
	"strings"
)

// Sandbox is a deterministic in-process rail for development and seed
// data. The payment method token's prefix scripts the outcome, the same
// trick processor sandboxes use with magic card numbers.
type Sandbox struct{}

// NewSandbox creates the sandbox adapter
func NewSandbox() *Sandbox {
	return &Sandbox{}
}

// Code returns the processor code
func (s *Sandbox) Code() string {
	return "sandbox"
}

// Authorize scripts the outcome from the token prefix
func (s *Sandbox) Authorize(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	switch {
	case strings.HasPrefix(req.PaymentMethodToken, "tok_decline"):
		return Result{Success: false, ReasonCode: "card_declined"}, nil
	case strings.HasPrefix(req.PaymentMethodToken, "tok_compliance"):
		return Result{Success: false, ReasonCode: "compliance_block"}, nil
	case strings.HasPrefix(req.PaymentMethodToken, "tok_unavailable"):
		return Result{Success: false, ReasonCode: "processor_unavailable", Retryable: true}, nil
	default:
		return Result{Success: true, ExternalID: "sb_auth_" + req.IdempotencyKey}, nil
	}
}

// Capture always succeeds for an authorized sandbox charge
func (s *Sandbox) Capture(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{Success: true, ExternalID: "sb_cap_" + req.IdempotencyKey}, nil
}

// Refund always succeeds in the sandbox
func (s *Sandbox) Refund(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{Success: true, ExternalID: "sb_ref_" + req.IdempotencyKey}, nil
}
