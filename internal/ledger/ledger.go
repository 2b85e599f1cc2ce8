// Package ledger is the client side of the bookkeeping collaborator. The
// core never computes balances itself; it posts entries and trusts the
// ledger service to fold them.
package ledger

import (
	"context"
	"time"

	"payout-core/pkg/logging"

	"github.com/shopspring/decimal"
)

// Kind classifies a ledger posting.
type Kind string

const (
	KindCapture     Kind = "capture"
	KindRefund      Kind = "refund"
	KindDisputeLoss Kind = "dispute_loss"
	KindSettlement  Kind = "settlement"
)

// Ledger posts a money movement. Implementations must treat the
// idempotency key as the dedup unit: the same key posts at most once.
type Ledger interface {
	Post(ctx context.Context, transactionID string, amount decimal.Decimal, currency string, kind Kind, idempotencyKey string) error
}

// Guard is the exactly-once gate in front of a ledger. Begin returns
// false when the key was already used; Release returns a claimed key
// so a failed posting can be replayed.
type Guard interface {
	Begin(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// WithIdempotency wraps a ledger so a replayed state-changing event
// cannot double-post. A duplicate is logged and dropped, not an error.
func WithIdempotency(inner Ledger, guard Guard) Ledger {
	return &idempotentLedger{inner: inner, guard: guard}
}

type idempotentLedger struct {
	inner Ledger
	guard Guard
}

func (l *idempotentLedger) Post(ctx context.Context, transactionID string, amount decimal.Decimal, currency string, kind Kind, idempotencyKey string) error {
	first, err := l.guard.Begin(ctx, idempotencyKey)
	if err != nil {
		return err
	}
	if !first {
		logging.Infof("Ledger post skipped, duplicate idempotency key - key: %s, transaction: %s",
			idempotencyKey, transactionID)
		return nil
	}
	if err := l.inner.Post(ctx, transactionID, amount, currency, kind, idempotencyKey); err != nil {
		// Give the key back so a replay of the triggering event can
		// post the entry that never landed.
		if relErr := l.guard.Release(ctx, idempotencyKey); relErr != nil {
			logging.Errorf("Failed to release idempotency key %s after posting error: %v",
				idempotencyKey, relErr)
		}
		return err
	}
	return nil
}

// LogLedger records postings to the log only. Used in development when
// no ledger URL is configured.
type LogLedger struct{}

func (LogLedger) Post(ctx context.Context, transactionID string, amount decimal.Decimal, currency string, kind Kind, idempotencyKey string) error {
	logging.Infof("Ledger post (log only) - transaction: %s, amount: %s %s, kind: %s, key: %s",
		transactionID, amount.StringFixed(2), currency, kind, idempotencyKey)
	return nil
}

// retryDelays is the wait schedule between posting attempts.
var retryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}
