// Package refund implements refund automation: validation against the
// refundable balance, a fresh trust score for every request, and the
// auto-approve / manual-review / auto-reject policy.
package refund

import (
	"context"
	"fmt"
	"time"

	"payout-core/internal/config"
	"payout-core/internal/ledger"
	"payout-core/internal/models"
	"payout-core/internal/processor"
	"payout-core/internal/scoring"
	"payout-core/pkg/logging"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the persistence surface the refund engine needs.
type Store interface {
	GetTransactionByID(string) (*models.Transaction, error)
	SaveTransaction(*models.Transaction) error
	CreateRefund(*models.Refund) error
	SaveRefund(*models.Refund) error
	GetRefundByID(string) (*models.Refund, error)
	ListFailedRefunds() ([]models.Refund, error)
	SumProcessedRefunds(string) (decimal.Decimal, error)
	CountRefundRequestsByPayer(string, time.Time) (int64, error)
	CreateTrustScoreRecord(*models.TrustScoreRecord) error
	GetPlatformByID(string) (*models.Platform, error)
}

// Publisher emits refund lifecycle events.
type Publisher interface {
	Publish(eventType, transactionID string, data interface{})
}

// Mailer delivers the outcome notification. Every request gets one,
// whatever the decision was.
type Mailer interface {
	NotifyRefundOutcome(ctx context.Context, to string, refund *models.Refund)
}

// Policy holds the refund decision knobs.
type Policy struct {
	// Requests inside this window after capture qualify for auto-approval.
	Window time.Duration
	// More than AbuseMax requests from one payer inside AbuseWindow is
	// treated as refund abuse and auto-rejected.
	AbuseMax    int
	AbuseWindow time.Duration

	// Processor call budget for processing approved refunds.
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// PolicyFromConfig reads the refund policy from app config
func PolicyFromConfig() Policy {
	cfg := config.AppConfig
	return Policy{
		Window:      time.Duration(cfg.RefundWindowMinutes) * time.Minute,
		AbuseMax:    cfg.RefundAbuseMaxCount,
		AbuseWindow: time.Duration(cfg.RefundAbuseWindowDays) * 24 * time.Hour,
		Timeout:     time.Duration(cfg.ProcessorTimeoutSeconds) * time.Second,
		MaxRetries:  cfg.ProcessorMaxRetries,
		Backoff:     time.Duration(cfg.ProcessorBackoffMillis) * time.Millisecond,
	}
}

// Engine decides and processes refund requests.
type Engine struct {
	store     Store
	scorer    *scoring.Engine
	adapters  *processor.Registry
	ledger    ledger.Ledger
	publisher Publisher
	mailer    Mailer
	policy    Policy
}

// New creates a refund engine with explicit dependencies
func New(store Store, scorer *scoring.Engine, adapters *processor.Registry, led ledger.Ledger, publisher Publisher, mailer Mailer, policy Policy) *Engine {
	return &Engine{
		store:     store,
		scorer:    scorer,
		adapters:  adapters,
		ledger:    led,
		publisher: publisher,
		mailer:    mailer,
		policy:    policy,
	}
}

// Request is an inbound refund request.
type Request struct {
	TransactionID string
	PlatformID    string
	// Zero amount means the full remaining refundable balance.
	Amount  decimal.Decimal
	Reason  string
	Origin  models.RefundOrigin
	Signals scoring.SignalBag
}

// RequestRefund validates, scores and decides a refund request, and
// processes it immediately when auto-approved. Denied and pending
// requests are results, not errors. The invariant enforced here: the
// sum of approved and processed refund amounts never exceeds the
// transaction's captured net amount.
func (e *Engine) RequestRefund(ctx context.Context, req Request) (*models.Refund, error) {
	txn, err := e.store.GetTransactionByID(req.TransactionID)
	if err != nil {
		return nil, models.NewValidationError(models.ErrCodeUnknownTxn,
			fmt.Sprintf("transaction %s not found", req.TransactionID))
	}
	if req.PlatformID != "" && txn.PlatformID != req.PlatformID {
		return nil, models.NewValidationError(models.ErrCodeUnknownTxn,
			fmt.Sprintf("transaction %s not found", req.TransactionID))
	}
	if !refundable(txn.Status) {
		return nil, models.NewValidationError(models.ErrCodeNotRefundable,
			fmt.Sprintf("transaction in status %s cannot be refunded", txn.Status))
	}

	refunded, err := e.store.SumProcessedRefunds(txn.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum prior refunds: %w", err)
	}
	remaining := txn.NetAmount.Sub(refunded)
	if !remaining.IsPositive() {
		return nil, models.NewValidationError(models.ErrCodeNotRefundable,
			"refundable balance is exhausted")
	}

	amount := req.Amount
	if amount.IsZero() {
		amount = remaining
	}
	if !amount.IsPositive() {
		return nil, models.NewValidationError(models.ErrCodeInvalidAmount,
			"refund amount must be positive")
	}
	if amount.GreaterThan(remaining) {
		return nil, models.NewValidationError(models.ErrCodeExceedsRefundable,
			fmt.Sprintf("refund amount %s exceeds refundable balance %s",
				amount.StringFixed(2), remaining.StringFixed(2)))
	}

	origin := req.Origin
	if origin == "" {
		origin = models.OriginManual
	}
	refund := &models.Refund{
		RefundID:      "ref_" + uuid.NewString(),
		TransactionID: txn.TransactionID,
		PlatformID:    txn.PlatformID,
		Amount:        amount,
		Currency:      txn.Currency,
		Reason:        req.Reason,
		Origin:        origin,
		Status:        models.RefundPending,
	}

	// Every refund request is scored fresh. The charge-time score is
	// stale by definition: the payer's behavior since then is exactly
	// what refund risk is about.
	score := e.scorer.Score(models.EntityRefundRequest, req.Signals)
	record := score.Record(models.EntityRefundRequest, refund.RefundID, txn.PlatformID, req.Signals)
	if err := e.store.CreateTrustScoreRecord(record); err != nil {
		return nil, fmt.Errorf("failed to persist trust score: %w", err)
	}
	refund.TrustScoreRecordID = record.RecordID

	decision, reason := e.decide(txn, score, req.Signals)
	refund.Decision = decision
	refund.DecisionReason = reason

	switch decision {
	case models.RefundDecisionAutoReject:
		refund.Status = models.RefundDenied
	case models.RefundDecisionAutoApprove:
		refund.Status = models.RefundApproved
	default:
		refund.Status = models.RefundPending
	}
	if err := e.store.CreateRefund(refund); err != nil {
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}
	logging.Infof("Refund decided - refund: %s, transaction: %s, decision: %s, reason: %s",
		refund.RefundID, txn.TransactionID, decision, reason)

	if refund.Status == models.RefundApproved {
		e.process(ctx, refund, txn)
	}

	e.notify(ctx, refund)
	return refund, nil
}

// decide applies the refund policy in strict order: trust block first,
// then abuse, then the auto-approve gate. Everything else lands in
// manual review.
func (e *Engine) decide(txn *models.Transaction, score scoring.Result, bag scoring.SignalBag) (string, string) {
	if score.Decision == models.DecisionBlock {
		return models.RefundDecisionAutoReject, "low_trust_score"
	}

	since := time.Now().Add(-e.policy.AbuseWindow)
	count, err := e.store.CountRefundRequestsByPayer(txn.PayerID, since)
	if err != nil {
		logging.Errorf("Refund abuse count failed for payer %s: %v", txn.PayerID, err)
		return models.RefundDecisionManualReview, "abuse_check_unavailable"
	}
	if count > int64(e.policy.AbuseMax) {
		return models.RefundDecisionAutoReject, "refund_abuse"
	}

	if score.Decision != models.DecisionAllow {
		return models.RefundDecisionManualReview, "trust_score_inconclusive"
	}
	capturedAt := txn.CreatedAt
	if txn.CapturedAt != nil {
		capturedAt = *txn.CapturedAt
	}
	if time.Since(capturedAt) > e.policy.Window {
		return models.RefundDecisionManualReview, "outside_auto_approve_window"
	}
	// Auto-approval requires the platform to assert the content was not
	// consumed. A missing signal is treated as consumed.
	if accessed, ok := bag.Bool(scoring.SigContentAccessed); !ok || accessed {
		return models.RefundDecisionManualReview, "content_accessed"
	}
	deviceMatch, _ := bag.Bool(scoring.SigDeviceMatch)
	ipMatch, _ := bag.Bool(scoring.SigIPMatch)
	if !deviceMatch && !ipMatch {
		return models.RefundDecisionManualReview, "requester_mismatch"
	}

	return models.RefundDecisionAutoApprove, "within_policy"
}

// ResolveManual settles a pending refund after human review.
func (e *Engine) ResolveManual(ctx context.Context, refundID string, approve bool, note string) (*models.Refund, error) {
	refund, err := e.store.GetRefundByID(refundID)
	if err != nil {
		return nil, models.NewValidationError(models.ErrCodeUnknownTxn,
			fmt.Sprintf("refund %s not found", refundID))
	}
	if refund.Status != models.RefundPending {
		return nil, models.NewValidationError(models.ErrCodeNotRefundable,
			fmt.Sprintf("refund %s is already %s", refundID, refund.Status))
	}
	txn, err := e.store.GetTransactionByID(refund.TransactionID)
	if err != nil {
		return nil, err
	}

	refund.DecisionReason = note
	if !approve {
		refund.Status = models.RefundDenied
		if err := e.store.SaveRefund(refund); err != nil {
			return nil, err
		}
		e.notify(ctx, refund)
		return refund, nil
	}

	// The balance may have moved while the request sat in review.
	refunded, err := e.store.SumProcessedRefunds(refund.TransactionID)
	if err != nil {
		return nil, err
	}
	if refund.Amount.GreaterThan(txn.NetAmount.Sub(refunded)) {
		return nil, models.NewValidationError(models.ErrCodeExceedsRefundable,
			"refundable balance no longer covers this refund")
	}
	refund.Status = models.RefundApproved
	if err := e.store.SaveRefund(refund); err != nil {
		return nil, err
	}
	e.process(ctx, refund, txn)
	e.notify(ctx, refund)
	return refund, nil
}

// process executes an approved refund against the processor that
// captured the original charge, posts the ledger entry and folds the
// outcome into the transaction status. Processing failures leave the
// refund in failed for the retry job; money is never marked moved
// unless the adapter confirmed it.
func (e *Engine) process(ctx context.Context, refund *models.Refund, txn *models.Transaction) {
	adapter, ok := e.adapters.Get(txn.ProcessorCode)
	if !ok {
		logging.Errorf("No adapter for processor %s, refund %s left approved", txn.ProcessorCode, refund.RefundID)
		return
	}

	preq := processor.Request{
		TransactionID:       txn.TransactionID,
		MerchantAccountCode: txn.MerchantAccountCode,
		Amount:              refund.Amount,
		Currency:            refund.Currency,
		PayerID:             txn.PayerID,
		IdempotencyKey:      refund.RefundID,
	}
	result, err := e.callWithRetry(ctx, adapter, preq)
	if err != nil || !result.Success {
		reason := "transport_error"
		if err == nil {
			reason = result.ReasonCode
		}
		refund.Status = models.RefundFailed
		refund.DecisionReason = reason
		if saveErr := e.store.SaveRefund(refund); saveErr != nil {
			logging.Errorf("Failed to save failed refund %s: %v", refund.RefundID, saveErr)
		}
		logging.Errorf("Refund processing failed - refund: %s, reason: %s", refund.RefundID, reason)
		return
	}

	now := time.Now()
	refund.Status = models.RefundProcessed
	refund.ExternalID = result.ExternalID
	refund.ProcessedAt = &now
	if err := e.store.SaveRefund(refund); err != nil {
		logging.Errorf("Failed to save processed refund %s: %v", refund.RefundID, err)
		return
	}

	// One posting per processed refund, negative amount, keyed by the
	// refund id so a reprocessed request cannot double-post.
	if err := e.ledger.Post(ctx, txn.TransactionID, refund.Amount.Neg(), refund.Currency,
		ledger.KindRefund, "refund:"+refund.RefundID); err != nil {
		logging.Errorf("Ledger posting failed for refund %s: %v", refund.RefundID, err)
	}

	e.updateTransactionStatus(txn)

	if e.publisher != nil {
		e.publisher.Publish("refund.processed", txn.TransactionID, map[string]interface{}{
			"refund_id": refund.RefundID,
			"amount":    refund.Amount.StringFixed(2),
			"currency":  refund.Currency,
			"origin":    refund.Origin,
		})
	}
}

// updateTransactionStatus moves the transaction to refunded once the
// whole net amount is returned, partially_refunded otherwise.
func (e *Engine) updateTransactionStatus(txn *models.Transaction) {
	refunded, err := e.store.SumProcessedRefunds(txn.TransactionID)
	if err != nil {
		logging.Errorf("Failed to sum refunds for %s: %v", txn.TransactionID, err)
		return
	}
	next := models.StatusPartiallyRefunded
	if refunded.GreaterThanOrEqual(txn.NetAmount) {
		next = models.StatusRefunded
	}
	if txn.Status == next || !txn.Status.CanTransitionTo(next) {
		return
	}
	txn.Status = next
	if err := e.store.SaveTransaction(txn); err != nil {
		logging.Errorf("Failed to update transaction %s status: %v", txn.TransactionID, err)
	}
}

// RetryFailed reprocesses refunds stuck in failed. Driven by the
// background retry job; safe to run concurrently with new requests
// because the adapter idempotency key is the refund id.
func (e *Engine) RetryFailed(ctx context.Context, refundID string) error {
	refund, err := e.store.GetRefundByID(refundID)
	if err != nil {
		return err
	}
	if refund.Status != models.RefundFailed {
		return nil
	}
	txn, err := e.store.GetTransactionByID(refund.TransactionID)
	if err != nil {
		return err
	}

	// A failed refund releases its share of the balance, so later
	// requests may have consumed it. Re-check before re-approving or a
	// retried refund could push the total past the captured net.
	refunded, err := e.store.SumProcessedRefunds(refund.TransactionID)
	if err != nil {
		return err
	}
	if refund.Amount.GreaterThan(txn.NetAmount.Sub(refunded)) {
		refund.Status = models.RefundDenied
		refund.DecisionReason = "balance_exhausted"
		if err := e.store.SaveRefund(refund); err != nil {
			return err
		}
		logging.Warnf("Refund %s denied on retry, refundable balance no longer covers it", refund.RefundID)
		e.notify(ctx, refund)
		return nil
	}

	refund.Status = models.RefundApproved
	if err := e.store.SaveRefund(refund); err != nil {
		return err
	}
	e.process(ctx, refund, txn)
	return nil
}

// RetryAllFailed walks every failed refund through RetryFailed. Driven
// by the background retry job.
func (e *Engine) RetryAllFailed(ctx context.Context) (int, error) {
	failed, err := e.store.ListFailedRefunds()
	if err != nil {
		return 0, fmt.Errorf("failed to list failed refunds: %w", err)
	}
	retried := 0
	for i := range failed {
		if err := e.RetryFailed(ctx, failed[i].RefundID); err != nil {
			logging.Errorf("Refund retry failed for %s: %v", failed[i].RefundID, err)
			continue
		}
		retried++
	}
	return retried, nil
}

func (e *Engine) callWithRetry(ctx context.Context, adapter processor.Adapter, preq processor.Request) (processor.Result, error) {
	var (
		last    processor.Result
		lastErr error
	)
	for attempt := 0; attempt <= e.policy.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.policy.Timeout)
		result, err := adapter.Refund(callCtx, preq)
		cancel()

		if err == nil && result.Success {
			return result, nil
		}
		last, lastErr = result, err
		if err == nil && !result.Retryable {
			return result, nil
		}
		if attempt < e.policy.MaxRetries {
			select {
			case <-time.After(e.policy.Backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return last, ctx.Err()
			}
		}
	}
	return last, lastErr
}

func (e *Engine) notify(ctx context.Context, refund *models.Refund) {
	if e.mailer == nil {
		return
	}
	platform, err := e.store.GetPlatformByID(refund.PlatformID)
	if err != nil {
		logging.Errorf("Cannot resolve platform %s for refund notification: %v", refund.PlatformID, err)
		return
	}
	e.mailer.NotifyRefundOutcome(ctx, platform.NotifyEmail, refund)
}

func refundable(s models.TransactionStatus) bool {
	switch s {
	case models.StatusCaptured, models.StatusSettled, models.StatusPartiallyRefunded:
		return true
	}
	return false
}
