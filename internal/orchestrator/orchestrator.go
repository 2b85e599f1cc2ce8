// Package orchestrator drives the charge lifecycle: route, attempt
// processors in order, record an event for every attempt, and finalize.
//
// State machine per transaction:
//
//	initiated → routed → authorized → captured → settled
//	failed reachable from routed/authorized
//	refunded/partially_refunded reachable from captured/settled
//
// Per-transaction mutation is serialized by the inbound event workers;
// the orchestrator itself assumes single-writer access to a transaction.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payout-core/internal/config"
	"payout-core/internal/ledger"
	"payout-core/internal/models"
	"payout-core/internal/processor"
	"payout-core/internal/routing"
	"payout-core/internal/scoring"
	"payout-core/internal/services"
	"payout-core/pkg/logging"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	CreateTransaction(*models.Transaction) error
	SaveTransaction(*models.Transaction) error
	GetTransactionByID(string) (*models.Transaction, error)
	AppendEvent(*models.TransactionEvent) (bool, error)
	GetEventByEventID(string) (*models.TransactionEvent, error)
	CreateTrustScoreRecord(*models.TrustScoreRecord) error
}

// Router produces the ordered candidate list for a charge.
type Router interface {
	Route(routing.RouteRequest) (*routing.Decision, error)
}

// Publisher emits lifecycle events; implementations must be safe to call
// with a nil receiver (publishing is optional).
type Publisher interface {
	Publish(eventType, transactionID string, data interface{})
}

// Budget bounds a single processor call and its retries.
type Budget struct {
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// BudgetFromConfig reads the processor call budget from app config
func BudgetFromConfig() Budget {
	cfg := config.AppConfig
	return Budget{
		Timeout:    time.Duration(cfg.ProcessorTimeoutSeconds) * time.Second,
		MaxRetries: cfg.ProcessorMaxRetries,
		Backoff:    time.Duration(cfg.ProcessorBackoffMillis) * time.Millisecond,
	}
}

// Orchestrator composes routing, scoring, processor adapters and the
// ledger into the charge lifecycle.
type Orchestrator struct {
	store     Store
	router    Router
	scorer    *scoring.Engine
	adapters  *processor.Registry
	ledger    ledger.Ledger
	publisher Publisher
	budget    Budget
}

// New creates an orchestrator with explicit dependencies
func New(store Store, router Router, scorer *scoring.Engine, adapters *processor.Registry, led ledger.Ledger, publisher Publisher, budget Budget) *Orchestrator {
	return &Orchestrator{
		store:     store,
		router:    router,
		scorer:    scorer,
		adapters:  adapters,
		ledger:    led,
		publisher: publisher,
		budget:    budget,
	}
}

// ChargeRequest is an inbound charge from a platform-facing API.
type ChargeRequest struct {
	PlatformID         string
	PayerID            string
	PayeeID            string
	Type               models.TransactionType
	Amount             decimal.Decimal
	Fee                decimal.Decimal
	Currency           string
	PaymentMethodToken string
	ProcessorHint      string
	Signals            scoring.SignalBag
}

func (r ChargeRequest) validate() error {
	if !r.Amount.IsPositive() {
		return models.NewValidationError(models.ErrCodeInvalidAmount, "charge amount must be positive")
	}
	if len(r.Currency) != 3 {
		return models.NewValidationError(models.ErrCodeInvalidCurrency, "currency must be a 3-letter code")
	}
	if r.PlatformID == "" {
		return models.NewValidationError(models.ErrCodeUnknownPlatform, "platform id is required")
	}
	if r.Fee.IsNegative() || r.Fee.GreaterThan(r.Amount) {
		return models.NewValidationError(models.ErrCodeInvalidAmount, "fee must be between zero and the charge amount")
	}
	return nil
}

// RouteAndCharge runs the full synchronous charge attempt. The returned
// transaction carries the final status and a human-readable reason; a
// failed charge is a result, not an error. Errors are reserved for
// validation rejections and infrastructure faults.
func (o *Orchestrator) RouteAndCharge(ctx context.Context, req ChargeRequest) (*models.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		TransactionID: "txn_" + uuid.NewString(),
		PlatformID:    req.PlatformID,
		PayerID:       req.PayerID,
		PayeeID:       req.PayeeID,
		Type:          req.Type,
		Currency:      req.Currency,
		Amount:        req.Amount,
		Fee:           req.Fee,
		NetAmount:     req.Amount.Sub(req.Fee),
		Status:        models.StatusInitiated,
	}

	// Score before routing: the decision gates the charge and the score
	// derives the risk tier the rules match on.
	score := o.scorer.Score(models.EntityTransaction, req.Signals)
	record := score.Record(models.EntityTransaction, txn.TransactionID, req.PlatformID, req.Signals)
	if err := o.store.CreateTrustScoreRecord(record); err != nil {
		return nil, fmt.Errorf("failed to persist trust score: %w", err)
	}
	txn.TrustScore = score.Score
	txn.RiskTier = scoring.TierForScore(score.Score)
	if flags, err := json.Marshal(score.ReasonCodes); err == nil {
		txn.RiskFlags = flags
	}

	if err := o.store.CreateTransaction(txn); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	o.recordEvent(txn, "charge_initiated", "", 0, map[string]interface{}{
		"trust_score": score.Score,
		"decision":    score.Decision,
	})

	if score.Decision == models.DecisionBlock {
		return o.fail(txn, "trust_block", "blocked by trust scoring")
	}

	decision, err := o.router.Route(routing.RouteRequest{
		PlatformID:    req.PlatformID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		RiskTier:      txn.RiskTier,
		Type:          string(req.Type),
		PayerID:       req.PayerID,
		ProcessorHint: req.ProcessorHint,
	})
	if err != nil {
		return nil, fmt.Errorf("routing failed: %w", err)
	}

	txn.Status = models.StatusRouted
	if err := o.store.SaveTransaction(txn); err != nil {
		return nil, err
	}
	o.recordEvent(txn, "routed", "", 0, map[string]interface{}{
		"rule_id":    decision.RuleID,
		"canary":     decision.Canary,
		"candidates": len(decision.Candidates),
	})

	return o.attemptCandidates(ctx, txn, req, decision.Candidates)
}

// attemptCandidates walks the candidate list in order, stopping at the
// first success. A request-terminal decline (card declined, compliance
// block) fails the whole charge: presenting the same payment method to
// another processor would fail identically. Candidate-level failures
// (exhausted retries, processor misconfiguration) move to the next
// candidate.
func (o *Orchestrator) attemptCandidates(ctx context.Context, txn *models.Transaction, req ChargeRequest, candidates []models.RouteTarget) (*models.Transaction, error) {
	for i, candidate := range candidates {
		adapter, ok := o.adapters.Get(candidate.ProcessorCode)
		if !ok {
			o.recordEvent(txn, "auth_skipped", "adapter_missing", i, map[string]interface{}{
				"processor": candidate.ProcessorCode,
			})
			continue
		}

		preq := processor.Request{
			TransactionID:       txn.TransactionID,
			MerchantAccountCode: candidate.MerchantAccountCode,
			Amount:              req.Amount,
			Currency:            req.Currency,
			PayerID:             req.PayerID,
			PaymentMethodToken:  req.PaymentMethodToken,
			IdempotencyKey:      txn.TransactionID,
		}

		result, outcome := o.callWithRetry(ctx, txn, i, candidate, "auth", adapter.Authorize, preq)
		switch outcome {
		case outcomeSuccess:
			txn.Status = models.StatusAuthorized
			txn.ProcessorCode = candidate.ProcessorCode
			txn.MerchantAccountCode = candidate.MerchantAccountCode
			txn.ExternalID = result.ExternalID
			now := time.Now()
			txn.AuthorizedAt = &now
			if err := o.store.SaveTransaction(txn); err != nil {
				return nil, err
			}
			return o.capture(ctx, txn, adapter, preq)
		case outcomeRequestTerminal:
			return o.fail(txn, result.ReasonCode, "payment method rejected")
		case outcomeNextCandidate:
			continue
		}
	}

	return o.fail(txn, "processor_exhausted", "all routing candidates exhausted")
}

// capture completes an authorized charge and triggers the one ledger
// posting a capture is allowed to make.
func (o *Orchestrator) capture(ctx context.Context, txn *models.Transaction, adapter processor.Adapter, preq processor.Request) (*models.Transaction, error) {
	result, outcome := o.callWithRetry(ctx, txn, 0, models.RouteTarget{
		ProcessorCode:       txn.ProcessorCode,
		MerchantAccountCode: txn.MerchantAccountCode,
	}, "capture", adapter.Capture, preq)
	if outcome != outcomeSuccess {
		return o.fail(txn, result.ReasonCode, "capture failed after authorization")
	}

	now := time.Now()
	txn.Status = models.StatusCaptured
	txn.CapturedAt = &now
	if err := o.store.SaveTransaction(txn); err != nil {
		return nil, err
	}
	o.recordEvent(txn, "captured", "", 0, map[string]interface{}{
		"external_id": result.ExternalID,
	})

	// Exactly one ledger posting per successful capture, keyed by the
	// transaction id. A posting failure is surfaced as an event for
	// reconciliation, never hidden and never a reason to unwind the
	// capture.
	if err := o.ledger.Post(ctx, txn.TransactionID, txn.NetAmount, txn.Currency, ledger.KindCapture, txn.TransactionID); err != nil {
		logging.Errorf("Ledger posting failed for %s: %v", txn.TransactionID, err)
		o.recordEvent(txn, "ledger_post_failed", "ledger_error", 0, map[string]interface{}{
			"error": err.Error(),
		})
	}

	if o.publisher != nil {
		o.publisher.Publish("payment.captured", txn.TransactionID, map[string]interface{}{
			"platform_id": txn.PlatformID,
			"amount":      txn.Amount.StringFixed(2),
			"net_amount":  txn.NetAmount.StringFixed(2),
			"currency":    txn.Currency,
			"processor":   txn.ProcessorCode,
		})
	}

	return txn, nil
}

type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeNextCandidate
	outcomeRequestTerminal
)

type processorCall func(context.Context, processor.Request) (processor.Result, error)

// callWithRetry runs one processor call under the retry budget. Each
// attempt gets its own deadline; transient failures (transport errors
// and in-band retryable results) back off exponentially until the
// budget is spent. Every attempt is recorded before the next one runs.
func (o *Orchestrator) callWithRetry(ctx context.Context, txn *models.Transaction, candidateIndex int, candidate models.RouteTarget, phase string, call processorCall, preq processor.Request) (processor.Result, attemptOutcome) {
	var last processor.Result
	for attempt := 0; attempt <= o.budget.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.budget.Timeout)
		result, err := call(callCtx, preq)
		cancel()

		if err != nil {
			last = processor.Result{ReasonCode: "transport_error", Retryable: true}
			o.recordEvent(txn, phase+"_attempt_failed", "transport_error", candidateIndex, map[string]interface{}{
				"processor": candidate.ProcessorCode,
				"attempt":   attempt + 1,
				"error":     err.Error(),
			})
		} else if result.Success {
			o.recordEvent(txn, phase+"_succeeded", "", candidateIndex, map[string]interface{}{
				"processor":   candidate.ProcessorCode,
				"attempt":     attempt + 1,
				"external_id": result.ExternalID,
			})
			return result, outcomeSuccess
		} else {
			last = result
			o.recordEvent(txn, phase+"_attempt_failed", result.ReasonCode, candidateIndex, map[string]interface{}{
				"processor": candidate.ProcessorCode,
				"attempt":   attempt + 1,
			})
			if !result.Retryable {
				if processor.RequestTerminal(result.ReasonCode) {
					return result, outcomeRequestTerminal
				}
				return result, outcomeNextCandidate
			}
		}

		if attempt < o.budget.MaxRetries {
			select {
			case <-time.After(o.budget.Backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return last, outcomeNextCandidate
			}
		}
	}
	// Retry budget spent on transient failures: candidate exhausted.
	return last, outcomeNextCandidate
}

// fail finalizes a transaction as failed with an explicit reason
func (o *Orchestrator) fail(txn *models.Transaction, reasonCode, message string) (*models.Transaction, error) {
	txn.Status = models.StatusFailed
	txn.FailureReason = reasonCode
	if err := o.store.SaveTransaction(txn); err != nil {
		return nil, err
	}
	o.recordEvent(txn, "charge_failed", reasonCode, 0, map[string]interface{}{
		"message": message,
	})
	logging.Infof("Charge failed - transaction: %s, reason: %s", txn.TransactionID, reasonCode)
	return txn, nil
}

// recordEvent appends an internal lifecycle event. Event log writes are
// what make every failure path visible; an append error is logged but
// never masks the outcome it was recording.
func (o *Orchestrator) recordEvent(txn *models.Transaction, eventType, reasonCode string, candidate int, payload map[string]interface{}) {
	body, _ := json.Marshal(payload)
	event := &models.TransactionEvent{
		TransactionID: txn.TransactionID,
		EventID:       "evt_" + uuid.NewString(),
		Processor:     txn.ProcessorCode,
		Type:          eventType,
		Candidate:     candidate,
		ReasonCode:    reasonCode,
		PayloadHash:   services.PayloadHash(body),
		Payload:       body,
		OccurredAt:    time.Now(),
	}
	if _, err := o.store.AppendEvent(event); err != nil {
		logging.Errorf("Failed to append %s event for %s: %v", eventType, txn.TransactionID, err)
	}
}
