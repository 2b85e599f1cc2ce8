package orchestrator

import (
	"context"
	"fmt"
	"time"

	"payout-core/internal/ledger"
	"payout-core/internal/models"
	"payout-core/internal/services"
	"payout-core/pkg/logging"
)

// HandleProcessorEvent applies a verified inbound processor event to the
// transaction lifecycle. Delivery is at-least-once: the event id's
// unique index in the event log makes replays no-ops, and the per-id
// worker serialization means no two events for the same transaction run
// concurrently.
func (o *Orchestrator) HandleProcessorEvent(ctx context.Context, processorCode, eventID, eventType, transactionID string, payload []byte) error {
	txn, err := o.store.GetTransactionByID(transactionID)
	if err != nil {
		return models.NewValidationError(models.ErrCodeUnknownTxn,
			fmt.Sprintf("event %s references unknown transaction %s", eventID, transactionID))
	}

	event := &models.TransactionEvent{
		TransactionID: transactionID,
		EventID:       eventID,
		Processor:     processorCode,
		Type:          eventType,
		PayloadHash:   services.PayloadHash(payload),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
	created, err := o.store.AppendEvent(event)
	if err != nil {
		return fmt.Errorf("failed to append event %s: %w", eventID, err)
	}
	if !created {
		// The durable backstop behind the Redis dedup: same event id,
		// already folded into the transaction.
		existing, err := o.store.GetEventByEventID(eventID)
		if err == nil && existing != nil && existing.PayloadHash != event.PayloadHash {
			logging.Errorf("Event %s replayed with conflicting payload for %s", eventID, transactionID)
			return fmt.Errorf("event %s replayed with a conflicting payload", eventID)
		}
		logging.Infof("Duplicate event %s for %s dropped", eventID, transactionID)
		return nil
	}

	switch eventType {
	case "charge.captured":
		return o.applyCaptured(ctx, txn)
	case "charge.failed":
		return o.applyTransition(txn, models.StatusFailed, "processor_reported_failure")
	case "charge.settled":
		return o.applySettled(txn)
	default:
		logging.Warnf("Unhandled processor event type %q for %s", eventType, transactionID)
		return nil
	}
}

// applyCaptured confirms a capture reported by the processor. The ledger
// idempotency key is the transaction id, the same key the synchronous
// path uses, so a webhook confirmation after a synchronous capture can
// never double-post.
func (o *Orchestrator) applyCaptured(ctx context.Context, txn *models.Transaction) error {
	if txn.Status == models.StatusCaptured || txn.Status == models.StatusSettled {
		return nil
	}
	if !txn.Status.CanTransitionTo(models.StatusCaptured) {
		logging.Warnf("Out-of-order capture event for %s in status %s", txn.TransactionID, txn.Status)
		return nil
	}
	now := time.Now()
	txn.Status = models.StatusCaptured
	txn.CapturedAt = &now
	if err := o.store.SaveTransaction(txn); err != nil {
		return err
	}
	if err := o.ledger.Post(ctx, txn.TransactionID, txn.NetAmount, txn.Currency, ledger.KindCapture, txn.TransactionID); err != nil {
		logging.Errorf("Ledger posting failed for %s: %v", txn.TransactionID, err)
		o.recordEvent(txn, "ledger_post_failed", "ledger_error", 0, map[string]interface{}{
			"error": err.Error(),
		})
	}
	if o.publisher != nil {
		o.publisher.Publish("payment.captured", txn.TransactionID, nil)
	}
	return nil
}

func (o *Orchestrator) applySettled(txn *models.Transaction) error {
	if txn.Status == models.StatusSettled {
		return nil
	}
	if !txn.Status.CanTransitionTo(models.StatusSettled) {
		logging.Warnf("Out-of-order settle event for %s in status %s", txn.TransactionID, txn.Status)
		return nil
	}
	now := time.Now()
	txn.Status = models.StatusSettled
	txn.SettledAt = &now
	return o.store.SaveTransaction(txn)
}

func (o *Orchestrator) applyTransition(txn *models.Transaction, next models.TransactionStatus, reason string) error {
	if txn.Status == next {
		return nil
	}
	if !txn.Status.CanTransitionTo(next) {
		logging.Warnf("Out-of-order %s event for %s in status %s", next, txn.TransactionID, txn.Status)
		return nil
	}
	txn.Status = next
	txn.FailureReason = reason
	return o.store.SaveTransaction(txn)
}

// eventStatus maps lifecycle event types to the status they establish.
var eventStatus = map[string]models.TransactionStatus{
	"charge_initiated": models.StatusInitiated,
	"routed":           models.StatusRouted,
	"auth_succeeded":   models.StatusAuthorized,
	"captured":         models.StatusCaptured,
	"charge.captured":  models.StatusCaptured,
	"charge.settled":   models.StatusSettled,
	"charge_failed":    models.StatusFailed,
	"charge.failed":    models.StatusFailed,
}

// ReplayStatus folds the append-only event log into the transaction
// status it implies. The stored status column is a cache of this fold;
// the two must agree.
func ReplayStatus(events []models.TransactionEvent) models.TransactionStatus {
	status := models.StatusInitiated
	for _, ev := range events {
		next, ok := eventStatus[ev.Type]
		if !ok {
			continue
		}
		if status.CanTransitionTo(next) || next == status {
			status = next
		}
	}
	return status
}
