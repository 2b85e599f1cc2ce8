package workers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"payout-core/internal/dispute"
	"payout-core/internal/models"
	"payout-core/internal/services"
	"payout-core/pkg/logging"

	"github.com/shopspring/decimal"
)

// ChargeHandler folds charge lifecycle events into transactions.
type ChargeHandler interface {
	HandleProcessorEvent(ctx context.Context, processorCode, eventID, eventType, transactionID string, payload []byte) error
}

// DisputeHandler folds dispute events into the dispute state machine.
type DisputeHandler interface {
	Apply(ctx context.Context, ev dispute.InboundEvent) (*models.Dispute, error)
}

// Deduper classifies inbound event ids before any state changes.
type Deduper interface {
	Check(ctx context.Context, processor, eventID string, payload []byte) (services.DedupStatus, error)
}

// InboundEvent is a verified webhook delivery handed to the pipeline.
type InboundEvent struct {
	Processor     string
	EventID       string
	Type          string
	TransactionID string
	Payload       []byte
}

// Pipeline deduplicates inbound events and dispatches them to the
// matching handler on the worker pinned to the transaction.
type Pipeline struct {
	pool     *Pool
	dedup    Deduper
	charges  ChargeHandler
	disputes DisputeHandler
}

// NewPipeline wires the inbound event pipeline
func NewPipeline(pool *Pool, dedup Deduper, charges ChargeHandler, disputes DisputeHandler) *Pipeline {
	return &Pipeline{pool: pool, dedup: dedup, charges: charges, disputes: disputes}
}

// Enqueue hands an event to the pool. Returns ErrStopped during
// shutdown so the HTTP layer can tell the processor to redeliver.
func (p *Pipeline) Enqueue(ev InboundEvent) error {
	return p.pool.Submit(ev.TransactionID, func(ctx context.Context) {
		p.handle(ctx, ev)
	})
}

func (p *Pipeline) handle(ctx context.Context, ev InboundEvent) {
	status, err := p.dedup.Check(ctx, ev.Processor, ev.EventID, ev.Payload)
	if err != nil {
		// Dedup unavailable: proceed anyway, the event log's unique
		// index is the durable backstop.
		logging.Errorf("Event dedup check failed for %s, relying on event log: %v", ev.EventID, err)
	}
	switch status {
	case services.DedupDuplicate:
		return
	case services.DedupConflict:
		logging.Errorf("Conflicting replay of event %s from %s dropped", ev.EventID, ev.Processor)
		return
	}

	switch {
	case strings.HasPrefix(ev.Type, "charge."):
		if err := p.charges.HandleProcessorEvent(ctx, ev.Processor, ev.EventID, ev.Type, ev.TransactionID, ev.Payload); err != nil {
			logging.Errorf("Charge event %s failed: %v", ev.EventID, err)
		}
	case strings.HasPrefix(ev.Type, "dispute."):
		inbound, err := parseDisputeEvent(ev)
		if err != nil {
			logging.Errorf("Malformed dispute event %s: %v", ev.EventID, err)
			return
		}
		if _, err := p.disputes.Apply(ctx, inbound); err != nil {
			logging.Errorf("Dispute event %s failed: %v", ev.EventID, err)
		}
	default:
		logging.Warnf("Unhandled event type %q from %s dropped", ev.Type, ev.Processor)
	}
}

// disputeWire is the processor's dispute event payload shape.
type disputeWire struct {
	ExternalDisputeID string          `json:"external_dispute_id"`
	TransactionID     string          `json:"transaction_id"`
	Type              string          `json:"dispute_type"`
	Stage             string          `json:"stage"`
	Outcome           string          `json:"outcome"`
	Amount            decimal.Decimal `json:"amount"`
	FeeAmount         decimal.Decimal `json:"fee_amount"`
	Currency          string          `json:"currency"`
	ResponseDeadline  string          `json:"response_deadline"`
}

func parseDisputeEvent(ev InboundEvent) (dispute.InboundEvent, error) {
	var wire disputeWire
	if err := json.Unmarshal(ev.Payload, &wire); err != nil {
		return dispute.InboundEvent{}, err
	}
	inbound := dispute.InboundEvent{
		Processor:         ev.Processor,
		ExternalDisputeID: wire.ExternalDisputeID,
		TransactionID:     wire.TransactionID,
		Type:              wire.Type,
		Stage:             models.DisputeStage(wire.Stage),
		Outcome:           models.DisputeOutcome(wire.Outcome),
		Amount:            wire.Amount,
		FeeAmount:         wire.FeeAmount,
		Currency:          wire.Currency,
	}
	if inbound.ExternalDisputeID == "" {
		inbound.ExternalDisputeID = ev.EventID
	}
	if inbound.TransactionID == "" {
		inbound.TransactionID = ev.TransactionID
	}
	if wire.ResponseDeadline != "" {
		if deadline, err := time.Parse(time.RFC3339, wire.ResponseDeadline); err == nil {
			inbound.ResponseDeadline = &deadline
		}
	}
	return inbound, nil
}
