// Package dispute implements the chargeback state machine. Stage
// transitions are driven by inbound processor events; the deadline
// sweep is the only autonomous transition.
package dispute

import (
	"context"
	"fmt"
	"time"

	"payout-core/internal/ledger"
	"payout-core/internal/models"
	"payout-core/pkg/logging"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the persistence surface the dispute machine needs.
type Store interface {
	GetTransactionByID(string) (*models.Transaction, error)
	CreateDispute(*models.Dispute) error
	SaveDispute(*models.Dispute) error
	GetDisputeByID(string) (*models.Dispute, error)
	GetDisputeByExternalID(processor, externalDisputeID string) (*models.Dispute, error)
	ListDisputesPastDeadline(time.Time) ([]models.Dispute, error)
	GetPlatformByID(string) (*models.Platform, error)
}

// Publisher emits dispute lifecycle events.
type Publisher interface {
	Publish(eventType, transactionID string, data interface{})
}

// Alerter raises dispute alerts to the platform's operations contact.
type Alerter interface {
	NotifyDisputeAlert(ctx context.Context, to string, dispute *models.Dispute, message string)
}

// stageTransitions defines the legal stage edges. closed is terminal.
var stageTransitions = map[models.DisputeStage][]models.DisputeStage{
	models.DisputeOpen:           {models.DisputeResponseDue, models.DisputePreArbitration, models.DisputeClosed},
	models.DisputeResponseDue:    {models.DisputePreArbitration, models.DisputeClosed},
	models.DisputePreArbitration: {models.DisputeArbitration, models.DisputeClosed},
	models.DisputeArbitration:    {models.DisputeClosed},
}

func canAdvance(from, to models.DisputeStage) bool {
	for _, allowed := range stageTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Machine applies inbound dispute events and runs the deadline sweep.
type Machine struct {
	store     Store
	ledger    ledger.Ledger
	publisher Publisher
	alerter   Alerter
}

// NewMachine creates a dispute machine with explicit dependencies
func NewMachine(store Store, led ledger.Ledger, publisher Publisher, alerter Alerter) *Machine {
	return &Machine{store: store, ledger: led, publisher: publisher, alerter: alerter}
}

// InboundEvent is a processor-reported dispute event after webhook
// verification and dedup.
type InboundEvent struct {
	Processor         string
	ExternalDisputeID string
	TransactionID     string
	Type              string
	Stage             models.DisputeStage
	Outcome           models.DisputeOutcome
	Amount            decimal.Decimal
	FeeAmount         decimal.Decimal
	Currency          string
	ResponseDeadline  *time.Time
}

// Apply folds one inbound event into the dispute. The first event for a
// (processor, external id) pair creates the dispute; later events
// advance its stage. Replays and out-of-order stages are logged and
// dropped, never an error.
func (m *Machine) Apply(ctx context.Context, ev InboundEvent) (*models.Dispute, error) {
	existing, err := m.store.GetDisputeByExternalID(ev.Processor, ev.ExternalDisputeID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up dispute: %w", err)
	}
	if existing == nil {
		return m.open(ctx, ev)
	}
	return m.advance(ctx, existing, ev)
}

func (m *Machine) open(ctx context.Context, ev InboundEvent) (*models.Dispute, error) {
	txn, err := m.store.GetTransactionByID(ev.TransactionID)
	if err != nil {
		return nil, models.NewValidationError(models.ErrCodeUnknownTxn,
			fmt.Sprintf("dispute references unknown transaction %s", ev.TransactionID))
	}

	stage := ev.Stage
	if stage == "" {
		stage = models.DisputeOpen
	}
	amount := ev.Amount
	if amount.IsZero() {
		amount = txn.Amount
	}
	dispute := &models.Dispute{
		DisputeID:         "dsp_" + uuid.NewString(),
		TransactionID:     txn.TransactionID,
		PlatformID:        txn.PlatformID,
		Processor:         ev.Processor,
		ExternalDisputeID: ev.ExternalDisputeID,
		Type:              ev.Type,
		Stage:             stage,
		Amount:            amount,
		FeeAmount:         ev.FeeAmount,
		Currency:          txn.Currency,
		ResponseDeadline:  ev.ResponseDeadline,
	}
	if err := m.store.CreateDispute(dispute); err != nil {
		return nil, fmt.Errorf("failed to create dispute: %w", err)
	}
	logging.Infof("Dispute opened - dispute: %s, transaction: %s, type: %s",
		dispute.DisputeID, dispute.TransactionID, dispute.Type)

	if m.publisher != nil {
		m.publisher.Publish("dispute.opened", dispute.TransactionID, map[string]interface{}{
			"dispute_id": dispute.DisputeID,
			"type":       dispute.Type,
			"amount":     dispute.Amount.StringFixed(2),
		})
	}
	m.alert(ctx, dispute, "A new dispute was opened against this transaction.")

	if stage == models.DisputeClosed {
		return m.close(ctx, dispute, ev.Outcome)
	}
	return dispute, nil
}

func (m *Machine) advance(ctx context.Context, dispute *models.Dispute, ev InboundEvent) (*models.Dispute, error) {
	if ev.Stage == "" || ev.Stage == dispute.Stage {
		// Metadata-only update (new deadline, amended amount).
		if ev.ResponseDeadline != nil {
			dispute.ResponseDeadline = ev.ResponseDeadline
		}
		return dispute, m.store.SaveDispute(dispute)
	}
	if !canAdvance(dispute.Stage, ev.Stage) {
		logging.Warnf("Out-of-order dispute event for %s: %s -> %s dropped",
			dispute.DisputeID, dispute.Stage, ev.Stage)
		return dispute, nil
	}

	dispute.Stage = ev.Stage
	if ev.ResponseDeadline != nil {
		dispute.ResponseDeadline = ev.ResponseDeadline
	}
	if ev.Stage == models.DisputeClosed {
		return m.close(ctx, dispute, ev.Outcome)
	}
	if err := m.store.SaveDispute(dispute); err != nil {
		return nil, err
	}
	logging.Infof("Dispute advanced - dispute: %s, stage: %s", dispute.DisputeID, dispute.Stage)
	if dispute.Stage == models.DisputeResponseDue {
		m.alert(ctx, dispute, "Evidence is now due for this dispute.")
	}
	return dispute, nil
}

// close finalizes a dispute. A lost or partial outcome posts the loss
// (disputed amount plus the network fee) to the ledger exactly once,
// keyed by the dispute id.
func (m *Machine) close(ctx context.Context, dispute *models.Dispute, outcome models.DisputeOutcome) (*models.Dispute, error) {
	if outcome == "" {
		outcome = models.OutcomeLost
	}
	now := time.Now()
	dispute.Stage = models.DisputeClosed
	dispute.Outcome = outcome
	dispute.ClosedAt = &now
	if err := m.store.SaveDispute(dispute); err != nil {
		return nil, err
	}

	if outcome == models.OutcomeLost || outcome == models.OutcomePartial || outcome == models.OutcomeAccepted {
		loss := dispute.Amount.Add(dispute.FeeAmount)
		if err := m.ledger.Post(ctx, dispute.TransactionID, loss.Neg(), dispute.Currency,
			ledger.KindDisputeLoss, "dispute:"+dispute.DisputeID); err != nil {
			logging.Errorf("Ledger posting failed for dispute %s: %v", dispute.DisputeID, err)
		}
	}

	logging.Infof("Dispute closed - dispute: %s, outcome: %s", dispute.DisputeID, outcome)
	if m.publisher != nil {
		m.publisher.Publish("dispute.closed", dispute.TransactionID, map[string]interface{}{
			"dispute_id": dispute.DisputeID,
			"outcome":    outcome,
		})
	}
	m.alert(ctx, dispute, fmt.Sprintf("Dispute closed with outcome %s.", outcome))
	return dispute, nil
}

// SubmitResponse marks evidence as submitted for a dispute in an open
// stage, which exempts it from the deadline sweep.
func (m *Machine) SubmitResponse(disputeID string) (*models.Dispute, error) {
	dispute, err := m.store.GetDisputeByID(disputeID)
	if err != nil {
		return nil, err
	}
	if dispute == nil {
		return nil, models.NewValidationError(models.ErrCodeUnknownTxn,
			fmt.Sprintf("dispute %s not found", disputeID))
	}
	if dispute.Stage == models.DisputeClosed {
		return nil, models.NewValidationError(models.ErrCodeInvalidRule,
			fmt.Sprintf("dispute %s is already closed", disputeID))
	}
	dispute.ResponseSubmitted = true
	return dispute, m.store.SaveDispute(dispute)
}

// Accept concedes a dispute without contesting it. Closes as accepted
// and posts the loss.
func (m *Machine) Accept(ctx context.Context, disputeID string) (*models.Dispute, error) {
	dispute, err := m.store.GetDisputeByID(disputeID)
	if err != nil {
		return nil, err
	}
	if dispute == nil {
		return nil, models.NewValidationError(models.ErrCodeUnknownTxn,
			fmt.Sprintf("dispute %s not found", disputeID))
	}
	if dispute.Stage == models.DisputeClosed {
		return nil, models.NewValidationError(models.ErrCodeInvalidRule,
			fmt.Sprintf("dispute %s is already closed", disputeID))
	}
	return m.close(ctx, dispute, models.OutcomeAccepted)
}

// stageOrder is the linear escalation chain the sweep walks.
var stageOrder = []models.DisputeStage{
	models.DisputeOpen,
	models.DisputeResponseDue,
	models.DisputePreArbitration,
	models.DisputeArbitration,
	models.DisputeClosed,
}

func nextStage(s models.DisputeStage) models.DisputeStage {
	for i, stage := range stageOrder {
		if stage == s && i+1 < len(stageOrder) {
			return stageOrder[i+1]
		}
	}
	return models.DisputeClosed
}

// Sweep escalates disputes whose response deadline passed without a
// submitted response. This is the one autonomous transition: each
// expired dispute advances one stage and raises an alert; past the
// arbitration stage it closes as lost. The deadline is cleared on
// advance, the processor's next event sets the new one.
func (m *Machine) Sweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := m.store.ListDisputesPastDeadline(now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired disputes: %w", err)
	}
	advanced := 0
	for i := range expired {
		d := expired[i]
		next := nextStage(d.Stage)
		logging.Warnf("Dispute %s missed its response deadline, advancing %s -> %s",
			d.DisputeID, d.Stage, next)
		if next == models.DisputeClosed {
			if _, err := m.close(ctx, &d, models.OutcomeLost); err != nil {
				logging.Errorf("Failed to close expired dispute %s: %v", d.DisputeID, err)
				continue
			}
			advanced++
			continue
		}
		d.Stage = next
		d.ResponseDeadline = nil
		if err := m.store.SaveDispute(&d); err != nil {
			logging.Errorf("Failed to advance expired dispute %s: %v", d.DisputeID, err)
			continue
		}
		m.alert(ctx, &d, fmt.Sprintf("The response deadline passed; the dispute advanced to %s.", next))
		advanced++
	}
	return advanced, nil
}

func (m *Machine) alert(ctx context.Context, dispute *models.Dispute, message string) {
	if m.alerter == nil {
		return
	}
	platform, err := m.store.GetPlatformByID(dispute.PlatformID)
	if err != nil {
		logging.Errorf("Cannot resolve platform %s for dispute alert: %v", dispute.PlatformID, err)
		return
	}
	m.alerter.NotifyDisputeAlert(ctx, platform.NotifyEmail, dispute, message)
}
