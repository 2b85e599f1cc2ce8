// Package settlement reconciles processor settlement batches against
// recorded transactions and refunds.
package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payout-core/internal/dispute"
	"payout-core/internal/ledger"
	"payout-core/internal/models"
	"payout-core/pkg/logging"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the persistence surface the reconciler needs.
type Store interface {
	GetTransactionByID(string) (*models.Transaction, error)
	SaveTransaction(*models.Transaction) error
	SumProcessedRefunds(string) (decimal.Decimal, error)
	GetRefundByID(string) (*models.Refund, error)
	CreateSettlement(*models.Settlement) error
	SaveSettlement(*models.Settlement) error
	GetSettlementByBatch(processor, batchID string) (*models.Settlement, error)
	ListPendingSettlements() ([]models.Settlement, error)
	ListUnsettledCapturedBefore(string, time.Time) ([]models.Transaction, error)
}

// DisputeRaiser lets chargeback lines open disputes during reconciliation.
type DisputeRaiser interface {
	Apply(ctx context.Context, ev dispute.InboundEvent) (*models.Dispute, error)
}

// Publisher emits settlement lifecycle events.
type Publisher interface {
	Publish(eventType, transactionID string, data interface{})
}

// LineType classifies a settlement batch line.
const (
	LineCharge     = "charge"
	LineRefund     = "refund"
	LineChargeback = "chargeback"
)

// Line is one row of an imported settlement batch.
type Line struct {
	Type          string          `json:"type"`
	TransactionID string          `json:"transaction_id"`
	RefundID      string          `json:"refund_id,omitempty"`
	ExternalID    string          `json:"external_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
}

// Batch is an inbound settlement file. GrossAmount, FeeAmount and
// NetAmount are the processor's reported totals; zero values fall back
// to the sums derived from the lines.
type Batch struct {
	Processor      string
	BatchID        string
	SettlementDate time.Time
	Currency       string
	GrossAmount    decimal.Decimal
	FeeAmount      decimal.Decimal
	NetAmount      decimal.Decimal
	Lines          []Line
}

// Discrepancy names one line or transaction that failed to reconcile.
type Discrepancy struct {
	TransactionID string `json:"transaction_id"`
	Kind          string `json:"kind"`
	Detail        string `json:"detail,omitempty"`
}

// Discrepancy kinds.
const (
	DiscrepancyOrphanedLine     = "orphaned_line"      // batch line with no matching record
	DiscrepancyAmountMismatch   = "amount_mismatch"    // amounts differ beyond tolerance
	DiscrepancyMissingFromBatch = "missing_from_batch" // captured here, absent from the batch
	DiscrepancyBadState         = "bad_state"          // record exists but is not settleable
)

// Reconciler imports and reconciles settlement batches.
type Reconciler struct {
	store     Store
	ledger    ledger.Ledger
	disputes  DisputeRaiser
	publisher Publisher
	// Per-line tolerance in cents; a batch tolerates tolerance * line
	// count of aggregate absolute drift before it is disputed.
	toleranceCents int64
}

// NewReconciler creates a reconciler with explicit dependencies
func NewReconciler(store Store, led ledger.Ledger, disputes DisputeRaiser, publisher Publisher, toleranceCents int) *Reconciler {
	return &Reconciler{
		store:          store,
		ledger:         led,
		disputes:       disputes,
		publisher:      publisher,
		toleranceCents: int64(toleranceCents),
	}
}

// Import ingests a settlement batch and reconciles it. (processor,
// batch id) is the idempotency unit: re-importing a reconciled batch
// returns the stored result untouched; re-importing a pending or
// disputed batch re-runs reconciliation over the stored lines.
func (r *Reconciler) Import(ctx context.Context, batch Batch) (*models.Settlement, error) {
	if batch.Processor == "" || batch.BatchID == "" {
		return nil, models.NewValidationError(models.ErrCodeDuplicateBatch,
			"settlement batch requires a processor and a batch id")
	}

	existing, err := r.store.GetSettlementByBatch(batch.Processor, batch.BatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up settlement batch: %w", err)
	}
	if existing != nil {
		if existing.Status == models.SettlementReconciled {
			logging.Infof("Settlement batch %s/%s already reconciled, import is a no-op",
				batch.Processor, batch.BatchID)
			return existing, nil
		}
		return r.reconcile(ctx, existing)
	}

	settlement := buildSettlement(batch)
	if err := r.store.CreateSettlement(settlement); err != nil {
		return nil, fmt.Errorf("failed to create settlement: %w", err)
	}
	logging.Infof("Settlement batch imported - settlement: %s, processor: %s, batch: %s, lines: %d",
		settlement.SettlementID, batch.Processor, batch.BatchID, len(batch.Lines))

	return r.reconcile(ctx, settlement)
}

func sumLines(lines []Line) (gross, fees, refunds, chargebacks decimal.Decimal) {
	for _, line := range lines {
		fees = fees.Add(line.Fee)
		switch line.Type {
		case LineCharge:
			gross = gross.Add(line.Amount)
		case LineRefund:
			refunds = refunds.Add(line.Amount.Abs())
		case LineChargeback:
			chargebacks = chargebacks.Add(line.Amount.Abs())
		}
	}
	return gross, fees, refunds, chargebacks
}

func buildSettlement(batch Batch) *models.Settlement {
	gross, fees, refunds, chargebacks := sumLines(batch.Lines)
	net := gross.Sub(fees).Sub(refunds).Sub(chargebacks)
	if !batch.GrossAmount.IsZero() {
		gross = batch.GrossAmount
	}
	if !batch.FeeAmount.IsZero() {
		fees = batch.FeeAmount
	}
	if !batch.NetAmount.IsZero() {
		net = batch.NetAmount
	}
	lines, _ := json.Marshal(batch.Lines)
	return &models.Settlement{
		SettlementID:     "stl_" + uuid.NewString(),
		Processor:        batch.Processor,
		BatchID:          batch.BatchID,
		SettlementDate:   batch.SettlementDate,
		GrossAmount:      gross,
		FeeAmount:        fees,
		ChargebackAmount: chargebacks,
		RefundAmount:     refunds,
		NetAmount:        net,
		Currency:         batch.Currency,
		TransactionCount: len(batch.Lines),
		Status:           models.SettlementPending,
		Lines:            lines,
	}
}

// reconcile matches every stored line against internal records. Within
// tolerance the batch is reconciled and its net amount posted to the
// ledger once; otherwise it is marked disputed with the discrepancy
// list for operator review.
func (r *Reconciler) reconcile(ctx context.Context, settlement *models.Settlement) (*models.Settlement, error) {
	var lines []Line
	if err := json.Unmarshal(settlement.Lines, &lines); err != nil {
		return nil, fmt.Errorf("failed to decode settlement lines: %w", err)
	}

	var (
		discrepancies []Discrepancy
		driftCents    int64
		matchedTxns   = make(map[string]bool)
	)

	for _, line := range lines {
		switch line.Type {
		case LineCharge:
			d, drift := r.matchCharge(line, settlement.SettlementDate)
			driftCents += drift
			if d != nil {
				discrepancies = append(discrepancies, *d)
			} else {
				matchedTxns[line.TransactionID] = true
			}
		case LineRefund:
			if d := r.matchRefund(line); d != nil {
				discrepancies = append(discrepancies, *d)
			}
		case LineChargeback:
			r.raiseChargeback(ctx, settlement, line)
		default:
			discrepancies = append(discrepancies, Discrepancy{
				TransactionID: line.TransactionID,
				Kind:          DiscrepancyOrphanedLine,
				Detail:        fmt.Sprintf("unknown line type %q", line.Type),
			})
		}
	}

	// Captured transactions on this processor that predate the batch but
	// appear in no line are flagged, not silently carried forward.
	unsettled, err := r.store.ListUnsettledCapturedBefore(settlement.Processor, settlement.SettlementDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled transactions: %w", err)
	}
	for _, txn := range unsettled {
		if !matchedTxns[txn.TransactionID] {
			discrepancies = append(discrepancies, Discrepancy{
				TransactionID: txn.TransactionID,
				Kind:          DiscrepancyMissingFromBatch,
			})
		}
	}

	// The processor's reported net must agree with what the lines sum
	// to; a silent gap between the two is exactly what reconciliation
	// exists to catch.
	gross, fees, refunds, chargebacks := sumLines(lines)
	lineNet := gross.Sub(fees).Sub(refunds).Sub(chargebacks)
	driftCents += settlement.NetAmount.Sub(lineNet).Abs().Mul(decimal.NewFromInt(100)).IntPart()

	tolerated := r.toleranceCents * int64(settlement.TransactionCount)
	if len(discrepancies) > 0 || driftCents > tolerated {
		mismatches, _ := json.Marshal(discrepancies)
		settlement.Status = models.SettlementDisputed
		settlement.MismatchedTransactionIDs = mismatches
		if err := r.store.SaveSettlement(settlement); err != nil {
			return nil, err
		}
		logging.Warnf("Settlement %s disputed - discrepancies: %d, drift: %d cents",
			settlement.SettlementID, len(discrepancies), driftCents)
		if r.publisher != nil {
			r.publisher.Publish("settlement.disputed", settlement.SettlementID, map[string]interface{}{
				"processor":     settlement.Processor,
				"batch_id":      settlement.BatchID,
				"discrepancies": len(discrepancies),
			})
		}
		return settlement, nil
	}

	now := time.Now()
	settlement.Status = models.SettlementReconciled
	settlement.ReconciledAt = &now
	settlement.MismatchedTransactionIDs = nil
	if err := r.store.SaveSettlement(settlement); err != nil {
		return nil, err
	}

	// One aggregate posting per reconciled batch, keyed by the
	// settlement id.
	if err := r.ledger.Post(ctx, settlement.SettlementID, settlement.NetAmount, settlement.Currency,
		ledger.KindSettlement, "settlement:"+settlement.SettlementID); err != nil {
		logging.Errorf("Ledger posting failed for settlement %s: %v", settlement.SettlementID, err)
	}

	logging.Infof("Settlement reconciled - settlement: %s, net: %s %s",
		settlement.SettlementID, settlement.NetAmount.StringFixed(2), settlement.Currency)
	if r.publisher != nil {
		r.publisher.Publish("settlement.reconciled", settlement.SettlementID, map[string]interface{}{
			"processor": settlement.Processor,
			"batch_id":  settlement.BatchID,
			"net":       settlement.NetAmount.StringFixed(2),
		})
	}
	return settlement, nil
}

// matchCharge validates one charge line and marks the transaction
// settled. Returns a discrepancy, or nil plus the absolute drift in
// cents for tolerance accounting.
func (r *Reconciler) matchCharge(line Line, settledAt time.Time) (*Discrepancy, int64) {
	txn, err := r.store.GetTransactionByID(line.TransactionID)
	if err != nil {
		return &Discrepancy{TransactionID: line.TransactionID, Kind: DiscrepancyOrphanedLine}, 0
	}
	switch txn.Status {
	case models.StatusCaptured, models.StatusSettled, models.StatusPartiallyRefunded, models.StatusRefunded:
	default:
		return &Discrepancy{
			TransactionID: line.TransactionID,
			Kind:          DiscrepancyBadState,
			Detail:        string(txn.Status),
		}, 0
	}

	diff := line.Amount.Sub(txn.Amount).Abs()
	driftCents := diff.Mul(decimal.NewFromInt(100)).IntPart()
	if driftCents > r.toleranceCents {
		return &Discrepancy{
			TransactionID: line.TransactionID,
			Kind:          DiscrepancyAmountMismatch,
			Detail: fmt.Sprintf("batch %s vs recorded %s",
				line.Amount.StringFixed(2), txn.Amount.StringFixed(2)),
		}, driftCents
	}

	if txn.Status.CanTransitionTo(models.StatusSettled) {
		txn.Status = models.StatusSettled
		txn.SettledAt = &settledAt
		if err := r.store.SaveTransaction(txn); err != nil {
			logging.Errorf("Failed to mark %s settled: %v", txn.TransactionID, err)
		}
	}
	return nil, driftCents
}

func (r *Reconciler) matchRefund(line Line) *Discrepancy {
	if line.RefundID == "" {
		return &Discrepancy{
			TransactionID: line.TransactionID,
			Kind:          DiscrepancyOrphanedLine,
			Detail:        "refund line without a refund id",
		}
	}
	refund, err := r.store.GetRefundByID(line.RefundID)
	if err != nil {
		return &Discrepancy{TransactionID: line.TransactionID, Kind: DiscrepancyOrphanedLine,
			Detail: fmt.Sprintf("refund %s unknown", line.RefundID)}
	}
	if refund.Status != models.RefundProcessed {
		return &Discrepancy{TransactionID: line.TransactionID, Kind: DiscrepancyBadState,
			Detail: fmt.Sprintf("refund %s is %s", line.RefundID, refund.Status)}
	}
	if !line.Amount.Abs().Equal(refund.Amount) {
		return &Discrepancy{TransactionID: line.TransactionID, Kind: DiscrepancyAmountMismatch,
			Detail: fmt.Sprintf("batch %s vs recorded %s",
				line.Amount.Abs().StringFixed(2), refund.Amount.StringFixed(2))}
	}
	return nil
}

// raiseChargeback opens (or advances) a dispute for a chargeback line.
// The dispute machine is idempotent on (processor, external id), so a
// re-reconciled batch cannot double-open.
func (r *Reconciler) raiseChargeback(ctx context.Context, settlement *models.Settlement, line Line) {
	if r.disputes == nil {
		return
	}
	externalID := line.ExternalID
	if externalID == "" {
		externalID = settlement.BatchID + ":" + line.TransactionID
	}
	_, err := r.disputes.Apply(ctx, dispute.InboundEvent{
		Processor:         settlement.Processor,
		ExternalDisputeID: externalID,
		TransactionID:     line.TransactionID,
		Type:              "chargeback",
		Amount:            line.Amount.Abs(),
		FeeAmount:         line.Fee,
		Currency:          settlement.Currency,
	})
	if err != nil {
		logging.Errorf("Failed to raise dispute for chargeback line %s: %v", line.TransactionID, err)
	}
}

// ReconcilePending re-runs reconciliation over batches still pending.
// Driven by the background retry job.
func (r *Reconciler) ReconcilePending(ctx context.Context) (int, error) {
	pending, err := r.store.ListPendingSettlements()
	if err != nil {
		return 0, fmt.Errorf("failed to list pending settlements: %w", err)
	}
	done := 0
	for i := range pending {
		s := pending[i]
		if _, err := r.reconcile(ctx, &s); err != nil {
			logging.Errorf("Failed to reconcile settlement %s: %v", s.SettlementID, err)
			continue
		}
		done++
	}
	return done, nil
}
