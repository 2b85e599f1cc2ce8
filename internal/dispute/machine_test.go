package dispute

import (
	"context"
	"fmt"
	"testing"
	"time"

	"payout-core/internal/ledger"
	"payout-core/internal/models"

	"github.com/shopspring/decimal"
)

// ---- fakes ----

type memStore struct {
	txns     map[string]*models.Transaction
	disputes map[string]*models.Dispute
}

func newMemStore() *memStore {
	now := time.Now()
	return &memStore{
		txns: map[string]*models.Transaction{
			"txn_1": {
				TransactionID: "txn_1",
				PlatformID:    "plat_1",
				Amount:        decimal.NewFromInt(50),
				Currency:      "USD",
				Status:        models.StatusCaptured,
				CapturedAt:    &now,
			},
		},
		disputes: make(map[string]*models.Dispute),
	}
}

func (m *memStore) GetTransactionByID(id string) (*models.Transaction, error) {
	txn, ok := m.txns[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", id)
	}
	return txn, nil
}

func (m *memStore) CreateDispute(d *models.Dispute) error {
	m.disputes[d.DisputeID] = d
	return nil
}

func (m *memStore) SaveDispute(d *models.Dispute) error {
	m.disputes[d.DisputeID] = d
	return nil
}

func (m *memStore) GetDisputeByID(id string) (*models.Dispute, error) {
	return m.disputes[id], nil
}

func (m *memStore) GetDisputeByExternalID(processor, externalID string) (*models.Dispute, error) {
	for _, d := range m.disputes {
		if d.Processor == processor && d.ExternalDisputeID == externalID {
			return d, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListDisputesPastDeadline(now time.Time) ([]models.Dispute, error) {
	var out []models.Dispute
	for _, d := range m.disputes {
		if d.Stage == models.DisputeClosed || d.ResponseSubmitted {
			continue
		}
		if d.ResponseDeadline != nil && d.ResponseDeadline.Before(now) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memStore) GetPlatformByID(id string) (*models.Platform, error) {
	return &models.Platform{PlatformID: id, NotifyEmail: "ops@example.com"}, nil
}

type countingLedger struct {
	keys    []string
	amounts []decimal.Decimal
}

func (l *countingLedger) Post(ctx context.Context, transactionID string, amount decimal.Decimal, currency string, kind ledger.Kind, idempotencyKey string) error {
	l.keys = append(l.keys, idempotencyKey)
	l.amounts = append(l.amounts, amount)
	return nil
}

type countingAlerter struct {
	messages []string
}

func (a *countingAlerter) NotifyDisputeAlert(ctx context.Context, to string, dispute *models.Dispute, message string) {
	a.messages = append(a.messages, message)
}

func setup() (*Machine, *memStore, *countingLedger, *countingAlerter) {
	store := newMemStore()
	led := &countingLedger{}
	alerter := &countingAlerter{}
	return NewMachine(store, led, nil, alerter), store, led, alerter
}

func openEvent() InboundEvent {
	deadline := time.Now().Add(7 * 24 * time.Hour)
	return InboundEvent{
		Processor:         "alpha",
		ExternalDisputeID: "ext_dsp_1",
		TransactionID:     "txn_1",
		Type:              "chargeback",
		Amount:            decimal.NewFromInt(50),
		FeeAmount:         decimal.NewFromInt(15),
		Currency:          "USD",
		ResponseDeadline:  &deadline,
	}
}

// ---- tests ----

func TestApplyOpensDispute(t *testing.T) {
	machine, store, led, alerter := setup()

	dispute, err := machine.Apply(context.Background(), openEvent())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if dispute.Stage != models.DisputeOpen {
		t.Errorf("expected open, got %s", dispute.Stage)
	}
	if dispute.PlatformID != "plat_1" || dispute.TransactionID != "txn_1" {
		t.Errorf("dispute not bound to its transaction: %+v", dispute)
	}
	if len(store.disputes) != 1 {
		t.Errorf("expected one stored dispute, got %d", len(store.disputes))
	}
	if len(led.keys) != 0 {
		t.Errorf("an open dispute must not post a loss, got %v", led.keys)
	}
	if len(alerter.messages) != 1 {
		t.Errorf("expected one open alert, got %d", len(alerter.messages))
	}
}

func TestApplyDefaultsAmountToTransaction(t *testing.T) {
	machine, _, _, _ := setup()
	ev := openEvent()
	ev.Amount = decimal.Zero

	dispute, err := machine.Apply(context.Background(), ev)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !dispute.Amount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected the transaction amount, got %s", dispute.Amount)
	}
}

func TestApplyUnknownTransaction(t *testing.T) {
	machine, _, _, _ := setup()
	ev := openEvent()
	ev.TransactionID = "txn_missing"
	if _, err := machine.Apply(context.Background(), ev); err == nil {
		t.Fatal("expected an error for an unknown transaction")
	}
}

func TestApplyAdvancesStage(t *testing.T) {
	machine, _, _, alerter := setup()

	if _, err := machine.Apply(context.Background(), openEvent()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	ev := openEvent()
	ev.Stage = models.DisputeResponseDue
	dispute, err := machine.Apply(context.Background(), ev)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if dispute.Stage != models.DisputeResponseDue {
		t.Errorf("expected response_due, got %s", dispute.Stage)
	}
	if len(alerter.messages) != 2 {
		t.Errorf("response_due must alert, got %d alerts", len(alerter.messages))
	}
}

func TestApplyDropsOutOfOrderStage(t *testing.T) {
	machine, _, _, _ := setup()

	if _, err := machine.Apply(context.Background(), openEvent()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	ev := openEvent()
	ev.Stage = models.DisputeArbitration // open cannot jump straight to arbitration
	dispute, err := machine.Apply(context.Background(), ev)
	if err != nil {
		t.Fatalf("an out-of-order stage must not error: %v", err)
	}
	if dispute.Stage != models.DisputeOpen {
		t.Errorf("stage must not move on an illegal edge, got %s", dispute.Stage)
	}
}

func TestApplyReplayIsIdempotent(t *testing.T) {
	machine, store, _, _ := setup()

	first, err := machine.Apply(context.Background(), openEvent())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	again, err := machine.Apply(context.Background(), openEvent())
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if first.DisputeID != again.DisputeID {
		t.Errorf("a replayed external id must resolve to the same dispute")
	}
	if len(store.disputes) != 1 {
		t.Errorf("expected one dispute after replay, got %d", len(store.disputes))
	}
}

func TestCloseLostPostsLossOnce(t *testing.T) {
	machine, _, led, _ := setup()

	if _, err := machine.Apply(context.Background(), openEvent()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	ev := openEvent()
	ev.Stage = models.DisputeClosed
	ev.Outcome = models.OutcomeLost
	dispute, err := machine.Apply(context.Background(), ev)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if dispute.Stage != models.DisputeClosed || dispute.Outcome != models.OutcomeLost {
		t.Fatalf("expected closed/lost, got %s/%s", dispute.Stage, dispute.Outcome)
	}
	if dispute.ClosedAt == nil {
		t.Error("closed_at not stamped")
	}
	if len(led.keys) != 1 || led.keys[0] != "dispute:"+dispute.DisputeID {
		t.Fatalf("expected one loss posting keyed by the dispute id, got %v", led.keys)
	}
	// Loss is the disputed amount plus the network fee, negated.
	if !led.amounts[0].Equal(decimal.NewFromInt(-65)) {
		t.Errorf("expected -65, got %s", led.amounts[0])
	}
}

func TestCloseWonPostsNothing(t *testing.T) {
	machine, _, led, _ := setup()

	if _, err := machine.Apply(context.Background(), openEvent()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	ev := openEvent()
	ev.Stage = models.DisputeClosed
	ev.Outcome = models.OutcomeWon
	if _, err := machine.Apply(context.Background(), ev); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if len(led.keys) != 0 {
		t.Errorf("a won dispute must not post a loss, got %v", led.keys)
	}
}

func TestSubmitResponseExemptsFromSweep(t *testing.T) {
	machine, store, _, _ := setup()

	deadline := time.Now().Add(-time.Hour)
	ev := openEvent()
	ev.ResponseDeadline = &deadline
	dispute, err := machine.Apply(context.Background(), ev)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := machine.SubmitResponse(dispute.DisputeID); err != nil {
		t.Fatalf("SubmitResponse failed: %v", err)
	}
	if !store.disputes[dispute.DisputeID].ResponseSubmitted {
		t.Fatal("response_submitted not set")
	}

	closed, err := machine.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if closed != 0 {
		t.Errorf("a dispute with a submitted response must survive the sweep, closed %d", closed)
	}
}

func TestSweepAdvancesMissedDeadlinesOneStage(t *testing.T) {
	machine, store, led, alerter := setup()

	deadline := time.Now().Add(-time.Hour)
	ev := openEvent()
	ev.ResponseDeadline = &deadline
	dispute, err := machine.Apply(context.Background(), ev)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	advanced, err := machine.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if advanced != 1 {
		t.Fatalf("expected one advanced dispute, got %d", advanced)
	}
	swept := store.disputes[dispute.DisputeID]
	if swept.Stage != models.DisputeResponseDue {
		t.Errorf("expected response_due after the sweep, got %s", swept.Stage)
	}
	if swept.ResponseDeadline != nil {
		t.Error("the sweep must clear the expired deadline")
	}
	if len(led.keys) != 0 {
		t.Errorf("advancing a stage must not post a loss, got %v", led.keys)
	}
	if len(alerter.messages) != 2 { // open alert + deadline alert
		t.Errorf("the sweep must alert, got %d alerts", len(alerter.messages))
	}

	// With the deadline cleared a second sweep finds nothing.
	advanced, err = machine.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("second Sweep failed: %v", err)
	}
	if advanced != 0 {
		t.Errorf("expected the second sweep to be empty, got %d", advanced)
	}
}

func TestSweepClosesArbitrationAsLost(t *testing.T) {
	machine, store, led, _ := setup()

	dispute, err := machine.Apply(context.Background(), openEvent())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	deadline := time.Now().Add(-time.Hour)
	stored := store.disputes[dispute.DisputeID]
	stored.Stage = models.DisputeArbitration
	stored.ResponseDeadline = &deadline

	advanced, err := machine.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if advanced != 1 {
		t.Fatalf("expected one swept dispute, got %d", advanced)
	}
	swept := store.disputes[dispute.DisputeID]
	if swept.Stage != models.DisputeClosed || swept.Outcome != models.OutcomeLost {
		t.Errorf("expected closed/lost past arbitration, got %s/%s", swept.Stage, swept.Outcome)
	}
	if len(led.keys) != 1 || led.keys[0] != "dispute:"+dispute.DisputeID {
		t.Errorf("expected one loss posting keyed by the dispute id, got %v", led.keys)
	}
}

func TestAcceptConcedesAndPostsLoss(t *testing.T) {
	machine, _, led, _ := setup()

	dispute, err := machine.Apply(context.Background(), openEvent())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	accepted, err := machine.Accept(context.Background(), dispute.DisputeID)
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if accepted.Outcome != models.OutcomeAccepted {
		t.Errorf("expected accepted, got %s", accepted.Outcome)
	}
	if len(led.keys) != 1 {
		t.Errorf("an accepted dispute posts its loss, got %v", led.keys)
	}

	// Closed disputes reject further actions.
	if _, err := machine.Accept(context.Background(), dispute.DisputeID); err == nil {
		t.Error("expected an error accepting a closed dispute")
	}
	if _, err := machine.SubmitResponse(dispute.DisputeID); err == nil {
		t.Error("expected an error submitting a response on a closed dispute")
	}
}
