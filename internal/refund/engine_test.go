package refund

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"payout-core/internal/ledger"
	"payout-core/internal/models"
	"payout-core/internal/processor"
	"payout-core/internal/scoring"

	"github.com/shopspring/decimal"
)

// ---- fakes ----

type memStore struct {
	txns       map[string]*models.Transaction
	refunds    map[string]*models.Refund
	records    []*models.TrustScoreRecord
	platforms  map[string]*models.Platform
	payerCount int64
}

func newMemStore() *memStore {
	return &memStore{
		txns:    make(map[string]*models.Transaction),
		refunds: make(map[string]*models.Refund),
		platforms: map[string]*models.Platform{
			"plat_1": {PlatformID: "plat_1", NotifyEmail: "ops@example.com", IsActive: true},
		},
	}
}

func (m *memStore) GetTransactionByID(id string) (*models.Transaction, error) {
	txn, ok := m.txns[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", id)
	}
	return txn, nil
}

func (m *memStore) SaveTransaction(txn *models.Transaction) error {
	m.txns[txn.TransactionID] = txn
	return nil
}

func (m *memStore) CreateRefund(refund *models.Refund) error {
	m.refunds[refund.RefundID] = refund
	return nil
}

func (m *memStore) SaveRefund(refund *models.Refund) error {
	m.refunds[refund.RefundID] = refund
	return nil
}

func (m *memStore) GetRefundByID(id string) (*models.Refund, error) {
	refund, ok := m.refunds[id]
	if !ok {
		return nil, fmt.Errorf("refund %s not found", id)
	}
	return refund, nil
}

func (m *memStore) ListFailedRefunds() ([]models.Refund, error) {
	var failed []models.Refund
	for _, r := range m.refunds {
		if r.Status == models.RefundFailed {
			failed = append(failed, *r)
		}
	}
	return failed, nil
}

func (m *memStore) SumProcessedRefunds(transactionID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, r := range m.refunds {
		if r.TransactionID != transactionID {
			continue
		}
		if r.Status == models.RefundApproved || r.Status == models.RefundProcessed {
			total = total.Add(r.Amount)
		}
	}
	return total, nil
}

func (m *memStore) CountRefundRequestsByPayer(payerID string, since time.Time) (int64, error) {
	return m.payerCount, nil
}

func (m *memStore) CreateTrustScoreRecord(record *models.TrustScoreRecord) error {
	m.records = append(m.records, record)
	return nil
}

func (m *memStore) GetPlatformByID(id string) (*models.Platform, error) {
	platform, ok := m.platforms[id]
	if !ok {
		return nil, fmt.Errorf("platform not found")
	}
	return platform, nil
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

// flakyAdapter fails the first n refund calls, then succeeds.
type flakyAdapter struct {
	failures int
	calls    int
}

func (a *flakyAdapter) Code() string { return "flaky" }

func (a *flakyAdapter) Authorize(ctx context.Context, req processor.Request) (processor.Result, error) {
	return processor.Result{Success: true, ExternalID: "fl_auth_" + req.IdempotencyKey}, nil
}

func (a *flakyAdapter) Capture(ctx context.Context, req processor.Request) (processor.Result, error) {
	return processor.Result{Success: true, ExternalID: "fl_cap_" + req.IdempotencyKey}, nil
}

func (a *flakyAdapter) Refund(ctx context.Context, req processor.Request) (processor.Result, error) {
	a.calls++
	if a.calls <= a.failures {
		return processor.Result{Success: false, ReasonCode: "processor_unavailable"}, nil
	}
	return processor.Result{Success: true, ExternalID: "fl_ref_" + req.IdempotencyKey}, nil
}

type countingMailer struct {
	sent int
}

func (m *countingMailer) NotifyRefundOutcome(ctx context.Context, to string, refund *models.Refund) {
	m.sent++
}

// ---- helpers ----

func testScorer(t *testing.T) *scoring.Engine {
	t.Helper()
	engine, err := scoring.NewEngine(scoring.Policy{
		Version:              "test-1",
		AutoApproveThreshold: 80,
		AutoRejectThreshold:  30,
		Weights: map[scoring.Group]float64{
			scoring.GroupDevice:     0.20,
			scoring.GroupNetwork:    0.20,
			scoring.GroupPayment:    0.25,
			scoring.GroupBehavioral: 0.25,
			scoring.GroupPlatform:   0.10,
		},
	})
	if err != nil {
		t.Fatalf("scoring engine: %v", err)
	}
	return engine
}

func testPolicy() Policy {
	return Policy{
		Window:      3 * 24 * time.Hour,
		AbuseMax:    3,
		AbuseWindow: 30 * 24 * time.Hour,
		Timeout:     100 * time.Millisecond,
		MaxRetries:  1,
		Backoff:     time.Millisecond,
	}
}

func goodSignals() scoring.SignalBag {
	return scoring.SignalBag{
		scoring.SigAVSMatch:        "true",
		scoring.SigCVVMatch:        "true",
		scoring.SigDeviceMatch:     "true",
		scoring.SigContentAccessed: "false",
	}
}

func blockedSignals() scoring.SignalBag {
	return scoring.SignalBag{
		scoring.SigAVSMatch:    "false",
		scoring.SigCVVMatch:    "false",
		scoring.SigBINHighRisk: "true",
	}
}

func setup(t *testing.T) (*Engine, *memStore, *countingLedger, *countingMailer) {
	t.Helper()
	store := newMemStore()
	led := &countingLedger{}
	mailer := &countingMailer{}
	registry := processor.NewRegistry()
	registry.Register(processor.NewSandbox())
	engine := New(store, testScorer(t), registry, led, nil, mailer, testPolicy())
	return engine, store, led, mailer
}

func seedCapturedTxn(store *memStore) *models.Transaction {
	now := time.Now()
	txn := &models.Transaction{
		TransactionID:       "txn_1",
		PlatformID:          "plat_1",
		PayerID:             "payer_1",
		Type:                models.TypePurchase,
		Currency:            "USD",
		Amount:              decimal.NewFromInt(22),
		Fee:                 decimal.NewFromInt(2),
		NetAmount:           decimal.NewFromInt(20),
		Status:              models.StatusCaptured,
		ProcessorCode:       "sandbox",
		MerchantAccountCode: "sandbox-usd",
		CapturedAt:          &now,
	}
	store.txns[txn.TransactionID] = txn
	return txn
}

func request(amount int64, signals scoring.SignalBag) Request {
	return Request{
		TransactionID: "txn_1",
		PlatformID:    "plat_1",
		Amount:        decimal.NewFromInt(amount),
		Reason:        "accidental purchase",
		Origin:        models.OriginManual,
		Signals:       signals,
	}
}

// ---- tests ----

func TestFullRefundAutoApproved(t *testing.T) {
	engine, store, led, mailer := setup(t)
	seedCapturedTxn(store)

	refund, err := engine.RequestRefund(context.Background(), request(20, goodSignals()))
	if err != nil {
		t.Fatalf("RequestRefund failed: %v", err)
	}
	if refund.Decision != models.RefundDecisionAutoApprove {
		t.Fatalf("expected auto_approve, got %s (%s)", refund.Decision, refund.DecisionReason)
	}
	if refund.Status != models.RefundProcessed {
		t.Fatalf("expected processed, got %s", refund.Status)
	}
	if refund.ExternalID == "" || refund.ProcessedAt == nil {
		t.Error("processed refund must carry the external id and timestamp")
	}
	if len(led.keys) != 1 || led.keys[0] != "refund:"+refund.RefundID {
		t.Errorf("expected one ledger post keyed by the refund id, got %v", led.keys)
	}
	if !led.amounts[0].Equal(decimal.NewFromInt(-20)) {
		t.Errorf("refund posting must be negative, got %s", led.amounts[0])
	}
	if store.txns["txn_1"].Status != models.StatusRefunded {
		t.Errorf("expected transaction refunded, got %s", store.txns["txn_1"].Status)
	}
	if mailer.sent != 1 {
		t.Errorf("expected one outcome notification, got %d", mailer.sent)
	}
}

func TestPartialRefundLeavesPartialStatus(t *testing.T) {
	engine, store, _, _ := setup(t)
	seedCapturedTxn(store)

	refund, err := engine.RequestRefund(context.Background(), request(10, goodSignals()))
	if err != nil {
		t.Fatalf("RequestRefund failed: %v", err)
	}
	if refund.Status != models.RefundProcessed {
		t.Fatalf("expected processed, got %s", refund.Status)
	}
	if store.txns["txn_1"].Status != models.StatusPartiallyRefunded {
		t.Errorf("expected partially_refunded, got %s", store.txns["txn_1"].Status)
	}
}

func TestRefundsNeverExceedCapturedNet(t *testing.T) {
	engine, store, _, _ := setup(t)
	seedCapturedTxn(store)

	if _, err := engine.RequestRefund(context.Background(), request(25, goodSignals())); err == nil {
		t.Fatal("expected a rejection for an amount above the net")
	} else {
		var verr *models.ValidationError
		if !errors.As(err, &verr) || verr.Code != models.ErrCodeExceedsRefundable {
			t.Fatalf("expected %s, got %v", models.ErrCodeExceedsRefundable, err)
		}
	}

	// A processed partial reserves its share of the balance.
	if _, err := engine.RequestRefund(context.Background(), request(15, goodSignals())); err != nil {
		t.Fatalf("first partial failed: %v", err)
	}
	if _, err := engine.RequestRefund(context.Background(), request(10, goodSignals())); err == nil {
		t.Fatal("expected a rejection once the remaining balance is 5")
	}
	refund, err := engine.RequestRefund(context.Background(), request(5, goodSignals()))
	if err != nil {
		t.Fatalf("refund of the exact remainder failed: %v", err)
	}
	if refund.Status != models.RefundProcessed {
		t.Fatalf("expected processed, got %s", refund.Status)
	}
	if store.txns["txn_1"].Status != models.StatusRefunded {
		t.Errorf("expected refunded after the full net returned, got %s", store.txns["txn_1"].Status)
	}

	// Balance exhausted: no further requests.
	if _, err := engine.RequestRefund(context.Background(), request(1, goodSignals())); err == nil {
		t.Fatal("expected not_refundable once the balance is exhausted")
	}
}

func TestZeroAmountMeansFullBalance(t *testing.T) {
	engine, store, _, _ := setup(t)
	seedCapturedTxn(store)

	req := request(0, goodSignals())
	req.Amount = decimal.Zero
	refund, err := engine.RequestRefund(context.Background(), req)
	if err != nil {
		t.Fatalf("RequestRefund failed: %v", err)
	}
	if !refund.Amount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected the full net 20, got %s", refund.Amount)
	}
	if store.txns["txn_1"].Status != models.StatusRefunded {
		t.Errorf("expected refunded, got %s", store.txns["txn_1"].Status)
	}
}

func TestLowTrustAutoRejected(t *testing.T) {
	engine, store, led, mailer := setup(t)
	seedCapturedTxn(store)

	refund, err := engine.RequestRefund(context.Background(), request(20, blockedSignals()))
	if err != nil {
		t.Fatalf("RequestRefund failed: %v", err)
	}
	if refund.Status != models.RefundDenied || refund.Decision != models.RefundDecisionAutoReject {
		t.Fatalf("expected auto-rejected denial, got %s/%s", refund.Status, refund.Decision)
	}
	if refund.DecisionReason != "low_trust_score" {
		t.Errorf("expected low_trust_score, got %s", refund.DecisionReason)
	}
	if len(led.keys) != 0 {
		t.Errorf("a denied refund must not post to the ledger, got %v", led.keys)
	}
	if mailer.sent != 1 {
		t.Errorf("denials are notified too, got %d", mailer.sent)
	}
}

func TestContentAccessedGoesToManualReview(t *testing.T) {
	engine, store, _, _ := setup(t)
	seedCapturedTxn(store)

	signals := goodSignals()
	signals[scoring.SigContentAccessed] = "true"
	refund, err := engine.RequestRefund(context.Background(), request(20, signals))
	if err != nil {
		t.Fatalf("RequestRefund failed: %v", err)
	}
	if refund.Status != models.RefundPending || refund.Decision != models.RefundDecisionManualReview {
		t.Fatalf("expected manual review, got %s/%s", refund.Status, refund.Decision)
	}

	// Missing the signal entirely is treated as accessed.
	signals2 := goodSignals()
	delete(signals2, scoring.SigContentAccessed)
	refund2, err := engine.RequestRefund(context.Background(), request(20, signals2))
	if err != nil {
		t.Fatalf("RequestRefund failed: %v", err)
	}
	if refund2.Decision != models.RefundDecisionManualReview {
		t.Errorf("missing content signal must not auto-approve, got %s", refund2.Decision)
	}
}

func TestOutsideWindowGoesToManualReview(t *testing.T) {
	engine, store, _, _ := setup(t)
	txn := seedCapturedTxn(store)
	old := time.Now().Add(-10 * 24 * time.Hour)
	txn.CapturedAt = &old

	refund, err := engine.RequestRefund(context.Background(), request(20, goodSignals()))
	if err != nil {
		t.Fatalf("RequestRefund failed: %v", err)
	}
	if refund.Decision != models.RefundDecisionManualReview {
		t.Errorf("expected manual review outside the window, got %s", refund.Decision)
	}
	if refund.DecisionReason != "outside_auto_approve_window" {
		t.Errorf("unexpected reason %s", refund.DecisionReason)
	}
}

func TestRefundAbuseAutoRejected(t *testing.T) {
	engine, store, _, _ := setup(t)
	seedCapturedTxn(store)
	store.payerCount = 4 // above AbuseMax

	refund, err := engine.RequestRefund(context.Background(), request(20, goodSignals()))
	if err != nil {
		t.Fatalf("RequestRefund failed: %v", err)
	}
	if refund.Status != models.RefundDenied || refund.DecisionReason != "refund_abuse" {
		t.Errorf("expected refund_abuse denial, got %s/%s", refund.Status, refund.DecisionReason)
	}
}

func TestNonRefundableStates(t *testing.T) {
	engine, store, _, _ := setup(t)
	txn := seedCapturedTxn(store)

	for _, status := range []models.TransactionStatus{
		models.StatusInitiated, models.StatusAuthorized, models.StatusFailed, models.StatusRefunded,
	} {
		txn.Status = status
		_, err := engine.RequestRefund(context.Background(), request(5, goodSignals()))
		var verr *models.ValidationError
		if !errors.As(err, &verr) || verr.Code != models.ErrCodeNotRefundable {
			t.Errorf("status %s: expected %s, got %v", status, models.ErrCodeNotRefundable, err)
		}
	}
}

func TestEveryRequestIsScoredFresh(t *testing.T) {
	engine, store, _, _ := setup(t)
	seedCapturedTxn(store)

	if _, err := engine.RequestRefund(context.Background(), request(5, goodSignals())); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if _, err := engine.RequestRefund(context.Background(), request(5, goodSignals())); err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if len(store.records) != 2 {
		t.Fatalf("expected two trust score records, got %d", len(store.records))
	}
	for _, record := range store.records {
		if record.EntityType != models.EntityRefundRequest {
			t.Errorf("expected refund_request entity, got %s", record.EntityType)
		}
	}
}

func TestResolveManual(t *testing.T) {
	engine, store, led, mailer := setup(t)
	seedCapturedTxn(store)

	signals := goodSignals()
	signals[scoring.SigContentAccessed] = "true"
	pending, err := engine.RequestRefund(context.Background(), request(20, signals))
	if err != nil {
		t.Fatalf("RequestRefund failed: %v", err)
	}
	if pending.Status != models.RefundPending {
		t.Fatalf("expected pending, got %s", pending.Status)
	}

	resolved, err := engine.ResolveManual(context.Background(), pending.RefundID, true, "verified with the platform")
	if err != nil {
		t.Fatalf("ResolveManual failed: %v", err)
	}
	if resolved.Status != models.RefundProcessed {
		t.Fatalf("expected processed after approval, got %s", resolved.Status)
	}
	if len(led.keys) != 1 {
		t.Errorf("expected one ledger post, got %v", led.keys)
	}
	if mailer.sent != 2 {
		t.Errorf("expected notifications for the request and the resolution, got %d", mailer.sent)
	}

	// A settled refund cannot be resolved again.
	if _, err := engine.ResolveManual(context.Background(), pending.RefundID, false, "too late"); err == nil {
		t.Error("expected an error resolving a non-pending refund")
	}
}

func setupFlaky(t *testing.T, failures int) (*Engine, *memStore, *countingLedger) {
	t.Helper()
	store := newMemStore()
	led := &countingLedger{}
	registry := processor.NewRegistry()
	registry.Register(&flakyAdapter{failures: failures})
	engine := New(store, testScorer(t), registry, led, nil, &countingMailer{}, testPolicy())
	txn := seedCapturedTxn(store)
	txn.ProcessorCode = "flaky"
	return engine, store, led
}

func TestRetryFailedProcessesWhenBalanceStillFree(t *testing.T) {
	engine, store, led := setupFlaky(t, 1)

	failed, err := engine.RequestRefund(context.Background(), request(20, goodSignals()))
	if err != nil {
		t.Fatalf("RequestRefund failed: %v", err)
	}
	if failed.Status != models.RefundFailed {
		t.Fatalf("expected failed after the processor error, got %s", failed.Status)
	}
	if len(led.keys) != 0 {
		t.Fatalf("a failed refund must not post, got %v", led.keys)
	}

	if err := engine.RetryFailed(context.Background(), failed.RefundID); err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	retried := store.refunds[failed.RefundID]
	if retried.Status != models.RefundProcessed {
		t.Fatalf("expected processed after retry, got %s", retried.Status)
	}
	if len(led.keys) != 1 || led.keys[0] != "refund:"+failed.RefundID {
		t.Errorf("expected one posting keyed by the refund id, got %v", led.keys)
	}
}

func TestRetryFailedDeniesWhenBalanceConsumed(t *testing.T) {
	engine, store, led := setupFlaky(t, 1)

	// First request fails at the processor and releases its balance.
	failed, err := engine.RequestRefund(context.Background(), request(20, goodSignals()))
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if failed.Status != models.RefundFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}

	// A second request consumes the full net in the meantime.
	second, err := engine.RequestRefund(context.Background(), request(20, goodSignals()))
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if second.Status != models.RefundProcessed {
		t.Fatalf("expected the second refund processed, got %s", second.Status)
	}

	// The retry must not process the first refund on top of it.
	if err := engine.RetryFailed(context.Background(), failed.RefundID); err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	retried := store.refunds[failed.RefundID]
	if retried.Status != models.RefundDenied {
		t.Fatalf("expected denied once the balance is gone, got %s", retried.Status)
	}
	if retried.DecisionReason != "balance_exhausted" {
		t.Errorf("unexpected reason %s", retried.DecisionReason)
	}
	if len(led.keys) != 1 || led.keys[0] != "refund:"+second.RefundID {
		t.Errorf("only the second refund may post, got %v", led.keys)
	}
	total, err := store.SumProcessedRefunds("txn_1")
	if err != nil {
		t.Fatalf("SumProcessedRefunds failed: %v", err)
	}
	if total.GreaterThan(decimal.NewFromInt(20)) {
		t.Errorf("refunded total %s exceeds the captured net 20", total)
	}
}

func TestRetryAllFailedDrivesEveryFailedRefund(t *testing.T) {
	engine, store, led := setupFlaky(t, 1)

	failed, err := engine.RequestRefund(context.Background(), request(20, goodSignals()))
	if err != nil {
		t.Fatalf("RequestRefund failed: %v", err)
	}
	if failed.Status != models.RefundFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}

	retried, err := engine.RetryAllFailed(context.Background())
	if err != nil {
		t.Fatalf("RetryAllFailed failed: %v", err)
	}
	if retried != 1 {
		t.Fatalf("expected one retried refund, got %d", retried)
	}
	if store.refunds[failed.RefundID].Status != models.RefundProcessed {
		t.Fatalf("expected processed, got %s", store.refunds[failed.RefundID].Status)
	}
	if len(led.keys) != 1 || led.keys[0] != "refund:"+failed.RefundID {
		t.Errorf("expected one posting keyed by the refund id, got %v", led.keys)
	}

	// Nothing left to drive on the next pass.
	retried, err = engine.RetryAllFailed(context.Background())
	if err != nil {
		t.Fatalf("second RetryAllFailed failed: %v", err)
	}
	if retried != 0 {
		t.Errorf("expected an empty pass, got %d", retried)
	}
}

func TestResolveManualDeny(t *testing.T) {
	engine, store, led, _ := setup(t)
	seedCapturedTxn(store)

	signals := goodSignals()
	signals[scoring.SigContentAccessed] = "true"
	pending, err := engine.RequestRefund(context.Background(), request(20, signals))
	if err != nil {
		t.Fatalf("RequestRefund failed: %v", err)
	}

	denied, err := engine.ResolveManual(context.Background(), pending.RefundID, false, "content was consumed")
	if err != nil {
		t.Fatalf("ResolveManual failed: %v", err)
	}
	if denied.Status != models.RefundDenied {
		t.Fatalf("expected denied, got %s", denied.Status)
	}
	if len(led.keys) != 0 {
		t.Errorf("a denied refund must not post to the ledger, got %v", led.keys)
	}
}
