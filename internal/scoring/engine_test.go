package scoring

import (
	"reflect"
	"testing"

	"payout-core/internal/models"
)

func testPolicy() Policy {
	return Policy{
		Version:              "test-1",
		AutoApproveThreshold: 80,
		AutoRejectThreshold:  30,
		Weights: map[Group]float64{
			GroupDevice:     0.20,
			GroupNetwork:    0.20,
			GroupPayment:    0.25,
			GroupBehavioral: 0.25,
			GroupPlatform:   0.10,
		},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(testPolicy())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func fullGoodBag() SignalBag {
	return SignalBag{
		SigDeviceFingerprint: "fp_abc",
		SigDeviceReputation:  "95",
		SigIPReputation:      "90",
		SigAVSMatch:          "true",
		SigCVVMatch:          "true",
		SigAccountAgeDays:    "400",
		SigPriorRefunds:      "0",
		SigTotalSpend:        "1000",
		SigPlatformTrust:     "90",
		SigCreatorTenureDays: "200",
	}
}

func fullBadBag() SignalBag {
	return SignalBag{
		SigDeviceFingerprint: "fp_bad",
		SigDeviceReputation:  "5",
		SigIPReputation:      "10",
		SigGeoVelocity:       "1200",
		SigAVSMatch:          "false",
		SigCVVMatch:          "false",
		SigBINHighRisk:       "true",
		SigAccountAgeDays:    "2",
		SigPriorRefunds:      "5",
		SigChargebackCount:   "2",
		SigPlatformTrust:     "10",
	}
}

func TestScoreRangeAndDecisions(t *testing.T) {
	engine := newTestEngine(t)

	good := engine.Score(models.EntityTransaction, fullGoodBag())
	if good.Score < 0 || good.Score > 100 {
		t.Fatalf("score out of range: %d", good.Score)
	}
	if good.Decision != models.DecisionAllow {
		t.Errorf("expected allow for strong signals, got %s (score %d)", good.Decision, good.Score)
	}
	if good.Confidence != 100 {
		t.Errorf("expected full confidence with all groups present, got %d", good.Confidence)
	}

	bad := engine.Score(models.EntityTransaction, fullBadBag())
	if bad.Decision != models.DecisionBlock {
		t.Errorf("expected block for weak signals, got %s (score %d)", bad.Decision, bad.Score)
	}
	if bad.Score >= good.Score {
		t.Errorf("bad bag scored %d, good bag %d", bad.Score, good.Score)
	}
}

func TestScoreDeterminism(t *testing.T) {
	engine := newTestEngine(t)
	bag := fullGoodBag()

	first := engine.Score(models.EntityTransaction, bag)
	for i := 0; i < 50; i++ {
		again := engine.Score(models.EntityTransaction, bag)
		if again.Score != first.Score || again.Decision != first.Decision {
			t.Fatalf("run %d diverged: %d/%s vs %d/%s",
				i, again.Score, again.Decision, first.Score, first.Decision)
		}
		if !reflect.DeepEqual(again.ReasonCodes, first.ReasonCodes) {
			t.Fatalf("run %d produced different reason codes: %v vs %v",
				i, again.ReasonCodes, first.ReasonCodes)
		}
	}
}

func TestThresholdBoundaries(t *testing.T) {
	engine := newTestEngine(t)

	// A bag with only the platform group present makes the final score
	// equal to the platform trust signal, which pins exact boundaries.
	cases := []struct {
		trust    string
		decision models.TrustDecision
	}{
		{"80", models.DecisionAllow}, // boundary satisfies the approve threshold
		{"79", models.DecisionChallenge},
		{"31", models.DecisionChallenge},
		{"30", models.DecisionBlock}, // boundary satisfies the reject threshold
		{"0", models.DecisionBlock},
		{"100", models.DecisionAllow},
	}
	for _, tc := range cases {
		result := engine.Score(models.EntityTransaction, SignalBag{SigPlatformTrust: tc.trust})
		if result.Decision != tc.decision {
			t.Errorf("trust %s: expected %s, got %s (score %d)",
				tc.trust, tc.decision, result.Decision, result.Score)
		}
	}
}

func TestPartialSignalsRenormalization(t *testing.T) {
	engine := newTestEngine(t)

	result := engine.Score(models.EntityTransaction, SignalBag{
		SigAVSMatch: "true",
		SigCVVMatch: "true",
	})
	if result.Score != 100 {
		t.Errorf("expected renormalized score 100 from the payment group alone, got %d", result.Score)
	}
	if result.Confidence != 25 {
		t.Errorf("expected confidence 25 (payment weight only), got %d", result.Confidence)
	}
	found := false
	for _, code := range result.ReasonCodes {
		if code == ReasonPartialSignals {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s reason code, got %v", ReasonPartialSignals, result.ReasonCodes)
	}
}

func TestEmptyBagScoresZeroConfidence(t *testing.T) {
	engine := newTestEngine(t)
	result := engine.Score(models.EntityTransaction, SignalBag{})
	if result.Confidence != 0 {
		t.Errorf("expected zero confidence for an empty bag, got %d", result.Confidence)
	}
	if result.Decision != models.DecisionBlock {
		t.Errorf("expected block for a zero score, got %s", result.Decision)
	}
}

func TestNewEngineRejectsBadPolicies(t *testing.T) {
	bad := testPolicy()
	bad.Weights[GroupDevice] = 0.5
	if _, err := NewEngine(bad); err == nil {
		t.Error("expected an error for weights not summing to 1.0")
	}

	inverted := testPolicy()
	inverted.AutoRejectThreshold = 90
	if _, err := NewEngine(inverted); err == nil {
		t.Error("expected an error for reject threshold above approve threshold")
	}

	missing := testPolicy()
	delete(missing.Weights, GroupPayment)
	if _, err := NewEngine(missing); err == nil {
		t.Error("expected an error for a missing group weight")
	}
}

func TestTierForScore(t *testing.T) {
	cases := []struct {
		score int
		tier  string
	}{
		{100, "low"}, {80, "low"},
		{79, "medium"}, {60, "medium"},
		{59, "high"}, {40, "high"},
		{39, "critical"}, {0, "critical"},
	}
	for _, tc := range cases {
		if got := TierForScore(tc.score); got != tc.tier {
			t.Errorf("TierForScore(%d) = %q, want %q", tc.score, got, tc.tier)
		}
	}
}

func TestRecordBuildsImmutableSnapshot(t *testing.T) {
	engine := newTestEngine(t)
	bag := fullGoodBag()
	result := engine.Score(models.EntityRefundRequest, bag)

	record := result.Record(models.EntityRefundRequest, "ref_1", "platform_1", bag)
	if record.RecordID == "" {
		t.Fatal("record id not generated")
	}
	if record.Score != result.Score || record.Decision != result.Decision {
		t.Errorf("record does not mirror the result: %d/%s vs %d/%s",
			record.Score, record.Decision, result.Score, result.Decision)
	}
	if record.PolicyVersion != "test-1" {
		t.Errorf("expected policy version test-1, got %s", record.PolicyVersion)
	}
	if len(record.SignalSnapshot) == 0 {
		t.Error("signal snapshot missing")
	}
}
