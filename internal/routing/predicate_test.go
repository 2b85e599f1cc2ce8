package routing

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func mustPredicate(t *testing.T, raw string) Predicate {
	t.Helper()
	var p Predicate
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("bad predicate JSON: %v", err)
	}
	return p
}

func TestPredicateMatches(t *testing.T) {
	req := RouteRequest{
		PlatformID: "fanclub",
		Amount:     decimal.NewFromFloat(120.50),
		Currency:   "USD",
		RiskTier:   "medium",
		Type:       "subscription",
	}

	cases := []struct {
		name    string
		raw     string
		matches bool
	}{
		{"empty all matches everything", `{"all":[]}`, true},
		{"currency eq", `{"field":"currency","op":"eq","value":"USD"}`, true},
		{"currency ne", `{"field":"currency","op":"ne","value":"USD"}`, false},
		{"risk tier in", `{"field":"risk_tier","op":"in","value":["high","medium"]}`, true},
		{"amount gte", `{"field":"amount","op":"gte","value":100}`, true},
		{"amount lt", `{"field":"amount","op":"lt","value":100}`, false},
		{"all conjunction", `{"all":[
			{"field":"currency","op":"eq","value":"USD"},
			{"field":"amount","op":"gt","value":50}
		]}`, true},
		{"all short-circuits", `{"all":[
			{"field":"currency","op":"eq","value":"EUR"},
			{"field":"amount","op":"gt","value":50}
		]}`, false},
		{"any disjunction", `{"any":[
			{"field":"type","op":"eq","value":"tip"},
			{"field":"platform","op":"eq","value":"fanclub"}
		]}`, true},
		{"nested tree", `{"all":[
			{"field":"currency","op":"eq","value":"USD"},
			{"any":[
				{"field":"risk_tier","op":"eq","value":"medium"},
				{"field":"amount","op":"lte","value":10}
			]}
		]}`, true},
	}

	for _, tc := range cases {
		got, err := mustPredicate(t, tc.raw).Matches(req)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
			continue
		}
		if got != tc.matches {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.matches)
		}
	}
}

func TestPredicateMatchErrors(t *testing.T) {
	req := RouteRequest{Currency: "USD", Amount: decimal.NewFromInt(10)}

	bad := []string{
		`{"field":"unknown","op":"eq","value":"x"}`,
		`{"field":"currency","op":"gt","value":"USD"}`,
		`{"field":"amount","op":"eq","value":"ten"}`,
	}
	for _, raw := range bad {
		if _, err := mustPredicate(t, raw).Matches(req); err == nil {
			t.Errorf("expected an evaluation error for %s", raw)
		}
	}
}

func TestPredicateValidate(t *testing.T) {
	valid := []string{
		`{"all":[]}`,
		`{"field":"currency","op":"in","value":["USD","EUR"]}`,
		`{"all":[{"field":"amount","op":"lte","value":500}]}`,
		`{"any":[{"field":"platform","op":"eq","value":"x"}]}`,
	}
	for _, raw := range valid {
		var p Predicate
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			t.Fatalf("bad JSON: %v", err)
		}
		if err := p.Validate(); err != nil {
			t.Errorf("expected %s to validate, got %v", raw, err)
		}
	}

	invalid := []string{
		`{"field":"payer","op":"eq","value":"x"}`,
		`{"field":"amount","op":"in","value":[1,2]}`,
		`{"field":"currency","op":"gt","value":"USD"}`,
		`{"all":[{"field":"bogus","op":"eq","value":"x"}]}`,
	}
	for _, raw := range invalid {
		var p Predicate
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			t.Fatalf("bad JSON: %v", err)
		}
		if err := p.Validate(); err == nil {
			t.Errorf("expected %s to be rejected", raw)
		}
	}
}
