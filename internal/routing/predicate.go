package routing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Predicate is a tagged predicate tree evaluated by a pure interpreter.
// A node is either a combinator (All/Any) or a leaf (Field/Op/Value);
// rule definitions stay declarative data, never executable logic.
//
// An empty combinator matches everything: `{"all":[]}` is the canonical
// catch-all predicate.
type Predicate struct {
	All []Predicate `json:"all,omitempty"`
	Any []Predicate `json:"any,omitempty"`

	Field string      `json:"field,omitempty"`
	Op    string      `json:"op,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// Supported leaf fields.
const (
	FieldPlatform = "platform"
	FieldAmount   = "amount"
	FieldCurrency = "currency"
	FieldRiskTier = "risk_tier"
	FieldType     = "type"
)

// Supported leaf operators.
const (
	OpEq  = "eq"
	OpNe  = "ne"
	OpIn  = "in"
	OpLt  = "lt"
	OpLte = "lte"
	OpGt  = "gt"
	OpGte = "gte"
)

// Matches evaluates the predicate against a route request.
func (p Predicate) Matches(req RouteRequest) (bool, error) {
	if p.Any != nil {
		for _, child := range p.Any {
			ok, err := child.Matches(req)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	if p.Field == "" {
		// Combinator node; an empty All list matches everything.
		for _, child := range p.All {
			ok, err := child.Matches(req)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
	return p.matchLeaf(req)
}

func (p Predicate) matchLeaf(req RouteRequest) (bool, error) {
	switch p.Field {
	case FieldAmount:
		return p.matchAmount(req.Amount)
	case FieldPlatform:
		return p.matchString(req.PlatformID)
	case FieldCurrency:
		return p.matchString(req.Currency)
	case FieldRiskTier:
		return p.matchString(req.RiskTier)
	case FieldType:
		return p.matchString(req.Type)
	default:
		return false, fmt.Errorf("unknown predicate field %q", p.Field)
	}
}

func (p Predicate) matchString(actual string) (bool, error) {
	switch p.Op {
	case OpEq:
		expected, ok := p.Value.(string)
		if !ok {
			return false, fmt.Errorf("predicate field %q: eq expects a string value", p.Field)
		}
		return actual == expected, nil
	case OpNe:
		expected, ok := p.Value.(string)
		if !ok {
			return false, fmt.Errorf("predicate field %q: ne expects a string value", p.Field)
		}
		return actual != expected, nil
	case OpIn:
		list, ok := p.Value.([]interface{})
		if !ok {
			return false, fmt.Errorf("predicate field %q: in expects a list value", p.Field)
		}
		for _, item := range list {
			if s, ok := item.(string); ok && s == actual {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("predicate field %q: unsupported string operator %q", p.Field, p.Op)
	}
}

func (p Predicate) matchAmount(actual decimal.Decimal) (bool, error) {
	raw, ok := p.Value.(float64) // JSON numbers decode to float64
	if !ok {
		return false, fmt.Errorf("predicate field amount: %s expects a numeric value", p.Op)
	}
	expected := decimal.NewFromFloat(raw)
	switch p.Op {
	case OpEq:
		return actual.Equal(expected), nil
	case OpNe:
		return !actual.Equal(expected), nil
	case OpLt:
		return actual.LessThan(expected), nil
	case OpLte:
		return actual.LessThanOrEqual(expected), nil
	case OpGt:
		return actual.GreaterThan(expected), nil
	case OpGte:
		return actual.GreaterThanOrEqual(expected), nil
	default:
		return false, fmt.Errorf("predicate field amount: unsupported operator %q", p.Op)
	}
}

// Validate walks the tree and rejects unknown fields and operators, so a
// bad rule is caught at submission instead of at evaluation.
func (p Predicate) Validate() error {
	if p.Any != nil {
		for _, child := range p.Any {
			if err := child.Validate(); err != nil {
				return err
			}
		}
		return nil
	}
	if p.Field == "" {
		for _, child := range p.All {
			if err := child.Validate(); err != nil {
				return err
			}
		}
		return nil
	}
	switch p.Field {
	case FieldPlatform, FieldCurrency, FieldRiskTier, FieldType:
		switch p.Op {
		case OpEq, OpNe, OpIn:
			return nil
		}
		return fmt.Errorf("field %q does not support operator %q", p.Field, p.Op)
	case FieldAmount:
		switch p.Op {
		case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
			return nil
		}
		return fmt.Errorf("field amount does not support operator %q", p.Op)
	default:
		return fmt.Errorf("unknown predicate field %q", p.Field)
	}
}
