// Package macro holds the macroeconomic snapshot every calculation consumes.
// A Context is built once per calculation run and passed by value into the
// engines; nothing in the engines writes back to it.
package macro

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrWeightsSum        = errors.New("macro: scenario weights must sum to 1")
	ErrInvalidMultiplier = errors.New("macro: scenario multipliers must be positive")
)

// Scenario selects which forward-looking multiplier applies to a calculation.
type Scenario int

const (
	ScenarioWeighted Scenario = iota // probability-weighted blend of all three
	ScenarioBase
	ScenarioAdverse
	ScenarioSevere
)

func (s Scenario) String() string {
	switch s {
	case ScenarioBase:
		return "base"
	case ScenarioAdverse:
		return "adverse"
	case ScenarioSevere:
		return "severe"
	default:
		return "weighted"
	}
}

// ParseScenario resolves the scenario name used on the wire. The empty
// string means the probability-weighted blend.
func ParseScenario(name string) (Scenario, error) {
	switch name {
	case "", "weighted":
		return ScenarioWeighted, nil
	case "base":
		return ScenarioBase, nil
	case "adverse":
		return ScenarioAdverse, nil
	case "severe":
		return ScenarioSevere, nil
	default:
		return ScenarioWeighted, fmt.Errorf("macro: unknown scenario %q", name)
	}
}

// ScenarioSet carries the forward-looking multipliers and their weights.
type ScenarioSet struct {
	BaseMultiplier    decimal.Decimal `json:"base_multiplier"`
	AdverseMultiplier decimal.Decimal `json:"adverse_multiplier"`
	SevereMultiplier  decimal.Decimal `json:"severe_multiplier"`
	BaseWeight        decimal.Decimal `json:"base_weight"`
	AdverseWeight     decimal.Decimal `json:"adverse_weight"`
	SevereWeight      decimal.Decimal `json:"severe_weight"`
}

// Context is an immutable snapshot of macroeconomic parameters as published
// by the national bank for a given date.
type Context struct {
	GDPGrowth decimal.Decimal `json:"gdp_growth"` // percent
	Inflation decimal.Decimal `json:"inflation"`  // percent
	BaseRate  decimal.Decimal `json:"base_rate"`  // percent
	USDRate   decimal.Decimal `json:"usd_rate"`
	EURRate   decimal.Decimal `json:"eur_rate"`
	MRP       decimal.Decimal `json:"mrp"` // monthly calculation index, KZT
	AsOf      time.Time       `json:"as_of"`
	Scenarios ScenarioSet     `json:"scenarios"`
}

// Default returns the November 2025 national bank snapshot used by the demo
// data set and the tests.
func Default() Context {
	return Context{
		GDPGrowth: decimal.NewFromFloat(5.6),
		Inflation: decimal.NewFromFloat(12.9),
		BaseRate:  decimal.NewFromFloat(18.0),
		USDRate:   decimal.NewFromInt(560),
		EURRate:   decimal.NewFromInt(590),
		MRP:       decimal.NewFromInt(3932),
		AsOf:      time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC),
		Scenarios: ScenarioSet{
			BaseMultiplier:    decimal.NewFromFloat(1.35),
			AdverseMultiplier: decimal.NewFromFloat(1.80),
			SevereMultiplier:  decimal.NewFromFloat(2.40),
			BaseWeight:        decimal.NewFromFloat(0.55),
			AdverseWeight:     decimal.NewFromFloat(0.35),
			SevereWeight:      decimal.NewFromFloat(0.10),
		},
	}
}

// Validate checks the structural invariants of the snapshot. It is called
// once when the snapshot is built, not on every engine call.
func (c Context) Validate() error {
	s := c.Scenarios
	one := decimal.NewFromInt(1)
	if !s.BaseWeight.Add(s.AdverseWeight).Add(s.SevereWeight).Equal(one) {
		return fmt.Errorf("%w: got %s", ErrWeightsSum,
			s.BaseWeight.Add(s.AdverseWeight).Add(s.SevereWeight))
	}
	for _, m := range []decimal.Decimal{s.BaseMultiplier, s.AdverseMultiplier, s.SevereMultiplier} {
		if m.LessThanOrEqual(decimal.Zero) {
			return ErrInvalidMultiplier
		}
	}
	return nil
}

// Multiplier returns the forward-looking multiplier for a single scenario.
func (c Context) Multiplier(s Scenario) decimal.Decimal {
	switch s {
	case ScenarioBase:
		return c.Scenarios.BaseMultiplier
	case ScenarioAdverse:
		return c.Scenarios.AdverseMultiplier
	case ScenarioSevere:
		return c.Scenarios.SevereMultiplier
	default:
		return c.WeightedMultiplier()
	}
}

// WeightedMultiplier blends the three scenario multipliers by their weights.
func (c Context) WeightedMultiplier() decimal.Decimal {
	s := c.Scenarios
	return s.BaseMultiplier.Mul(s.BaseWeight).
		Add(s.AdverseMultiplier.Mul(s.AdverseWeight)).
		Add(s.SevereMultiplier.Mul(s.SevereWeight))
}
