// Package config carries the regulatory constants the engines compute with.
// Every constant the regulator publishes (tier rates, thresholds, default
// loss severities, scenario parameters) lives in a typed struct here,
// validated once at startup and passed by reference into the engines. None
// of these values are hardcoded at a call site.
package config

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidConfig = errors.New("config: invalid regulatory configuration")

// CollateralType identifies the security backing an exposure.
type CollateralType string

const (
	CollateralUnsecured  CollateralType = "unsecured"
	CollateralRealEstate CollateralType = "secured_real_estate"
	CollateralVehicles   CollateralType = "secured_vehicles"
	CollateralDeposits   CollateralType = "secured_deposits"
	CollateralSovereign  CollateralType = "sovereign"
)

// FacilityType identifies an off-balance commitment for CCF lookup.
type FacilityType string

const (
	FacilityCreditLines     FacilityType = "credit_lines"
	FacilityGuarantees      FacilityType = "guarantees"
	FacilityLettersOfCredit FacilityType = "letters_of_credit"
	FacilityUnusedLimits    FacilityType = "unused_limits"
)

// StageThresholds are the triggers of the three-stage impairment classifier.
// The values below mirror current regulation; deployments override them when
// the regulator moves the cutoffs.
type StageThresholds struct {
	Stage2DaysPastDue  int
	Stage3DaysPastDue  int
	PDRelativeIncrease decimal.Decimal
	PDAbsoluteIncrease decimal.Decimal
}

// CreditRiskConfig parameterizes the ECL engine.
type CreditRiskConfig struct {
	LGDDefaults        map[CollateralType]decimal.Decimal
	CCFFactors         map[FacilityType]decimal.Decimal
	DefaultCCF         decimal.Decimal
	Stages             StageThresholds
	InflationReference decimal.Decimal // percent level treated as neutral for LGD
	BaseRateReference  decimal.Decimal
	InflationFactor    decimal.Decimal // LGD sensitivity per percent of inflation deviation
	RateFactor         decimal.Decimal
	RepoLimitBefore    decimal.Decimal // repo/reserves cap before the 2025-07-01 tightening
	RepoLimitAfter     decimal.Decimal
	RepoPenaltyRate    decimal.Decimal
	Stage3UpliftRate   decimal.Decimal // days-on-default uplift slope

	SPPIBenchmarkTolerance decimal.Decimal // modified time value passes below this benchmark gap
	HoldToCollectRatio     decimal.Decimal // collections share above which the model is hold-to-collect
	HoldAndSellRatio       decimal.Decimal
}

// RAMethodParams carries the confidence level or cost-of-capital rate of a
// risk-adjustment method.
type RAMethodParams struct {
	ConfidenceLevel decimal.Decimal
	CoCRate         decimal.Decimal
}

// MonteCarloConfig bounds simulation cost and pins the seed so runs are
// reproducible.
type MonteCarloConfig struct {
	Simulations    int
	MaxSimulations int
	Seed           int64
}

// LiabilityConfig parameterizes the insurance-liability engine. The
// risk-free base of the discount rate comes from the macro context of each
// calculation run, not from configuration.
type LiabilityConfig struct {
	IlliquidityPremium decimal.Decimal // percent, before term scaling
	TermFactors        map[int]decimal.Decimal
	TermFactorLongEnd  decimal.Decimal // applies beyond the last keyed year
	VaR                RAMethodParams
	TVaR               RAMethodParams
	CoC                RAMethodParams
	CTE                RAMethodParams
	MonteCarlo         MonteCarloConfig
	LapseBaseline      decimal.Decimal
	Correlations       map[[2]string]decimal.Decimal
	DefaultCorrelation decimal.Decimal
	CompulsoryLoading  decimal.Decimal // loading multiplier for compulsory motor lines
}

// TierFormula is a two-bracket progressive rate schedule.
type TierFormula struct {
	Tier1Rate      decimal.Decimal
	Tier1Threshold decimal.Decimal
	Tier2Rate      decimal.Decimal
}

// SolvencyConfig parameterizes the capital-adequacy engine.
type SolvencyConfig struct {
	PremiumMargin        TierFormula
	ClaimsMargin         TierFormula
	KMin                 decimal.Decimal
	KMax                 decimal.Decimal
	KDefault             decimal.Decimal
	AnnuityRate          decimal.Decimal
	MathReserveRate      decimal.Decimal
	CompulsoryLoading    decimal.Decimal  // proportional minimum-margin loading
	GuaranteeFundUnits   map[string]int64 // insurer type -> MRP units
	SubordinatedDebtCap  decimal.Decimal
	OperationalBSCRCap   decimal.Decimal
	OperationalPremRate  decimal.Decimal
	OperationalTPRate    decimal.Decimal
	EquityShock          decimal.Decimal
	PropertyShock        decimal.Decimal
	InterestShock        decimal.Decimal
	SpreadShock          decimal.Decimal
	HighLiquidMinimum    decimal.Decimal
	CharterCapitalMinima map[string]decimal.Decimal
	CharterCapitalAddons map[string]decimal.Decimal
	StressFMPVolatility  decimal.Decimal
	StressMMPVolatility  decimal.Decimal
	TailConfidence       decimal.Decimal // 0.995 -> 1-in-200 tail
	MonteCarlo           MonteCarloConfig
}

// GuarantyFundConfig parameterizes the policyholder guaranty fund engine:
// risk-rated contribution rates, payout limits and the correlated-default
// simulation of member bankruptcies.
type GuarantyFundConfig struct {
	ContributionRates  map[string]decimal.Decimal // risk class -> rate on gross premiums
	PayoutLimits       map[string]decimal.Decimal // coverage type -> per-policy limit
	AdequacyRatio      decimal.Decimal            // required fund / expected claims
	FundReserveShare   decimal.Decimal            // assumed fund as a share of member reserves
	DefaultCorrelation decimal.Decimal            // pairwise default correlation
	DefaultPD          decimal.Decimal
	DefaultRecovery    decimal.Decimal
	MonteCarlo         MonteCarloConfig
}

// Config bundles the engine configurations.
type Config struct {
	CreditRisk   CreditRiskConfig
	Liability    LiabilityConfig
	Solvency     SolvencyConfig
	GuarantyFund GuarantyFundConfig
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Default returns the configuration matching the November 2025 regulatory
// texts the engines were calibrated against.
func Default() *Config {
	return &Config{
		CreditRisk: CreditRiskConfig{
			LGDDefaults: map[CollateralType]decimal.Decimal{
				CollateralUnsecured:  d("0.69"),
				CollateralRealEstate: d("0.35"),
				CollateralVehicles:   d("0.50"),
				CollateralDeposits:   d("0.15"),
				CollateralSovereign:  d("0.45"),
			},
			CCFFactors: map[FacilityType]decimal.Decimal{
				FacilityCreditLines:     d("0.50"),
				FacilityGuarantees:      d("0.75"),
				FacilityLettersOfCredit: d("0.60"),
				FacilityUnusedLimits:    d("0.40"),
			},
			DefaultCCF: d("0.50"),
			Stages: StageThresholds{
				Stage2DaysPastDue:  30,
				Stage3DaysPastDue:  90,
				PDRelativeIncrease: d("2.0"),
				PDAbsoluteIncrease: d("0.005"),
			},
			InflationReference: d("5"),
			BaseRateReference:  d("10"),
			InflationFactor:    d("0.05"),
			RateFactor:         d("0.10"),
			RepoLimitBefore:    d("0.50"),
			RepoLimitAfter:     d("0.35"),
			RepoPenaltyRate:    d("0.05"),
			Stage3UpliftRate:   d("0.20"),

			SPPIBenchmarkTolerance: d("0.10"),
			HoldToCollectRatio:     d("0.95"),
			HoldAndSellRatio:       d("0.60"),
		},
		Liability: LiabilityConfig{
			IlliquidityPremium: d("0.50"),
			TermFactors: map[int]decimal.Decimal{
				1: d("0.80"), 2: d("0.80"), 3: d("0.80"), 4: d("0.75"),
			},
			TermFactorLongEnd: d("0.70"),
			VaR:               RAMethodParams{ConfidenceLevel: d("0.95")},
			TVaR:              RAMethodParams{ConfidenceLevel: d("0.90")},
			CoC:               RAMethodParams{CoCRate: d("0.065")},
			CTE:               RAMethodParams{ConfidenceLevel: d("0.90")},
			MonteCarlo:        MonteCarloConfig{Simulations: 1000, MaxSimulations: 10000, Seed: 42},
			LapseBaseline:     d("0.05"),
			Correlations: map[[2]string]decimal.Decimal{
				{"lapse", "mortality"}:     d("0.50"),
				{"morbidity", "mortality"}: d("0.25"),
				{"expense", "lapse"}:       d("0.30"),
			},
			DefaultCorrelation: d("0.25"),
			CompulsoryLoading:  d("1.50"),
		},
		Solvency: SolvencyConfig{
			PremiumMargin: TierFormula{
				Tier1Rate:      d("0.18"),
				Tier1Threshold: d("3500000000"),
				Tier2Rate:      d("0.16"),
			},
			ClaimsMargin: TierFormula{
				Tier1Rate:      d("0.26"),
				Tier1Threshold: d("2500000000"),
				Tier2Rate:      d("0.23"),
			},
			KMin:              d("0.50"),
			KMax:              d("0.85"),
			KDefault:          d("0.70"),
			AnnuityRate:       d("0.08"),
			MathReserveRate:   d("0.03"),
			CompulsoryLoading: d("0.50"),
			GuaranteeFundUnits: map[string]int64{
				"life_non_life": 500000,
				"reinsurance":   3500000,
			},
			SubordinatedDebtCap: d("0.50"),
			OperationalBSCRCap:  d("0.30"),
			OperationalPremRate: d("0.03"),
			OperationalTPRate:   d("0.03"),
			EquityShock:         d("0.39"),
			PropertyShock:       d("0.25"),
			InterestShock:       d("0.20"),
			SpreadShock:         d("0.10"),
			HighLiquidMinimum:   d("1.0"),
			CharterCapitalMinima: map[string]decimal.Decimal{
				"general_insurance":   d("130000000"),
				"life_insurance":      d("150000000"),
				"general_reinsurance": d("150000000"),
				"life_reinsurance":    d("170000000"),
				"reinsurance_only":    d("230000000"),
			},
			CharterCapitalAddons: map[string]decimal.Decimal{
				"life":            d("15000000"),
				"annuity":         d("20000000"),
				"accident_health": d("5000000"),
				"medical":         d("10000000"),
				"auto":            d("5000000"),
				"aviation":        d("10000000"),
				"cargo":           d("7000000"),
			},
			StressFMPVolatility: d("0.15"),
			StressMMPVolatility: d("0.05"),
			TailConfidence:      d("0.995"),
			MonteCarlo:          MonteCarloConfig{Simulations: 1000, MaxSimulations: 10000, Seed: 42},
		},
		GuarantyFund: GuarantyFundConfig{
			ContributionRates: map[string]decimal.Decimal{
				"low_risk":    d("0.005"),
				"medium_risk": d("0.010"),
				"high_risk":   d("0.020"),
			},
			PayoutLimits: map[string]decimal.Decimal{
				"compulsory": d("1000000"),
				"voluntary":  d("500000"),
			},
			AdequacyRatio:      d("1.20"),
			FundReserveShare:   d("0.10"),
			DefaultCorrelation: d("0.30"),
			DefaultPD:          d("0.05"),
			DefaultRecovery:    d("0.30"),
			MonteCarlo:         MonteCarloConfig{Simulations: 1000, MaxSimulations: 1000, Seed: 42},
		},
	}
}

// Validate rejects a configuration whose constants are structurally unusable.
// It runs once at startup; the engines assume a validated configuration.
func (c *Config) Validate() error {
	for ct, lgd := range c.CreditRisk.LGDDefaults {
		if lgd.LessThan(decimal.Zero) || lgd.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: LGD default for %s outside [0,1]", ErrInvalidConfig, ct)
		}
	}
	for ft, ccf := range c.CreditRisk.CCFFactors {
		if ccf.LessThan(decimal.Zero) || ccf.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: CCF for %s outside [0,1]", ErrInvalidConfig, ft)
		}
	}
	if c.CreditRisk.Stages.Stage2DaysPastDue >= c.CreditRisk.Stages.Stage3DaysPastDue {
		return fmt.Errorf("%w: stage 2 day cutoff must precede stage 3", ErrInvalidConfig)
	}
	if c.Liability.MonteCarlo.Simulations <= 0 || c.Liability.MonteCarlo.MaxSimulations <= 0 {
		return fmt.Errorf("%w: Monte Carlo sample counts must be positive", ErrInvalidConfig)
	}
	if c.Solvency.KMin.GreaterThan(c.Solvency.KMax) {
		return fmt.Errorf("%w: correction coefficient bounds inverted", ErrInvalidConfig)
	}
	for _, tf := range []TierFormula{c.Solvency.PremiumMargin, c.Solvency.ClaimsMargin} {
		if tf.Tier1Threshold.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: tier threshold must be positive", ErrInvalidConfig)
		}
	}
	one := decimal.NewFromInt(1)
	for _, p := range []decimal.Decimal{c.GuarantyFund.DefaultPD, c.GuarantyFund.DefaultRecovery} {
		if p.LessThan(decimal.Zero) || p.GreaterThan(one) {
			return fmt.Errorf("%w: guaranty fund probability parameter outside [0,1]", ErrInvalidConfig)
		}
	}
	if c.GuarantyFund.DefaultCorrelation.LessThan(decimal.Zero) || c.GuarantyFund.DefaultCorrelation.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: guaranty fund default correlation outside [0,1)", ErrInvalidConfig)
	}
	if c.GuarantyFund.MonteCarlo.Simulations <= 0 || c.GuarantyFund.MonteCarlo.MaxSimulations <= 0 {
		return fmt.Errorf("%w: Monte Carlo sample counts must be positive", ErrInvalidConfig)
	}
	return nil
}
