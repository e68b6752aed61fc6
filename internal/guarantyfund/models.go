package guarantyfund

import (
	"github.com/shopspring/decimal"

	"github.com/ksred/regcalc-api/internal/config"
)

// FinancialRatios are the supervisory ratios the risk classifier scores.
// Nil fields mean the ratio was not reported and score nothing.
type FinancialRatios struct {
	SolvencyRatio  *decimal.Decimal `json:"solvency_ratio,omitempty"`
	LossRatio      *decimal.Decimal `json:"loss_ratio,omitempty"`
	CombinedRatio  *decimal.Decimal `json:"combined_ratio,omitempty"`
	YearsOperating int              `json:"years_operating"`
}

// Member is one insurer participating in the guaranty fund.
type Member struct {
	InsurerID     string           `json:"insurer_id"`
	Name          string           `json:"name"`
	CoverageType  string           `json:"coverage_type"` // compulsory or voluntary
	GrossPremiums decimal.Decimal  `json:"gross_premiums"`
	Reserves      decimal.Decimal  `json:"reserves"`
	RiskClass     string           `json:"risk_class,omitempty"` // overrides the ratio-based classification
	Ratios        *FinancialRatios `json:"ratios,omitempty"`
	PD            *decimal.Decimal `json:"bankruptcy_pd,omitempty"` // overrides the configured default
	Recovery      *decimal.Decimal `json:"recovery_rate,omitempty"`
}

// Contribution is one member's annual levy into the fund.
type Contribution struct {
	InsurerID string          `json:"insurer_id"`
	RiskClass string          `json:"risk_class"`
	RiskScore int             `json:"risk_score"`
	Rate      decimal.Decimal `json:"rate"`
	Amount    decimal.Decimal `json:"amount"`
}

// SimulationResult summarizes the correlated-default bankruptcy simulation.
type SimulationResult struct {
	Simulations          int             `json:"simulations"`
	Correlation          decimal.Decimal `json:"correlation"`
	TotalReserves        decimal.Decimal `json:"total_reserves"`
	AssumedFund          decimal.Decimal `json:"assumed_fund"`
	ExpectedClaims       decimal.Decimal `json:"expected_claims"`
	VaR95                decimal.Decimal `json:"var_95"`
	VaR99                decimal.Decimal `json:"var_99"`
	ShortfallProbability decimal.Decimal `json:"shortfall_probability"`
	FundAdequacy         decimal.Decimal `json:"fund_adequacy"`
}

// AdequacyResult reports the fund against its required cover of expected
// claims, with and without pipeline contributions.
type AdequacyResult struct {
	Fund           decimal.Decimal `json:"fund"`
	ExpectedClaims decimal.Decimal `json:"expected_claims"`
	RequiredRatio  decimal.Decimal `json:"required_ratio"`
	CurrentRatio   decimal.Decimal `json:"current_ratio"`
	ProjectedRatio decimal.Decimal `json:"projected_ratio"`
	Adequate       bool            `json:"adequate"`
	Shortfall      decimal.Decimal `json:"shortfall"`
	Surplus        decimal.Decimal `json:"surplus"`
}

// Assessment is the full fund review: per-member contributions, the
// bankruptcy simulation and the adequacy verdict.
type Assessment struct {
	Contributions      []Contribution             `json:"contributions"`
	TotalContributions decimal.Decimal            `json:"total_contributions"`
	PayoutLimits       map[string]decimal.Decimal `json:"payout_limits"`
	Simulation         *SimulationResult          `json:"simulation"`
	Adequacy           *AdequacyResult            `json:"adequacy"`
}

// WarningInputs are the indicators the early-warning scorer reads for one
// insurer.
type WarningInputs struct {
	InsurerID     string          `json:"insurer_id"`
	SolvencyRatio decimal.Decimal `json:"solvency_ratio"`
	LossRatio     decimal.Decimal `json:"loss_ratio"`
	CombinedRatio decimal.Decimal `json:"combined_ratio"`
	PremiumGrowth decimal.Decimal `json:"premium_growth"`
}

// WarningResult is the early-warning verdict for one insurer.
type WarningResult struct {
	InsurerID string   `json:"insurer_id"`
	Score     int      `json:"score"`
	Level     string   `json:"level"`
	Action    string   `json:"action"`
	Signals   []string `json:"signals,omitempty"`
}

// assessAuditInputs is the canonical digest payload for a fund assessment.
type assessAuditInputs struct {
	Members  []Member        `json:"members"`
	Pipeline decimal.Decimal `json:"pipeline_contributions"`
	Config   assessConfig    `json:"config"`
}

type assessConfig struct {
	Correlation      decimal.Decimal         `json:"correlation"`
	DefaultPD        decimal.Decimal         `json:"default_pd"`
	DefaultRecovery  decimal.Decimal         `json:"default_recovery"`
	FundReserveShare decimal.Decimal         `json:"fund_reserve_share"`
	AdequacyRatio    decimal.Decimal         `json:"adequacy_ratio"`
	MonteCarlo       config.MonteCarloConfig `json:"monte_carlo"`
}
