package solvency

import (
	"github.com/shopspring/decimal"

	"github.com/ksred/regcalc-api/internal/macro"
)

// MMPInputs carry everything the minimum-margin computation needs. A nil K
// coefficient means the regulatory default.
type MMPInputs struct {
	GrossPremiums   decimal.Decimal  `json:"gross_premiums"`
	IncurredClaims  decimal.Decimal  `json:"incurred_claims"`
	KCoefficient    *decimal.Decimal `json:"k_coefficient,omitempty"`
	HasCompulsory   bool             `json:"has_compulsory_motor"`
	AnnuityReserves decimal.Decimal  `json:"annuity_reserves"`
	MathReserves    decimal.Decimal  `json:"math_reserves"`
	InsurerType     string           `json:"insurer_type"`
}

// MMPResult is the minimum solvency margin with its intermediate bases.
type MMPResult struct {
	Amount             decimal.Decimal `json:"amount"`
	ByPremiums         decimal.Decimal `json:"by_premiums"`
	ByClaims           decimal.Decimal `json:"by_claims"`
	LifeAddon          decimal.Decimal `json:"life_addon"`
	CompulsoryAddon    decimal.Decimal `json:"compulsory_addon"`
	GuaranteeFund      decimal.Decimal `json:"guarantee_fund"`
	FlooredByGuarantee bool            `json:"floored_by_guarantee"`
	KCoefficient       decimal.Decimal `json:"k_coefficient"`
}

// FMPInputs carry the own-funds components and regulatory adjustments.
type FMPInputs struct {
	EquityCapital    decimal.Decimal `json:"equity_capital"`
	ECLAdjustment    decimal.Decimal `json:"ecl_adjustment"`
	CSMAdjustment    decimal.Decimal `json:"csm_adjustment"`
	SubordinatedDebt decimal.Decimal `json:"subordinated_debt"`
	IlliquidAssets   decimal.Decimal `json:"illiquid_assets"`
	IntangibleAssets decimal.Decimal `json:"intangible_assets"`
	RepoPenalty      decimal.Decimal `json:"repo_penalty"`
}

// FMPResult is the eligible own funds with the subordinated-debt cap
// applied. Excess subordinated debt is excluded, not an error.
type FMPResult struct {
	Amount               decimal.Decimal `json:"amount"`
	Base                 decimal.Decimal `json:"base"`
	SubordinatedIncluded decimal.Decimal `json:"subordinated_included"`
	SubordinatedCap      decimal.Decimal `json:"subordinated_cap"`
	SubordinatedExcess   decimal.Decimal `json:"subordinated_excess"`
	RepoPenalty          decimal.Decimal `json:"repo_penalty"`
}

// Position is a full capital-adequacy assessment: margins, ratio and the
// compliance flag. Derived per run; never persisted by the engine.
type Position struct {
	MMP       MMPResult       `json:"mmp"`
	FMP       FMPResult       `json:"fmp"`
	Ratio     decimal.Decimal `json:"ratio"`
	Compliant bool            `json:"compliant"`
	Status    string          `json:"status"`
}

// StressScenario perturbs own funds and the minimum margin by fractional
// shocks.
type StressScenario struct {
	Name     string          `json:"name"`
	FMPShock decimal.Decimal `json:"fmp_shock"`
	MMPShock decimal.Decimal `json:"mmp_shock"`
}

// StressScenarioResult is one recomputed ratio under a shocked balance.
type StressScenarioResult struct {
	Name      string          `json:"name"`
	FMP       decimal.Decimal `json:"fmp"`
	MMP       decimal.Decimal `json:"mmp"`
	Ratio     decimal.Decimal `json:"ratio"`
	Compliant bool            `json:"compliant"`
}

// StressResult is the scenario grid plus the Monte-Carlo tail quantile of
// the ratio distribution.
type StressResult struct {
	BaseRatio   decimal.Decimal        `json:"base_ratio"`
	Scenarios   []StressScenarioResult `json:"scenarios"`
	TailRatio   decimal.Decimal        `json:"tail_ratio"` // 1-in-200 quantile
	Simulations int                    `json:"simulations"`
}

// SCRMarketInputs are the market-risk exposures shocked by the standard
// formula.
type SCRMarketInputs struct {
	EquityExposure      decimal.Decimal `json:"equity_exposure"`
	PropertyExposure    decimal.Decimal `json:"property_exposure"`
	InterestSensitivity decimal.Decimal `json:"interest_sensitivity"`
	SpreadExposure      decimal.Decimal `json:"spread_exposure"`
}

// SCRUnderwritingInputs are the insurance-risk components.
type SCRUnderwritingInputs struct {
	PremiumRisk     decimal.Decimal `json:"premium_risk"`
	ReserveRisk     decimal.Decimal `json:"reserve_risk"`
	CatastropheRisk decimal.Decimal `json:"catastrophe_risk"`
}

// SCRResult is the aggregated capital requirement with its sub-modules.
type SCRResult struct {
	Market       decimal.Decimal `json:"market"`
	Underwriting decimal.Decimal `json:"underwriting"`
	Counterparty decimal.Decimal `json:"counterparty"`
	BasicSCR     decimal.Decimal `json:"bscr"`
	Operational  decimal.Decimal `json:"operational"`
	Total        decimal.Decimal `json:"total"`
}

// LiquidityCheck reports the high-liquid-assets coverage of technical
// reserves.
type LiquidityCheck struct {
	Compliant bool            `json:"compliant"`
	Ratio     decimal.Decimal `json:"ratio"`
	Required  decimal.Decimal `json:"required"`
}

// CharterCapitalCheck reports compliance with the minimum charter capital
// for an insurer type plus per-class addons.
type CharterCapitalCheck struct {
	Compliant          bool            `json:"compliant"`
	CharterCapital     decimal.Decimal `json:"charter_capital"`
	BaseMinimum        decimal.Decimal `json:"base_minimum"`
	AdditionalRequired decimal.Decimal `json:"additional_required"`
	TotalMinimum       decimal.Decimal `json:"total_minimum"`
	Shortfall          decimal.Decimal `json:"shortfall"`
}

// IFRSImpact compares the solvency position before and after the IFRS 9/17
// adjustments flow into own funds and reserves.
type IFRSImpact struct {
	PreRatio      decimal.Decimal `json:"pre_ratio"`
	PostFMP       decimal.Decimal `json:"post_fmp"`
	PostMMP       decimal.Decimal `json:"post_mmp"`
	PostRatio     decimal.Decimal `json:"post_ratio"`
	RatioChangePP decimal.Decimal `json:"ratio_change_pp"`
}

// assessAuditInputs is the canonical digest payload for a solvency run.
type assessAuditInputs struct {
	MMP   MMPInputs     `json:"mmp_inputs"`
	FMP   FMPInputs     `json:"fmp_inputs"`
	Macro macro.Context `json:"macro"`
}
