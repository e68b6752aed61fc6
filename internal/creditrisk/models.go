package creditrisk

import (
	"github.com/shopspring/decimal"

	"github.com/ksred/regcalc-api/internal/config"
	"github.com/ksred/regcalc-api/internal/macro"
)

// QualitativeFlags carry the non-numeric credit deterioration signals the
// stage classifier reacts to.
type QualitativeFlags struct {
	DefaultEvent   bool `json:"default_event"`
	Restructuring  bool `json:"restructuring"`
	Watchlist      bool `json:"watchlist"`
	CovenantBreach bool `json:"covenant_breach"`
}

// Exposure is a single credit position as supplied by the portfolio feed.
// The engine reads it and never writes to it; all outputs are new values.
type Exposure struct {
	ExposureID      string                `json:"exposure_id"`
	Name            string                `json:"name"`
	GrossCarrying   decimal.Decimal       `json:"gross_carrying_amount"`
	PDCurrent       decimal.Decimal       `json:"pd_current"`
	PDOrigination   decimal.Decimal       `json:"pd_at_origination"`
	LGD             decimal.Decimal       `json:"lgd"`
	EIR             decimal.Decimal       `json:"eir"`
	RemainingTerm   int                   `json:"remaining_term"`
	DaysPastDue     int                   `json:"days_past_due"`
	CollateralType  config.CollateralType `json:"collateral_type"`
	CollateralValue decimal.Decimal       `json:"collateral_value"`
	Undrawn         decimal.Decimal       `json:"undrawn_amount"`
	FacilityType    config.FacilityType   `json:"facility_type"`
	Qualitative     QualitativeFlags      `json:"qualitative_flags"`
}

// StageInputs are the facts the stage classifier is a pure function of.
type StageInputs struct {
	DaysPastDue   int              `json:"days_past_due"`
	PDCurrent     decimal.Decimal  `json:"pd_current"`
	PDOrigination decimal.Decimal  `json:"pd_at_origination"`
	Qualitative   QualitativeFlags `json:"qualitative_flags"`
}

// PeriodLoss is one period's contribution to the expected credit loss.
type PeriodLoss struct {
	Period         int             `json:"period"`
	MarginalPD     decimal.Decimal `json:"marginal_pd"`
	EAD            decimal.Decimal `json:"ead"`
	DiscountFactor decimal.Decimal `json:"discount_factor"`
	Loss           decimal.Decimal `json:"loss"`
}

// ECLResult is the full outcome of classifying and quantifying one exposure.
type ECLResult struct {
	ExposureID      string          `json:"exposure_id"`
	Stage           int             `json:"stage"`
	StageReason     string          `json:"stage_reason"`
	ECLAmount       decimal.Decimal `json:"ecl_amount"`
	AdjustedPD      decimal.Decimal `json:"adjusted_pd"`
	AdjustedLGD     decimal.Decimal `json:"adjusted_lgd"`
	EADTotal        decimal.Decimal `json:"ead_total"`
	Horizon         int             `json:"horizon"`
	Scenario        string          `json:"scenario"`
	Periods         []PeriodLoss    `json:"periods"`
	CoverageOfGross decimal.Decimal `json:"coverage_of_gross"`
}

// PortfolioItem is the per-exposure line of a portfolio aggregation.
type PortfolioItem struct {
	ExposureID string          `json:"exposure_id"`
	Name       string          `json:"name"`
	Stage      int             `json:"stage"`
	GCA        decimal.Decimal `json:"gca"`
	ECL        decimal.Decimal `json:"ecl"`
}

// ItemError records one exposure that failed validation during portfolio
// aggregation. A failing item never aborts the batch.
type ItemError struct {
	ExposureID string `json:"exposure_id"`
	Message    string `json:"message"`
}

// PortfolioResult aggregates per-exposure outcomes with per-stage subtotals.
type PortfolioResult struct {
	TotalECL      decimal.Decimal         `json:"total_ecl"`
	TotalGCA      decimal.Decimal         `json:"total_gca"`
	ByStage       map[int]decimal.Decimal `json:"by_stage"`
	CountByStage  map[int]int             `json:"count_by_stage"`
	CoverageRatio decimal.Decimal         `json:"coverage_ratio"`
	Items         []PortfolioItem         `json:"items"`
	Errors        []ItemError             `json:"errors"`
}

// StressResult is one scenario line of an ECL stress grid.
type StressResult struct {
	Scenario   string          `json:"scenario"`
	ECL        decimal.Decimal `json:"ecl"`
	Multiplier decimal.Decimal `json:"multiplier"`
	ChangePct  decimal.Decimal `json:"change_pct"`
}

// RepoLimitResult reports compliance with the repo exposure limit and the
// penalty feeding the solvency own-funds calculation on breach.
type RepoLimitResult struct {
	Compliant bool            `json:"compliant"`
	Ratio     decimal.Decimal `json:"ratio"`
	Limit     decimal.Decimal `json:"limit"`
	Penalty   decimal.Decimal `json:"penalty"`
}

// eclAuditInputs is the canonical digest payload for a single-exposure run.
type eclAuditInputs struct {
	Exposure Exposure       `json:"exposure"`
	Macro    macro.Context  `json:"macro"`
	Scenario macro.Scenario `json:"scenario"`
}
