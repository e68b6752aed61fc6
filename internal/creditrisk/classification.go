package creditrisk

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/regcalc-api/internal/types"
)

// MeasurementCategory is the accounting category an asset classifies into.
type MeasurementCategory string

const (
	CategoryAmortizedCost MeasurementCategory = "amortized_cost"
	CategoryFVOCI         MeasurementCategory = "fvoci"
	CategoryFVTPL         MeasurementCategory = "fvtpl"
)

// BusinessModel is the outcome of the business-model test.
type BusinessModel string

const (
	ModelHoldToCollect BusinessModel = "hold_to_collect"
	ModelHoldAndSell   BusinessModel = "hold_and_sell"
	ModelTrading       BusinessModel = "trading"
	ModelUndetermined  BusinessModel = "undetermined"
)

// ContractualTerms are the cash-flow characteristics the SPPI test inspects.
// Any structural feature set to true means the flows are not solely payments
// of principal and interest.
type ContractualTerms struct {
	Leverage                   bool            `json:"leverage"`
	ExcessivePrepaymentPenalty bool            `json:"excessive_prepayment_penalty"`
	ContingentPrincipal        bool            `json:"contingent_principal"`
	EquityConversion           bool            `json:"equity_conversion"`
	InverseFloating            bool            `json:"inverse_floating"`
	ModifiedTimeValue          bool            `json:"modified_time_value"`
	BenchmarkDifference        decimal.Decimal `json:"benchmark_difference"`
}

// SPPIResult reports whether contractual cash flows are solely payments of
// principal and interest, with the failing features when they are not.
type SPPIResult struct {
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
}

// BusinessModelResult reports the model inferred from realized cash flows.
type BusinessModelResult struct {
	Model     BusinessModel   `json:"model"`
	HoldRatio decimal.Decimal `json:"hold_ratio"`
}

// ClassificationResult is the full outcome of classifying one asset.
type ClassificationResult struct {
	AssetID       string              `json:"asset_id"`
	Category      MeasurementCategory `json:"category"`
	Reason        string              `json:"reason"`
	SPPI          SPPIResult          `json:"sppi"`
	BusinessModel BusinessModel       `json:"business_model"`
	HoldRatio     decimal.Decimal     `json:"hold_ratio"`
}

// classifyAuditInputs is the canonical digest payload for a classification.
type classifyAuditInputs struct {
	AssetID     string           `json:"asset_id"`
	Terms       ContractualTerms `json:"terms"`
	Collections decimal.Decimal  `json:"collections"`
	Sales       decimal.Decimal  `json:"sales"`
}

// SPPITest checks whether contractual cash flows are solely payments of
// principal and interest. Structural features fail outright; a modified time
// value of money fails only when the gap to the benchmark instrument exceeds
// the configured tolerance.
func (s *Service) SPPITest(terms ContractualTerms) SPPIResult {
	var failures []string
	if terms.Leverage {
		failures = append(failures, "leverage in contractual cash flows")
	}
	if terms.ExcessivePrepaymentPenalty {
		failures = append(failures, "prepayment penalty exceeds reasonable compensation")
	}
	if terms.ContingentPrincipal {
		failures = append(failures, "principal contingent on non-credit events")
	}
	if terms.EquityConversion {
		failures = append(failures, "conversion feature into equity")
	}
	if terms.InverseFloating {
		failures = append(failures, "inverse floating interest rate")
	}
	if terms.ModifiedTimeValue && terms.BenchmarkDifference.GreaterThan(s.cfg.SPPIBenchmarkTolerance) {
		failures = append(failures, "modified time value of money materially differs from benchmark")
	}
	return SPPIResult{Passed: len(failures) == 0, Failures: failures}
}

// BusinessModelTest infers the business model from realized principal
// collections versus sale proceeds. With no realized flows at all the model
// is undetermined and classification falls through to fair value.
func (s *Service) BusinessModelTest(collections, sales decimal.Decimal) (*BusinessModelResult, error) {
	if collections.LessThan(decimal.Zero) {
		return nil, types.NewValidationError("collections", "must be non-negative, got %s", collections)
	}
	if sales.LessThan(decimal.Zero) {
		return nil, types.NewValidationError("sales", "must be non-negative, got %s", sales)
	}

	total := collections.Add(sales)
	if total.IsZero() {
		return &BusinessModelResult{Model: ModelUndetermined, HoldRatio: decimal.Zero}, nil
	}

	ratio := collections.Div(total)
	model := ModelTrading
	switch {
	case ratio.GreaterThan(s.cfg.HoldToCollectRatio):
		model = ModelHoldToCollect
	case ratio.GreaterThan(s.cfg.HoldAndSellRatio):
		model = ModelHoldAndSell
	}
	return &BusinessModelResult{Model: model, HoldRatio: ratio}, nil
}

// ClassifyAsset combines the SPPI and business-model tests into a
// measurement category: amortized cost for hold-to-collect with SPPI flows,
// FVOCI for hold-and-sell with SPPI flows, FVTPL otherwise.
func (s *Service) ClassifyAsset(assetID string, terms ContractualTerms, collections, sales decimal.Decimal) (*ClassificationResult, error) {
	bm, err := s.BusinessModelTest(collections, sales)
	if err != nil {
		return nil, err
	}
	sppi := s.SPPITest(terms)

	result := &ClassificationResult{
		AssetID:       assetID,
		SPPI:          sppi,
		BusinessModel: bm.Model,
		HoldRatio:     bm.HoldRatio,
	}

	switch {
	case bm.Model == ModelHoldToCollect && sppi.Passed:
		result.Category = CategoryAmortizedCost
		result.Reason = "held to collect contractual cash flows that are solely principal and interest"
	case bm.Model == ModelHoldAndSell && sppi.Passed:
		result.Category = CategoryFVOCI
		result.Reason = "held both to collect and to sell, with SPPI cash flows"
	case !sppi.Passed:
		result.Category = CategoryFVTPL
		result.Reason = "cash flows are not solely payments of principal and interest"
	default:
		result.Category = CategoryFVTPL
		result.Reason = "business model is neither hold-to-collect nor hold-and-sell"
	}

	s.appendAudit("classify_asset", classifyAuditInputs{
		AssetID:     assetID,
		Terms:       terms,
		Collections: collections,
		Sales:       sales,
	}, result)

	log.Info().
		Str("service", "creditrisk").
		Str("asset_id", assetID).
		Str("category", string(result.Category)).
		Str("business_model", string(bm.Model)).
		Bool("sppi_passed", sppi.Passed).
		Msg("asset classified")

	return result, nil
}
