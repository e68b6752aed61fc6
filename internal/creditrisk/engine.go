// Package creditrisk implements the three-stage expected-credit-loss engine.
// Staging, PD/LGD/EAD estimation and the discounted loss aggregation are pure
// functions of the exposure, the macro snapshot and the configured
// regulatory constants; the only side effect is an append to the audit sink.
package creditrisk

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/regcalc-api/internal/audit"
	"github.com/ksred/regcalc-api/internal/config"
	"github.com/ksred/regcalc-api/internal/macro"
	"github.com/ksred/regcalc-api/internal/money"
	"github.com/ksred/regcalc-api/internal/types"
)

const regulatoryReference = "IFRS 9 / ARFR Resolution No. 269"

// Service computes expected credit losses. It holds only configuration and
// the audit sink; every calculation is a pure function of its arguments.
type Service struct {
	cfg  *config.CreditRiskConfig
	sink audit.Sink
}

// NewService creates a credit risk engine over a validated configuration.
func NewService(cfg *config.CreditRiskConfig, sink audit.Sink) *Service {
	return &Service{cfg: cfg, sink: sink}
}

func (s *Service) validateExposure(exp Exposure) error {
	one := decimal.NewFromInt(1)
	switch {
	case exp.PDCurrent.LessThan(decimal.Zero) || exp.PDCurrent.GreaterThan(one):
		return types.NewValidationError("pd_current", "must be within [0,1], got %s", exp.PDCurrent)
	case exp.PDOrigination.LessThan(decimal.Zero) || exp.PDOrigination.GreaterThan(one):
		return types.NewValidationError("pd_at_origination", "must be within [0,1], got %s", exp.PDOrigination)
	case exp.LGD.LessThan(decimal.Zero) || exp.LGD.GreaterThan(one):
		return types.NewValidationError("lgd", "must be within [0,1], got %s", exp.LGD)
	case exp.GrossCarrying.LessThan(decimal.Zero):
		return types.NewValidationError("gross_carrying_amount", "must be non-negative, got %s", exp.GrossCarrying)
	case exp.Undrawn.LessThan(decimal.Zero):
		return types.NewValidationError("undrawn_amount", "must be non-negative, got %s", exp.Undrawn)
	case exp.RemainingTerm < 0:
		return types.NewValidationError("remaining_term", "must be non-negative, got %d", exp.RemainingTerm)
	case exp.DaysPastDue < 0:
		return types.NewValidationError("days_past_due", "must be non-negative, got %d", exp.DaysPastDue)
	case exp.EIR.LessThan(decimal.Zero):
		return types.NewValidationError("eir", "must be non-negative, got %s", exp.EIR)
	}
	return nil
}

// DetermineStage classifies an exposure into impairment stage 1, 2 or 3.
// The stage is recomputed from current facts on every call; no transition
// history is kept.
func (s *Service) DetermineStage(in StageInputs) (int, string) {
	th := s.cfg.Stages

	if in.DaysPastDue > th.Stage3DaysPastDue || in.Qualitative.DefaultEvent {
		return 3, "credit-impaired: past due beyond cutoff or default event"
	}

	if in.DaysPastDue > th.Stage2DaysPastDue {
		return 2, "significant increase in credit risk: days past due"
	}
	if in.PDOrigination.GreaterThan(decimal.Zero) &&
		in.PDCurrent.Div(in.PDOrigination).GreaterThan(th.PDRelativeIncrease) {
		return 2, "significant increase in credit risk: relative PD increase"
	}
	if in.PDCurrent.Sub(in.PDOrigination).GreaterThan(th.PDAbsoluteIncrease) {
		return 2, "significant increase in credit risk: absolute PD increase"
	}
	if in.Qualitative.Restructuring {
		return 2, "significant increase in credit risk: restructuring"
	}
	if in.Qualitative.Watchlist {
		return 2, "significant increase in credit risk: watchlist"
	}
	if in.Qualitative.CovenantBreach {
		return 2, "significant increase in credit risk: covenant breach"
	}

	return 1, "no significant increase in credit risk"
}

// AdjustPD applies the forward-looking scenario multiplier to a historical
// PD. The weighted scenario blends base/adverse/severe by their weights.
// The adjusted probability is capped at 1.
func (s *Service) AdjustPD(historical decimal.Decimal, mc macro.Context, scenario macro.Scenario) decimal.Decimal {
	return money.Clamp01(historical.Mul(mc.Multiplier(scenario)))
}

// AdjustLGD resolves the loss severity for an exposure: default by
// collateral type when no estimate is supplied, scaled by the uncovered
// share of EAD when collateral is posted, then by a macro factor linear in
// the deviation of inflation and the base rate from their reference levels.
// The result is always clamped to [0,1].
func (s *Service) AdjustLGD(
	base decimal.Decimal,
	collateralType config.CollateralType,
	collateralValue decimal.Decimal,
	ead decimal.Decimal,
	mc macro.Context,
) decimal.Decimal {
	if base.IsZero() {
		var ok bool
		if base, ok = s.cfg.LGDDefaults[collateralType]; !ok {
			base = s.cfg.LGDDefaults[config.CollateralUnsecured]
		}
	}

	adjusted := base
	if collateralValue.GreaterThan(decimal.Zero) && ead.GreaterThan(decimal.Zero) {
		uncovered := money.Clamp01(ead.Sub(collateralValue).Div(ead))
		adjusted = base.Mul(uncovered)
	}

	hundred := decimal.NewFromInt(100)
	deltaInflation := mc.Inflation.Sub(s.cfg.InflationReference).Div(hundred)
	deltaRate := mc.BaseRate.Sub(s.cfg.BaseRateReference).Div(hundred)
	macroFactor := decimal.NewFromInt(1).
		Add(s.cfg.InflationFactor.Mul(deltaInflation)).
		Add(s.cfg.RateFactor.Mul(deltaRate))

	return money.Clamp01(adjusted.Mul(macroFactor))
}

// CalculateEAD returns the exposure at default: on-balance carrying amount
// plus the undrawn commitment scaled by the facility's credit conversion
// factor.
func (s *Service) CalculateEAD(gca, undrawn decimal.Decimal, facility config.FacilityType) decimal.Decimal {
	if undrawn.LessThanOrEqual(decimal.Zero) {
		return gca
	}
	ccf, ok := s.cfg.CCFFactors[facility]
	if !ok {
		ccf = s.cfg.DefaultCCF
	}
	return gca.Add(undrawn.Mul(ccf))
}

// ClassifyAndQuantify runs the full single-exposure calculation: stage
// determination, PD/LGD/EAD estimation, and the survival-weighted discounted
// loss aggregation over a 12-month or lifetime horizon.
func (s *Service) ClassifyAndQuantify(exp Exposure, mc macro.Context, scenario macro.Scenario) (*ECLResult, error) {
	logger := log.With().
		Str("service", "creditrisk").
		Str("exposure_id", exp.ExposureID).
		Logger()

	if err := s.validateExposure(exp); err != nil {
		logger.Error().Err(err).Msg("exposure rejected")
		return nil, err
	}

	stage, reason := s.DetermineStage(StageInputs{
		DaysPastDue:   exp.DaysPastDue,
		PDCurrent:     exp.PDCurrent,
		PDOrigination: exp.PDOrigination,
		Qualitative:   exp.Qualitative,
	})

	ead := s.CalculateEAD(exp.GrossCarrying, exp.Undrawn, exp.FacilityType)
	lgd := s.AdjustLGD(exp.LGD, exp.CollateralType, exp.CollateralValue, ead, mc)
	pd := s.AdjustPD(exp.PDCurrent, mc, scenario)

	// Stage 1 carries a 12-month horizon, stages 2 and 3 the full remaining
	// term. A zero remaining term still prices one period.
	horizon := exp.RemainingTerm
	if stage == 1 && horizon > 1 {
		horizon = 1
	}
	if horizon < 1 {
		horizon = 1
	}

	one := decimal.NewFromInt(1)
	total := decimal.Zero
	eadSum := decimal.Zero
	periods := make([]PeriodLoss, 0, horizon)

	for t := 1; t <= horizon; t++ {
		survival := one.Sub(pd).Pow(decimal.NewFromInt(int64(t - 1)))
		pdT := pd.Mul(survival)

		amortization := one
		if exp.RemainingTerm > 0 {
			amortization = one.Sub(decimal.NewFromInt(int64(t - 1)).Div(decimal.NewFromInt(int64(exp.RemainingTerm))))
		}
		eadT := ead.Mul(amortization)
		eadSum = eadSum.Add(eadT)

		df := one.Div(one.Add(exp.EIR).Pow(decimal.NewFromInt(int64(t))))
		loss := pdT.Mul(lgd).Mul(eadT).Mul(df)
		total = total.Add(loss)

		periods = append(periods, PeriodLoss{
			Period:         t,
			MarginalPD:     pdT,
			EAD:            eadT,
			DiscountFactor: df,
			Loss:           money.Round(loss),
		})
	}

	// Stage 3 uplift grows with time spent in default, capped at the
	// configured slope over one full past-due cycle.
	if stage == 3 {
		dodFactor := money.Min(one, decimal.NewFromInt(int64(exp.DaysPastDue)).Div(decimal.NewFromInt(int64(s.cfg.Stages.Stage3DaysPastDue))))
		total = total.Mul(one.Add(s.cfg.Stage3UpliftRate.Mul(dodFactor)))
	}

	// The loss can never exceed the exposure it is measured against.
	total = money.Round(money.Min(total, eadSum))

	result := &ECLResult{
		ExposureID:  exp.ExposureID,
		Stage:       stage,
		StageReason: reason,
		ECLAmount:   total,
		AdjustedPD:  money.Round(pd),
		AdjustedLGD: money.Round(lgd),
		EADTotal:    money.Round(ead),
		Horizon:     horizon,
		Scenario:    scenario.String(),
		Periods:     periods,
	}
	if exp.GrossCarrying.GreaterThan(decimal.Zero) {
		result.CoverageOfGross = money.Round(total.Div(exp.GrossCarrying))
	}

	s.appendAudit("classify_and_quantify_ecl", eclAuditInputs{Exposure: exp, Macro: mc, Scenario: scenario}, result)

	logger.Info().
		Int("stage", stage).
		Str("ecl", total.String()).
		Str("scenario", scenario.String()).
		Int("horizon", horizon).
		Msg("expected credit loss calculated")

	return result, nil
}

// CalculatePortfolio runs the per-exposure calculation across a portfolio.
// Items are independent and computed concurrently; a failing exposure is
// recorded and skipped, never aborting the batch.
func (s *Service) CalculatePortfolio(exposures []Exposure, mc macro.Context, scenario macro.Scenario) *PortfolioResult {
	result := &PortfolioResult{
		TotalECL:     decimal.Zero,
		TotalGCA:     decimal.Zero,
		ByStage:      map[int]decimal.Decimal{1: decimal.Zero, 2: decimal.Zero, 3: decimal.Zero},
		CountByStage: map[int]int{1: 0, 2: 0, 3: 0},
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	items := make([]*PortfolioItem, len(exposures))
	errs := make([]*ItemError, len(exposures))

	for i := range exposures {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exp := exposures[i]
			r, err := s.ClassifyAndQuantify(exp, mc, scenario)
			if err != nil {
				errs[i] = &ItemError{ExposureID: exp.ExposureID, Message: err.Error()}
				return
			}
			items[i] = &PortfolioItem{
				ExposureID: exp.ExposureID,
				Name:       exp.Name,
				Stage:      r.Stage,
				GCA:        exp.GrossCarrying,
				ECL:        r.ECLAmount,
			}
			mu.Lock()
			result.TotalECL = result.TotalECL.Add(r.ECLAmount)
			result.TotalGCA = result.TotalGCA.Add(exp.GrossCarrying)
			result.ByStage[r.Stage] = result.ByStage[r.Stage].Add(r.ECLAmount)
			result.CountByStage[r.Stage]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	// Merge in input order so the aggregate is deterministic.
	for i := range exposures {
		if errs[i] != nil {
			result.Errors = append(result.Errors, *errs[i])
			continue
		}
		result.Items = append(result.Items, *items[i])
	}

	if result.TotalGCA.GreaterThan(decimal.Zero) {
		result.CoverageRatio = money.Round(result.TotalECL.Div(result.TotalGCA))
	} else {
		result.CoverageRatio = decimal.Zero
	}

	log.Info().
		Str("service", "creditrisk").
		Int("exposures", len(exposures)).
		Int("failed", len(result.Errors)).
		Str("total_ecl", result.TotalECL.String()).
		Msg("portfolio aggregation completed")

	return result
}

// StressECL reprices a base ECL under each scenario multiplier.
func (s *Service) StressECL(baseECL decimal.Decimal, mc macro.Context) []StressResult {
	one := decimal.NewFromInt(1)
	hundred := decimal.NewFromInt(100)
	scenarios := []macro.Scenario{macro.ScenarioBase, macro.ScenarioAdverse, macro.ScenarioSevere}

	out := make([]StressResult, 0, len(scenarios))
	for _, sc := range scenarios {
		m := mc.Multiplier(sc)
		out = append(out, StressResult{
			Scenario:   sc.String(),
			ECL:        money.Round(baseECL.Mul(m)),
			Multiplier: m,
			ChangePct:  m.Sub(one).Mul(hundred),
		})
	}
	return out
}

// BayesianPD estimates a default probability from observed default counts
// using a Beta-Binomial posterior mean: (defaults + alpha) /
// (exposures + alpha + beta).
func (s *Service) BayesianPD(defaults, exposures int, priorAlpha, priorBeta decimal.Decimal) (decimal.Decimal, error) {
	if defaults < 0 || exposures <= 0 || defaults > exposures {
		return decimal.Zero, types.NewValidationError("defaults", "need 0 <= defaults <= exposures, got %d/%d", defaults, exposures)
	}
	postAlpha := decimal.NewFromInt(int64(defaults)).Add(priorAlpha)
	postBeta := decimal.NewFromInt(int64(exposures - defaults)).Add(priorBeta)
	return money.Round(postAlpha.Div(postAlpha.Add(postBeta))), nil
}

// LogisticPD maps macro drivers to a PD through a logistic link:
// PD = 1 / (1 + exp(-(b0 + b1*gdp + b2*inflation))).
func (s *Service) LogisticPD(gdpGrowth, inflation decimal.Decimal, intercept, gdpCoef, inflationCoef float64) decimal.Decimal {
	logit := intercept + gdpCoef*gdpGrowth.InexactFloat64() + inflationCoef*inflation.InexactFloat64()
	pd := 1 / (1 + math.Exp(-logit))
	return money.Round(decimal.NewFromFloat(pd))
}

// MarginalPDs converts a cumulative PD term structure into marginal
// per-period PDs.
func (s *Service) MarginalPDs(cumulative []decimal.Decimal) ([]decimal.Decimal, error) {
	if len(cumulative) == 0 {
		return nil, types.NewValidationError("cumulative_pds", "must not be empty")
	}
	out := make([]decimal.Decimal, len(cumulative))
	out[0] = money.Round(cumulative[0])
	for i := 1; i < len(cumulative); i++ {
		out[i] = money.Round(cumulative[i].Sub(cumulative[i-1]))
	}
	return out, nil
}

// DownturnLGD lifts an average LGD to a downturn estimate at the given
// confidence level: LGD + sigma * z. Capped at 1.
func (s *Service) DownturnLGD(average, std decimal.Decimal, confidence float64) (decimal.Decimal, error) {
	if confidence <= 0 || confidence >= 1 {
		return decimal.Zero, types.NewValidationError("confidence", "must be within (0,1), got %f", confidence)
	}
	z := decimal.NewFromFloat(normQuantile(confidence))
	return money.Round(money.Clamp01(average.Add(std.Mul(z)))), nil
}

// CheckRepoLimit verifies the repo/reserves concentration limit applicable
// at the check date and prices the penalty on the excess.
func (s *Service) CheckRepoLimit(repoAmount, reserves decimal.Decimal, at time.Time) (*RepoLimitResult, error) {
	if reserves.LessThanOrEqual(decimal.Zero) {
		return nil, types.NewValidationError("reserves", "must be positive, got %s", reserves)
	}

	limit := s.cfg.RepoLimitBefore
	if !at.Before(time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)) {
		limit = s.cfg.RepoLimitAfter
	}

	ratio := repoAmount.Div(reserves)
	result := &RepoLimitResult{
		Compliant: ratio.LessThanOrEqual(limit),
		Ratio:     money.Round(ratio),
		Limit:     limit,
		Penalty:   decimal.Zero,
	}
	if !result.Compliant {
		excess := ratio.Sub(limit)
		result.Penalty = money.Round(excess.Mul(reserves).Mul(s.cfg.RepoPenaltyRate))
	}
	return result, nil
}

func (s *Service) appendAudit(operation string, input, result any) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Append(audit.NewRecord(operation, regulatoryReference, input, result)); err != nil {
		log.Warn().Err(err).Str("service", "creditrisk").Str("operation", operation).Msg("audit append failed")
	}
}

// normQuantile is the Acklam rational approximation of the standard normal
// inverse CDF, accurate to ~1e-9 over (0,1).
func normQuantile(p float64) float64 {
	a := []float64{-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02,
		1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00}
	b := []float64{-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02,
		6.680131188771972e+01, -1.328068155288572e+01}
	c := []float64{-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00,
		-2.549732539343734e+00, 4.374664141464968e+00, 2.938163982698783e+00}
	e := []float64{7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00,
		3.754408661907416e+00}

	const pLow = 0.02425
	switch {
	case p < pLow:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((e[0]*q+e[1])*q+e[2])*q+e[3])*q + 1)
	case p <= 1-pLow:
		q := p - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	default:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((e[0]*q+e[1])*q+e[2])*q+e[3])*q + 1)
	}
}
