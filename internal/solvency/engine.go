// Package solvency implements the capital-adequacy engine: tiered minimum
// margin, own funds with regulatory adjustments, the solvency ratio, SCR
// sub-modules and stress testing. It consumes ECL and CSM totals produced
// by the credit risk and liability engines as adjustment inputs.
package solvency

import (
	"math"
	"math/rand"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/regcalc-api/internal/audit"
	"github.com/ksred/regcalc-api/internal/config"
	"github.com/ksred/regcalc-api/internal/macro"
	"github.com/ksred/regcalc-api/internal/money"
	"github.com/ksred/regcalc-api/internal/types"
)

const regulatoryReference = "ARFR Resolution No. 304 / Solvency II standard formula"

// Service computes capital adequacy. Stress simulation uses an engine-local
// seeded generator; identical inputs reproduce identical tails.
type Service struct {
	cfg  *config.SolvencyConfig
	sink audit.Sink
}

// NewService creates a solvency engine over a validated configuration.
func NewService(cfg *config.SolvencyConfig, sink audit.Sink) *Service {
	return &Service{cfg: cfg, sink: sink}
}

// GuaranteeFundMinimum converts the guarantee-fund size in monthly
// calculation units into currency at the current MRP. Unknown insurer types
// get the life/non-life floor.
func (s *Service) GuaranteeFundMinimum(insurerType string, mc macro.Context) decimal.Decimal {
	units, ok := s.cfg.GuaranteeFundUnits[insurerType]
	if !ok {
		units = s.cfg.GuaranteeFundUnits["life_non_life"]
	}
	return money.Round(mc.MRP.Mul(decimal.NewFromInt(units)))
}

func (s *Service) resolveK(k *decimal.Decimal) (decimal.Decimal, error) {
	if k == nil {
		return s.cfg.KDefault, nil
	}
	if k.LessThan(s.cfg.KMin) || k.GreaterThan(s.cfg.KMax) {
		return decimal.Decimal{}, types.NewValidationError("k_coefficient",
			"must be within [%s,%s], got %s", s.cfg.KMin, s.cfg.KMax, k)
	}
	return *k, nil
}

// tieredMargin applies a two-bracket progressive rate schedule to a base.
func tieredMargin(base decimal.Decimal, tf config.TierFormula) decimal.Decimal {
	if base.LessThanOrEqual(tf.Tier1Threshold) {
		return base.Mul(tf.Tier1Rate)
	}
	tier1 := tf.Tier1Threshold.Mul(tf.Tier1Rate)
	tier2 := base.Sub(tf.Tier1Threshold).Mul(tf.Tier2Rate)
	return tier1.Add(tier2)
}

// MarginByPremiums computes the premium-based minimum margin: the tiered
// premium base times the correction coefficient.
func (s *Service) MarginByPremiums(grossPremiums, k decimal.Decimal) (decimal.Decimal, error) {
	if grossPremiums.LessThan(decimal.Zero) {
		return decimal.Decimal{}, types.NewValidationError("gross_premiums", "must be non-negative, got %s", grossPremiums)
	}
	return money.Round(tieredMargin(grossPremiums, s.cfg.PremiumMargin).Mul(k)), nil
}

// MarginByClaims computes the claims-based minimum margin from the
// annualized incurred claims of the reference window.
func (s *Service) MarginByClaims(incurredClaims, k decimal.Decimal) (decimal.Decimal, error) {
	if incurredClaims.LessThan(decimal.Zero) {
		return decimal.Decimal{}, types.NewValidationError("incurred_claims", "must be non-negative, got %s", incurredClaims)
	}
	return money.Round(tieredMargin(incurredClaims, s.cfg.ClaimsMargin).Mul(k)), nil
}

// LifeAddon is the life-insurance margin addon: linear in annuity and
// mathematical reserves.
func (s *Service) LifeAddon(annuityReserves, mathReserves decimal.Decimal) decimal.Decimal {
	return money.Round(annuityReserves.Mul(s.cfg.AnnuityRate).Add(mathReserves.Mul(s.cfg.MathReserveRate)))
}

// MinimumMargin computes the full minimum solvency margin: the larger of
// the premium and claims bases, plus the life addon and the compulsory
// motor loading, floored by the guarantee-fund minimum.
func (s *Service) MinimumMargin(in MMPInputs, mc macro.Context) (*MMPResult, error) {
	k, err := s.resolveK(in.KCoefficient)
	if err != nil {
		return nil, err
	}

	byPremiums, err := s.MarginByPremiums(in.GrossPremiums, k)
	if err != nil {
		return nil, err
	}
	byClaims, err := s.MarginByClaims(in.IncurredClaims, k)
	if err != nil {
		return nil, err
	}

	base := money.Max(byPremiums, byClaims)

	lifeAddon := decimal.Zero
	if in.AnnuityReserves.GreaterThan(decimal.Zero) || in.MathReserves.GreaterThan(decimal.Zero) {
		lifeAddon = s.LifeAddon(in.AnnuityReserves, in.MathReserves)
	}

	compulsory := decimal.Zero
	if in.HasCompulsory {
		compulsory = money.Round(base.Mul(s.cfg.CompulsoryLoading))
	}

	total := base.Add(lifeAddon).Add(compulsory)
	mgf := s.GuaranteeFundMinimum(in.InsurerType, mc)
	floored := total.LessThan(mgf)
	total = money.Round(money.Max(total, mgf))

	return &MMPResult{
		Amount:             total,
		ByPremiums:         byPremiums,
		ByClaims:           byClaims,
		LifeAddon:          lifeAddon,
		CompulsoryAddon:    compulsory,
		GuaranteeFund:      mgf,
		FlooredByGuarantee: floored,
		KCoefficient:       k,
	}, nil
}

// OwnFunds computes eligible own funds: equity less the ECL, illiquid and
// intangible deductions plus the CSM adjustment, with subordinated debt
// capped at the configured fraction of that base. Excess subordinated debt
// is simply excluded. Any repo-limit penalty comes off the top.
func (s *Service) OwnFunds(in FMPInputs) (*FMPResult, error) {
	for name, v := range map[string]decimal.Decimal{
		"ecl_adjustment":    in.ECLAdjustment,
		"subordinated_debt": in.SubordinatedDebt,
		"illiquid_assets":   in.IlliquidAssets,
		"intangible_assets": in.IntangibleAssets,
		"repo_penalty":      in.RepoPenalty,
	} {
		if v.LessThan(decimal.Zero) {
			return nil, types.NewValidationError(name, "must be non-negative, got %s", v)
		}
	}

	base := in.EquityCapital.
		Sub(in.ECLAdjustment).
		Sub(in.IlliquidAssets).
		Sub(in.IntangibleAssets).
		Add(in.CSMAdjustment)

	cap := money.Max(base.Mul(s.cfg.SubordinatedDebtCap), decimal.Zero)
	included := money.Min(in.SubordinatedDebt, cap)
	excess := money.Max(in.SubordinatedDebt.Sub(cap), decimal.Zero)

	total := money.Round(base.Add(included).Sub(in.RepoPenalty))

	return &FMPResult{
		Amount:               total,
		Base:                 money.Round(base),
		SubordinatedIncluded: money.Round(included),
		SubordinatedCap:      money.Round(cap),
		SubordinatedExcess:   money.Round(excess),
		RepoPenalty:          in.RepoPenalty,
	}, nil
}

// ratioStatus grades a solvency ratio against the supervisory bands.
func ratioStatus(ratio decimal.Decimal) string {
	switch {
	case ratio.GreaterThanOrEqual(decimal.NewFromInt(2)):
		return "excellent"
	case ratio.GreaterThanOrEqual(decimal.RequireFromString("1.5")):
		return "good"
	case ratio.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return "adequate"
	default:
		return "undercapitalized"
	}
}

func solvencyRatio(fmp, mmp decimal.Decimal) decimal.Decimal {
	if mmp.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return money.Round(fmp.Div(mmp))
}

// AssessSolvency runs the full capital-adequacy assessment: minimum margin,
// own funds and the compliance ratio. Pure in its inputs; calling it twice
// with the same arguments yields bit-identical output and digests.
func (s *Service) AssessSolvency(mmpIn MMPInputs, fmpIn FMPInputs, mc macro.Context) (*Position, error) {
	logger := log.With().Str("service", "solvency").Logger()

	mmp, err := s.MinimumMargin(mmpIn, mc)
	if err != nil {
		logger.Error().Err(err).Msg("minimum margin inputs rejected")
		return nil, err
	}
	fmp, err := s.OwnFunds(fmpIn)
	if err != nil {
		logger.Error().Err(err).Msg("own funds inputs rejected")
		return nil, err
	}

	ratio := solvencyRatio(fmp.Amount, mmp.Amount)
	position := &Position{
		MMP:       *mmp,
		FMP:       *fmp,
		Ratio:     ratio,
		Compliant: ratio.GreaterThanOrEqual(decimal.NewFromInt(1)),
		Status:    ratioStatus(ratio),
	}

	s.appendAudit("assess_solvency", assessAuditInputs{MMP: mmpIn, FMP: fmpIn, Macro: mc}, position)

	logger.Info().
		Str("mmp", mmp.Amount.String()).
		Str("fmp", fmp.Amount.String()).
		Str("ratio", ratio.String()).
		Bool("compliant", position.Compliant).
		Msg("solvency assessed")

	return position, nil
}

// defaultScenarios returns the regulatory stress grid.
func defaultScenarios() []StressScenario {
	return []StressScenario{
		{Name: "base", FMPShock: decimal.Zero, MMPShock: decimal.Zero},
		{Name: "adverse", FMPShock: decimal.RequireFromString("-0.20"), MMPShock: decimal.RequireFromString("0.10")},
		{Name: "severe", FMPShock: decimal.RequireFromString("-0.40"), MMPShock: decimal.RequireFromString("0.20")},
	}
}

// StressTest reprices the solvency ratio under shocked balances and
// estimates the 1-in-200 tail of the ratio distribution by Monte Carlo.
// The simulated margin denominator is floored at one currency unit so a
// degenerate draw cannot divide by zero.
func (s *Service) StressTest(baseFMP, baseMMP decimal.Decimal, scenarios []StressScenario) (*StressResult, error) {
	if baseMMP.LessThanOrEqual(decimal.Zero) {
		return nil, types.NewValidationError("mmp", "must be positive, got %s", baseMMP)
	}
	if len(scenarios) == 0 {
		scenarios = defaultScenarios()
	}

	one := decimal.NewFromInt(1)
	results := make([]StressScenarioResult, 0, len(scenarios))
	for _, sc := range scenarios {
		fmp := baseFMP.Mul(one.Add(sc.FMPShock))
		mmp := baseMMP.Mul(one.Add(sc.MMPShock))
		ratio := solvencyRatio(fmp, mmp)
		results = append(results, StressScenarioResult{
			Name:      sc.Name,
			FMP:       money.Round(fmp),
			MMP:       money.Round(mmp),
			Ratio:     ratio,
			Compliant: ratio.GreaterThanOrEqual(one),
		})
	}

	sims := s.cfg.MonteCarlo.Simulations
	if sims > s.cfg.MonteCarlo.MaxSimulations {
		sims = s.cfg.MonteCarlo.MaxSimulations
	}

	fmpF := baseFMP.InexactFloat64()
	mmpF := baseMMP.InexactFloat64()
	fmpVol := s.cfg.StressFMPVolatility.InexactFloat64()
	mmpVol := s.cfg.StressMMPVolatility.InexactFloat64()

	rng := rand.New(rand.NewSource(s.cfg.MonteCarlo.Seed))
	ratios := make([]float64, sims)
	for i := range ratios {
		fmp := fmpF + fmpF*fmpVol*rng.NormFloat64()
		mmp := mmpF + mmpF*mmpVol*rng.NormFloat64()
		if mmp < 1 {
			mmp = 1
		}
		ratios[i] = fmp / mmp
	}
	sort.Float64s(ratios)

	tailP := 1 - s.cfg.TailConfidence.InexactFloat64()
	tail := percentile(ratios, tailP)

	result := &StressResult{
		BaseRatio:   solvencyRatio(baseFMP, baseMMP),
		Scenarios:   results,
		TailRatio:   money.Round(decimal.NewFromFloat(tail)),
		Simulations: sims,
	}

	s.appendAudit("stress_test_solvency", map[string]any{
		"base_fmp":  baseFMP,
		"base_mmp":  baseMMP,
		"scenarios": scenarios,
	}, result)

	return result, nil
}

// percentile interpolates linearly between order statistics of a sorted
// sample.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lo := int(idx)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func sqrtSumSquares(values ...decimal.Decimal) decimal.Decimal {
	sum := 0.0
	for _, v := range values {
		f := v.InexactFloat64()
		sum += f * f
	}
	return decimal.NewFromFloat(math.Sqrt(sum))
}

// SCRMarket shocks the market-risk exposures by the standard-formula
// percentages and aggregates them as independent risks.
func (s *Service) SCRMarket(in SCRMarketInputs) decimal.Decimal {
	return money.Round(sqrtSumSquares(
		in.EquityExposure.Mul(s.cfg.EquityShock),
		in.PropertyExposure.Mul(s.cfg.PropertyShock),
		in.InterestSensitivity.Mul(s.cfg.InterestShock),
		in.SpreadExposure.Mul(s.cfg.SpreadShock),
	))
}

// SCRUnderwriting aggregates the insurance-risk components as independent
// risks.
func (s *Service) SCRUnderwriting(in SCRUnderwritingInputs) decimal.Decimal {
	return money.Round(sqrtSumSquares(in.PremiumRisk, in.ReserveRisk, in.CatastropheRisk))
}

// BasicSCR aggregates the market, underwriting and counterparty modules.
func (s *Service) BasicSCR(market, underwriting, counterparty decimal.Decimal) decimal.Decimal {
	return money.Round(sqrtSumSquares(market, underwriting, counterparty))
}

// SCROperational is the premium/provision-driven operational charge, capped
// at a fraction of the basic SCR.
func (s *Service) SCROperational(bscr, grossPremiums, technicalProvisions decimal.Decimal) decimal.Decimal {
	base := money.Max(
		grossPremiums.Mul(s.cfg.OperationalPremRate),
		technicalProvisions.Mul(s.cfg.OperationalTPRate),
	)
	return money.Round(money.Min(base, bscr.Mul(s.cfg.OperationalBSCRCap)))
}

// CalculateSCR runs the full standard-formula aggregation.
func (s *Service) CalculateSCR(market SCRMarketInputs, uw SCRUnderwritingInputs, counterparty, grossPremiums, technicalProvisions decimal.Decimal) *SCRResult {
	scrMarket := s.SCRMarket(market)
	scrUW := s.SCRUnderwriting(uw)
	bscr := s.BasicSCR(scrMarket, scrUW, counterparty)
	scrOp := s.SCROperational(bscr, grossPremiums, technicalProvisions)

	return &SCRResult{
		Market:       scrMarket,
		Underwriting: scrUW,
		Counterparty: money.Round(counterparty),
		BasicSCR:     bscr,
		Operational:  scrOp,
		Total:        money.Round(bscr.Add(scrOp)),
	}
}

// CheckHighLiquidRatio verifies that high-liquid assets cover technical
// reserves at the required multiple.
func (s *Service) CheckHighLiquidRatio(highLiquidAssets, reserves decimal.Decimal) (*LiquidityCheck, error) {
	if reserves.LessThanOrEqual(decimal.Zero) {
		return nil, types.NewValidationError("reserves", "must be positive, got %s", reserves)
	}
	ratio := money.Round(highLiquidAssets.Div(reserves))
	return &LiquidityCheck{
		Compliant: ratio.GreaterThanOrEqual(s.cfg.HighLiquidMinimum),
		Ratio:     ratio,
		Required:  s.cfg.HighLiquidMinimum,
	}, nil
}

// CheckMinimumCharterCapital verifies the charter capital against the base
// minimum for the insurer type plus per-class addons.
func (s *Service) CheckMinimumCharterCapital(charterCapital decimal.Decimal, insurerType string, classes []string) *CharterCapitalCheck {
	base, ok := s.cfg.CharterCapitalMinima[insurerType]
	if !ok {
		base = s.cfg.CharterCapitalMinima["general_insurance"]
	}

	additional := decimal.Zero
	for _, class := range classes {
		if addon, ok := s.cfg.CharterCapitalAddons[class]; ok {
			additional = additional.Add(addon)
		}
	}

	total := base.Add(additional)
	return &CharterCapitalCheck{
		Compliant:          charterCapital.GreaterThanOrEqual(total),
		CharterCapital:     charterCapital,
		BaseMinimum:        base,
		AdditionalRequired: additional,
		TotalMinimum:       total,
		Shortfall:          money.Max(total.Sub(charterCapital), decimal.Zero),
	}
}

// IFRSImpactAnalysis compares the pre- and post-IFRS solvency positions:
// ECL reduces own funds, CSM lifts them, and the BEL/RA remeasurement moves
// the reserve-driven margin.
func (s *Service) IFRSImpactAnalysis(preFMP, preMMP, eclImpact, csmImpact, belRAImpact decimal.Decimal) (*IFRSImpact, error) {
	if preMMP.LessThanOrEqual(decimal.Zero) {
		return nil, types.NewValidationError("pre_mmp", "must be positive, got %s", preMMP)
	}

	postFMP := preFMP.Sub(eclImpact).Add(csmImpact)
	postMMP := preMMP.Sub(belRAImpact)

	preRatio := solvencyRatio(preFMP, preMMP)
	postRatio := solvencyRatio(postFMP, postMMP)

	return &IFRSImpact{
		PreRatio:      preRatio,
		PostFMP:       money.Round(postFMP),
		PostMMP:       money.Round(postMMP),
		PostRatio:     postRatio,
		RatioChangePP: money.Round(postRatio.Sub(preRatio).Mul(decimal.NewFromInt(100))),
	}, nil
}

func (s *Service) appendAudit(operation string, input, result any) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Append(audit.NewRecord(operation, regulatoryReference, input, result)); err != nil {
		log.Warn().Err(err).Str("service", "solvency").Str("operation", operation).Msg("audit append failed")
	}
}
