// Package liability implements insurance-contract liability measurement:
// discounted best-estimate cash flows, four interchangeable risk-adjustment
// methods, the contractual-service-margin state machine and the dispatch
// between the general, variable-fee and premium-allocation models.
package liability

import (
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/regcalc-api/internal/audit"
	"github.com/ksred/regcalc-api/internal/config"
	"github.com/ksred/regcalc-api/internal/macro"
	"github.com/ksred/regcalc-api/internal/money"
	"github.com/ksred/regcalc-api/internal/types"
)

const regulatoryReference = "IFRS 17 / ARFR insurance market adaptations"

// Service measures insurance liabilities. Monte Carlo draws come from an
// engine-local generator seeded from configuration, so identical inputs
// reproduce identical results.
type Service struct {
	cfg  *config.LiabilityConfig
	sink audit.Sink
}

// NewService creates a liability engine over a validated configuration.
func NewService(cfg *config.LiabilityConfig, sink audit.Sink) *Service {
	return &Service{cfg: cfg, sink: sink}
}

// ResolveDiscountRate builds the bottom-up discount rate for a term: the
// risk-free base from the macro context, plus the configured illiquidity
// premium scaled by a term factor. Returned as a fraction, not a percentage.
func (s *Service) ResolveDiscountRate(term int, mc macro.Context) decimal.Decimal {
	if term < 1 {
		term = 1
	}
	factor, ok := s.cfg.TermFactors[term]
	if !ok {
		factor = s.cfg.TermFactorLongEnd
	}

	hundred := decimal.NewFromInt(100)
	base := mc.BaseRate.Div(hundred)
	ilp := s.cfg.IlliquidityPremium.Div(hundred).Mul(factor)
	return base.Add(ilp)
}

// DiscountFactor computes the factor for one period under either form.
// Continuous is exp(-r*t), discrete is 1/(1+r)^t; the two agree to within
// rounding at the same rate and term.
func (s *Service) DiscountFactor(period int, rate decimal.Decimal, method DiscountMethod) decimal.Decimal {
	if method == DiscountDiscrete {
		one := decimal.NewFromInt(1)
		return one.Div(one.Add(rate).Pow(decimal.NewFromInt(int64(period))))
	}
	return decimal.NewFromFloat(math.Exp(-rate.InexactFloat64() * float64(period)))
}

func (s *Service) validateSchedule(schedule CashFlowSchedule) error {
	if len(schedule.Flows) == 0 {
		return types.NewValidationError("flows", "cash flow schedule must not be empty")
	}
	for _, cf := range schedule.Flows {
		if cf.Period < 1 {
			return types.NewValidationError("period", "periods are 1-indexed, got %d", cf.Period)
		}
	}
	if lr := schedule.LapseRate; lr != nil {
		if lr.LessThan(decimal.Zero) || lr.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return types.NewValidationError("lapse_rate", "must be within [0,1), got %s", lr)
		}
	}
	return nil
}

// CalculateBEL computes the best estimate liability: for each period the net
// outflow (claims + expenses + acquisition costs - premiums), weighted by
// the survival probability and discounted at the rate resolved from the
// macro context. The sum is signed; a negative BEL is a net asset.
func (s *Service) CalculateBEL(schedule CashFlowSchedule, mc macro.Context) (*BELResult, error) {
	if err := s.validateSchedule(schedule); err != nil {
		return nil, err
	}

	lapse := s.cfg.LapseBaseline
	if schedule.LapseRate != nil {
		lapse = *schedule.LapseRate
	}

	maxPeriod := 1
	for _, cf := range schedule.Flows {
		if cf.Period > maxPeriod {
			maxPeriod = cf.Period
		}
	}
	rate := s.ResolveDiscountRate(maxPeriod, mc)

	one := decimal.NewFromInt(1)
	total := decimal.Zero
	periods := make([]PeriodValue, 0, len(schedule.Flows))

	for _, cf := range schedule.Flows {
		netCF := cf.Claims.Add(cf.Expenses).Add(cf.AcquisitionCosts).Sub(cf.Premiums)
		survival := one.Sub(lapse).Pow(decimal.NewFromInt(int64(cf.Period - 1)))
		df := s.DiscountFactor(cf.Period, rate, DiscountContinuous)
		discounted := netCF.Mul(survival).Mul(df)
		total = total.Add(discounted)

		periods = append(periods, PeriodValue{
			Period:         cf.Period,
			NetCashFlow:    netCF,
			SurvivalFactor: survival,
			DiscountFactor: df,
			Discounted:     money.Round(discounted),
		})
	}

	return &BELResult{
		Amount:       money.Round(total),
		DiscountRate: rate,
		LapseRate:    lapse,
		Periods:      periods,
	}, nil
}

// simulateTotals draws the total-net-cash-flow distribution: per simulation,
// one normal draw per schedule period around the observed mean and standard
// deviation, summed. The generator is fresh and seeded per call, so every
// method sees the same distribution for the same inputs. Returned sorted
// ascending.
func (s *Service) simulateTotals(netCFs []decimal.Decimal) []float64 {
	sims := s.cfg.MonteCarlo.Simulations
	if sims > s.cfg.MonteCarlo.MaxSimulations {
		sims = s.cfg.MonteCarlo.MaxSimulations
	}

	values := make([]float64, len(netCFs))
	mean := 0.0
	for i, cf := range netCFs {
		values[i] = cf.InexactFloat64()
		mean += values[i]
	}
	mean /= float64(len(values))

	std := math.Abs(mean) * 0.1
	if len(values) > 1 {
		variance := 0.0
		for _, v := range values {
			variance += (v - mean) * (v - mean)
		}
		std = math.Sqrt(variance / float64(len(values)))
	}

	rng := rand.New(rand.NewSource(s.cfg.MonteCarlo.Seed))
	totals := make([]float64, sims)
	for i := range totals {
		sum := 0.0
		for range values {
			sum += mean + std*rng.NormFloat64()
		}
		totals[i] = sum
	}
	sort.Float64s(totals)
	return totals
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

// tailMean averages the simulated totals at and above the confidence
// quantile. TVaR and CTE share this selection, which is what makes the two
// formulations agree exactly.
func tailMean(sorted []float64, confidence float64) float64 {
	k := int(confidence * float64(len(sorted)))
	if k >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	tail := sorted[k:]
	sum := 0.0
	for _, v := range tail {
		sum += v
	}
	return sum / float64(len(tail))
}

func sampleMean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// CalculateRA computes the risk adjustment for a net-cash-flow series under
// the selected quantile method (VaR, TVaR or CTE). Cost-of-capital has its
// own entry point because it operates on a capital requirement, not on the
// simulated distribution.
func (s *Service) CalculateRA(netCFs []decimal.Decimal, method RAMethod) (*RAResult, error) {
	if len(netCFs) == 0 {
		return nil, types.NewValidationError("net_cash_flows", "must not be empty")
	}
	if method == RAMethodCoC {
		return nil, types.NewValidationError("ra_method", "cost of capital requires a capital requirement, use RACostOfCapital")
	}

	var confidence decimal.Decimal
	switch method {
	case RAMethodVaR:
		confidence = s.cfg.VaR.ConfidenceLevel
	case RAMethodTVaR:
		confidence = s.cfg.TVaR.ConfidenceLevel
	default:
		confidence = s.cfg.CTE.ConfidenceLevel
	}

	totals := s.simulateTotals(netCFs)
	mean := sampleMean(totals)
	conf := confidence.InexactFloat64()

	var quantile float64
	if method == RAMethodVaR {
		quantile = percentile(totals, conf)
	} else {
		quantile = tailMean(totals, conf)
	}

	ra := quantile - mean
	if ra < 0 {
		ra = 0
	}

	return &RAResult{
		Amount:          money.Round(decimal.NewFromFloat(ra)),
		Method:          method.String(),
		ConfidenceLevel: confidence,
		Simulations:     len(totals),
		Quantile:        money.Round(decimal.NewFromFloat(quantile)),
		ExpectedTotal:   money.Round(decimal.NewFromFloat(mean)),
	}, nil
}

// RACostOfCapital prices the risk adjustment as the cost-of-capital rate
// applied to the present value of the capital requirement, run down
// linearly to zero over the term.
func (s *Service) RACostOfCapital(capital decimal.Decimal, term int, mc macro.Context) (*RAResult, error) {
	if capital.LessThan(decimal.Zero) {
		return nil, types.NewValidationError("capital_requirement", "must be non-negative, got %s", capital)
	}
	if term < 1 {
		return nil, types.NewValidationError("term", "must be at least 1, got %d", term)
	}

	rate := s.ResolveDiscountRate(term, mc)
	one := decimal.NewFromInt(1)
	pv := decimal.Zero
	for t := 1; t <= term; t++ {
		rundown := one.Sub(decimal.NewFromInt(int64(t - 1)).Div(decimal.NewFromInt(int64(term))))
		df := s.DiscountFactor(t, rate, DiscountContinuous)
		pv = pv.Add(capital.Mul(rundown).Mul(df))
	}

	return &RAResult{
		Amount:          money.Round(s.cfg.CoC.CoCRate.Mul(pv)),
		Method:          RAMethodCoC.String(),
		ConfidenceLevel: decimal.RequireFromString("0.995"), // implied SCR calibration
		PVCapital:       money.Round(pv),
	}, nil
}

// diversificationTolerance absorbs the float64 square root noise so a
// mathematically zero benefit never reads as negative.
var diversificationTolerance = decimal.New(1, -6)

// DiversifyRA aggregates per-risk adjustments through the correlation
// matrix: sqrt(sum over pairs of corr * RA_i * RA_j). A negative
// diversification benefit means the correlation inputs are inconsistent and
// is surfaced as a computation error, never clamped away.
func (s *Service) DiversifyRA(components map[string]decimal.Decimal, correlations map[[2]string]decimal.Decimal) (*DiversifiedRA, error) {
	if len(components) == 0 {
		return nil, types.NewValidationError("ra_components", "must not be empty")
	}
	for name, ra := range components {
		if ra.LessThan(decimal.Zero) {
			return nil, types.NewValidationError("ra_components", "component %s is negative: %s", name, ra)
		}
	}
	if correlations == nil {
		correlations = s.cfg.Correlations
	}
	one := decimal.NewFromInt(1)
	for pair, corr := range correlations {
		if corr.LessThan(one.Neg()) || corr.GreaterThan(one) {
			return nil, types.NewValidationError("correlations", "corr(%s,%s)=%s outside [-1,1]", pair[0], pair[1], corr)
		}
	}

	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	total := decimal.Zero
	sum := decimal.Zero
	for _, ni := range names {
		sum = sum.Add(components[ni])
		for _, nj := range names {
			corr := one
			if ni != nj {
				key := [2]string{ni, nj}
				if ni > nj {
					key = [2]string{nj, ni}
				}
				var ok bool
				if corr, ok = correlations[key]; !ok {
					if corr, ok = correlations[[2]string{key[1], key[0]}]; !ok {
						corr = s.cfg.DefaultCorrelation
					}
				}
			}
			total = total.Add(corr.Mul(components[ni]).Mul(components[nj]))
		}
	}

	if total.LessThan(decimal.Zero) {
		return nil, types.NewComputationError("diversify_ra", "correlation matrix produced a negative aggregate: %s", total)
	}
	diversified := decimal.NewFromFloat(math.Sqrt(total.InexactFloat64()))
	benefit := sum.Sub(diversified)
	if benefit.LessThan(diversificationTolerance.Neg()) {
		return nil, types.NewComputationError("diversify_ra", "negative diversification benefit %s: correlation inputs are inconsistent", benefit)
	}
	benefit = money.Max(benefit, decimal.Zero)

	return &DiversifiedRA{
		Diversified:   money.Round(diversified),
		Undiversified: money.Round(sum),
		Benefit:       money.Round(benefit),
	}, nil
}

// InitialCSM recognizes the contractual service margin: premiums net of
// acquisition costs, BEL and RA. A negative margin makes the group onerous;
// the deficit becomes the loss component and the CSM is zero. The two are
// mutually exclusive terminal states.
func (s *Service) InitialCSM(premiums, acquisitionCosts, bel, ra decimal.Decimal) *CSMResult {
	csm := premiums.Sub(acquisitionCosts).Sub(bel).Sub(ra)
	result := &CSMResult{LossComponent: decimal.Zero}
	if csm.LessThan(decimal.Zero) {
		result.Onerous = true
		result.LossComponent = money.Round(csm.Abs())
		result.CSM = decimal.Zero
		return result
	}
	result.CSM = money.Round(csm)
	return result
}

// RollForwardGMM advances a general-model CSM over one period: opening plus
// new business, interest accretion at the locked-in rate and future-service
// changes, less the service release, plus currency effects. Floored at zero.
func (s *Service) RollForwardGMM(in GMMRollForward) decimal.Decimal {
	closing := in.Opening.
		Add(in.NewBusiness).
		Add(in.Opening.Mul(in.InterestRate)).
		Add(in.ChangesFutureService).
		Sub(in.Release).
		Add(in.CurrencyEffect)
	return money.Round(money.Max(closing, decimal.Zero))
}

// RollForwardVFA advances a variable-fee CSM: the entity share of
// fair-value changes in the underlying items and non-variable fulfilment
// cash-flow changes replace the interest and future-service terms.
func (s *Service) RollForwardVFA(in VFARollForward) decimal.Decimal {
	closing := in.Opening.
		Add(in.ChangeFVUnderlying).
		Add(in.ChangesFCFNonVariable).
		Sub(in.Release)
	return money.Round(money.Max(closing, decimal.Zero))
}

// CSMRelease computes the service release for a period as the share of
// current coverage units in the total remaining. Zero remaining units is a
// defined zero, not a division error.
func (s *Service) CSMRelease(csm, unitsCurrent, unitsRemaining decimal.Decimal) (decimal.Decimal, error) {
	if unitsCurrent.LessThan(decimal.Zero) || unitsRemaining.LessThan(decimal.Zero) {
		return decimal.Zero, types.NewValidationError("coverage_units", "must be non-negative")
	}
	if unitsRemaining.IsZero() {
		return decimal.Zero, nil
	}
	return money.Round(csm.Mul(unitsCurrent.Div(unitsRemaining))), nil
}

// CheckVFAEligibility applies the three direct-participation criteria. All
// must hold; otherwise the general model applies.
func (s *Service) CheckVFAEligibility(f VFAFeatures) (bool, []string) {
	var reasons []string
	if !f.SubstantialShareFV {
		reasons = append(reasons, "no substantial share of fair value returns on underlying items")
	}
	if !f.VariablePortion {
		reasons = append(reasons, "payouts do not substantially vary with underlying items")
	}
	if !f.InvestmentService {
		reasons = append(reasons, "no investment-related service")
	}
	return len(reasons) == 0, reasons
}

// MeasureLiability runs the full measurement for a contract group: BEL,
// risk adjustment under the selected method, CSM recognition, and the
// model-specific aggregation into a total liability.
func (s *Service) MeasureLiability(
	schedule CashFlowSchedule,
	acquisitionCosts decimal.Decimal,
	raMethod RAMethod,
	model MeasurementModel,
	mc macro.Context,
) (*Measurement, error) {
	logger := log.With().
		Str("service", "liability").
		Str("model", model.String()).
		Str("ra_method", raMethod.String()).
		Logger()

	if acquisitionCosts.LessThan(decimal.Zero) {
		return nil, types.NewValidationError("acquisition_costs", "must be non-negative, got %s", acquisitionCosts)
	}

	bel, err := s.CalculateBEL(schedule, mc)
	if err != nil {
		logger.Error().Err(err).Msg("schedule rejected")
		return nil, err
	}

	// The quantile methods work on the claims+expenses-premiums series;
	// acquisition costs carry no volatility.
	netCFs := make([]decimal.Decimal, 0, len(schedule.Flows))
	premiums := decimal.Zero
	for _, cf := range schedule.Flows {
		netCFs = append(netCFs, cf.Claims.Add(cf.Expenses).Sub(cf.Premiums))
		premiums = premiums.Add(cf.Premiums)
	}

	var ra *RAResult
	if raMethod == RAMethodCoC {
		capital := money.Max(bel.Amount, decimal.Zero).Mul(decimal.RequireFromString("0.1"))
		ra, err = s.RACostOfCapital(capital, len(schedule.Flows), mc)
	} else {
		ra, err = s.CalculateRA(netCFs, raMethod)
	}
	if err != nil {
		return nil, err
	}

	csm := s.InitialCSM(premiums, acquisitionCosts, bel.Amount, ra.Amount)
	fcf := money.Round(bel.Amount.Add(ra.Amount))

	result := &Measurement{
		Model:         model.String(),
		BEL:           bel.Amount,
		RA:            ra.Amount,
		RAMethod:      ra.Method,
		FCF:           fcf,
		CSM:           csm.CSM,
		Onerous:       csm.Onerous,
		LossComponent: csm.LossComponent,
	}

	switch model {
	case ModelPAA:
		// Short coverage expenses acquisition costs immediately; longer
		// coverage defers them as DAC.
		if len(schedule.Flows) <= 1 {
			result.DAC = decimal.Zero
			result.ExpensedAcqCost = acquisitionCosts
		} else {
			result.DAC = acquisitionCosts
			result.ExpensedAcqCost = decimal.Zero
		}
		result.LRC = money.Round(premiums.Sub(result.DAC).Sub(ra.Amount))
		result.TotalLiability = result.LRC
	default:
		total := fcf.Add(csm.CSM)
		if csm.Onerous {
			total = fcf.Add(csm.LossComponent)
		}
		result.TotalLiability = money.Round(total)
	}

	s.appendAudit("measure_liability", measureAuditInputs{
		Schedule:         schedule,
		AcquisitionCosts: acquisitionCosts,
		RAMethod:         raMethod,
		Model:            model,
		Macro:            mc,
	}, result)

	logger.Info().
		Str("bel", bel.Amount.String()).
		Str("ra", ra.Amount.String()).
		Str("csm", csm.CSM.String()).
		Bool("onerous", csm.Onerous).
		Str("total_liability", result.TotalLiability.String()).
		Msg("liability measured")

	return result, nil
}

// ApplyCompulsoryLoading scales a liability for compulsory motor lines by
// the regulatory loading multiplier. Other product types pass through.
func (s *Service) ApplyCompulsoryLoading(amount decimal.Decimal, productType string) decimal.Decimal {
	switch strings.ToLower(productType) {
	case "osago", "compulsory_motor":
		return money.Round(amount.Mul(s.cfg.CompulsoryLoading))
	default:
		return amount
	}
}

func (s *Service) appendAudit(operation string, input, result any) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Append(audit.NewRecord(operation, regulatoryReference, input, result)); err != nil {
		log.Warn().Err(err).Str("service", "liability").Str("operation", operation).Msg("audit append failed")
	}
}
