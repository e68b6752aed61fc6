// Package guarantyfund implements the policyholder guaranty fund review:
// risk-rated member contributions, a correlated-default simulation of member
// bankruptcies, the fund-adequacy test and per-insurer early-warning scoring.
package guarantyfund

import (
	"math"
	"math/rand"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/regcalc-api/internal/audit"
	"github.com/ksred/regcalc-api/internal/config"
	"github.com/ksred/regcalc-api/internal/money"
	"github.com/ksred/regcalc-api/internal/types"
)

const regulatoryReference = "Law on the Insurance Payments Guarantee Fund"

// Risk classes for contribution rating.
const (
	RiskClassLow    = "low_risk"
	RiskClassMedium = "medium_risk"
	RiskClassHigh   = "high_risk"
)

// Service runs the guaranty fund calculations. Bankruptcy draws come from an
// engine-local generator seeded from configuration, so identical inputs
// reproduce identical results.
type Service struct {
	cfg  *config.GuarantyFundConfig
	sink audit.Sink
}

// NewService creates a guaranty fund engine over a validated configuration.
func NewService(cfg *config.GuarantyFundConfig, sink audit.Sink) *Service {
	return &Service{cfg: cfg, sink: sink}
}

// DetermineRiskClass scores an insurer's supervisory ratios into a
// contribution risk class. Higher scores mean stronger financials: solvency
// contributes up to three points, loss and combined ratios up to two each,
// and a decade of operating history one more.
func (s *Service) DetermineRiskClass(r FinancialRatios) (string, int) {
	score := 0

	if sr := r.SolvencyRatio; sr != nil {
		switch {
		case sr.GreaterThanOrEqual(decimal.NewFromInt(2)):
			score += 3
		case sr.GreaterThanOrEqual(decimal.RequireFromString("1.5")):
			score += 2
		case sr.GreaterThanOrEqual(decimal.NewFromInt(1)):
			score++
		}
	}
	if lr := r.LossRatio; lr != nil {
		switch {
		case lr.LessThan(decimal.RequireFromString("0.60")):
			score += 2
		case lr.LessThan(decimal.RequireFromString("0.75")):
			score++
		}
	}
	if cr := r.CombinedRatio; cr != nil {
		switch {
		case cr.LessThan(decimal.RequireFromString("0.90")):
			score += 2
		case cr.LessThan(decimal.NewFromInt(1)):
			score++
		}
	}
	if r.YearsOperating >= 10 {
		score++
	}

	switch {
	case score >= 7:
		return RiskClassLow, score
	case score >= 4:
		return RiskClassMedium, score
	default:
		return RiskClassHigh, score
	}
}

// CalculateContribution prices one member's annual levy: the risk-class rate
// applied to gross premiums. An explicit risk class overrides the ratio
// scoring; a member with neither defaults to medium risk.
func (s *Service) CalculateContribution(m Member) (*Contribution, error) {
	if m.GrossPremiums.LessThan(decimal.Zero) {
		return nil, types.NewValidationError("gross_premiums", "must be non-negative, got %s", m.GrossPremiums)
	}

	class := m.RiskClass
	score := 0
	if class == "" {
		if m.Ratios != nil {
			class, score = s.DetermineRiskClass(*m.Ratios)
		} else {
			class = RiskClassMedium
		}
	}

	rate, ok := s.cfg.ContributionRates[class]
	if !ok {
		rate = s.cfg.ContributionRates[RiskClassMedium]
	}

	return &Contribution{
		InsurerID: m.InsurerID,
		RiskClass: class,
		RiskScore: score,
		Rate:      rate,
		Amount:    money.Round(m.GrossPremiums.Mul(rate)),
	}, nil
}

func (s *Service) validateMembers(members []Member) error {
	if len(members) == 0 {
		return types.NewValidationError("members", "must not be empty")
	}
	one := decimal.NewFromInt(1)
	for _, m := range members {
		if m.Reserves.LessThan(decimal.Zero) {
			return types.NewValidationError("reserves", "member %s: must be non-negative, got %s", m.InsurerID, m.Reserves)
		}
		if m.GrossPremiums.LessThan(decimal.Zero) {
			return types.NewValidationError("gross_premiums", "member %s: must be non-negative, got %s", m.InsurerID, m.GrossPremiums)
		}
		if pd := m.PD; pd != nil && (pd.LessThan(decimal.Zero) || pd.GreaterThan(one)) {
			return types.NewValidationError("bankruptcy_pd", "member %s: must be within [0,1], got %s", m.InsurerID, pd)
		}
		if rec := m.Recovery; rec != nil && (rec.LessThan(decimal.Zero) || rec.GreaterThan(one)) {
			return types.NewValidationError("recovery_rate", "member %s: must be within [0,1], got %s", m.InsurerID, rec)
		}
	}
	return nil
}

// SimulateBankruptcies runs the correlated-default Monte Carlo over the
// member population. Defaults follow a one-factor Gaussian copula with the
// configured pairwise correlation: per simulation one systemic draw is
// shared across members, each member defaults when its copula uniform falls
// below its bankruptcy probability, and the claim on the fund is the
// member's reserves net of recovery. The fund is assumed to hold the
// configured share of total member reserves.
func (s *Service) SimulateBankruptcies(members []Member) (*SimulationResult, error) {
	if err := s.validateMembers(members); err != nil {
		return nil, err
	}

	sims := s.cfg.MonteCarlo.Simulations
	if sims > s.cfg.MonteCarlo.MaxSimulations {
		sims = s.cfg.MonteCarlo.MaxSimulations
	}

	rho := s.cfg.DefaultCorrelation.InexactFloat64()
	sqrtRho := math.Sqrt(rho)
	sqrtComplement := math.Sqrt(1 - rho)

	type memberParams struct {
		pd   float64
		loss float64
	}
	params := make([]memberParams, len(members))
	totalReserves := decimal.Zero
	one := decimal.NewFromInt(1)
	for i, m := range members {
		pd := s.cfg.DefaultPD
		if m.PD != nil {
			pd = *m.PD
		}
		recovery := s.cfg.DefaultRecovery
		if m.Recovery != nil {
			recovery = *m.Recovery
		}
		params[i] = memberParams{
			pd:   pd.InexactFloat64(),
			loss: m.Reserves.Mul(one.Sub(recovery)).InexactFloat64(),
		}
		totalReserves = totalReserves.Add(m.Reserves)
	}

	fund := totalReserves.Mul(s.cfg.FundReserveShare)
	fundF := fund.InexactFloat64()

	rng := rand.New(rand.NewSource(s.cfg.MonteCarlo.Seed))
	losses := make([]float64, sims)
	shortfalls := 0
	for i := range losses {
		systemic := rng.NormFloat64()
		loss := 0.0
		for _, p := range params {
			z := sqrtRho*systemic + sqrtComplement*rng.NormFloat64()
			u := 0.5 * math.Erfc(-z/math.Sqrt2)
			if u < p.pd {
				loss += p.loss
			}
		}
		losses[i] = loss
		if loss > fundF {
			shortfalls++
		}
	}
	sort.Float64s(losses)

	sum := 0.0
	for _, l := range losses {
		sum += l
	}
	expected := sum / float64(sims)

	// No expected claims reads as ample cover.
	adequacy := decimal.NewFromInt(10)
	if expected > 0 {
		adequacy = money.Round(fund.Div(decimal.NewFromFloat(expected)))
	}

	return &SimulationResult{
		Simulations:          sims,
		Correlation:          s.cfg.DefaultCorrelation,
		TotalReserves:        money.Round(totalReserves),
		AssumedFund:          money.Round(fund),
		ExpectedClaims:       money.Round(decimal.NewFromFloat(expected)),
		VaR95:                money.Round(decimal.NewFromFloat(percentile(losses, 0.95))),
		VaR99:                money.Round(decimal.NewFromFloat(percentile(losses, 0.99))),
		ShortfallProbability: money.Round(decimal.NewFromInt(int64(shortfalls)).Div(decimal.NewFromInt(int64(sims)))),
		FundAdequacy:         adequacy,
	}, nil
}

// AssessAdequacy tests the fund against the required cover of expected
// claims, both as it stands and projected with pipeline contributions.
func (s *Service) AssessAdequacy(fund, expectedClaims, pipeline decimal.Decimal) (*AdequacyResult, error) {
	if fund.LessThan(decimal.Zero) {
		return nil, types.NewValidationError("fund", "must be non-negative, got %s", fund)
	}
	if expectedClaims.LessThan(decimal.Zero) {
		return nil, types.NewValidationError("expected_claims", "must be non-negative, got %s", expectedClaims)
	}

	required := expectedClaims.Mul(s.cfg.AdequacyRatio)

	// No expected claims reads as full cover at any fund level.
	current := decimal.NewFromInt(100)
	projected := current
	if expectedClaims.GreaterThan(decimal.Zero) {
		current = money.Round(fund.Div(expectedClaims))
		projected = money.Round(fund.Add(pipeline).Div(expectedClaims))
	}

	return &AdequacyResult{
		Fund:           money.Round(fund),
		ExpectedClaims: money.Round(expectedClaims),
		RequiredRatio:  s.cfg.AdequacyRatio,
		CurrentRatio:   current,
		ProjectedRatio: projected,
		Adequate:       current.GreaterThanOrEqual(s.cfg.AdequacyRatio),
		Shortfall:      money.Round(money.Max(required.Sub(fund), decimal.Zero)),
		Surplus:        money.Round(money.Max(fund.Sub(required), decimal.Zero)),
	}, nil
}

// FullAssessment runs the complete fund review: per-member contributions,
// the bankruptcy simulation and the adequacy test of the assumed fund
// against simulated expected claims.
func (s *Service) FullAssessment(members []Member, pipeline decimal.Decimal) (*Assessment, error) {
	logger := log.With().
		Str("service", "guarantyfund").
		Int("members", len(members)).
		Logger()

	if pipeline.LessThan(decimal.Zero) {
		return nil, types.NewValidationError("pipeline_contributions", "must be non-negative, got %s", pipeline)
	}

	sim, err := s.SimulateBankruptcies(members)
	if err != nil {
		logger.Error().Err(err).Msg("member population rejected")
		return nil, err
	}

	contributions := make([]Contribution, 0, len(members))
	total := decimal.Zero
	for _, m := range members {
		c, err := s.CalculateContribution(m)
		if err != nil {
			return nil, err
		}
		contributions = append(contributions, *c)
		total = total.Add(c.Amount)
	}

	adequacy, err := s.AssessAdequacy(sim.AssumedFund, sim.ExpectedClaims, pipeline.Add(total))
	if err != nil {
		return nil, err
	}

	result := &Assessment{
		Contributions:      contributions,
		TotalContributions: money.Round(total),
		PayoutLimits:       s.cfg.PayoutLimits,
		Simulation:         sim,
		Adequacy:           adequacy,
	}

	s.appendAudit("assess_guaranty_fund", assessAuditInputs{
		Members:  members,
		Pipeline: pipeline,
		Config: assessConfig{
			Correlation:      s.cfg.DefaultCorrelation,
			DefaultPD:        s.cfg.DefaultPD,
			DefaultRecovery:  s.cfg.DefaultRecovery,
			FundReserveShare: s.cfg.FundReserveShare,
			AdequacyRatio:    s.cfg.AdequacyRatio,
			MonteCarlo:       s.cfg.MonteCarlo,
		},
	}, result)

	logger.Info().
		Str("total_contributions", result.TotalContributions.String()).
		Str("expected_claims", sim.ExpectedClaims.String()).
		Bool("adequate", adequacy.Adequate).
		Msg("guaranty fund assessed")

	return result, nil
}

// EarlyWarning scores one insurer's indicators against the supervisory
// intervention bands. Weak solvency weighs heaviest; abnormal premium growth
// in either direction adds to the score.
func (s *Service) EarlyWarning(in WarningInputs) *WarningResult {
	score := 0
	var signals []string

	switch {
	case in.SolvencyRatio.LessThan(decimal.NewFromInt(1)):
		score += 5
		signals = append(signals, "solvency ratio below regulatory minimum")
	case in.SolvencyRatio.LessThan(decimal.RequireFromString("1.2")):
		score += 3
		signals = append(signals, "solvency ratio near regulatory minimum")
	case in.SolvencyRatio.LessThan(decimal.RequireFromString("1.5")):
		score++
		signals = append(signals, "solvency buffer thinning")
	}

	switch {
	case in.LossRatio.GreaterThan(decimal.RequireFromString("0.90")):
		score += 4
		signals = append(signals, "loss ratio above 90%")
	case in.LossRatio.GreaterThan(decimal.RequireFromString("0.80")):
		score += 2
		signals = append(signals, "loss ratio above 80%")
	}

	switch {
	case in.CombinedRatio.GreaterThan(decimal.RequireFromString("1.10")):
		score += 4
		signals = append(signals, "underwriting loss beyond 10% of premiums")
	case in.CombinedRatio.GreaterThan(decimal.NewFromInt(1)):
		score += 2
		signals = append(signals, "combined ratio above break-even")
	}

	switch {
	case in.PremiumGrowth.GreaterThan(decimal.RequireFromString("0.50")):
		score++
		signals = append(signals, "premium growth above 50%")
	case in.PremiumGrowth.LessThan(decimal.RequireFromString("-0.20")):
		score += 2
		signals = append(signals, "premium contraction beyond 20%")
	}

	result := &WarningResult{InsurerID: in.InsurerID, Score: score, Signals: signals}
	switch {
	case score >= 8:
		result.Level = "critical"
		result.Action = "immediate supervisory intervention"
	case score >= 5:
		result.Level = "high"
		result.Action = "enhanced monitoring"
	case score >= 2:
		result.Level = "elevated"
		result.Action = "regular monitoring"
	default:
		result.Level = "normal"
		result.Action = "no action required"
	}
	return result
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

func (s *Service) appendAudit(operation string, input, result any) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Append(audit.NewRecord(operation, regulatoryReference, input, result)); err != nil {
		log.Warn().Err(err).Str("service", "guarantyfund").Str("operation", operation).Msg("audit append failed")
	}
}
