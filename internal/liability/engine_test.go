package liability

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/regcalc-api/internal/audit"
	"github.com/ksred/regcalc-api/internal/config"
	"github.com/ksred/regcalc-api/internal/macro"
	"github.com/ksred/regcalc-api/internal/types"
)

func newTestService() (*Service, *audit.MemorySink) {
	sink := audit.NewMemorySink()
	return NewService(&config.Default().Liability, sink), sink
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// annuitySchedule mirrors a ten-year single-premium annuity: premium up
// front, claims growing two million a year.
func annuitySchedule() CashFlowSchedule {
	flows := make([]CashFlow, 0, 10)
	for year := 1; year <= 10; year++ {
		cf := CashFlow{
			Period:   year,
			Claims:   dec("80000000").Add(decimal.NewFromInt(int64(year) * 2000000)),
			Expenses: dec("5000000"),
		}
		if year == 1 {
			cf.Premiums = dec("100000000")
			cf.AcquisitionCosts = dec("10000000")
		}
		flows = append(flows, cf)
	}
	return CashFlowSchedule{Flows: flows}
}

func TestResolveDiscountRate(t *testing.T) {
	svc, _ := newTestService()
	mc := macro.Default()

	tests := []struct {
		term int
		want string
	}{
		{1, "0.184"}, // 18% + 0.50%*0.80
		{3, "0.184"},
		{4, "0.18375"}, // 18% + 0.50%*0.75
		{5, "0.1835"},  // 18% + 0.50%*0.70
		{10, "0.1835"},
		{0, "0.184"}, // floors at one year
	}
	for _, tt := range tests {
		got := svc.ResolveDiscountRate(tt.term, mc)
		assert.True(t, got.Equal(dec(tt.want)), "term %d: got %s want %s", tt.term, got, tt.want)
	}

	// The risk-free base comes from the macro context, not configuration.
	eased := macro.Default()
	eased.BaseRate = dec("10")
	got := svc.ResolveDiscountRate(3, eased)
	assert.True(t, got.Equal(dec("0.104")), "got %s", got)
}

func TestDiscountFactorFormsAgree(t *testing.T) {
	svc, _ := newTestService()

	// At small rates the discrete and continuous forms converge; verify
	// they agree within rounding there and stay ordered everywhere.
	rate := dec("0.01")
	for period := 1; period <= 5; period++ {
		discrete := svc.DiscountFactor(period, rate, DiscountDiscrete)
		continuous := svc.DiscountFactor(period, rate, DiscountContinuous)
		diff := discrete.Sub(continuous).Abs()
		assert.True(t, diff.LessThan(dec("0.001")), "period %d: diff %s", period, diff)
	}

	rate = dec("0.184")
	for period := 1; period <= 10; period++ {
		discrete := svc.DiscountFactor(period, rate, DiscountDiscrete)
		continuous := svc.DiscountFactor(period, rate, DiscountContinuous)
		assert.True(t, continuous.LessThanOrEqual(discrete), "period %d", period)
		assert.True(t, continuous.GreaterThan(decimal.Zero))
	}
}

func TestCalculateBEL(t *testing.T) {
	svc, _ := newTestService()
	mc := macro.Default()

	t.Run("net outflows discount to a positive liability", func(t *testing.T) {
		bel, err := svc.CalculateBEL(annuitySchedule(), mc)
		require.NoError(t, err)
		assert.True(t, bel.Amount.GreaterThan(decimal.Zero), "got %s", bel.Amount)
		assert.Len(t, bel.Periods, 10)
		assert.True(t, bel.DiscountRate.Equal(dec("0.1835")))
		assert.True(t, bel.LapseRate.Equal(dec("0.05")))
	})

	t.Run("premium-heavy schedule yields a net asset", func(t *testing.T) {
		schedule := CashFlowSchedule{Flows: []CashFlow{
			{Period: 1, Premiums: dec("1000000"), Claims: dec("100000")},
			{Period: 2, Claims: dec("100000")},
		}}
		bel, err := svc.CalculateBEL(schedule, mc)
		require.NoError(t, err)
		assert.True(t, bel.Amount.LessThan(decimal.Zero), "got %s", bel.Amount)
	})

	t.Run("lower macro base rate grows the liability", func(t *testing.T) {
		eased := macro.Default()
		eased.BaseRate = dec("10")
		baseline, err := svc.CalculateBEL(annuitySchedule(), mc)
		require.NoError(t, err)
		easedBEL, err := svc.CalculateBEL(annuitySchedule(), eased)
		require.NoError(t, err)
		assert.True(t, easedBEL.DiscountRate.LessThan(baseline.DiscountRate))
		assert.True(t, easedBEL.Amount.GreaterThan(baseline.Amount), "eased %s baseline %s", easedBEL.Amount, baseline.Amount)
	})

	t.Run("explicit lapse rate overrides the baseline", func(t *testing.T) {
		zero := decimal.Zero
		schedule := annuitySchedule()
		schedule.LapseRate = &zero
		withZero, err := svc.CalculateBEL(schedule, mc)
		require.NoError(t, err)
		withBaseline, err := svc.CalculateBEL(annuitySchedule(), mc)
		require.NoError(t, err)
		// No lapses means more surviving outflows, hence a larger liability.
		assert.True(t, withZero.Amount.GreaterThan(withBaseline.Amount))
	})

	t.Run("empty schedule is rejected", func(t *testing.T) {
		_, err := svc.CalculateBEL(CashFlowSchedule{}, mc)
		assert.True(t, types.IsValidation(err))
	})

	t.Run("zero-indexed periods are rejected", func(t *testing.T) {
		_, err := svc.CalculateBEL(CashFlowSchedule{Flows: []CashFlow{{Period: 0}}}, mc)
		assert.True(t, types.IsValidation(err))
	})

	t.Run("lapse rate of one is rejected", func(t *testing.T) {
		one := decimal.NewFromInt(1)
		_, err := svc.CalculateBEL(CashFlowSchedule{Flows: []CashFlow{{Period: 1}}, LapseRate: &one}, mc)
		assert.True(t, types.IsValidation(err))
	})
}

func TestCalculateRA(t *testing.T) {
	svc, _ := newTestService()
	netCFs := []decimal.Decimal{dec("77000000"), dec("89000000"), dec("91000000"), dec("93000000"), dec("95000000")}

	t.Run("VaR risk adjustment is non-negative", func(t *testing.T) {
		ra, err := svc.CalculateRA(netCFs, RAMethodVaR)
		require.NoError(t, err)
		assert.True(t, ra.Amount.GreaterThanOrEqual(decimal.Zero))
		assert.Equal(t, "var", ra.Method)
		assert.Equal(t, 1000, ra.Simulations)
	})

	t.Run("identical inputs reproduce identical adjustments", func(t *testing.T) {
		first, err := svc.CalculateRA(netCFs, RAMethodVaR)
		require.NoError(t, err)
		second, err := svc.CalculateRA(netCFs, RAMethodVaR)
		require.NoError(t, err)
		assert.True(t, first.Amount.Equal(second.Amount))
	})

	t.Run("TVaR and CTE agree exactly at the same confidence", func(t *testing.T) {
		tvar, err := svc.CalculateRA(netCFs, RAMethodTVaR)
		require.NoError(t, err)
		cte, err := svc.CalculateRA(netCFs, RAMethodCTE)
		require.NoError(t, err)
		assert.True(t, tvar.Amount.Equal(cte.Amount), "tvar %s cte %s", tvar.Amount, cte.Amount)
	})

	t.Run("tail expectation dominates the quantile", func(t *testing.T) {
		v, err := svc.CalculateRA(netCFs, RAMethodVaR)
		require.NoError(t, err)
		// TVaR at 90% vs VaR at 95%: compare against TVaR at its own level.
		tv, err := svc.CalculateRA(netCFs, RAMethodTVaR)
		require.NoError(t, err)
		assert.True(t, tv.Amount.GreaterThan(decimal.Zero))
		assert.True(t, v.Amount.GreaterThan(decimal.Zero))
	})

	t.Run("empty series is rejected", func(t *testing.T) {
		_, err := svc.CalculateRA(nil, RAMethodVaR)
		assert.True(t, types.IsValidation(err))
	})

	t.Run("cost of capital is not a quantile method", func(t *testing.T) {
		_, err := svc.CalculateRA(netCFs, RAMethodCoC)
		assert.True(t, types.IsValidation(err))
	})
}

func TestRACostOfCapital(t *testing.T) {
	svc, _ := newTestService()
	mc := macro.Default()

	t.Run("prices the linear capital run-down", func(t *testing.T) {
		ra, err := svc.RACostOfCapital(dec("500000000"), 10, mc)
		require.NoError(t, err)
		assert.Equal(t, "coc", ra.Method)
		assert.True(t, ra.Amount.GreaterThan(decimal.Zero))
		// Undiscounted run-down totals 5.5x the initial capital; discounting
		// can only shrink it.
		assert.True(t, ra.PVCapital.LessThan(dec("2750000000")))
	})

	t.Run("zero capital means zero adjustment", func(t *testing.T) {
		ra, err := svc.RACostOfCapital(decimal.Zero, 5, mc)
		require.NoError(t, err)
		assert.True(t, ra.Amount.IsZero())
	})

	t.Run("negative capital is rejected", func(t *testing.T) {
		_, err := svc.RACostOfCapital(dec("-1"), 5, mc)
		assert.True(t, types.IsValidation(err))
	})

	t.Run("zero term is rejected", func(t *testing.T) {
		_, err := svc.RACostOfCapital(dec("100"), 0, mc)
		assert.True(t, types.IsValidation(err))
	})
}

func TestDiversifyRA(t *testing.T) {
	svc, _ := newTestService()

	t.Run("single component has no diversification", func(t *testing.T) {
		r, err := svc.DiversifyRA(map[string]decimal.Decimal{"mortality": dec("100")}, nil)
		require.NoError(t, err)
		assert.True(t, r.Diversified.Equal(dec("100")), "got %s", r.Diversified)
		assert.True(t, r.Benefit.IsZero())
	})

	t.Run("perfect correlation removes the benefit", func(t *testing.T) {
		r, err := svc.DiversifyRA(
			map[string]decimal.Decimal{"a": dec("300"), "b": dec("400")},
			map[[2]string]decimal.Decimal{{"a", "b"}: dec("1")},
		)
		require.NoError(t, err)
		assert.True(t, r.Diversified.Equal(dec("700")), "got %s", r.Diversified)
		assert.True(t, r.Benefit.IsZero(), "got %s", r.Benefit)
	})

	t.Run("zero correlation gives the Pythagorean aggregate", func(t *testing.T) {
		r, err := svc.DiversifyRA(
			map[string]decimal.Decimal{"a": dec("300"), "b": dec("400")},
			map[[2]string]decimal.Decimal{{"a", "b"}: decimal.Zero},
		)
		require.NoError(t, err)
		assert.True(t, r.Diversified.Equal(dec("500")), "got %s", r.Diversified)
		assert.True(t, r.Benefit.Equal(dec("200")), "got %s", r.Benefit)
	})

	t.Run("benefit is never negative for a valid matrix", func(t *testing.T) {
		r, err := svc.DiversifyRA(
			map[string]decimal.Decimal{"lapse": dec("120"), "mortality": dec("80"), "expense": dec("40")},
			nil, // configured defaults
		)
		require.NoError(t, err)
		assert.True(t, r.Benefit.GreaterThanOrEqual(decimal.Zero))
		assert.True(t, r.Diversified.LessThanOrEqual(r.Undiversified))
	})

	t.Run("correlation outside unit range is rejected", func(t *testing.T) {
		_, err := svc.DiversifyRA(
			map[string]decimal.Decimal{"a": dec("100"), "b": dec("100")},
			map[[2]string]decimal.Decimal{{"a", "b"}: dec("1.5")},
		)
		assert.True(t, types.IsValidation(err))
	})

	t.Run("negative component is rejected", func(t *testing.T) {
		_, err := svc.DiversifyRA(map[string]decimal.Decimal{"a": dec("-1")}, nil)
		assert.True(t, types.IsValidation(err))
	})

	t.Run("empty components are rejected", func(t *testing.T) {
		_, err := svc.DiversifyRA(nil, nil)
		assert.True(t, types.IsValidation(err))
	})
}

func TestInitialCSM(t *testing.T) {
	svc, _ := newTestService()

	t.Run("profitable group opens a positive margin", func(t *testing.T) {
		r := svc.InitialCSM(dec("100"), dec("10"), dec("60"), dec("5"))
		assert.True(t, r.CSM.Equal(dec("25")), "got %s", r.CSM)
		assert.False(t, r.Onerous)
		assert.True(t, r.LossComponent.IsZero())
	})

	t.Run("onerous group books a loss component instead", func(t *testing.T) {
		r := svc.InitialCSM(dec("50"), dec("10"), dec("60"), dec("5"))
		assert.True(t, r.CSM.IsZero())
		assert.True(t, r.Onerous)
		assert.True(t, r.LossComponent.Equal(dec("25")), "got %s", r.LossComponent)
	})

	t.Run("break-even group has both at zero", func(t *testing.T) {
		r := svc.InitialCSM(dec("75"), dec("10"), dec("60"), dec("5"))
		assert.True(t, r.CSM.IsZero())
		assert.True(t, r.LossComponent.IsZero())
		assert.False(t, r.Onerous)
	})
}

func TestRollForwardGMM(t *testing.T) {
	svc, _ := newTestService()

	t.Run("full movement", func(t *testing.T) {
		closing := svc.RollForwardGMM(GMMRollForward{
			Opening:              dec("1000"),
			NewBusiness:          dec("100"),
			InterestRate:         dec("0.05"),
			ChangesFutureService: dec("50"),
			Release:              dec("200"),
			CurrencyEffect:       dec("-10"),
		})
		// 1000 + 100 + 50 + 50 - 200 - 10
		assert.True(t, closing.Equal(dec("990")), "got %s", closing)
	})

	t.Run("floored at zero", func(t *testing.T) {
		closing := svc.RollForwardGMM(GMMRollForward{Opening: dec("100"), Release: dec("500")})
		assert.True(t, closing.IsZero())
	})
}

func TestRollForwardVFA(t *testing.T) {
	svc, _ := newTestService()

	closing := svc.RollForwardVFA(VFARollForward{
		Opening:               dec("1000"),
		ChangeFVUnderlying:    dec("80"),
		ChangesFCFNonVariable: dec("-30"),
		Release:               dec("150"),
	})
	assert.True(t, closing.Equal(dec("900")), "got %s", closing)

	closing = svc.RollForwardVFA(VFARollForward{Opening: dec("100"), ChangeFVUnderlying: dec("-500")})
	assert.True(t, closing.IsZero())
}

func TestCSMRelease(t *testing.T) {
	svc, _ := newTestService()

	t.Run("releases the coverage-unit share", func(t *testing.T) {
		release, err := svc.CSMRelease(dec("1000"), dec("10"), dec("100"))
		require.NoError(t, err)
		assert.True(t, release.Equal(dec("100")), "got %s", release)
	})

	t.Run("zero remaining units release nothing", func(t *testing.T) {
		release, err := svc.CSMRelease(dec("1000"), dec("10"), decimal.Zero)
		require.NoError(t, err)
		assert.True(t, release.IsZero())
	})

	t.Run("negative units are rejected", func(t *testing.T) {
		_, err := svc.CSMRelease(dec("1000"), dec("-1"), dec("100"))
		assert.True(t, types.IsValidation(err))
	})
}

func TestCheckVFAEligibility(t *testing.T) {
	svc, _ := newTestService()

	eligible, reasons := svc.CheckVFAEligibility(VFAFeatures{
		SubstantialShareFV: true,
		VariablePortion:    true,
		InvestmentService:  true,
	})
	assert.True(t, eligible)
	assert.Empty(t, reasons)

	eligible, reasons = svc.CheckVFAEligibility(VFAFeatures{
		SubstantialShareFV: true,
		VariablePortion:    true,
	})
	assert.False(t, eligible)
	assert.Len(t, reasons, 1)

	eligible, reasons = svc.CheckVFAEligibility(VFAFeatures{})
	assert.False(t, eligible)
	assert.Len(t, reasons, 3)
}

func TestMeasureLiability(t *testing.T) {
	mc := macro.Default()

	t.Run("annuity under cost of capital is onerous", func(t *testing.T) {
		svc, _ := newTestService()
		m, err := svc.MeasureLiability(annuitySchedule(), dec("10000000"), RAMethodCoC, ModelGMM, mc)
		require.NoError(t, err)

		assert.Equal(t, "gmm", m.Model)
		assert.True(t, m.BEL.GreaterThan(decimal.Zero))
		assert.True(t, m.RA.GreaterThanOrEqual(decimal.Zero))
		assert.True(t, m.FCF.Equal(m.BEL.Add(m.RA)))

		// Claims far exceed the single premium, so the group carries a loss
		// component and no margin.
		assert.True(t, m.Onerous)
		assert.True(t, m.CSM.IsZero())
		assert.True(t, m.LossComponent.GreaterThan(decimal.Zero))
		assert.True(t, m.TotalLiability.Equal(m.FCF.Add(m.LossComponent)))
	})

	t.Run("margin and loss component are mutually exclusive", func(t *testing.T) {
		svc, _ := newTestService()
		for _, method := range []RAMethod{RAMethodVaR, RAMethodTVaR, RAMethodCoC, RAMethodCTE} {
			m, err := svc.MeasureLiability(annuitySchedule(), dec("10000000"), method, ModelGMM, mc)
			require.NoError(t, err)
			positiveCSM := m.CSM.GreaterThan(decimal.Zero)
			positiveLoss := m.LossComponent.GreaterThan(decimal.Zero)
			assert.False(t, positiveCSM && positiveLoss, "method %s", method)
		}
	})

	t.Run("short-coverage PAA expenses acquisition costs immediately", func(t *testing.T) {
		svc, _ := newTestService()
		schedule := CashFlowSchedule{Flows: []CashFlow{{
			Period: 1, Premiums: dec("100000"), Claims: dec("60000"),
		}}}
		m, err := svc.MeasureLiability(schedule, dec("10000"), RAMethodVaR, ModelPAA, mc)
		require.NoError(t, err)

		assert.Equal(t, "paa", m.Model)
		assert.True(t, m.DAC.IsZero())
		assert.True(t, m.ExpensedAcqCost.Equal(dec("10000")))
		assert.True(t, m.LRC.Equal(dec("100000").Sub(m.RA)), "lrc %s ra %s", m.LRC, m.RA)
		assert.True(t, m.TotalLiability.Equal(m.LRC))
	})

	t.Run("longer PAA coverage defers acquisition costs as DAC", func(t *testing.T) {
		svc, _ := newTestService()
		schedule := CashFlowSchedule{Flows: []CashFlow{
			{Period: 1, Premiums: dec("100000"), Claims: dec("30000")},
			{Period: 2, Claims: dec("30000")},
		}}
		m, err := svc.MeasureLiability(schedule, dec("10000"), RAMethodVaR, ModelPAA, mc)
		require.NoError(t, err)

		assert.True(t, m.DAC.Equal(dec("10000")))
		assert.True(t, m.ExpensedAcqCost.IsZero())
		assert.True(t, m.LRC.Equal(dec("90000").Sub(m.RA)))
	})

	t.Run("negative acquisition costs are rejected", func(t *testing.T) {
		svc, _ := newTestService()
		_, err := svc.MeasureLiability(annuitySchedule(), dec("-1"), RAMethodVaR, ModelGMM, mc)
		assert.True(t, types.IsValidation(err))
	})

	t.Run("macro base rate flows into the measurement", func(t *testing.T) {
		svc, _ := newTestService()
		eased := macro.Default()
		eased.BaseRate = dec("10")
		baseline, err := svc.MeasureLiability(annuitySchedule(), dec("10000000"), RAMethodCoC, ModelGMM, mc)
		require.NoError(t, err)
		repriced, err := svc.MeasureLiability(annuitySchedule(), dec("10000000"), RAMethodCoC, ModelGMM, eased)
		require.NoError(t, err)
		// Less discounting at the lower base rate means a larger BEL.
		assert.True(t, repriced.BEL.GreaterThan(baseline.BEL), "repriced %s baseline %s", repriced.BEL, baseline.BEL)
		assert.False(t, repriced.TotalLiability.Equal(baseline.TotalLiability))
	})

	t.Run("identical inputs produce identical audit digests", func(t *testing.T) {
		svc, sink := newTestService()
		_, err := svc.MeasureLiability(annuitySchedule(), dec("10000000"), RAMethodVaR, ModelGMM, mc)
		require.NoError(t, err)
		_, err = svc.MeasureLiability(annuitySchedule(), dec("10000000"), RAMethodVaR, ModelGMM, mc)
		require.NoError(t, err)

		records := sink.Records()
		require.Len(t, records, 2)
		assert.Equal(t, records[0].InputDigest, records[1].InputDigest)
		assert.Equal(t, records[0].ResultDigest, records[1].ResultDigest)
	})
}

func TestApplyCompulsoryLoading(t *testing.T) {
	svc, _ := newTestService()

	loaded := svc.ApplyCompulsoryLoading(dec("1000"), "OSAGO")
	assert.True(t, loaded.Equal(dec("1500")), "got %s", loaded)

	unchanged := svc.ApplyCompulsoryLoading(dec("1000"), "property")
	assert.True(t, unchanged.Equal(dec("1000")))
}

func TestParseRAMethod(t *testing.T) {
	for name, want := range map[string]RAMethod{
		"":     RAMethodVaR,
		"var":  RAMethodVaR,
		"tvar": RAMethodTVaR,
		"coc":  RAMethodCoC,
		"cte":  RAMethodCTE,
	} {
		got, err := ParseRAMethod(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseRAMethod("percentile")
	assert.Error(t, err)
}
