package solvency

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
	return NewService(&config.Default().Solvency, sink), sink
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestGuaranteeFundMinimum(t *testing.T) {
	svc, _ := newTestService()
	mc := macro.Default() // MRP 3932

	tests := []struct {
		insurerType string
		want        string
	}{
		{"life_non_life", "1966000000"},
		{"reinsurance", "13762000000"},
		{"unknown", "1966000000"}, // falls back to the life/non-life floor
	}
	for _, tt := range tests {
		got := svc.GuaranteeFundMinimum(tt.insurerType, mc)
		assert.True(t, got.Equal(dec(tt.want)), "%s: got %s", tt.insurerType, got)
	}
}

func TestMarginByPremiums(t *testing.T) {
	svc, _ := newTestService()
	k := dec("0.70")

	t.Run("below the threshold the first-tier rate applies", func(t *testing.T) {
		// 2B * 18% * 0.70
		got, err := svc.MarginByPremiums(dec("2000000000"), k)
		require.NoError(t, err)
		assert.True(t, got.Equal(dec("252000000")), "got %s", got)
	})

	t.Run("above the threshold the excess earns the second-tier rate", func(t *testing.T) {
		// 3.5B*18% + 31.5B*16% = 5.67B, * 0.70
		got, err := svc.MarginByPremiums(dec("35000000000"), k)
		require.NoError(t, err)
		assert.True(t, got.Equal(dec("3969000000")), "got %s", got)
	})

	t.Run("exactly at the threshold both brackets agree", func(t *testing.T) {
		got, err := svc.MarginByPremiums(dec("3500000000"), k)
		require.NoError(t, err)
		assert.True(t, got.Equal(dec("441000000")), "got %s", got) // 3.5B*18%*0.70
	})

	t.Run("negative premiums are rejected", func(t *testing.T) {
		_, err := svc.MarginByPremiums(dec("-1"), k)
		assert.True(t, types.IsValidation(err))
	})
}

func TestMarginByClaims(t *testing.T) {
	svc, _ := newTestService()
	k := dec("0.70")

	// 2.5B*26% + 15.5B*23% = 4.215B, * 0.70
	got, err := svc.MarginByClaims(dec("18000000000"), k)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("2950500000")), "got %s", got)
}

func TestLifeAddon(t *testing.T) {
	svc, _ := newTestService()
	// 8% * 10B + 3% * 5B
	got := svc.LifeAddon(dec("10000000000"), dec("5000000000"))
	assert.True(t, got.Equal(dec("950000000")), "got %s", got)
}

func TestMinimumMargin(t *testing.T) {
	svc, _ := newTestService()
	mc := macro.Default()

	t.Run("premium base dominates for a premium-heavy book", func(t *testing.T) {
		r, err := svc.MinimumMargin(MMPInputs{
			GrossPremiums:  dec("35000000000"),
			IncurredClaims: dec("18000000000"),
		}, mc)
		require.NoError(t, err)
		assert.True(t, r.ByPremiums.Equal(dec("3969000000")))
		assert.True(t, r.ByClaims.Equal(dec("2950500000")))
		assert.True(t, r.Amount.Equal(dec("3969000000")), "got %s", r.Amount)
		assert.True(t, r.KCoefficient.Equal(dec("0.70")))
		assert.False(t, r.FlooredByGuarantee)
	})

	t.Run("compulsory motor adds half the base margin", func(t *testing.T) {
		r, err := svc.MinimumMargin(MMPInputs{
			GrossPremiums:  dec("35000000000"),
			IncurredClaims: dec("18000000000"),
			HasCompulsory:  true,
		}, mc)
		require.NoError(t, err)
		assert.True(t, r.CompulsoryAddon.Equal(dec("1984500000")), "got %s", r.CompulsoryAddon)
		assert.True(t, r.Amount.Equal(dec("5953500000")), "got %s", r.Amount)
	})

	t.Run("life reserves add the linear addon", func(t *testing.T) {
		r, err := svc.MinimumMargin(MMPInputs{
			GrossPremiums:   dec("35000000000"),
			IncurredClaims:  dec("18000000000"),
			AnnuityReserves: dec("10000000000"),
			MathReserves:    dec("5000000000"),
		}, mc)
		require.NoError(t, err)
		assert.True(t, r.LifeAddon.Equal(dec("950000000")))
		assert.True(t, r.Amount.Equal(dec("4919000000")), "got %s", r.Amount)
	})

	t.Run("tiny book is floored by the guarantee fund", func(t *testing.T) {
		r, err := svc.MinimumMargin(MMPInputs{GrossPremiums: dec("1000000")}, mc)
		require.NoError(t, err)
		assert.True(t, r.FlooredByGuarantee)
		assert.True(t, r.Amount.Equal(dec("1966000000")), "got %s", r.Amount)
	})

	t.Run("explicit K within bounds is honored", func(t *testing.T) {
		k := dec("0.85")
		r, err := svc.MinimumMargin(MMPInputs{GrossPremiums: dec("35000000000"), KCoefficient: &k}, mc)
		require.NoError(t, err)
		assert.True(t, r.KCoefficient.Equal(k))
	})

	t.Run("K outside the regulatory band is rejected", func(t *testing.T) {
		for _, raw := range []string{"0.4", "0.9"} {
			k := dec(raw)
			_, err := svc.MinimumMargin(MMPInputs{GrossPremiums: dec("1000000"), KCoefficient: &k}, mc)
			assert.True(t, types.IsValidation(err), "k=%s", raw)
		}
	})
}

func TestOwnFunds(t *testing.T) {
	svc, _ := newTestService()

	t.Run("IFRS adjustments flow through the base", func(t *testing.T) {
		r, err := svc.OwnFunds(FMPInputs{
			EquityCapital:    dec("20000000000"),
			ECLAdjustment:    dec("2100000000"),
			CSMAdjustment:    dec("11800000000"),
			SubordinatedDebt: dec("3000000000"),
			IlliquidAssets:   dec("500000000"),
		})
		require.NoError(t, err)
		assert.True(t, r.Base.Equal(dec("29200000000")), "got %s", r.Base)
		assert.True(t, r.SubordinatedIncluded.Equal(dec("3000000000")))
		assert.True(t, r.SubordinatedExcess.IsZero())
		assert.True(t, r.Amount.Equal(dec("32200000000")), "got %s", r.Amount)
	})

	t.Run("subordinated debt above the cap is excluded not rejected", func(t *testing.T) {
		r, err := svc.OwnFunds(FMPInputs{
			EquityCapital:    dec("10000"),
			SubordinatedDebt: dec("8000"),
		})
		require.NoError(t, err)
		assert.True(t, r.SubordinatedCap.Equal(dec("5000")))
		assert.True(t, r.SubordinatedIncluded.Equal(dec("5000")))
		assert.True(t, r.SubordinatedExcess.Equal(dec("3000")))
		assert.True(t, r.Amount.Equal(dec("15000")), "got %s", r.Amount)
	})

	t.Run("repo penalty comes off the top", func(t *testing.T) {
		r, err := svc.OwnFunds(FMPInputs{EquityCapital: dec("10000"), RepoPenalty: dec("400")})
		require.NoError(t, err)
		assert.True(t, r.Amount.Equal(dec("9600")))
	})

	t.Run("negative deductions are rejected", func(t *testing.T) {
		_, err := svc.OwnFunds(FMPInputs{EquityCapital: dec("10000"), ECLAdjustment: dec("-1")})
		assert.True(t, types.IsValidation(err))
	})
}

func TestAssessSolvency(t *testing.T) {
	mc := macro.Default()
	mmpIn := MMPInputs{GrossPremiums: dec("35000000000"), IncurredClaims: dec("18000000000")}
	fmpIn := FMPInputs{
		EquityCapital: dec("20000000000"),
		ECLAdjustment: dec("2100000000"),
		CSMAdjustment: dec("11800000000"),
	}

	t.Run("well-capitalized insurer is compliant", func(t *testing.T) {
		svc, _ := newTestService()
		p, err := svc.AssessSolvency(mmpIn, fmpIn, mc)
		require.NoError(t, err)
		// FMP 29.7B / MMP 3.969B
		assert.True(t, p.FMP.Amount.Equal(dec("29700000000")))
		assert.True(t, p.MMP.Amount.Equal(dec("3969000000")))
		assert.True(t, p.Compliant)
		assert.True(t, p.Ratio.GreaterThan(dec("1")))
		assert.Equal(t, "excellent", p.Status)
	})

	t.Run("eroded own funds flip the compliance flag", func(t *testing.T) {
		svc, _ := newTestService()
		weak := fmpIn
		weak.EquityCapital = dec("5000000000")
		weak.CSMAdjustment = decimal.Zero
		p, err := svc.AssessSolvency(mmpIn, weak, mc)
		require.NoError(t, err)
		assert.False(t, p.Compliant)
		assert.Equal(t, "undercapitalized", p.Status)
	})

	t.Run("identical inputs yield bit-identical output and digests", func(t *testing.T) {
		svc, sink := newTestService()
		first, err := svc.AssessSolvency(mmpIn, fmpIn, mc)
		require.NoError(t, err)
		second, err := svc.AssessSolvency(mmpIn, fmpIn, mc)
		require.NoError(t, err)

		assert.True(t, first.Ratio.Equal(second.Ratio))
		records := sink.Records()
		require.Len(t, records, 2)
		assert.Equal(t, records[0].InputDigest, records[1].InputDigest)
		assert.Equal(t, records[0].ResultDigest, records[1].ResultDigest)
	})
}

func TestStressTest(t *testing.T) {
	svc, _ := newTestService()

	t.Run("default scenario grid", func(t *testing.T) {
		r, err := svc.StressTest(dec("1500"), dec("1000"), nil)
		require.NoError(t, err)

		assert.True(t, r.BaseRatio.Equal(dec("1.5")))
		require.Len(t, r.Scenarios, 3)

		adverse := r.Scenarios[1]
		assert.Equal(t, "adverse", adverse.Name)
		assert.True(t, adverse.FMP.Equal(dec("1200")))
		assert.True(t, adverse.MMP.Equal(dec("1100")))
		assert.True(t, adverse.Ratio.Equal(dec("1.091")), "got %s", adverse.Ratio)
		assert.True(t, adverse.Compliant)

		severe := r.Scenarios[2]
		assert.True(t, severe.Ratio.Equal(dec("0.75")), "got %s", severe.Ratio)
		assert.False(t, severe.Compliant)

		assert.Equal(t, 1000, r.Simulations)
		assert.True(t, r.TailRatio.GreaterThan(decimal.Zero))
		// The 1-in-200 tail sits below the central ratio.
		assert.True(t, r.TailRatio.LessThan(r.BaseRatio))
	})

	t.Run("tail quantile is reproducible", func(t *testing.T) {
		first, err := svc.StressTest(dec("1500"), dec("1000"), nil)
		require.NoError(t, err)
		second, err := svc.StressTest(dec("1500"), dec("1000"), nil)
		require.NoError(t, err)
		assert.True(t, first.TailRatio.Equal(second.TailRatio))
	})

	t.Run("non-positive margin is rejected", func(t *testing.T) {
		_, err := svc.StressTest(dec("1500"), decimal.Zero, nil)
		assert.True(t, types.IsValidation(err))
	})
}

func TestSCRModules(t *testing.T) {
	svc, _ := newTestService()

	t.Run("underwriting aggregates independent risks", func(t *testing.T) {
		got := svc.SCRUnderwriting(SCRUnderwritingInputs{
			PremiumRisk: dec("300"),
			ReserveRisk: dec("400"),
		})
		assert.True(t, got.Equal(dec("500")), "got %s", got)
	})

	t.Run("market applies the standard shocks before aggregation", func(t *testing.T) {
		got := svc.SCRMarket(SCRMarketInputs{
			EquityExposure:      dec("100"),
			PropertyExposure:    dec("100"),
			InterestSensitivity: dec("100"),
			SpreadExposure:      dec("100"),
		})
		// sqrt(39^2 + 25^2 + 20^2 + 10^2)
		assert.True(t, got.Equal(dec("51.439")), "got %s", got)
	})

	t.Run("operational charge is capped by the basic SCR", func(t *testing.T) {
		got := svc.SCROperational(dec("1000"), dec("20000"), dec("10000"))
		// max(600, 300) capped at 30% of 1000
		assert.True(t, got.Equal(dec("300")), "got %s", got)
	})

	t.Run("operational charge below the cap passes through", func(t *testing.T) {
		got := svc.SCROperational(dec("100000"), dec("20000"), dec("10000"))
		assert.True(t, got.Equal(dec("600")), "got %s", got)
	})

	t.Run("full aggregation", func(t *testing.T) {
		r := svc.CalculateSCR(
			SCRMarketInputs{EquityExposure: dec("1000")},
			SCRUnderwritingInputs{PremiumRisk: dec("300"), ReserveRisk: dec("400")},
			decimal.Zero, dec("20000"), dec("10000"),
		)
		assert.True(t, r.Market.Equal(dec("390")))
		assert.True(t, r.Underwriting.Equal(dec("500")))
		assert.True(t, r.BasicSCR.GreaterThan(r.Market))
		assert.True(t, r.Total.Equal(r.BasicSCR.Add(r.Operational)))
	})
}

func TestCheckHighLiquidRatio(t *testing.T) {
	svc, _ := newTestService()

	r, err := svc.CheckHighLiquidRatio(dec("1200"), dec("1000"))
	require.NoError(t, err)
	assert.True(t, r.Compliant)
	assert.True(t, r.Ratio.Equal(dec("1.2")))

	r, err = svc.CheckHighLiquidRatio(dec("800"), dec("1000"))
	require.NoError(t, err)
	assert.False(t, r.Compliant)

	_, err = svc.CheckHighLiquidRatio(dec("800"), decimal.Zero)
	assert.True(t, types.IsValidation(err))
}

func TestCheckMinimumCharterCapital(t *testing.T) {
	svc, _ := newTestService()

	t.Run("class addons raise the minimum", func(t *testing.T) {
		r := svc.CheckMinimumCharterCapital(dec("150000000"), "general_insurance", []string{"annuity", "auto"})
		assert.True(t, r.BaseMinimum.Equal(dec("130000000")))
		assert.True(t, r.AdditionalRequired.Equal(dec("25000000")))
		assert.True(t, r.TotalMinimum.Equal(dec("155000000")))
		assert.False(t, r.Compliant)
		assert.True(t, r.Shortfall.Equal(dec("5000000")), "got %s", r.Shortfall)
	})

	t.Run("sufficient capital has no shortfall", func(t *testing.T) {
		r := svc.CheckMinimumCharterCapital(dec("200000000"), "life_insurance", nil)
		assert.True(t, r.Compliant)
		assert.True(t, r.Shortfall.IsZero())
	})
}

func TestIFRSImpactAnalysis(t *testing.T) {
	svc, _ := newTestService()

	r, err := svc.IFRSImpactAnalysis(dec("10000"), dec("8000"), dec("1000"), dec("3000"), dec("2000"))
	require.NoError(t, err)
	assert.True(t, r.PreRatio.Equal(dec("1.25")))
	assert.True(t, r.PostFMP.Equal(dec("12000")))
	assert.True(t, r.PostMMP.Equal(dec("6000")))
	assert.True(t, r.PostRatio.Equal(dec("2")))
	assert.True(t, r.RatioChangePP.Equal(dec("75")), "got %s", r.RatioChangePP)

	_, err = svc.IFRSImpactAnalysis(dec("10000"), decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero)
	assert.True(t, types.IsValidation(err))
}
