package guarantyfund

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/regcalc-api/internal/audit"
	"github.com/ksred/regcalc-api/internal/config"
	"github.com/ksred/regcalc-api/internal/types"
)

func newTestService() (*Service, *audit.MemorySink) {
	sink := audit.NewMemorySink()
	return NewService(&config.Default().GuarantyFund, sink), sink
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestDetermineRiskClass(t *testing.T) {
	svc, _ := newTestService()

	tests := []struct {
		name      string
		ratios    FinancialRatios
		wantClass string
		wantScore int
	}{
		{
			name: "strong financials across the board are low risk",
			ratios: FinancialRatios{
				SolvencyRatio:  decPtr("2.1"),
				LossRatio:      decPtr("0.50"),
				CombinedRatio:  decPtr("0.85"),
				YearsOperating: 12,
			},
			wantClass: RiskClassLow,
			wantScore: 8,
		},
		{
			name: "middling ratios are medium risk",
			ratios: FinancialRatios{
				SolvencyRatio:  decPtr("1.6"),
				LossRatio:      decPtr("0.70"),
				CombinedRatio:  decPtr("0.95"),
				YearsOperating: 5,
			},
			wantClass: RiskClassMedium,
			wantScore: 4,
		},
		{
			name: "weak financials are high risk",
			ratios: FinancialRatios{
				SolvencyRatio:  decPtr("0.8"),
				LossRatio:      decPtr("0.95"),
				CombinedRatio:  decPtr("1.20"),
				YearsOperating: 2,
			},
			wantClass: RiskClassHigh,
			wantScore: 0,
		},
		{
			name:      "unreported ratios score nothing",
			ratios:    FinancialRatios{YearsOperating: 15},
			wantClass: RiskClassHigh,
			wantScore: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, score := svc.DetermineRiskClass(tt.ratios)
			assert.Equal(t, tt.wantClass, class)
			assert.Equal(t, tt.wantScore, score)
		})
	}
}

func TestCalculateContribution(t *testing.T) {
	svc, _ := newTestService()
	premiums := dec("1000000000")

	t.Run("explicit class prices at its configured rate", func(t *testing.T) {
		for class, want := range map[string]string{
			RiskClassLow:    "5000000",
			RiskClassMedium: "10000000",
			RiskClassHigh:   "20000000",
		} {
			c, err := svc.CalculateContribution(Member{InsurerID: "INS-1", GrossPremiums: premiums, RiskClass: class})
			require.NoError(t, err)
			assert.True(t, c.Amount.Equal(dec(want)), "%s: got %s", class, c.Amount)
		}
	})

	t.Run("unknown class falls back to the medium rate", func(t *testing.T) {
		c, err := svc.CalculateContribution(Member{InsurerID: "INS-1", GrossPremiums: premiums, RiskClass: "exotic"})
		require.NoError(t, err)
		assert.True(t, c.Amount.Equal(dec("10000000")))
	})

	t.Run("no class and no ratios defaults to medium", func(t *testing.T) {
		c, err := svc.CalculateContribution(Member{InsurerID: "INS-1", GrossPremiums: premiums})
		require.NoError(t, err)
		assert.Equal(t, RiskClassMedium, c.RiskClass)
		assert.True(t, c.Amount.Equal(dec("10000000")))
	})

	t.Run("supplied ratios drive the class", func(t *testing.T) {
		c, err := svc.CalculateContribution(Member{
			InsurerID:     "INS-1",
			GrossPremiums: premiums,
			Ratios: &FinancialRatios{
				SolvencyRatio:  decPtr("2.5"),
				LossRatio:      decPtr("0.45"),
				CombinedRatio:  decPtr("0.80"),
				YearsOperating: 20,
			},
		})
		require.NoError(t, err)
		assert.Equal(t, RiskClassLow, c.RiskClass)
		assert.True(t, c.Amount.Equal(dec("5000000")))
	})

	t.Run("negative premiums are rejected", func(t *testing.T) {
		_, err := svc.CalculateContribution(Member{InsurerID: "INS-1", GrossPremiums: dec("-1")})
		assert.True(t, types.IsValidation(err))
	})
}

func TestSimulateBankruptcies(t *testing.T) {
	members := []Member{
		{InsurerID: "INS-1", Reserves: dec("1000"), GrossPremiums: dec("500")},
		{InsurerID: "INS-2", Reserves: dec("2000"), GrossPremiums: dec("900")},
	}

	t.Run("no default risk means no claims", func(t *testing.T) {
		svc, _ := newTestService()
		certain := make([]Member, len(members))
		copy(certain, members)
		for i := range certain {
			certain[i].PD = decPtr("0")
		}
		r, err := svc.SimulateBankruptcies(certain)
		require.NoError(t, err)

		assert.True(t, r.ExpectedClaims.IsZero())
		assert.True(t, r.VaR95.IsZero())
		assert.True(t, r.VaR99.IsZero())
		assert.True(t, r.ShortfallProbability.IsZero())
		assert.True(t, r.AssumedFund.Equal(dec("300")), "got %s", r.AssumedFund)
		assert.True(t, r.FundAdequacy.Equal(dec("10")))
	})

	t.Run("certain default claims all reserves net of recovery", func(t *testing.T) {
		svc, _ := newTestService()
		certain := make([]Member, len(members))
		copy(certain, members)
		for i := range certain {
			certain[i].PD = decPtr("1")
		}
		r, err := svc.SimulateBankruptcies(certain)
		require.NoError(t, err)

		// 3000 reserves, 30% recovery: every simulation loses exactly 2100.
		assert.True(t, r.ExpectedClaims.Equal(dec("2100")), "got %s", r.ExpectedClaims)
		assert.True(t, r.VaR95.Equal(dec("2100")))
		assert.True(t, r.VaR99.Equal(dec("2100")))
		assert.True(t, r.ShortfallProbability.Equal(dec("1")))
		assert.True(t, r.FundAdequacy.Equal(dec("0.143")), "got %s", r.FundAdequacy)
	})

	t.Run("identical inputs reproduce identical results", func(t *testing.T) {
		svc, _ := newTestService()
		first, err := svc.SimulateBankruptcies(members)
		require.NoError(t, err)
		second, err := svc.SimulateBankruptcies(members)
		require.NoError(t, err)
		assert.True(t, first.ExpectedClaims.Equal(second.ExpectedClaims))
		assert.True(t, first.VaR99.Equal(second.VaR99))
	})

	t.Run("tail dominates the mean under default parameters", func(t *testing.T) {
		svc, _ := newTestService()
		r, err := svc.SimulateBankruptcies(members)
		require.NoError(t, err)
		assert.Equal(t, 1000, r.Simulations)
		assert.True(t, r.VaR99.GreaterThanOrEqual(r.VaR95))
		assert.True(t, r.VaR95.GreaterThanOrEqual(r.ExpectedClaims))
		assert.True(t, r.ExpectedClaims.GreaterThanOrEqual(decimal.Zero))
		assert.True(t, r.VaR99.LessThanOrEqual(dec("2100")))
	})

	t.Run("empty member list is rejected", func(t *testing.T) {
		svc, _ := newTestService()
		_, err := svc.SimulateBankruptcies(nil)
		assert.True(t, types.IsValidation(err))
	})

	t.Run("out-of-range bankruptcy probability is rejected", func(t *testing.T) {
		svc, _ := newTestService()
		_, err := svc.SimulateBankruptcies([]Member{{InsurerID: "INS-1", Reserves: dec("1000"), PD: decPtr("1.5")}})
		assert.True(t, types.IsValidation(err))
	})

	t.Run("negative reserves are rejected", func(t *testing.T) {
		svc, _ := newTestService()
		_, err := svc.SimulateBankruptcies([]Member{{InsurerID: "INS-1", Reserves: dec("-1")}})
		assert.True(t, types.IsValidation(err))
	})
}

func TestAssessAdequacy(t *testing.T) {
	svc, _ := newTestService()

	t.Run("fund at the required cover is adequate with no slack", func(t *testing.T) {
		r, err := svc.AssessAdequacy(dec("1200"), dec("1000"), dec("300"))
		require.NoError(t, err)
		assert.True(t, r.CurrentRatio.Equal(dec("1.2")))
		assert.True(t, r.ProjectedRatio.Equal(dec("1.5")))
		assert.True(t, r.Adequate)
		assert.True(t, r.Shortfall.IsZero())
		assert.True(t, r.Surplus.IsZero())
	})

	t.Run("underfunded reports the shortfall to required cover", func(t *testing.T) {
		r, err := svc.AssessAdequacy(dec("1000"), dec("1000"), decimal.Zero)
		require.NoError(t, err)
		assert.False(t, r.Adequate)
		assert.True(t, r.Shortfall.Equal(dec("200")), "got %s", r.Shortfall)
		assert.True(t, r.Surplus.IsZero())
	})

	t.Run("overfunded reports the surplus", func(t *testing.T) {
		r, err := svc.AssessAdequacy(dec("2000"), dec("1000"), decimal.Zero)
		require.NoError(t, err)
		assert.True(t, r.Adequate)
		assert.True(t, r.Surplus.Equal(dec("800")))
	})

	t.Run("no expected claims is adequate at any fund level", func(t *testing.T) {
		r, err := svc.AssessAdequacy(dec("50"), decimal.Zero, decimal.Zero)
		require.NoError(t, err)
		assert.True(t, r.Adequate)
		assert.True(t, r.CurrentRatio.Equal(dec("100")))
	})

	t.Run("negative fund is rejected", func(t *testing.T) {
		_, err := svc.AssessAdequacy(dec("-1"), dec("1000"), decimal.Zero)
		assert.True(t, types.IsValidation(err))
	})
}

func TestFullAssessment(t *testing.T) {
	members := []Member{
		{InsurerID: "INS-1", GrossPremiums: dec("1000000"), Reserves: dec("5000000"), RiskClass: RiskClassLow},
		{InsurerID: "INS-2", GrossPremiums: dec("2000000"), Reserves: dec("8000000"), RiskClass: RiskClassMedium},
		{InsurerID: "INS-3", GrossPremiums: dec("500000"), Reserves: dec("2000000"), RiskClass: RiskClassHigh},
	}

	t.Run("aggregates contributions, simulation and adequacy", func(t *testing.T) {
		svc, _ := newTestService()
		r, err := svc.FullAssessment(members, decimal.Zero)
		require.NoError(t, err)

		require.Len(t, r.Contributions, 3)
		// 0.5% of 1M + 1% of 2M + 2% of 0.5M
		assert.True(t, r.TotalContributions.Equal(dec("35000")), "got %s", r.TotalContributions)
		assert.True(t, r.Simulation.AssumedFund.Equal(dec("1500000")))
		assert.NotNil(t, r.Adequacy)
		assert.True(t, r.Adequacy.Fund.Equal(r.Simulation.AssumedFund))
		assert.Contains(t, r.PayoutLimits, "compulsory")
	})

	t.Run("identical inputs produce identical audit digests", func(t *testing.T) {
		svc, sink := newTestService()
		_, err := svc.FullAssessment(members, dec("100000"))
		require.NoError(t, err)
		_, err = svc.FullAssessment(members, dec("100000"))
		require.NoError(t, err)

		records := sink.Records()
		require.Len(t, records, 2)
		assert.Equal(t, "assess_guaranty_fund", records[0].Operation)
		assert.Equal(t, records[0].InputDigest, records[1].InputDigest)
		assert.Equal(t, records[0].ResultDigest, records[1].ResultDigest)
	})

	t.Run("negative pipeline is rejected", func(t *testing.T) {
		svc, _ := newTestService()
		_, err := svc.FullAssessment(members, dec("-1"))
		assert.True(t, types.IsValidation(err))
	})
}

func TestEarlyWarning(t *testing.T) {
	svc, _ := newTestService()

	tests := []struct {
		name       string
		in         WarningInputs
		wantScore  int
		wantLevel  string
		wantAction string
	}{
		{
			name: "insolvent with heavy losses is critical",
			in: WarningInputs{
				InsurerID:     "INS-1",
				SolvencyRatio: dec("0.9"),
				LossRatio:     dec("0.95"),
				CombinedRatio: dec("0.98"),
			},
			wantScore:  9,
			wantLevel:  "critical",
			wantAction: "immediate supervisory intervention",
		},
		{
			name: "thin solvency with underwriting loss is high",
			in: WarningInputs{
				InsurerID:     "INS-2",
				SolvencyRatio: dec("1.1"),
				LossRatio:     dec("0.70"),
				CombinedRatio: dec("1.05"),
			},
			wantScore:  5,
			wantLevel:  "high",
			wantAction: "enhanced monitoring",
		},
		{
			name: "thinning buffer with shrinking book is elevated",
			in: WarningInputs{
				InsurerID:     "INS-3",
				SolvencyRatio: dec("1.4"),
				LossRatio:     dec("0.60"),
				CombinedRatio: dec("0.95"),
				PremiumGrowth: dec("-0.25"),
			},
			wantScore:  3,
			wantLevel:  "elevated",
			wantAction: "regular monitoring",
		},
		{
			name: "healthy insurer is normal",
			in: WarningInputs{
				InsurerID:     "INS-4",
				SolvencyRatio: dec("2.0"),
				LossRatio:     dec("0.55"),
				CombinedRatio: dec("0.90"),
				PremiumGrowth: dec("0.10"),
			},
			wantScore:  0,
			wantLevel:  "normal",
			wantAction: "no action required",
		},
		{
			name: "runaway growth alone is a single point",
			in: WarningInputs{
				InsurerID:     "INS-5",
				SolvencyRatio: dec("2.0"),
				LossRatio:     dec("0.55"),
				CombinedRatio: dec("0.90"),
				PremiumGrowth: dec("0.60"),
			},
			wantScore:  1,
			wantLevel:  "normal",
			wantAction: "no action required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := svc.EarlyWarning(tt.in)
			assert.Equal(t, tt.wantScore, r.Score)
			assert.Equal(t, tt.wantLevel, r.Level)
			assert.Equal(t, tt.wantAction, r.Action)
		})
	}
}
