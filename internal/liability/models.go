package liability

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ksred/regcalc-api/internal/macro"
)

// RAMethod selects the risk-adjustment technique. The set is closed; the
// engine matches it exhaustively.
type RAMethod int

const (
	RAMethodVaR RAMethod = iota
	RAMethodTVaR
	RAMethodCoC
	RAMethodCTE
)

func (m RAMethod) String() string {
	switch m {
	case RAMethodTVaR:
		return "tvar"
	case RAMethodCoC:
		return "coc"
	case RAMethodCTE:
		return "cte"
	default:
		return "var"
	}
}

// ParseRAMethod resolves the method name used on the wire. The empty string
// means VaR.
func ParseRAMethod(name string) (RAMethod, error) {
	switch name {
	case "", "var":
		return RAMethodVaR, nil
	case "tvar":
		return RAMethodTVaR, nil
	case "coc":
		return RAMethodCoC, nil
	case "cte":
		return RAMethodCTE, nil
	default:
		return RAMethodVaR, fmt.Errorf("liability: unknown risk adjustment method %q", name)
	}
}

// MeasurementModel selects how a contract group's liability is measured.
type MeasurementModel int

const (
	ModelGMM MeasurementModel = iota
	ModelVFA
	ModelPAA
)

func (m MeasurementModel) String() string {
	switch m {
	case ModelVFA:
		return "vfa"
	case ModelPAA:
		return "paa"
	default:
		return "gmm"
	}
}

// ParseMeasurementModel resolves the model name used on the wire. The empty
// string means the general model.
func ParseMeasurementModel(name string) (MeasurementModel, error) {
	switch name {
	case "", "gmm":
		return ModelGMM, nil
	case "vfa":
		return ModelVFA, nil
	case "paa":
		return ModelPAA, nil
	default:
		return ModelGMM, fmt.Errorf("liability: unknown measurement model %q", name)
	}
}

// DiscountMethod selects the discount-factor form. Both forms must agree to
// within rounding at the same rate and term.
type DiscountMethod int

const (
	DiscountContinuous DiscountMethod = iota // exp(-r*t)
	DiscountDiscrete                         // 1/(1+r)^t
)

// CashFlow is one period of a contract group's expected cash flows.
// Periods are 1-indexed.
type CashFlow struct {
	Period           int             `json:"period"`
	Premiums         decimal.Decimal `json:"premiums"`
	Claims           decimal.Decimal `json:"claims"`
	Expenses         decimal.Decimal `json:"expenses"`
	AcquisitionCosts decimal.Decimal `json:"acquisition_costs"`
}

// CashFlowSchedule is the immutable input to the BEL computation. A nil
// lapse rate means the configured baseline.
type CashFlowSchedule struct {
	Flows     []CashFlow       `json:"flows"`
	LapseRate *decimal.Decimal `json:"lapse_rate,omitempty"`
}

// PeriodValue is one period's contribution to the BEL.
type PeriodValue struct {
	Period         int             `json:"period"`
	NetCashFlow    decimal.Decimal `json:"net_cash_flow"`
	SurvivalFactor decimal.Decimal `json:"survival_factor"`
	DiscountFactor decimal.Decimal `json:"discount_factor"`
	Discounted     decimal.Decimal `json:"discounted"`
}

// BELResult is the best estimate liability: the signed present value of net
// outflows. Negative values represent a net asset.
type BELResult struct {
	Amount       decimal.Decimal `json:"amount"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	LapseRate    decimal.Decimal `json:"lapse_rate"`
	Periods      []PeriodValue   `json:"periods"`
}

// RAResult is a risk adjustment, tagged with the method that produced it.
type RAResult struct {
	Amount          decimal.Decimal `json:"amount"`
	Method          string          `json:"method"`
	ConfidenceLevel decimal.Decimal `json:"confidence_level"`
	Simulations     int             `json:"simulations,omitempty"`
	Quantile        decimal.Decimal `json:"quantile,omitempty"`
	ExpectedTotal   decimal.Decimal `json:"expected_total,omitempty"`
	PVCapital       decimal.Decimal `json:"pv_capital,omitempty"`
}

// DiversifiedRA reports the correlation-aggregated risk adjustment across
// risk components and the resulting diversification benefit.
type DiversifiedRA struct {
	Diversified   decimal.Decimal `json:"diversified"`
	Undiversified decimal.Decimal `json:"undiversified"`
	Benefit       decimal.Decimal `json:"benefit"`
}

// CSMResult is the contractual service margin at initial recognition.
// Exactly one of CSM and LossComponent can be positive.
type CSMResult struct {
	CSM           decimal.Decimal `json:"csm"`
	Onerous       bool            `json:"onerous"`
	LossComponent decimal.Decimal `json:"loss_component"`
}

// GMMRollForward carries the period movements of a general-model CSM.
type GMMRollForward struct {
	Opening              decimal.Decimal `json:"opening"`
	NewBusiness          decimal.Decimal `json:"new_business"`
	InterestRate         decimal.Decimal `json:"interest_rate"` // locked-in accretion rate
	ChangesFutureService decimal.Decimal `json:"changes_future_service"`
	Release              decimal.Decimal `json:"release"`
	CurrencyEffect       decimal.Decimal `json:"currency_effect"`
}

// VFARollForward carries the period movements of a variable-fee CSM: the
// entity share of fair-value changes replaces interest accretion.
type VFARollForward struct {
	Opening               decimal.Decimal `json:"opening"`
	ChangeFVUnderlying    decimal.Decimal `json:"change_fv_underlying"`
	ChangesFCFNonVariable decimal.Decimal `json:"changes_fcf_non_variable"`
	Release               decimal.Decimal `json:"release"`
}

// VFAFeatures are the three direct-participation criteria. All must hold
// for the variable-fee path.
type VFAFeatures struct {
	SubstantialShareFV bool `json:"substantial_share_fv"`
	VariablePortion    bool `json:"variable_portion"`
	InvestmentService  bool `json:"investment_service"`
}

// Measurement aggregates BEL, RA and CSM (or the loss component) into the
// total contract-group liability under the selected model. PAA fills the
// LRC/DAC fields instead of the CSM machinery.
type Measurement struct {
	Model           string          `json:"measurement_model"`
	BEL             decimal.Decimal `json:"bel"`
	RA              decimal.Decimal `json:"ra"`
	RAMethod        string          `json:"ra_method"`
	FCF             decimal.Decimal `json:"fcf"`
	CSM             decimal.Decimal `json:"csm"`
	Onerous         bool            `json:"onerous"`
	LossComponent   decimal.Decimal `json:"loss_component"`
	LRC             decimal.Decimal `json:"lrc,omitempty"`
	DAC             decimal.Decimal `json:"dac,omitempty"`
	ExpensedAcqCost decimal.Decimal `json:"expensed_acquisition_costs,omitempty"`
	TotalLiability  decimal.Decimal `json:"total_liability"`
}

// measureAuditInputs is the canonical digest payload for a measurement run.
type measureAuditInputs struct {
	Schedule         CashFlowSchedule `json:"schedule"`
	AcquisitionCosts decimal.Decimal  `json:"acquisition_costs"`
	RAMethod         RAMethod         `json:"ra_method"`
	Model            MeasurementModel `json:"measurement_model"`
	Macro            macro.Context    `json:"macro"`
}
