package solvency

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ksred/regcalc-api/internal/macro"
	"github.com/ksred/regcalc-api/internal/types"
	"github.com/ksred/regcalc-api/pkg/response"
)

// AssessRequest is the body of a capital-adequacy assessment.
type AssessRequest struct {
	MMP   MMPInputs      `json:"mmp_inputs"`
	FMP   FMPInputs      `json:"fmp_inputs"`
	Macro *macro.Context `json:"macro,omitempty"`
}

// StressRequest reprices the solvency ratio under shocked balances.
type StressRequest struct {
	FMP       decimal.Decimal  `json:"fmp"`
	MMP       decimal.Decimal  `json:"mmp"`
	Scenarios []StressScenario `json:"scenarios,omitempty"`
}

// SCRRequest carries the standard-formula exposures.
type SCRRequest struct {
	Market              SCRMarketInputs       `json:"market"`
	Underwriting        SCRUnderwritingInputs `json:"underwriting"`
	Counterparty        decimal.Decimal       `json:"counterparty"`
	GrossPremiums       decimal.Decimal       `json:"gross_premiums"`
	TechnicalProvisions decimal.Decimal       `json:"technical_provisions"`
}

// GinHandlers contains HTTP handlers for solvency endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for solvency endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// AssessSolvencyHandler handles POST requests for the full assessment
func (h *GinHandlers) AssessSolvencyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AssessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}

		mc := macro.Default()
		if req.Macro != nil {
			if err := req.Macro.Validate(); err != nil {
				response.Handle(c, nil, types.NewValidationError("macro", "%s", err.Error()))
				return
			}
			mc = *req.Macro
		}

		position, err := h.service.AssessSolvency(req.MMP, req.FMP, mc)
		response.Handle(c, position, err)
	}
}

// StressTestHandler handles POST requests for the stress grid and
// Monte-Carlo tail
func (h *GinHandlers) StressTestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StressRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}

		result, err := h.service.StressTest(req.FMP, req.MMP, req.Scenarios)
		response.Handle(c, result, err)
	}
}

// CalculateSCRHandler handles POST requests for the standard-formula SCR
func (h *GinHandlers) CalculateSCRHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SCRRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}

		result := h.service.CalculateSCR(req.Market, req.Underwriting, req.Counterparty, req.GrossPremiums, req.TechnicalProvisions)
		response.Handle(c, result, nil)
	}
}
