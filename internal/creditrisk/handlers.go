package creditrisk

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ksred/regcalc-api/internal/macro"
	"github.com/ksred/regcalc-api/internal/types"
	"github.com/ksred/regcalc-api/pkg/response"
)

// ECLRequest is the body of a single-exposure calculation. Macro defaults to
// the current national bank snapshot when omitted; scenario defaults to the
// probability-weighted blend.
type ECLRequest struct {
	Exposure Exposure       `json:"exposure"`
	Scenario string         `json:"scenario"`
	Macro    *macro.Context `json:"macro,omitempty"`
}

// PortfolioRequest is the body of a portfolio aggregation.
type PortfolioRequest struct {
	Exposures []Exposure     `json:"exposures"`
	Scenario  string         `json:"scenario"`
	Macro     *macro.Context `json:"macro,omitempty"`
}

// StressRequest reprices a base ECL under the three scenario multipliers.
type StressRequest struct {
	BaseECL decimal.Decimal `json:"base_ecl"`
	Macro   *macro.Context  `json:"macro,omitempty"`
}

// ClassifyRequest is the body of an asset classification call.
type ClassifyRequest struct {
	AssetID     string           `json:"asset_id"`
	Terms       ContractualTerms `json:"contractual_terms"`
	Collections decimal.Decimal  `json:"collections"`
	Sales       decimal.Decimal  `json:"sales"`
}

func resolveMacro(mc *macro.Context) (macro.Context, error) {
	if mc == nil {
		return macro.Default(), nil
	}
	if err := mc.Validate(); err != nil {
		return macro.Context{}, types.NewValidationError("macro", "%s", err.Error())
	}
	return *mc, nil
}

// GinHandlers contains HTTP handlers for credit risk endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for credit risk endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CalculateECLHandler handles POST requests for a single-exposure ECL
func (h *GinHandlers) CalculateECLHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ECLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}

		scenario, err := macro.ParseScenario(req.Scenario)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		mc, err := resolveMacro(req.Macro)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		result, err := h.service.ClassifyAndQuantify(req.Exposure, mc, scenario)
		response.Handle(c, result, err)
	}
}

// CalculatePortfolioHandler handles POST requests for portfolio aggregation
func (h *GinHandlers) CalculatePortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PortfolioRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}
		if len(req.Exposures) == 0 {
			response.BadRequest(c, "exposures must not be empty")
			return
		}

		scenario, err := macro.ParseScenario(req.Scenario)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		mc, err := resolveMacro(req.Macro)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Handle(c, h.service.CalculatePortfolio(req.Exposures, mc, scenario), nil)
	}
}

// StressECLHandler handles POST requests for the ECL scenario grid
func (h *GinHandlers) StressECLHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StressRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}
		if req.BaseECL.LessThan(decimal.Zero) {
			response.BadRequest(c, "base_ecl must be non-negative")
			return
		}

		mc, err := resolveMacro(req.Macro)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Handle(c, h.service.StressECL(req.BaseECL, mc), nil)
	}
}

// ClassifyAssetHandler handles POST requests for SPPI and business-model
// classification of a financial asset
func (h *GinHandlers) ClassifyAssetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ClassifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}

		result, err := h.service.ClassifyAsset(req.AssetID, req.Terms, req.Collections, req.Sales)
		response.Handle(c, result, err)
	}
}
