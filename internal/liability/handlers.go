package liability

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ksred/regcalc-api/internal/macro"
	"github.com/ksred/regcalc-api/internal/types"
	"github.com/ksred/regcalc-api/pkg/response"
)

// MeasureRequest is the body of a liability measurement call.
type MeasureRequest struct {
	Schedule         CashFlowSchedule `json:"schedule"`
	AcquisitionCosts decimal.Decimal  `json:"acquisition_costs"`
	RAMethod         string           `json:"ra_method"`
	Model            string           `json:"measurement_model"`
	Macro            *macro.Context   `json:"macro,omitempty"`
}

// DiversifyRequest aggregates per-risk adjustments through a correlation
// matrix. Correlation keys are "risk_a:risk_b".
type DiversifyRequest struct {
	Components   map[string]decimal.Decimal `json:"ra_components"`
	Correlations map[string]decimal.Decimal `json:"correlations,omitempty"`
}

// VFAEligibilityRequest carries the three direct-participation criteria.
type VFAEligibilityRequest struct {
	Features VFAFeatures `json:"features"`
}

func splitPairKey(key string) ([2]string, error) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return [2]string{}, types.NewValidationError("correlations", "key %q must be of the form risk_a:risk_b", key)
	}
	return [2]string{parts[0], parts[1]}, nil
}

// GinHandlers contains HTTP handlers for liability endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for liability endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// MeasureLiabilityHandler handles POST requests for contract-group
// measurement under GMM, VFA or PAA
func (h *GinHandlers) MeasureLiabilityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MeasureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}

		raMethod, err := ParseRAMethod(req.RAMethod)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		model, err := ParseMeasurementModel(req.Model)
		if err != nil {
			response.BadRequest(c, err.Error())
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

		result, err := h.service.MeasureLiability(req.Schedule, req.AcquisitionCosts, raMethod, model, mc)
		response.Handle(c, result, err)
	}
}

// DiversifyRAHandler handles POST requests for correlation aggregation of
// risk adjustments
func (h *GinHandlers) DiversifyRAHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DiversifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}

		var correlations map[[2]string]decimal.Decimal
		if len(req.Correlations) > 0 {
			correlations = make(map[[2]string]decimal.Decimal, len(req.Correlations))
			for key, corr := range req.Correlations {
				pair, err := splitPairKey(key)
				if err != nil {
					response.BadRequest(c, err.Error())
					return
				}
				correlations[pair] = corr
			}
		}

		result, err := h.service.DiversifyRA(req.Components, correlations)
		response.Handle(c, result, err)
	}
}

// CheckVFAEligibilityHandler handles POST requests for the variable-fee
// eligibility test
func (h *GinHandlers) CheckVFAEligibilityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VFAEligibilityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}

		eligible, reasons := h.service.CheckVFAEligibility(req.Features)
		response.Handle(c, gin.H{"eligible": eligible, "reasons": reasons}, nil)
	}
}
