package guarantyfund

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ksred/regcalc-api/pkg/response"
)

// AssessmentRequest is the body of a full fund assessment call.
type AssessmentRequest struct {
	Members  []Member        `json:"members"`
	Pipeline decimal.Decimal `json:"pipeline_contributions"`
}

// EarlyWarningRequest scores one or more insurers' indicators.
type EarlyWarningRequest struct {
	Insurers []WarningInputs `json:"insurers"`
}

// GinHandlers contains HTTP handlers for guaranty fund endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for guaranty fund endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// AssessFundHandler handles POST requests for the full fund review:
// contributions, bankruptcy simulation and adequacy
func (h *GinHandlers) AssessFundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AssessmentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}

		result, err := h.service.FullAssessment(req.Members, req.Pipeline)
		response.Handle(c, result, err)
	}
}

// EarlyWarningHandler handles POST requests for per-insurer early-warning
// scoring
func (h *GinHandlers) EarlyWarningHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EarlyWarningRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}
		if len(req.Insurers) == 0 {
			response.BadRequest(c, "insurers must not be empty")
			return
		}

		results := make([]*WarningResult, 0, len(req.Insurers))
		for _, in := range req.Insurers {
			results = append(results, h.service.EarlyWarning(in))
		}
		response.Handle(c, results, nil)
	}
}
