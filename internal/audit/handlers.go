package audit

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ksred/regcalc-api/pkg/response"
)

const defaultTrailLimit = 100

// GinHandlers contains HTTP handlers for the audit trail endpoints
type GinHandlers struct {
	sink *GormSink
}

// NewGinHandlers creates a new set of HTTP handlers for the audit trail
func NewGinHandlers(sink *GormSink) *GinHandlers {
	return &GinHandlers{
		sink: sink,
	}
}

// TrailHandler handles GET requests for the newest audit records. The trail
// is read-only over HTTP; records are only ever appended by the engines.
func (h *GinHandlers) TrailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultTrailLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				response.BadRequest(c, "limit must be a positive integer")
				return
			}
			limit = parsed
		}

		records, err := h.sink.Recent(limit)
		response.Handle(c, records, err)
	}
}
