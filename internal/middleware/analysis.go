package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danieleschmidt/request-sentinel/pkg/threat"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

// ThreatAnalysis runs every passing request through the analyzer. A
// request that demands immediate action is rejected; everything else
// proceeds with the analysis result attached for handlers that want it.
func ThreatAnalysis(service *threat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		desc := DescriptorFrom(c)

		result, err := service.AnalyzeRequest(c.Request.Context(), desc)
		if err != nil {
			// Analysis is advisory on the hot path; a failed analysis
			// never blocks legitimate traffic.
			c.Next()
			return
		}

		c.Set("threat_analysis", result)

		if result.RequiresImmediateAction && result.ThreatLevel >= types.ThreatLevelCritical {
			c.JSON(http.StatusForbidden, gin.H{
				"error":      "Request blocked",
				"request_id": desc.RequestID,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// DescriptorFrom captures the analyzer's view of an inbound request.
func DescriptorFrom(c *gin.Context) types.RequestDescriptor {
	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	return types.RequestDescriptor{
		RequestID: c.GetString("request_id"),
		IP:        c.ClientIP(),
		UserID:    c.GetString("user_id"),
		APIKey:    c.GetHeader("X-API-Key"),
		Endpoint:  c.Request.URL.Path,
		Method:    c.Request.Method,
		UserAgent: c.Request.UserAgent(),
		Headers:   headers,
		Timestamp: time.Now().UTC(),
	}
}
