package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danieleschmidt/request-sentinel/internal/errors"
	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/threat"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

// ThreatHandler exposes the analysis pipeline for out-of-band
// investigation: replaying captured requests, pulling anomaly reports,
// history and metrics.
type ThreatHandler struct {
	service *threat.Service
	logger  *logger.StructuredLogger
}

func NewThreatHandler(service *threat.Service, log *logger.StructuredLogger) *ThreatHandler {
	return &ThreatHandler{service: service, logger: log}
}

type analyzeRequest struct {
	RequestID string            `json:"request_id"`
	IP        string            `json:"ip" binding:"required"`
	UserID    string            `json:"user_id"`
	APIKey    string            `json:"api_key"`
	Endpoint  string            `json:"endpoint" binding:"required"`
	Method    string            `json:"method" binding:"required"`
	UserAgent string            `json:"user_agent"`
	Headers   map[string]string `json:"headers"`
}

// Analyze runs a request descriptor through the full pipeline.
func (h *ThreatHandler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}

	desc := types.RequestDescriptor{
		RequestID: req.RequestID,
		IP:        req.IP,
		UserID:    req.UserID,
		APIKey:    req.APIKey,
		Endpoint:  req.Endpoint,
		Method:    req.Method,
		UserAgent: req.UserAgent,
		Headers:   req.Headers,
		Timestamp: time.Now().UTC(),
	}

	result, err := h.service.AnalyzeRequest(c.Request.Context(), desc)
	if err != nil {
		h.logger.LogError(c.Request.Context(), err, "analyze_request", map[string]interface{}{
			"ip": req.IP,
		})
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Anomalies reports behavioral anomalies for a user/IP pair.
func (h *ThreatHandler) Anomalies(c *gin.Context) {
	ip := c.Query("ip")
	if ip == "" {
		respondError(c, errors.NewValidationError("missing query parameter", "ip is required"))
		return
	}
	userID := c.Query("user_id")
	endpoint := c.Query("endpoint")

	result, err := h.service.DetectAnomalies(c.Request.Context(), userID, ip, endpoint)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// History returns recent analysis results, newest last.
func (h *ThreatHandler) History(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(c, errors.NewValidationError("invalid limit", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	history, err := h.service.GetThreatHistory(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": history, "count": len(history)})
}

// Metrics aggregates analysis results over a time range.
func (h *ThreatHandler) Metrics(c *gin.Context) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, errors.NewValidationError("invalid from timestamp", "expected RFC3339"))
			return
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, errors.NewValidationError("invalid to timestamp", "expected RFC3339"))
			return
		}
		to = parsed
	}

	metrics, err := h.service.GetThreatMetrics(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, metrics)
}
