package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/danieleschmidt/request-sentinel/internal/errors"
	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/ratelimit"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

// RateLimitHandler is the admin surface over the limiter: live status,
// manual resets, and rule management.
type RateLimitHandler struct {
	limiter *ratelimit.Limiter
	logger  *logger.StructuredLogger
}

func NewRateLimitHandler(limiter *ratelimit.Limiter, log *logger.StructuredLogger) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter, logger: log}
}

// Status reports live counter state without consuming budget.
func (h *RateLimitHandler) Status(c *gin.Context) {
	identifier := c.Query("identifier")
	endpoint := c.Query("endpoint")
	if identifier == "" || endpoint == "" {
		respondError(c, errors.NewValidationError("missing query parameters", "identifier and endpoint are required"))
		return
	}

	status, err := h.limiter.GetStatus(c.Request.Context(), identifier, endpoint)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type resetRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Endpoint   string `json:"endpoint" binding:"required"`
}

// Reset clears the counter and any temporary block for an identifier.
func (h *RateLimitHandler) Reset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}

	if err := h.limiter.Reset(c.Request.Context(), req.Identifier, req.Endpoint); err != nil {
		respondError(c, err)
		return
	}

	h.logger.Audit("rate_limit_reset", c.GetString("user_id"), req.Endpoint, true, map[string]interface{}{
		"identifier": req.Identifier,
	})
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (h *RateLimitHandler) Rules(c *gin.Context) {
	rules := h.limiter.GetRules()
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

type updateRulesRequest struct {
	Rules []types.RateLimitRule `json:"rules" binding:"required"`
}

// UpdateRules replaces the active rule set atomically. Validation
// failures leave the current rules in place.
func (h *RateLimitHandler) UpdateRules(c *gin.Context) {
	var req updateRulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}

	if err := h.limiter.UpdateRules(req.Rules); err != nil {
		respondError(c, err)
		return
	}

	h.logger.Audit("rate_limit_rules_updated", c.GetString("user_id"), "rate_limit_rules", true, map[string]interface{}{
		"rule_count": len(req.Rules),
	})
	c.JSON(http.StatusOK, gin.H{"status": "updated", "count": len(req.Rules)})
}
