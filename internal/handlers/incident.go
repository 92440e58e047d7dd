package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/danieleschmidt/request-sentinel/internal/errors"
	"github.com/danieleschmidt/request-sentinel/pkg/incident"
	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/response"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

type IncidentHandler struct {
	incidents *incident.Manager
	executor  *response.Executor
	logger    *logger.StructuredLogger
}

func NewIncidentHandler(incidents *incident.Manager, executor *response.Executor, log *logger.StructuredLogger) *IncidentHandler {
	return &IncidentHandler{incidents: incidents, executor: executor, logger: log}
}

type createIncidentRequest struct {
	Title       string                 `json:"title" binding:"required"`
	Description string                 `json:"description"`
	Severity    types.Severity         `json:"severity" binding:"required"`
	Tags        []string               `json:"tags"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (h *IncidentHandler) Create(c *gin.Context) {
	var req createIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}

	inc, err := h.incidents.Create(c.Request.Context(), req.Title, req.Description, req.Severity, req.Tags, req.Metadata)
	if err != nil {
		respondError(c, err)
		return
	}

	h.logger.Audit("incident_created", c.GetString("user_id"), inc.ID.String(), true, map[string]interface{}{
		"severity": inc.Severity,
	})
	c.JSON(http.StatusCreated, inc)
}

func (h *IncidentHandler) Get(c *gin.Context) {
	inc, err := h.incidents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (h *IncidentHandler) ListActive(c *gin.Context) {
	incidents, err := h.incidents.GetActiveIncidents(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "count": len(incidents)})
}

type updateStatusRequest struct {
	Status          types.IncidentStatus `json:"status" binding:"required"`
	Assignee        string               `json:"assignee"`
	ClearResolvedAt bool                 `json:"clear_resolved_at"`
}

func (h *IncidentHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}

	inc, err := h.incidents.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status, incident.UpdateOptions{
		Assignee:        req.Assignee,
		ClearResolvedAt: req.ClearResolvedAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	h.logger.Audit("incident_status_updated", c.GetString("user_id"), inc.ID.String(), true, map[string]interface{}{
		"status": inc.Status,
	})
	c.JSON(http.StatusOK, inc)
}

type respondRequest struct {
	ThreatLevel string   `json:"threat_level" binding:"required"`
	Actions     []string `json:"actions" binding:"required"`
}

// Respond runs mitigation actions against an incident on demand.
func (h *IncidentHandler) Respond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}

	for _, action := range req.Actions {
		if !h.executor.Handles(action) {
			respondError(c, errors.NewUnknownActionError(action))
			return
		}
	}

	id := c.Param("id")
	if _, err := h.incidents.Get(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	result := h.executor.Execute(c.Request.Context(), id, types.ParseThreatLevel(req.ThreatLevel), req.Actions)

	h.logger.Audit("automated_response", c.GetString("user_id"), id, result.Success, map[string]interface{}{
		"actions": req.Actions,
	})
	c.JSON(http.StatusOK, result)
}

// AuditTrail returns every response run recorded against an incident.
func (h *IncidentHandler) AuditTrail(c *gin.Context) {
	trail, err := h.executor.AuditTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"responses": trail, "count": len(trail)})
}
