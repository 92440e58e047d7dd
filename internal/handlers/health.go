package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danieleschmidt/request-sentinel/internal/version"
	"github.com/danieleschmidt/request-sentinel/pkg/logger"
)

// Pinger reports backing store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store     Pinger
	logger    *logger.StructuredLogger
	startTime time.Time
}

type HealthCheck struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthHandler(store Pinger, log *logger.StructuredLogger) *HealthHandler {
	return &HealthHandler{
		store:     store,
		logger:    log,
		startTime: time.Now(),
	}
}

func (h *HealthHandler) Health(c *gin.Context) {
	check := HealthCheck{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.GetVersion(),
		Uptime:    time.Since(h.startTime).String(),
		Checks:    make(map[string]string),
	}

	status := http.StatusOK
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			check.Status = "degraded"
			check.Checks["store"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			check.Checks["store"] = "ok"
		}
	}

	c.JSON(status, check)
}

// Ready is the readiness probe; it fails when the store is unreachable.
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *HealthHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    version.GetVersion(),
		"commit":     version.GetCommit(),
		"build_date": version.GetBuildDate(),
	})
}
