package api

import (
	"github.com/gin-gonic/gin"

	"github.com/danieleschmidt/request-sentinel/internal/config"
	"github.com/danieleschmidt/request-sentinel/internal/handlers"
	"github.com/danieleschmidt/request-sentinel/internal/middleware"
	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/ratelimit"
	"github.com/danieleschmidt/request-sentinel/pkg/threat"
)

// Dependencies carries everything the route table wires together.
type Dependencies struct {
	Config   *config.Config
	Logger   *logger.StructuredLogger
	Limiter  *ratelimit.Limiter
	Service  *threat.Service
	Health   *handlers.HealthHandler
	Threat   *handlers.ThreatHandler
	Incident *handlers.IncidentHandler
	RateLim  *handlers.RateLimitHandler
}

// SetupRoutes builds the full route table. Guarded routes pass through
// the limiter and the threat analyzer; the admin surface requires auth.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(deps.Config.Security.CORSOrigins))
	router.Use(middleware.RequestLogger(deps.Logger))

	// Probes sit outside the guard chain.
	router.GET("/health", deps.Health.Health)
	router.GET("/ready", deps.Health.Ready)
	router.GET("/version", deps.Health.Version)

	// Guarded application surface. Everything under /api passes through
	// burst smoothing, identity extraction, the shared limiter, then the
	// threat analyzer.
	guarded := router.Group("/api")
	guarded.Use(middleware.LocalBurst(
		float64(deps.Config.Security.LocalBurstRPS),
		deps.Config.Security.LocalBurstSize,
	))
	guarded.Use(middleware.Identity(deps.Config.Security.JWTSecret))
	guarded.Use(middleware.RateLimit(deps.Limiter))
	guarded.Use(middleware.ThreatAnalysis(deps.Service))
	{
		guarded.POST("/v1/analyze", deps.Threat.Analyze)
		guarded.GET("/v1/anomalies", deps.Threat.Anomalies)
		guarded.GET("/v1/threats/history", deps.Threat.History)
		guarded.GET("/v1/threats/metrics", deps.Threat.Metrics)
	}

	// Admin surface. Authenticated, not subject to the guard chain so
	// operators can still act while an attack is in progress.
	admin := router.Group("/admin/v1")
	admin.Use(middleware.RequireAuth(deps.Config.Security.JWTSecret))
	{
		admin.POST("/incidents", deps.Incident.Create)
		admin.GET("/incidents", deps.Incident.ListActive)
		admin.GET("/incidents/:id", deps.Incident.Get)
		admin.PUT("/incidents/:id/status", deps.Incident.UpdateStatus)
		admin.POST("/incidents/:id/respond", deps.Incident.Respond)
		admin.GET("/incidents/:id/responses", deps.Incident.AuditTrail)

		admin.GET("/ratelimit/status", deps.RateLim.Status)
		admin.POST("/ratelimit/reset", deps.RateLim.Reset)
		admin.GET("/ratelimit/rules", deps.RateLim.Rules)
		admin.PUT("/ratelimit/rules", deps.RateLim.UpdateRules)
	}
}
