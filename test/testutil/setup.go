package testutil

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/danieleschmidt/request-sentinel/internal/api"
	"github.com/danieleschmidt/request-sentinel/internal/config"
	"github.com/danieleschmidt/request-sentinel/internal/handlers"
	"github.com/danieleschmidt/request-sentinel/pkg/incident"
	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/ratelimit"
	"github.com/danieleschmidt/request-sentinel/pkg/response"
	"github.com/danieleschmidt/request-sentinel/pkg/rules"
	"github.com/danieleschmidt/request-sentinel/pkg/store"
	"github.com/danieleschmidt/request-sentinel/pkg/threat"
)

const TestJWTSecret = "test-secret-for-integration-tests"

// Env is a fully wired in-memory stack for integration tests.
type Env struct {
	Store     *store.MemoryStore
	Catalog   *rules.Catalog
	Limiter   *ratelimit.Limiter
	Incidents *incident.Manager
	Executor  *response.Executor
	Service   *threat.Service
	Router    *gin.Engine
	Config    *config.Config
	Logger    *logger.StructuredLogger
}

// NewEnv builds the stack against a MemoryStore. The router carries the
// same middleware chain as production.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewStructuredLogger("error", "json")
	kv := store.NewMemoryStore()

	cfg := config.DefaultConfig()
	cfg.Security.JWTSecret = TestJWTSecret
	cfg.Security.CORSOrigins = []string{"*"}
	// High enough that tests exercise the shared limiter, not the
	// per-instance smoother.
	cfg.Security.LocalBurstRPS = 100000
	cfg.Security.LocalBurstSize = 100000

	catalog := rules.NewCatalog(log)
	limiter := ratelimit.NewLimiter(kv, catalog, log)
	incidents := incident.NewManager(kv, log, incident.Options{
		StrictTransitions: cfg.Security.StrictTransitions,
	})
	executor := response.NewExecutor(kv, incidents, cfg.Security.Response, log)
	service := threat.NewService(
		threat.NewPatternMatcher(catalog, log),
		threat.NewFrequencyAnalyzer(kv, cfg.Security.Frequency, log),
		threat.NewBehaviorAnalyzer(kv, cfg.Security.Behavior, log),
		threat.NewRiskScorer(),
		incidents,
		executor,
		kv,
		cfg.Security.Analysis,
		log,
	)

	router := gin.New()
	api.SetupRoutes(router, api.Dependencies{
		Config:   cfg,
		Logger:   log,
		Limiter:  limiter,
		Service:  service,
		Health:   handlers.NewHealthHandler(nil, log),
		Threat:   handlers.NewThreatHandler(service, log),
		Incident: handlers.NewIncidentHandler(incidents, executor, log),
		RateLim:  handlers.NewRateLimitHandler(limiter, log),
	})

	return &Env{
		Store:     kv,
		Catalog:   catalog,
		Limiter:   limiter,
		Incidents: incidents,
		Executor:  executor,
		Service:   service,
		Router:    router,
		Config:    cfg,
		Logger:    log,
	}
}

// AdminToken mints a token accepted by the admin surface.
func AdminToken(t *testing.T, subject string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(TestJWTSecret))
	require.NoError(t, err)
	return signed
}
