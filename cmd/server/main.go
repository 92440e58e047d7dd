package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danieleschmidt/request-sentinel/internal/api"
	"github.com/danieleschmidt/request-sentinel/internal/config"
	"github.com/danieleschmidt/request-sentinel/internal/handlers"
	"github.com/danieleschmidt/request-sentinel/internal/version"
	"github.com/danieleschmidt/request-sentinel/pkg/incident"
	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/monitoring"
	"github.com/danieleschmidt/request-sentinel/pkg/ratelimit"
	"github.com/danieleschmidt/request-sentinel/pkg/response"
	"github.com/danieleschmidt/request-sentinel/pkg/rules"
	"github.com/danieleschmidt/request-sentinel/pkg/store"
	"github.com/danieleschmidt/request-sentinel/pkg/threat"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewStructuredLogger(cfg.Logging.Level, cfg.Logging.Format)
	log.WithField("version", version.GetVersion()).Info("Starting request-sentinel")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var telemetry *monitoring.Telemetry
	if cfg.Observability.Enabled {
		telemetry, err = monitoring.Setup(ctx, "request-sentinel", version.GetVersion(), cfg.Observability.Endpoint)
		if err != nil {
			log.WithError(err).Warn("Telemetry setup failed, continuing without tracing")
		}
	}

	kv := store.NewRedisStore(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	defer kv.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := kv.Ping(pingCtx); err != nil {
		log.WithError(err).Warn("Store unreachable at startup, requests will fail open")
	}
	pingCancel()

	catalog := rules.NewCatalog(log)
	stopWatch := make(chan struct{})
	if cfg.Security.RulesFile != "" {
		if err := catalog.LoadFile(cfg.Security.RulesFile); err != nil {
			log.WithError(err).WithField("file", cfg.Security.RulesFile).Error("Failed to load rules file, using defaults")
		} else if err := catalog.Watch(cfg.Security.RulesFile, stopWatch); err != nil {
			log.WithError(err).Warn("Rules file watch unavailable")
		}
	}

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

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	api.SetupRoutes(router, api.Dependencies{
		Config:   cfg,
		Logger:   log,
		Limiter:  limiter,
		Service:  service,
		Health:   handlers.NewHealthHandler(kv, log),
		Threat:   handlers.NewThreatHandler(service, log),
		Incident: handlers.NewIncidentHandler(incidents, executor, log),
		RateLim:  handlers.NewRateLimitHandler(limiter, log),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	close(stopWatch)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Forced shutdown")
	}
	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Telemetry shutdown failed")
		}
	}

	log.Info("Server stopped")
}
