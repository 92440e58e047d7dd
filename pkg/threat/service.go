package threat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/danieleschmidt/request-sentinel/pkg/incident"
	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/response"
	"github.com/danieleschmidt/request-sentinel/pkg/store"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
	"github.com/sirupsen/logrus"
)

const threatHistoryKey = "threat_history"

// ServiceConfig tunes the analysis facade.
type ServiceConfig struct {
	HistoryLimit  int               `mapstructure:"history_limit"`
	AutoRespond   bool              `mapstructure:"auto_respond"`
	ResponseLevel types.ThreatLevel `mapstructure:"response_level"`
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		HistoryLimit:  1000,
		AutoRespond:   true,
		ResponseLevel: types.ThreatLevelHigh,
	}
}

// Service runs the full analysis pipeline for one request: pattern
// matching, frequency and behavior analysis, risk aggregation, then
// incident creation and automated response when the threat level
// warrants it.
type Service struct {
	matcher   *PatternMatcher
	frequency *FrequencyAnalyzer
	behavior  *BehaviorAnalyzer
	scorer    *RiskScorer
	incidents *incident.Manager
	executor  *response.Executor
	store     store.KeyValueStore
	config    ServiceConfig
	logger    *logger.StructuredLogger
}

func NewService(
	matcher *PatternMatcher,
	frequency *FrequencyAnalyzer,
	behavior *BehaviorAnalyzer,
	scorer *RiskScorer,
	incidents *incident.Manager,
	executor *response.Executor,
	kv store.KeyValueStore,
	config ServiceConfig,
	log *logger.StructuredLogger,
) *Service {
	return &Service{
		matcher:   matcher,
		frequency: frequency,
		behavior:  behavior,
		scorer:    scorer,
		incidents: incidents,
		executor:  executor,
		store:     kv,
		config:    config,
		logger:    log,
	}
}

// AnalyzeRequest analyzes one request descriptor. On cancellation the
// partial results are discarded and an error is returned; the caller's
// request-level decision defaults to allow.
func (s *Service) AnalyzeRequest(ctx context.Context, desc types.RequestDescriptor) (types.ThreatAnalysisResult, error) {
	if desc.Timestamp.IsZero() {
		desc.Timestamp = time.Now().UTC()
	}

	indicators := make([]types.ThreatIndicator, 0)

	if blocked := s.checkBlockedIP(ctx, desc.IP); blocked != nil {
		indicators = append(indicators, *blocked)
	}

	indicators = append(indicators, s.matcher.Match(desc.Endpoint, desc.Method, desc.UserAgent, desc.Headers)...)

	if err := ctx.Err(); err != nil {
		return types.ThreatAnalysisResult{}, err
	}

	indicators = append(indicators, s.frequency.AnalyzeFrequency(ctx, desc.IP, desc.UserID)...)
	indicators = append(indicators, s.behavior.AnalyzeBehavior(ctx, desc.UserID, desc.IP, desc.Endpoint, desc.Timestamp)...)

	if err := ctx.Err(); err != nil {
		return types.ThreatAnalysisResult{}, err
	}

	riskScore := s.scorer.ScoreIndicators(indicators)
	level := s.scorer.ThreatLevelOf(riskScore)

	result := types.ThreatAnalysisResult{
		RequestID:               desc.RequestID,
		ThreatLevel:             level,
		Indicators:              indicators,
		RiskScore:               riskScore,
		Recommendations:         s.scorer.Recommendations(level, indicators),
		RequiresImmediateAction: level >= types.ThreatLevelHigh,
		AnalyzedAt:              time.Now().UTC(),
	}

	s.appendHistory(ctx, result)

	if level > types.ThreatLevelLow {
		s.logger.SecurityEvent("threat_detected", desc.IP, desc.Endpoint, level.String(), map[string]interface{}{
			"request_id": desc.RequestID,
			"risk_score": riskScore,
			"indicators": len(indicators),
		})
	}

	if s.config.AutoRespond && level >= s.config.ResponseLevel {
		s.respond(ctx, desc, result)
	}

	return result, nil
}

// DetectAnomalies is the ad hoc investigation entry point over a user's
// behavioral baselines.
func (s *Service) DetectAnomalies(ctx context.Context, userID, ip, endpoint string) (types.AnomalyDetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return types.AnomalyDetectionResult{}, err
	}

	anomalies := s.behavior.DetectAnomalies(ctx, userID, ip, endpoint, time.Now().UTC())
	score := s.scorer.ScoreAnomalies(anomalies)

	return types.AnomalyDetectionResult{
		UserID:       userID,
		IP:           ip,
		Anomalies:    anomalies,
		AnomalyScore: score,
		ThreatLevel:  s.scorer.ThreatLevelOf(score),
		DetectedAt:   time.Now().UTC(),
	}, nil
}

// GetThreatHistory returns the most recent analysis results, newest
// last, up to limit.
func (s *Service) GetThreatHistory(ctx context.Context, limit int) ([]types.ThreatAnalysisResult, error) {
	history := s.loadHistory(ctx)
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}
	return history[len(history)-limit:], nil
}

// GetThreatMetrics aggregates the retained history for dashboards.
func (s *Service) GetThreatMetrics(ctx context.Context, from, to time.Time) (types.ThreatMetrics, error) {
	if !to.IsZero() && to.Before(from) {
		return types.ThreatMetrics{}, fmt.Errorf("invalid metrics range: to precedes from")
	}

	metrics := types.ThreatMetrics{
		From:              from,
		To:                to,
		CountsByLevel:     make(map[string]int),
		CountsByIndicator: make(map[types.IndicatorType]int),
		Trend:             make([]types.TrendPoint, 0),
	}

	buckets := make(map[time.Time]int)
	var riskSum float64

	for _, result := range s.loadHistory(ctx) {
		if result.AnalyzedAt.Before(from) {
			continue
		}
		if !to.IsZero() && result.AnalyzedAt.After(to) {
			continue
		}

		metrics.TotalAnalyzed++
		metrics.CountsByLevel[result.ThreatLevel.String()]++
		riskSum += result.RiskScore
		for _, ind := range result.Indicators {
			metrics.CountsByIndicator[ind.Type]++
		}
		buckets[result.AnalyzedAt.Truncate(time.Hour)]++
	}

	if metrics.TotalAnalyzed > 0 {
		metrics.AverageRiskScore = riskSum / float64(metrics.TotalAnalyzed)
	}

	for bucket, count := range buckets {
		metrics.Trend = append(metrics.Trend, types.TrendPoint{Bucket: bucket, Count: count})
	}
	sortTrend(metrics.Trend)

	return metrics, nil
}

// ExecuteAutomatedResponse exposes the executor for operator tooling.
func (s *Service) ExecuteAutomatedResponse(ctx context.Context, incidentID string, level types.ThreatLevel, actions []string) types.AutomatedResponseResult {
	return s.executor.Execute(ctx, incidentID, level, actions)
}

func (s *Service) checkBlockedIP(ctx context.Context, ip string) *types.ThreatIndicator {
	if ip == "" {
		return nil
	}

	var record map[string]interface{}
	err := s.store.Get(ctx, store.BlockedIPKey(ip), &record)
	if err == store.ErrKeyNotFound {
		return nil
	}
	if err != nil {
		s.logger.LogError(ctx, err, "blocked_ip_check", map[string]interface{}{"ip": ip})
		return nil
	}

	return &types.ThreatIndicator{
		Type:        types.IndicatorMaliciousIP,
		Description: fmt.Sprintf("Request from blocked IP %s", ip),
		Confidence:  0.9,
		Severity:    types.SeverityHigh,
		Metadata:    map[string]interface{}{"ip": ip},
	}
}

func (s *Service) respond(ctx context.Context, desc types.RequestDescriptor, result types.ThreatAnalysisResult) {
	inc, err := s.incidents.Create(ctx,
		fmt.Sprintf("Threat level %s on %s", result.ThreatLevel.String(), desc.Endpoint),
		fmt.Sprintf("Automated analysis flagged request %s with risk score %.2f", desc.RequestID, result.RiskScore),
		severityFor(result.ThreatLevel),
		[]string{"automated"},
		map[string]interface{}{
			"source_ip":  desc.IP,
			"user_id":    desc.UserID,
			"endpoint":   desc.Endpoint,
			"request_id": desc.RequestID,
			"risk_score": result.RiskScore,
		},
	)
	if err != nil {
		s.logger.WithError(err).Error("Failed to create incident for automated response")
		return
	}

	actions := s.actionsFor(result)
	outcome := s.executor.Execute(ctx, inc.ID.String(), result.ThreatLevel, actions)

	s.logger.WithFields(logrus.Fields{
		"incident_id": inc.ID.String(),
		"actions":     actions,
		"success":     outcome.Success,
	}).Info("Automated response completed")
}

// actionsFor collects the response actions declared by matched patterns
// and falls back to a level-based default set.
func (s *Service) actionsFor(result types.ThreatAnalysisResult) []string {
	seen := make(map[string]bool)
	actions := make([]string, 0)

	add := func(action string) {
		if action != "" && !seen[action] {
			seen[action] = true
			actions = append(actions, action)
		}
	}

	for _, ind := range result.Indicators {
		declared := declaredActions(ind.Metadata["response_actions"])
		for _, action := range declared {
			// log_incident would spawn a second incident for the same
			// analysis run; the pipeline already created one.
			if action == response.ActionLogIncident {
				continue
			}
			add(action)
		}
	}

	if len(actions) == 0 {
		switch result.ThreatLevel {
		case types.ThreatLevelCritical:
			add(response.ActionBlockRequest)
			add(response.ActionNotifyAdmin)
		default:
			add(response.ActionTemporaryBlock)
			add(response.ActionNotifyAdmin)
		}
	}

	return actions
}

func (s *Service) appendHistory(ctx context.Context, result types.ThreatAnalysisResult) {
	history := s.loadHistory(ctx)
	history = append(history, result)
	if len(history) > s.config.HistoryLimit {
		history = history[len(history)-s.config.HistoryLimit:]
	}

	if err := s.store.Set(ctx, threatHistoryKey, history, 0); err != nil {
		s.logger.LogError(ctx, err, "threat_history_write", nil)
	}
}

// loadHistory reads the retained analysis results. A corrupt record
// resets the history rather than aborting analysis.
func (s *Service) loadHistory(ctx context.Context) []types.ThreatAnalysisResult {
	var history []types.ThreatAnalysisResult
	err := s.store.Get(ctx, threatHistoryKey, &history)
	if err != nil && err != store.ErrKeyNotFound {
		s.logger.LogError(ctx, err, "threat_history_read", nil)
		return nil
	}
	return history
}

func severityFor(level types.ThreatLevel) types.Severity {
	switch level {
	case types.ThreatLevelCritical:
		return types.SeverityCritical
	case types.ThreatLevelHigh:
		return types.SeverityHigh
	case types.ThreatLevelMedium:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

func sortTrend(points []types.TrendPoint) {
	sort.Slice(points, func(i, j int) bool {
		return points[i].Bucket.Before(points[j].Bucket)
	})
}

// declaredActions tolerates both the in-process []string shape and the
// []interface{} shape a JSON round-trip produces.
func declaredActions(raw interface{}) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
