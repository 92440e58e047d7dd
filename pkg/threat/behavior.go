package threat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/store"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

const (
	timestampKeyFormat = "security:behavior:timestamps:%s"
	endpointKeyFormat  = "security:behavior:endpoints:%s"
	ipUsersKeyFormat   = "security:behavior:ip_users:%s"
)

// BehaviorConfig holds the rolling-baseline thresholds.
type BehaviorConfig struct {
	HistorySize        int           `mapstructure:"history_size"`
	RapidFireInterval  time.Duration `mapstructure:"rapid_fire_interval"`
	RapidFireThreshold int           `mapstructure:"rapid_fire_threshold"`
	EndpointThreshold  int           `mapstructure:"endpoint_threshold"`
	MaxUsersPerIP      int           `mapstructure:"max_users_per_ip"`
	IPWindow           time.Duration `mapstructure:"ip_window"`
	HistoryTTL         time.Duration `mapstructure:"history_ttl"`
	NormalHoursStart   int           `mapstructure:"normal_hours_start"`
	NormalHoursEnd     int           `mapstructure:"normal_hours_end"`
	SensitivePaths     []string      `mapstructure:"sensitive_paths"`
}

func DefaultBehaviorConfig() BehaviorConfig {
	return BehaviorConfig{
		HistorySize:        100,
		RapidFireInterval:  time.Second,
		RapidFireThreshold: 5,
		EndpointThreshold:  20,
		MaxUsersPerIP:      5,
		IPWindow:           24 * time.Hour,
		HistoryTTL:         72 * time.Hour,
		NormalHoursStart:   6,
		NormalHoursEnd:     22,
		SensitivePaths:     []string{"/admin", "/settings", "/config", "/password"},
	}
}

// BehaviorAnalyzer compares a request's timing and endpoint-access
// history against a per-user rolling baseline. All histories live in the
// shared store; the analyzer holds no per-identifier state, so multiple
// service instances see the same baselines.
type BehaviorAnalyzer struct {
	store  store.KeyValueStore
	config BehaviorConfig
	logger *logger.StructuredLogger
}

type endpointHistory struct {
	Visits map[string]int `json:"visits"`
}

type ipUserSet struct {
	Users map[string]time.Time `json:"users"`
}

func NewBehaviorAnalyzer(kv store.KeyValueStore, config BehaviorConfig, log *logger.StructuredLogger) *BehaviorAnalyzer {
	return &BehaviorAnalyzer{store: kv, config: config, logger: log}
}

// AnalyzeBehavior runs all baseline checks for one request and returns
// the resulting indicators.
func (b *BehaviorAnalyzer) AnalyzeBehavior(ctx context.Context, userID, ip, endpoint string, timestamp time.Time) []types.ThreatIndicator {
	anomalies := b.DetectAnomalies(ctx, userID, ip, endpoint, timestamp)

	indicators := make([]types.ThreatIndicator, 0, len(anomalies))
	for _, a := range anomalies {
		indicators = append(indicators, types.ThreatIndicator{
			Type:        a.Indicator,
			Description: a.Description,
			Confidence:  a.Confidence,
			Severity:    a.Severity,
			Metadata:    a.Metadata,
		})
	}

	return indicators
}

// DetectAnomalies runs the temporal, endpoint, network and
// timing-of-day checks. Each check updates its own history and fails
// independently; a store error in one check forfeits only that check.
func (b *BehaviorAnalyzer) DetectAnomalies(ctx context.Context, userID, ip, endpoint string, timestamp time.Time) []types.Anomaly {
	anomalies := make([]types.Anomaly, 0)

	if userID != "" {
		if a := b.checkTemporal(ctx, userID, timestamp); a != nil {
			anomalies = append(anomalies, *a)
		}
		anomalies = append(anomalies, b.checkEndpointAccess(ctx, userID, endpoint)...)
	}

	if ip != "" && userID != "" {
		if a := b.checkNetwork(ctx, ip, userID, timestamp); a != nil {
			anomalies = append(anomalies, *a)
		}
	}

	if a := b.checkTiming(timestamp); a != nil {
		anomalies = append(anomalies, *a)
	}

	return anomalies
}

// checkTemporal tracks inter-arrival intervals between a user's
// requests and flags rapid-fire bursts.
func (b *BehaviorAnalyzer) checkTemporal(ctx context.Context, userID string, timestamp time.Time) *types.Anomaly {
	key := fmt.Sprintf(timestampKeyFormat, userID)

	var history []time.Time
	if err := b.store.Get(ctx, key, &history); err != nil && err != store.ErrKeyNotFound {
		b.logger.LogError(ctx, err, "behavior_temporal_read", map[string]interface{}{"user_id": userID})
		return nil
	}

	history = append(history, timestamp)
	if len(history) > b.config.HistorySize {
		history = history[len(history)-b.config.HistorySize:]
	}

	if err := b.store.Set(ctx, key, history, b.config.HistoryTTL); err != nil {
		b.logger.LogError(ctx, err, "behavior_temporal_write", map[string]interface{}{"user_id": userID})
		return nil
	}

	rapid := 0
	for i := 1; i < len(history); i++ {
		if history[i].Sub(history[i-1]) < b.config.RapidFireInterval {
			rapid++
		}
	}

	if rapid > b.config.RapidFireThreshold {
		return &types.Anomaly{
			Type:        types.AnomalyTemporal,
			Indicator:   types.IndicatorRapidFire,
			Description: fmt.Sprintf("Rapid fire requests: %d sub-second intervals in recent history", rapid),
			Confidence:  0.8,
			Severity:    types.SeverityHigh,
			Metadata: map[string]interface{}{
				"rapid_intervals": rapid,
				"history_size":    len(history),
			},
		}
	}

	return nil
}

// checkEndpointAccess counts visits per endpoint. A first-ever visit to
// a sensitive path and heavy repetition of one endpoint both flag.
func (b *BehaviorAnalyzer) checkEndpointAccess(ctx context.Context, userID, endpoint string) []types.Anomaly {
	key := fmt.Sprintf(endpointKeyFormat, userID)

	history := endpointHistory{Visits: make(map[string]int)}
	if err := b.store.Get(ctx, key, &history); err != nil && err != store.ErrKeyNotFound {
		b.logger.LogError(ctx, err, "behavior_endpoint_read", map[string]interface{}{"user_id": userID})
		return nil
	}
	if history.Visits == nil {
		history.Visits = make(map[string]int)
	}

	history.Visits[endpoint]++
	visits := history.Visits[endpoint]

	if err := b.store.Set(ctx, key, history, b.config.HistoryTTL); err != nil {
		b.logger.LogError(ctx, err, "behavior_endpoint_write", map[string]interface{}{"user_id": userID})
		return nil
	}

	anomalies := make([]types.Anomaly, 0, 2)

	if visits == 1 && b.isSensitive(endpoint) {
		anomalies = append(anomalies, types.Anomaly{
			Type:        types.AnomalyBehavioral,
			Indicator:   types.IndicatorSensitiveEndpoint,
			Description: fmt.Sprintf("First access to sensitive endpoint %s", endpoint),
			Confidence:  0.6,
			Severity:    types.SeverityMedium,
			Metadata:    map[string]interface{}{"endpoint": endpoint},
		})
	}

	if visits > b.config.EndpointThreshold {
		anomalies = append(anomalies, types.Anomaly{
			Type:        types.AnomalyBehavioral,
			Indicator:   types.IndicatorUnusualEndpoint,
			Description: fmt.Sprintf("Unusual endpoint usage: %d visits to %s", visits, endpoint),
			Confidence:  0.6,
			Severity:    types.SeverityMedium,
			Metadata: map[string]interface{}{
				"endpoint":  endpoint,
				"visits":    visits,
				"threshold": b.config.EndpointThreshold,
			},
		})
	}

	return anomalies
}

// checkNetwork tracks the distinct user identifiers seen per IP. Many
// users behind one IP is a proxy/NAT or credential-stuffing signal.
func (b *BehaviorAnalyzer) checkNetwork(ctx context.Context, ip, userID string, timestamp time.Time) *types.Anomaly {
	key := fmt.Sprintf(ipUsersKeyFormat, ip)

	set := ipUserSet{Users: make(map[string]time.Time)}
	if err := b.store.Get(ctx, key, &set); err != nil && err != store.ErrKeyNotFound {
		b.logger.LogError(ctx, err, "behavior_network_read", map[string]interface{}{"ip": ip})
		return nil
	}
	if set.Users == nil {
		set.Users = make(map[string]time.Time)
	}

	cutoff := timestamp.Add(-b.config.IPWindow)
	for user, seen := range set.Users {
		if seen.Before(cutoff) {
			delete(set.Users, user)
		}
	}
	set.Users[userID] = timestamp

	if err := b.store.Set(ctx, key, set, b.config.IPWindow); err != nil {
		b.logger.LogError(ctx, err, "behavior_network_write", map[string]interface{}{"ip": ip})
		return nil
	}

	if len(set.Users) > b.config.MaxUsersPerIP {
		return &types.Anomaly{
			Type:        types.AnomalyNetwork,
			Indicator:   types.IndicatorMultipleUsersPerIP,
			Description: fmt.Sprintf("%d distinct users seen from IP %s within %s", len(set.Users), ip, b.config.IPWindow),
			Confidence:  0.7,
			Severity:    types.SeverityMedium,
			Metadata: map[string]interface{}{
				"ip":         ip,
				"user_count": len(set.Users),
				"threshold":  b.config.MaxUsersPerIP,
			},
		}
	}

	return nil
}

// checkTiming flags requests outside the configured normal-hours window.
func (b *BehaviorAnalyzer) checkTiming(timestamp time.Time) *types.Anomaly {
	hour := timestamp.Hour()
	if hour >= b.config.NormalHoursStart && hour < b.config.NormalHoursEnd {
		return nil
	}

	return &types.Anomaly{
		Type:        types.AnomalyTemporal,
		Indicator:   types.IndicatorUnusualTiming,
		Description: fmt.Sprintf("Request at %02d:00 is outside normal hours (%02d:00-%02d:00)", hour, b.config.NormalHoursStart, b.config.NormalHoursEnd),
		Confidence:  0.5,
		Severity:    types.SeverityMedium,
		Metadata: map[string]interface{}{
			"hour":        hour,
			"hours_start": b.config.NormalHoursStart,
			"hours_end":   b.config.NormalHoursEnd,
		},
	}
}

func (b *BehaviorAnalyzer) isSensitive(endpoint string) bool {
	lower := strings.ToLower(endpoint)
	for _, path := range b.config.SensitivePaths {
		if strings.Contains(lower, path) {
			return true
		}
	}
	return false
}
