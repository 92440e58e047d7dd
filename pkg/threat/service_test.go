package threat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieleschmidt/request-sentinel/pkg/incident"
	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/response"
	"github.com/danieleschmidt/request-sentinel/pkg/rules"
	"github.com/danieleschmidt/request-sentinel/pkg/store"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

// failingKV simulates a completely unreachable store.
type failingKV struct{}

func (f *failingKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, fmt.Errorf("connection refused")
}

func (f *failingKV) Get(ctx context.Context, key string, dest interface{}) error {
	return fmt.Errorf("connection refused")
}

func (f *failingKV) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return fmt.Errorf("connection refused")
}

func (f *failingKV) Delete(ctx context.Context, key string) error {
	return fmt.Errorf("connection refused")
}

func (f *failingKV) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return nil, fmt.Errorf("connection refused")
}

func testService(t *testing.T, config ServiceConfig) (*Service, *store.MemoryStore, *incident.Manager) {
	t.Helper()

	log := logger.NewStructuredLogger("error", "json")
	kv := store.NewMemoryStore()
	catalog := rules.NewCatalog(log)
	incidents := incident.NewManager(kv, log, incident.Options{})
	executor := response.NewExecutor(kv, incidents, response.DefaultConfig(), log)

	svc := NewService(
		NewPatternMatcher(catalog, log),
		NewFrequencyAnalyzer(kv, DefaultFrequencyConfig(), log),
		NewBehaviorAnalyzer(kv, DefaultBehaviorConfig(), log),
		NewRiskScorer(),
		incidents,
		executor,
		kv,
		config,
		log,
	)
	return svc, kv, incidents
}

func TestAnalyzeRequestBenign(t *testing.T) {
	svc, _, _ := testService(t, DefaultServiceConfig())

	result, err := svc.AnalyzeRequest(context.Background(), types.RequestDescriptor{
		RequestID: "req-1",
		IP:        "1.2.3.4",
		UserID:    "alice",
		Endpoint:  "/api/data",
		Method:    "GET",
		UserAgent: "Mozilla/5.0",
		Timestamp: daytime,
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", result.RequestID)
	assert.Equal(t, types.ThreatLevelLow, result.ThreatLevel)
	assert.Equal(t, 0.0, result.RiskScore)
	assert.False(t, result.RequiresImmediateAction)
	assert.Empty(t, result.Indicators)
}

func TestAnalyzeRequestMaliciousPattern(t *testing.T) {
	svc, _, _ := testService(t, DefaultServiceConfig())

	result, err := svc.AnalyzeRequest(context.Background(), types.RequestDescriptor{
		RequestID: "req-2",
		IP:        "1.2.3.4",
		Endpoint:  "/api/users?id=1 UNION SELECT password",
		Method:    "GET",
		Timestamp: daytime,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Indicators)
	assert.Greater(t, result.RiskScore, 0.0)
	assert.NotEmpty(t, result.Recommendations)
}

func TestAnalyzeRequestBlockedIP(t *testing.T) {
	svc, kv, _ := testService(t, ServiceConfig{HistoryLimit: 10, AutoRespond: false})
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, store.BlockedIPKey("6.6.6.6"), map[string]interface{}{
		"reason": "manual block",
	}, time.Hour))

	result, err := svc.AnalyzeRequest(ctx, types.RequestDescriptor{
		RequestID: "req-3",
		IP:        "6.6.6.6",
		Endpoint:  "/api/data",
		Method:    "GET",
		Timestamp: daytime,
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.Indicators)
	assert.Equal(t, types.IndicatorMaliciousIP, result.Indicators[0].Type)
	assert.Contains(t, result.Recommendations, "Block IP immediately")
}

func TestAnalyzeRequestCancelledContext(t *testing.T) {
	svc, _, _ := testService(t, DefaultServiceConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.AnalyzeRequest(ctx, types.RequestDescriptor{
		RequestID: "req-4",
		IP:        "1.2.3.4",
		Endpoint:  "/api/data",
		Method:    "GET",
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeRequestAutoRespondCreatesIncident(t *testing.T) {
	svc, kv, incidents := testService(t, ServiceConfig{
		HistoryLimit:  10,
		AutoRespond:   true,
		ResponseLevel: types.ThreatLevelMedium,
	})
	ctx := context.Background()

	// A blocked IP plus an injection pattern pushes the score past the
	// response threshold.
	require.NoError(t, kv.Set(ctx, store.BlockedIPKey("6.6.6.6"), map[string]interface{}{"reason": "test"}, time.Hour))

	result, err := svc.AnalyzeRequest(ctx, types.RequestDescriptor{
		RequestID: "req-5",
		IP:        "6.6.6.6",
		Endpoint:  "/api/users?id=1 UNION SELECT password",
		Method:    "GET",
		Timestamp: daytime,
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.ThreatLevel, types.ThreatLevelMedium)

	active, err := incidents.GetActiveIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Contains(t, active[0].Tags, "automated")
	assert.Equal(t, "6.6.6.6", active[0].Metadata["source_ip"])
}

func TestAnalyzeRequestHistoryBounded(t *testing.T) {
	svc, _, _ := testService(t, ServiceConfig{HistoryLimit: 3, AutoRespond: false})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.AnalyzeRequest(ctx, types.RequestDescriptor{
			RequestID: fmt.Sprintf("req-%d", i),
			IP:        "1.2.3.4",
			Endpoint:  "/api/data",
			Method:    "GET",
			Timestamp: daytime,
		})
		require.NoError(t, err)
	}

	history, err := svc.GetThreatHistory(ctx, 100)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "req-2", history[0].RequestID)
	assert.Equal(t, "req-4", history[2].RequestID)
}

func TestGetThreatHistoryLimit(t *testing.T) {
	svc, _, _ := testService(t, ServiceConfig{HistoryLimit: 10, AutoRespond: false})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := svc.AnalyzeRequest(ctx, types.RequestDescriptor{
			RequestID: fmt.Sprintf("req-%d", i),
			IP:        "1.2.3.4",
			Endpoint:  "/api/data",
			Method:    "GET",
			Timestamp: daytime,
		})
		require.NoError(t, err)
	}

	history, err := svc.GetThreatHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "req-3", history[1].RequestID)
}

func TestGetThreatMetrics(t *testing.T) {
	svc, _, _ := testService(t, ServiceConfig{HistoryLimit: 10, AutoRespond: false})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.AnalyzeRequest(ctx, types.RequestDescriptor{
			RequestID: fmt.Sprintf("req-%d", i),
			IP:        "1.2.3.4",
			Endpoint:  "/api/data",
			Method:    "GET",
			Timestamp: daytime,
		})
		require.NoError(t, err)
	}

	metrics, err := svc.GetThreatMetrics(ctx, time.Now().Add(-time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, metrics.TotalAnalyzed)
	assert.Equal(t, 3, metrics.CountsByLevel["low"])
	assert.NotEmpty(t, metrics.Trend)
}

func TestGetThreatMetricsRejectsInvertedRange(t *testing.T) {
	svc, _, _ := testService(t, DefaultServiceConfig())

	now := time.Now()
	_, err := svc.GetThreatMetrics(context.Background(), now, now.Add(-time.Hour))
	assert.Error(t, err)
}

func TestDetectAnomaliesService(t *testing.T) {
	svc, _, _ := testService(t, DefaultServiceConfig())

	result, err := svc.DetectAnomalies(context.Background(), "alice", "1.2.3.4", "/api/admin/users")
	require.NoError(t, err)
	assert.Equal(t, "alice", result.UserID)
	assert.NotEmpty(t, result.Anomalies)
	assert.Greater(t, result.AnomalyScore, 0.0)
}
