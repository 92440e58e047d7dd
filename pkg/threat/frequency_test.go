package threat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/store"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

func testFrequencyAnalyzer(t *testing.T, config FrequencyConfig) (*FrequencyAnalyzer, *store.MemoryStore) {
	t.Helper()
	kv := store.NewMemoryStore()
	return NewFrequencyAnalyzer(kv, config, logger.NewStructuredLogger("error", "json")), kv
}

func TestAnalyzeFrequencyBelowThresholds(t *testing.T) {
	analyzer, _ := testFrequencyAnalyzer(t, FrequencyConfig{
		Window:          time.Minute,
		HighThreshold:   10,
		MediumThreshold: 5,
	})

	for i := 0; i < 5; i++ {
		indicators := analyzer.AnalyzeFrequency(context.Background(), "1.2.3.4", "alice")
		assert.Empty(t, indicators, "request %d", i+1)
	}
}

func TestAnalyzeFrequencyMediumThenHigh(t *testing.T) {
	analyzer, _ := testFrequencyAnalyzer(t, FrequencyConfig{
		Window:          time.Minute,
		HighThreshold:   10,
		MediumThreshold: 5,
	})
	ctx := context.Background()

	var last []types.ThreatIndicator
	for i := 0; i < 6; i++ {
		last = analyzer.AnalyzeFrequency(ctx, "1.2.3.4", "alice")
	}
	require.Len(t, last, 1)
	assert.Equal(t, types.IndicatorElevatedFrequency, last[0].Type)
	assert.Equal(t, types.SeverityMedium, last[0].Severity)
	assert.Equal(t, 0.6, last[0].Confidence)

	for i := 6; i < 11; i++ {
		last = analyzer.AnalyzeFrequency(ctx, "1.2.3.4", "alice")
	}
	require.Len(t, last, 1)

	// Only the high indicator fires once its threshold is crossed.
	assert.Equal(t, types.IndicatorHighFrequency, last[0].Type)
	assert.Equal(t, types.SeverityHigh, last[0].Severity)
}

func TestAnalyzeFrequencyScopedPerPair(t *testing.T) {
	analyzer, _ := testFrequencyAnalyzer(t, FrequencyConfig{
		Window:          time.Minute,
		HighThreshold:   10,
		MediumThreshold: 2,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		analyzer.AnalyzeFrequency(ctx, "1.2.3.4", "alice")
	}

	// Same IP, different user starts a fresh counter.
	indicators := analyzer.AnalyzeFrequency(ctx, "1.2.3.4", "bob")
	assert.Empty(t, indicators)
}

func TestAnalyzeFrequencyWindowExpiry(t *testing.T) {
	analyzer, kv := testFrequencyAnalyzer(t, FrequencyConfig{
		Window:          time.Minute,
		HighThreshold:   10,
		MediumThreshold: 2,
	})
	ctx := context.Background()

	now := time.Now()
	kv.Clock = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		analyzer.AnalyzeFrequency(ctx, "1.2.3.4", "alice")
	}
	require.NotEmpty(t, analyzer.AnalyzeFrequency(ctx, "1.2.3.4", "alice"))

	now = now.Add(2 * time.Minute)
	assert.Empty(t, analyzer.AnalyzeFrequency(ctx, "1.2.3.4", "alice"))
}

func TestAnalyzeFrequencyStoreFailure(t *testing.T) {
	analyzer := NewFrequencyAnalyzer(&failingKV{}, DefaultFrequencyConfig(), logger.NewStructuredLogger("error", "json"))

	indicators := analyzer.AnalyzeFrequency(context.Background(), "1.2.3.4", "alice")
	assert.Nil(t, indicators)
}
