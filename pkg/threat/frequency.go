package threat

import (
	"context"
	"fmt"
	"time"

	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/store"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

const frequencyKeyFormat = "security:frequency:%s:%s"

// FrequencyConfig holds the burst-abuse thresholds.
type FrequencyConfig struct {
	Window          time.Duration `mapstructure:"window"`
	HighThreshold   int64         `mapstructure:"high_threshold"`
	MediumThreshold int64         `mapstructure:"medium_threshold"`
}

func DefaultFrequencyConfig() FrequencyConfig {
	return FrequencyConfig{
		Window:          5 * time.Minute,
		HighThreshold:   100,
		MediumThreshold: 50,
	}
}

// FrequencyAnalyzer tracks short-window request counts per (IP, user)
// pair to flag burst abuse.
type FrequencyAnalyzer struct {
	store  store.KeyValueStore
	config FrequencyConfig
	logger *logger.StructuredLogger
}

func NewFrequencyAnalyzer(kv store.KeyValueStore, config FrequencyConfig, log *logger.StructuredLogger) *FrequencyAnalyzer {
	return &FrequencyAnalyzer{store: kv, config: config, logger: log}
}

// AnalyzeFrequency increments the (ip, user) counter and flags it when a
// threshold is crossed. At most one indicator fires per call; the high
// threshold takes precedence. Store failures forfeit detection for this
// request rather than blocking it.
func (f *FrequencyAnalyzer) AnalyzeFrequency(ctx context.Context, ip, userID string) []types.ThreatIndicator {
	key := fmt.Sprintf(frequencyKeyFormat, ip, userID)

	count, err := f.store.Incr(ctx, key, f.config.Window)
	if err != nil {
		f.logger.LogError(ctx, err, "frequency_analysis", map[string]interface{}{
			"ip":      ip,
			"user_id": userID,
		})
		return nil
	}

	switch {
	case count > f.config.HighThreshold:
		return []types.ThreatIndicator{{
			Type:        types.IndicatorHighFrequency,
			Description: fmt.Sprintf("High request frequency: %d requests within %s", count, f.config.Window),
			Confidence:  0.8,
			Severity:    types.SeverityHigh,
			Metadata: map[string]interface{}{
				"count":     count,
				"threshold": f.config.HighThreshold,
				"window":    f.config.Window.String(),
			},
		}}
	case count > f.config.MediumThreshold:
		return []types.ThreatIndicator{{
			Type:        types.IndicatorElevatedFrequency,
			Description: fmt.Sprintf("Elevated request frequency: %d requests within %s", count, f.config.Window),
			Confidence:  0.6,
			Severity:    types.SeverityMedium,
			Metadata: map[string]interface{}{
				"count":     count,
				"threshold": f.config.MediumThreshold,
				"window":    f.config.Window.String(),
			},
		}}
	}

	return nil
}
