package threat

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

func indicator(t types.IndicatorType, severity types.Severity, confidence float64) types.ThreatIndicator {
	return types.ThreatIndicator{
		Type:       t,
		Severity:   severity,
		Confidence: confidence,
	}
}

func TestScoreIndicatorsEmpty(t *testing.T) {
	scorer := NewRiskScorer()
	assert.Equal(t, 0.0, scorer.ScoreIndicators(nil))
	assert.Equal(t, types.ThreatLevelLow, scorer.ThreatLevelOf(0.0))
}

func TestScoreIndicatorsSingleMax(t *testing.T) {
	scorer := NewRiskScorer()

	// Full confidence, critical severity: the weighted average equals
	// confidence x multiplier regardless of the type weight.
	score := scorer.ScoreIndicators([]types.ThreatIndicator{
		indicator(types.IndicatorMaliciousIP, types.SeverityCritical, 1.0),
	})
	assert.InDelta(t, 1.0, score, 1e-9)
	assert.Equal(t, types.ThreatLevelCritical, scorer.ThreatLevelOf(score))
}

func TestScoreIndicatorsWeightedAverage(t *testing.T) {
	scorer := NewRiskScorer()

	// malicious IP: 0.9 x 1.0 x 1.0 = 0.9, weight 1.0
	// unusual timing: 0.5 x 0.6 x 0.4 = 0.12, weight 0.4
	// avg = (0.9 + 0.12) / 1.4
	score := scorer.ScoreIndicators([]types.ThreatIndicator{
		indicator(types.IndicatorMaliciousIP, types.SeverityCritical, 0.9),
		indicator(types.IndicatorUnusualTiming, types.SeverityMedium, 0.5),
	})
	assert.InDelta(t, (0.9+0.12)/1.4, score, 1e-9)
}

func TestScoreIndicatorsClampsConfidence(t *testing.T) {
	scorer := NewRiskScorer()

	score := scorer.ScoreIndicators([]types.ThreatIndicator{
		indicator(types.IndicatorMaliciousIP, types.SeverityCritical, 7.5),
	})
	assert.LessOrEqual(t, score, 1.0)
}

func TestScoreIndicatorsBounded(t *testing.T) {
	scorer := NewRiskScorer()

	all := []types.ThreatIndicator{
		indicator(types.IndicatorMaliciousIP, types.SeverityCritical, 1.0),
		indicator(types.IndicatorSuspiciousPattern, types.SeverityHigh, 0.8),
		indicator(types.IndicatorRapidFire, types.SeverityHigh, 0.8),
		indicator(types.IndicatorHighFrequency, types.SeverityHigh, 0.8),
		indicator(types.IndicatorUnusualTiming, types.SeverityLow, 0.3),
		indicator(types.IndicatorType("unknown_type"), types.SeverityMedium, 0.5),
	}
	score := scorer.ScoreIndicators(all)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestScoreIndicatorsBoundedRandomized(t *testing.T) {
	scorer := NewRiskScorer()
	rng := rand.New(rand.NewSource(1))

	indicatorTypes := []types.IndicatorType{
		types.IndicatorMaliciousIP,
		types.IndicatorSuspiciousPattern,
		types.IndicatorRapidFire,
		types.IndicatorHighFrequency,
		types.IndicatorElevatedFrequency,
		types.IndicatorSensitiveEndpoint,
		types.IndicatorMultipleUsersPerIP,
		types.IndicatorSuspiciousUA,
		types.IndicatorUnusualEndpoint,
		types.IndicatorUnusualTiming,
		types.IndicatorType("unknown_type"),
	}
	severities := []types.Severity{
		types.SeverityCritical,
		types.SeverityHigh,
		types.SeverityMedium,
		types.SeverityLow,
		types.Severity("bogus"),
	}

	for i := 0; i < 500; i++ {
		indicators := make([]types.ThreatIndicator, rng.Intn(10)+1)
		for j := range indicators {
			// Confidence deliberately ranges outside [0,1] to cover
			// clamping.
			indicators[j] = indicator(
				indicatorTypes[rng.Intn(len(indicatorTypes))],
				severities[rng.Intn(len(severities))],
				rng.Float64()*4-1,
			)
		}

		score := scorer.ScoreIndicators(indicators)
		assert.GreaterOrEqual(t, score, 0.0, "iteration %d: %+v", i, indicators)
		assert.LessOrEqual(t, score, 1.0, "iteration %d: %+v", i, indicators)

		level := scorer.ThreatLevelOf(score)
		assert.Contains(t, []types.ThreatLevel{
			types.ThreatLevelLow,
			types.ThreatLevelMedium,
			types.ThreatLevelHigh,
			types.ThreatLevelCritical,
		}, level)
	}
}

func TestThreatLevelThresholds(t *testing.T) {
	scorer := NewRiskScorer()

	tests := []struct {
		score float64
		level types.ThreatLevel
	}{
		{0.0, types.ThreatLevelLow},
		{0.39, types.ThreatLevelLow},
		{0.4, types.ThreatLevelMedium},
		{0.59, types.ThreatLevelMedium},
		{0.6, types.ThreatLevelHigh},
		{0.79, types.ThreatLevelHigh},
		{0.8, types.ThreatLevelCritical},
		{1.0, types.ThreatLevelCritical},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.level, scorer.ThreatLevelOf(tc.score), "score %.2f", tc.score)
	}
}

func TestRecommendationsMaliciousIPAlwaysBlocks(t *testing.T) {
	scorer := NewRiskScorer()

	recs := scorer.Recommendations(types.ThreatLevelLow, []types.ThreatIndicator{
		indicator(types.IndicatorMaliciousIP, types.SeverityHigh, 0.9),
	})
	assert.Contains(t, recs, "Block IP immediately")
}

func TestRecommendationsDeterministicAndDeduplicated(t *testing.T) {
	scorer := NewRiskScorer()

	indicators := []types.ThreatIndicator{
		indicator(types.IndicatorRapidFire, types.SeverityHigh, 0.8),
		indicator(types.IndicatorHighFrequency, types.SeverityHigh, 0.8),
		indicator(types.IndicatorRapidFire, types.SeverityHigh, 0.8),
	}

	first := scorer.Recommendations(types.ThreatLevelHigh, indicators)
	second := scorer.Recommendations(types.ThreatLevelHigh, indicators)
	assert.Equal(t, first, second)

	// Both frequency-style indicators collapse to one recommendation.
	count := 0
	for _, rec := range first {
		if rec == "Apply stricter rate limits to this identifier" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
