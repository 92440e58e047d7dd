package threat

import (
	"sort"

	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

// typeWeights lets high-certainty signal types dominate the aggregate
// even when many low-weight signals are also present.
var typeWeights = map[types.IndicatorType]float64{
	types.IndicatorMaliciousIP:        1.0,
	types.IndicatorSuspiciousPattern:  0.9,
	types.IndicatorRapidFire:          0.8,
	types.IndicatorHighFrequency:      0.8,
	types.IndicatorSensitiveEndpoint:  0.7,
	types.IndicatorMultipleUsersPerIP: 0.7,
	types.IndicatorElevatedFrequency:  0.6,
	types.IndicatorSuspiciousUA:       0.6,
	types.IndicatorUnusualEndpoint:    0.5,
	types.IndicatorUnusualTiming:      0.4,
}

const defaultTypeWeight = 0.5

// RiskScorer aggregates indicators and anomalies into a normalized risk
// score and a discrete threat level.
type RiskScorer struct{}

func NewRiskScorer() *RiskScorer {
	return &RiskScorer{}
}

// ScoreIndicators computes the weighted average risk of a set of
// indicators. Each indicator contributes confidence x severity
// multiplier x type weight; only the type weights normalize the
// denominator. An empty list scores 0.0.
func (s *RiskScorer) ScoreIndicators(indicators []types.ThreatIndicator) float64 {
	if len(indicators) == 0 {
		return 0.0
	}

	var sum, weightSum float64
	for _, ind := range indicators {
		weight := weightFor(ind.Type)
		sum += clamp01(ind.Confidence) * ind.Severity.Multiplier() * weight
		weightSum += weight
	}

	if weightSum == 0 {
		return 0.0
	}
	return clamp01(sum / weightSum)
}

// ScoreAnomalies computes the weighted average anomaly score, using the
// same weighting scheme keyed by the anomaly's indicator type.
func (s *RiskScorer) ScoreAnomalies(anomalies []types.Anomaly) float64 {
	if len(anomalies) == 0 {
		return 0.0
	}

	var sum, weightSum float64
	for _, a := range anomalies {
		weight := weightFor(a.Indicator)
		sum += clamp01(a.Confidence) * a.Severity.Multiplier() * weight
		weightSum += weight
	}

	if weightSum == 0 {
		return 0.0
	}
	return clamp01(sum / weightSum)
}

// ThreatLevelOf maps a risk score onto the ordered threat levels via
// fixed thresholds.
func (s *RiskScorer) ThreatLevelOf(riskScore float64) types.ThreatLevel {
	switch {
	case riskScore >= 0.8:
		return types.ThreatLevelCritical
	case riskScore >= 0.6:
		return types.ThreatLevelHigh
	case riskScore >= 0.4:
		return types.ThreatLevelMedium
	default:
		return types.ThreatLevelLow
	}
}

// Recommendations runs both the level-based and the type-based
// generators and de-duplicates their output. A known-malicious-IP
// indicator always recommends an immediate block regardless of the
// aggregate score.
func (s *RiskScorer) Recommendations(level types.ThreatLevel, indicators []types.ThreatIndicator) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)

	add := func(rec string) {
		if !seen[rec] {
			seen[rec] = true
			out = append(out, rec)
		}
	}

	switch level {
	case types.ThreatLevelCritical:
		add("Block the source immediately and escalate to the security team")
	case types.ThreatLevelHigh:
		add("Apply a temporary block and increase monitoring for this source")
	case types.ThreatLevelMedium:
		add("Increase monitoring for this source")
	default:
		add("No action required")
	}

	present := make(map[types.IndicatorType]bool)
	for _, ind := range indicators {
		present[ind.Type] = true
	}

	ordered := make([]types.IndicatorType, 0, len(present))
	for t := range present {
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	for _, t := range ordered {
		switch t {
		case types.IndicatorMaliciousIP:
			add("Block IP immediately")
		case types.IndicatorHighFrequency, types.IndicatorRapidFire:
			add("Apply stricter rate limits to this identifier")
		case types.IndicatorSuspiciousPattern:
			add("Review request payloads for injection attempts")
		case types.IndicatorSuspiciousUA:
			add("Challenge or block automated clients")
		case types.IndicatorMultipleUsersPerIP:
			add("Investigate possible credential stuffing from a shared IP")
		case types.IndicatorSensitiveEndpoint:
			add("Review access permissions for sensitive endpoints")
		}
	}

	return out
}

func weightFor(t types.IndicatorType) float64 {
	if w, ok := typeWeights[t]; ok {
		return w
	}
	return defaultTypeWeight
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
