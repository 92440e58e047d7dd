package threat

import (
	"fmt"
	"strings"

	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/rules"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

// patternConfidence reflects pattern-based detection's moderate
// certainty versus learned-baseline detection.
const patternConfidence = 0.8

// PatternMatcher evaluates requests against the catalog's active threat
// signatures. Matching is data-driven: signatures are catalog entries,
// never matcher code.
type PatternMatcher struct {
	catalog *rules.Catalog
	logger  *logger.StructuredLogger
}

func NewPatternMatcher(catalog *rules.Catalog, log *logger.StructuredLogger) *PatternMatcher {
	return &PatternMatcher{catalog: catalog, logger: log}
}

// Match evaluates every active pattern against the request's endpoint,
// method, user agent and header names. Each match yields one indicator
// carrying the pattern's severity.
func (m *PatternMatcher) Match(endpoint, method, userAgent string, headers map[string]string) []types.ThreatIndicator {
	indicators := make([]types.ThreatIndicator, 0)

	target := strings.ToLower(fmt.Sprintf("%s %s", method, endpoint))
	agent := strings.ToLower(userAgent)
	headerLine := headerTarget(headers)

	for _, pattern := range m.catalog.ActivePatterns() {
		matchedField := ""
		if patternMatches(pattern, target) {
			matchedField = "endpoint"
		} else if agent != "" && patternMatches(pattern, agent) {
			matchedField = "user_agent"
		} else if headerLine != "" && patternMatches(pattern, headerLine) {
			matchedField = "headers"
		}
		if matchedField == "" {
			continue
		}

		indicatorType := types.IndicatorSuspiciousPattern
		if matchedField == "user_agent" {
			indicatorType = types.IndicatorSuspiciousUA
		}

		indicators = append(indicators, types.ThreatIndicator{
			Type:        indicatorType,
			Description: fmt.Sprintf("%s: %s", pattern.Name, pattern.Description),
			Confidence:  patternConfidence,
			Severity:    pattern.Severity,
			Metadata: map[string]interface{}{
				"pattern_id":       pattern.ID,
				"matched_field":    matchedField,
				"response_actions": pattern.ResponseActions,
			},
		})
	}

	return indicators
}

// headerTarget flattens headers into one lowercased "name: value" line
// per header so signatures can match on either part.
func headerTarget(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	var b strings.Builder
	for name, value := range headers {
		b.WriteString(strings.ToLower(name))
		b.WriteString(": ")
		b.WriteString(strings.ToLower(value))
		b.WriteString("\n")
	}
	return b.String()
}

func patternMatches(pattern types.ThreatPattern, target string) bool {
	switch pattern.Engine {
	case types.PatternEngineSubstring:
		return strings.Contains(target, strings.ToLower(pattern.Pattern))
	default:
		return pattern.Regex != nil && pattern.Regex.MatchString(target)
	}
}
