package threat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/rules"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

func testMatcher(t *testing.T) (*PatternMatcher, *rules.Catalog) {
	t.Helper()
	log := logger.NewStructuredLogger("error", "json")
	catalog := rules.NewCatalog(log)
	return NewPatternMatcher(catalog, log), catalog
}

func TestMatchSQLInjection(t *testing.T) {
	matcher, _ := testMatcher(t)

	indicators := matcher.Match("/api/users?id=1 UNION SELECT password", "GET", "", nil)
	require.NotEmpty(t, indicators)
	assert.Equal(t, types.IndicatorSuspiciousPattern, indicators[0].Type)
	assert.Equal(t, types.SeverityHigh, indicators[0].Severity)
	assert.Equal(t, 0.8, indicators[0].Confidence)
	assert.Equal(t, "sql_injection_001", indicators[0].Metadata["pattern_id"])
}

func TestMatchPathTraversal(t *testing.T) {
	matcher, _ := testMatcher(t)

	indicators := matcher.Match("/files/../../etc/passwd", "GET", "", nil)
	require.NotEmpty(t, indicators)
	assert.Equal(t, "path_traversal_001", indicators[0].Metadata["pattern_id"])
}

func TestMatchScannerUserAgent(t *testing.T) {
	matcher, _ := testMatcher(t)

	indicators := matcher.Match("/api/users", "GET", "sqlmap/1.7", nil)
	require.Len(t, indicators, 1)
	assert.Equal(t, types.IndicatorSuspiciousUA, indicators[0].Type)
	assert.Equal(t, "user_agent", indicators[0].Metadata["matched_field"])
}

func TestMatchForwardingHeaders(t *testing.T) {
	matcher, _ := testMatcher(t)

	indicators := matcher.Match("/api/users", "GET", "Mozilla/5.0", map[string]string{
		"X-Forwarded-For": "10.0.0.1",
	})
	require.Len(t, indicators, 1)
	assert.Equal(t, "proxy_evasion_001", indicators[0].Metadata["pattern_id"])
	assert.Equal(t, "headers", indicators[0].Metadata["matched_field"])
}

func TestMatchBenignRequest(t *testing.T) {
	matcher, _ := testMatcher(t)

	indicators := matcher.Match("/api/imageprocessing/resize", "POST", "Mozilla/5.0", nil)
	assert.Empty(t, indicators)
}

func TestMatchIsCaseInsensitive(t *testing.T) {
	matcher, _ := testMatcher(t)

	lower := matcher.Match("/api/q?v=union select", "get", "", nil)
	upper := matcher.Match("/api/q?v=UNION SELECT", "GET", "", nil)
	require.NotEmpty(t, lower)
	require.NotEmpty(t, upper)
	assert.Equal(t, lower[0].Metadata["pattern_id"], upper[0].Metadata["pattern_id"])
}

func TestMatchHonorsCatalogUpdates(t *testing.T) {
	matcher, catalog := testMatcher(t)

	require.NoError(t, catalog.UpsertThreatPattern(types.ThreatPattern{
		ID:       "custom_001",
		Name:     "Custom Marker",
		Pattern:  "forbidden-token",
		Engine:   types.PatternEngineSubstring,
		Severity: types.SeverityMedium,
		Active:   true,
	}))

	indicators := matcher.Match("/api/search?q=forbidden-token", "GET", "", nil)
	found := false
	for _, ind := range indicators {
		if ind.Metadata["pattern_id"] == "custom_001" {
			found = true
		}
	}
	assert.True(t, found)

	// Deactivating via replace removes it from matching.
	require.NoError(t, catalog.UpsertThreatPattern(types.ThreatPattern{
		ID:       "custom_001",
		Name:     "Custom Marker",
		Pattern:  "forbidden-token",
		Engine:   types.PatternEngineSubstring,
		Severity: types.SeverityMedium,
		Active:   false,
	}))
	indicators = matcher.Match("/api/search?q=forbidden-token", "GET", "", nil)
	for _, ind := range indicators {
		assert.NotEqual(t, "custom_001", ind.Metadata["pattern_id"])
	}
}
