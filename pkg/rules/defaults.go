package rules

import (
	"time"

	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

var defaultWildcardRule = types.RateLimitRule{
	Name:          "Default",
	Endpoint:      "*",
	Identifier:    types.IdentifierIP,
	MaxRequests:   1000,
	Window:        time.Minute,
	BurstLimit:    50,
	BlockDuration: time.Minute,
	Enabled:       true,
	Priority:      0,
}

// DefaultRateLimitRules returns the built-in rule set used until a rules
// file replaces it.
func DefaultRateLimitRules() []types.RateLimitRule {
	return sortedByPriority([]types.RateLimitRule{
		defaultWildcardRule,
		{
			Name:          "Image Processing",
			Endpoint:      "/api/imageprocessing",
			Identifier:    types.IdentifierIP,
			MaxRequests:   100,
			Window:        time.Minute,
			BurstLimit:    10,
			BlockDuration: 5 * time.Minute,
			Enabled:       true,
			Priority:      10,
		},
		{
			Name:          "Authentication",
			Endpoint:      "/api/auth",
			Identifier:    types.IdentifierIP,
			MaxRequests:   10,
			Window:        time.Minute,
			BurstLimit:    3,
			BlockDuration: 15 * time.Minute,
			Enabled:       true,
			Priority:      20,
		},
		{
			Name:          "Administration",
			Endpoint:      "/api/admin",
			Identifier:    types.IdentifierUser,
			MaxRequests:   50,
			Window:        time.Minute,
			BurstLimit:    5,
			BlockDuration: 10 * time.Minute,
			Enabled:       true,
			Priority:      20,
		},
	})
}

// DefaultThreatPatterns returns the built-in signature set. The four
// categories below ship with every deployment; additional signatures are
// catalog entries, never new matcher code.
func DefaultThreatPatterns() []types.ThreatPattern {
	now := time.Now().UTC()

	patterns := []types.ThreatPattern{
		{
			ID:              "sql_injection_001",
			Name:            "SQL Injection Tokens",
			Description:     "Detects SQL keywords and comment sequences in the request path",
			Pattern:         `(?i)(union\s+select|select\s+\*\s+from|drop\s+table|delete\s+from|insert\s+into|--|;--|'\s+or\s+')`,
			Engine:          types.PatternEngineRegex,
			Severity:        types.SeverityHigh,
			Active:          true,
			ResponseActions: []string{"block_request", "log_incident"},
			CreatedAt:       now,
		},
		{
			ID:              "script_injection_001",
			Name:            "Script Injection",
			Description:     "Detects script tags and inline event handlers",
			Pattern:         `(?i)(<script|javascript:|vbscript:|onload=|onerror=|onclick=|onmouseover=)`,
			Engine:          types.PatternEngineRegex,
			Severity:        types.SeverityHigh,
			Active:          true,
			ResponseActions: []string{"block_request", "log_incident"},
			CreatedAt:       now,
		},
		{
			ID:              "path_traversal_001",
			Name:            "Path Traversal",
			Description:     "Detects directory traversal sequences, including URL-encoded forms",
			Pattern:         `(\.\./|\.\.\\|%2e%2e%2f|%2e%2e\\|%252e%252e)`,
			Engine:          types.PatternEngineRegex,
			Severity:        types.SeverityHigh,
			Active:          true,
			ResponseActions: []string{"block_request", "log_incident"},
			CreatedAt:       now,
		},
		{
			ID:              "proxy_evasion_001",
			Name:            "Proxy Header Evasion",
			Description:     "Detects forwarding headers used to spoof the client address past rate limits",
			Pattern:         `(?i)(x-forwarded-for|x-real-ip|x-originating-ip|x-remote-addr|forwarded:)`,
			Engine:          types.PatternEngineRegex,
			Severity:        types.SeverityMedium,
			Active:          true,
			ResponseActions: []string{"log_incident"},
			CreatedAt:       now,
		},
		{
			ID:              "scanner_ua_001",
			Name:            "Scanner User Agent",
			Description:     "Detects well-known automated scanning tools",
			Pattern:         `(?i)(sqlmap|nikto|nmap|masscan|zap|burpsuite|w3af|gobuster|dirb)`,
			Engine:          types.PatternEngineRegex,
			Severity:        types.SeverityMedium,
			Active:          true,
			ResponseActions: []string{"log_incident", "temporary_block"},
			CreatedAt:       now,
		},
	}

	for i := range patterns {
		// Built-in patterns are vetted constants; a compile failure here
		// is a programming error.
		if err := CompilePattern(&patterns[i]); err != nil {
			panic(err)
		}
	}

	return patterns
}
