package types

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Severity classifies how serious a single signal or pattern is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Multiplier returns the weighting factor used during risk aggregation.
func (s Severity) Multiplier() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.8
	case SeverityMedium:
		return 0.6
	default:
		return 0.4
	}
}

// ThreatLevel is the discrete classification derived from a risk score.
// Levels are strictly ordered: Low < Medium < High < Critical.
type ThreatLevel int

const (
	ThreatLevelLow ThreatLevel = iota
	ThreatLevelMedium
	ThreatLevelHigh
	ThreatLevelCritical
)

func (l ThreatLevel) String() string {
	switch l {
	case ThreatLevelCritical:
		return "critical"
	case ThreatLevelHigh:
		return "high"
	case ThreatLevelMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParseThreatLevel maps the wire representation back to a level.
// Unknown strings parse as Low.
func ParseThreatLevel(raw string) ThreatLevel {
	switch raw {
	case "critical":
		return ThreatLevelCritical
	case "high":
		return ThreatLevelHigh
	case "medium":
		return ThreatLevelMedium
	default:
		return ThreatLevelLow
	}
}

// IdentifierKind tells the limiter what entity a rule counts against.
type IdentifierKind string

const (
	IdentifierIP     IdentifierKind = "ip"
	IdentifierUser   IdentifierKind = "user"
	IdentifierAPIKey IdentifierKind = "api_key"
)

// RateLimitRule describes one request budget. Rules are immutable once
// loaded; the catalog holds an ordered set and the highest-priority rule
// matching an endpoint wins.
type RateLimitRule struct {
	Name          string         `json:"name" yaml:"name"`
	Endpoint      string         `json:"endpoint" yaml:"endpoint"`
	Identifier    IdentifierKind `json:"identifier" yaml:"identifier"`
	MaxRequests   int64          `json:"max_requests" yaml:"max_requests"`
	Window        time.Duration  `json:"window" yaml:"window"`
	BurstLimit    int64          `json:"burst_limit" yaml:"burst_limit"`
	BlockDuration time.Duration  `json:"block_duration" yaml:"block_duration"`
	Enabled       bool           `json:"enabled" yaml:"enabled"`
	Priority      int            `json:"priority" yaml:"priority"`
}

// RateLimitResult is the per-request limiter decision.
type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Remaining int64     `json:"remaining"`
	Total     int64     `json:"total"`
	ResetTime time.Time `json:"reset_time"`
	Reason    string    `json:"reason,omitempty"`
	RuleName  string    `json:"rule_name,omitempty"`
}

// RateLimitStatus is a read-only view recomputed from live counters,
// never persisted on its own.
type RateLimitStatus struct {
	Identifier   string     `json:"identifier"`
	Endpoint     string     `json:"endpoint"`
	CurrentCount int64      `json:"current_count"`
	Remaining    int64      `json:"remaining"`
	WindowStart  time.Time  `json:"window_start"`
	WindowEnd    time.Time  `json:"window_end"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

// PatternEngine selects how a threat pattern string is evaluated.
type PatternEngine string

const (
	PatternEngineRegex     PatternEngine = "regex"
	PatternEngineSubstring PatternEngine = "substring"
)

// ThreatPattern is a named threat signature. Patterns are data, not
// code: new signatures are added by inserting catalog entries.
type ThreatPattern struct {
	ID              string         `json:"id" yaml:"id"`
	Name            string         `json:"name" yaml:"name"`
	Description     string         `json:"description" yaml:"description"`
	Pattern         string         `json:"pattern" yaml:"pattern"`
	Engine          PatternEngine  `json:"engine" yaml:"engine"`
	Regex           *regexp.Regexp `json:"-" yaml:"-"`
	Severity        Severity       `json:"severity" yaml:"severity"`
	Active          bool           `json:"active" yaml:"active"`
	ResponseActions []string       `json:"response_actions" yaml:"response_actions"`
	CreatedAt       time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" yaml:"updated_at"`
}

// IndicatorType labels the kind of evidence an indicator carries.
type IndicatorType string

const (
	IndicatorSuspiciousPattern  IndicatorType = "suspicious_pattern"
	IndicatorMaliciousIP        IndicatorType = "malicious_ip"
	IndicatorSuspiciousUA       IndicatorType = "suspicious_user_agent"
	IndicatorHighFrequency      IndicatorType = "high_frequency"
	IndicatorElevatedFrequency  IndicatorType = "elevated_frequency"
	IndicatorRapidFire          IndicatorType = "rapid_fire_requests"
	IndicatorSensitiveEndpoint  IndicatorType = "sensitive_endpoint_access"
	IndicatorUnusualEndpoint    IndicatorType = "unusual_endpoint_usage"
	IndicatorMultipleUsersPerIP IndicatorType = "multiple_users_same_ip"
	IndicatorUnusualTiming      IndicatorType = "unusual_timing"
)

// ThreatIndicator is a single piece of evidence about one request. It is
// ephemeral and only ever aggregated into a ThreatAnalysisResult.
type ThreatIndicator struct {
	Type        IndicatorType          `json:"type"`
	Description string                 `json:"description"`
	Confidence  float64                `json:"confidence"`
	Severity    Severity               `json:"severity"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// AnomalyType tags the baseline dimension an anomaly deviates from.
type AnomalyType string

const (
	AnomalyBehavioral  AnomalyType = "behavioral"
	AnomalyTemporal    AnomalyType = "temporal"
	AnomalyNetwork     AnomalyType = "network"
	AnomalyApplication AnomalyType = "application"
	AnomalyData        AnomalyType = "data"
)

// Anomaly is an indicator derived from deviation against a historical
// per-user or per-IP baseline.
type Anomaly struct {
	Type        AnomalyType            `json:"type"`
	Indicator   IndicatorType          `json:"indicator"`
	Description string                 `json:"description"`
	Confidence  float64                `json:"confidence"`
	Severity    Severity               `json:"severity"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// RequestDescriptor is the inbound request view handed to the analyzers
// by the host API layer.
type RequestDescriptor struct {
	RequestID string            `json:"request_id"`
	IP        string            `json:"ip"`
	UserID    string            `json:"user_id,omitempty"`
	APIKey    string            `json:"api_key,omitempty"`
	Endpoint  string            `json:"endpoint"`
	Method    string            `json:"method"`
	UserAgent string            `json:"user_agent,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ThreatAnalysisResult aggregates every indicator produced for one
// analyzed request. Risk score and confidence values are always in [0,1].
type ThreatAnalysisResult struct {
	RequestID               string            `json:"request_id"`
	ThreatLevel             ThreatLevel       `json:"threat_level"`
	Indicators              []ThreatIndicator `json:"indicators"`
	RiskScore               float64           `json:"risk_score"`
	Recommendations         []string          `json:"recommendations"`
	RequiresImmediateAction bool              `json:"requires_immediate_action"`
	AnalyzedAt              time.Time         `json:"analyzed_at"`
}

// AnomalyDetectionResult is the ad hoc investigation view over a user's
// behavioral baselines.
type AnomalyDetectionResult struct {
	UserID       string      `json:"user_id"`
	IP           string      `json:"ip"`
	Anomalies    []Anomaly   `json:"anomalies"`
	AnomalyScore float64     `json:"anomaly_score"`
	ThreatLevel  ThreatLevel `json:"threat_level"`
	DetectedAt   time.Time   `json:"detected_at"`
}

// IncidentStatus is the lifecycle state of a security incident.
type IncidentStatus string

const (
	IncidentOpen       IncidentStatus = "open"
	IncidentInProgress IncidentStatus = "in_progress"
	IncidentResolved   IncidentStatus = "resolved"
	IncidentClosed     IncidentStatus = "closed"
	IncidentEscalated  IncidentStatus = "escalated"
)

// SecurityIncident is a tracked record of a security event. The record
// is retained for audit after it leaves the active index; ResolvedAt is
// set exactly when status is Resolved or Closed.
type SecurityIncident struct {
	ID          uuid.UUID              `json:"id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Status      IncidentStatus         `json:"status"`
	Severity    Severity               `json:"severity"`
	Assignee    string                 `json:"assignee,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
	Tags        []string               `json:"tags"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ResponseAction records the outcome of a single mitigation action.
type ResponseAction struct {
	Action     string    `json:"action"`
	Executed   bool      `json:"executed"`
	Result     string    `json:"result"`
	ExecutedAt time.Time `json:"executed_at"`
}

// AutomatedResponseResult is the append-only audit record for one
// automated response run against an incident.
type AutomatedResponseResult struct {
	IncidentID  string           `json:"incident_id"`
	ThreatLevel ThreatLevel      `json:"threat_level"`
	Actions     []ResponseAction `json:"actions"`
	Success     bool             `json:"success"`
	ExecutedAt  time.Time        `json:"executed_at"`
}

// ThreatMetrics is the aggregate reporting shape for dashboards.
type ThreatMetrics struct {
	From              time.Time             `json:"from"`
	To                time.Time             `json:"to"`
	TotalAnalyzed     int                   `json:"total_analyzed"`
	CountsByLevel     map[string]int        `json:"counts_by_level"`
	CountsByIndicator map[IndicatorType]int `json:"counts_by_indicator"`
	Trend             []TrendPoint          `json:"trend"`
	AverageRiskScore  float64               `json:"average_risk_score"`
}

// TrendPoint is one bucket of the metrics trend series.
type TrendPoint struct {
	Bucket time.Time `json:"bucket"`
	Count  int       `json:"count"`
	Level  string    `json:"level,omitempty"`
}
