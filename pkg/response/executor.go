package response

import (
	"context"
	"fmt"
	"time"

	"github.com/danieleschmidt/request-sentinel/pkg/incident"
	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/store"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
	"github.com/sirupsen/logrus"
)

// Known action names. Policy configuration is data-driven: action lists
// reference these by name and unknown names degrade to failed no-ops.
const (
	ActionBlockRequest      = "block_request"
	ActionLogIncident       = "log_incident"
	ActionNotifyAdmin       = "notify_admin"
	ActionIncreaseRateLimit = "increase_rate_limit"
	ActionTemporaryBlock    = "temporary_block"
)

// Handler executes one mitigation action against an incident. The
// incident may be nil when the referenced record could not be loaded;
// handlers that need it fail individually.
type Handler func(ctx context.Context, inc *types.SecurityIncident, level types.ThreatLevel) (string, error)

// Config tunes the built-in handlers.
type Config struct {
	BlockDuration     time.Duration `mapstructure:"block_duration"`
	TempBlockDuration time.Duration `mapstructure:"temp_block_duration"`
	AdminChannel      string        `mapstructure:"admin_channel"`
}

func DefaultConfig() Config {
	return Config{
		BlockDuration:     time.Hour,
		TempBlockDuration: 15 * time.Minute,
		AdminChannel:      "security-alerts",
	}
}

// Executor performs or simulates mitigation actions and records the
// outcome per action. Handlers are registered at startup; the executor
// never switches on action names.
type Executor struct {
	store     store.KeyValueStore
	incidents *incident.Manager
	logger    *logger.StructuredLogger
	config    Config
	handlers  map[string]Handler
}

func NewExecutor(kv store.KeyValueStore, incidents *incident.Manager, config Config, log *logger.StructuredLogger) *Executor {
	e := &Executor{
		store:     kv,
		incidents: incidents,
		logger:    log,
		config:    config,
		handlers:  make(map[string]Handler),
	}

	e.Register(ActionBlockRequest, e.blockRequest)
	e.Register(ActionLogIncident, e.logIncident)
	e.Register(ActionNotifyAdmin, e.notifyAdmin)
	e.Register(ActionIncreaseRateLimit, e.increaseRateLimit)
	e.Register(ActionTemporaryBlock, e.temporaryBlock)

	return e
}

// Register adds or replaces the handler for an action name.
func (e *Executor) Register(action string, handler Handler) {
	e.handlers[action] = handler
}

// Handles reports whether an action name has a registered handler.
func (e *Executor) Handles(action string) bool {
	_, ok := e.handlers[action]
	return ok
}

// Execute runs each named action independently, in input order. A
// failure in one action does not abort the others; overall Success is
// the logical AND of all action outcomes.
func (e *Executor) Execute(ctx context.Context, incidentID string, level types.ThreatLevel, actions []string) types.AutomatedResponseResult {
	result := types.AutomatedResponseResult{
		IncidentID:  incidentID,
		ThreatLevel: level,
		Actions:     make([]types.ResponseAction, 0, len(actions)),
		Success:     true,
		ExecutedAt:  time.Now().UTC(),
	}

	var inc *types.SecurityIncident
	if incidentID != "" {
		loaded, err := e.incidents.Get(ctx, incidentID)
		if err != nil {
			e.logger.WithError(err).WithField("incident_id", incidentID).Warn("Executing response without incident record")
		} else {
			inc = loaded
		}
	}

	for _, action := range actions {
		record := types.ResponseAction{
			Action:     action,
			ExecutedAt: time.Now().UTC(),
		}

		handler, ok := e.handlers[action]
		if !ok {
			record.Executed = false
			record.Result = fmt.Sprintf("unknown action: %s", action)
			result.Success = false
			result.Actions = append(result.Actions, record)
			continue
		}

		outcome, err := handler(ctx, inc, level)
		if err != nil {
			record.Executed = false
			record.Result = err.Error()
			result.Success = false
		} else {
			record.Executed = true
			record.Result = outcome
		}
		result.Actions = append(result.Actions, record)
	}

	e.appendAudit(ctx, incidentID, result)

	e.logger.WithFields(logrus.Fields{
		"incident_id": incidentID,
		"level":       level.String(),
		"actions":     len(actions),
		"success":     result.Success,
	}).Info("Automated response executed")

	return result
}

// Built-in handlers

func (e *Executor) blockRequest(ctx context.Context, inc *types.SecurityIncident, level types.ThreatLevel) (string, error) {
	ip := sourceIP(inc)
	if ip == "" {
		return "", fmt.Errorf("no source IP on incident, cannot block")
	}

	until := time.Now().Add(e.config.BlockDuration)
	record := map[string]interface{}{
		"blocked_until": until,
		"reason":        "automated block",
		"level":         level.String(),
	}
	if err := e.store.Set(ctx, store.BlockedIPKey(ip), record, e.config.BlockDuration); err != nil {
		return "", fmt.Errorf("failed to write block record: %w", err)
	}

	return fmt.Sprintf("blocked %s until %s", ip, until.Format(time.RFC3339)), nil
}

func (e *Executor) logIncident(ctx context.Context, inc *types.SecurityIncident, level types.ThreatLevel) (string, error) {
	title := fmt.Sprintf("Automated response at level %s", level.String())
	metadata := map[string]interface{}{}
	if inc != nil {
		title = fmt.Sprintf("Automated follow-up: %s", inc.Title)
		metadata["parent_incident"] = inc.ID.String()
	}

	created, err := e.incidents.Create(ctx, title, "Incident recorded by automated response", severityFor(level), []string{"automated"}, metadata)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("incident %s logged", created.ID.String()), nil
}

func (e *Executor) notifyAdmin(ctx context.Context, inc *types.SecurityIncident, level types.ThreatLevel) (string, error) {
	fields := map[string]interface{}{
		"channel": e.config.AdminChannel,
		"level":   level.String(),
	}
	target := ""
	if inc != nil {
		fields["incident_id"] = inc.ID.String()
		target = inc.Title
	}

	e.logger.SecurityEvent("admin_notification", "response_executor", target, string(severityFor(level)), fields)
	return fmt.Sprintf("admin notified on %s", e.config.AdminChannel), nil
}

func (e *Executor) increaseRateLimit(ctx context.Context, inc *types.SecurityIncident, level types.ThreatLevel) (string, error) {
	ip := sourceIP(inc)
	if ip == "" {
		return "", fmt.Errorf("no source IP on incident, cannot tighten limits")
	}

	// The limiter divides the matched rule's budget by this factor for
	// the identifier while the record lives.
	record := map[string]interface{}{
		"factor": 2,
		"level":  level.String(),
	}
	if err := e.store.Set(ctx, store.TightenedKey(ip), record, e.config.BlockDuration); err != nil {
		return "", fmt.Errorf("failed to write rate limit override: %w", err)
	}

	return fmt.Sprintf("rate limits tightened for %s", ip), nil
}

func (e *Executor) temporaryBlock(ctx context.Context, inc *types.SecurityIncident, level types.ThreatLevel) (string, error) {
	ip := sourceIP(inc)
	if ip == "" {
		return "", fmt.Errorf("no source IP on incident, cannot block")
	}

	until := time.Now().Add(e.config.TempBlockDuration)
	record := map[string]interface{}{
		"blocked_until": until,
		"reason":        "temporary automated block",
		"level":         level.String(),
	}
	if err := e.store.Set(ctx, store.BlockedIPKey(ip), record, e.config.TempBlockDuration); err != nil {
		return "", fmt.Errorf("failed to write block record: %w", err)
	}

	return fmt.Sprintf("temporarily blocked %s until %s", ip, until.Format(time.RFC3339)), nil
}

// appendAudit adds the run to the incident's append-only audit trail.
// Audit write failures are surfaced in logs but do not fail the run
// retroactively.
func (e *Executor) appendAudit(ctx context.Context, incidentID string, result types.AutomatedResponseResult) {
	if incidentID == "" {
		return
	}

	key := store.ResponseAuditKey(incidentID)
	var trail []types.AutomatedResponseResult
	if err := e.store.Get(ctx, key, &trail); err != nil && err != store.ErrKeyNotFound {
		e.logger.LogError(ctx, err, "response_audit_read", map[string]interface{}{"incident_id": incidentID})
		return
	}

	trail = append(trail, result)
	if err := e.store.Set(ctx, key, trail, 0); err != nil {
		e.logger.LogError(ctx, err, "response_audit_write", map[string]interface{}{"incident_id": incidentID})
	}
}

// AuditTrail returns the recorded responses for one incident.
func (e *Executor) AuditTrail(ctx context.Context, incidentID string) ([]types.AutomatedResponseResult, error) {
	var trail []types.AutomatedResponseResult
	err := e.store.Get(ctx, store.ResponseAuditKey(incidentID), &trail)
	if err == store.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return trail, nil
}

func sourceIP(inc *types.SecurityIncident) string {
	if inc == nil || inc.Metadata == nil {
		return ""
	}
	if ip, ok := inc.Metadata["source_ip"].(string); ok {
		return ip
	}
	return ""
}

func severityFor(level types.ThreatLevel) types.Severity {
	switch level {
	case types.ThreatLevelCritical:
		return types.SeverityCritical
	case types.ThreatLevelHigh:
		return types.SeverityHigh
	case types.ThreatLevelMedium:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}
