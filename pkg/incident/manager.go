package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/danieleschmidt/request-sentinel/internal/errors"
	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/store"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	incidentKeyFormat = "security:incident:%s"
	activeIndexKey    = "security:incidents:active"
)

// allowedTransitions is the strict lifecycle:
// Open -> InProgress -> {Resolved, Escalated} -> Closed, plus the direct
// Open -> Closed path for immediately dismissed incidents.
var allowedTransitions = map[types.IncidentStatus][]types.IncidentStatus{
	types.IncidentOpen:       {types.IncidentInProgress, types.IncidentClosed},
	types.IncidentInProgress: {types.IncidentResolved, types.IncidentEscalated},
	types.IncidentResolved:   {types.IncidentClosed},
	types.IncidentEscalated:  {types.IncidentClosed},
}

// Options configures incident lifecycle behavior.
type Options struct {
	// StrictTransitions enforces the explicit transition table. When
	// false (the default) any status may be set from any status so
	// operators can reopen or escalate freely.
	StrictTransitions bool
}

// UpdateOptions carries per-update flags.
type UpdateOptions struct {
	Assignee string
	// ClearResolvedAt drops the resolution timestamp when reopening.
	// A plain reopen keeps the old timestamp for audit.
	ClearResolvedAt bool
}

// Manager creates, stores, and transitions security incidents, and
// maintains the materialized "active incidents" index. The index trades
// list maintenance on every transition for fast reads.
type Manager struct {
	store  store.KeyValueStore
	logger *logger.StructuredLogger
	opts   Options
}

func NewManager(kv store.KeyValueStore, log *logger.StructuredLogger, opts Options) *Manager {
	return &Manager{store: kv, logger: log, opts: opts}
}

// Create stores a new incident in status Open and adds it to the active
// index.
func (m *Manager) Create(ctx context.Context, title, description string, severity types.Severity, tags []string, metadata map[string]interface{}) (*types.SecurityIncident, error) {
	if title == "" {
		return nil, errors.NewValidationError("incident title is required", "")
	}

	incident := &types.SecurityIncident{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		Status:      types.IncidentOpen,
		Severity:    severity,
		CreatedAt:   time.Now().UTC(),
		Tags:        tags,
		Metadata:    metadata,
	}

	if err := m.store.Set(ctx, incidentKey(incident.ID.String()), incident, 0); err != nil {
		return nil, errors.NewStoreUnavailableError("incident create", err)
	}

	if err := m.addToActiveIndex(ctx, incident.ID.String()); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"incident_id": incident.ID.String(),
		"severity":    incident.Severity,
		"title":       incident.Title,
	}).Info("Security incident created")

	return incident, nil
}

// Get loads one incident by id.
func (m *Manager) Get(ctx context.Context, id string) (*types.SecurityIncident, error) {
	var incident types.SecurityIncident
	err := m.store.Get(ctx, incidentKey(id), &incident)
	if err == store.ErrKeyNotFound {
		return nil, errors.NewNotFoundError("incident", id)
	}
	if err != nil {
		return nil, errors.NewStoreUnavailableError("incident get", err)
	}
	return &incident, nil
}

// UpdateStatus transitions an incident. ResolvedAt is set exactly when
// the new status is Resolved or Closed, and the incident leaves the
// active index on those same transitions.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status types.IncidentStatus, opts UpdateOptions) (*types.SecurityIncident, error) {
	if !validStatus(status) {
		return nil, errors.NewValidationError("unknown incident status", string(status))
	}

	incident, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if m.opts.StrictTransitions && !transitionAllowed(incident.Status, status) {
		return nil, errors.NewInvalidTransitionError(string(incident.Status), string(status))
	}

	previous := incident.Status
	incident.Status = status
	if opts.Assignee != "" {
		incident.Assignee = opts.Assignee
	}

	if status == types.IncidentResolved || status == types.IncidentClosed {
		now := time.Now().UTC()
		incident.ResolvedAt = &now
	} else if opts.ClearResolvedAt {
		incident.ResolvedAt = nil
	}

	if err := m.store.Set(ctx, incidentKey(id), incident, 0); err != nil {
		return nil, errors.NewStoreUnavailableError("incident update", err)
	}

	if status == types.IncidentResolved || status == types.IncidentClosed {
		if err := m.removeFromActiveIndex(ctx, id); err != nil {
			return nil, err
		}
	} else if previous == types.IncidentResolved || previous == types.IncidentClosed {
		if err := m.addToActiveIndex(ctx, id); err != nil {
			return nil, err
		}
	}

	m.logger.WithFields(logrus.Fields{
		"incident_id": id,
		"from":        previous,
		"to":          status,
	}).Info("Incident status updated")

	return incident, nil
}

// GetActiveIncidents returns every incident currently on the active
// index. Records that fail to load are skipped, never aborting the
// whole query.
func (m *Manager) GetActiveIncidents(ctx context.Context) ([]types.SecurityIncident, error) {
	ids, err := m.activeIndex(ctx)
	if err != nil {
		return nil, err
	}

	incidents := make([]types.SecurityIncident, 0, len(ids))
	for _, id := range ids {
		var incident types.SecurityIncident
		if err := m.store.Get(ctx, incidentKey(id), &incident); err != nil {
			m.logger.WithError(err).WithField("incident_id", id).Warn("Skipping unreadable incident record")
			continue
		}
		incidents = append(incidents, incident)
	}

	return incidents, nil
}

func (m *Manager) activeIndex(ctx context.Context) ([]string, error) {
	var ids []string
	err := m.store.Get(ctx, activeIndexKey, &ids)
	if err == store.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStoreUnavailableError("active index read", err)
	}
	return ids, nil
}

func (m *Manager) addToActiveIndex(ctx context.Context, id string) error {
	ids, err := m.activeIndex(ctx)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	if err := m.store.Set(ctx, activeIndexKey, ids, 0); err != nil {
		return errors.NewStoreUnavailableError("active index write", err)
	}
	return nil
}

func (m *Manager) removeFromActiveIndex(ctx context.Context, id string) error {
	ids, err := m.activeIndex(ctx)
	if err != nil {
		return err
	}
	next := make([]string, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			next = append(next, existing)
		}
	}
	if err := m.store.Set(ctx, activeIndexKey, next, 0); err != nil {
		return errors.NewStoreUnavailableError("active index write", err)
	}
	return nil
}

func transitionAllowed(from, to types.IncidentStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func validStatus(status types.IncidentStatus) bool {
	switch status {
	case types.IncidentOpen, types.IncidentInProgress, types.IncidentResolved, types.IncidentClosed, types.IncidentEscalated:
		return true
	}
	return false
}

func incidentKey(id string) string {
	return fmt.Sprintf(incidentKeyFormat, id)
}
