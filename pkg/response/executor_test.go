package response

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieleschmidt/request-sentinel/pkg/incident"
	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/store"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

func testExecutor(t *testing.T) (*Executor, *store.MemoryStore, *incident.Manager) {
	t.Helper()
	log := logger.NewStructuredLogger("error", "json")
	kv := store.NewMemoryStore()
	incidents := incident.NewManager(kv, log, incident.Options{})
	return NewExecutor(kv, incidents, DefaultConfig(), log), kv, incidents
}

func incidentWithIP(t *testing.T, incidents *incident.Manager, ip string) *types.SecurityIncident {
	t.Helper()
	inc, err := incidents.Create(context.Background(), "threat detected", "", types.SeverityHigh, nil, map[string]interface{}{
		"source_ip": ip,
	})
	require.NoError(t, err)
	return inc
}

func TestExecuteBlockRequestWritesBlockRecord(t *testing.T) {
	executor, kv, incidents := testExecutor(t)
	ctx := context.Background()
	inc := incidentWithIP(t, incidents, "6.6.6.6")

	result := executor.Execute(ctx, inc.ID.String(), types.ThreatLevelCritical, []string{ActionBlockRequest})
	require.Len(t, result.Actions, 1)
	assert.True(t, result.Success)
	assert.True(t, result.Actions[0].Executed)

	var record map[string]interface{}
	require.NoError(t, kv.Get(ctx, store.BlockedIPKey("6.6.6.6"), &record))
	assert.Equal(t, "automated block", record["reason"])
}

func TestExecuteUnknownActionFailsRun(t *testing.T) {
	executor, _, incidents := testExecutor(t)
	inc := incidentWithIP(t, incidents, "6.6.6.6")

	result := executor.Execute(context.Background(), inc.ID.String(), types.ThreatLevelHigh, []string{ActionBlockRequest, "self_destruct"})

	// Actions are recorded in input order; the unknown one is a failed
	// no-op and poisons overall success, but the known one still ran.
	require.Len(t, result.Actions, 2)
	assert.Equal(t, ActionBlockRequest, result.Actions[0].Action)
	assert.True(t, result.Actions[0].Executed)
	assert.Equal(t, "self_destruct", result.Actions[1].Action)
	assert.False(t, result.Actions[1].Executed)
	assert.Equal(t, "unknown action: self_destruct", result.Actions[1].Result)
	assert.False(t, result.Success)
}

func TestExecuteWithoutSourceIPFailsBlock(t *testing.T) {
	executor, _, incidents := testExecutor(t)
	inc, err := incidents.Create(context.Background(), "no ip", "", types.SeverityLow, nil, nil)
	require.NoError(t, err)

	result := executor.Execute(context.Background(), inc.ID.String(), types.ThreatLevelHigh, []string{ActionBlockRequest})
	require.Len(t, result.Actions, 1)
	assert.False(t, result.Actions[0].Executed)
	assert.False(t, result.Success)
}

func TestExecuteTemporaryBlockUsesShorterTTL(t *testing.T) {
	executor, kv, incidents := testExecutor(t)
	ctx := context.Background()
	inc := incidentWithIP(t, incidents, "7.7.7.7")

	now := time.Now()
	kv.Clock = func() time.Time { return now }

	result := executor.Execute(ctx, inc.ID.String(), types.ThreatLevelHigh, []string{ActionTemporaryBlock})
	require.True(t, result.Success)

	// Past the temporary window the record is gone.
	now = now.Add(DefaultConfig().TempBlockDuration + time.Minute)
	var record map[string]interface{}
	err := kv.Get(ctx, store.BlockedIPKey("7.7.7.7"), &record)
	assert.Equal(t, store.ErrKeyNotFound, err)
}

func TestExecuteLogIncidentCreatesFollowUp(t *testing.T) {
	executor, _, incidents := testExecutor(t)
	ctx := context.Background()
	inc := incidentWithIP(t, incidents, "6.6.6.6")

	result := executor.Execute(ctx, inc.ID.String(), types.ThreatLevelMedium, []string{ActionLogIncident})
	require.True(t, result.Success)

	active, err := incidents.GetActiveIncidents(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestExecuteRecordsAuditTrail(t *testing.T) {
	executor, _, incidents := testExecutor(t)
	ctx := context.Background()
	inc := incidentWithIP(t, incidents, "6.6.6.6")

	executor.Execute(ctx, inc.ID.String(), types.ThreatLevelHigh, []string{ActionNotifyAdmin})
	executor.Execute(ctx, inc.ID.String(), types.ThreatLevelHigh, []string{ActionTemporaryBlock})

	trail, err := executor.AuditTrail(ctx, inc.ID.String())
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, ActionNotifyAdmin, trail[0].Actions[0].Action)
	assert.Equal(t, ActionTemporaryBlock, trail[1].Actions[0].Action)
}

func TestExecuteMissingIncidentStillRunsActions(t *testing.T) {
	executor, _, _ := testExecutor(t)

	// notify_admin tolerates a nil incident; block_request does not.
	result := executor.Execute(context.Background(), "does-not-exist", types.ThreatLevelHigh, []string{ActionNotifyAdmin, ActionBlockRequest})
	require.Len(t, result.Actions, 2)
	assert.True(t, result.Actions[0].Executed)
	assert.False(t, result.Actions[1].Executed)
	assert.False(t, result.Success)
}

func TestRegisterCustomHandler(t *testing.T) {
	executor, _, incidents := testExecutor(t)
	inc := incidentWithIP(t, incidents, "6.6.6.6")

	called := false
	executor.Register("quarantine", func(ctx context.Context, inc *types.SecurityIncident, level types.ThreatLevel) (string, error) {
		called = true
		return fmt.Sprintf("quarantined at %s", level.String()), nil
	})

	result := executor.Execute(context.Background(), inc.ID.String(), types.ThreatLevelHigh, []string{"quarantine"})
	assert.True(t, called)
	assert.True(t, result.Success)
	assert.Equal(t, "quarantined at high", result.Actions[0].Result)
}

func TestHandlesReportsRegisteredActions(t *testing.T) {
	executor, _, _ := testExecutor(t)

	assert.True(t, executor.Handles("block_request"))
	assert.True(t, executor.Handles("increase_rate_limit"))
	assert.False(t, executor.Handles("self_destruct"))

	executor.Register("self_destruct", func(ctx context.Context, inc *types.SecurityIncident, level types.ThreatLevel) (string, error) {
		return "", nil
	})
	assert.True(t, executor.Handles("self_destruct"))
}
