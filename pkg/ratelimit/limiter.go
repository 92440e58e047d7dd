package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/rules"
	"github.com/danieleschmidt/request-sentinel/pkg/store"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
	"github.com/sirupsen/logrus"
)

const (
	counterKeyFormat = "rate_limit:%s:%s"
	blockKeyFormat   = "rate_limit_blocked:%s:%s"

	// ReasonBlocked is returned while a temporary block record is live.
	ReasonBlocked = "temporarily blocked"
	// ReasonExceeded is returned on the call that exhausts the budget.
	ReasonExceeded = "rate limit exceeded"
	// ReasonUnavailable marks a fail-open decision taken because the
	// store could not be reached. The request is allowed.
	ReasonUnavailable = "rate limiting unavailable"
)

type blockRecord struct {
	BlockedUntil time.Time `json:"blocked_until"`
	Rule         string    `json:"rule"`
}

// tightenRecord mirrors the override the response executor writes under
// store.TightenedKey.
type tightenRecord struct {
	Factor int64 `json:"factor"`
}

// Limiter enforces per-identifier, per-endpoint request budgets using
// fixed-window counters plus a temporary block state. All counting state
// lives in the shared store; the limiter itself is stateless.
type Limiter struct {
	store   store.KeyValueStore
	catalog *rules.Catalog
	logger  *logger.StructuredLogger

	// Clock is overridable in tests.
	Clock func() time.Time
}

func NewLimiter(kv store.KeyValueStore, catalog *rules.Catalog, log *logger.StructuredLogger) *Limiter {
	return &Limiter{
		store:   kv,
		catalog: catalog,
		logger:  log,
		Clock:   time.Now,
	}
}

// CheckRateLimit selects the highest-priority matching rule for the
// endpoint and applies it. Called on every inbound request before
// business logic runs.
func (l *Limiter) CheckRateLimit(ctx context.Context, identifier, endpoint string) types.RateLimitResult {
	rule := l.catalog.MatchRule(endpoint)
	return l.CheckWithRule(ctx, identifier, endpoint, rule)
}

// CheckWithRule applies a specific rule. The counter is incremented
// atomically and compared on the returned value, so within one window at
// most MaxRequests calls are ever admitted, even under concurrency.
func (l *Limiter) CheckWithRule(ctx context.Context, identifier, endpoint string, rule types.RateLimitRule) types.RateLimitResult {
	now := l.Clock()

	if !rule.Enabled {
		return types.RateLimitResult{
			Allowed:   true,
			Remaining: rule.MaxRequests,
			Total:     rule.MaxRequests,
			ResetTime: now.Add(rule.Window),
			RuleName:  rule.Name,
		}
	}

	rule = l.applyTightening(ctx, identifier, rule)

	blockKey := fmt.Sprintf(blockKeyFormat, endpoint, identifier)

	var block blockRecord
	err := l.store.Get(ctx, blockKey, &block)
	switch {
	case err == nil:
		if now.Before(block.BlockedUntil) {
			return types.RateLimitResult{
				Allowed:   false,
				Remaining: 0,
				Total:     rule.MaxRequests,
				ResetTime: block.BlockedUntil,
				Reason:    ReasonBlocked,
				RuleName:  rule.Name,
			}
		}
		// Expired block record that outlived its TTL; ignore it.
	case err != store.ErrKeyNotFound:
		return l.failOpen(ctx, identifier, endpoint, rule, err)
	}

	counterKey := fmt.Sprintf(counterKeyFormat, endpoint, identifier)
	count, err := l.store.Incr(ctx, counterKey, rule.Window)
	if err != nil {
		return l.failOpen(ctx, identifier, endpoint, rule, err)
	}

	if count > rule.MaxRequests {
		// Without a block duration the denial lasts until the counter
		// window rolls over; no block record is written, so the reset
		// time always lands in the future.
		resetTime := now.Add(rule.Window)
		if rule.BlockDuration > 0 {
			resetTime = now.Add(rule.BlockDuration)
			if err := l.store.Set(ctx, blockKey, blockRecord{BlockedUntil: resetTime, Rule: rule.Name}, rule.BlockDuration); err != nil {
				l.logger.LogError(ctx, err, "rate_limit_block_write", map[string]interface{}{
					"identifier": identifier,
					"endpoint":   endpoint,
				})
			}
		}

		l.logger.SecurityEvent("rate_limit_exceeded", identifier, endpoint, string(types.SeverityMedium), map[string]interface{}{
			"rule":         rule.Name,
			"count":        count,
			"max_requests": rule.MaxRequests,
			"reset_time":   resetTime,
		})

		return types.RateLimitResult{
			Allowed:   false,
			Remaining: 0,
			Total:     rule.MaxRequests,
			ResetTime: resetTime,
			Reason:    ReasonExceeded,
			RuleName:  rule.Name,
		}
	}

	return types.RateLimitResult{
		Allowed:   true,
		Remaining: rule.MaxRequests - count,
		Total:     rule.MaxRequests,
		ResetTime: now.Add(rule.Window),
		RuleName:  rule.Name,
	}
}

// GetStatus recomputes the current window view from live counters. It
// has no side effects on the counting state.
func (l *Limiter) GetStatus(ctx context.Context, identifier, endpoint string) (types.RateLimitStatus, error) {
	rule := l.applyTightening(ctx, identifier, l.catalog.MatchRule(endpoint))
	now := l.Clock()

	status := types.RateLimitStatus{
		Identifier:  identifier,
		Endpoint:    endpoint,
		Remaining:   rule.MaxRequests,
		WindowStart: now,
		WindowEnd:   now.Add(rule.Window),
	}

	var count int64
	err := l.store.Get(ctx, fmt.Sprintf(counterKeyFormat, endpoint, identifier), &count)
	if err != nil && err != store.ErrKeyNotFound {
		return status, err
	}
	status.CurrentCount = count
	if remaining := rule.MaxRequests - count; remaining > 0 {
		status.Remaining = remaining
	} else {
		status.Remaining = 0
	}

	var block blockRecord
	err = l.store.Get(ctx, fmt.Sprintf(blockKeyFormat, endpoint, identifier), &block)
	if err == nil && now.Before(block.BlockedUntil) {
		until := block.BlockedUntil
		status.BlockedUntil = &until
	} else if err != nil && err != store.ErrKeyNotFound {
		return status, err
	}

	return status, nil
}

// Reset deletes both the counter and the block record for an
// identifier/endpoint pair so the next call sees a full budget.
func (l *Limiter) Reset(ctx context.Context, identifier, endpoint string) error {
	if err := l.store.Delete(ctx, fmt.Sprintf(counterKeyFormat, endpoint, identifier)); err != nil {
		return err
	}
	if err := l.store.Delete(ctx, fmt.Sprintf(blockKeyFormat, endpoint, identifier)); err != nil {
		return err
	}

	l.logger.Audit("rate_limit_reset", "", fmt.Sprintf("%s:%s", endpoint, identifier), true, nil)
	return nil
}

// MatchRule exposes rule matching so callers can resolve the counting
// identifier before checking.
func (l *Limiter) MatchRule(endpoint string) types.RateLimitRule {
	return l.catalog.MatchRule(endpoint)
}

// GetRules returns the active rule set.
func (l *Limiter) GetRules() []types.RateLimitRule {
	return l.catalog.GetRules()
}

// UpdateRules hot-replaces the rule set.
func (l *Limiter) UpdateRules(ruleSet []types.RateLimitRule) error {
	return l.catalog.UpdateRateLimitRules(ruleSet)
}

// applyTightening shrinks the rule's budget when automated response has
// flagged the identifier. A missing or unreadable override leaves the
// rule untouched; tightening is an extra restriction, never a reason to
// deny service on store trouble.
func (l *Limiter) applyTightening(ctx context.Context, identifier string, rule types.RateLimitRule) types.RateLimitRule {
	var override tightenRecord
	err := l.store.Get(ctx, store.TightenedKey(identifier), &override)
	if err != nil {
		if err != store.ErrKeyNotFound {
			l.logger.LogError(ctx, err, "rate_limit_override_read", map[string]interface{}{
				"identifier": identifier,
			})
		}
		return rule
	}

	if override.Factor > 1 {
		rule.MaxRequests /= override.Factor
		if rule.MaxRequests < 1 {
			rule.MaxRequests = 1
		}
	}
	return rule
}

// failOpen converts a store failure into an allow decision. Losing rate
// limiting briefly is preferred over refusing all traffic; the failure
// is still surfaced for observability.
func (l *Limiter) failOpen(ctx context.Context, identifier, endpoint string, rule types.RateLimitRule, err error) types.RateLimitResult {
	l.logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
		"identifier": identifier,
		"endpoint":   endpoint,
		"rule":       rule.Name,
	}).Error("Rate limit store unavailable, failing open")

	return types.RateLimitResult{
		Allowed:   true,
		Remaining: rule.MaxRequests,
		Total:     rule.MaxRequests,
		ResetTime: l.Clock().Add(rule.Window),
		Reason:    ReasonUnavailable,
		RuleName:  rule.Name,
	}
}
