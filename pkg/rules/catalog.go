package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danieleschmidt/request-sentinel/internal/errors"
	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
	"github.com/sirupsen/logrus"
)

// Snapshot is an immutable view of the active rule set. Readers take a
// reference to the current snapshot; writers build a new one and publish
// it with a single pointer swap, so readers always see either the old or
// the new complete set, never a partial update.
type Snapshot struct {
	RateLimitRules []types.RateLimitRule
	ThreatPatterns []types.ThreatPattern
}

// Catalog holds the active rate-limit rules and threat patterns and
// supports hot replacement.
type Catalog struct {
	snapshot atomic.Pointer[Snapshot]
	writeMu  sync.Mutex
	logger   *logger.StructuredLogger
}

func NewCatalog(log *logger.StructuredLogger) *Catalog {
	c := &Catalog{logger: log}
	c.snapshot.Store(&Snapshot{
		RateLimitRules: DefaultRateLimitRules(),
		ThreatPatterns: DefaultThreatPatterns(),
	})
	return c
}

// Snapshot returns the current immutable rule set.
func (c *Catalog) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

// MatchRule returns the highest-priority enabled rule whose endpoint
// matcher covers the requested path, falling back to the wildcard
// default rule.
func (c *Catalog) MatchRule(endpoint string) types.RateLimitRule {
	snap := c.snapshot.Load()

	var fallback types.RateLimitRule
	haveFallback := false

	for _, rule := range snap.RateLimitRules {
		if !rule.Enabled {
			continue
		}
		if rule.Endpoint == "*" {
			if !haveFallback {
				fallback = rule
				haveFallback = true
			}
			continue
		}
		if strings.HasPrefix(strings.ToLower(endpoint), strings.ToLower(rule.Endpoint)) {
			return rule
		}
	}

	if haveFallback {
		return fallback
	}
	return defaultWildcardRule
}

// GetRules returns a copy of the active rate-limit rules.
func (c *Catalog) GetRules() []types.RateLimitRule {
	snap := c.snapshot.Load()
	out := make([]types.RateLimitRule, len(snap.RateLimitRules))
	copy(out, snap.RateLimitRules)
	return out
}

// ActivePatterns returns the active threat patterns from the current
// snapshot.
func (c *Catalog) ActivePatterns() []types.ThreatPattern {
	snap := c.snapshot.Load()
	out := make([]types.ThreatPattern, 0, len(snap.ThreatPatterns))
	for _, p := range snap.ThreatPatterns {
		if p.Active {
			out = append(out, p)
		}
	}
	return out
}

// UpdateRateLimitRules replaces the whole rate-limit rule collection.
func (c *Catalog) UpdateRateLimitRules(rules []types.RateLimitRule) error {
	for i := range rules {
		if err := ValidateRule(&rules[i]); err != nil {
			return err
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	old := c.snapshot.Load()
	next := &Snapshot{
		RateLimitRules: sortedByPriority(rules),
		ThreatPatterns: old.ThreatPatterns,
	}
	c.snapshot.Store(next)

	c.logger.WithFields(logrus.Fields{
		"rule_count": len(rules),
	}).Info("Rate limit rules replaced")

	return nil
}

// UpsertThreatPattern inserts or replaces a pattern by id. The pattern
// object is replaced whole, never mutated in place.
func (c *Catalog) UpsertThreatPattern(pattern types.ThreatPattern) error {
	if err := CompilePattern(&pattern); err != nil {
		return err
	}
	pattern.UpdatedAt = time.Now().UTC()
	if pattern.CreatedAt.IsZero() {
		pattern.CreatedAt = pattern.UpdatedAt
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	old := c.snapshot.Load()
	next := &Snapshot{
		RateLimitRules: old.RateLimitRules,
		ThreatPatterns: make([]types.ThreatPattern, 0, len(old.ThreatPatterns)+1),
	}

	replaced := false
	for _, p := range old.ThreatPatterns {
		if p.ID == pattern.ID {
			next.ThreatPatterns = append(next.ThreatPatterns, pattern)
			replaced = true
			continue
		}
		next.ThreatPatterns = append(next.ThreatPatterns, p)
	}
	if !replaced {
		next.ThreatPatterns = append(next.ThreatPatterns, pattern)
	}
	c.snapshot.Store(next)

	c.logger.WithFields(logrus.Fields{
		"pattern_id": pattern.ID,
		"replaced":   replaced,
	}).Info("Threat pattern updated")

	return nil
}

// RemoveThreatPattern deletes a pattern by id.
func (c *Catalog) RemoveThreatPattern(id string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	old := c.snapshot.Load()
	next := &Snapshot{
		RateLimitRules: old.RateLimitRules,
		ThreatPatterns: make([]types.ThreatPattern, 0, len(old.ThreatPatterns)),
	}

	found := false
	for _, p := range old.ThreatPatterns {
		if p.ID == id {
			found = true
			continue
		}
		next.ThreatPatterns = append(next.ThreatPatterns, p)
	}
	if !found {
		return errors.NewNotFoundError("threat pattern", id)
	}
	c.snapshot.Store(next)

	c.logger.WithField("pattern_id", id).Info("Threat pattern removed")
	return nil
}

// ValidateRule rejects malformed rules before any state mutation.
func ValidateRule(rule *types.RateLimitRule) error {
	if rule.Name == "" {
		return errors.NewValidationError("rule name is required", "")
	}
	if rule.Endpoint == "" {
		return errors.NewValidationError("rule endpoint matcher is required", fmt.Sprintf("rule: %s", rule.Name))
	}
	if rule.MaxRequests <= 0 {
		return errors.NewValidationError("max_requests must be positive", fmt.Sprintf("rule: %s", rule.Name))
	}
	if rule.Window <= 0 {
		return errors.NewValidationError("window must be positive", fmt.Sprintf("rule: %s", rule.Name))
	}
	if rule.BlockDuration < 0 {
		return errors.NewValidationError("block_duration cannot be negative", fmt.Sprintf("rule: %s", rule.Name))
	}
	return nil
}

// CompilePattern validates and compiles a pattern's matcher.
func CompilePattern(pattern *types.ThreatPattern) error {
	if pattern.ID == "" {
		return errors.NewValidationError("pattern id is required", "")
	}
	if pattern.Pattern == "" {
		return errors.NewValidationError("pattern matcher is required", fmt.Sprintf("pattern: %s", pattern.ID))
	}

	switch pattern.Engine {
	case types.PatternEngineSubstring:
		pattern.Regex = nil
	case types.PatternEngineRegex, "":
		regex, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			return errors.NewValidationError("invalid regex pattern", err.Error())
		}
		pattern.Engine = types.PatternEngineRegex
		pattern.Regex = regex
	default:
		return errors.NewValidationError("unknown pattern engine", string(pattern.Engine))
	}

	return nil
}

func sortedByPriority(rules []types.RateLimitRule) []types.RateLimitRule {
	out := make([]types.RateLimitRule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}
