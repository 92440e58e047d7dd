package rules

import (
	"fmt"
	"os"
	"time"

	"github.com/danieleschmidt/request-sentinel/pkg/types"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// rulesFile is the on-disk YAML shape. Durations are written as Go
// duration strings ("1m", "24h").
type rulesFile struct {
	RateLimitRules []ruleEntry    `yaml:"rate_limit_rules"`
	ThreatPatterns []patternEntry `yaml:"threat_patterns"`
}

type ruleEntry struct {
	Name          string `yaml:"name"`
	Endpoint      string `yaml:"endpoint"`
	Identifier    string `yaml:"identifier"`
	MaxRequests   int64  `yaml:"max_requests"`
	Window        string `yaml:"window"`
	BurstLimit    int64  `yaml:"burst_limit"`
	BlockDuration string `yaml:"block_duration"`
	Enabled       *bool  `yaml:"enabled"`
	Priority      int    `yaml:"priority"`
}

type patternEntry struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	Pattern         string   `yaml:"pattern"`
	Engine          string   `yaml:"engine"`
	Severity        string   `yaml:"severity"`
	Active          *bool    `yaml:"active"`
	ResponseActions []string `yaml:"response_actions"`
}

// LoadFile replaces the catalog contents from a YAML rules file. The
// built-in defaults stay in place for any section the file omits.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rules file: %w", err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse rules file: %w", err)
	}

	if len(file.RateLimitRules) > 0 {
		rules := make([]types.RateLimitRule, 0, len(file.RateLimitRules))
		for _, entry := range file.RateLimitRules {
			rule, err := entry.toRule()
			if err != nil {
				return err
			}
			rules = append(rules, rule)
		}
		if err := c.UpdateRateLimitRules(rules); err != nil {
			return err
		}
	}

	for _, entry := range file.ThreatPatterns {
		if err := c.UpsertThreatPattern(entry.toPattern()); err != nil {
			return err
		}
	}

	c.logger.WithFields(logrus.Fields{
		"path":     path,
		"rules":    len(file.RateLimitRules),
		"patterns": len(file.ThreatPatterns),
	}).Info("Rules file loaded")

	return nil
}

// Watch reloads the rules file whenever it changes on disk. The watcher
// runs until stop is closed. Reload failures keep the previous snapshot.
func (c *Catalog) Watch(path string, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rules watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch rules file: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := c.LoadFile(path); err != nil {
					c.logger.WithError(err).WithField("path", path).Error("Rules reload failed, keeping previous snapshot")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.WithError(err).Warn("Rules watcher error")
			case <-stop:
				return
			}
		}
	}()

	return nil
}

func (e ruleEntry) toRule() (types.RateLimitRule, error) {
	window, err := time.ParseDuration(e.Window)
	if err != nil {
		return types.RateLimitRule{}, fmt.Errorf("rule %q: invalid window: %w", e.Name, err)
	}

	var block time.Duration
	if e.BlockDuration != "" {
		block, err = time.ParseDuration(e.BlockDuration)
		if err != nil {
			return types.RateLimitRule{}, fmt.Errorf("rule %q: invalid block_duration: %w", e.Name, err)
		}
	}

	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}

	identifier := types.IdentifierKind(e.Identifier)
	if identifier == "" {
		identifier = types.IdentifierIP
	}

	return types.RateLimitRule{
		Name:          e.Name,
		Endpoint:      e.Endpoint,
		Identifier:    identifier,
		MaxRequests:   e.MaxRequests,
		Window:        window,
		BurstLimit:    e.BurstLimit,
		BlockDuration: block,
		Enabled:       enabled,
		Priority:      e.Priority,
	}, nil
}

func (e patternEntry) toPattern() types.ThreatPattern {
	active := true
	if e.Active != nil {
		active = *e.Active
	}

	severity := types.Severity(e.Severity)
	if severity == "" {
		severity = types.SeverityMedium
	}

	return types.ThreatPattern{
		ID:              e.ID,
		Name:            e.Name,
		Description:     e.Description,
		Pattern:         e.Pattern,
		Engine:          types.PatternEngine(e.Engine),
		Severity:        severity,
		Active:          active,
		ResponseActions: e.ResponseActions,
	}
}
