package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/danieleschmidt/request-sentinel/internal/config"
	"github.com/danieleschmidt/request-sentinel/internal/version"
	"github.com/danieleschmidt/request-sentinel/pkg/incident"
	"github.com/danieleschmidt/request-sentinel/pkg/logger"
	"github.com/danieleschmidt/request-sentinel/pkg/ratelimit"
	"github.com/danieleschmidt/request-sentinel/pkg/rules"
	"github.com/danieleschmidt/request-sentinel/pkg/store"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

// env holds the lazily built dependencies shared by the admin commands.
type env struct {
	cfg       *config.Config
	store     *store.RedisStore
	limiter   *ratelimit.Limiter
	incidents *incident.Manager
}

func buildEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log := logger.NewStructuredLogger("error", "text")
	kv := store.NewRedisStore(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := kv.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store unreachable at %s: %w", cfg.Redis.Addr(), err)
	}

	catalog := rules.NewCatalog(log)
	if cfg.Security.RulesFile != "" {
		if err := catalog.LoadFile(cfg.Security.RulesFile); err != nil {
			return nil, fmt.Errorf("load rules file: %w", err)
		}
	}

	return &env{
		cfg:       cfg,
		store:     kv,
		limiter:   ratelimit.NewLimiter(kv, catalog, log),
		incidents: incident.NewManager(kv, log, incident.Options{StrictTransitions: cfg.Security.StrictTransitions}),
	}, nil
}

func (e *env) close() {
	if e.store != nil {
		e.store.Close()
	}
}

// NewRootCommand builds the sentinel admin CLI.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sentinel",
		Short: "Administer the request-sentinel security layer",
		Long:  "Inspect and manage rate limits, security incidents and detection rules.",
	}

	root.AddCommand(newVersionCommand())
	root.AddCommand(newIncidentsCommand())
	root.AddCommand(newRateLimitCommand())
	root.AddCommand(newRulesCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("request-sentinel %s (commit %s, built %s)\n",
				version.GetVersion(), version.GetCommit(), version.GetBuildDate())
		},
	}
}

func newIncidentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "Manage security incidents",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active incidents",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			defer e.close()

			incidents, err := e.incidents.GetActiveIncidents(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(incidents)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			defer e.close()

			inc, err := e.incidents.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(inc)
		},
	})

	var assignee string
	var clearResolved bool
	update := &cobra.Command{
		Use:   "update <id> <status>",
		Short: "Update an incident's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			defer e.close()

			inc, err := e.incidents.UpdateStatus(cmd.Context(), args[0], types.IncidentStatus(args[1]), incident.UpdateOptions{
				Assignee:        assignee,
				ClearResolvedAt: clearResolved,
			})
			if err != nil {
				return err
			}
			return printJSON(inc)
		},
	}
	update.Flags().StringVar(&assignee, "assignee", "", "assignee for the incident")
	update.Flags().BoolVar(&clearResolved, "clear-resolved-at", false, "clear the resolution timestamp when reopening")
	cmd.AddCommand(update)

	return cmd
}

func newRateLimitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Inspect and reset rate limits",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status <identifier> <endpoint>",
		Short: "Show live counter state for an identifier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			defer e.close()

			status, err := e.limiter.GetStatus(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <identifier> <endpoint>",
		Short: "Clear the counter and any temporary block",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.limiter.Reset(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("reset %s on %s\n", args[0], args[1])
			return nil
		},
	})

	return cmd
}

func newRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the active detection rules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the active rate limit rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			defer e.close()

			return printJSON(e.limiter.GetRules())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a rules file without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.NewStructuredLogger("error", "text")
			catalog := rules.NewCatalog(log)
			if err := catalog.LoadFile(args[0]); err != nil {
				return fmt.Errorf("rules file invalid: %w", err)
			}
			fmt.Printf("%s: %d rules, %d patterns\n", args[0],
				len(catalog.GetRules()), len(catalog.ActivePatterns()))
			return nil
		},
	})

	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
