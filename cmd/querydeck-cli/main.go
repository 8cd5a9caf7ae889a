// Package main provides the querydeck CLI entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/querydeck/querydeck/internal/app"
	"github.com/querydeck/querydeck/internal/config"
	"github.com/querydeck/querydeck/internal/observability"
)

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	noColor    bool
	tenantID   string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "querydeck-cli",
		Short: "Ask questions of your databases in plain language",
		Long: `querydeck-cli answers natural-language questions about a tenant's databases.

Questions are resolved by the semantic cache first, then the intent
patterns, then the language model. Use this tool to:
- Ask a question and see which tier answered it
- Inspect or clear the tenant's semantic cache
- List the intent patterns
- Compare two queries the way the cache would

All commands support --json for automation.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	root.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().StringVarP(&tenantID, "tenant", "t", "", "tenant id (default: auth.default_tenant)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	root.AddCommand(newAskCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newPatternsCmd())
	root.AddCommand(newSimilarityCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newUI(cmd *cobra.Command) *UI {
	return NewUI(cmd.OutOrStdout(), cmd.ErrOrStderr(), outputJSON, noColor)
}

// loadApp builds the application from the global flags. Logs go to stderr
// and stay quiet unless --verbose is set.
func loadApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := "error"
	if verbose {
		level = cfg.Observability.LogLevel
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      "console",
		Output:      cmd.ErrOrStderr(),
		ServiceName: "querydeck-cli",
	})

	return app.New(cmd.Context(), cfg, app.WithLogger(logger))
}

func resolveTenant(a *app.App) (string, error) {
	t := strings.TrimSpace(tenantID)
	if t == "" {
		t = a.Config.Auth.DefaultTenant
	}
	if t == "" {
		return "", fmt.Errorf("tenant is required: pass --tenant or set auth.default_tenant")
	}
	return t, nil
}

// newAskCmd creates the ask subcommand.
func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question against the tenant's databases",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tenant, err := resolveTenant(a)
			if err != nil {
				return err
			}

			ui := newUI(cmd)
			s := ui.Spinner("Resolving question")
			res, err := a.Orchestrator.Process(cmd.Context(), tenant, strings.Join(args, " "), nil)
			s.Stop()
			if err != nil {
				return err
			}
			return ui.Result(res)
		},
	}
}

// newCacheCmd creates the cache subcommand group.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the semantic cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cached queries ordered by hit count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tenant, err := resolveTenant(a)
			if err != nil {
				return err
			}
			return newUI(cmd).Stats(tenant, a.Cache.Stats(cmd.Context(), tenant))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached query of the tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tenant, err := resolveTenant(a)
			if err != nil {
				return err
			}

			n := a.Cache.Clear(cmd.Context(), tenant)
			ui := newUI(cmd)
			if outputJSON {
				return ui.JSON(map[string]int{"cleared_count": n})
			}
			ui.Success("Cleared %d cached queries for %s", n, tenant)
			return nil
		},
	})

	return cmd
}

// newPatternsCmd creates the patterns subcommand.
func newPatternsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "List the intent patterns in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return newUI(cmd).Patterns(a.Matcher.Patterns())
		},
	}
}

// newSimilarityCmd creates the similarity subcommand.
func newSimilarityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "similarity <query1> <query2>",
		Short: "Compare two queries the way the semantic cache would",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Orchestrator.CompareQueries(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return newUI(cmd).Similarity(report)
		},
	}
}
