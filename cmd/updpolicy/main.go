// Package main is the command line policy checker: it evaluates update-proxy
// connection requests against a policy file, validates policy files, and can
// watch a file for reloads the way the enforcement daemon would.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vmgridlabs/updpolicy/pkg/config"
	"github.com/vmgridlabs/updpolicy/pkg/domain"
	"github.com/vmgridlabs/updpolicy/pkg/inventory"
	"github.com/vmgridlabs/updpolicy/pkg/logging"
	"github.com/vmgridlabs/updpolicy/pkg/policy"
	"github.com/vmgridlabs/updpolicy/pkg/telemetry"
)

// Exit codes. Deny and no-match share a code: callers must fail closed.
const (
	exitAllow = 0
	exitDeny  = 1
	exitError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		logLevel   string
		prettyLogs bool
	)

	root := &cobra.Command{
		Use:           "updpolicy",
		Short:         "Evaluate and validate update-proxy routing policies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&prettyLogs, "pretty", false, "Enable pretty console logging")

	// Commands that evaluate something overwrite this; anything failing
	// before a verdict surfaces as an error from Execute.
	code := exitAllow
	root.AddCommand(newCheckCmd(&code, &logLevel, &prettyLogs))
	root.AddCommand(newLintCmd())
	root.AddCommand(newWatchCmd(&logLevel, &prettyLogs))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitError
	}
	return code
}

func newCheckCmd(code *int, logLevel *string, prettyLogs *bool) *cobra.Command {
	var policyPath, factsPath string

	cmd := &cobra.Command{
		Use:   "check <source> <dest>",
		Short: "Evaluate one connection request and report the verdict",
		Long: "Evaluates a (source, dest) pair against the policy file. Pass " +
			domain.TokenDefault + " as dest when the caller named no destination.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger(logging.Config{Level: *logLevel, Pretty: *prettyLogs})

			rules, err := policy.ParseFile(policyPath)
			if err != nil {
				return err
			}

			inv, err := loadInventory(factsPath)
			if err != nil {
				return err
			}

			eval, err := policy.NewEvaluator(policy.EvaluatorOptions{
				Inventory: inv,
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			req := domain.Request{Source: args[0], Dest: args[1]}
			verdict, err := eval.Evaluate(cmd.Context(), rules, req)
			*code = verdictExitCode(verdict, err)
			switch {
			case err == nil:
				fmt.Fprintln(cmd.OutOrStdout(), formatVerdict(verdict))
			case errors.Is(err, domain.ErrNoMatch):
				fmt.Fprintln(cmd.OutOrStdout(), "deny (no matching rule)")
			default:
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Path to the policy file")
	cmd.Flags().StringVar(&factsPath, "facts", "", "Path to a YAML VM facts file (optional)")
	_ = cmd.MarkFlagRequired("policy")

	return cmd
}

func newLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <policy-file>",
		Short: "Validate a policy file without evaluating anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := policy.ParseFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules ok\n", args[0], len(rules))
			if len(rules) == 0 || !isCatchAll(rules[len(rules)-1]) {
				fmt.Fprintf(cmd.OutOrStdout(),
					"warning: no trailing %s %s deny catch-all; unmatched requests fail closed at the caller\n",
					domain.TokenAnyVM, domain.TokenAnyVM)
			}
			return nil
		},
	}
}

func newWatchCmd(logLevel *string, prettyLogs *bool) *cobra.Command {
	var policyPath string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a policy file and log every snapshot swap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logging.NewLogger(logging.Config{Level: *logLevel, Pretty: *prettyLogs})
			metrics := telemetry.NewMetrics()

			provider, err := config.NewFileProvider(config.ProviderOptions{
				Path:    policyPath,
				Logger:  logger,
				Metrics: metrics,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := provider.Close(); err != nil {
					logger.Error("failed to close provider", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			updates := provider.Subscribe()
			for {
				select {
				case <-ctx.Done():
					logger.Info("shutting down")
					return nil
				case snapshot := <-updates:
					logger.Info("active snapshot",
						"generation", snapshot.Generation,
						"rules", len(snapshot.Rules),
						"loaded_at", snapshot.LoadedAt)
				}
			}
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Path to the policy file")
	_ = cmd.MarkFlagRequired("policy")

	return cmd
}

func loadInventory(factsPath string) (domain.Inventory, error) {
	if factsPath == "" {
		return inventory.NewMemoryInventory(), nil
	}
	return inventory.LoadFactsFile(factsPath)
}

// verdictExitCode maps an evaluation outcome to the process exit code.
// No-match exits like deny: the enforcement posture is fail-closed.
func verdictExitCode(verdict domain.Verdict, err error) int {
	switch {
	case errors.Is(err, domain.ErrNoMatch):
		return exitDeny
	case err != nil:
		return exitError
	case verdict.Action == domain.ActionAllow:
		return exitAllow
	default:
		return exitDeny
	}
}

func formatVerdict(verdict domain.Verdict) string {
	out := string(verdict.Action)
	if verdict.Target != "" {
		out += " target=" + verdict.Target
	}
	if verdict.Matched.Line > 0 {
		out += fmt.Sprintf(" (rule line %d)", verdict.Matched.Line)
	}
	return out
}

func isCatchAll(rule domain.Rule) bool {
	return rule.Source.Kind == domain.MatchAnyVM &&
		rule.Dest.Kind == domain.MatchAnyVM &&
		rule.Action == domain.ActionDeny
}
