package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tdowney/isolab/internal/harness"
	"github.com/tdowney/isolab/internal/store"
	"github.com/tdowney/isolab/internal/store/memstore"
	"github.com/tdowney/isolab/internal/store/sqlstore"
)

// EnvDSN is the environment fallback for the --dsn flag.
const EnvDSN = "ISOLAB_DSN"

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DSN     string
	Timeout time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run one anomaly scenario and print its report",
		Long: `Run a scenario by catalog name or YAML file path.

The report is one line per executed step followed by a single verdict
line. Serialization failures and lock timeouts appear as step outcomes;
they are demonstration data, not errors.

Exit codes:
  0 - Verdict PASS
  1 - Verdict FAIL
  2 - Command error (unknown scenario, store unreachable, etc.)

Examples:
  isolab run non-repeatable-read
  isolab run serializable-no-phantom --dsn postgres://localhost/shop
  isolab run ./scenarios/custom.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "store DSN (postgres:// URL or SQLite path; default in-memory, env "+EnvDSN+")")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", sqlstore.DefaultStatementTimeout, "per-statement execution budget")

	return cmd
}

func runScenario(cmd *cobra.Command, opts *RunOptions, name string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	scenario, err := resolveScenario(name)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve scenario", err)
	}

	st, err := openStore(ctx, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	runnerOpts := []harness.Option{}
	if opts.Verbose {
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
		runnerOpts = append(runnerOpts, harness.WithLogger(logger))
	}

	result, err := harness.New(st, runnerOpts...).Run(ctx, scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Pass {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    "E_SCENARIO_FAILED",
				Message: fmt.Sprintf("scenario %s failed", result.Scenario),
			}
		}
		if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), result.Render())
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", result.Scenario))
	}
	return nil
}

// resolveScenario treats the argument as a catalog name first, then as
// a YAML file path.
func resolveScenario(name string) (*harness.Scenario, error) {
	if sc, ok := harness.Lookup(name); ok {
		return sc, nil
	}
	if _, err := os.Stat(name); err == nil {
		return harness.LoadScenario(name)
	}
	return nil, fmt.Errorf("no catalog scenario or file named %q (try 'isolab list')", name)
}

// openStore picks the store implementation from the DSN: the in-memory
// MVCC engine by default, a SQL engine otherwise.
func openStore(ctx context.Context, opts *RunOptions) (store.Store, error) {
	dsn := opts.DSN
	if dsn == "" {
		dsn = os.Getenv(EnvDSN)
	}
	if dsn == "" || dsn == "memory" {
		return memstore.Open(), nil
	}
	return sqlstore.Open(ctx, dsn, sqlstore.WithStatementTimeout(opts.Timeout))
}
