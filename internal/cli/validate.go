package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tdowney/isolab/internal/harness"
)

// validationResult is the JSON shape of one validated file.
type validationResult struct {
	File  string `json:"file"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario.yaml>...",
		Short: "Validate scenario YAML files without running them",
		Long: `Check scenario files against the schema and semantic rules.

Exit codes:
  0 - All files valid
  1 - One or more files invalid`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			results := make([]validationResult, 0, len(args))
			invalid := 0

			for _, path := range args {
				res := validationResult{File: path, Valid: true}
				if _, err := harness.LoadScenario(path); err != nil {
					res.Valid = false
					res.Error = err.Error()
					invalid++
				}
				results = append(results, res)

				if rootOpts.Format != "json" {
					if res.Valid {
						fmt.Fprintf(w, "ok %s\n", path)
					} else {
						fmt.Fprintf(w, "invalid %s\n  %s\n", path, res.Error)
					}
				}
			}

			if rootOpts.Format == "json" {
				resp := CLIResponse{Status: "ok", Data: results}
				if invalid > 0 {
					resp.Status = "error"
					resp.Error = &CLIError{
						Code:    "E_INVALID_SCENARIO",
						Message: fmt.Sprintf("%d file(s) invalid", invalid),
					}
				}
				if err := writeJSON(w, resp); err != nil {
					return err
				}
			}

			if invalid > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d file(s) invalid", invalid))
			}
			return nil
		},
	}
}
