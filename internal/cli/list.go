package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tdowney/isolab/internal/harness"
)

// scenarioSummary is the JSON shape of one catalog entry.
type scenarioSummary struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Actors      map[string]string `json:"actors"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List the built-in anomaly scenarios",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := harness.Catalog()

			if rootOpts.Format == "json" {
				summaries := make([]scenarioSummary, 0, len(catalog))
				for _, sc := range catalog {
					actors := make(map[string]string, len(sc.Actors))
					for _, a := range sc.Actors {
						actors[a.Role] = string(a.Isolation)
					}
					summaries = append(summaries, scenarioSummary{
						Name:        sc.Name,
						Description: sc.Description,
						Actors:      actors,
					})
				}
				return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: summaries})
			}

			w := cmd.OutOrStdout()
			for _, sc := range catalog {
				fmt.Fprintf(w, "%s\n", sc.Name)
				for _, a := range sc.Actors {
					fmt.Fprintf(w, "  %s: %s\n", a.Role, a.Isolation)
				}
				fmt.Fprintf(w, "  %s\n", sc.Description)
			}
			return nil
		},
	}
}
