package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-testing/internal/report"
	"github.com/giantswarm/agent-testing/internal/store"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

func newResultsCmd() *cobra.Command {
	var (
		suiteName string
		targetID  string
		limit     int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "results [run-id]",
		Short: "Show stored test runs",
		Long: `Show a single stored run, or list stored runs newest first when no run id
is given. Runs can be filtered by suite name and target.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			if dataDir == "" {
				return fmt.Errorf("--data-dir is required")
			}
			s, err := store.Open(dataDir)
			if err != nil {
				return fmt.Errorf("failed to open run store: %w", err)
			}
			defer func() { _ = s.Close() }()

			var runs []*testsuite.Run
			if len(args) == 1 {
				run, err := s.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				runs = []*testsuite.Run{run}
			} else {
				runs, err = s.ListRuns(cmd.Context(), store.Filter{SuiteName: suiteName, TargetID: targetID})
				if err != nil {
					return err
				}
				if limit > 0 && len(runs) > limit {
					runs = runs[:limit]
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}
			return report.WriteSummary(out, runs)
		},
	}

	cmd.Flags().StringVar(&suiteName, "suite", "", "Only show runs of this suite")
	cmd.Flags().StringVar(&targetID, "target", "", "Only show runs against this target")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of runs to list (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")

	return cmd
}
