package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-testing/internal/testsuite"
)

func newListCmd() *cobra.Command {
	var suitesDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available test suites",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := testsuite.List(suitesDir)
			if err != nil {
				return fmt.Errorf("failed to list test suites: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "No test suites found.")
				return nil
			}

			fmt.Fprintf(out, "Available test suites:\n\n")
			for _, name := range names {
				suite, err := testsuite.Load(name, suitesDir)
				if err != nil {
					fmt.Fprintf(out, "  - %s (error loading: %v)\n", name, err)
					continue
				}
				fmt.Fprintf(out, "  - %s (%s)\n", suite.Name, name)
				fmt.Fprintf(out, "    Description: %s\n", suite.Description)
				fmt.Fprintf(out, "    Version: %s\n", suite.Version)
				fmt.Fprintf(out, "    Test cases: %d (%d active)\n\n", len(suite.TestCases), len(suite.ActiveTestCases()))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&suitesDir, "suites-dir", "", "External test suites directory")

	return cmd
}
