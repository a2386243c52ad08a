package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-testing/internal/report"
	"github.com/giantswarm/agent-testing/internal/runner"
	"github.com/giantswarm/agent-testing/internal/server"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// errTestsFailed makes the process exit non-zero when any case failed.
var errTestsFailed = errors.New("one or more test cases failed")

func newRunCmd() *cobra.Command {
	var (
		targetsFile string
		targetIDs   []string
		outputDir   string
		suitesDir   string
		junitPath   string
		delay       time.Duration
		timeout     time.Duration
		dryRun      bool
		deployJudge bool
		inCluster   bool
	)

	cmd := &cobra.Command{
		Use:   "run <test-suite>",
		Short: "Run a test suite against one or more agents",
		Long: `Run a test suite against every target in the targets file, or only the
targets selected with --target. Targets are run one after another.

Each run is stored, written to the output directory as a digest-stamped
JSON artifact and summarised on stdout. The command exits non-zero when any
test case failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			suite, err := testsuite.Load(args[0], suitesDir)
			if err != nil {
				return fmt.Errorf("failed to load test suite: %w", err)
			}
			if targetsFile == "" {
				return fmt.Errorf("--targets is required")
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if timeout > 0 {
				var cancelTimeout context.CancelFunc
				ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
				defer cancelTimeout()
			}

			if dryRun {
				targets, err := testsuite.LoadTargets(targetsFile)
				if err != nil {
					return err
				}
				return printPlan(cmd, suite, targets, targetIDs)
			}

			sc, closeStore, err := newServerContext(ctx, cmd, contextOptions{
				targetsFile: targetsFile,
				outputDir:   outputDir,
				suitesDir:   suitesDir,
				deployJudge: deployJudge,
				inCluster:   inCluster,
				delay:       delay,
			})
			if err != nil {
				return err
			}
			defer closeStore()

			targets, err := sc.SelectTargets(targetIDs)
			if err != nil {
				return err
			}

			coordinator := sc.NewCoordinator()
			coordinator.SetProgressFunc(func(target, testCase string, index, total int) {
				fmt.Fprintf(os.Stderr, "[%s %d/%d] %s\n", target, index, total, testCase)
			})

			runs := coordinator.Run(ctx, suite, targets, delay)
			if len(runs) == 0 {
				return fmt.Errorf("no target completed; see logs for details")
			}

			for _, run := range runs {
				path, err := report.WriteArtifact(outputDir, run)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Results written to %s\n", path)
			}
			if junitPath != "" {
				if err := report.WriteJUnitXML(junitPath, suite.Name, runs); err != nil {
					return err
				}
			}

			if err := report.WriteSummary(cmd.OutOrStdout(), runs); err != nil {
				return err
			}

			for _, run := range runs {
				if run.HasFailures() {
					return errTestsFailed
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&targetsFile, "targets", "", "Targets file (YAML)")
	cmd.Flags().StringSliceVar(&targetIDs, "target", nil, "Target ids to run (default: all)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "results", "Directory for run artifacts")
	cmd.Flags().StringVar(&suitesDir, "suites-dir", "", "External test suites directory")
	cmd.Flags().StringVar(&junitPath, "junit", "", "Also write a JUnit XML report to this path")
	cmd.Flags().DurationVar(&delay, "delay", 2*time.Second, "Pause between test cases")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall timeout for the run (0 = no timeout)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate inputs and print the plan without executing")
	cmd.Flags().BoolVar(&deployJudge, "deploy-judge", false, "Serve judge models in-cluster via KServe")
	cmd.Flags().BoolVar(&inCluster, "in-cluster", false, "Use in-cluster Kubernetes authentication")

	return cmd
}

func printPlan(cmd *cobra.Command, suite *testsuite.TestSuite, targets []testsuite.Target, ids []string) error {
	selected, err := (&server.ServerContext{Targets: targets}).SelectTargets(ids)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	cases := suite.ActiveTestCases()
	fmt.Fprintf(out, "Dry run: %s (%d active test cases)\n", suite.Name, len(cases))
	for _, tc := range cases {
		fmt.Fprintf(out, "  - %s: %s (%d turns)\n", tc.ID, tc.Name, len(tc.UserInput))
	}
	fmt.Fprintf(out, "Targets:\n")
	for _, t := range selected {
		policy := runner.PolicyFor(t, suite)
		fmt.Fprintf(out, "  - %s (%s) timeout=%s retries=%d judge=%s\n",
			t.ID, t.Name, policy.ReplyTimeout, policy.MaxRetries, t.Judge.Model)
	}
	return nil
}
