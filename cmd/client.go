package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-testing/internal/judgehost"
	"github.com/giantswarm/agent-testing/internal/server"
	"github.com/giantswarm/agent-testing/internal/store"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// contextOptions are the flags shared by commands that execute suites.
type contextOptions struct {
	targetsFile string
	outputDir   string
	suitesDir   string
	deployJudge bool
	inCluster   bool
	delay       time.Duration
}

// newServerContext loads targets, opens the run store and, when judge
// deployment is requested, connects to the cluster. The returned func
// releases the store.
func newServerContext(ctx context.Context, cmd *cobra.Command, o contextOptions) (*server.ServerContext, func(), error) {
	sc := &server.ServerContext{
		OutputDir:      o.outputDir,
		SuitesDir:      o.suitesDir,
		DeployJudge:    o.deployJudge,
		InterTestDelay: o.delay,
	}

	if o.targetsFile != "" {
		targets, err := testsuite.LoadTargets(o.targetsFile)
		if err != nil {
			return nil, nil, err
		}
		applyEnvDefaults(targets)
		sc.Targets = targets
	}

	if o.deployJudge {
		namespace, _ := cmd.Flags().GetString("namespace")
		kubeconfig, _ := cmd.Flags().GetString("kubeconfig")
		host, err := judgehost.NewHost(namespace, kubeconfig, o.inCluster)
		if err != nil {
			return nil, nil, err
		}
		if err := host.CheckAvailable(ctx); err != nil {
			return nil, nil, err
		}
		sc.JudgeHost = host
	}

	dataDir, _ := cmd.Flags().GetString("data-dir")
	s, err := store.Open(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open run store: %w", err)
	}
	sc.Store = s

	return sc, func() {
		if err := s.Close(); err != nil {
			slog.Error("failed to close run store", "error", err)
		}
	}, nil
}

// applyEnvDefaults fills judge API keys from OPENAI_API_KEY for targets that
// do not set one.
func applyEnvDefaults(targets []testsuite.Target) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return
	}
	for i := range targets {
		if targets[i].Judge.APIKey == "" {
			targets[i].Judge.APIKey = key
		}
	}
}
