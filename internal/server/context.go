// Package server holds the dependencies shared by the CLI and the MCP tool
// handlers, and the HTTP transport of the MCP server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/giantswarm/agent-testing/internal/directline"
	"github.com/giantswarm/agent-testing/internal/judge"
	"github.com/giantswarm/agent-testing/internal/judgehost"
	"github.com/giantswarm/agent-testing/internal/llm"
	"github.com/giantswarm/agent-testing/internal/runner"
	"github.com/giantswarm/agent-testing/internal/store"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// ServerContext holds shared dependencies for test runs.
type ServerContext struct {
	Targets   []testsuite.Target
	Store     *store.Store
	JudgeHost *judgehost.Host // optional
	SuitesDir string          // external test suites directory (optional)
	OutputDir string

	// DeployJudge serves judges with a model URI in-cluster for the
	// duration of their target's run.
	DeployJudge    bool
	InterTestDelay time.Duration

	// HTTPClient is used by transports and judge clients when set.
	HTTPClient *http.Client

	mu       sync.Mutex
	deployed map[string]int // references per deployed judge
}

// SelectTargets returns the configured targets with the given ids, in the
// order given. No ids selects all targets.
func (sc *ServerContext) SelectTargets(ids []string) ([]testsuite.Target, error) {
	if len(sc.Targets) == 0 {
		return nil, fmt.Errorf("no targets configured")
	}
	if len(ids) == 0 {
		return sc.Targets, nil
	}
	byID := make(map[string]testsuite.Target, len(sc.Targets))
	for _, t := range sc.Targets {
		byID[t.ID] = t
	}
	selected := make([]testsuite.Target, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown target %q", id)
		}
		selected = append(selected, t)
	}
	return selected, nil
}

// NewCoordinator wires a coordinator with Direct Line transports, OpenAI
// compatible judges and optional in-cluster judge deployment.
func (sc *ServerContext) NewCoordinator() *runner.Coordinator {
	var recorder runner.Recorder
	if sc.Store != nil {
		recorder = sc.Store
	}
	leases := sc.newJudgeLeases()
	c := runner.NewCoordinator(sc.NewTransport, leases.newJudge, recorder)
	c.SetAfterTargetFunc(leases.release)
	return c
}

// NewTransport builds the Direct Line client of target.
func (sc *ServerContext) NewTransport(_ context.Context, target testsuite.Target) (runner.Transport, error) {
	tr := target.Transport
	if tr.Secret == "" {
		return nil, fmt.Errorf("target %s has no transport secret", target.ID)
	}

	var auth directline.Auth = directline.StaticSecret{Secret: tr.Secret}
	if tr.UseTokenExchange {
		auth = directline.ExchangedToken{Secret: tr.Secret}
	}
	opts := []directline.Option{directline.WithRequestsPerMinute(tr.RequestsPerMinute)}
	if sc.HTTPClient != nil {
		opts = append(opts, directline.WithHTTPClient(sc.HTTPClient))
	}
	return directline.NewClient(tr.Endpoint, auth, opts...), nil
}

// judgeLeases records the deployed judges one coordinator holds. A
// coordinator visits targets sequentially, so held needs no lock.
type judgeLeases struct {
	sc   *ServerContext
	held map[string]bool
}

func (sc *ServerContext) newJudgeLeases() *judgeLeases {
	return &judgeLeases{sc: sc, held: make(map[string]bool)}
}

func (l *judgeLeases) newJudge(ctx context.Context, target testsuite.Target) (runner.Judge, error) {
	j, acquired, err := l.sc.newJudge(ctx, target)
	if acquired {
		l.held[target.ID] = true
	}
	return j, err
}

func (l *judgeLeases) release(ctx context.Context, target testsuite.Target) error {
	if !l.held[target.ID] {
		return nil
	}
	delete(l.held, target.ID)
	return l.sc.releaseJudge(ctx, target.ID)
}

// newJudge builds the judge of target. With DeployJudge set and a model URI
// configured, the judge model is deployed first and reached in-cluster;
// acquired then reports that a reference on the deployment is held and must
// be given back with releaseJudge.
func (sc *ServerContext) newJudge(ctx context.Context, target testsuite.Target) (_ runner.Judge, acquired bool, _ error) {
	cfg := target.Judge
	endpoint := cfg.Endpoint

	if spec, ok := judgehost.SpecForTarget(target); ok && sc.DeployJudge {
		if sc.JudgeHost == nil {
			return nil, false, fmt.Errorf("judge deployment requested for target %s but no cluster is configured", target.ID)
		}
		sc.acquireJudge(target.ID)
		d, err := sc.JudgeHost.Deploy(ctx, spec)
		if err != nil {
			return nil, true, fmt.Errorf("failed to deploy judge for target %s: %w", target.ID, err)
		}
		endpoint = d.EndpointURL
		acquired = true
	}

	if endpoint == "" {
		slog.Warn("no judge endpoint configured, results will be errors", "target", target.ID)
		return judge.NewEvaluator(nil), acquired, nil
	}

	opts := []llm.Option{llm.WithBaseURL(endpoint), llm.WithModel(cfg.Model)}
	if cfg.APIKey != "" {
		opts = append(opts, llm.WithAPIKey(cfg.APIKey))
	}
	if cfg.Azure {
		opts = append(opts, llm.WithAzure(cfg.APIVersion))
	}
	if sc.HTTPClient != nil {
		opts = append(opts, llm.WithHTTPClient(sc.HTTPClient))
	}
	return judge.NewEvaluator(llm.NewOpenAIClient(opts...)), acquired, nil
}

func (sc *ServerContext) acquireJudge(targetID string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.deployed == nil {
		sc.deployed = make(map[string]int)
	}
	sc.deployed[targetID]++
}

// releaseJudge drops one reference on the judge of targetID and tears the
// deployment down once no run uses it. The lock is held across the teardown
// so that a concurrent acquisition cannot reuse a judge being deleted.
func (sc *ServerContext) releaseJudge(ctx context.Context, targetID string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.deployed[targetID] <= 0 {
		return nil
	}
	sc.deployed[targetID]--
	if sc.deployed[targetID] > 0 {
		slog.Info("judge still in use, keeping it", "target", targetID, "references", sc.deployed[targetID])
		return nil
	}
	delete(sc.deployed, targetID)
	if sc.JudgeHost == nil {
		return nil
	}
	return sc.JudgeHost.Teardown(ctx, targetID)
}
