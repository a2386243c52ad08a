package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/giantswarm/agent-testing/internal/judge"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// MaxInterTargetDelay caps the pause between two targets.
const MaxInterTargetDelay = 5 * time.Second

// TransportFactory returns the transport used for all cases of a target.
type TransportFactory func(ctx context.Context, target testsuite.Target) (Transport, error)

// JudgeFactory returns the judge for a target. It is called before the
// target's suite run and may deploy the judge model on demand.
type JudgeFactory func(ctx context.Context, target testsuite.Target) (Judge, error)

// AfterTargetFunc is called after a target's run completes or fails. Use it
// to release resources created by the factories.
type AfterTargetFunc func(ctx context.Context, target testsuite.Target) error

// Coordinator runs one suite against several targets, one after another.
// A failing target never stops the others.
type Coordinator struct {
	newTransport TransportFactory
	newJudge     JudgeFactory
	afterTarget  AfterTargetFunc
	recorder     Recorder
	progress     ProgressFunc
	executorOpts []ExecutorOption
	sleep        func(context.Context, time.Duration) error
}

// NewCoordinator creates a new Coordinator. recorder may be nil.
func NewCoordinator(newTransport TransportFactory, newJudge JudgeFactory, recorder Recorder) *Coordinator {
	return &Coordinator{
		newTransport: newTransport,
		newJudge:     newJudge,
		recorder:     recorder,
		sleep:        sleepContext,
	}
}

// SetAfterTargetFunc sets the post-target callback.
func (c *Coordinator) SetAfterTargetFunc(fn AfterTargetFunc) {
	c.afterTarget = fn
}

// SetProgressFunc sets the progress callback passed to every suite run.
func (c *Coordinator) SetProgressFunc(fn ProgressFunc) {
	c.progress = fn
}

// SetExecutorOptions sets options applied to every per-target Executor.
func (c *Coordinator) SetExecutorOptions(opts ...ExecutorOption) {
	c.executorOpts = opts
}

// InterTargetDelay is the pause between targets for a given inter-test delay.
func InterTargetDelay(interTest time.Duration) time.Duration {
	return min(MaxInterTargetDelay, 2*interTest)
}

// Run executes suite against every target and returns the completed runs.
// Targets whose setup or run failed are logged and left out.
func (c *Coordinator) Run(ctx context.Context, suite *testsuite.TestSuite, targets []testsuite.Target, interTestDelay time.Duration) []*testsuite.Run {
	runs := make([]*testsuite.Run, 0, len(targets))

	for i, target := range targets {
		if ctx.Err() != nil {
			slog.Warn("test run cancelled before target", "target", target.ID)
			break
		}

		run, err := c.runTarget(ctx, suite, target, interTestDelay)
		if err != nil {
			slog.Error("target run failed", "target", target.ID, "error", err)
		} else {
			runs = append(runs, run)
		}

		if c.afterTarget != nil {
			if err := c.afterTarget(context.WithoutCancel(ctx), target); err != nil {
				slog.Error("after-target hook failed", "target", target.ID, "error", err)
			}
		}

		if i < len(targets)-1 {
			if err := c.sleep(ctx, InterTargetDelay(interTestDelay)); err != nil {
				break
			}
		}
	}
	return runs
}

func (c *Coordinator) runTarget(ctx context.Context, suite *testsuite.TestSuite, target testsuite.Target, interTestDelay time.Duration) (*testsuite.Run, error) {
	transport, err := c.newTransport(ctx, target)
	if err != nil {
		return nil, err
	}
	j, err := c.newJudge(ctx, target)
	if err != nil {
		return nil, err
	}

	exec := NewSuiteExecutor(NewExecutor(transport, j, c.executorOpts...), c.recorder)
	exec.SetProgressFunc(c.progress)
	exec.sleep = c.sleep

	return exec.Run(ctx, suite, SuiteOptions{
		TargetID:       target.ID,
		TargetName:     target.Name,
		Policy:         PolicyFor(target, suite),
		Judge:          judge.ConfigFromTarget(target.Judge),
		InterTestDelay: interTestDelay,
	})
}
