package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/agent-testing/internal/judge"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// CaseExecutor runs a single test case. *Executor satisfies it.
type CaseExecutor interface {
	Execute(ctx context.Context, tc testsuite.TestCase, policy Policy, judgeCfg judge.Config) (testsuite.Result, error)
}

// Recorder persists runs as they progress. SaveRun is called when the run
// starts, after every result and once more when it completes.
type Recorder interface {
	SaveRun(ctx context.Context, run *testsuite.Run) error
}

// ProgressFunc is called before each test case is executed.
type ProgressFunc func(target, testCase string, index, total int)

// SuiteOptions parameterise a single suite run.
type SuiteOptions struct {
	TargetID       string
	TargetName     string
	Policy         Policy
	Judge          judge.Config
	InterTestDelay time.Duration
}

// SuiteExecutor runs every active case of a suite sequentially and computes
// the run statistics.
type SuiteExecutor struct {
	executor CaseExecutor
	recorder Recorder
	progress ProgressFunc
	sleep    func(context.Context, time.Duration) error
}

// NewSuiteExecutor creates a new SuiteExecutor. recorder may be nil.
func NewSuiteExecutor(executor CaseExecutor, recorder Recorder) *SuiteExecutor {
	return &SuiteExecutor{
		executor: executor,
		recorder: recorder,
		sleep:    sleepContext,
	}
}

// SetProgressFunc sets the progress callback.
func (s *SuiteExecutor) SetProgressFunc(fn ProgressFunc) {
	s.progress = fn
}

// Run executes suite against one target. Cancellation does not fail the
// run: cases that never started are recorded as skipped and the run is
// still completed with its statistics.
func (s *SuiteExecutor) Run(ctx context.Context, suite *testsuite.TestSuite, opts SuiteOptions) (*testsuite.Run, error) {
	if suite == nil {
		return nil, fmt.Errorf("no test suite given")
	}

	cases := suite.ActiveTestCases()
	run := &testsuite.Run{
		ID:             uuid.NewString(),
		SuiteName:      suite.Name,
		TargetID:       opts.TargetID,
		TargetName:     opts.TargetName,
		Status:         testsuite.RunStatusRunning,
		StartedAt:      time.Now().UTC(),
		TotalTestCases: len(cases),
		Results:        make([]testsuite.Result, 0, len(cases)),
	}
	s.record(ctx, run)

	slog.Info("running test suite",
		"suite", suite.Name,
		"target", opts.TargetID,
		"test_cases", len(cases),
	)

	var latencies []int64
	for i, tc := range cases {
		if ctx.Err() != nil {
			s.skipRemaining(run, cases[i:])
			break
		}

		if s.progress != nil {
			s.progress(opts.TargetID, tc.ID, i+1, len(cases))
		}

		result, err := s.executor.Execute(ctx, tc, opts.Policy, opts.Judge)
		if err != nil {
			slog.Error("test case execution failed", "test_case", tc.ID, "error", err)
			run.FailedCount++
		} else {
			result.RunID = run.ID
			run.Results = append(run.Results, result)
			latencies = append(latencies, result.LatencyMs)
			switch result.Verdict {
			case testsuite.VerdictPass:
				run.PassedCount++
			case testsuite.VerdictFail:
				run.FailedCount++
			default:
				run.SkippedCount++
			}
			s.record(ctx, run)
		}

		if i == len(cases)-1 {
			break
		}
		if ctx.Err() != nil {
			s.skipRemaining(run, cases[i+1:])
			break
		}
		if opts.InterTestDelay > 0 {
			if err := s.sleep(ctx, opts.InterTestDelay); err != nil {
				s.skipRemaining(run, cases[i+1:])
				break
			}
		}
	}

	if len(latencies) > 0 {
		run.AverageLatencyMs = Mean(latencies)
		run.MedianLatencyMs = Percentile(latencies, 50)
		run.P95LatencyMs = Percentile(latencies, 95)
	}
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Status = testsuite.RunStatusCompleted
	s.record(ctx, run)

	slog.Info("test suite complete",
		"suite", suite.Name,
		"target", opts.TargetID,
		"passed", run.PassedCount,
		"failed", run.FailedCount,
		"skipped", run.SkippedCount,
		"avg_latency_ms", run.AverageLatencyMs,
	)
	return run, nil
}

func (s *SuiteExecutor) skipRemaining(run *testsuite.Run, cases []testsuite.TestCase) {
	if len(cases) == 0 {
		return
	}
	slog.Warn("test run cancelled", "run", run.ID, "not_started", len(cases))
	now := time.Now().UTC()
	for _, tc := range cases {
		run.Results = append(run.Results, testsuite.Result{
			ID:           uuid.NewString(),
			RunID:        run.ID,
			TestCaseID:   tc.ID,
			TestCaseName: tc.Name,
			Verdict:      testsuite.VerdictSkipped,
			TurnCount:    len(tc.UserInput),
			ErrorMessage: "execution cancelled before start",
			ExecutedAt:   now,
		})
		run.SkippedCount++
	}
}

// record persists run on a context that survives cancellation so that
// interrupted runs are still stored.
func (s *SuiteExecutor) record(ctx context.Context, run *testsuite.Run) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		slog.Error("failed to record run", "run", run.ID, "error", err)
	}
}
