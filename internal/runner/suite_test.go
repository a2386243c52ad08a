package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/agent-testing/internal/judge"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// scriptedExecutor returns canned results keyed by test case id.
type scriptedExecutor struct {
	mu       sync.Mutex
	results  map[string]testsuite.Result
	errs     map[string]error
	executed []string
	onExec   func(id string)
}

func (s *scriptedExecutor) Execute(_ context.Context, tc testsuite.TestCase, _ Policy, _ judge.Config) (testsuite.Result, error) {
	s.mu.Lock()
	s.executed = append(s.executed, tc.ID)
	s.mu.Unlock()
	if s.onExec != nil {
		s.onExec(tc.ID)
	}
	if err := s.errs[tc.ID]; err != nil {
		return testsuite.Result{}, err
	}
	r := s.results[tc.ID]
	r.TestCaseID = tc.ID
	return r, nil
}

type memoryRecorder struct {
	mu       sync.Mutex
	saves    int
	statuses []testsuite.RunStatus
	err      error
}

func (m *memoryRecorder) SaveRun(_ context.Context, run *testsuite.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.statuses = append(m.statuses, run.Status)
	return m.err
}

func suiteOf(ids ...string) *testsuite.TestSuite {
	s := &testsuite.TestSuite{Name: "smoke"}
	for _, id := range ids {
		s.TestCases = append(s.TestCases, testsuite.TestCase{ID: id, Name: id, UserInput: []string{"hi"}})
	}
	return s
}

func TestSuiteRunCountsAndStats(t *testing.T) {
	exec := &scriptedExecutor{
		results: map[string]testsuite.Result{
			"a": {Verdict: testsuite.VerdictPass, LatencyMs: 100},
			"b": {Verdict: testsuite.VerdictFail, LatencyMs: 500},
			"c": {Verdict: testsuite.VerdictPass, LatencyMs: 300},
			"d": {Verdict: testsuite.VerdictError, LatencyMs: 200},
			"e": {Verdict: testsuite.VerdictPass, LatencyMs: 400},
		},
	}
	rec := &memoryRecorder{}
	s := NewSuiteExecutor(exec, rec)
	var delays []time.Duration
	s.sleep = recordSleeps(&delays)

	var progress []int
	s.SetProgressFunc(func(_, _ string, index, _ int) { progress = append(progress, index) })

	run, err := s.Run(context.Background(), suiteOf("a", "b", "c", "d", "e"), SuiteOptions{
		TargetID:       "prod",
		InterTestDelay: time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, testsuite.RunStatusCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, "prod", run.TargetID)
	assert.Equal(t, 5, run.TotalTestCases)
	assert.Equal(t, 3, run.PassedCount)
	assert.Equal(t, 1, run.FailedCount)
	assert.Equal(t, 1, run.SkippedCount)
	assert.Equal(t, run.TotalTestCases, run.PassedCount+run.FailedCount+run.SkippedCount)

	assert.Equal(t, 300.0, run.AverageLatencyMs)
	assert.Equal(t, 300.0, run.MedianLatencyMs)
	assert.Equal(t, 500.0, run.P95LatencyMs)

	for _, r := range run.Results {
		assert.Equal(t, run.ID, r.RunID)
	}
	assert.Len(t, delays, 4, "no delay after the last case")
	assert.Equal(t, []int{1, 2, 3, 4, 5}, progress)

	assert.Equal(t, 7, rec.saves)
	assert.Equal(t, testsuite.RunStatusRunning, rec.statuses[0])
	assert.Equal(t, testsuite.RunStatusCompleted, rec.statuses[len(rec.statuses)-1])
}

func TestSuiteRunSkipsInactiveCases(t *testing.T) {
	suite := suiteOf("a", "b")
	inactive := false
	suite.TestCases[1].Active = &inactive

	exec := &scriptedExecutor{results: map[string]testsuite.Result{"a": {Verdict: testsuite.VerdictPass}}}
	run, err := NewSuiteExecutor(exec, nil).Run(context.Background(), suite, SuiteOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, run.TotalTestCases)
	assert.Equal(t, []string{"a"}, exec.executed)
}

func TestSuiteRunExecutorErrorCountsAsFailed(t *testing.T) {
	exec := &scriptedExecutor{
		results: map[string]testsuite.Result{"b": {Verdict: testsuite.VerdictPass, LatencyMs: 10}},
		errs:    map[string]error{"a": errors.New("no input")},
	}
	run, err := NewSuiteExecutor(exec, nil).Run(context.Background(), suiteOf("a", "b"), SuiteOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, run.FailedCount)
	assert.Equal(t, 1, run.PassedCount)
	assert.Len(t, run.Results, 1)
	assert.Equal(t, 10.0, run.MedianLatencyMs)
}

func TestSuiteRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &scriptedExecutor{
		results: map[string]testsuite.Result{"a": {Verdict: testsuite.VerdictSkipped, ErrorMessage: "execution cancelled"}},
		onExec:  func(string) { cancel() },
	}
	rec := &memoryRecorder{}
	run, err := NewSuiteExecutor(exec, rec).Run(ctx, suiteOf("a", "b", "c"), SuiteOptions{InterTestDelay: time.Hour})
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, exec.executed)
	assert.Equal(t, testsuite.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.SkippedCount)
	require.Len(t, run.Results, 3)
	assert.Equal(t, "execution cancelled before start", run.Results[1].ErrorMessage)
	assert.Equal(t, "c", run.Results[2].TestCaseID)
	assert.Equal(t, testsuite.RunStatusCompleted, rec.statuses[len(rec.statuses)-1])
}

func TestSuiteRunRecorderErrorsAreIgnored(t *testing.T) {
	exec := &scriptedExecutor{results: map[string]testsuite.Result{"a": {Verdict: testsuite.VerdictPass}}}
	run, err := NewSuiteExecutor(exec, &memoryRecorder{err: errors.New("disk full")}).
		Run(context.Background(), suiteOf("a"), SuiteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, run.PassedCount)
}

func TestSuiteRunEmpty(t *testing.T) {
	run, err := NewSuiteExecutor(&scriptedExecutor{}, nil).Run(context.Background(), suiteOf(), SuiteOptions{})
	require.NoError(t, err)
	assert.Zero(t, run.TotalTestCases)
	assert.Zero(t, run.AverageLatencyMs)
	assert.Equal(t, testsuite.RunStatusCompleted, run.Status)

	_, err = NewSuiteExecutor(&scriptedExecutor{}, nil).Run(context.Background(), nil, SuiteOptions{})
	assert.Error(t, err)
}

func TestPercentile(t *testing.T) {
	values := []int64{500, 100, 400, 200, 300}
	assert.Equal(t, 300.0, Percentile(values, 50))
	assert.Equal(t, 500.0, Percentile(values, 95))
	assert.Equal(t, 100.0, Percentile(values, 0))
	assert.Equal(t, 500.0, Percentile(values, 100))
	assert.Equal(t, []int64{500, 100, 400, 200, 300}, values, "input is not reordered")
	assert.Zero(t, Percentile(nil, 50))
	assert.Equal(t, 300.0, Mean(values))
}
