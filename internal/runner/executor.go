// Package runner drives test suites against conversational agents and
// collects judged results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/agent-testing/internal/directline"
	"github.com/giantswarm/agent-testing/internal/judge"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// Transport is the conversation channel to the agent under test.
// *directline.Client satisfies it.
type Transport interface {
	StartConversation(ctx context.Context) (string, error)
	SendTurn(ctx context.Context, conversationID, text string) error
	AwaitReply(ctx context.Context, conversationID, cursor string, timeout time.Duration) ([]directline.Activity, string, error)
}

// Judge scores a finished transcript. *judge.Evaluator satisfies it.
type Judge interface {
	Evaluate(ctx context.Context, cfg judge.Config, tc testsuite.TestCase, transcript []testsuite.TranscriptMessage) judge.Evaluation
}

// Policy holds the execution defaults of a target. Test cases may override
// the reply timeout and retry count.
type Policy struct {
	ReplyTimeout time.Duration
	MaxRetries   int
	Backoff      time.Duration
}

// PolicyFor resolves the execution defaults for target, falling back to the
// suite defaults for values the target leaves unset.
func PolicyFor(target testsuite.Target, suite *testsuite.TestSuite) Policy {
	p := Policy{
		ReplyTimeout: time.Duration(target.Transport.ReplyTimeoutSeconds) * time.Second,
		Backoff:      time.Duration(target.Transport.BackoffSeconds) * time.Second,
	}
	if p.ReplyTimeout <= 0 && suite != nil && suite.DefaultTimeoutSeconds > 0 {
		p.ReplyTimeout = time.Duration(suite.DefaultTimeoutSeconds) * time.Second
	}
	if p.ReplyTimeout <= 0 {
		p.ReplyTimeout = testsuite.DefaultReplyTimeoutSeconds * time.Second
	}
	switch {
	case target.Transport.MaxRetries != nil:
		p.MaxRetries = *target.Transport.MaxRetries
	case suite != nil:
		p.MaxRetries = suite.DefaultMaxRetries
	}
	return p
}

func (p Policy) forCase(tc testsuite.TestCase) (time.Duration, int) {
	timeout, retries := p.ReplyTimeout, p.MaxRetries
	if tc.TimeoutSeconds != nil && *tc.TimeoutSeconds > 0 {
		timeout = time.Duration(*tc.TimeoutSeconds) * time.Second
	}
	if tc.MaxRetries != nil && *tc.MaxRetries >= 0 {
		retries = *tc.MaxRetries
	}
	return timeout, max(retries, 0)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRateLimitDetector replaces the marker based rate limit detection.
func WithRateLimitDetector(d RateLimitDetector) ExecutorOption {
	return func(e *Executor) {
		if d != nil {
			e.detector = d
		}
	}
}

// WithSleepFunc replaces the backoff sleep. Used by tests.
func WithSleepFunc(fn func(context.Context, time.Duration) error) ExecutorOption {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// Executor runs single test cases: one conversation per attempt, retried
// with exponential backoff, then judged.
type Executor struct {
	transport Transport
	judge     Judge
	detector  RateLimitDetector
	sleep     func(context.Context, time.Duration) error
}

// NewExecutor creates a new Executor.
func NewExecutor(transport Transport, j Judge, opts ...ExecutorOption) *Executor {
	e := &Executor{
		transport: transport,
		judge:     j,
		detector:  MarkerDetector(DefaultRateLimitMarkers...),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs tc and returns its result. Failures of the agent or the judge
// are folded into the result verdict; the returned error is reserved for
// cases that cannot be executed at all.
func (e *Executor) Execute(ctx context.Context, tc testsuite.TestCase, policy Policy, judgeCfg judge.Config) (testsuite.Result, error) {
	if len(tc.UserInput) == 0 {
		return testsuite.Result{}, fmt.Errorf("test case %q has no user input", tc.ID)
	}

	timeout, maxRetries := policy.forCase(tc)
	bo := newBackOff(policy.Backoff)

	result := testsuite.Result{
		ID:           uuid.NewString(),
		TestCaseID:   tc.ID,
		TestCaseName: tc.Name,
		Verdict:      testsuite.VerdictUnknown,
		TurnCount:    len(tc.UserInput),
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		result.Attempts = attempt + 1
		start := time.Now()
		transcript, err := e.converse(ctx, tc, timeout)
		result.ExecutedAt = start
		result.LatencyMs = time.Since(start).Milliseconds()
		result.Transcript = transcript

		if ctx.Err() != nil {
			return cancelled(result), nil
		}
		if err == nil && e.detector(transcript) {
			err = ErrRateLimited
		}
		if err == nil {
			break
		}

		var authErr *directline.AuthError
		if errors.As(err, &authErr) {
			slog.Error("agent rejected credentials", "test_case", tc.ID, "error", err)
			result.Verdict = testsuite.VerdictError
			result.ErrorMessage = err.Error()
			return result, nil
		}

		if attempt == maxRetries {
			result.Verdict = testsuite.VerdictError
			if errors.Is(err, ErrRateLimited) {
				result.ErrorMessage = ErrRateLimited.Error()
			} else {
				result.ErrorMessage = fmt.Sprintf("Failed after %d attempts: %v", attempt+1, err)
			}
			slog.Error("test case failed", "test_case", tc.ID, "attempts", attempt+1, "error", err)
			return result, nil
		}

		delay := bo.NextBackOff()
		slog.Warn("attempt failed, retrying",
			"test_case", tc.ID,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		if err := e.sleep(ctx, delay); err != nil {
			return cancelled(result), nil
		}
	}

	ev := e.judge.Evaluate(ctx, judgeCfg, tc, result.Transcript)
	if ctx.Err() != nil {
		return cancelled(result), nil
	}
	result.Verdict = ev.Verdict
	result.Scores = ev.Scores
	result.OverallScore = ev.OverallScore
	result.JudgeRationale = ev.Rationale
	result.JudgeCitations = ev.Citations
	return result, nil
}

// converse plays every user turn of tc in a fresh conversation. The
// transcript gathered so far is returned alongside any error.
func (e *Executor) converse(ctx context.Context, tc testsuite.TestCase, timeout time.Duration) ([]testsuite.TranscriptMessage, error) {
	var transcript []testsuite.TranscriptMessage

	conversationID, err := e.transport.StartConversation(ctx)
	if err != nil {
		return nil, err
	}

	cursor := ""
	for i, text := range tc.UserInput {
		transcript = append(transcript, testsuite.TranscriptMessage{
			Role:      testsuite.RoleUser,
			Sender:    "user",
			Content:   text,
			Timestamp: time.Now().UTC(),
			Sequence:  len(transcript),
		})
		if err := e.transport.SendTurn(ctx, conversationID, text); err != nil {
			return transcript, err
		}

		var replies []directline.Activity
		replies, cursor, err = e.transport.AwaitReply(ctx, conversationID, cursor, timeout)
		if err != nil {
			return transcript, err
		}
		if len(replies) == 0 {
			slog.Warn("no reply within timeout", "test_case", tc.ID, "turn", i+1, "timeout", timeout)
		}
		for _, a := range replies {
			ts := a.Timestamp
			if ts.IsZero() {
				ts = time.Now().UTC()
			}
			transcript = append(transcript, testsuite.TranscriptMessage{
				Role:        testsuite.RoleBot,
				Sender:      a.Sender(),
				Content:     a.Text,
				Timestamp:   ts,
				Sequence:    len(transcript),
				RawActivity: a.Raw,
			})
		}
	}
	return transcript, nil
}

func cancelled(r testsuite.Result) testsuite.Result {
	r.Verdict = testsuite.VerdictSkipped
	r.ErrorMessage = "execution cancelled"
	return r
}
