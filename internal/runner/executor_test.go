package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/agent-testing/internal/directline"
	"github.com/giantswarm/agent-testing/internal/judge"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// fakeTransport is a scripted Transport. reply is called for every user
// turn with the 1-based conversation number; an empty reply means the
// agent stayed silent.
type fakeTransport struct {
	mu            sync.Mutex
	startErr      func(conversation int) error
	reply         func(ctx context.Context, conversation int, text string) (string, error)
	conversations int
	sent          []string
}

func (f *fakeTransport) StartConversation(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations++
	if f.startErr != nil {
		if err := f.startErr(f.conversations); err != nil {
			return "", err
		}
	}
	return "conv", nil
}

func (f *fakeTransport) SendTurn(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeTransport) AwaitReply(ctx context.Context, _, cursor string, _ time.Duration) ([]directline.Activity, string, error) {
	f.mu.Lock()
	conv, text := f.conversations, f.sent[len(f.sent)-1]
	f.mu.Unlock()

	reply := "echo: " + text
	if f.reply != nil {
		var err error
		reply, err = f.reply(ctx, conv, text)
		if err != nil {
			return nil, cursor, err
		}
	}
	if reply == "" {
		return nil, cursor, nil
	}
	return []directline.Activity{{
		Type:      "message",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		From:      directline.Account{ID: "bot-1", Name: "Support Bot"},
		Text:      reply,
		Raw:       []byte(`{"type":"message"}`),
	}}, cursor + "1", nil
}

func (f *fakeTransport) conversationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conversations
}

type fakeJudge struct {
	mu    sync.Mutex
	eval  judge.Evaluation
	calls int
}

func (f *fakeJudge) Evaluate(_ context.Context, _ judge.Config, _ testsuite.TestCase, _ []testsuite.TranscriptMessage) judge.Evaluation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.eval
}

func passingJudge() *fakeJudge {
	return &fakeJudge{eval: judge.Evaluation{
		Verdict:      testsuite.VerdictPass,
		OverallScore: 0.9,
		Rationale:    "ok",
		Scores:       testsuite.Scores{TaskSuccess: 1},
	}}
}

// recordSleeps returns a sleep func that records delays without waiting.
func recordSleeps(delays *[]time.Duration) func(context.Context, time.Duration) error {
	var mu sync.Mutex
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return ctx.Err()
	}
}

func testPolicy() Policy {
	return Policy{ReplyTimeout: time.Second, MaxRetries: 2, Backoff: 4 * time.Second}
}

func TestExecuteMultiTurnTranscript(t *testing.T) {
	transport := &fakeTransport{}
	j := passingJudge()
	tc := testsuite.TestCase{ID: "reset", Name: "Reset", UserInput: []string{"hi", "reset my password"}}

	result, err := NewExecutor(transport, j).Execute(context.Background(), tc, testPolicy(), judge.Config{})
	require.NoError(t, err)

	assert.Equal(t, testsuite.VerdictPass, result.Verdict)
	assert.Equal(t, 0.9, result.OverallScore)
	assert.Equal(t, "ok", result.JudgeRationale)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 2, result.TurnCount)
	assert.NotEmpty(t, result.ID)
	assert.GreaterOrEqual(t, result.LatencyMs, int64(0))

	require.Len(t, result.Transcript, 4)
	roles := []testsuite.Role{testsuite.RoleUser, testsuite.RoleBot, testsuite.RoleUser, testsuite.RoleBot}
	for i, msg := range result.Transcript {
		assert.Equal(t, roles[i], msg.Role)
		assert.Equal(t, i, msg.Sequence)
	}
	assert.Equal(t, "hi", result.Transcript[0].Content)
	assert.Equal(t, "echo: hi", result.Transcript[1].Content)
	assert.Equal(t, "Support Bot", result.Transcript[1].Sender)
	assert.JSONEq(t, `{"type":"message"}`, string(result.Transcript[1].RawActivity))
	assert.Equal(t, "echo: reset my password", result.Transcript[3].Content)
	assert.Equal(t, 1, j.calls)
}

func TestExecuteSilentAgentIsJudged(t *testing.T) {
	transport := &fakeTransport{reply: func(context.Context, int, string) (string, error) { return "", nil }}
	j := &fakeJudge{eval: judge.Evaluation{Verdict: testsuite.VerdictFail}}
	tc := testsuite.TestCase{ID: "quiet", UserInput: []string{"hello?"}}

	result, err := NewExecutor(transport, j).Execute(context.Background(), tc, testPolicy(), judge.Config{})
	require.NoError(t, err)

	assert.Equal(t, testsuite.VerdictFail, result.Verdict)
	assert.Equal(t, 1, result.Attempts)
	require.Len(t, result.Transcript, 1)
	assert.Equal(t, testsuite.RoleUser, result.Transcript[0].Role)
}

func TestExecuteRetriesRateLimit(t *testing.T) {
	transport := &fakeTransport{reply: func(_ context.Context, conv int, _ string) (string, error) {
		if conv < 3 {
			return "Sorry: genaitoolplannerratelimitreached", nil
		}
		return "All good", nil
	}}
	j := passingJudge()
	var delays []time.Duration

	result, err := NewExecutor(transport, j, WithSleepFunc(recordSleeps(&delays))).
		Execute(context.Background(), testsuite.TestCase{ID: "rl", UserInput: []string{"hi"}}, testPolicy(), judge.Config{})
	require.NoError(t, err)

	assert.Equal(t, testsuite.VerdictPass, result.Verdict)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second}, delays)
	assert.Equal(t, "All good", result.Transcript[1].Content)
	assert.Equal(t, 1, j.calls)
}

func TestExecuteRateLimitOnLastAttempt(t *testing.T) {
	transport := &fakeTransport{reply: func(context.Context, int, string) (string, error) {
		return "RateLimitReached", nil
	}}
	j := passingJudge()
	var delays []time.Duration

	result, err := NewExecutor(transport, j, WithSleepFunc(recordSleeps(&delays))).
		Execute(context.Background(), testsuite.TestCase{ID: "rl", UserInput: []string{"hi"}}, testPolicy(), judge.Config{})
	require.NoError(t, err)

	assert.Equal(t, testsuite.VerdictError, result.Verdict)
	assert.Equal(t, "rate limit exceeded after all retry attempts", result.ErrorMessage)
	assert.Equal(t, 3, result.Attempts)
	assert.Len(t, delays, 2)
	assert.Zero(t, j.calls)
}

func TestExecuteTransportErrorExhaustsRetries(t *testing.T) {
	transport := &fakeTransport{startErr: func(int) error {
		return &directline.ProtocolError{Op: "start conversation", StatusCode: 502}
	}}
	var delays []time.Duration

	result, err := NewExecutor(transport, passingJudge(), WithSleepFunc(recordSleeps(&delays))).
		Execute(context.Background(), testsuite.TestCase{ID: "down", UserInput: []string{"hi"}}, testPolicy(), judge.Config{})
	require.NoError(t, err)

	assert.Equal(t, testsuite.VerdictError, result.Verdict)
	assert.Contains(t, result.ErrorMessage, "Failed after 3 attempts: ")
	assert.Equal(t, 3, transport.conversationCount())
	assert.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second}, delays)
}

func TestExecuteAuthErrorIsFatal(t *testing.T) {
	transport := &fakeTransport{startErr: func(int) error {
		return &directline.AuthError{Op: "start conversation", StatusCode: 403}
	}}
	var delays []time.Duration

	result, err := NewExecutor(transport, passingJudge(), WithSleepFunc(recordSleeps(&delays))).
		Execute(context.Background(), testsuite.TestCase{ID: "auth", UserInput: []string{"hi"}}, testPolicy(), judge.Config{})
	require.NoError(t, err)

	assert.Equal(t, testsuite.VerdictError, result.Verdict)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, transport.conversationCount())
	assert.Empty(t, delays)
}

func TestExecuteTestCaseOverrides(t *testing.T) {
	transport := &fakeTransport{startErr: func(int) error { return errors.New("boom") }}
	zero := 0

	result, err := NewExecutor(transport, passingJudge(), WithSleepFunc(recordSleeps(new([]time.Duration)))).
		Execute(context.Background(), testsuite.TestCase{ID: "once", UserInput: []string{"hi"}, MaxRetries: &zero}, testPolicy(), judge.Config{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, "Failed after 1 attempts: boom", result.ErrorMessage)
}

func TestExecuteCancelledMidPoll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &fakeTransport{reply: func(ctx context.Context, _ int, _ string) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}}
	j := passingJudge()

	result, err := NewExecutor(transport, j).Execute(ctx, testsuite.TestCase{ID: "c", UserInput: []string{"hi"}}, testPolicy(), judge.Config{})
	require.NoError(t, err)

	assert.Equal(t, testsuite.VerdictSkipped, result.Verdict)
	assert.Equal(t, "execution cancelled", result.ErrorMessage)
	assert.Zero(t, j.calls)
}

func TestExecuteRejectsEmptyInput(t *testing.T) {
	_, err := NewExecutor(&fakeTransport{}, passingJudge()).
		Execute(context.Background(), testsuite.TestCase{ID: "empty"}, testPolicy(), judge.Config{})
	assert.Error(t, err)
}

func TestPolicyFor(t *testing.T) {
	suite := &testsuite.TestSuite{DefaultTimeoutSeconds: 45, DefaultMaxRetries: 1}

	target := testsuite.Target{ID: "t", Transport: testsuite.TransportConfig{Secret: "s"}}
	target.ApplyDefaults()
	p := PolicyFor(target, suite)
	assert.Equal(t, 30*time.Second, p.ReplyTimeout)
	assert.Equal(t, 2, p.MaxRetries)
	assert.Equal(t, 4*time.Second, p.Backoff)

	p = PolicyFor(testsuite.Target{ID: "bare"}, suite)
	assert.Equal(t, 45*time.Second, p.ReplyTimeout)
	assert.Equal(t, 1, p.MaxRetries)

	timeout := 10
	d, retries := p.forCase(testsuite.TestCase{TimeoutSeconds: &timeout})
	assert.Equal(t, 10*time.Second, d)
	assert.Equal(t, 1, retries)
}

func TestBackoffDelay(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, 2*time.Second, BackoffDelay(0, base))
	assert.Equal(t, 4*time.Second, BackoffDelay(1, base))
	assert.Equal(t, 8*time.Second, BackoffDelay(2, base))
	assert.Equal(t, time.Duration(0), BackoffDelay(3, 0))
}

func TestMarkerDetector(t *testing.T) {
	detect := MarkerDetector(DefaultRateLimitMarkers...)

	tests := []struct {
		name       string
		transcript []testsuite.TranscriptMessage
		want       bool
	}{
		{
			name:       "bot marker any case",
			transcript: []testsuite.TranscriptMessage{{Role: testsuite.RoleBot, Content: "error RATELIMITREACHED"}},
			want:       true,
		},
		{
			name:       "user text is ignored",
			transcript: []testsuite.TranscriptMessage{{Role: testsuite.RoleUser, Content: "RateLimitReached"}},
		},
		{
			name:       "ordinary reply",
			transcript: []testsuite.TranscriptMessage{{Role: testsuite.RoleBot, Content: "Hello"}},
		},
		{
			name: "empty transcript",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detect(tt.transcript))
		})
	}
}
