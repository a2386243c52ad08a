// Package judge scores conversation transcripts with an LLM acting as judge.
package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/giantswarm/agent-testing/internal/llm"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// Config holds the per-target judge parameters. It is passed by value into
// every evaluation.
type Config struct {
	Model          string
	Temperature    *float64
	TopP           *float64
	MaxTokens      int
	PassThreshold  float64
	Weights        testsuite.Weights
	PromptTemplate string
}

// ConfigFromTarget derives the evaluation parameters of a target's judge.
func ConfigFromTarget(j testsuite.JudgeConfig) Config {
	cfg := Config{
		Model:          j.Model,
		Temperature:    j.Temperature,
		TopP:           j.TopP,
		MaxTokens:      j.MaxTokens,
		PassThreshold:  testsuite.DefaultPassThreshold,
		Weights:        j.Weights,
		PromptTemplate: j.PromptTemplate,
	}
	if j.PassThreshold != nil {
		cfg.PassThreshold = *j.PassThreshold
	}
	return cfg
}

// Evaluation is the judge's assessment of one transcript.
type Evaluation struct {
	Scores       testsuite.Scores
	OverallScore float64
	Verdict      testsuite.Verdict
	Rationale    string
	Citations    []string
}

// ErrNotConfigured is reported when no judge client is available.
var ErrNotConfigured = errors.New("judge endpoint is not configured")

// Evaluator scores transcripts. A nil client makes every evaluation end in
// an error verdict.
type Evaluator struct {
	client llm.Client
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(client llm.Client) *Evaluator {
	return &Evaluator{client: client}
}

// Evaluate asks the judge model to score the transcript of tc. It never
// retries: call or parse failures produce verdict error with the reason in
// the rationale.
func (e *Evaluator) Evaluate(ctx context.Context, cfg Config, tc testsuite.TestCase, transcript []testsuite.TranscriptMessage) Evaluation {
	if e == nil || e.client == nil {
		return errorEvaluation(ErrNotConfigured)
	}

	resp, err := e.client.ChatCompletion(ctx, llm.ChatRequest{
		Model:         cfg.Model,
		SystemMessage: systemPrompt(cfg),
		UserMessage:   buildUserPrompt(tc, transcript),
		Temperature:   cfg.Temperature,
		TopP:          cfg.TopP,
		MaxTokens:     cfg.MaxTokens,
	})
	if err != nil {
		slog.Error("judge call failed", "test_case", tc.ID, "error", err)
		return errorEvaluation(fmt.Errorf("judge call failed: %w", err))
	}

	parsed, err := parseResponse(resp.Content)
	if err != nil {
		slog.Warn("could not parse judge response", "test_case", tc.ID, "error", err)
		return errorEvaluation(err)
	}

	ev := Evaluation{
		Scores: testsuite.Scores{
			TaskSuccess: clamp01(parsed.TaskSuccess),
			IntentMatch: clamp01(parsed.IntentMatch),
			Factuality:  clamp01(parsed.Factuality),
			Helpfulness: clamp01(parsed.Helpfulness),
			Safety:      clamp01(parsed.Safety),
		},
		Rationale: parsed.Rationale,
		Citations: parsed.Citations,
	}
	ev.OverallScore = WeightedScore(ev.Scores, cfg.Weights)
	ev.Verdict = VerdictFor(ev.OverallScore, cfg.PassThreshold)

	slog.Debug("judge evaluation",
		"test_case", tc.ID,
		"verdict", ev.Verdict,
		"score", ev.OverallScore,
	)
	return ev
}

// WeightedScore is the weighted sum of the five dimensions.
func WeightedScore(s testsuite.Scores, w testsuite.Weights) float64 {
	return s.TaskSuccess*w.TaskSuccess +
		s.IntentMatch*w.IntentMatch +
		s.Factuality*w.Factuality +
		s.Helpfulness*w.Helpfulness +
		s.Safety*w.Safety
}

// VerdictFor maps an overall score to pass or fail.
func VerdictFor(score, threshold float64) testsuite.Verdict {
	if score >= threshold {
		return testsuite.VerdictPass
	}
	return testsuite.VerdictFail
}

func errorEvaluation(err error) Evaluation {
	return Evaluation{
		Verdict:   testsuite.VerdictError,
		Rationale: "evaluation error: " + err.Error(),
	}
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
