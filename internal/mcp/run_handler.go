package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/agent-testing/internal/report"
	"github.com/giantswarm/agent-testing/internal/server"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// runSummary is the per-target outcome returned to MCP clients. Transcripts
// are left out; get_results returns them.
type runSummary struct {
	RunID            string  `json:"run_id"`
	Suite            string  `json:"suite"`
	Target           string  `json:"target"`
	Status           string  `json:"status"`
	Total            int     `json:"total"`
	Passed           int     `json:"passed"`
	Failed           int     `json:"failed"`
	Skipped          int     `json:"skipped"`
	PassRate         float64 `json:"pass_rate"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	MedianLatencyMs  float64 `json:"median_latency_ms"`
	P95LatencyMs     float64 `json:"p95_latency_ms"`
	StartedAt        string  `json:"started_at"`
	Artifact         string  `json:"artifact,omitempty"`
}

func summarize(run *testsuite.Run) runSummary {
	return runSummary{
		RunID:            run.ID,
		Suite:            run.SuiteName,
		Target:           run.TargetID,
		Status:           string(run.Status),
		Total:            run.TotalTestCases,
		Passed:           run.PassedCount,
		Failed:           run.FailedCount,
		Skipped:          run.SkippedCount,
		PassRate:         run.PassRate(),
		AverageLatencyMs: run.AverageLatencyMs,
		MedianLatencyMs:  run.MedianLatencyMs,
		P95LatencyMs:     run.P95LatencyMs,
		StartedAt:        run.StartedAt.Format(time.RFC3339),
	}
}

func handleRunTestSuite(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	suiteName, ok := args["test_suite"].(string)
	if !ok || suiteName == "" {
		return mcp.NewToolResultError("test_suite is required"), nil
	}
	if err := validateSuiteName(suiteName); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid test_suite: %v", err)), nil
	}

	suite, err := testsuite.Load(suiteName, sc.SuitesDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load test suite: %v", err)), nil
	}

	var ids []string
	if raw, ok := args["targets"].(string); ok {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	targets, err := sc.SelectTargets(ids)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid targets: %v", err)), nil
	}

	delay := sc.InterTestDelay
	if d, ok := args["delay_seconds"].(float64); ok && d >= 0 {
		delay = time.Duration(d * float64(time.Second))
	}

	runs := sc.NewCoordinator().Run(ctx, suite, targets, delay)
	if len(runs) == 0 {
		return mcp.NewToolResultError("no target completed; see server logs"), nil
	}

	summaries := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		s := summarize(run)
		if sc.OutputDir != "" {
			path, err := report.WriteArtifact(sc.OutputDir, run)
			if err != nil {
				slog.Error("failed to write run artifact", "run", run.ID, "error", err)
			} else {
				s.Artifact = path
			}
		}
		summaries = append(summaries, s)
	}
	return jsonResult(summaries)
}
