package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/agent-testing/internal/report"
	"github.com/giantswarm/agent-testing/internal/server"
	"github.com/giantswarm/agent-testing/internal/store"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

func handleGetResults(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	runID, _ := args["run_id"].(string)

	if runID != "" {
		run, err := getRun(ctx, sc, runID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(run)
	}

	filter := store.Filter{}
	filter.SuiteName, _ = args["test_suite"].(string)
	filter.TargetID, _ = args["target"].(string)

	runs, err := listRuns(ctx, sc, filter)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	summaries := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, summarize(run))
	}
	return jsonResult(summaries)
}

// getRun prefers the store and falls back to the artifact in the output
// directory.
func getRun(ctx context.Context, sc *server.ServerContext, runID string) (*testsuite.Run, error) {
	if sc.Store != nil {
		run, err := sc.Store.GetRun(ctx, runID)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, store.ErrNotFound) || sc.OutputDir == "" {
			return nil, fmt.Errorf("run %q: %v", runID, err)
		}
	}

	path, err := resolveArtifactPath(sc.OutputDir, runID)
	if err != nil {
		return nil, fmt.Errorf("invalid run_id: %v", err)
	}
	a, err := report.ReadArtifact(path)
	if err != nil {
		return nil, fmt.Errorf("run %q not found: %v", runID, err)
	}
	return a.Run, nil
}

func listRuns(ctx context.Context, sc *server.ServerContext, filter store.Filter) ([]*testsuite.Run, error) {
	if sc.Store != nil {
		runs, err := sc.Store.ListRuns(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %v", err)
		}
		return runs, nil
	}

	entries, err := os.ReadDir(sc.OutputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read results directory: %v", err)
	}

	var runs []*testsuite.Run
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		a, err := report.ReadArtifact(filepath.Join(sc.OutputDir, e.Name()))
		if err != nil {
			continue
		}
		if filter.SuiteName != "" && !strings.EqualFold(filter.SuiteName, a.Run.SuiteName) {
			continue
		}
		if filter.TargetID != "" && filter.TargetID != a.Run.TargetID {
			continue
		}
		runs = append(runs, a.Run)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}
