package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/agent-testing/internal/server"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

type suiteInfo struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Version         string `json:"version"`
	TestCaseCount   int    `json:"test_case_count"`
	ActiveTestCases int    `json:"active_test_cases"`
}

func handleListTestSuites(_ context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	names, err := testsuite.List(sc.SuitesDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list test suites: %v", err)), nil
	}

	suites := make([]suiteInfo, 0, len(names))
	for _, name := range names {
		suite, err := testsuite.Load(name, sc.SuitesDir)
		if err != nil {
			slog.Warn("skipping invalid test suite", "suite", name, "error", err)
			continue
		}
		suites = append(suites, suiteInfo{
			Name:            suite.Name,
			Description:     suite.Description,
			Version:         suite.Version,
			TestCaseCount:   len(suite.TestCases),
			ActiveTestCases: len(suite.ActiveTestCases()),
		})
	}

	return jsonResult(suites)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
