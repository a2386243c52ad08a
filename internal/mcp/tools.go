package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/agent-testing/internal/server"
)

// RegisterTools registers all MCP tools with the server.
func RegisterTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	listTool := mcp.NewTool("list_test_suites",
		mcp.WithDescription("List available agent test suites with metadata"),
	)
	s.AddTool(listTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListTestSuites(ctx, request, sc)
	})

	runTool := mcp.NewTool("run_test_suite",
		mcp.WithDescription("Run a test suite against the configured agent targets and judge every conversation. Blocks until all targets are done."),
		mcp.WithString("test_suite",
			mcp.Required(),
			mcp.Description("Name of the test suite to run (e.g. 'support-bot-smoke')"),
		),
		mcp.WithString("targets",
			mcp.Description("Comma-separated target ids (default: all configured targets)"),
		),
		mcp.WithNumber("delay_seconds",
			mcp.Description("Pause between test cases in seconds (default: server setting)"),
		),
	)
	s.AddTool(runTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleRunTestSuite(ctx, request, sc)
	})

	resultsTool := mcp.NewTool("get_results",
		mcp.WithDescription("Retrieve a past test run with its transcripts and verdicts, or list past runs"),
		mcp.WithString("run_id",
			mcp.Description("Specific run ID to retrieve (optional, lists runs if omitted)"),
		),
		mcp.WithString("test_suite",
			mcp.Description("Only list runs of this suite"),
		),
		mcp.WithString("target",
			mcp.Description("Only list runs against this target id"),
		),
	)
	s.AddTool(resultsTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleGetResults(ctx, request, sc)
	})

	return nil
}
