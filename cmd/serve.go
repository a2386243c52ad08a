package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	mcptools "github.com/giantswarm/agent-testing/internal/mcp"
	"github.com/giantswarm/agent-testing/internal/server"
)

const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"
)

func newServeCmd() *cobra.Command {
	var (
		transport    string
		httpAddr     string
		httpEndpoint string
		targetsFile  string
		inCluster    bool
		deployJudge  bool
		outputDir    string
		suitesDir    string
		delay        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server to expose agent testing tools via the Model Context Protocol.

Supports multiple transport types:
  - stdio: Standard input/output (default, for IDE integration)
  - streamable-http: HTTP with streaming support (for remote access)

Targets are read from --targets. Without it, only listing suites and reading
stored results is possible.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			shutdownCtx, cancel := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sc, closeStore, err := newServerContext(shutdownCtx, cmd, contextOptions{
				targetsFile: targetsFile,
				outputDir:   outputDir,
				suitesDir:   suitesDir,
				deployJudge: deployJudge,
				inCluster:   inCluster,
				delay:       delay,
			})
			if err != nil {
				return err
			}
			defer closeStore()

			mcpSrv := mcpserver.NewMCPServer("agent-testing", rootCmd.Version,
				mcpserver.WithToolCapabilities(true),
			)

			if err := mcptools.RegisterTools(mcpSrv, sc); err != nil {
				return fmt.Errorf("failed to register MCP tools: %w", err)
			}

			switch transport {
			case transportStdio:
				return runStdioServer(mcpSrv)
			case transportStreamableHTTP:
				fmt.Fprintf(os.Stderr, "Starting agent-testing MCP server with %s transport on %s...\n", transport, httpAddr)
				fmt.Fprintf(os.Stderr, "  HTTP endpoint: %s\n", httpEndpoint)
				fmt.Fprintf(os.Stderr, "  Health: /healthz\n")
				if err := server.NewHTTPServer(mcpSrv, httpEndpoint).Run(shutdownCtx, httpAddr); err != nil {
					return err
				}
				fmt.Fprintln(os.Stderr, "HTTP server stopped")
				return nil
			default:
				return fmt.Errorf("unsupported transport: %s (supported: stdio, streamable-http)", transport)
			}
		},
	}

	cmd.Flags().StringVar(&transport, "transport", transportStdio, "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP server address (for streamable-http)")
	cmd.Flags().StringVar(&httpEndpoint, "http-endpoint", "/mcp", "HTTP endpoint path (for streamable-http)")
	cmd.Flags().StringVar(&targetsFile, "targets", "", "Targets file (YAML)")
	cmd.Flags().BoolVar(&inCluster, "in-cluster", false, "Use in-cluster Kubernetes authentication")
	cmd.Flags().BoolVar(&deployJudge, "deploy-judge", false, "Serve judge models in-cluster via KServe")
	cmd.Flags().StringVar(&outputDir, "output-dir", "results", "Directory for run artifacts")
	cmd.Flags().StringVar(&suitesDir, "suites-dir", "", "External test suites directory (optional)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Default pause between test cases")

	return cmd
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	if err := mcpserver.ServeStdio(mcpSrv); err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}
