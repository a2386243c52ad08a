package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultWriteTimeout      = 120 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// HTTPServer exposes an MCP server over streamable HTTP with an
// unauthenticated health check.
type HTTPServer struct {
	mcpServer   *mcpserver.MCPServer
	mcpEndpoint string
}

// NewHTTPServer creates a new HTTPServer serving MCP at mcpEndpoint.
func NewHTTPServer(mcpSrv *mcpserver.MCPServer, mcpEndpoint string) *HTTPServer {
	return &HTTPServer{mcpServer: mcpSrv, mcpEndpoint: mcpEndpoint}
}

// Handler returns the routes of the server.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.mcpEndpoint, mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath(s.mcpEndpoint),
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", addr, "endpoint", s.mcpEndpoint)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down: %w", err)
		}
		return nil
	})
	return g.Wait()
}
