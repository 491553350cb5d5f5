package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/fyrsmithlabs/specgate/internal/http"
	"github.com/fyrsmithlabs/specgate/internal/mcp"
)

const shutdownTimeout = 10 * time.Second

var (
	serveHost string
	servePort int
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind address (default: serve.host from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "bind port (default: serve.port from config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and Prometheus metrics",
	Long: `Start the HTTP server with the workflow API under /api/v1, a health
endpoint, and Prometheus metrics under /metrics. Runs until interrupted.

Examples:
  # Serve on the configured address (default 127.0.0.1:8632)
  specgate serve

  # Override the port
  specgate serve --port 9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	host := a.cfg.Serve.Host
	if serveHost != "" {
		host = serveHost
	}
	port := a.cfg.Serve.Port
	if servePort != 0 {
		port = servePort
	}

	server, err := httpapi.NewServer(a.workflows, a.gate, a.logger, &httpapi.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	a.logger.Info("http server listening",
		zap.String("host", host),
		zap.Int("port", port),
	)
	fmt.Printf("Serving on http://%s:%d (Ctrl-C to stop)\n", host, port)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve workflow tools over MCP stdio",
	Long: `Run the Model Context Protocol server on stdio, exposing workflow
lifecycle tools (workflow_start, workflow_advance, artifact_attach,
gate_check, ...) to MCP clients such as Claude Code.

Register with: claude mcp add specgate -- specgate mcp`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	cfg := mcp.DefaultConfig()
	cfg.Logger = a.logger

	server, err := mcp.NewServer(cfg, a.workflows, a.gate)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
