// Package mcp exposes workflow and gate operations as MCP tools.
//
// The server runs on the stdio transport and calls the workflow
// manager and phase gate directly. Tool outputs mirror the CLI's
// semantics; the blocking exit-code convention stays in cmd, so a
// blocked gate check here is a normal result with allowed=false.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specgate/internal/gate"
	"github.com/fyrsmithlabs/specgate/internal/version"
	"github.com/fyrsmithlabs/specgate/internal/workflow"
)

// Server bridges MCP tool calls to the workflow manager and gate.
type Server struct {
	mcp       *mcp.Server
	workflows workflow.Service
	gate      *gate.Gate
	logger    *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "specgate").
	Name string

	// Version is the server version (default: build version).
	Version string

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "specgate",
		Version: version.Version,
		Logger:  zap.NewNop(),
	}
}

// NewServer creates the MCP server and registers its tools.
func NewServer(cfg *Config, workflows workflow.Service, g *gate.Gate) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if workflows == nil {
		return nil, fmt.Errorf("workflow service is required")
	}
	if g == nil {
		return nil, fmt.Errorf("gate is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:       mcpServer,
		workflows: workflows,
		gate:      g,
		logger:    cfg.Logger,
	}
	s.registerTools()

	return s, nil
}

// Run starts the server on the stdio transport and blocks until the
// client disconnects or the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
