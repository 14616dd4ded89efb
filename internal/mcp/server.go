// Package mcp exposes the engine's tool surface over the Model Context
// Protocol. Tool names are canonical rlm.<category>.<action> strings;
// the registration table is built once at server construction, so a
// missing handler is a compile-time error, not a runtime warning.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adrianwedd/rlm-mcp/internal/engine"
	"github.com/adrianwedd/rlm-mcp/pkg/version"
)

// Server wires the session engine to an MCP stdio server.
type Server struct {
	mcp    *mcp.Server
	engine *engine.Engine
	logger *slog.Logger
}

// ToolInfo describes one registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer creates the MCP server and registers all tools.
func NewServer(eng *engine.Engine, logger *slog.Logger) (*Server, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("logger", "rlm_mcp.server"))

	s := &Server{
		engine: eng,
		logger: logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "rlm-mcp",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools for CLI display.
func (s *Server) ListTools() []ToolInfo {
	infos := make([]ToolInfo, len(toolDescriptions))
	copy(infos, toolDescriptions)
	return infos
}

// registerTools registers the full canonical tool surface.
func (s *Server) registerTools() {
	register(s, "rlm.session.create", s.engine.CreateSession)
	register(s, "rlm.session.info", s.engine.SessionInfo)
	register(s, "rlm.session.close", s.engine.CloseSession)
	register(s, "rlm.docs.load", s.engine.LoadDocuments)
	register(s, "rlm.docs.list", s.engine.ListDocuments)
	register(s, "rlm.docs.peek", s.engine.PeekDocument)
	register(s, "rlm.chunk.create", s.engine.CreateChunks)
	register(s, "rlm.span.get", s.engine.GetSpans)
	register(s, "rlm.search.query", s.engine.Search)
	register(s, "rlm.artifact.store", s.engine.StoreArtifact)
	register(s, "rlm.artifact.list", s.engine.ListArtifacts)
	register(s, "rlm.artifact.get", s.engine.GetArtifact)
	register(s, "rlm.export.github", s.engine.ExportGitHub)

	s.logger.Info("MCP tools registered", slog.Int("count", len(toolDescriptions)))
}

// register binds one engine operation to its canonical tool name.
func register[In, Out any](s *Server, name string, op func(context.Context, In) (Out, error)) {
	description, ok := describe(name)
	if !ok {
		// The description table and the registration list must agree;
		// a mismatch is a programming error.
		panic(fmt.Sprintf("no description for tool %q", name))
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: description,
	}, func(ctx context.Context, req *mcp.CallToolRequest, input In) (*mcp.CallToolResult, Out, error) {
		out, err := op(ctx, input)
		if err != nil {
			var zero Out
			return nil, zero, err
		}
		return nil, out, nil
	})
	s.logger.Debug("registered tool", slog.String("name", name))
}

// Serve runs the server over stdio until the context is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}
