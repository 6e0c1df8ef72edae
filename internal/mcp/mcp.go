// Package mcp exposes the tool registry over the Model Context Protocol.
//
// Every registered tool is added to an mcp-go server with one shared handler
// that forwards the call to the dispatcher. The transport only carries the
// credential from the HTTP headers or the stdio environment onto the context;
// authentication, permission checks and auditing all happen in dispatch.
package mcp

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kouba/internal/auth"
	"github.com/ashita-ai/kouba/internal/ctxutil"
	"github.com/ashita-ai/kouba/internal/dispatch"
)

// Server wraps the mcp-go server with the dispatcher.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	version    string
}

// New creates an MCP server exposing every tool in the dispatcher's registry.
func New(d *dispatch.Dispatcher, logger *slog.Logger, version string) *Server {
	s := &Server{
		dispatcher: d,
		logger:     logger,
		version:    version,
	}

	hooks := &mcpserver.Hooks{}
	hooks.AddOnError(s.auditRejectedCall)

	s.mcpServer = mcpserver.NewMCPServer(
		"kouba",
		version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithToolFilter(s.filterTools),
		mcpserver.WithHooks(hooks),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions(instructions),
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

const instructions = `Kouba is a shop-floor execution system. Use the fetch_* tools to read jobs, parts, operations, tasks and substeps, and the lifecycle tools (start_*, pause_*, resume_*, complete_*) to record progress. Every call is scoped to the tenant of your credential.`

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// HTTPHandler returns a Streamable HTTP handler. The caller's credential is
// read from the Authorization or X-API-Key header of each request.
func (s *Server) HTTPHandler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return ctxutil.WithCredential(ctx, auth.CredentialFromRequest(r))
		}),
	)
}

// ServeStdio serves the protocol over in and out until ctx ends or in is
// closed. credential is attached to every call of the session.
func (s *Server) ServeStdio(ctx context.Context, credential string, in io.Reader, out io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	stdio.SetContextFunc(func(ctx context.Context) context.Context {
		return ctxutil.WithCredential(ctx, credential)
	})
	return stdio.Listen(ctx, in, out)
}
