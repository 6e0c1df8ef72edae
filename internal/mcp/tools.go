package mcp

import (
	"context"
	"errors"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kouba/internal/ctxutil"
	"github.com/ashita-ai/kouba/internal/dispatch"
)

func (s *Server) registerTools() {
	for _, def := range s.dispatcher.Registry().List() {
		s.mcpServer.AddTool(def.Tool, s.handleCall)
	}
}

// handleCall forwards a tools/call to the dispatcher. Failures are carried in
// the result envelope, so the returned error is always nil.
func (s *Server) handleCall(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return s.dispatch(ctx, request), nil
}

func (s *Server) dispatch(ctx context.Context, request mcplib.CallToolRequest) *mcplib.CallToolResult {
	if ctxutil.RequestIDFromContext(ctx) == "" {
		ctx = ctxutil.WithRequestID(ctx, uuid.NewString())
	}
	return s.dispatcher.Dispatch(ctx, dispatch.Call{
		Tool:       request.Params.Name,
		Arguments:  request.GetArguments(),
		Credential: ctxutil.CredentialFromContext(ctx),
	})
}

// filterTools narrows tools/list to what the caller may invoke. A caller
// whose credential does not validate sees no tools.
func (s *Server) filterTools(ctx context.Context, tools []mcplib.Tool) []mcplib.Tool {
	defs, err := s.dispatcher.ListTools(ctx, ctxutil.CredentialFromContext(ctx))
	if err != nil {
		s.logger.Debug("mcp: tools/list rejected", "error", err)
		return []mcplib.Tool{}
	}
	permitted := make(map[string]bool, len(defs))
	for _, d := range defs {
		permitted[d.Name()] = true
	}
	out := make([]mcplib.Tool, 0, len(defs))
	for _, t := range tools {
		if permitted[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// auditRejectedCall runs calls to unregistered names through the dispatcher
// so they are authenticated and audited like any other call. The protocol
// error mcp-go already produced is what the client receives.
func (s *Server) auditRejectedCall(ctx context.Context, _ any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall || !errors.Is(err, mcpserver.ErrToolNotFound) {
		return
	}
	request, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}
	_ = s.dispatch(ctx, *request)
}
