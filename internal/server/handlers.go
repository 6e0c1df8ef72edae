package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kouba/internal/auth"
	"github.com/ashita-ai/kouba/internal/dispatch"
	"github.com/ashita-ai/kouba/internal/toolerr"
)

type handlers struct {
	dispatcher *dispatch.Dispatcher
	db         Pinger
	logger     *slog.Logger
	version    string
	startedAt  time.Time
}

// toolInfo is the discovery view of one tool.
type toolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Category    string                 `json:"category"`
	InputSchema mcplib.ToolInputSchema `json:"input_schema"`
	Annotations mcplib.ToolAnnotation  `json:"annotations"`
}

// handleListTools returns the tools the caller's credential may invoke.
func (h *handlers) handleListTools(w http.ResponseWriter, r *http.Request) {
	defs, err := h.dispatcher.ListTools(r.Context(), auth.CredentialFromRequest(r))
	if err != nil {
		kind := toolerr.KindOf(err)
		status := http.StatusUnauthorized
		if kind != toolerr.KindMissingCredential && kind != toolerr.KindInvalidCredential {
			status = http.StatusServiceUnavailable
		}
		writeError(w, r, status, string(kind), toolerr.Message(err))
		return
	}

	out := make([]toolInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, toolInfo{
			Name:        d.Name(),
			Description: d.Tool.Description,
			Category:    d.Category,
			InputSchema: d.Tool.InputSchema,
			Annotations: d.Tool.Annotations,
		})
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"tools": out, "count": len(out)})
}

type callRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// handleCallTool runs one tool call. Pipeline failures are part of the
// result envelope, so any well-formed request is answered with 200.
func (h *handlers) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decodeJSON(r, &req); err != nil {
		if isBodyTooLarge(err) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid_request", "request body must be a JSON object with tool and arguments")
		return
	}
	if req.Tool == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "tool is required")
		return
	}

	result := h.dispatcher.Dispatch(r.Context(), dispatch.Call{
		Tool:       req.Tool,
		Arguments:  req.Arguments,
		Credential: auth.CredentialFromRequest(r),
	})
	writeJSON(w, r, http.StatusOK, result)
}

type healthResponse struct {
	Status    string   `json:"status"`
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	ToolCount int      `json:"tool_count"`
	Tools     []string `json:"tools"`
	Database  bool     `json:"database"`
	Uptime    int64    `json:"uptime_seconds"`
}

// handleHealth reports liveness and database reachability. It answers 503
// when the database does not respond to a ping.
func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := h.dispatcher.Registry().Names()
	resp := healthResponse{
		Status:    "healthy",
		Name:      "kouba",
		Version:   h.version,
		ToolCount: len(names),
		Tools:     names,
		Uptime:    int64(time.Since(h.startedAt).Seconds()),
	}
	status := http.StatusOK

	if h.db == nil {
		resp.Status = "degraded"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("health: postgres ping failed", "error", err)
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = true
		}
	}

	writeJSON(w, r, status, resp)
}
