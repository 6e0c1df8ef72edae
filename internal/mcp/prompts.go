package mcp

import (
	"context"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// start-operation: walks the agent through picking up an operation.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("start-operation",
			mcplib.WithPromptDescription("Pick up an operation: review it, start it and work through its substeps"),
			mcplib.WithArgument("operation_id",
				mcplib.ArgumentDescription("The operation to start"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleStartOperationPrompt,
	)

	// shift-handoff: summarises open work for the next shift.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("shift-handoff",
			mcplib.WithPromptDescription("Summarise in-progress and on-hold work for the next shift"),
			mcplib.WithArgument("cell",
				mcplib.ArgumentDescription("Limit the handoff to one work cell (e.g., LASER-1)"),
			),
		),
		s.handleShiftHandoffPrompt,
	)
}

func (s *Server) handleStartOperationPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	opID := strings.TrimSpace(request.Params.Arguments["operation_id"])
	if opID == "" {
		return nil, fmt.Errorf("operation_id argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Start operation %s", opID),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`You are about to start operation %[1]s. Follow these steps:

1. CALL fetch_substeps with operation_id="%[1]s" to see the checklist.

2. CALL start_operation with id="%[1]s". If the operation was on hold,
   use resume_operation instead so the resume time is recorded.

3. For each substep in sequence order, do the work, then CALL
   complete_substep with its id. Add notes with update_substep when
   something deviates from the routing.

4. When every substep is completed or skipped, CALL complete_operation
   with id="%[1]s" and actual_minutes set via update_operation if known.

If a call fails with not_found, re-check the id with fetch_operations.
If it fails with forbidden, your credential cannot perform that step;
stop and report which tool was refused.`, opID),
				},
			},
		},
	}, nil
}

func (s *Server) handleShiftHandoffPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	cell := strings.TrimSpace(request.Params.Arguments["cell"])
	scope := "the whole shop"
	filter := ""
	if cell != "" {
		scope = "cell " + cell
		filter = fmt.Sprintf(` and cell="%s"`, cell)
	}

	return &mcplib.GetPromptResult{
		Description: "Shift handoff for " + scope,
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Prepare a shift handoff for %s.

1. CALL fetch_operations with status="in_progress"%s.
2. CALL fetch_operations with status="on_hold"%s.
3. For each operation found, CALL fetch_tasks with its operation_id to
   see who is assigned.

Write a short handoff grouped by status. For each operation give its id,
part, completion percentage, assignee and any notes. List on-hold work
first with the reason from its notes. Do not change any records.`, scope, filter, filter),
				},
			},
		},
	}, nil
}
