package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kouba/internal/ctxutil"
)

const catalogueURI = "kouba://tools"

func (s *Server) registerResources() {
	// kouba://tools: the tools the caller's credential may invoke.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			catalogueURI,
			"Tool Catalogue",
			mcplib.WithResourceDescription("Tools your credential may invoke, grouped by category"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleCatalogue,
	)
}

type catalogueEntry struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
	ReadOnly    bool   `json:"read_only"`
}

func (s *Server) handleCatalogue(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	defs, err := s.dispatcher.ListTools(ctx, ctxutil.CredentialFromContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("mcp: tool catalogue: %w", err)
	}

	byCategory := map[string][]catalogueEntry{}
	for _, d := range defs {
		readOnly := d.Tool.Annotations.ReadOnlyHint != nil && *d.Tool.Annotations.ReadOnlyHint
		byCategory[d.Category] = append(byCategory[d.Category], catalogueEntry{
			Name:        d.Name(),
			Category:    d.Category,
			Description: d.Tool.Description,
			ReadOnly:    readOnly,
		})
	}

	data, err := json.MarshalIndent(map[string]any{
		"categories": byCategory,
		"count":      len(defs),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal catalogue: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      catalogueURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
