// Package memory is a persistent knowledge-graph server. Entities, typed
// relations between them, and per-entity observations are stored in a JSON
// file and manipulated through tools; the whole graph is also readable as a
// resource.
package memory

import (
	"context"
	"encoding/json"
	"fmt"

	mcpwire "github.com/tildeworks/go-mcpwire"
)

// GraphURI is the resource URI exposing the full knowledge graph.
const GraphURI = "memory://graph"

// Server provides knowledge-graph tools backed by a JSON file at path.
type Server struct {
	store *store
}

// NewServer creates a knowledge-graph server persisting to the given file.
// The file is created on first write; an absent file reads as an empty
// graph.
func NewServer(path string) *Server {
	return &Server{
		store: &store{path: path},
	}
}

// Register adds the knowledge-graph tools, the graph resource, and the
// graph-summary prompt to the registry.
func (s *Server) Register(reg *mcpwire.Registry) error {
	tools := []struct {
		tool    mcpwire.Tool
		handler mcpwire.ToolHandler
	}{
		{createEntitiesTool, s.createEntities},
		{createRelationsTool, s.createRelations},
		{addObservationsTool, s.addObservations},
		{deleteEntitiesTool, s.deleteEntities},
		{deleteObservationsTool, s.deleteObservations},
		{deleteRelationsTool, s.deleteRelations},
		{readGraphTool, s.readGraph},
		{searchNodesTool, s.searchNodes},
		{openNodesTool, s.openNodes},
	}
	for _, t := range tools {
		if err := reg.AddTool(t.tool, t.handler); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", t.tool.Name, err)
		}
	}

	graphResource := mcpwire.Resource{
		URI:         GraphURI,
		Name:        "Knowledge graph",
		Description: "The entire knowledge graph as JSON.",
		MimeType:    "application/json",
	}
	if err := reg.AddResource(graphResource, s.readGraphResource); err != nil {
		return fmt.Errorf("failed to register graph resource: %w", err)
	}

	summaryPrompt := mcpwire.Prompt{
		Name:        "summarize_graph",
		Description: "Ask the model to summarize what is known about an entity.",
		Arguments: []mcpwire.PromptArgument{
			{
				Name:        "entity",
				Description: "Name of the entity to summarize.",
				Required:    true,
			},
		},
	}
	if err := reg.AddPrompt(summaryPrompt, s.summarizeGraphPrompt); err != nil {
		return fmt.Errorf("failed to register summarize_graph prompt: %w", err)
	}

	return nil
}

func graphResult(g Graph) (mcpwire.CallToolResult, error) {
	return jsonResult(g)
}

func jsonResult(v any) (mcpwire.CallToolResult, error) {
	bs, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpwire.CallToolResult{}, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcpwire.CallToolResult{
		Content: []mcpwire.Content{
			{
				Type: mcpwire.ContentTypeText,
				Text: string(bs),
			},
		},
	}, nil
}

func toolError(err error) (mcpwire.CallToolResult, error) {
	return mcpwire.CallToolResult{
		Content: []mcpwire.Content{
			{
				Type: mcpwire.ContentTypeText,
				Text: err.Error(),
			},
		},
		IsError: true,
	}, nil
}

func (s *Server) createEntities(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args createEntitiesArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	created, err := s.store.createEntities(args.Entities)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(created)
}

func (s *Server) createRelations(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args createRelationsArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	created, err := s.store.createRelations(args.Relations)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(created)
}

func (s *Server) addObservations(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args addObservationsArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	added, err := s.store.addObservations(args.Observations)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(added)
}

func (s *Server) deleteEntities(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args deleteEntitiesArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	if err := s.store.deleteEntities(args.EntityNames); err != nil {
		return toolError(err)
	}
	return textOK("Entities deleted successfully")
}

func (s *Server) deleteObservations(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args deleteObservationsArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	if err := s.store.deleteObservations(args.Deletions); err != nil {
		return toolError(err)
	}
	return textOK("Observations deleted successfully")
}

func (s *Server) deleteRelations(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args deleteRelationsArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	if err := s.store.deleteRelations(args.Relations); err != nil {
		return toolError(err)
	}
	return textOK("Relations deleted successfully")
}

func (s *Server) readGraph(context.Context, mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	g, err := s.store.readGraph()
	if err != nil {
		return toolError(err)
	}
	return graphResult(g)
}

func (s *Server) searchNodes(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args searchNodesArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	g, err := s.store.searchNodes(args.Query)
	if err != nil {
		return toolError(err)
	}
	return graphResult(g)
}

func (s *Server) openNodes(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args openNodesArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	g, err := s.store.openNodes(args.Names)
	if err != nil {
		return toolError(err)
	}
	return graphResult(g)
}

func (s *Server) readGraphResource(_ context.Context, params mcpwire.ReadResourceParams) (mcpwire.ReadResourceResult, error) {
	g, err := s.store.readGraph()
	if err != nil {
		return mcpwire.ReadResourceResult{}, err
	}

	bs, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return mcpwire.ReadResourceResult{}, fmt.Errorf("failed to marshal graph: %w", err)
	}

	return mcpwire.ReadResourceResult{
		Contents: []mcpwire.ResourceContents{
			{
				URI:      params.URI,
				MimeType: "application/json",
				Text:     string(bs),
			},
		},
	}, nil
}

func (s *Server) summarizeGraphPrompt(_ context.Context, params mcpwire.GetPromptParams) (mcpwire.GetPromptResult, error) {
	entity := params.Arguments["entity"]
	if entity == "" {
		return mcpwire.GetPromptResult{}, fmt.Errorf("missing required argument: entity")
	}

	g, err := s.store.searchNodes(entity)
	if err != nil {
		return mcpwire.GetPromptResult{}, err
	}

	bs, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return mcpwire.GetPromptResult{}, fmt.Errorf("failed to marshal subgraph: %w", err)
	}

	return mcpwire.GetPromptResult{
		Description: fmt.Sprintf("Summarize what is known about %s", entity),
		Messages: []mcpwire.PromptMessage{
			{
				Role: mcpwire.RoleUser,
				Content: mcpwire.Content{
					Type: mcpwire.ContentTypeText,
					Text: fmt.Sprintf(
						"Summarize everything known about %q from this knowledge graph:\n%s",
						entity, string(bs)),
				},
			},
		},
	}, nil
}

func textOK(text string) (mcpwire.CallToolResult, error) {
	return mcpwire.CallToolResult{
		Content: []mcpwire.Content{
			{
				Type: mcpwire.ContentTypeText,
				Text: text,
			},
		},
	}, nil
}
