package mcpwire_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	mcpwire "github.com/tildeworks/go-mcpwire"
)

var echoSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "text": {
        "type": "string"
      }
    },
    "required": ["text"]
  }
`)

func echoTool() (mcpwire.Tool, mcpwire.ToolHandler) {
	tool := mcpwire.Tool{
		Name:        "echo",
		Description: "Echoes the input text back.",
		InputSchema: echoSchema,
	}
	handler := func(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
		var args struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return mcpwire.CallToolResult{}, err
		}
		return mcpwire.CallToolResult{
			Content: []mcpwire.Content{
				{Type: mcpwire.ContentTypeText, Text: args.Text},
			},
		}, nil
	}
	return tool, handler
}

func TestRegistryAddToolDuplicate(t *testing.T) {
	reg := mcpwire.NewRegistry()

	tool, handler := echoTool()
	if err := reg.AddTool(tool, handler); err != nil {
		t.Fatalf("AddTool: %v", err)
	}

	err := reg.AddTool(tool, handler)
	var dupErr *mcpwire.DuplicateCapabilityError
	if !errors.As(err, &dupErr) {
		t.Fatalf("expected DuplicateCapabilityError, got %v", err)
	}
	if dupErr.Kind != mcpwire.CapabilityTool || dupErr.Name != "echo" {
		t.Errorf("got %s/%s", dupErr.Kind, dupErr.Name)
	}
}

func TestRegistryRejectsInvalidSchema(t *testing.T) {
	reg := mcpwire.NewRegistry()

	tool, handler := echoTool()
	tool.InputSchema = []byte(`{not json`)
	if err := reg.AddTool(tool, handler); err == nil {
		t.Fatal("expected error for malformed schema")
	}
}

func TestRegistrySealedRejectsMutation(t *testing.T) {
	reg := mcpwire.NewRegistry()

	tool, handler := echoTool()
	if err := reg.AddTool(tool, handler); err != nil {
		t.Fatal(err)
	}

	reg.Seal()

	other := mcpwire.Tool{Name: "other", InputSchema: echoSchema}
	if err := reg.AddTool(other, handler); !errors.Is(err, mcpwire.ErrRegistrySealed) {
		t.Errorf("expected ErrRegistrySealed, got %v", err)
	}

	// Reads and calls still work after sealing.
	if tools := reg.Tools(); len(tools) != 1 {
		t.Errorf("got %d tools, want 1", len(tools))
	}
	res, err := reg.CallTool(context.Background(), mcpwire.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"hi"}`),
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.Content[0].Text != "hi" {
		t.Errorf("echoed %q", res.Content[0].Text)
	}
}

func TestRegistryCallToolValidatesArguments(t *testing.T) {
	reg := mcpwire.NewRegistry()

	tool, handler := echoTool()
	if err := reg.AddTool(tool, handler); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args json.RawMessage
	}{
		{"missing required field", json.RawMessage(`{}`)},
		{"wrong type", json.RawMessage(`{"text":42}`)},
		{"no arguments at all", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.CallTool(context.Background(), mcpwire.CallToolParams{
				Name:      "echo",
				Arguments: tt.args,
			})
			var schemaErr *mcpwire.SchemaValidationError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("expected SchemaValidationError, got %v", err)
			}
			if schemaErr.Tool != "echo" {
				t.Errorf("Tool = %s", schemaErr.Tool)
			}
			if len(schemaErr.Causes) == 0 {
				t.Error("no causes recorded")
			}
		})
	}
}

func TestRegistryCallToolUnknown(t *testing.T) {
	reg := mcpwire.NewRegistry()

	_, err := reg.CallTool(context.Background(), mcpwire.CallToolParams{Name: "ghost"})
	var notFound *mcpwire.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if notFound.Kind != mcpwire.CapabilityTool || notFound.Name != "ghost" {
		t.Errorf("got %s/%s", notFound.Kind, notFound.Name)
	}
}

func TestRegistryToolWithoutSchemaAcceptsAnything(t *testing.T) {
	reg := mcpwire.NewRegistry()

	_, handler := echoTool()
	tool := mcpwire.Tool{Name: "freeform"}
	if err := reg.AddTool(tool, func(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
		return handler(context.Background(), mcpwire.CallToolParams{
			Name:      params.Name,
			Arguments: json.RawMessage(`{"text":"ok"}`),
		})
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.CallTool(context.Background(), mcpwire.CallToolParams{
		Name:      "freeform",
		Arguments: json.RawMessage(`{"anything":"goes"}`),
	}); err != nil {
		t.Errorf("CallTool: %v", err)
	}
}

func TestRegistryListingsAreSorted(t *testing.T) {
	reg := mcpwire.NewRegistry()

	_, handler := echoTool()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.AddTool(mcpwire.Tool{Name: name}, handler); err != nil {
			t.Fatal(err)
		}
	}

	tools := reg.Tools()
	want := []string{"alpha", "mid", "zeta"}
	for i, tool := range tools {
		if tool.Name != want[i] {
			t.Errorf("tools[%d] = %s, want %s", i, tool.Name, want[i])
		}
	}
}

func TestRegistryResourcesAndPrompts(t *testing.T) {
	reg := mcpwire.NewRegistry()

	resource := mcpwire.Resource{URI: "test://doc", Name: "Doc"}
	if err := reg.AddResource(resource, func(_ context.Context, params mcpwire.ReadResourceParams) (mcpwire.ReadResourceResult, error) {
		return mcpwire.ReadResourceResult{
			Contents: []mcpwire.ResourceContents{{URI: params.URI, Text: "content"}},
		}, nil
	}); err != nil {
		t.Fatal(err)
	}

	prompt := mcpwire.Prompt{Name: "greet"}
	if err := reg.AddPrompt(prompt, func(_ context.Context, params mcpwire.GetPromptParams) (mcpwire.GetPromptResult, error) {
		return mcpwire.GetPromptResult{
			Messages: []mcpwire.PromptMessage{
				{
					Role:    mcpwire.RoleUser,
					Content: mcpwire.Content{Type: mcpwire.ContentTypeText, Text: "hello " + params.Arguments["name"]},
				},
			},
		}, nil
	}); err != nil {
		t.Fatal(err)
	}

	res, err := reg.ReadResource(context.Background(), mcpwire.ReadResourceParams{URI: "test://doc"})
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if res.Contents[0].Text != "content" {
		t.Errorf("content = %q", res.Contents[0].Text)
	}

	if _, err := reg.ReadResource(context.Background(), mcpwire.ReadResourceParams{URI: "test://ghost"}); err == nil {
		t.Error("expected error for unknown resource")
	}

	pRes, err := reg.GetPrompt(context.Background(), mcpwire.GetPromptParams{
		Name:      "greet",
		Arguments: map[string]string{"name": "world"},
	})
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if pRes.Messages[0].Content.Text != "hello world" {
		t.Errorf("prompt text = %q", pRes.Messages[0].Content.Text)
	}
}
