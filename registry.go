package mcpwire

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/qri-io/jsonschema"
)

// CapabilityKind distinguishes the three kinds of capability a server exposes.
type CapabilityKind string

// Capability kinds.
const (
	CapabilityTool     CapabilityKind = "tool"
	CapabilityResource CapabilityKind = "resource"
	CapabilityPrompt   CapabilityKind = "prompt"
)

// ToolHandler executes a tool call. Arguments have already passed the tool's
// input schema when one is declared.
type ToolHandler func(ctx context.Context, params CallToolParams) (CallToolResult, error)

// ResourceHandler reads a resource.
type ResourceHandler func(ctx context.Context, params ReadResourceParams) (ReadResourceResult, error)

// PromptHandler renders a prompt.
type PromptHandler func(ctx context.Context, params GetPromptParams) (GetPromptResult, error)

type toolEntry struct {
	tool    Tool
	schema  *jsonschema.Schema
	handler ToolHandler
}

type resourceEntry struct {
	resource Resource
	handler  ResourceHandler
}

type promptEntry struct {
	prompt  Prompt
	handler PromptHandler
}

// Registry holds the set of tools, resources and prompts a server exposes and
// answers discovery queries. Descriptors are registered during server
// initialization; Server.Serve seals the registry, after which mutation fails
// and reads are safe for concurrent callers across every session sharing it.
type Registry struct {
	mu     sync.RWMutex
	sealed bool

	tools     map[string]toolEntry
	resources map[string]resourceEntry
	prompts   map[string]promptEntry
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]toolEntry),
		resources: make(map[string]resourceEntry),
		prompts:   make(map[string]promptEntry),
	}
}

// AddTool registers a tool descriptor with its handler. The tool's input
// schema, when present, is compiled here so every call can be validated
// before the handler runs. Fails with *DuplicateCapabilityError if the name
// is taken, or ErrRegistrySealed after serving has started.
func (r *Registry) AddTool(tool Tool, handler ToolHandler) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("tool %s: handler must not be nil", tool.Name)
	}

	var schema *jsonschema.Schema
	if len(tool.InputSchema) > 0 {
		schema = &jsonschema.Schema{}
		if err := json.Unmarshal(tool.InputSchema, schema); err != nil {
			return fmt.Errorf("tool %s: invalid input schema: %w", tool.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	if _, ok := r.tools[tool.Name]; ok {
		return &DuplicateCapabilityError{Kind: CapabilityTool, Name: tool.Name}
	}

	r.tools[tool.Name] = toolEntry{tool: tool, schema: schema, handler: handler}
	return nil
}

// AddResource registers a resource descriptor with its handler.
func (r *Registry) AddResource(resource Resource, handler ResourceHandler) error {
	if resource.URI == "" {
		return fmt.Errorf("resource uri must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("resource %s: handler must not be nil", resource.URI)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	if _, ok := r.resources[resource.URI]; ok {
		return &DuplicateCapabilityError{Kind: CapabilityResource, Name: resource.URI}
	}

	r.resources[resource.URI] = resourceEntry{resource: resource, handler: handler}
	return nil
}

// AddPrompt registers a prompt descriptor with its handler.
func (r *Registry) AddPrompt(prompt Prompt, handler PromptHandler) error {
	if prompt.Name == "" {
		return fmt.Errorf("prompt name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("prompt %s: handler must not be nil", prompt.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	if _, ok := r.prompts[prompt.Name]; ok {
		return &DuplicateCapabilityError{Kind: CapabilityPrompt, Name: prompt.Name}
	}

	r.prompts[prompt.Name] = promptEntry{prompt: prompt, handler: handler}
	return nil
}

// Seal freezes the registry. Registrations after Seal fail with
// ErrRegistrySealed. Sealing twice is harmless.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Tools returns all registered tool descriptors, sorted by name.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, e := range r.tools {
		tools = append(tools, e.tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Tool looks up a tool descriptor by name, failing with *NotFoundError.
func (r *Registry) Tool(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return Tool{}, &NotFoundError{Kind: CapabilityTool, Name: name}
	}
	return e.tool, nil
}

// Resources returns all registered resource descriptors, sorted by URI.
func (r *Registry) Resources() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resources := make([]Resource, 0, len(r.resources))
	for _, e := range r.resources {
		resources = append(resources, e.resource)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].URI < resources[j].URI })
	return resources
}

// Resource looks up a resource descriptor by URI, failing with *NotFoundError.
func (r *Registry) Resource(uri string) (Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.resources[uri]
	if !ok {
		return Resource{}, &NotFoundError{Kind: CapabilityResource, Name: uri}
	}
	return e.resource, nil
}

// Prompts returns all registered prompt descriptors, sorted by name.
func (r *Registry) Prompts() []Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prompts := make([]Prompt, 0, len(r.prompts))
	for _, e := range r.prompts {
		prompts = append(prompts, e.prompt)
	}
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })
	return prompts
}

// Prompt looks up a prompt descriptor by name, failing with *NotFoundError.
func (r *Registry) Prompt(name string) (Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.prompts[name]
	if !ok {
		return Prompt{}, &NotFoundError{Kind: CapabilityPrompt, Name: name}
	}
	return e.prompt, nil
}

// CallTool validates params against the tool's input schema and invokes its
// handler. Unknown tools fail with *NotFoundError, rejected arguments with
// *SchemaValidationError.
func (r *Registry) CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error) {
	r.mu.RLock()
	e, ok := r.tools[params.Name]
	r.mu.RUnlock()

	if !ok {
		return CallToolResult{}, &NotFoundError{Kind: CapabilityTool, Name: params.Name}
	}

	if e.schema != nil {
		args := params.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		keyErrs, err := e.schema.ValidateBytes(ctx, args)
		if err != nil {
			return CallToolResult{}, &SchemaValidationError{
				Tool:   params.Name,
				Causes: []string{err.Error()},
			}
		}
		if len(keyErrs) > 0 {
			causes := make([]string, 0, len(keyErrs))
			for _, ke := range keyErrs {
				causes = append(causes, ke.Message)
			}
			return CallToolResult{}, &SchemaValidationError{Tool: params.Name, Causes: causes}
		}
	}

	return e.handler(ctx, params)
}

// ReadResource invokes the handler for the resource identified by params.URI.
func (r *Registry) ReadResource(ctx context.Context, params ReadResourceParams) (ReadResourceResult, error) {
	r.mu.RLock()
	e, ok := r.resources[params.URI]
	r.mu.RUnlock()

	if !ok {
		return ReadResourceResult{}, &NotFoundError{Kind: CapabilityResource, Name: params.URI}
	}
	return e.handler(ctx, params)
}

// GetPrompt invokes the handler for the named prompt.
func (r *Registry) GetPrompt(ctx context.Context, params GetPromptParams) (GetPromptResult, error) {
	r.mu.RLock()
	e, ok := r.prompts[params.Name]
	r.mu.RUnlock()

	if !ok {
		return GetPromptResult{}, &NotFoundError{Kind: CapabilityPrompt, Name: params.Name}
	}
	return e.handler(ctx, params)
}
