package mcpwire

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server serves one capability registry to any number of concurrently
// connected clients. Each transport session gets its own handshake state
// machine; the registry and router are built once, sealed before serving,
// and shared read-only across sessions.
type Server struct {
	info         Info
	registry     *Registry
	transport    ServerTransport
	instructions string
	sendTimeout  time.Duration
	logger       *slog.Logger

	extraMethods map[string]Handler

	onClientConnected    func(sessionID string, info Info)
	onClientDisconnected func(sessionID string)

	done       chan struct{}
	sessionsWG sync.WaitGroup
}

var defaultServerSendTimeout = 30 * time.Second

// NewServer creates an MCP server exposing the given registry over the given
// transport. The registry keeps accepting registrations until Serve is
// called.
func NewServer(info Info, registry *Registry, transport ServerTransport, options ...ServerOption) *Server {
	s := &Server{
		info:         info,
		registry:     registry,
		transport:    transport,
		logger:       slog.Default(),
		extraMethods: make(map[string]Handler),
		done:         make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.sendTimeout == 0 {
		s.sendTimeout = defaultServerSendTimeout
	}

	return s
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "mcpwire"),
			slog.String("component", "server"),
		)
	}
}

// WithInstructions sets the instruction text returned in the handshake.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithServerSendTimeout sets the per-message send timeout.
func WithServerSendTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.sendTimeout = timeout
	}
}

// WithMethod registers a custom request handler under the given method name,
// alongside the built-in capability methods. Duplicates surface as
// *DuplicateMethodError when Serve builds the router.
func WithMethod(method string, handler Handler) ServerOption {
	return func(s *Server) {
		s.extraMethods[method] = handler
	}
}

// WithServerOnClientConnected sets the callback for when a client session starts.
func WithServerOnClientConnected(fn func(sessionID string, info Info)) ServerOption {
	return func(s *Server) {
		s.onClientConnected = fn
	}
}

// WithServerOnClientDisconnected sets the callback for when a client session ends.
func WithServerOnClientDisconnected(fn func(sessionID string)) ServerOption {
	return func(s *Server) {
		s.onClientDisconnected = fn
	}
}

// Serve seals the registry, builds the shared router, and accepts sessions
// from the transport until Shutdown. It blocks, and returns an error only
// for registration-time faults, which are fatal to startup.
func (s *Server) Serve() error {
	s.registry.Seal()

	router, err := s.buildRouter()
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	capabilities := s.buildCapabilities()

	// This loop breaks when the transport is shut down.
	for sess := range s.transport.Sessions() {
		ss := &serverSession{
			sess:         sess,
			router:       router,
			logger:       s.logger.With(slog.String("sessionID", sess.ID())),
			serverInfo:   s.info,
			capabilities: capabilities,
			instructions: s.instructions,
			sendTimeout:  s.sendTimeout,
			cancels:      make(map[MustString]context.CancelFunc),
		}

		s.sessionsWG.Add(1)
		go func() {
			defer s.sessionsWG.Done()

			if s.onClientConnected != nil {
				s.onClientConnected(ss.sess.ID(), s.info)
			}

			if err := ss.run(s.done); err != nil {
				ss.logger.Warn("session ended with protocol fault",
					slog.String("err", err.Error()))
			}

			if s.onClientDisconnected != nil {
				s.onClientDisconnected(ss.sess.ID())
			}
		}()
	}

	return nil
}

// Shutdown gracefully stops the server: sessions stop accepting requests,
// drain their in-flight dispatches, and the transport is released. It
// returns an error if ctx expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.done)
	s.sessionsWG.Wait()

	if err := s.transport.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown transport: %w", err)
	}
	return nil
}

// buildRouter wires the built-in capability methods backed by the registry,
// then the custom methods. Only kinds the registry actually holds get their
// discovery and invocation methods, so absent capabilities answer with
// method-not-found.
func (s *Server) buildRouter() (*Router, error) {
	router := NewRouter(s.logger)

	if len(s.registry.Tools()) > 0 {
		if err := router.Register(MethodToolsList, s.handleToolsList); err != nil {
			return nil, err
		}
		if err := router.Register(MethodToolsCall, s.handleToolsCall); err != nil {
			return nil, err
		}
	}
	if len(s.registry.Resources()) > 0 {
		if err := router.Register(MethodResourcesList, s.handleResourcesList); err != nil {
			return nil, err
		}
		if err := router.Register(MethodResourcesRead, s.handleResourcesRead); err != nil {
			return nil, err
		}
	}
	if len(s.registry.Prompts()) > 0 {
		if err := router.Register(MethodPromptsList, s.handlePromptsList); err != nil {
			return nil, err
		}
		if err := router.Register(MethodPromptsGet, s.handlePromptsGet); err != nil {
			return nil, err
		}
	}

	for method, handler := range s.extraMethods {
		if err := router.Register(method, handler); err != nil {
			return nil, err
		}
	}

	return router, nil
}

func (s *Server) buildCapabilities() ServerCapabilities {
	caps := ServerCapabilities{}
	if len(s.registry.Tools()) > 0 {
		caps.Tools = &ToolsCapability{}
	}
	if len(s.registry.Resources()) > 0 {
		caps.Resources = &ResourcesCapability{}
	}
	if len(s.registry.Prompts()) > 0 {
		caps.Prompts = &PromptsCapability{}
	}
	return caps
}

func (s *Server) handleToolsList(_ context.Context, params json.RawMessage) (any, error) {
	var p ListToolsParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	return ListToolsResult{Tools: s.registry.Tools()}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (any, error) {
	var p CallToolParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	return s.registry.CallTool(ctx, p)
}

func (s *Server) handleResourcesList(_ context.Context, params json.RawMessage) (any, error) {
	var p ListResourcesParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	return ListResourcesResult{Resources: s.registry.Resources()}, nil
}

func (s *Server) handleResourcesRead(ctx context.Context, params json.RawMessage) (any, error) {
	var p ReadResourceParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	return s.registry.ReadResource(ctx, p)
}

func (s *Server) handlePromptsList(_ context.Context, params json.RawMessage) (any, error) {
	var p ListPromptsParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	return ListPromptsResult{Prompts: s.registry.Prompts()}, nil
}

func (s *Server) handlePromptsGet(ctx context.Context, params json.RawMessage) (any, error) {
	var p GetPromptParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	return s.registry.GetPrompt(ctx, p)
}

func unmarshalParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &Error{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("failed to unmarshal params: %s", err),
		}
	}
	return nil
}
