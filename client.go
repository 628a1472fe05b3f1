package mcpwire

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client implements the client side of the protocol. It owns one session
// over one transport, a correlator matching responses to their originating
// calls, and the handshake state machine. Connect must succeed before any
// operation; Close releases the session when done.
type Client struct {
	info      Info
	transport ClientTransport
	logger    *slog.Logger
	agent     *Agent

	callTimeout   time.Duration
	writeTimeout  time.Duration
	pingInterval  time.Duration
	pingThreshold int

	sess       Session
	correlator *Correlator

	serverInfo         Info
	serverCapabilities ServerCapabilities

	mu    sync.Mutex
	state SessionState

	stopPing     chan struct{}
	readLoopDone chan struct{}
	closeOnce    sync.Once
}

var (
	defaultClientCallTimeout  = 30 * time.Second
	defaultClientWriteTimeout = 30 * time.Second
	defaultClientPingInterval = 30 * time.Second

	defaultClientPingThreshold = 3
)

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With(
			slog.String("package", "mcpwire"),
			slog.String("component", "client"),
		)
	}
}

// WithClientCallTimeout sets the per-call timeout. Timeouts are independent:
// one slow call never blocks unrelated calls on the same session.
func WithClientCallTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.callTimeout = timeout
	}
}

// WithClientWriteTimeout sets the timeout for transmitting a single message.
func WithClientWriteTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.writeTimeout = timeout
	}
}

// WithClientPingInterval sets the keepalive ping interval.
func WithClientPingInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.pingInterval = interval
	}
}

// WithClientPingThreshold sets how many consecutive ping failures close the
// session.
func WithClientPingThreshold(threshold int) ClientOption {
	return func(c *Client) {
		c.pingThreshold = threshold
	}
}

// WithAgent attaches an agent abstraction to the client. The client owns the
// reference; it never consults the agent itself.
func WithAgent(agent *Agent) ClientOption {
	return func(c *Client) {
		c.agent = agent
	}
}

// NewClient creates a new client speaking over the given transport. The
// client stays Unconnected until Connect is called.
func NewClient(info Info, transport ClientTransport, options ...ClientOption) *Client {
	c := &Client{
		info:         info,
		transport:    transport,
		logger:       slog.Default(),
		state:        StateUnconnected,
		stopPing:     make(chan struct{}),
		readLoopDone: make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.callTimeout == 0 {
		c.callTimeout = defaultClientCallTimeout
	}
	if c.writeTimeout == 0 {
		c.writeTimeout = defaultClientWriteTimeout
	}
	if c.pingInterval == 0 {
		c.pingInterval = defaultClientPingInterval
	}
	if c.pingThreshold == 0 {
		c.pingThreshold = defaultClientPingThreshold
	}

	return c
}

// Connect opens the transport session and performs the capability/version
// handshake. Version incompatibility or an unexpected reply fails with
// *HandshakeError and leaves the session Closed; no requests are ever
// accepted on such a session.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateHandshaking)

	sess, err := c.transport.StartSession(ctx)
	if err != nil {
		c.setState(StateClosed)
		return fmt.Errorf("failed to start session: %w", err)
	}

	c.sess = sess
	c.correlator = newCorrelator(sess, c.callTimeout, c.writeTimeout, c.logger)

	// The read loop must be running before the initialize call so its
	// response can be correlated.
	go c.readLoop()

	res, err := c.correlator.Call(ctx, methodInitialize, initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      c.info,
	})
	if err != nil {
		c.teardown(&HandshakeError{Reason: "initialize call failed", Err: err})
		return &HandshakeError{Reason: "initialize call failed", Err: err}
	}
	if res.Error != nil {
		c.teardown(&HandshakeError{Reason: "server rejected initialize", Err: res.Error})
		return &HandshakeError{Reason: "server rejected initialize", Err: res.Error}
	}

	var result initializeResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		c.teardown(&HandshakeError{Reason: "malformed initialize result", Err: err})
		return &HandshakeError{Reason: "malformed initialize result", Err: err}
	}

	if result.ProtocolVersion != protocolVersion {
		hErr := &HandshakeError{
			Reason: fmt.Sprintf("protocol version mismatch: %s != %s", result.ProtocolVersion, protocolVersion),
		}
		c.teardown(hErr)
		return hErr
	}

	c.serverInfo = result.ServerInfo
	c.serverCapabilities = result.Capabilities

	if err := c.sendNotification(ctx, methodNotificationsInitialized, nil); err != nil {
		hErr := &HandshakeError{Reason: "failed to confirm initialization", Err: err}
		c.teardown(hErr)
		return hErr
	}

	c.setState(StateReady)
	go c.pingLoop()

	return nil
}

// Close gracefully shuts the session down: no new requests, pending calls
// resolved with ErrSessionClosed, transport released.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		close(c.stopPing)

		if c.sess != nil {
			c.sess.Stop()
			<-c.readLoopDone
		}

		c.setState(StateClosed)
	})
}

// State returns the session lifecycle state.
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerInfo returns the server metadata announced in the handshake.
func (c *Client) ServerInfo() Info { return c.serverInfo }

// ServerCapabilities returns the capabilities announced in the handshake.
func (c *Client) ServerCapabilities() ServerCapabilities { return c.serverCapabilities }

// Agent returns the agent attached via WithAgent, or nil.
func (c *Client) Agent() *Agent { return c.agent }

// Ping checks session liveness with the server.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.call(ctx, methodPing, struct{}{})
	if err != nil {
		return err
	}
	if res.Error != nil {
		return fmt.Errorf("ping error: %w", res.Error)
	}
	return nil
}

// ListTools retrieves the server's tool descriptors.
func (c *Client) ListTools(ctx context.Context, params ListToolsParams) (ListToolsResult, error) {
	if c.serverCapabilities.Tools == nil && c.State() == StateReady {
		return ListToolsResult{}, fmt.Errorf("tools not supported by server")
	}

	var result ListToolsResult
	if err := c.callInto(ctx, MethodToolsList, params, &result); err != nil {
		return ListToolsResult{}, err
	}
	return result, nil
}

// CallTool executes a tool on the server.
func (c *Client) CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error) {
	if c.serverCapabilities.Tools == nil && c.State() == StateReady {
		return CallToolResult{}, fmt.Errorf("tools not supported by server")
	}

	var result CallToolResult
	if err := c.callInto(ctx, MethodToolsCall, params, &result); err != nil {
		return CallToolResult{}, err
	}
	return result, nil
}

// ListResources retrieves the server's resource descriptors.
func (c *Client) ListResources(ctx context.Context, params ListResourcesParams) (ListResourcesResult, error) {
	if c.serverCapabilities.Resources == nil && c.State() == StateReady {
		return ListResourcesResult{}, fmt.Errorf("resources not supported by server")
	}

	var result ListResourcesResult
	if err := c.callInto(ctx, MethodResourcesList, params, &result); err != nil {
		return ListResourcesResult{}, err
	}
	return result, nil
}

// ReadResource reads a resource by URI.
func (c *Client) ReadResource(ctx context.Context, params ReadResourceParams) (ReadResourceResult, error) {
	if c.serverCapabilities.Resources == nil && c.State() == StateReady {
		return ReadResourceResult{}, fmt.Errorf("resources not supported by server")
	}

	var result ReadResourceResult
	if err := c.callInto(ctx, MethodResourcesRead, params, &result); err != nil {
		return ReadResourceResult{}, err
	}
	return result, nil
}

// ListPrompts retrieves the server's prompt descriptors.
func (c *Client) ListPrompts(ctx context.Context, params ListPromptsParams) (ListPromptsResult, error) {
	if c.serverCapabilities.Prompts == nil && c.State() == StateReady {
		return ListPromptsResult{}, fmt.Errorf("prompts not supported by server")
	}

	var result ListPromptsResult
	if err := c.callInto(ctx, MethodPromptsList, params, &result); err != nil {
		return ListPromptsResult{}, err
	}
	return result, nil
}

// GetPrompt renders a prompt by name.
func (c *Client) GetPrompt(ctx context.Context, params GetPromptParams) (GetPromptResult, error) {
	if c.serverCapabilities.Prompts == nil && c.State() == StateReady {
		return GetPromptResult{}, fmt.Errorf("prompts not supported by server")
	}

	var result GetPromptResult
	if err := c.callInto(ctx, MethodPromptsGet, params, &result); err != nil {
		return GetPromptResult{}, err
	}
	return result, nil
}

// Call issues a request for an arbitrary method and returns the raw result.
// It covers custom methods registered on the server via WithMethod.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	res, err := c.call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return res.Result, nil
}

// call guards the Ready-only invariant and delegates to the correlator.
func (c *Client) call(ctx context.Context, method string, params any) (Message, error) {
	if st := c.State(); st != StateReady {
		return Message{}, &ProtocolStateError{State: st, Method: method}
	}
	return c.correlator.Call(ctx, method, params)
}

func (c *Client) callInto(ctx context.Context, method string, params, result any) error {
	res, err := c.call(ctx, method, params)
	if err != nil {
		return err
	}
	if res.Error != nil {
		return fmt.Errorf("result error: %w", res.Error)
	}
	if err := json.Unmarshal(res.Result, result); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

// readLoop consumes the session's messages until the transport closes, then
// resolves every pending call with ErrSessionClosed so none is left
// dangling.
func (c *Client) readLoop() {
	defer close(c.readLoopDone)
	defer func() {
		c.setState(StateClosed)
		c.correlator.Close(ErrSessionClosed)
	}()

	for msg := range c.sess.Messages() {
		if msg.JSONRPC != JSONRPCVersion {
			c.logger.Warn("skipping message with invalid jsonrpc version",
				slog.String("version", msg.JSONRPC))
			continue
		}

		switch {
		case msg.Method == methodPing:
			go c.answerPing(msg.ID)
		case msg.Method == methodNotificationsMessage:
			c.forwardLog(msg)
		case msg.Type() == MessageTypeResponse:
			c.correlator.Resolve(msg)
		case msg.Type() == MessageTypeNotification:
			c.logger.Debug("ignoring unknown notification",
				slog.String("method", msg.Method))
		default:
			c.logger.Warn("dropping unexpected message",
				slog.String("type", msg.Type().String()),
				slog.String("method", msg.Method))
		}
	}
}

// pingLoop closes the session after too many consecutive keepalive failures.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	failedPings := 0
	for {
		select {
		case <-c.stopPing:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		err := c.Ping(ctx)
		cancel()

		if err != nil {
			failedPings++
			c.logger.Warn("ping failed",
				slog.Int("consecutive", failedPings),
				slog.String("err", err.Error()))
			if failedPings > c.pingThreshold {
				c.logger.Warn("too many ping failures, closing session")
				c.Close()
				return
			}
			continue
		}
		failedPings = 0
	}
}

func (c *Client) answerPing(id MustString) {
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	resultBs, _ := json.Marshal(struct{}{})
	err := c.sess.Send(ctx, Message{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resultBs,
	})
	if err != nil {
		c.logger.Error("failed to answer ping", slog.String("err", err.Error()))
	}
}

func (c *Client) forwardLog(msg Message) {
	var params LogParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		c.logger.Error("failed to unmarshal log params", slog.String("err", err.Error()))
		return
	}

	level := slog.LevelInfo
	switch params.Level {
	case LogLevelDebug:
		level = slog.LevelDebug
	case LogLevelWarning:
		level = slog.LevelWarn
	case LogLevelError:
		level = slog.LevelError
	}

	c.logger.Log(context.Background(), level, "server log",
		slog.String("logger", params.Logger),
		slog.String("data", string(params.Data)))
}

func (c *Client) sendNotification(ctx context.Context, method string, params any) error {
	paramsBs, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	sCtx, sCancel := context.WithTimeout(ctx, c.writeTimeout)
	defer sCancel()

	return c.sess.Send(sCtx, Message{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsBs,
	})
}

func (c *Client) teardown(cause error) {
	c.logger.Warn("closing session", slog.String("cause", cause.Error()))
	c.sess.Stop()
	<-c.readLoopDone
	c.setState(StateClosed)
}

func (c *Client) setState(state SessionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}
