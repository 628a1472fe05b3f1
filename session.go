package mcpwire

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SessionState is one step of the session lifecycle:
// Unconnected -> Handshaking -> Ready -> Closing -> Closed.
type SessionState int

// Session lifecycle states. Ready is the only state in which tool-call
// requests are accepted.
const (
	StateUnconnected SessionState = iota
	StateHandshaking
	StateReady
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// serverSession drives one client connection through the handshake state
// machine and dispatches its requests through the shared router. Concurrent
// requests run as independent goroutines; the registry behind the router is
// sealed before serving, so handler execution order cannot affect it.
type serverSession struct {
	sess   Session
	router *Router
	logger *slog.Logger

	serverInfo   Info
	capabilities ServerCapabilities
	instructions string
	sendTimeout  time.Duration

	mu         sync.Mutex
	state      SessionState
	cancels    map[MustString]context.CancelFunc
	clientInfo Info

	inflight sync.WaitGroup
	stopOnce sync.Once
}

// run reads the session's messages until the transport closes, walking the
// handshake state machine and dispatching Ready-state requests. It returns
// the session-fatal error, if any.
func (s *serverSession) run(done <-chan struct{}) error {
	s.setState(StateHandshaking)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()

	// Server shutdown forces the read loop below to end.
	go func() {
		<-done
		s.close()
	}()

	var fatal error

	// Session-fatal errors break out of the range loop rather than stopping
	// the session in place: transport Stop waits for the Messages iterator
	// to return, so it must never be called from inside the iteration.
readLoop:
	for msg := range s.sess.Messages() {
		if msg.JSONRPC != JSONRPCVersion {
			s.logger.Warn("skipping message with invalid jsonrpc version",
				slog.String("version", msg.JSONRPC))
			continue
		}

		switch {
		case msg.Method == methodInitialize:
			if err := s.handleInitialize(msg); err != nil {
				fatal = err
				break readLoop
			}
		case msg.Method == methodNotificationsInitialized:
			if !s.transition(StateHandshaking, StateReady) {
				fatal = &HandshakeError{Reason: "initialized notification outside handshake"}
				break readLoop
			}
		case msg.Method == methodPing:
			go s.sendResult(msg.ID, struct{}{})
		case msg.Method == methodNotificationsCancelled:
			s.handleCancelled(msg)
		case msg.Type() == MessageTypeRequest:
			if err := s.handleRequest(baseCtx, msg); err != nil {
				fatal = err
				break readLoop
			}
		case msg.Type() == MessageTypeNotification:
			s.logger.Debug("ignoring unknown notification",
				slog.String("method", msg.Method))
		default:
			// Responses are unexpected here: this server never issues
			// requests to the client.
			s.logger.Warn("dropping unexpected message",
				slog.String("type", msg.Type().String()),
				slog.String("id", string(msg.ID)))
		}
	}

	// The transport ended or a fatal error broke the loop. Cancel in-flight
	// dispatches, wait them out, and release the underlying session.
	baseCancel()
	s.inflight.Wait()
	s.close()
	s.setState(StateClosed)

	return fatal
}

// handleInitialize validates the client's capability/version announcement.
// A version mismatch fails the handshake: the error goes on the wire and the
// session closes without ever reaching Ready.
func (s *serverSession) handleInitialize(msg Message) error {
	if st := s.State(); st != StateHandshaking {
		s.sendError(msg.ID, &Error{
			Code:    CodeInvalidRequest,
			Message: fmt.Sprintf("initialize in session state %s", st),
		})
		return &HandshakeError{Reason: fmt.Sprintf("initialize in state %s", st)}
	}

	var params initializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendError(msg.ID, &Error{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("failed to unmarshal initialize params: %s", err),
		})
		return &HandshakeError{Reason: "malformed initialize params", Err: err}
	}

	if params.ProtocolVersion != protocolVersion {
		s.sendError(msg.ID, &Error{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("unsupported protocol version: %s != %s", params.ProtocolVersion, protocolVersion),
		})
		return &HandshakeError{
			Reason: fmt.Sprintf("protocol version mismatch: %s != %s", params.ProtocolVersion, protocolVersion),
		}
	}

	s.mu.Lock()
	s.clientInfo = params.ClientInfo
	s.mu.Unlock()

	s.sendResult(msg.ID, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    s.capabilities,
		ServerInfo:      s.serverInfo,
		Instructions:    s.instructions,
	})

	return nil
}

// handleRequest dispatches one Ready-state request on its own goroutine,
// registering a cancel func so the client can abort it. Requests during the
// handshake are an unexpected message type and fail the handshake; requests
// while closing are rejected but not fatal.
func (s *serverSession) handleRequest(baseCtx context.Context, msg Message) error {
	switch st := s.State(); st {
	case StateReady:
	case StateHandshaking:
		s.sendError(msg.ID, &Error{
			Code:    CodeInvalidRequest,
			Message: (&ProtocolStateError{State: st, Method: msg.Method}).Error(),
		})
		return &HandshakeError{Reason: fmt.Sprintf("request %s before handshake completed", msg.Method)}
	default:
		s.sendError(msg.ID, &Error{
			Code:    CodeInvalidRequest,
			Message: (&ProtocolStateError{State: st, Method: msg.Method}).Error(),
		})
		return nil
	}

	reqCtx, cancel := context.WithCancel(baseCtx)

	s.mu.Lock()
	s.cancels[msg.ID] = cancel
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.cancels, msg.ID)
			s.mu.Unlock()
		}()

		resp := s.router.Dispatch(reqCtx, msg)
		s.send(resp)
	}()

	return nil
}

func (s *serverSession) handleCancelled(msg Message) {
	var params cancelledParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.logger.Warn("failed to unmarshal cancelled params",
			slog.String("err", err.Error()))
		return
	}

	s.mu.Lock()
	cancel, ok := s.cancels[params.RequestID]
	if ok {
		delete(s.cancels, params.RequestID)
	}
	s.mu.Unlock()

	if ok {
		cancel()
	}
}

// close initiates Ready->Closing, stops the underlying session so the read
// loop in run ends, and lets run finish the transition to Closed.
func (s *serverSession) close() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.state != StateClosed {
			s.state = StateClosing
		}
		s.mu.Unlock()

		s.sess.Stop()
	})
}

func (s *serverSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *serverSession) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *serverSession) transition(from, to SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func (s *serverSession) send(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	if err := s.sess.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send message",
			slog.String("id", string(msg.ID)),
			slog.String("err", err.Error()))
	}
}

func (s *serverSession) sendResult(id MustString, result any) {
	resultBs, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("failed to marshal result", slog.String("err", err.Error()))
		return
	}
	s.send(Message{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resultBs,
	})
}

func (s *serverSession) sendError(id MustString, wireErr *Error) {
	s.send(Message{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   wireErr,
	})
}
