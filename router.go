package mcpwire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Handler processes the params of one request and returns its result, which
// is marshaled into the response. Returning a *Error puts that exact error
// descriptor on the wire; any other error becomes an internal "handler error"
// response.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Router dispatches incoming requests to registered handlers by method name.
// Registration happens before serving starts; dispatch is then safe for
// concurrent use across every session sharing the router. A handler fault,
// panic included, is converted to an error response and never terminates the
// session, and every dispatched request produces exactly one response
// carrying the original identifier.
type Router struct {
	logger   *slog.Logger
	handlers map[string]Handler
}

// NewRouter creates an empty router. A nil logger falls back to slog.Default.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:   logger.With(slog.String("component", "router")),
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a method name. It fails with
// *DuplicateMethodError if the method is already registered, leaving the
// original handler active.
func (r *Router) Register(method string, handler Handler) error {
	if method == "" {
		return errors.New("method must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("method %s: handler must not be nil", method)
	}
	if _, ok := r.handlers[method]; ok {
		return &DuplicateMethodError{Method: method}
	}

	r.handlers[method] = handler
	return nil
}

// Handles reports whether a handler is registered for method.
func (r *Router) Handles(method string) bool {
	_, ok := r.handlers[method]
	return ok
}

// Dispatch routes req to its handler and returns the correlated response.
// Unknown methods produce a method-not-found error response; handler
// failures are mapped onto the wire error taxonomy. The request identifier
// is never dropped.
func (r *Router) Dispatch(ctx context.Context, req Message) Message {
	resp := Message{
		JSONRPC: JSONRPCVersion,
		ID:      req.ID,
	}

	handler, ok := r.handlers[req.Method]
	if !ok {
		resp.Error = &Error{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", req.Method),
			Data:    map[string]any{"kind": "MethodNotFound"},
		}
		return resp
	}

	result, err := r.invoke(ctx, handler, req.Params)
	if err != nil {
		resp.Error = r.wireError(req.Method, err)
		return resp
	}

	resultBs, err := json.Marshal(result)
	if err != nil {
		r.logger.Error("failed to marshal handler result",
			slog.String("method", req.Method),
			slog.String("err", err.Error()))
		resp.Error = &Error{
			Code:    CodeInternalError,
			Message: "failed to marshal handler result",
		}
		return resp
	}
	resp.Result = resultBs

	return resp
}

// invoke runs the handler with panic recovery so a faulty handler cannot
// take down the session.
func (r *Router) invoke(ctx context.Context, handler Handler, params json.RawMessage) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	return handler(ctx, params)
}

func (r *Router) wireError(method string, err error) *Error {
	r.logger.Warn("handler failed",
		slog.String("method", method),
		slog.String("err", err.Error()))

	var wireErr *Error
	if errors.As(err, &wireErr) {
		return wireErr
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return &Error{
			Code:    CodeMethodNotFound,
			Message: notFound.Error(),
			Data:    map[string]any{"kind": "MethodNotFound"},
		}
	}

	var schemaErr *SchemaValidationError
	if errors.As(err, &schemaErr) {
		data := map[string]any{"kind": "SchemaValidationError"}
		if len(schemaErr.Causes) > 0 {
			data["causes"] = schemaErr.Causes
		}
		return &Error{
			Code:    CodeInvalidParams,
			Message: schemaErr.Error(),
			Data:    data,
		}
	}

	return &Error{
		Code:    CodeInternalError,
		Message: fmt.Sprintf("handler error: %s", err),
		Data:    map[string]any{"kind": "HandlerError"},
	}
}
