package mcpwire

import (
	"errors"
	"fmt"
)

// Caller-scoped terminal outcomes for pending calls.
var (
	// ErrRequestTimeout resolves a pending call whose per-call timeout elapsed
	// before a matching response arrived.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrSessionClosed resolves every pending call when the owning session
	// closes, gracefully or not.
	ErrSessionClosed = errors.New("session closed")

	// ErrRegistrySealed is returned by registry mutations after the server
	// has started serving.
	ErrRegistrySealed = errors.New("registry is sealed")
)

// DecodeError reports a malformed wire frame. It carries the raw offending
// bytes so the owner can log the anomaly; the frame is skipped and reading
// continues.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %q: %s", e.Raw, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DuplicateMethodError reports an attempt to register a method name that is
// already taken. Registration happens at startup, so this is fatal to server
// construction; the original handler stays active.
type DuplicateMethodError struct {
	Method string
}

func (e *DuplicateMethodError) Error() string {
	return fmt.Sprintf("method already registered: %s", e.Method)
}

// DuplicateCapabilityError reports a second descriptor registered under the
// same (kind, name) pair.
type DuplicateCapabilityError struct {
	Kind CapabilityKind
	Name string
}

func (e *DuplicateCapabilityError) Error() string {
	return fmt.Sprintf("%s already registered: %s", e.Kind, e.Name)
}

// NotFoundError reports a capability lookup that matched nothing.
type NotFoundError struct {
	Kind CapabilityKind
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

// SchemaValidationError reports tool arguments rejected by the tool's input
// schema before the handler ran.
type SchemaValidationError struct {
	Tool   string
	Causes []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("arguments for tool %s failed schema validation: %v", e.Tool, e.Causes)
}

// HandshakeError reports a failed capability/version exchange. The session
// goes straight to Closed and never accepts requests.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake failed: %s: %s", e.Reason, e.Err)
	}
	return fmt.Sprintf("handshake failed: %s", e.Reason)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// ProtocolStateError reports an operation attempted outside the Ready state.
type ProtocolStateError struct {
	State  SessionState
	Method string
}

func (e *ProtocolStateError) Error() string {
	return fmt.Sprintf("cannot handle %s in session state %s", e.Method, e.State)
}
