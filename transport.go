package mcpwire

import (
	"context"
	"iter"
)

// ServerTransport provides the server-side communication layer. A transport
// owns the byte stream; framing and message decoding go through Codec, so
// sessions exchange whole Messages.
type ServerTransport interface {
	// Sessions returns an iterator that yields new client sessions as they
	// are initiated. Each yielded Session represents a unique client
	// connection; session IDs must be unique across all active connections.
	//
	// The iteration exits when Shutdown is called.
	Sessions() iter.Seq[Session]

	// Shutdown releases the transport's resources. It does not stop the
	// sessions it produced; the caller does that, and calls Shutdown exactly
	// once.
	Shutdown(ctx context.Context) error
}

// ClientTransport provides the client-side communication layer.
type ClientTransport interface {
	// StartSession opens a connection to the server and returns the session
	// once the transport is ready to carry messages. Connection failures are
	// returned as errors; the context bounds the connection attempt.
	StartSession(ctx context.Context) (Session, error)
}

// Session is one bidirectional message channel between a client and a server.
// A session does not outlive its transport.
type Session interface {
	// ID returns the unique identifier for this session.
	ID() string

	// Send transmits a message to the peer.
	Send(ctx context.Context, msg Message) error

	// Messages returns an iterator that yields messages received from the
	// peer. Malformed frames are skipped after logging; the iteration exits
	// when the session closes.
	Messages() iter.Seq[Message]

	// Stop closes the session. The owner calls this exactly once.
	Stop()
}
