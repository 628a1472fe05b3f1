package mcpwire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Correlator tracks outstanding client requests by identifier, resolves them
// when matching responses arrive, and times out abandoned ones. Identifiers
// are fresh UUIDs, unique for the life of the session. The pending-call set
// is the only mutable state shared between the send path and the read path;
// a single mutex guards it. Concurrent callers each suspend independently,
// and a response resolves its call in arrival order, not issuance order.
type Correlator struct {
	sess         Session
	logger       *slog.Logger
	callTimeout  time.Duration
	writeTimeout time.Duration

	mu      sync.Mutex
	pending map[MustString]*pendingCall
	closed  bool
}

// pendingCall is one outstanding request. It leaves the pending set exactly
// once: matching response, timeout, cancellation, or session closure.
type pendingCall struct {
	id       MustString
	issuedAt time.Time
	outcome  chan callOutcome
}

type callOutcome struct {
	msg Message
	err error
}

func newCorrelator(sess Session, callTimeout, writeTimeout time.Duration, logger *slog.Logger) *Correlator {
	return &Correlator{
		sess:         sess,
		logger:       logger.With(slog.String("component", "correlator")),
		callTimeout:  callTimeout,
		writeTimeout: writeTimeout,
		pending:      make(map[MustString]*pendingCall),
	}
}

// Call issues a request for method with params and suspends the caller until
// a matching response arrives, the per-call timeout elapses
// (ErrRequestTimeout), the session closes (ErrSessionClosed), or ctx is
// cancelled. On cancellation the pending call is discarded, a cancellation
// notification is sent to the server on a best-effort basis, and a late
// response for the identifier is dropped without reactivating the caller.
func (c *Correlator) Call(ctx context.Context, method string, params any) (Message, error) {
	paramsBs, err := json.Marshal(params)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal params: %w", err)
	}

	call, err := c.track()
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		JSONRPC: JSONRPCVersion,
		ID:      call.id,
		Method:  method,
		Params:  paramsBs,
	}

	sCtx, sCancel := context.WithTimeout(ctx, c.writeTimeout)
	defer sCancel()

	if err := c.sess.Send(sCtx, msg); err != nil {
		c.discard(call.id)
		return Message{}, fmt.Errorf("failed to send request: %w", err)
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()

	select {
	case out := <-call.outcome:
		return out.msg, out.err
	case <-timer.C:
		c.discard(call.id)
		return Message{}, fmt.Errorf("%s: %w", method, ErrRequestTimeout)
	case <-ctx.Done():
		c.discard(call.id)
		c.notifyCancelled(call.id)
		return Message{}, ctx.Err()
	}
}

// Resolve hands an arriving response to its waiting caller. A response with
// an unknown identifier is a protocol anomaly: it is logged and dropped,
// never fatal to the session.
func (c *Correlator) Resolve(msg Message) {
	c.mu.Lock()
	call, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("response with unknown id",
			slog.String("id", string(msg.ID)))
		return
	}

	call.outcome <- callOutcome{msg: msg}
}

// Close resolves every outstanding call with err and refuses new ones.
// Calling it more than once is harmless.
func (c *Correlator) Close(err error) {
	if err == nil {
		err = ErrSessionClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	for id, call := range c.pending {
		c.logger.Debug("resolving pending call on close",
			slog.String("id", string(id)),
			slog.Duration("age", time.Since(call.issuedAt)))
		call.outcome <- callOutcome{err: err}
		delete(c.pending, id)
	}
}

func (c *Correlator) track() (*pendingCall, error) {
	call := &pendingCall{
		id:       MustString(uuid.New().String()),
		issuedAt: time.Now(),
		// Buffered so Resolve never blocks on a caller that already left.
		outcome: make(chan callOutcome, 1),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrSessionClosed
	}
	c.pending[call.id] = call

	return call, nil
}

func (c *Correlator) discard(id MustString) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Correlator) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) notifyCancelled(id MustString) {
	paramsBs, err := json.Marshal(cancelledParams{
		RequestID: id,
		Reason:    userCancelledReason,
	})
	if err != nil {
		return
	}

	sCtx, sCancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer sCancel()

	err = c.sess.Send(sCtx, Message{
		JSONRPC: JSONRPCVersion,
		Method:  methodNotificationsCancelled,
		Params:  paramsBs,
	})
	if err != nil && !errors.Is(err, ErrSessionClosed) {
		c.logger.Warn("failed to send cancellation notification",
			slog.String("id", string(id)),
			slog.String("err", err.Error()))
	}
}
