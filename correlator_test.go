package mcpwire

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeSession records sent messages and never produces incoming ones.
type fakeSession struct {
	mu      sync.Mutex
	sent    []Message
	sendErr error
}

func (f *fakeSession) ID() string { return "fake" }

func (f *fakeSession) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSession) Messages() iter.Seq[Message] {
	return func(func(Message) bool) {}
}

func (f *fakeSession) Stop() {}

func (f *fakeSession) sentMessages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...)
}

func newTestCorrelator(sess Session, callTimeout time.Duration) *Correlator {
	return newCorrelator(sess, callTimeout, time.Second, slog.Default())
}

func TestCorrelatorResolvesMatchingResponse(t *testing.T) {
	sess := &fakeSession{}
	c := newTestCorrelator(sess, 5*time.Second)

	done := make(chan struct{})
	var got Message
	var callErr error
	go func() {
		defer close(done)
		got, callErr = c.Call(context.Background(), "tools/list", nil)
	}()

	// Wait for the request to hit the session, then answer it.
	var reqID MustString
	deadline := time.After(5 * time.Second)
	for {
		if sent := sess.sentMessages(); len(sent) > 0 {
			reqID = sent[0].ID
			break
		}
		select {
		case <-deadline:
			t.Fatal("request never sent")
		case <-time.After(time.Millisecond):
		}
	}

	c.Resolve(Message{
		JSONRPC: JSONRPCVersion,
		ID:      reqID,
		Result:  json.RawMessage(`{"tools":[]}`),
	})

	<-done
	if callErr != nil {
		t.Fatalf("Call: %v", callErr)
	}
	if got.ID != reqID {
		t.Errorf("response ID = %s, want %s", got.ID, reqID)
	}
	if c.pendingCount() != 0 {
		t.Errorf("pending count = %d, want 0", c.pendingCount())
	}
}

func TestCorrelatorCallTimeout(t *testing.T) {
	sess := &fakeSession{}
	c := newTestCorrelator(sess, 20*time.Millisecond)

	_, err := c.Call(context.Background(), "tools/list", nil)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
	if c.pendingCount() != 0 {
		t.Errorf("pending count = %d, want 0", c.pendingCount())
	}
}

func TestCorrelatorLateResponseAfterTimeoutIsDropped(t *testing.T) {
	sess := &fakeSession{}
	c := newTestCorrelator(sess, 20*time.Millisecond)

	_, err := c.Call(context.Background(), "tools/list", nil)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}

	sent := sess.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}

	// The identifier was discarded with the call: resolving it again must
	// not panic or revive the caller.
	c.Resolve(Message{
		JSONRPC: JSONRPCVersion,
		ID:      sent[0].ID,
		Result:  json.RawMessage(`{}`),
	})
}

func TestCorrelatorResolveUnknownID(t *testing.T) {
	sess := &fakeSession{}
	c := newTestCorrelator(sess, time.Second)

	// Anomaly: logged and dropped, nothing blows up.
	c.Resolve(Message{
		JSONRPC: JSONRPCVersion,
		ID:      "never-issued",
		Result:  json.RawMessage(`{}`),
	})
}

func TestCorrelatorCloseResolvesAllPending(t *testing.T) {
	sess := &fakeSession{}
	c := newTestCorrelator(sess, 10*time.Second)

	const calls = 2
	errs := make(chan error, calls)
	for range calls {
		go func() {
			_, err := c.Call(context.Background(), "tools/list", nil)
			errs <- err
		}()
	}

	deadline := time.After(5 * time.Second)
	for c.pendingCount() < calls {
		select {
		case <-deadline:
			t.Fatalf("pending count = %d, want %d", c.pendingCount(), calls)
		case <-time.After(time.Millisecond):
		}
	}

	c.Close(ErrSessionClosed)

	for range calls {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrSessionClosed) {
				t.Errorf("expected ErrSessionClosed, got %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("caller never released")
		}
	}

	// New calls after close fail immediately.
	if _, err := c.Call(context.Background(), "ping", nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed for post-close call, got %v", err)
	}
}

func TestCorrelatorContextCancellationNotifiesServer(t *testing.T) {
	sess := &fakeSession{}
	c := newTestCorrelator(sess, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, "tools/call", nil)
		done <- err
	}()

	deadline := time.After(5 * time.Second)
	for c.pendingCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("call never tracked")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("caller never released")
	}

	// Best-effort cancellation notification follows the request.
	deadline = time.After(5 * time.Second)
	for {
		sent := sess.sentMessages()
		if len(sent) >= 2 {
			last := sent[len(sent)-1]
			if last.Method != methodNotificationsCancelled {
				t.Errorf("last message method = %s, want %s", last.Method, methodNotificationsCancelled)
			}
			var params cancelledParams
			if err := json.Unmarshal(last.Params, &params); err != nil {
				t.Fatalf("unmarshal cancellation params: %v", err)
			}
			if params.RequestID != sent[0].ID {
				t.Errorf("cancelled id = %s, want %s", params.RequestID, sent[0].ID)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("cancellation notification never sent")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestCorrelatorIdentifiersAreUnique(t *testing.T) {
	sess := &fakeSession{}
	c := newTestCorrelator(sess, 20*time.Millisecond)

	const calls = 20
	var wg sync.WaitGroup
	for range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Call(context.Background(), "ping", nil)
		}()
	}
	wg.Wait()

	seen := make(map[MustString]bool)
	for _, msg := range sess.sentMessages() {
		if seen[msg.ID] {
			t.Fatalf("identifier %s reused", msg.ID)
		}
		seen[msg.ID] = true
	}
}
