package mcpwire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEServer is a framework-agnostic ServerTransport carrying frames over
// Server-Sent Events for the server-to-client direction and HTTP POST for
// the client-to-server direction. HandleSSE and HandleMessage are plain
// http.Handlers that can be mounted on any mux.
//
// Create instances with NewSSEServer; the owning Server shuts the transport
// down through Shutdown.
type SSEServer struct {
	messageURL string
	codec      Codec
	logger     *slog.Logger

	sessions         chan *sseServerSession
	removedSessions  chan string
	receivedMessages chan sseSessionMessage

	done   chan struct{}
	closed chan struct{}
}

// SSEClient is a ClientTransport connecting to an SSEServer. The server
// announces the session's POST endpoint in the first event; StartSession
// blocks until that announcement arrives.
type SSEClient struct {
	httpClient *http.Client
	connectURL string
	codec      Codec
	logger     *slog.Logger

	maxPayloadSize int
}

// SSEClientOption represents the options for the SSEClient.
type SSEClientOption func(*SSEClient)

type sseServerSession struct {
	id     string
	sess   *sse.Session
	codec  Codec
	logger *slog.Logger

	sendMsgs     chan sseSendReq
	receivedMsgs chan Message

	done           chan struct{}
	sendClosed     chan struct{}
	receivedClosed chan struct{}
	stopOnce       sync.Once
}

type sseSessionMessage struct {
	sessID string
	msg    Message
}

type sseSendReq struct {
	msg  *sse.Message
	errs chan<- error
}

type sseClientSession struct {
	id         string
	client     *SSEClient
	messageURL string
	body       io.ReadCloser

	messages chan Message
	done     chan struct{}
	stopOnce sync.Once
}

// NewSSEServer creates an SSE transport whose clients post their messages to
// messageURL. The returned transport is operational immediately.
func NewSSEServer(messageURL string) *SSEServer {
	return &SSEServer{
		messageURL:       messageURL,
		logger:           slog.Default(),
		sessions:         make(chan *sseServerSession, 5),
		removedSessions:  make(chan string),
		receivedMessages: make(chan sseSessionMessage),
		done:             make(chan struct{}),
		closed:           make(chan struct{}),
	}
}

// NewSSEClient creates an SSE client connecting to connectURL. A nil
// httpClient falls back to http.DefaultClient.
func NewSSEClient(connectURL string, httpClient *http.Client, options ...SSEClientOption) *SSEClient {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	c := &SSEClient{
		connectURL: connectURL,
		httpClient: cli,
		logger:     slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// WithSSEClientMaxPayloadSize caps the size of a single event payload
// accepted from the server.
func WithSSEClientMaxPayloadSize(size int) SSEClientOption {
	return func(c *SSEClient) {
		c.maxPayloadSize = size
	}
}

// WithSSEClientLogger sets the logger for the SSE client.
func WithSSEClientLogger(logger *slog.Logger) SSEClientOption {
	return func(c *SSEClient) {
		c.logger = logger
	}
}

// Sessions implements ServerTransport by yielding a session per connected
// client and routing posted messages to the right one.
func (s *SSEServer) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		sessionsMap := make(map[string]*sseServerSession)

		for {
			select {
			case <-s.done:
				return
			case sess := <-s.sessions:
				go sess.processSendMessages()
				sessionsMap[sess.id] = sess

				if !yield(sess) {
					return
				}
			case sessID := <-s.removedSessions:
				delete(sessionsMap, sessID)
			case m := <-s.receivedMessages:
				sess, ok := sessionsMap[m.sessID]
				if !ok {
					// The session may already be gone; drop the message.
					continue
				}

				select {
				case <-s.done:
					return
				case sess.receivedMsgs <- m.msg:
				}
			}
		}
	}
}

// Shutdown implements ServerTransport.
func (s *SSEServer) Shutdown(ctx context.Context) error {
	close(s.done)

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close SSE server: %w", ctx.Err())
	case <-s.closed:
	}
	return nil
}

// HandleSSE returns the http.Handler upgrading GET requests to SSE streams.
// Each connection becomes one session; the handler first announces the
// session's message endpoint, then keeps the connection open until the
// session stops.
func (s *SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", slog.String("err", nErr.Error()))
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		sessID := uuid.New().String()

		endpoint := fmt.Sprintf("%s?sessionID=%s", s.messageURL, sessID)
		msg := sse.Message{Type: sse.Type("endpoint")}
		msg.AppendData(endpoint)
		if err := sess.Send(&msg); err != nil {
			s.logger.Error("failed to write endpoint event", slog.String("err", err.Error()))
			return
		}
		if err := sess.Flush(); err != nil {
			s.logger.Error("failed to flush endpoint event", slog.String("err", err.Error()))
			return
		}

		srvSession := &sseServerSession{
			id:             sessID,
			sess:           sess,
			logger:         s.logger,
			sendMsgs:       make(chan sseSendReq, 5),
			receivedMsgs:   make(chan Message, 5),
			done:           make(chan struct{}),
			sendClosed:     make(chan struct{}),
			receivedClosed: make(chan struct{}),
		}

		select {
		case <-s.done:
			return
		case s.sessions <- srvSession:
		}

		// Keep the connection open until the session stops.
		<-srvSession.sendClosed
		<-srvSession.receivedClosed

		select {
		case s.removedSessions <- sessID:
		case <-s.done:
		}
	})
}

// HandleMessage returns the http.Handler accepting client messages via POST.
// The body is one frame, decoded through the Codec; malformed frames get a
// 400 and are otherwise ignored.
func (s *SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessID := r.URL.Query().Get("sessionID")
		if sessID == "" {
			http.Error(w, "missing sessionID query parameter", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read body: %s", err), http.StatusBadRequest)
			return
		}

		msg, err := s.codec.Decode(body)
		if err != nil {
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				s.logger.Warn("rejecting malformed frame",
					slog.String("frame", string(decodeErr.Raw)),
					slog.String("err", decodeErr.Err.Error()))
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		select {
		case <-s.done:
			return
		case s.receivedMessages <- sseSessionMessage{sessID: sessID, msg: msg}:
		}
	})
}

// StartSession implements ClientTransport: it opens the SSE stream and
// blocks until the server announces the session's message endpoint.
func (c *SSEClient) StartSession(ctx context.Context) (Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.connectURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSE server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	sess := &sseClientSession{
		id:       uuid.New().String(),
		client:   c,
		body:     resp.Body,
		messages: make(chan Message),
		done:     make(chan struct{}),
	}

	endpointReady := make(chan error, 1)
	go sess.listenEvents(endpointReady)

	select {
	case <-ctx.Done():
		sess.Stop()
		return nil, ctx.Err()
	case err := <-endpointReady:
		if err != nil {
			sess.Stop()
			return nil, err
		}
	}

	return sess, nil
}

func (s *sseClientSession) ID() string { return s.id }

// Send transmits one frame to the session's message endpoint via POST.
func (s *sseClientSession) Send(ctx context.Context, msg Message) error {
	frame, err := s.client.codec.Encode(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.messageURL, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

func (s *sseClientSession) Messages() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for msg := range s.messages {
			if !yield(msg) {
				return
			}
		}
	}
}

func (s *sseClientSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		// Closing the body ends the event loop.
		s.body.Close()
	})
}

// listenEvents consumes the SSE stream. The first expected event announces
// the message endpoint; afterwards every "message" event is one frame.
func (s *sseClientSession) listenEvents(endpointReady chan<- error) {
	defer close(s.messages)

	logger := s.client.logger

	var config *sse.ReadConfig
	if s.client.maxPayloadSize > 0 {
		config = &sse.ReadConfig{MaxEventSize: s.client.maxPayloadSize}
	}

	for ev, err := range sse.Read(s.body, config) {
		if err != nil {
			select {
			case <-s.done:
			default:
				if !errors.Is(err, context.Canceled) {
					logger.Error("failed to read SSE event", slog.String("err", err.Error()))
				}
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			u, err := url.Parse(ev.Data)
			if err != nil {
				endpointReady <- fmt.Errorf("failed to parse endpoint URL: %w", err)
				return
			}
			if u.String() == "" {
				endpointReady <- errors.New("empty endpoint URL")
				return
			}
			s.messageURL = u.String()
			endpointReady <- nil
		case "message":
			if s.messageURL == "" {
				logger.Error("received message before endpoint event")
				continue
			}

			msg, err := s.client.codec.Decode([]byte(ev.Data))
			if err != nil {
				var decodeErr *DecodeError
				if errors.As(err, &decodeErr) {
					logger.Warn("skipping malformed frame",
						slog.String("frame", string(decodeErr.Raw)),
						slog.String("err", decodeErr.Err.Error()))
				}
				continue
			}

			select {
			case <-s.done:
				return
			case s.messages <- msg:
			}
		default:
			logger.Warn("unhandled event type", slog.String("type", ev.Type))
		}
	}
}

func (s *sseServerSession) ID() string { return s.id }

func (s *sseServerSession) Send(ctx context.Context, msg Message) error {
	frame, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}

	sseMsg := &sse.Message{Type: sse.Type("message")}
	sseMsg.AppendData(string(bytes.TrimRight(frame, "\n")))

	errs := make(chan error, 1)

	// Sends are serialized through one goroutine to avoid races in the
	// underlying SSE session.
	select {
	case s.sendMsgs <- sseSendReq{msg: sseMsg, errs: errs}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *sseServerSession) Messages() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		defer close(s.receivedClosed)

		for {
			select {
			case msg := <-s.receivedMsgs:
				if !yield(msg) {
					return
				}
			case <-s.done:
				return
			}
		}
	}
}

func (s *sseServerSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		<-s.sendClosed
		<-s.receivedClosed
	})
}

func (s *sseServerSession) processSendMessages() {
	defer close(s.sendClosed)

	for {
		select {
		case req := <-s.sendMsgs:
			if err := s.sess.Send(req.msg); err != nil {
				req.errs <- err
				continue
			}
			req.errs <- s.sess.Flush()
		case <-s.done:
			return
		}
	}
}
