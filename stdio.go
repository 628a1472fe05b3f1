package mcpwire

import (
	"bufio"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// StdIO is a transport carrying newline-delimited frames over an
// io.Reader/io.Writer pair, typically a subprocess's stdin/stdout. It
// provides a single persistent session and can serve as either
// ServerTransport or ClientTransport. Create instances with NewStdIO and
// release them by stopping the session.
type StdIO struct {
	sess   *stdIOSession
	closed chan struct{}
}

type stdIOSession struct {
	id     string
	reader io.Reader
	writer io.Writer
	codec  Codec
	logger *slog.Logger

	writeFrames chan stdIOFrame
	done        chan struct{}
	readClosed  chan struct{}
	writeClosed chan struct{}
	stopOnce    sync.Once
}

type stdIOFrame struct {
	frame []byte
	errs  chan error
}

// NewStdIO creates a StdIO transport reading frames from reader and writing
// them to writer.
func NewStdIO(reader io.Reader, writer io.Writer) *StdIO {
	return &StdIO{
		sess: &stdIOSession{
			id:          uuid.New().String(),
			reader:      reader,
			writer:      writer,
			logger:      slog.Default(),
			writeFrames: make(chan stdIOFrame),
			done:        make(chan struct{}),
			readClosed:  make(chan struct{}),
			writeClosed: make(chan struct{}),
		},
		closed: make(chan struct{}),
	}
}

// Sessions implements ServerTransport by yielding the single persistent
// session, then waiting until it is stopped.
func (s *StdIO) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		go s.sess.processWriteFrames()

		if !yield(s.sess) {
			return
		}
		<-s.sess.done
	}
}

// Shutdown implements ServerTransport by waiting for the session loop to end.
func (s *StdIO) Shutdown(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
	}
	return nil
}

// StartSession implements ClientTransport. A pipe is ready as soon as it
// exists, so the session is returned immediately.
func (s *StdIO) StartSession(_ context.Context) (Session, error) {
	go s.sess.processWriteFrames()
	return s.sess, nil
}

func (s *stdIOSession) ID() string { return s.id }

func (s *stdIOSession) Send(ctx context.Context, msg Message) error {
	frame, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}

	ioFrame := stdIOFrame{
		frame: frame,
		errs:  make(chan error, 1),
	}

	// Writes are serialized through one goroutine so concurrent senders
	// cannot interleave frames.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	case s.writeFrames <- ioFrame:
	}

	select {
	case err := <-ioFrame.errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *stdIOSession) Messages() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		defer close(s.readClosed)

		// bufio.Reader instead of bufio.Scanner to avoid max token size errors.
		reader := bufio.NewReader(s.reader)
		for {
			type lineWithErr struct {
				line string
				err  error
			}

			lines := make(chan lineWithErr, 1)

			// Reading happens on its own goroutine so a stalled reader
			// cannot keep the session from observing done.
			go func() {
				line, err := reader.ReadString('\n')
				if err != nil {
					lines <- lineWithErr{err: err}
					return
				}
				lines <- lineWithErr{line: line}
			}()

			var lwe lineWithErr
			select {
			case <-s.done:
				return
			case lwe = <-lines:
			}

			if lwe.err != nil {
				if !errors.Is(lwe.err, io.EOF) {
					s.logger.Error("failed to read frame", slog.String("err", lwe.err.Error()))
				}
				return
			}

			if len(lwe.line) == 0 || lwe.line == "\n" {
				continue
			}

			msg, err := s.codec.Decode([]byte(lwe.line))
			if err != nil {
				// A malformed frame is a per-message fault: log the raw
				// bytes and keep reading.
				var decodeErr *DecodeError
				if errors.As(err, &decodeErr) {
					s.logger.Warn("skipping malformed frame",
						slog.String("frame", string(decodeErr.Raw)),
						slog.String("err", decodeErr.Err.Error()))
				} else {
					s.logger.Warn("skipping malformed frame", slog.String("err", err.Error()))
				}
				continue
			}

			if !yield(msg) {
				return
			}
		}
	}
}

func (s *stdIOSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		<-s.readClosed
		<-s.writeClosed
	})
}

func (s *stdIOSession) processWriteFrames() {
	defer close(s.writeClosed)

	for {
		var frame stdIOFrame
		select {
		case <-s.done:
			return
		case frame = <-s.writeFrames:
		}

		_, err := s.writer.Write(frame.frame)
		frame.errs <- err
	}
}
