package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/OCAP2/markers/pkg/streaming"
)

const (
	outboxSize   = 1024
	ackBufSize   = 16
	maxRedials   = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
	dialTimeout  = 10 * time.Second
	firstBackoff = time.Second
)

var (
	errSessionClosed = errors.New("websocket session closed")
	errOutboxFull    = errors.New("websocket outbox full")
)

// session is one logical stream to the viewer. A single run goroutine owns
// the socket: it writes queued frames in order and, after a failure, redials
// with backoff and replays the handshake before writing anything else.
type session struct {
	url     string
	secret  string
	logger  *slog.Logger
	backoff time.Duration

	outbox  chan []byte
	acks    chan streaming.AckMessage
	done    chan struct{}
	stopped chan struct{}

	mu        sync.Mutex
	handshake []byte
	running   bool
	closed    bool
	failed    error
}

func newSession(rawURL, secret string, logger *slog.Logger) *session {
	return &session{
		url:     rawURL,
		secret:  secret,
		logger:  logger,
		backoff: firstBackoff,
		outbox:  make(chan []byte, outboxSize),
		acks:    make(chan streaming.AckMessage, ackBufSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// endpoint appends the secret to the configured URL.
func endpoint(rawURL, secret string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid websocket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid websocket URL %q: scheme must be ws or wss", rawURL)
	}
	q := u.Query()
	q.Set("secret", secret)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *session) dial(ctx context.Context) (*ws.Conn, error) {
	target, err := endpoint(s.url, s.secret)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := ws.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// open dials once and starts the run loop. A failed first dial is returned
// to the caller instead of being retried.
func (s *session) open(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return errSessionClosed
	}
	s.running = true
	s.mu.Unlock()

	go s.run(conn)
	return nil
}

func (s *session) run(conn *ws.Conn) {
	defer close(s.stopped)

	for conn != nil {
		readErr := make(chan error, 1)
		go s.read(conn, readErr)

		err := s.pump(conn, readErr)
		if err == nil {
			// shutdown requested
			_ = conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}

		s.logger.Warn("WebSocket connection lost", "error", err)
		_ = conn.Close()
		conn = s.redial()
	}
}

// pump writes outbox frames until the socket fails or the session closes.
// It returns nil only on shutdown.
func (s *session) pump(conn *ws.Conn, readErr <-chan error) error {
	for {
		select {
		case <-s.done:
			return nil
		case err := <-readErr:
			return err
		case data := <-s.outbox:
			if err := s.write(conn, data); err != nil {
				return err
			}
		}
	}
}

func (s *session) write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// read routes ack frames to s.acks until the socket fails.
func (s *session) read(conn *ws.Conn, errc chan<- error) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			errc <- err
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(msg, &ack); err != nil || ack.Type != "ack" {
			s.logger.Debug("Ignoring non-ack message", "raw", string(msg))
			continue
		}
		select {
		case s.acks <- ack:
		default:
			s.logger.Debug("Ack buffer full, dropping", "for", ack.For)
		}
	}
}

// redial reconnects with exponential backoff and replays the handshake.
// It returns nil when the session closes or every attempt failed.
func (s *session) redial() *ws.Conn {
	backoff := s.backoff
	for attempt := 1; attempt <= maxRedials; attempt++ {
		select {
		case <-s.done:
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)

		conn, err := s.dial(context.Background())
		if err != nil {
			s.logger.Warn("WebSocket redial failed", "attempt", attempt, "error", err)
			continue
		}

		s.mu.Lock()
		hs := s.handshake
		s.mu.Unlock()
		if hs != nil {
			if err := s.write(conn, hs); err != nil {
				s.logger.Warn("Handshake replay failed", "attempt", attempt, "error", err)
				_ = conn.Close()
				continue
			}
		}

		s.logger.Info("WebSocket reconnected", "attempt", attempt)
		return conn
	}

	s.logger.Error("WebSocket reconnect gave up", "attempts", maxRedials)
	s.mu.Lock()
	s.failed = fmt.Errorf("websocket reconnect failed after %d attempts", maxRedials)
	s.mu.Unlock()
	return nil
}

// setHandshake stores the frame replayed after every reconnect. nil clears it.
func (s *session) setHandshake(data []byte) {
	s.mu.Lock()
	s.handshake = data
	s.mu.Unlock()
}

func (s *session) hasHandshake() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshake != nil
}

// send queues data without waiting for it to be written.
func (s *session) send(data []byte) error {
	s.mu.Lock()
	closed, failed := s.closed || !s.running, s.failed
	s.mu.Unlock()
	if failed != nil {
		return failed
	}
	if closed {
		return errSessionClosed
	}

	select {
	case s.outbox <- data:
		return nil
	default:
		return errOutboxFull
	}
}

// request sends data and waits for the server to ack the given type.
func (s *session) request(data []byte, ackFor string, timeout time.Duration) error {
	if err := s.send(data); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-s.acks:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-s.done:
			return fmt.Errorf("session closed while waiting for ack of %q", ackFor)
		}
	}
}

// close stops the run loop, which sends a close frame on the way out.
func (s *session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	running := s.running
	close(s.done)
	s.mu.Unlock()

	if running {
		<-s.stopped
	}
	return nil
}
