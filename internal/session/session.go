// Package session implements one accepted downstream WebSocket connection:
// its identity, its serialized write path, and its close lifecycle.
package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the session lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is the subset of *websocket.Conn a session uses. Tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Config holds per-session settings.
type Config struct {
	SendQueueSize int           // outbound queue capacity
	WriteTimeout  time.Duration // deadline for each frame write
	CloseTimeout  time.Duration // bounded wait for the peer's close ack
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendQueueSize: 256,
		WriteTimeout:  5 * time.Second,
		CloseTimeout:  5 * time.Second,
	}
}

// MessageHandler receives inbound text frames in arrival order.
type MessageHandler func(s *Session, data []byte)

// CloseHandler is invoked exactly once, after the session reaches Closed.
// The owner uses it to purge the session from its tables.
type CloseHandler func(s *Session)

// Session owns a downstream connection. All writes go through Send, which
// enqueues onto a buffered channel drained by a single write goroutine, so
// concurrent broadcast producers never interleave frames. The transport is
// owned exclusively by the session; no other component touches it.
type Session struct {
	id     uuid.UUID
	conn   Conn
	cfg    Config
	logger *slog.Logger

	onMessage MessageHandler
	onClose   CloseHandler

	outbound chan []byte
	quit     chan struct{} // stops the write loop
	readDone chan struct{} // closed when the read loop exits
	done     chan struct{} // closed when the session is fully closed

	state     atomic.Int32
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New wraps an accepted connection in a Session in the Connecting state.
func New(conn Conn, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.New()
	return &Session{
		id:       id,
		conn:     conn,
		cfg:      cfg,
		logger:   logger.With("session", id),
		outbound: make(chan []byte, cfg.SendQueueSize),
		quit:     make(chan struct{}),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the session's stable identity.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session is fully closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start transitions the session to Open and launches its read and write
// loops. onMessage receives inbound frames in order; onClose fires once
// after the session closes, whatever the cause.
func (s *Session) Start(onMessage MessageHandler, onClose CloseHandler) {
	s.onMessage = onMessage
	s.onClose = onClose
	s.state.Store(int32(StateOpen))

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()

	s.logger.Debug("session started")
}

// Send enqueues a frame for delivery and returns immediately. Sending on
// a session that is closing or closed is a silent no-op. A full queue
// drops the frame: a slow client must not stall broadcast producers.
func (s *Session) Send(payload []byte) {
	if s.State() != StateOpen {
		return
	}

	select {
	case s.outbound <- payload:
	default:
		s.logger.Warn("send queue full, dropping frame", "len", len(payload))
	}
}

// Close initiates a graceful shutdown: no new sends are accepted, a close
// frame is written, and the peer's close ack is awaited up to CloseTimeout
// before the transport is force-closed. Safe to call from any goroutine,
// any number of times.
func (s *Session) Close() {
	s.closeOnce.Do(s.shutdown)
}

func (s *Session) shutdown() {
	s.state.Store(int32(StateClosing))
	s.logger.Debug("closing session")

	// Ask the peer to close. Errors are expected when the transport is
	// already gone.
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)

	// Bounded wait for the read loop to observe the peer's close frame.
	select {
	case <-s.readDone:
	case <-time.After(s.cfg.CloseTimeout):
		s.logger.Warn("close ack timeout, forcing transport close")
	}

	close(s.quit)
	s.conn.Close()

	// The transport is closed, so both loops unblock promptly.
	s.wg.Wait()

	s.state.Store(int32(StateClosed))
	s.logger.Debug("session closed")

	if s.onClose != nil {
		s.onClose(s)
	}
	close(s.done)
}

// readLoop delivers inbound frames until the connection fails or closes.
// Any read error drives the session to Closing; reads are never retried.
func (s *Session) readLoop() {
	defer s.wg.Done()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			close(s.readDone)
			if s.State() == StateOpen {
				s.logger.Debug("session read ended", "error", err)
				// Run the close sequence off this goroutine: shutdown
				// waits for the loops to exit.
				go s.Close()
			}
			return
		}

		if s.onMessage != nil {
			s.onMessage(s, data)
		}
	}
}

// writeLoop is the only goroutine that writes data frames to the transport.
func (s *Session) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.quit:
			return
		case payload := <-s.outbound:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if s.State() == StateOpen {
					s.logger.Warn("session write failed", "error", err)
					go s.Close()
				}
				return
			}
		}
	}
}
