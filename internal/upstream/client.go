package upstream

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is the raw WebSocket transport to the exchange feed. A Client is
// single-use: once closed it cannot be reconnected.
type Client interface {
	// Connect establishes the connection, including TLS and the
	// WebSocket handshake.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send writes one text frame. Returns ErrNotConnected when no
	// connection is established.
	Send(data []byte) error

	// Messages returns a channel of raw inbound messages.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel of connection errors. At most one error
	// is reported; the transport is dead afterwards.
	Errors() <-chan error
}

type client struct {
	cfg    Config
	logger *slog.Logger

	messages chan TimestampedMessage
	errs     chan error
	done     chan struct{}

	// lastContact is the unix-nano time of the last ping or pong from
	// the peer, used for stale detection.
	lastContact atomic.Int64

	writeMu sync.Mutex // serializes data-frame writes

	mu     sync.Mutex
	conn   *websocket.Conn // nil until Connect succeeds
	closed bool
}

// NewClient creates a new feed transport client.
func NewClient(cfg Config, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", "deribit-relay-gateway")

	// Dialing a wss:// URL performs TLS with the system trust store.
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.touch()
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.heartbeatLoop(conn)

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn == nil {
		return nil
	}

	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

func (c *client) Send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if conn == nil || closed {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

func (c *client) Errors() <-chan error {
	return c.errs
}

// touch records peer liveness.
func (c *client) touch() {
	c.lastContact.Store(time.Now().UnixNano())
}

// fail reports a fatal transport error once. Errors after Close are noise
// and dropped.
func (c *client) fail(err error) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.errs <- err:
	default:
	}
}

// readLoop pulls inbound frames until the connection dies.
func (c *client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now() // capture before any queueing delay

		if err != nil {
			c.fail(err)
			return
		}

		msg := TimestampedMessage{Data: data, ReceivedAt: receivedAt}
		select {
		case c.messages <- msg:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping message")
		}
	}
}

// heartbeatLoop sends keepalive pings and reports a stale connection when
// the peer goes quiet for longer than PingTimeout.
func (c *client) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			quiet := time.Since(time.Unix(0, c.lastContact.Load()))
			if quiet > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale", "quiet", quiet)
				c.fail(ErrStaleConnection)
				return
			}
		}
	}
}
