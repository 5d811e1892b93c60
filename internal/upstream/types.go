package upstream

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// State is the upstream connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// TimestampedMessage wraps raw message data with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from the feed
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Update is one decoded market-data event: the symbol extracted from the
// channel string and the full inbound payload, forwarded verbatim.
type Update struct {
	Symbol     string
	Payload    []byte
	ReceivedAt time.Time
}

// subscribeRequest is the JSON-RPC subscribe request sent to the feed.
type subscribeRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  subscribeParams `json:"params"`
}

type subscribeParams struct {
	Channels []string `json:"channels"`
}

// inboundEnvelope is used to classify inbound feed messages: subscription
// notifications carry params.channel, request responses carry id+result.
type inboundEnvelope struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Params *struct {
		Channel string `json:"channel"`
	} `json:"params"`
}

// Config configures the upstream connector.
type Config struct {
	URL              string        // WebSocket URL (e.g., wss://test.deribit.com/ws/api/v2)
	Interval         string        // book channel interval segment, e.g. "100ms"
	HandshakeTimeout time.Duration // dial + TLS + WebSocket handshake deadline
	WriteTimeout     time.Duration // write deadline for sends
	PingInterval     time.Duration // keepalive ping cadence
	PingTimeout      time.Duration // max time without ping/pong before stale
	BufferSize       int           // inbound message channel capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:         "100ms",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		BufferSize:       10000,
	}
}
