package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// Connector maintains the single connection to the exchange feed and
// translates its inbound stream into (symbol, payload) events.
type Connector struct {
	cfg    Config
	client Client
	logger *slog.Logger

	updates chan Update
	state   atomic.Int32
	nextID  atomic.Int64

	// Symbols already requested from the feed, retained across a
	// disconnect so a future reconnect could replay them. pending holds
	// symbols whose subscribe request is in flight, so concurrent
	// first-subscribes send at most one request without serializing
	// behind the network write.
	reqMu     sync.Mutex
	requested map[string]struct{}
	pending   map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConnector creates an upstream connector. A nil client gets the real
// WebSocket transport; tests inject a fake.
func NewConnector(cfg Config, client Client, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = NewClient(cfg, logger)
	}

	return &Connector{
		cfg:       cfg,
		client:    client,
		logger:    logger,
		updates:   make(chan Update, cfg.BufferSize),
		requested: make(map[string]struct{}),
		pending:   make(map[string]struct{}),
	}
}

// Start connects to the feed and begins the read loop. A handshake
// failure leaves the connector Disconnected; the caller decides whether
// that is fatal.
func (c *Connector) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.setState(StateConnecting)
	c.logger.Info("connecting to upstream feed", "url", c.cfg.URL)

	c.setState(StateHandshaking)
	if err := c.client.Connect(c.ctx); err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("upstream handshake: %w", err)
	}

	c.setState(StateConnected)
	c.logger.Info("upstream feed connected", "url", c.cfg.URL)

	c.wg.Add(1)
	go c.readLoop()

	return nil
}

// Stop closes the feed connection and waits for the read loop to drain.
// The Updates channel is closed once the loop exits.
func (c *Connector) Stop(ctx context.Context) error {
	c.logger.Info("stopping upstream connector")

	if c.cancel != nil {
		c.cancel()
	}
	c.client.Close()
	c.setState(StateDisconnected)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("upstream connector stop timed out")
	}

	// The read loop is the only sender on updates; never close the
	// channel out from under it, even after a timed-out wait.
	c.wg.Wait()
	close(c.updates)
	c.logger.Info("upstream connector stopped")
	return nil
}

// Updates returns the channel of decoded market-data events.
func (c *Connector) Updates() <-chan Update {
	return c.updates
}

// State returns the current connection state.
func (c *Connector) State() State {
	return State(c.state.Load())
}

func (c *Connector) setState(s State) {
	c.state.Store(int32(s))
}

// EnsureSubscribed issues an upstream subscribe request for symbol unless
// one was already sent or is in flight. The feed tolerates duplicate
// subscribe requests, but repeated downstream subscribes must not turn
// into an upstream storm. The network send runs outside the lock; a
// failed send rolls the symbol back so a later subscribe retries it.
func (c *Connector) EnsureSubscribed(symbol string) error {
	c.reqMu.Lock()
	if _, ok := c.requested[symbol]; ok {
		c.reqMu.Unlock()
		return nil
	}
	if _, ok := c.pending[symbol]; ok {
		// Another caller's request is in flight.
		c.reqMu.Unlock()
		return nil
	}
	if c.State() != StateConnected {
		c.reqMu.Unlock()
		c.logger.Warn("cannot subscribe upstream: not connected", "symbol", symbol)
		return ErrNotConnected
	}
	c.pending[symbol] = struct{}{}
	c.reqMu.Unlock()

	req := subscribeRequest{
		Jsonrpc: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "public/subscribe",
		Params: subscribeParams{
			Channels: []string{"book." + symbol + "." + c.cfg.Interval},
		},
	}

	data, err := json.Marshal(req)
	if err == nil {
		err = c.client.Send(data)
	}

	c.reqMu.Lock()
	delete(c.pending, symbol)
	if err == nil {
		c.requested[symbol] = struct{}{}
	}
	c.reqMu.Unlock()

	if err != nil {
		return fmt.Errorf("subscribe request: %w", err)
	}

	c.logger.Info("subscribed upstream", "symbol", symbol, "id", req.ID)
	return nil
}

// RequestedSymbols returns the symbols subscribed on the feed so far.
func (c *Connector) RequestedSymbols() []string {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	symbols := make([]string, 0, len(c.requested))
	for s := range c.requested {
		symbols = append(symbols, s)
	}
	return symbols
}

// readLoop decodes inbound feed messages until the connection fails or the
// connector stops. There is no automatic reconnect: a feed failure leaves
// the relay serving existing sessions without new data.
func (c *Connector) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return

		case err := <-c.client.Errors():
			c.setState(StateDisconnected)
			c.logger.Error("upstream feed connection lost, market data halted",
				"error", err,
				"subscribed_symbols", len(c.RequestedSymbols()),
			)
			return

		case msg, ok := <-c.client.Messages():
			if !ok {
				return
			}
			c.handleMessage(msg)
		}
	}
}

// handleMessage classifies one inbound frame and emits an Update for
// market-data notifications.
func (c *Connector) handleMessage(msg TimestampedMessage) {
	var env inboundEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		c.logger.Warn("failed to parse upstream message", "error", err)
		return
	}

	switch {
	case env.Params != nil && env.Params.Channel != "":
		symbol, ok := symbolFromChannel(env.Params.Channel)
		if !ok {
			c.logger.Warn("unexpected channel format", "channel", env.Params.Channel)
			return
		}

		update := Update{
			Symbol:     symbol,
			Payload:    msg.Data,
			ReceivedAt: msg.ReceivedAt,
		}

		// Never block ingestion on a slow consumer.
		select {
		case c.updates <- update:
		default:
			c.logger.Warn("update buffer full, dropping update", "symbol", symbol)
		}

	case env.ID != nil && env.Result != nil:
		c.logger.Debug("upstream request response", "id", *env.ID)

	default:
		c.logger.Warn("unrecognized upstream message shape", "len", len(msg.Data))
	}
}

// symbolFromChannel extracts the symbol from a channel string of the form
// "book.<symbol>.<interval>".
func symbolFromChannel(channel string) (string, bool) {
	parts := strings.SplitN(channel, ".", 3)
	if len(parts) != 3 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
