package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/registry"
	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/session"
	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/upstream"
)

// MarketFeed is the slice of the upstream connector the gateway needs.
type MarketFeed interface {
	// EnsureSubscribed requests symbol from the feed, at most once.
	EnsureSubscribed(symbol string) error

	// Updates returns the stream of decoded market-data events.
	Updates() <-chan upstream.Update
}

// Recorder measures the latency of named operations. The gateway treats
// it as optional: a nil recorder changes nothing.
type Recorder interface {
	Start(opID string)
	End(opID string)
}

// Archiver persists relayed updates. Optional, like Recorder.
type Archiver interface {
	Record(symbol string, payload []byte, receivedAt time.Time)
}

// Config holds gateway settings.
type Config struct {
	Host    string // listen address for downstream connections
	Port    int
	Session session.Config
}

// Stats reports gateway state for health checks.
type Stats struct {
	Sessions int
	Symbols  int
}

// command is the downstream control frame.
type command struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
}

// Gateway accepts downstream WebSocket connections, tracks their
// subscriptions in the registry, and fans upstream updates out to the
// sessions that asked for them. It owns the canonical session table;
// the registry holds session identities only.
type Gateway struct {
	cfg      Config
	registry *registry.Registry
	feed     MarketFeed
	logger   *slog.Logger

	recorder Recorder
	archiver Archiver

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	mu       sync.Mutex
	sessions map[uuid.UUID]*session.Session
	stopping bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRecorder attaches a latency recorder to the broadcast path.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// WithArchiver attaches an update archiver to the relay path.
func WithArchiver(a Archiver) Option {
	return func(g *Gateway) { g.archiver = a }
}

// New creates a relay gateway.
func New(cfg Config, reg *registry.Registry, feed MarketFeed, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		cfg:      cfg,
		registry: reg,
		feed:     feed,
		logger:   logger,
		upgrader: websocket.Upgrader{
			// The relay does not authenticate downstream clients.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[uuid.UUID]*session.Session),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Start binds the listening port and launches the accept and relay loops.
// A bind failure is returned to the caller and is fatal to startup.
func (g *Gateway) Start(ctx context.Context) error {
	g.ctx, g.cancel = context.WithCancel(ctx)

	addr := fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	g.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", g.handleUpgrade)
	g.server = &http.Server{Handler: mux}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway server error", "error", err)
		}
	}()

	g.wg.Add(1)
	go g.relayLoop()

	g.logger.Info("relay gateway listening", "addr", listener.Addr().String())

	return nil
}

// Addr returns the bound listen address. Valid after Start.
func (g *Gateway) Addr() string {
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Stop shuts the gateway down: the accept loop first, so no new work is
// admitted, then every session, then the relay worker. The upstream
// connector is stopped by the caller after Stop returns, so no session
// outlives the update stream it depends on.
func (g *Gateway) Stop(ctx context.Context) error {
	g.logger.Info("stopping relay gateway")

	g.mu.Lock()
	g.stopping = true
	snapshot := make([]*session.Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		snapshot = append(snapshot, s)
	}
	g.mu.Unlock()

	// No further accepts. Upgraded connections are hijacked from the
	// HTTP server, so sessions are closed explicitly below.
	if g.server != nil {
		g.server.Close()
	}

	var cwg sync.WaitGroup
	for _, s := range snapshot {
		cwg.Add(1)
		go func(s *session.Session) {
			defer cwg.Done()
			s.Close()
		}(s)
	}
	cwg.Wait()

	if g.cancel != nil {
		g.cancel()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Info("relay gateway stopped")
	case <-ctx.Done():
		g.logger.Warn("relay gateway stop timed out")
	}

	return nil
}

// Stats returns current session and subscription counts.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	sessions := len(g.sessions)
	g.mu.Unlock()

	return Stats{
		Sessions: sessions,
		Symbols:  len(g.registry.Symbols()),
	}
}

// handleUpgrade accepts one downstream connection and starts its session.
func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := session.New(conn, g.cfg.Session, g.logger)

	// Register and start under one guard: once Stop has snapshotted the
	// table, no session may be added or started behind its back.
	g.mu.Lock()
	if g.stopping {
		g.mu.Unlock()
		conn.Close()
		return
	}
	g.sessions[sess.ID()] = sess
	total := len(g.sessions)
	sess.Start(g.handleClientMessage, g.removeSession)
	g.mu.Unlock()

	g.logger.Info("new downstream connection",
		"remote", r.RemoteAddr,
		"session", sess.ID(),
		"total_sessions", total,
	)
}

// handleClientMessage parses one control frame from a downstream session.
// Malformed frames and unknown actions are dropped; the connection stays
// open and usable.
func (g *Gateway) handleClientMessage(s *session.Session, data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		g.logger.Warn("failed to parse client message",
			"session", s.ID(),
			"error", err,
		)
		return
	}

	switch cmd.Action {
	case "subscribe":
		g.logger.Info("client subscribing", "session", s.ID(), "symbol", cmd.Symbol)
		// Registry first: the session must be routable before the feed
		// can deliver its first update.
		g.registry.Subscribe(s.ID(), cmd.Symbol)
		if err := g.feed.EnsureSubscribed(cmd.Symbol); err != nil {
			g.logger.Warn("upstream subscribe failed",
				"symbol", cmd.Symbol,
				"error", err,
			)
		}

	case "unsubscribe":
		g.logger.Info("client unsubscribing", "session", s.ID(), "symbol", cmd.Symbol)
		// The feed subscription is kept even when the last downstream
		// subscriber leaves.
		g.registry.Unsubscribe(s.ID(), cmd.Symbol)

	default:
		g.logger.Warn("unknown action in client message",
			"session", s.ID(),
			"action", cmd.Action,
		)
	}
}

// removeSession purges a closed session from the session table and from
// every subscription set. Session closure is the only event that mutates
// the registry on a session's behalf.
func (g *Gateway) removeSession(s *session.Session) {
	g.mu.Lock()
	delete(g.sessions, s.ID())
	remaining := len(g.sessions)
	g.mu.Unlock()

	g.registry.RemoveSession(s.ID())

	g.logger.Info("downstream connection closed",
		"session", s.ID(),
		"total_sessions", remaining,
	)
}

// relayLoop consumes feed updates and broadcasts each one.
func (g *Gateway) relayLoop() {
	defer g.wg.Done()

	for {
		select {
		case <-g.ctx.Done():
			return
		case update, ok := <-g.feed.Updates():
			if !ok {
				return
			}
			if g.archiver != nil {
				g.archiver.Record(update.Symbol, update.Payload, update.ReceivedAt)
			}
			g.Broadcast(update.Symbol, update.Payload)
		}
	}
}

// Broadcast delivers payload to every session currently subscribed to
// symbol. Deliveries are independent non-blocking enqueues: one slow or
// closed session never delays the others. A session that closed after
// the snapshot was taken is a silent no-op.
func (g *Gateway) Broadcast(symbol string, payload []byte) {
	if g.recorder != nil {
		g.recorder.Start("message_broadcast")
		defer g.recorder.End("message_broadcast")
	}

	ids := g.registry.SubscribersOf(symbol)
	if len(ids) == 0 {
		return
	}

	g.mu.Lock()
	recipients := make([]*session.Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := g.sessions[id]; ok {
			recipients = append(recipients, s)
		}
	}
	g.mu.Unlock()

	for _, s := range recipients {
		s.Send(payload)
	}

	g.logger.Debug("broadcast update",
		"symbol", symbol,
		"subscribers", len(recipients),
	)
}
