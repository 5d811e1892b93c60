package gateway

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/registry"
	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/session"
	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/upstream"
)

// fakeFeed is an in-memory MarketFeed.
type fakeFeed struct {
	mu         sync.Mutex
	subscribed []string
	subErr     error

	updates chan upstream.Update
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{updates: make(chan upstream.Update, 100)}
}

func (f *fakeFeed) EnsureSubscribed(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.subscribed = append(f.subscribed, symbol)
	return nil
}

func (f *fakeFeed) Updates() <-chan upstream.Update { return f.updates }

func (f *fakeFeed) subscribedSymbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.subscribed))
	copy(out, f.subscribed)
	return out
}

func (f *fakeFeed) push(symbol, payload string) {
	f.updates <- upstream.Update{
		Symbol:     symbol,
		Payload:    []byte(payload),
		ReceivedAt: time.Now(),
	}
}

// countingRecorder counts Start/End calls on the broadcast path.
type countingRecorder struct {
	starts atomic.Int64
	ends   atomic.Int64
}

func (r *countingRecorder) Start(string) { r.starts.Add(1) }
func (r *countingRecorder) End(string)   { r.ends.Add(1) }

func testGatewayConfig() Config {
	return Config{
		Host:    "127.0.0.1",
		Port:    0, // let the OS pick
		Session: session.DefaultConfig(),
	}
}

func startGateway(t *testing.T) (*Gateway, *fakeFeed) {
	t.Helper()

	feed := newFakeFeed()
	g := New(testGatewayConfig(), registry.New(), feed, nil)

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		g.Stop(stopCtx)
	})

	return g, feed
}

func dialGateway(t *testing.T, g *Gateway) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+g.Addr(), nil)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, symbol string) {
	t.Helper()
	sendCommand(t, conn, "subscribe", symbol)
}

func sendCommand(t *testing.T, conn *websocket.Conn, action, symbol string) {
	t.Helper()
	msg, _ := json.Marshal(map[string]string{"action": action, "symbol": symbol})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write %s command: %v", action, err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) ([]byte, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	return data, err
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestGateway_BindFailure(t *testing.T) {
	first, _ := startGateway(t)

	// Bind the same port a second time.
	occupied := first.listener.Addr().(*net.TCPAddr).Port
	second := New(Config{Host: "127.0.0.1", Port: occupied, Session: session.DefaultConfig()},
		registry.New(), newFakeFeed(), nil)

	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail on an occupied port")
	}
}

func TestGateway_SubscribedClientReceivesUpdate(t *testing.T) {
	g, feed := startGateway(t)
	conn := dialGateway(t, g)

	subscribe(t, conn, "BTC-PERPETUAL")

	if !waitFor(t, 2*time.Second, func() bool {
		return len(feed.subscribedSymbols()) == 1
	}) {
		t.Fatal("upstream subscribe never triggered")
	}

	payload := `{"params":{"channel":"book.BTC-PERPETUAL.100ms","data":{"bids":[[60000,2]]}}}`
	feed.push("BTC-PERPETUAL", payload)

	got, err := readFrame(t, conn, 2*time.Second)
	if err != nil {
		t.Fatalf("read update: %v", err)
	}
	if string(got) != payload {
		t.Errorf("payload = %s, want %s", got, payload)
	}
}

func TestGateway_UpdateFansOutToAllSubscribers(t *testing.T) {
	g, feed := startGateway(t)

	first := dialGateway(t, g)
	second := dialGateway(t, g)

	subscribe(t, first, "ETH-PERPETUAL")
	subscribe(t, second, "ETH-PERPETUAL")

	if !waitFor(t, 2*time.Second, func() bool {
		return len(feed.subscribedSymbols()) >= 1 && g.Stats().Sessions == 2
	}) {
		t.Fatal("subscriptions never registered")
	}

	payload := `{"params":{"channel":"book.ETH-PERPETUAL.100ms","data":{"asks":[[3000,7]]}}}`
	feed.push("ETH-PERPETUAL", payload)

	// One update, every subscriber: each client gets its own verbatim copy.
	for name, conn := range map[string]*websocket.Conn{"first": first, "second": second} {
		got, err := readFrame(t, conn, 2*time.Second)
		if err != nil {
			t.Fatalf("%s subscriber read: %v", name, err)
		}
		if string(got) != payload {
			t.Errorf("%s subscriber payload = %s, want %s", name, got, payload)
		}
	}
}

func TestGateway_UnsubscribedClientReceivesNothing(t *testing.T) {
	g, feed := startGateway(t)

	subBTC := dialGateway(t, g)
	subETH := dialGateway(t, g)

	subscribe(t, subBTC, "BTC-PERPETUAL")
	subscribe(t, subETH, "ETH-PERPETUAL")

	if !waitFor(t, 2*time.Second, func() bool {
		return len(feed.subscribedSymbols()) == 2
	}) {
		t.Fatal("upstream subscribes never triggered")
	}

	feed.push("BTC-PERPETUAL", `{"sym":"btc"}`)

	if _, err := readFrame(t, subBTC, 2*time.Second); err != nil {
		t.Fatalf("BTC subscriber read: %v", err)
	}

	// The ETH subscriber must see nothing for the BTC update.
	if data, err := readFrame(t, subETH, 200*time.Millisecond); err == nil {
		t.Errorf("ETH subscriber unexpectedly received: %s", data)
	}
}

func TestGateway_UnsubscribeStopsDelivery(t *testing.T) {
	g, feed := startGateway(t)
	conn := dialGateway(t, g)

	subscribe(t, conn, "BTC-PERPETUAL")
	if !waitFor(t, 2*time.Second, func() bool {
		return len(feed.subscribedSymbols()) == 1
	}) {
		t.Fatal("upstream subscribe never triggered")
	}

	feed.push("BTC-PERPETUAL", `{"n":1}`)
	if _, err := readFrame(t, conn, 2*time.Second); err != nil {
		t.Fatalf("read first update: %v", err)
	}

	sendCommand(t, conn, "unsubscribe", "BTC-PERPETUAL")
	if !waitFor(t, 2*time.Second, func() bool {
		return g.Stats().Symbols == 0
	}) {
		t.Fatal("unsubscribe never applied")
	}

	feed.push("BTC-PERPETUAL", `{"n":2}`)
	if data, err := readFrame(t, conn, 200*time.Millisecond); err == nil {
		t.Errorf("received update after unsubscribe: %s", data)
	}
}

func TestGateway_MalformedMessageKeepsSessionUsable(t *testing.T) {
	g, feed := startGateway(t)
	conn := dialGateway(t, g)

	// Garbage, then an unknown action, then a valid subscribe.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	sendCommand(t, conn, "resubscribe", "BTC-PERPETUAL")
	subscribe(t, conn, "BTC-PERPETUAL")

	if !waitFor(t, 2*time.Second, func() bool {
		return len(feed.subscribedSymbols()) == 1
	}) {
		t.Fatal("subscribe after malformed input never applied")
	}

	feed.push("BTC-PERPETUAL", `{"ok":true}`)
	if _, err := readFrame(t, conn, 2*time.Second); err != nil {
		t.Fatalf("session unusable after malformed input: %v", err)
	}
}

func TestGateway_DisconnectPurgesSession(t *testing.T) {
	g, feed := startGateway(t)

	stayer := dialGateway(t, g)
	leaver := dialGateway(t, g)

	subscribe(t, stayer, "BTC-PERPETUAL")
	subscribe(t, leaver, "BTC-PERPETUAL")

	if !waitFor(t, 2*time.Second, func() bool {
		return g.Stats().Sessions == 2
	}) {
		t.Fatal("sessions never registered")
	}

	leaver.Close()

	if !waitFor(t, 2*time.Second, func() bool {
		return g.Stats().Sessions == 1
	}) {
		t.Fatal("closed session never purged")
	}

	// Delivery to the survivor is unaffected.
	feed.push("BTC-PERPETUAL", `{"still":"here"}`)
	if _, err := readFrame(t, stayer, 2*time.Second); err != nil {
		t.Fatalf("surviving session read: %v", err)
	}
}

func TestGateway_ConnectionsRacingStopLeaveNoSession(t *testing.T) {
	feed := newFakeFeed()
	g := New(testGatewayConfig(), registry.New(), feed, nil)
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	addr := g.Addr()

	// Hammer the accept path while Stop runs. Dials may fail once the
	// listener is gone; any that succeed must end up closed and purged.
	var dialers sync.WaitGroup
	for i := 0; i < 8; i++ {
		dialers.Add(1)
		go func() {
			defer dialers.Done()
			for j := 0; j < 10; j++ {
				conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr, nil)
				if err != nil {
					return
				}
				conn.Close()
			}
		}()
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	g.Stop(stopCtx)
	dialers.Wait()

	if !waitFor(t, 2*time.Second, func() bool {
		return g.Stats().Sessions == 0
	}) {
		t.Errorf("Sessions = %d after Stop, want 0", g.Stats().Sessions)
	}
}

func TestGateway_UpstreamSubscribeFailureKeepsRegistryEntry(t *testing.T) {
	g, feed := startGateway(t)
	feed.subErr = upstream.ErrNotConnected

	conn := dialGateway(t, g)
	subscribe(t, conn, "BTC-PERPETUAL")

	// The registry entry survives the upstream failure, so a later
	// update for the symbol still reaches the client.
	if !waitFor(t, 2*time.Second, func() bool {
		return g.Stats().Symbols == 1
	}) {
		t.Fatal("registry entry missing after upstream failure")
	}

	feed.push("BTC-PERPETUAL", `{"late":"data"}`)
	if _, err := readFrame(t, conn, 2*time.Second); err != nil {
		t.Fatalf("read update: %v", err)
	}
}

func TestGateway_BroadcastTimed(t *testing.T) {
	rec := &countingRecorder{}
	feed := newFakeFeed()
	g := New(testGatewayConfig(), registry.New(), feed, nil, WithRecorder(rec))

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		g.Stop(ctx)
	}()

	conn := dialGateway(t, g)
	subscribe(t, conn, "BTC-PERPETUAL")
	if !waitFor(t, 2*time.Second, func() bool {
		return len(feed.subscribedSymbols()) == 1
	}) {
		t.Fatal("upstream subscribe never triggered")
	}

	feed.push("BTC-PERPETUAL", `{"x":1}`)
	if _, err := readFrame(t, conn, 2*time.Second); err != nil {
		t.Fatalf("read update: %v", err)
	}

	if !waitFor(t, time.Second, func() bool {
		return rec.ends.Load() >= 1
	}) {
		t.Errorf("broadcast never measured: starts=%d ends=%d", rec.starts.Load(), rec.ends.Load())
	}
}
