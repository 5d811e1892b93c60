package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/api"
	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/auth"
	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/config"
	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/database"
	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/gateway"
	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/metrics"
	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/orders"
	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/recorder"
	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/registry"
	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/session"
	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/upstream"
	"github.com/Priyanshu-Gupta2101/deribit-trial/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.yaml", "path to config file")
	perfTest := flag.Bool("perf-test", false, "run the order round-trip latency test and exit")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"server_port", cfg.Server.Port,
		"upstream_url", cfg.Upstream.URL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	collector := metrics.NewCollector(logger)

	if *perfTest {
		os.Exit(runPerfTest(ctx, cfg, collector, logger))
	}

	// Optional archiver
	var archiver *recorder.Recorder
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Recorder.Database.Host,
			"port", cfg.Recorder.Database.Port,
			"database", cfg.Recorder.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Recorder.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		archiver = recorder.New(cfg.Recorder, pool, logger)
		if err := archiver.Start(ctx); err != nil {
			logger.Error("failed to start recorder", "error", err)
			os.Exit(1)
		}
	}

	// Upstream feed connector
	upstreamCfg := upstream.DefaultConfig()
	upstreamCfg.URL = cfg.Upstream.URL
	if cfg.Upstream.Interval != "" {
		upstreamCfg.Interval = cfg.Upstream.Interval
	}
	if cfg.Upstream.HandshakeTimeout > 0 {
		upstreamCfg.HandshakeTimeout = cfg.Upstream.HandshakeTimeout
	}
	if cfg.Upstream.WriteTimeout > 0 {
		upstreamCfg.WriteTimeout = cfg.Upstream.WriteTimeout
	}
	if cfg.Upstream.PingInterval > 0 {
		upstreamCfg.PingInterval = cfg.Upstream.PingInterval
	}
	if cfg.Upstream.PingTimeout > 0 {
		upstreamCfg.PingTimeout = cfg.Upstream.PingTimeout
	}
	if cfg.Upstream.BufferSize > 0 {
		upstreamCfg.BufferSize = cfg.Upstream.BufferSize
	}

	connector := upstream.NewConnector(upstreamCfg, nil, logger)

	// A feed outage at startup is not fatal: the relay still serves
	// downstream sessions, without market data.
	if err := connector.Start(ctx); err != nil {
		logger.Error("upstream feed unavailable, serving without market data", "error", err)
	}

	// Relay gateway
	sessionCfg := session.DefaultConfig()
	if cfg.Sessions.SendQueueSize > 0 {
		sessionCfg.SendQueueSize = cfg.Sessions.SendQueueSize
	}
	if cfg.Sessions.WriteTimeout > 0 {
		sessionCfg.WriteTimeout = cfg.Sessions.WriteTimeout
	}
	if cfg.Sessions.CloseTimeout > 0 {
		sessionCfg.CloseTimeout = cfg.Sessions.CloseTimeout
	}

	gatewayOpts := []gateway.Option{gateway.WithRecorder(collector)}
	if archiver != nil {
		gatewayOpts = append(gatewayOpts, gateway.WithArchiver(archiver))
	}

	gw := gateway.New(gateway.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Session: sessionCfg,
	}, registry.New(), connector, logger, gatewayOpts...)

	if err := gw.Start(ctx); err != nil {
		logger.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}

	// Health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler: createHealthHandler(gw, connector, archiver),
	}

	go func() {
		logger.Info("starting health server", "port", cfg.Server.HealthPort)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("relay running",
		"listen_addr", gw.Addr(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.HealthPort),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Sessions first, then the feed they consume, then the archiver
	// holding the last unflushed batch.
	gw.Stop(shutdownCtx)
	connector.Stop(shutdownCtx)
	if archiver != nil {
		archiver.Stop(shutdownCtx)
	}
	healthServer.Shutdown(shutdownCtx)

	collector.LogAll()

	logger.Info("relay stopped")
}

// runPerfTest authenticates, places and cancels a series of limit orders,
// and logs the per-operation latency distribution.
func runPerfTest(ctx context.Context, cfg *config.RelayConfig, collector *metrics.Collector, logger *slog.Logger) int {
	if cfg.Credentials.ClientID == "" {
		logger.Error("perf test requires credentials.client_id and client_secret")
		return 1
	}

	client := api.NewClient(
		cfg.Credentials.RestURL,
		api.WithLogger(logger),
		api.WithTimeout(30*time.Second),
		api.WithRetries(3, time.Second),
	)

	authenticator := auth.New(client, cfg.Credentials.ClientID, cfg.Credentials.ClientSecret, logger)
	if err := authenticator.Authenticate(ctx); err != nil {
		logger.Error("authentication failed", "error", err)
		return 1
	}

	trading := api.NewClient(
		cfg.Credentials.RestURL,
		api.WithLogger(logger),
		api.WithTokenSource(authenticator.TokenSource()),
	)
	manager := orders.New(trading, collector, logger)

	instrument := cfg.Trading.DefaultInstrument

	book, err := client.GetOrderBook(ctx, instrument, 1)
	if err != nil {
		logger.Error("failed to fetch order book", "error", err)
		return 1
	}

	// Rest far below the bid so nothing fills.
	price := book.BestBidPrice * 0.5
	logger.Info("running order latency test",
		"instrument", instrument,
		"price", price,
	)

	const rounds = 10
	for i := 0; i < rounds; i++ {
		order, err := manager.PlaceBuy(ctx, orders.Params{
			Instrument: instrument,
			Amount:     10,
			Price:      price,
		})
		if err != nil {
			logger.Error("order placement failed", "round", i, "error", err)
			return 1
		}

		if _, err := manager.Cancel(ctx, order.OrderID); err != nil {
			logger.Error("order cancel failed", "round", i, "error", err)
			return 1
		}
	}

	collector.LogAll()
	return 0
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(gw *gateway.Gateway, connector *upstream.Connector, archiver *recorder.Recorder) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		stats := gw.Stats()
		health.Components["gateway"] = map[string]interface{}{
			"sessions": stats.Sessions,
			"symbols":  stats.Symbols,
		}

		upstreamState := connector.State()
		health.Components["upstream"] = map[string]interface{}{
			"state":             upstreamState.String(),
			"requested_symbols": len(connector.RequestedSymbols()),
		}
		if upstreamState != upstream.StateConnected {
			health.Status = "degraded"
		}

		if archiver != nil {
			m := archiver.Stats()
			health.Components["recorder"] = map[string]interface{}{
				"inserts": m.Inserts,
				"drops":   m.Drops,
				"errors":  m.Errors,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
