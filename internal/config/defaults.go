package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerHost       = "0.0.0.0"
	DefaultServerPort       = 9000
	DefaultHealthPort       = 8080
	DefaultUpstreamURL      = "wss://test.deribit.com/ws/api/v2"
	DefaultRestURL          = "https://test.deribit.com/api/v2"
	DefaultBookInterval     = "100ms"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultUpstreamBuffer   = 10000
	DefaultSendQueueSize    = 256
	DefaultCloseTimeout     = 5 * time.Second
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 10
	DefaultMinConns         = 2
	DefaultBatchSize        = 1000
	DefaultFlushInterval    = 1 * time.Second
	DefaultRecorderBuffer   = 10000
)

func (c *RelayConfig) applyDefaults() {
	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.HealthPort == 0 {
		c.Server.HealthPort = DefaultHealthPort
	}

	// Upstream defaults
	if c.Upstream.URL == "" {
		c.Upstream.URL = DefaultUpstreamURL
	}
	if c.Upstream.Interval == "" {
		c.Upstream.Interval = DefaultBookInterval
	}
	if c.Upstream.HandshakeTimeout == 0 {
		c.Upstream.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Upstream.WriteTimeout == 0 {
		c.Upstream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Upstream.PingInterval == 0 {
		c.Upstream.PingInterval = DefaultPingInterval
	}
	if c.Upstream.PingTimeout == 0 {
		c.Upstream.PingTimeout = DefaultPingTimeout
	}
	if c.Upstream.BufferSize == 0 {
		c.Upstream.BufferSize = DefaultUpstreamBuffer
	}

	// Session defaults
	if c.Sessions.SendQueueSize == 0 {
		c.Sessions.SendQueueSize = DefaultSendQueueSize
	}
	if c.Sessions.WriteTimeout == 0 {
		c.Sessions.WriteTimeout = DefaultWriteTimeout
	}
	if c.Sessions.CloseTimeout == 0 {
		c.Sessions.CloseTimeout = DefaultCloseTimeout
	}

	// Credentials defaults
	if c.Credentials.RestURL == "" {
		c.Credentials.RestURL = DefaultRestURL
	}

	// Recorder defaults
	if c.Recorder.Enabled {
		applyDBDefaults(&c.Recorder.Database)
		if c.Recorder.BatchSize == 0 {
			c.Recorder.BatchSize = DefaultBatchSize
		}
		if c.Recorder.FlushInterval == 0 {
			c.Recorder.FlushInterval = DefaultFlushInterval
		}
		if c.Recorder.BufferSize == 0 {
			c.Recorder.BufferSize = DefaultRecorderBuffer
		}
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
