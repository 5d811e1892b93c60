package config

import "time"

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Trading     TradingConfig     `yaml:"trading"`
	Recorder    RecorderConfig    `yaml:"recorder"`
}

// ServerConfig holds the downstream WebSocket listener settings.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	HealthPort int    `yaml:"health_port"`
}

// UpstreamConfig holds the exchange feed connection settings.
type UpstreamConfig struct {
	// URL is the WebSocket endpoint of the exchange feed
	// (e.g., wss://test.deribit.com/ws/api/v2).
	URL              string        `yaml:"url"`
	Interval         string        `yaml:"interval"` // book channel interval, e.g. "100ms"
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
}

// SessionsConfig holds per-session settings for downstream connections.
type SessionsConfig struct {
	SendQueueSize int           `yaml:"send_queue_size"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	CloseTimeout  time.Duration `yaml:"close_timeout"`
}

// CredentialsConfig holds the exchange API credentials used by the
// order-management path. The relay itself never needs them.
type CredentialsConfig struct {
	RestURL      string `yaml:"rest_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// TradingConfig holds instrument defaults for the order-management path.
type TradingConfig struct {
	DefaultCurrency      string   `yaml:"default_currency"`
	DefaultInstrument    string   `yaml:"default_instrument"`
	SupportedInstruments []string `yaml:"supported_instruments"`
}

// RecorderConfig holds the optional market-data archiver settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
