package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 9100
upstream:
  url: wss://test.deribit.com/ws/api/v2
  interval: 100ms
trading:
  default_currency: BTC
  default_instrument: BTC-PERPETUAL
  supported_instruments:
    - BTC-PERPETUAL
    - ETH-PERPETUAL
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Upstream.URL != "wss://test.deribit.com/ws/api/v2" {
		t.Errorf("Upstream.URL = %q", cfg.Upstream.URL)
	}
	if len(cfg.Trading.SupportedInstruments) != 2 {
		t.Errorf("len(SupportedInstruments) = %d, want 2", len(cfg.Trading.SupportedInstruments))
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/relay.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [not: valid")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("RELAY_TEST_SECRET", "hunter2")

	path := writeTempConfig(t, `
credentials:
  client_id: abc
  client_secret: ${RELAY_TEST_SECRET}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Credentials.ClientSecret != "hunter2" {
		t.Errorf("ClientSecret = %q, want hunter2", cfg.Credentials.ClientSecret)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 9100
`)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100 (explicit value overridden)", cfg.Server.Port)
	}
	if cfg.Server.HealthPort != DefaultHealthPort {
		t.Errorf("Server.HealthPort = %d, want %d", cfg.Server.HealthPort, DefaultHealthPort)
	}
	if cfg.Upstream.URL != DefaultUpstreamURL {
		t.Errorf("Upstream.URL = %q, want %q", cfg.Upstream.URL, DefaultUpstreamURL)
	}
	if cfg.Upstream.Interval != DefaultBookInterval {
		t.Errorf("Upstream.Interval = %q, want %q", cfg.Upstream.Interval, DefaultBookInterval)
	}
	if cfg.Sessions.SendQueueSize != DefaultSendQueueSize {
		t.Errorf("Sessions.SendQueueSize = %d, want %d", cfg.Sessions.SendQueueSize, DefaultSendQueueSize)
	}
	if cfg.Sessions.CloseTimeout != DefaultCloseTimeout {
		t.Errorf("Sessions.CloseTimeout = %v, want %v", cfg.Sessions.CloseTimeout, DefaultCloseTimeout)
	}
}

func TestLoadWithDefaults_RecorderDisabled(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 9100
`)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if cfg.Recorder.Enabled {
		t.Error("recorder should be disabled by default")
	}
	if cfg.Recorder.BatchSize != 0 {
		t.Errorf("BatchSize = %d, want 0 (no defaults when disabled)", cfg.Recorder.BatchSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RelayConfig)
		wantErr string
	}{
		{
			name:    "valid",
			mutate:  func(c *RelayConfig) {},
			wantErr: "",
		},
		{
			name:    "bad port",
			mutate:  func(c *RelayConfig) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "health port collision",
			mutate:  func(c *RelayConfig) { c.Server.HealthPort = c.Server.Port },
			wantErr: "health_port",
		},
		{
			name:    "missing upstream url",
			mutate:  func(c *RelayConfig) { c.Upstream.URL = "" },
			wantErr: "upstream.url",
		},
		{
			name:    "non-websocket upstream url",
			mutate:  func(c *RelayConfig) { c.Upstream.URL = "https://test.deribit.com" },
			wantErr: "upstream.url",
		},
		{
			name:    "client id without secret",
			mutate:  func(c *RelayConfig) { c.Credentials.ClientID = "abc" },
			wantErr: "credentials",
		},
		{
			name: "recorder enabled without database",
			mutate: func(c *RelayConfig) {
				c.Recorder.Enabled = true
				c.Recorder.BatchSize = 100
				c.Recorder.BufferSize = 100
			},
			wantErr: "recorder.database.host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &RelayConfig{}
			cfg.applyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_DBConfig(t *testing.T) {
	db := DBConfig{
		Host:     "localhost",
		Port:     5432,
		Name:     "marketdata",
		User:     "relay",
		Password: "secret",
		MaxConns: 2,
		MinConns: 5,
	}
	err := db.validate("recorder.database")
	if err == nil || !strings.Contains(err.Error(), "min_conns") {
		t.Errorf("validate() = %v, want min_conns error", err)
	}
}

func TestDefaultDurations(t *testing.T) {
	cfg := &RelayConfig{}
	cfg.applyDefaults()

	if cfg.Upstream.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 10s", cfg.Upstream.HandshakeTimeout)
	}
	if cfg.Upstream.PingTimeout != 60*time.Second {
		t.Errorf("PingTimeout = %v, want 60s", cfg.Upstream.PingTimeout)
	}
}
