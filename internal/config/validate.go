package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.HealthPort < 1 || c.Server.HealthPort > 65535 {
		return fmt.Errorf("server.health_port must be between 1 and 65535, got %d", c.Server.HealthPort)
	}
	if c.Server.HealthPort == c.Server.Port {
		return errors.New("server.health_port must differ from server.port")
	}

	if c.Upstream.URL == "" {
		return errors.New("upstream.url is required")
	}
	if !strings.HasPrefix(c.Upstream.URL, "ws://") && !strings.HasPrefix(c.Upstream.URL, "wss://") {
		return fmt.Errorf("upstream.url must be a ws:// or wss:// endpoint, got %q", c.Upstream.URL)
	}
	if c.Upstream.Interval == "" {
		return errors.New("upstream.interval is required")
	}
	if c.Upstream.BufferSize < 1 {
		return errors.New("upstream.buffer_size must be >= 1")
	}

	if c.Sessions.SendQueueSize < 1 {
		return errors.New("sessions.send_queue_size must be >= 1")
	}

	// Credentials are only required when one of them is set: the relay itself
	// never authenticates, only the order-management path does.
	if (c.Credentials.ClientID == "") != (c.Credentials.ClientSecret == "") {
		return errors.New("credentials.client_id and credentials.client_secret must be set together")
	}

	if c.Recorder.Enabled {
		if err := c.Recorder.Database.validate("recorder.database"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.BufferSize < 1 {
			return errors.New("recorder.buffer_size must be >= 1")
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
