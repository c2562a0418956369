package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Printer.URL == "" {
		return errors.New("printer.url is required")
	}
	if !strings.HasPrefix(c.Printer.URL, "ws://") && !strings.HasPrefix(c.Printer.URL, "wss://") {
		return fmt.Errorf("printer.url must be a ws:// or wss:// endpoint, got %q", c.Printer.URL)
	}

	if c.Transport.ReconnectMinDelay > c.Transport.ReconnectMaxDelay {
		return fmt.Errorf("transport.reconnect_min_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Transport.ReconnectMinDelay, c.Transport.ReconnectMaxDelay)
	}
	if c.Transport.MaxReconnectAttempts < 1 {
		return errors.New("transport.max_reconnect_attempts must be >= 1")
	}
	if c.Transport.MaxFrameSize < 1024 {
		return fmt.Errorf("transport.max_frame_size must be >= 1024, got %d", c.Transport.MaxFrameSize)
	}

	if c.Recorder.Enabled {
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.BufferSize < 1 {
			return errors.New("recorder.buffer_size must be >= 1")
		}
		if err := c.Recorder.Database.validate("recorder.database"); err != nil {
			return err
		}
	}

	if c.Escalation.GraceWindow <= 0 {
		return errors.New("escalation.grace_window must be positive")
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
