package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultClientName           = "moonbridge"
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultMaxFrameSize         = 5 * 1024 * 1024
	DefaultReconnectMinDelay    = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultRequestTimeout       = 30 * time.Second
	DefaultSweepInterval        = 1 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 5 * time.Second
	DefaultBufferSize           = 4096
	DefaultGraceWindow          = 10 * time.Second
)

func (c *Config) applyDefaults() {
	if c.Printer.ClientName == "" {
		c.Printer.ClientName = DefaultClientName
	}

	// Transport defaults
	if c.Transport.HandshakeTimeout == 0 {
		c.Transport.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Transport.WriteTimeout == 0 {
		c.Transport.WriteTimeout = DefaultWriteTimeout
	}
	if c.Transport.MaxFrameSize == 0 {
		c.Transport.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.Transport.ReconnectMinDelay == 0 {
		c.Transport.ReconnectMinDelay = DefaultReconnectMinDelay
	}
	if c.Transport.ReconnectMaxDelay == 0 {
		c.Transport.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Transport.MaxReconnectAttempts == 0 {
		c.Transport.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Transport.DefaultTimeout == 0 {
		c.Transport.DefaultTimeout = DefaultRequestTimeout
	}
	if c.Transport.SweepInterval == 0 {
		c.Transport.SweepInterval = DefaultSweepInterval
	}

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}
	if c.Recorder.Enabled {
		applyDBDefaults(&c.Recorder.Database)
	}

	// Escalation defaults
	if c.Escalation.GraceWindow == 0 {
		c.Escalation.GraceWindow = DefaultGraceWindow
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
