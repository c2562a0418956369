package config

import "time"

// Config is the root configuration for a moonbridge instance.
type Config struct {
	Printer    PrinterConfig    `yaml:"printer"`
	Transport  TransportConfig  `yaml:"transport"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Escalation EscalationConfig `yaml:"escalation"`
}

// PrinterConfig identifies the daemon to connect to.
type PrinterConfig struct {
	URL        string `yaml:"url"` // ws:// or wss:// endpoint of the daemon
	ClientName string `yaml:"client_name"`
}

// TransportConfig holds WebSocket transport settings.
type TransportConfig struct {
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	MaxFrameSize         int64         `yaml:"max_frame_size"`
	ReconnectMinDelay    time.Duration `yaml:"reconnect_min_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	DefaultTimeout       time.Duration `yaml:"default_timeout"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
}

// RecorderConfig holds status-archival settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
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

// EscalationConfig holds cancel-escalation settings.
type EscalationConfig struct {
	GraceWindow time.Duration `yaml:"grace_window"`
}
