package config

import "time"

// Config holds bot configuration values.
type Config struct {
	Persona         string        `mapstructure:"persona" yaml:"persona"`
	RoomURL         string        `mapstructure:"room_url" yaml:"room_url"`
	Nick            string        `mapstructure:"nick" yaml:"nick"`
	DatabasePath    string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
	OpsAddr         string        `mapstructure:"ops_addr" yaml:"ops_addr"`
	ConnectAttempts int           `mapstructure:"connect_attempts" yaml:"connect_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval" yaml:"monitor_interval"`
	KeepaliveMargin time.Duration `mapstructure:"keepalive_margin" yaml:"keepalive_margin"`
	PlayGrace       time.Duration `mapstructure:"play_grace" yaml:"play_grace"`
	InboxSize       int           `mapstructure:"inbox_size" yaml:"inbox_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	Media           MediaConfig   `mapstructure:"media" yaml:"media"`
}

// MediaConfig configures the metadata lookup for queued links.
type MediaConfig struct {
	APIURL  string        `mapstructure:"api_url" yaml:"api_url"`
	APIKey  string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Persona:         "dj",
		RoomURL:         "wss://euphoria.io/room/music/ws",
		DatabasePath:    "wirechat-bot.db",
		LogLevel:        "info",
		OpsAddr:         "",
		ConnectAttempts: 5,
		RetryDelay:      time.Second,
		MonitorInterval: time.Second,
		KeepaliveMargin: 5 * time.Second,
		PlayGrace:       3 * time.Second,
		InboxSize:       64,
		ShutdownTimeout: 10 * time.Second,
		Media: MediaConfig{
			APIURL:  "https://www.googleapis.com/youtube/v3/videos",
			Timeout: 10 * time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Persona != "" {
		c.Persona = other.Persona
	}
	if other.RoomURL != "" {
		c.RoomURL = other.RoomURL
	}
	if other.Nick != "" {
		c.Nick = other.Nick
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.OpsAddr != "" {
		c.OpsAddr = other.OpsAddr
	}
	if other.ConnectAttempts != 0 {
		c.ConnectAttempts = other.ConnectAttempts
	}
	if other.RetryDelay != 0 {
		c.RetryDelay = other.RetryDelay
	}
	if other.MonitorInterval != 0 {
		c.MonitorInterval = other.MonitorInterval
	}
	if other.KeepaliveMargin != 0 {
		c.KeepaliveMargin = other.KeepaliveMargin
	}
	if other.PlayGrace != 0 {
		c.PlayGrace = other.PlayGrace
	}
	if other.InboxSize != 0 {
		c.InboxSize = other.InboxSize
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.Media.APIURL != "" {
		c.Media.APIURL = other.Media.APIURL
	}
	if other.Media.APIKey != "" {
		c.Media.APIKey = other.Media.APIKey
	}
	if other.Media.Timeout != 0 {
		c.Media.Timeout = other.Media.Timeout
	}
}

// Normalize clamps values the runtime depends on.
// The monitor must tick at least once per second.
func (c *Config) Normalize() {
	if c.MonitorInterval <= 0 || c.MonitorInterval > time.Second {
		c.MonitorInterval = time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 1
	}
	if c.ConnectAttempts < 0 {
		c.ConnectAttempts = 0
	}
}
