package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for NoteLive.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Notify     NotifyConfig     `yaml:"notify"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     HealthConfig     `yaml:"health"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig contains the WebSocket gateway settings.
type ServerConfig struct {
	ListenAddress  string        `yaml:"listen_address"`
	WSPath         string        `yaml:"ws_path"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
}

// AuthConfig contains JWT verification settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Leeway    time.Duration `yaml:"leeway"`
}

// NotifyConfig contains delivery and keepalive settings.
type NotifyConfig struct {
	MailboxSize    int           `yaml:"mailbox_size"`
	BusCapacity    int           `yaml:"bus_capacity"`
	ReaperInterval time.Duration `yaml:"reaper_interval"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
}

// SecurityConfig contains security-related settings.
type SecurityConfig struct {
	AdminToken          string          `yaml:"admin_token"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	MaxConnections      int             `yaml:"max_connections"`
	MaxConnectionsPerIP int             `yaml:"max_connections_per_ip"`
}

// RateLimitConfig contains connection rate limiting settings.
type RateLimitConfig struct {
	Enabled              bool `yaml:"enabled"`
	ConnectionsPerMinute int  `yaml:"connections_per_minute"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	RingSize   int    `yaml:"ring_size"`
}

// HealthConfig contains health check endpoint settings.
type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	ListenAddress string `yaml:"listen_address"`
	Detailed      bool   `yaml:"detailed"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:  "127.0.0.1:8090",
			WSPath:         "/ws",
			MaxMessageSize: 65536, // 64KB, inbound client frames are small
			WriteTimeout:   30 * time.Second,
			DrainTimeout:   30 * time.Second,
		},
		Auth: AuthConfig{
			Leeway: 30 * time.Second,
		},
		Notify: NotifyConfig{
			MailboxSize:    256,
			BusCapacity:    1000,
			ReaperInterval: 30 * time.Second,
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
		},
		Security: SecurityConfig{
			MaxConnections:      1000,
			MaxConnectionsPerIP: 10,
			RateLimit: RateLimitConfig{
				Enabled:              true,
				ConnectionsPerMinute: 60,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
			RingSize:   1000,
		},
		Health: HealthConfig{
			Enabled:       true,
			Endpoint:      "/health",
			ListenAddress: "127.0.0.1:8091",
			Detailed:      true,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  true,
			MetricsEndpoint: "/metrics",
		},
	}
}

// Load reads a config file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s", path)
			}
			if os.IsPermission(err) {
				return nil, fmt.Errorf("permission denied reading %s", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w (check YAML indentation)", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.ListenAddress); err != nil {
		return fmt.Errorf("server.listen_address is invalid: %w", err)
	}
	if c.Server.WSPath == "" || !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /")
	}
	if c.Server.MaxMessageSize <= 0 {
		return fmt.Errorf("server.max_message_size must be positive")
	}
	if c.Server.MaxMessageSize > 1048576 {
		return fmt.Errorf("server.max_message_size must not exceed 1048576 (1MB)")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}
	if c.Server.DrainTimeout <= 0 {
		return fmt.Errorf("server.drain_timeout must be positive")
	}
	if c.Server.DrainTimeout > 5*time.Minute {
		return fmt.Errorf("server.drain_timeout must not exceed 5m")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set NOTELIVE_AUTH_JWT_SECRET or auth.jwt_secret)")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.Leeway < 0 {
		return fmt.Errorf("auth.leeway must not be negative")
	}

	if c.Notify.MailboxSize <= 0 {
		return fmt.Errorf("notify.mailbox_size must be positive")
	}
	if c.Notify.BusCapacity <= 0 {
		return fmt.Errorf("notify.bus_capacity must be positive")
	}
	if c.Notify.ReaperInterval <= 0 {
		return fmt.Errorf("notify.reaper_interval must be positive")
	}
	if c.Notify.PingInterval <= 0 {
		return fmt.Errorf("notify.ping_interval must be positive")
	}
	if c.Notify.PongTimeout <= 0 {
		return fmt.Errorf("notify.pong_timeout must be positive")
	}
	if c.Notify.PongTimeout >= c.Notify.PingInterval {
		return fmt.Errorf("notify.pong_timeout must be shorter than notify.ping_interval")
	}

	if c.Security.MaxConnections <= 0 {
		return fmt.Errorf("security.max_connections must be positive")
	}
	if c.Security.MaxConnections > 65535 {
		return fmt.Errorf("security.max_connections must not exceed 65535")
	}
	if c.Security.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("security.max_connections_per_ip must be positive")
	}
	if c.Security.MaxConnectionsPerIP > c.Security.MaxConnections {
		return fmt.Errorf("security.max_connections_per_ip must not exceed security.max_connections")
	}
	if c.Security.RateLimit.Enabled {
		if c.Security.RateLimit.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("security.rate_limit.connections_per_minute must be positive")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Logging.RingSize <= 0 {
		return fmt.Errorf("logging.ring_size must be positive")
	}

	if c.Health.Enabled {
		if c.Health.ListenAddress == "" {
			return fmt.Errorf("health.listen_address is required when health is enabled")
		}
		if _, _, err := net.SplitHostPort(c.Health.ListenAddress); err != nil {
			return fmt.Errorf("health.listen_address is invalid: %w", err)
		}
		host, _, _ := net.SplitHostPort(c.Health.ListenAddress)
		ip := net.ParseIP(host)
		if ip != nil && !ip.IsLoopback() {
			return fmt.Errorf("health.listen_address should bind to a loopback address (e.g. 127.0.0.1) to avoid exposing metrics")
		}
		if c.Server.ListenAddress == c.Health.ListenAddress {
			return fmt.Errorf("server.listen_address and health.listen_address must be different")
		}
	}

	return nil
}

// applyEnvOverrides applies NOTELIVE_ prefixed environment variables.
// Convention: NOTELIVE_ + uppercase + underscores for nesting.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"NOTELIVE_SERVER_LISTEN_ADDRESS":   func(v string) { cfg.Server.ListenAddress = v },
		"NOTELIVE_SERVER_WS_PATH":          func(v string) { cfg.Server.WSPath = v },
		"NOTELIVE_SERVER_MAX_MESSAGE_SIZE": func(v string) { cfg.Server.MaxMessageSize = parseInt64(v, cfg.Server.MaxMessageSize) },
		"NOTELIVE_SERVER_WRITE_TIMEOUT":    func(v string) { cfg.Server.WriteTimeout = parseDuration(v, cfg.Server.WriteTimeout) },
		"NOTELIVE_SERVER_DRAIN_TIMEOUT":    func(v string) { cfg.Server.DrainTimeout = parseDuration(v, cfg.Server.DrainTimeout) },
		"NOTELIVE_AUTH_JWT_SECRET":         func(v string) { cfg.Auth.JWTSecret = v },
		"NOTELIVE_AUTH_LEEWAY":             func(v string) { cfg.Auth.Leeway = parseDuration(v, cfg.Auth.Leeway) },
		"NOTELIVE_NOTIFY_MAILBOX_SIZE":     func(v string) { cfg.Notify.MailboxSize = parseInt(v, cfg.Notify.MailboxSize) },
		"NOTELIVE_NOTIFY_BUS_CAPACITY":     func(v string) { cfg.Notify.BusCapacity = parseInt(v, cfg.Notify.BusCapacity) },
		"NOTELIVE_NOTIFY_REAPER_INTERVAL":  func(v string) { cfg.Notify.ReaperInterval = parseDuration(v, cfg.Notify.ReaperInterval) },
		"NOTELIVE_NOTIFY_PING_INTERVAL":    func(v string) { cfg.Notify.PingInterval = parseDuration(v, cfg.Notify.PingInterval) },
		"NOTELIVE_NOTIFY_PONG_TIMEOUT":     func(v string) { cfg.Notify.PongTimeout = parseDuration(v, cfg.Notify.PongTimeout) },
		"NOTELIVE_SECURITY_ADMIN_TOKEN":    func(v string) { cfg.Security.AdminToken = v },
		"NOTELIVE_SECURITY_MAX_CONNECTIONS": func(v string) {
			cfg.Security.MaxConnections = parseInt(v, cfg.Security.MaxConnections)
		},
		"NOTELIVE_SECURITY_MAX_CONNECTIONS_PER_IP": func(v string) {
			cfg.Security.MaxConnectionsPerIP = parseInt(v, cfg.Security.MaxConnectionsPerIP)
		},
		"NOTELIVE_SECURITY_RATE_LIMIT_ENABLED": func(v string) {
			cfg.Security.RateLimit.Enabled = parseBool(v, cfg.Security.RateLimit.Enabled)
		},
		"NOTELIVE_SECURITY_RATE_LIMIT_CONNECTIONS_PER_MINUTE": func(v string) {
			cfg.Security.RateLimit.ConnectionsPerMinute = parseInt(v, cfg.Security.RateLimit.ConnectionsPerMinute)
		},
		"NOTELIVE_LOGGING_LEVEL":         func(v string) { cfg.Logging.Level = v },
		"NOTELIVE_LOGGING_FORMAT":        func(v string) { cfg.Logging.Format = v },
		"NOTELIVE_LOGGING_FILE":          func(v string) { cfg.Logging.File = v },
		"NOTELIVE_HEALTH_ENABLED":        func(v string) { cfg.Health.Enabled = parseBool(v, cfg.Health.Enabled) },
		"NOTELIVE_HEALTH_LISTEN_ADDRESS": func(v string) { cfg.Health.ListenAddress = v },
		"NOTELIVE_MONITORING_METRICS_ENABLED": func(v string) {
			cfg.Monitoring.MetricsEnabled = parseBool(v, cfg.Monitoring.MetricsEnabled)
		},
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

// ApplyReloadableFields returns a copy of c with reloadable fields from newCfg.
// Non-reloadable: listen addresses, ws_path, jwt_secret, mailbox_size,
// bus_capacity, reaper_interval (the reaper ticker is created once at
// startup).
func (c *Config) ApplyReloadableFields(newCfg *Config) *Config {
	updated := *c
	updated.Security.RateLimit = newCfg.Security.RateLimit
	updated.Security.AdminToken = newCfg.Security.AdminToken
	updated.Security.MaxConnections = newCfg.Security.MaxConnections
	updated.Security.MaxConnectionsPerIP = newCfg.Security.MaxConnectionsPerIP
	updated.Logging.Level = newCfg.Logging.Level
	updated.Server.MaxMessageSize = newCfg.Server.MaxMessageSize
	return &updated
}

// IsReloadSafe checks if only reloadable fields changed between configs.
func IsReloadSafe(old, new *Config) []string {
	var warnings []string
	if old.Server.ListenAddress != new.Server.ListenAddress {
		warnings = append(warnings, "server.listen_address requires restart")
	}
	if old.Server.WSPath != new.Server.WSPath {
		warnings = append(warnings, "server.ws_path requires restart")
	}
	if old.Auth.JWTSecret != new.Auth.JWTSecret {
		warnings = append(warnings, "auth.jwt_secret requires restart")
	}
	if old.Notify.MailboxSize != new.Notify.MailboxSize {
		warnings = append(warnings, "notify.mailbox_size requires restart")
	}
	if old.Notify.BusCapacity != new.Notify.BusCapacity {
		warnings = append(warnings, "notify.bus_capacity requires restart")
	}
	if old.Notify.ReaperInterval != new.Notify.ReaperInterval {
		warnings = append(warnings, "notify.reaper_interval requires restart")
	}
	if old.Health.ListenAddress != new.Health.ListenAddress {
		warnings = append(warnings, "health.listen_address requires restart")
	}
	return warnings
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt64(s string, fallback int64) int64 {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseInt(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	s = strings.ToLower(s)
	switch s {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
