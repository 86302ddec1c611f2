package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when EQUIPWATCH_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// MinPasswordIterations is the lowest PBKDF2 iteration count accepted from
// configuration.
const MinPasswordIterations = 10_000

// Config is the root configuration structure for EquipWatch Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Audit     AuditConfig     `yaml:"audit"`
}

// ServiceConfig identifies this deployment.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings for the live audit feed.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// SecurityConfig contains authentication and session settings.
type SecurityConfig struct {
	Password  PasswordConfig  `yaml:"password"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// PasswordConfig controls password hashing and policy.
type PasswordConfig struct {
	// Iterations is the PBKDF2 work factor for newly hashed passwords.
	// Existing hashes keep the count they were created with.
	Iterations int `yaml:"iterations"`
	MinLength  int `yaml:"min_length"`
}

// SessionsConfig controls session expiry.
type SessionsConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	MaxLifetime   time.Duration `yaml:"max_lifetime"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// RevokeOnDeactivate ends every session of a user when the account is
	// deactivated. Off by default: deactivation only blocks new logins.
	RevokeOnDeactivate bool `yaml:"revoke_on_deactivate"`
}

// RateLimitConfig throttles login attempts per client IP.
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	LoginPerMinute int  `yaml:"login_per_minute"`
	Burst          int  `yaml:"burst"`
}

// BootstrapConfig controls first-boot provisioning.
type BootstrapConfig struct {
	// SeedAdmin creates an "admin" account with a generated password when
	// the user table is empty.
	SeedAdmin bool `yaml:"seed_admin"`
}

// AuditConfig selects where audit entries are fanned out to besides the
// database.
type AuditConfig struct {
	MQTT        bool   `yaml:"mqtt"`
	InfluxDB    bool   `yaml:"influxdb"`
	Metrics     bool   `yaml:"metrics"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Path returns the configuration file path from EQUIPWATCH_CONFIG, or
// DefaultPath when unset.
func Path() string {
	if v := os.Getenv("EQUIPWATCH_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: EQUIPWATCH_SECTION_KEY
// For example: EQUIPWATCH_DATABASE_PATH, EQUIPWATCH_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "equipwatch-001",
			Name: "EquipWatch",
		},
		Database: DatabaseConfig{
			Path:        "./data/equipwatch.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "equipwatch-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			Password: PasswordConfig{
				Iterations: 100_000,
				MinLength:  8,
			},
			Sessions: SessionsConfig{
				IdleTimeout:   8 * time.Hour,
				MaxLifetime:   24 * time.Hour,
				SweepInterval: 5 * time.Minute,
			},
			RateLimit: RateLimitConfig{
				Enabled:        true,
				LoginPerMinute: 10,
				Burst:          5,
			},
			Bootstrap: BootstrapConfig{
				SeedAdmin: true,
			},
		},
		Audit: AuditConfig{
			MQTT:        true,
			InfluxDB:    true,
			Metrics:     true,
			TopicPrefix: "equipwatch/audit",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: EQUIPWATCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Database
	if v := os.Getenv("EQUIPWATCH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("EQUIPWATCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("EQUIPWATCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("EQUIPWATCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("EQUIPWATCH_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("EQUIPWATCH_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EQUIPWATCH_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	// InfluxDB
	if v := os.Getenv("EQUIPWATCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("EQUIPWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security
	if v := os.Getenv("EQUIPWATCH_PASSWORD_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EQUIPWATCH_PASSWORD_ITERATIONS: %w", err)
		}
		cfg.Security.Password.Iterations = n
	}
	if v := os.Getenv("EQUIPWATCH_SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("EQUIPWATCH_SESSION_IDLE_TIMEOUT: %w", err)
		}
		cfg.Security.Sessions.IdleTimeout = d
	}

	return nil
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if c.Security.Password.Iterations < MinPasswordIterations {
		errs = append(errs, fmt.Sprintf("security.password.iterations must be at least %d", MinPasswordIterations))
	}
	if c.Security.Password.MinLength < 8 {
		errs = append(errs, "security.password.min_length must be at least 8")
	}

	s := c.Security.Sessions
	if s.IdleTimeout <= 0 {
		errs = append(errs, "security.sessions.idle_timeout must be positive")
	}
	if s.MaxLifetime < s.IdleTimeout {
		errs = append(errs, "security.sessions.max_lifetime must not be shorter than idle_timeout")
	}
	if s.SweepInterval <= 0 {
		errs = append(errs, "security.sessions.sweep_interval must be positive")
	}

	if c.Security.RateLimit.Enabled {
		if c.Security.RateLimit.LoginPerMinute < 1 {
			errs = append(errs, "security.rate_limit.login_per_minute must be at least 1")
		}
		if c.Security.RateLimit.Burst < 1 {
			errs = append(errs, "security.rate_limit.burst must be at least 1")
		}
	}

	if c.Audit.MQTT && c.Audit.TopicPrefix == "" {
		errs = append(errs, "audit.topic_prefix is required when audit.mqtt is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReadTimeout returns the request read timeout.
func (t APITimeoutConfig) ReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteTimeout returns the response write timeout.
func (t APITimeoutConfig) WriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleTimeout returns the keep-alive idle timeout.
func (t APITimeoutConfig) IdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}
