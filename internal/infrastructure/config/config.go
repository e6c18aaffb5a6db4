package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends accepted by storage.backend.
const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// minJWTSecretLength applies only when a secret is configured.
const minJWTSecretLength = 32

// Config is the root configuration structure for the beacon fence service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Callback  CallbackConfig  `yaml:"callback"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// StorageConfig selects the key/value backend of the region store.
type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings for storage.backend=redis.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// ScannerConfig describes how the scanner bridge talks to the beacon scanner.
type ScannerConfig struct {
	// CommandTimeout bounds each publish to the scanner (seconds).
	CommandTimeout int `yaml:"command_timeout"`

	// Defaults are applied when no settings were ever persisted.
	Defaults ScannerDefaults `yaml:"defaults"`
}

// ScannerDefaults mirrors beacon.ScannerSettings with millisecond periods.
type ScannerDefaults struct {
	ForegroundScanPeriodMS        int64  `yaml:"foreground_scan_period_ms"`
	ForegroundBetweenScanPeriodMS int64  `yaml:"foreground_between_scan_period_ms"`
	BackgroundScanPeriodMS        int64  `yaml:"background_scan_period_ms"`
	BackgroundBetweenScanPeriodMS int64  `yaml:"background_between_scan_period_ms"`
	UseForegroundService          bool   `yaml:"use_foreground_service"`
	NotificationTitle             string `yaml:"notification_title"`
	NotificationContent           string `yaml:"notification_content"`
}

// CallbackConfig describes the callback runtime subprocess.
type CallbackConfig struct {
	// Binary is the executable started for each execution context.
	// Empty disables delivery: every event is dropped with a logged error.
	Binary     string            `yaml:"binary"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	WorkingDir string            `yaml:"working_dir"`

	// Timeouts in seconds. DeliveryTimeout 0 means wait forever.
	ReadyTimeout    int `yaml:"ready_timeout"`
	DeliveryTimeout int `yaml:"delivery_timeout"`
	GracefulTimeout int `yaml:"graceful_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for the event history.
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
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. An empty secret disables API authentication.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values
//  2. YAML file values (skipped when path is empty)
//  3. Environment variables
//
// Environment variables follow the pattern BEACONFENCE_SECTION_KEY,
// for example BEACONFENCE_DATABASE_PATH or BEACONFENCE_CALLBACK_BINARY.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/beaconfence.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Storage: StorageConfig{
			Backend: StorageSQLite,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "beaconfence:",
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "beaconfence-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Scanner: ScannerConfig{
			CommandTimeout: 5,
			Defaults: ScannerDefaults{
				ForegroundScanPeriodMS:        1100,
				BackgroundScanPeriodMS:        10000,
				BackgroundBetweenScanPeriodMS: 300000,
				NotificationTitle:             "Listening for sessions",
				NotificationContent:           "We will keep you updated",
			},
		},
		Callback: CallbackConfig{
			ReadyTimeout:    10,
			DeliveryTimeout: 30,
			GracefulTimeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8470,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "beaconfence",
			Bucket:        "beacon_events",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{AccessTokenTTL: 60},
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BEACONFENCE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BEACONFENCE_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("BEACONFENCE_REDIS_ADDR"); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("BEACONFENCE_REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v := os.Getenv("BEACONFENCE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BEACONFENCE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("BEACONFENCE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BEACONFENCE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("BEACONFENCE_CALLBACK_BINARY"); v != "" {
		cfg.Callback.Binary = v
	}
	if v := os.Getenv("BEACONFENCE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("BEACONFENCE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("BEACONFENCE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("BEACONFENCE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	switch c.Storage.Backend {
	case StorageSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite backend")
		}
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, "storage.redis.addr is required for the redis backend")
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q must be sqlite, redis or memory", c.Storage.Backend))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Callback.ReadyTimeout < 0 || c.Callback.DeliveryTimeout < 0 || c.Callback.GracefulTimeout < 0 {
		errs = append(errs, "callback timeouts must not be negative")
	}

	d := c.Scanner.Defaults
	if d.ForegroundScanPeriodMS < 0 || d.ForegroundBetweenScanPeriodMS < 0 ||
		d.BackgroundScanPeriodMS < 0 || d.BackgroundBetweenScanPeriodMS < 0 {
		errs = append(errs, "scanner.defaults periods must not be negative")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Seconds converts a whole-second config value into a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
