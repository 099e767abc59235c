package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// maxFeeds is the number of feeds the module can keep subscribed.
const maxFeeds = 5

// Config is the root configuration structure for the OBLOQ bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Wifi     WifiConfig     `yaml:"wifi"`
	AIO      AIOConfig      `yaml:"aio"`
	Feeds    []string       `yaml:"feeds"`
	Timing   TimingConfig   `yaml:"timing"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SerialConfig describes the link to the module.
type SerialConfig struct {
	// URL is "serial:///dev/ttyUSB0?baud=9600" or "tcp://host:port".
	URL string `yaml:"url"`
}

// WifiConfig is the network the module joins at start-up.
// Leave SSID empty when the module keeps its association.
type WifiConfig struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// AIOConfig is the Adafruit IO account and endpoint.
type AIOConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Key  string `yaml:"key"`
}

// TimingConfig holds module pauses in milliseconds.
type TimingConfig struct {
	WifiSettle       int `yaml:"wifi_settle_ms"`
	BrokerSettle     int `yaml:"broker_settle_ms"`
	SubscribeSettle  int `yaml:"subscribe_settle_ms"`
	ReconnectPeriod  int `yaml:"reconnect_period_ms"`
	HandshakeTimeout int `yaml:"handshake_timeout_ms"`
}

// BridgeConfig contains local bus bridge settings.
type BridgeConfig struct {
	Enabled        bool `yaml:"enabled"`
	HealthInterval int  `yaml:"health_interval"`
}

// DatabaseConfig contains SQLite frame journal settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionHours bounds how long frames are kept. Zero keeps them forever.
	RetentionHours int `yaml:"retention_hours"`
}

// MQTTConfig contains local MQTT broker connection settings.
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
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
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: OBLOQ_SECTION_KEY
// For example: OBLOQ_SERIAL_URL, OBLOQ_AIO_KEY
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

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			URL: "serial:///dev/ttyUSB0?baud=9600",
		},
		AIO: AIOConfig{
			Host: "io.adafruit.com",
			Port: 1883,
		},
		Timing: TimingConfig{
			WifiSettle:       4000,
			BrokerSettle:     600,
			SubscribeSettle:  300,
			ReconnectPeriod:  10000,
			HandshakeTimeout: 2000,
		},
		Bridge: BridgeConfig{
			Enabled:        true,
			HealthInterval: 30,
		},
		Database: DatabaseConfig{
			Enabled:        true,
			Path:           "./data/obloq.db",
			WALMode:        true,
			BusyTimeout:    5,
			RetentionHours: 168,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "obloq-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
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
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Secrets belong here rather than in the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OBLOQ_SERIAL_URL"); v != "" {
		cfg.Serial.URL = v
	}

	// Wi-Fi
	if v := os.Getenv("OBLOQ_WIFI_SSID"); v != "" {
		cfg.Wifi.SSID = v
	}
	if v := os.Getenv("OBLOQ_WIFI_PASSWORD"); v != "" {
		cfg.Wifi.Password = v
	}

	// Adafruit IO
	if v := os.Getenv("OBLOQ_AIO_USER"); v != "" {
		cfg.AIO.User = v
	}
	if v := os.Getenv("OBLOQ_AIO_KEY"); v != "" {
		cfg.AIO.Key = v
	}

	// Local MQTT
	if v := os.Getenv("OBLOQ_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("OBLOQ_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("OBLOQ_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("OBLOQ_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Database
	if v := os.Getenv("OBLOQ_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Serial.URL == "" {
		errs = append(errs, "serial.url is required")
	}

	// Account
	if c.AIO.User == "" {
		errs = append(errs, "aio.user is required (set OBLOQ_AIO_USER)")
	}
	if c.AIO.Key == "" {
		errs = append(errs, "aio.key is required (set OBLOQ_AIO_KEY)")
	}
	if c.AIO.Port < 1 || c.AIO.Port > 65535 {
		errs = append(errs, "aio.port must be between 1 and 65535")
	}
	if strings.Contains(c.AIO.User, "|") || strings.Contains(c.AIO.Key, "|") {
		errs = append(errs, "aio.user and aio.key cannot contain '|'")
	}
	if strings.ContainsAny(c.Wifi.SSID, "|,") || strings.Contains(c.Wifi.Password, "|") {
		errs = append(errs, "wifi.ssid cannot contain '|' or ',' and wifi.password cannot contain '|'")
	}

	// Feeds
	if len(c.Feeds) > maxFeeds {
		errs = append(errs, fmt.Sprintf("feeds: at most %d feeds can be subscribed", maxFeeds))
	}
	seen := make(map[string]bool, len(c.Feeds))
	for _, feed := range c.Feeds {
		switch {
		case feed == "":
			errs = append(errs, "feeds: feed name cannot be empty")
		case strings.Contains(feed, "|"):
			errs = append(errs, fmt.Sprintf("feeds: %q cannot contain '|'", feed))
		case seen[feed]:
			errs = append(errs, fmt.Sprintf("feeds: %q listed twice", feed))
		}
		seen[feed] = true
	}

	// Timing
	if c.Timing.WifiSettle < 0 || c.Timing.BrokerSettle < 0 || c.Timing.SubscribeSettle < 0 {
		errs = append(errs, "timing: settle pauses cannot be negative")
	}
	if c.Timing.ReconnectPeriod <= 0 {
		errs = append(errs, "timing.reconnect_period_ms must be positive")
	}
	if c.Timing.HandshakeTimeout <= 0 {
		errs = append(errs, "timing.handshake_timeout_ms must be positive")
	}

	// Database
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.RetentionHours < 0 {
		errs = append(errs, "database.retention_hours must not be negative")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "" || c.InfluxDB.Org == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetWifiSettle returns the Wi-Fi settle pause.
func (c *Config) GetWifiSettle() time.Duration {
	return time.Duration(c.Timing.WifiSettle) * time.Millisecond
}

// GetBrokerSettle returns the broker settle pause.
func (c *Config) GetBrokerSettle() time.Duration {
	return time.Duration(c.Timing.BrokerSettle) * time.Millisecond
}

// GetSubscribeSettle returns the subscribe settle pause.
func (c *Config) GetSubscribeSettle() time.Duration {
	return time.Duration(c.Timing.SubscribeSettle) * time.Millisecond
}

// GetReconnectPeriod returns the supervisory loop period.
func (c *Config) GetReconnectPeriod() time.Duration {
	return time.Duration(c.Timing.ReconnectPeriod) * time.Millisecond
}

// GetHandshakeTimeout returns how long to wait for a broker reply.
func (c *Config) GetHandshakeTimeout() time.Duration {
	return time.Duration(c.Timing.HandshakeTimeout) * time.Millisecond
}

// GetHealthInterval returns the health publish interval.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetRetention returns how long journalled frames are kept.
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.Database.RetentionHours) * time.Hour
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
