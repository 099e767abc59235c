package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
serial:
  url: "tcp://localhost:7000"
aio:
  user: "alice"
  key: "aio_key"
feeds:
  - temperature
  - humidity
timing:
  reconnect_period_ms: 5000
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Serial.URL != "tcp://localhost:7000" {
		t.Errorf("Serial.URL = %q, want %q", cfg.Serial.URL, "tcp://localhost:7000")
	}
	if cfg.AIO.User != "alice" {
		t.Errorf("AIO.User = %q, want %q", cfg.AIO.User, "alice")
	}
	if len(cfg.Feeds) != 2 || cfg.Feeds[1] != "humidity" {
		t.Errorf("Feeds = %v, want [temperature humidity]", cfg.Feeds)
	}
	if cfg.GetReconnectPeriod() != 5*time.Second {
		t.Errorf("GetReconnectPeriod() = %v, want 5s", cfg.GetReconnectPeriod())
	}
	// Unset values keep their defaults.
	if cfg.GetBrokerSettle() != 600*time.Millisecond {
		t.Errorf("GetBrokerSettle() = %v, want 600ms", cfg.GetBrokerSettle())
	}
	if cfg.AIO.Host != "io.adafruit.com" {
		t.Errorf("AIO.Host = %q, want io.adafruit.com", cfg.AIO.Host)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
serial:
  url: "tcp://localhost:7000"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error for missing account, got nil")
	}
	if !strings.Contains(err.Error(), "aio.user") || !strings.Contains(err.Error(), "aio.key") {
		t.Errorf("Load() error = %v, want both aio.user and aio.key reported", err)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
aio:
  user: "from-file"
`)
	t.Setenv("OBLOQ_AIO_USER", "from-env")
	t.Setenv("OBLOQ_AIO_KEY", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AIO.User != "from-env" {
		t.Errorf("AIO.User = %q, want %q", cfg.AIO.User, "from-env")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.AIO.User = "alice"
		cfg.AIO.Key = "aio_key"
		cfg.Feeds = []string{"temperature"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"missing serial url", func(c *Config) { c.Serial.URL = "" }, true},
		{"missing user", func(c *Config) { c.AIO.User = "" }, true},
		{"missing key", func(c *Config) { c.AIO.Key = "" }, true},
		{"key with delimiter", func(c *Config) { c.AIO.Key = "a|b" }, true},
		{"ssid with comma", func(c *Config) { c.Wifi.SSID = "a,b" }, true},
		{"too many feeds", func(c *Config) { c.Feeds = []string{"a", "b", "c", "d", "e", "f"} }, true},
		{"duplicate feed", func(c *Config) { c.Feeds = []string{"a", "a"} }, true},
		{"empty feed", func(c *Config) { c.Feeds = []string{""} }, true},
		{"zero reconnect period", func(c *Config) { c.Timing.ReconnectPeriod = 0 }, true},
		{"negative settle", func(c *Config) { c.Timing.BrokerSettle = -1 }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"invalid api port", func(c *Config) { c.API.Port = 70000 }, true},
		{"api disabled ignores port", func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }, false},
		{"database path required", func(c *Config) { c.Database.Path = "" }, true},
		{"negative retention", func(c *Config) { c.Database.RetentionHours = -1 }, true},
		{"influx incomplete", func(c *Config) { c.InfluxDB.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Bridge: BridgeConfig{HealthInterval: 15},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetHealthInterval(); got != 15*time.Second {
		t.Errorf("GetHealthInterval() = %v, want 15s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("OBLOQ_SERIAL_URL", "tcp://sim:7000")
	t.Setenv("OBLOQ_WIFI_SSID", "home")
	t.Setenv("OBLOQ_WIFI_PASSWORD", "wifi-secret")
	t.Setenv("OBLOQ_AIO_USER", "alice")
	t.Setenv("OBLOQ_AIO_KEY", "aio_key")
	t.Setenv("OBLOQ_MQTT_HOST", "mqtt.example.com")
	t.Setenv("OBLOQ_MQTT_USERNAME", "testuser")
	t.Setenv("OBLOQ_MQTT_PASSWORD", "testpass")
	t.Setenv("OBLOQ_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("OBLOQ_DATABASE_PATH", "/custom/path.db")

	applyEnvOverrides(cfg)

	checks := []struct {
		name string
		got  string
		want string
	}{
		{"Serial.URL", cfg.Serial.URL, "tcp://sim:7000"},
		{"Wifi.SSID", cfg.Wifi.SSID, "home"},
		{"Wifi.Password", cfg.Wifi.Password, "wifi-secret"},
		{"AIO.User", cfg.AIO.User, "alice"},
		{"AIO.Key", cfg.AIO.Key, "aio_key"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.GetWifiSettle() != 4*time.Second {
		t.Errorf("GetWifiSettle() = %v, want 4s", cfg.GetWifiSettle())
	}
	if cfg.GetSubscribeSettle() != 300*time.Millisecond {
		t.Errorf("GetSubscribeSettle() = %v, want 300ms", cfg.GetSubscribeSettle())
	}
	if cfg.GetReconnectPeriod() != 10*time.Second {
		t.Errorf("GetReconnectPeriod() = %v, want 10s", cfg.GetReconnectPeriod())
	}
	if cfg.GetHandshakeTimeout() != 2*time.Second {
		t.Errorf("GetHandshakeTimeout() = %v, want 2s", cfg.GetHandshakeTimeout())
	}
	if cfg.GetRetention() != 7*24*time.Hour {
		t.Errorf("GetRetention() = %v, want 168h", cfg.GetRetention())
	}
	if cfg.AIO.Port != 1883 {
		t.Errorf("AIO.Port = %d, want 1883", cfg.AIO.Port)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}
