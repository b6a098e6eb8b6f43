package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when GEENYGW_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for the gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway      GatewayConfig      `yaml:"gateway"`
	Database     DatabaseConfig     `yaml:"database"`
	BLE          BLEConfig          `yaml:"ble"`
	Cloud        CloudConfig        `yaml:"cloud"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Certificates CertificatesConfig `yaml:"certificates"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// GatewayConfig identifies this gateway instance.
type GatewayConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// BLEConfig contains Bluetooth radio settings.
type BLEConfig struct {
	Enabled bool `yaml:"enabled"`

	// HCIDevice is the index of the HCI adapter (0 for hci0).
	HCIDevice int `yaml:"hci_device"`

	// ScanTimeout is the default scan duration in seconds.
	ScanTimeout int `yaml:"scan_timeout"`

	// ConnectTimeout bounds a single connection attempt, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`
}

// CloudConfig contains settings for the cloud registration endpoints.
type CloudConfig struct {
	Hosts          CloudHostsConfig     `yaml:"hosts"`
	Auth           CloudAuthConfig      `yaml:"auth"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Types          CloudTypesConfig     `yaml:"types"`
}

// CloudTypesConfig maps local identifiers to cloud type ids. The mappings
// are written to the registration cache at startup and after a reset.
type CloudTypesConfig struct {
	// ThingTypes maps a device type id from the native descriptor to the
	// thing type id used when creating the thing.
	ThingTypes map[string]string `yaml:"thing_types"`

	// MessageTypes maps a characteristic id to a cloud message type id.
	MessageTypes map[string]string `yaml:"message_types"`
}

// CloudHostsConfig contains the REST endpoint base URLs.
type CloudHostsConfig struct {
	ConnectURL      string `yaml:"connect_url"`
	ThingManagerURL string `yaml:"thing_manager_url"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// CloudAuthConfig contains the cloud account credentials.
type CloudAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// TokenFile persists the session token between restarts.
	TokenFile string `yaml:"token_file"`
}

// CircuitBreakerConfig tunes the breaker around cloud REST calls.
type CircuitBreakerConfig struct {
	MaxFailures int `yaml:"max_failures"`
	Timeout     int `yaml:"timeout"`
	Interval    int `yaml:"interval"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	TLS       bool   `yaml:"tls"`
	KeepAlive int    `yaml:"keepalive"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// CertificatesConfig locates the per-thing client certificates.
type CertificatesConfig struct {
	Dir string `yaml:"dir"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	TLS       TLSConfig        `yaml:"tls"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// WebSocketConfig contains WebSocket server settings.
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
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PathFromEnv returns the config file path from GEENYGW_CONFIG, or DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv("GEENYGW_CONFIG"); v != "" {
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
// Environment variables follow the pattern: GEENYGW_SECTION_KEY
// For example: GEENYGW_DATABASE_PATH, GEENYGW_CLOUD_PASSWORD
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
		Gateway: GatewayConfig{
			ID:   "gateway-001",
			Name: "Geeny Gateway",
		},
		Database: DatabaseConfig{
			Path:        "./data/geenygw.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		BLE: BLEConfig{
			Enabled:        true,
			HCIDevice:      0,
			ScanTimeout:    2,
			ConnectTimeout: 10,
		},
		Cloud: CloudConfig{
			Hosts: CloudHostsConfig{
				ConnectURL:      "https://connect.geeny.io",
				ThingManagerURL: "https://labs.geeny.io",
				Timeout:         15,
			},
			Auth: CloudAuthConfig{
				TokenFile: "./data/token",
			},
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30,
				Interval:    60,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:      "mqtt.geeny.io",
				Port:      8883,
				TLS:       true,
				KeepAlive: 60,
			},
			QoS: 2,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Certificates: CertificatesConfig{
			Dir: "./data/certs",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
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
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GEENYGW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GEENYGW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GEENYGW_BLE_HCI_DEVICE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BLE.HCIDevice = n
		}
	}

	// Cloud credentials should come from the environment in production.
	if v := os.Getenv("GEENYGW_CLOUD_USERNAME"); v != "" {
		cfg.Cloud.Auth.Username = v
	}
	if v := os.Getenv("GEENYGW_CLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Auth.Password = v
	}
	if v := os.Getenv("GEENYGW_CLOUD_CONNECT_URL"); v != "" {
		cfg.Cloud.Hosts.ConnectURL = v
	}
	if v := os.Getenv("GEENYGW_CLOUD_THING_MANAGER_URL"); v != "" {
		cfg.Cloud.Hosts.ThingManagerURL = v
	}

	if v := os.Getenv("GEENYGW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}

	if v := os.Getenv("GEENYGW_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("GEENYGW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GEENYGW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.BLE.HCIDevice < 0 {
		errs = append(errs, "ble.hci_device must not be negative")
	}
	if c.BLE.ScanTimeout < 1 {
		errs = append(errs, "ble.scan_timeout must be at least 1 second")
	}

	if !isAbsoluteURL(c.Cloud.Hosts.ConnectURL) {
		errs = append(errs, "cloud.hosts.connect_url must be an absolute URL")
	}
	if !isAbsoluteURL(c.Cloud.Hosts.ThingManagerURL) {
		errs = append(errs, "cloud.hosts.thing_manager_url must be an absolute URL")
	}
	if c.Cloud.CircuitBreaker.MaxFailures < 1 {
		errs = append(errs, "cloud.circuit_breaker.max_failures must be at least 1")
	}

	for from, to := range c.Cloud.Types.ThingTypes {
		if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
			errs = append(errs, "cloud.types.thing_types entries need a device type and a thing type")
			break
		}
	}
	for from, to := range c.Cloud.Types.MessageTypes {
		if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
			errs = append(errs, "cloud.types.message_types entries need a characteristic and a message type")
			break
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if c.Certificates.Dir == "" {
		errs = append(errs, "certificates.dir is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
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

// GetScanTimeout returns the default BLE scan duration.
func (c *Config) GetScanTimeout() time.Duration {
	return time.Duration(c.BLE.ScanTimeout) * time.Second
}

// GetConnectTimeout returns the BLE connection attempt timeout.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.BLE.ConnectTimeout) * time.Second
}

// GetCloudTimeout returns the cloud REST request timeout.
func (c *Config) GetCloudTimeout() time.Duration {
	return time.Duration(c.Cloud.Hosts.Timeout) * time.Second
}
