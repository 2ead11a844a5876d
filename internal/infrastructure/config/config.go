package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvFile is the dotenv file picked up from the working directory when present.
const DefaultEnvFile = ".env"

// Config is the root configuration structure for the CmControl device client.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	CmControl CmControlConfig `yaml:"cmcontrol"`
	Requests  RequestsConfig  `yaml:"requests"`
	Business  BusinessConfig  `yaml:"business"`
	Batch     BatchConfig     `yaml:"batch"`
	Journal   JournalConfig   `yaml:"journal"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig identifies this endpoint towards CmControl.
type DeviceConfig struct {
	// Address is the device address configured in CmControl. It appears in every topic.
	Address string `yaml:"address"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`

	// KeepAlive is the MQTT keepalive in seconds.
	KeepAlive int `yaml:"keepalive"`

	// ConnectTimeout bounds the CONNECT/CONNACK handshake in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string    `yaml:"host"`
	Port     int       `yaml:"port"`
	ClientID string    `yaml:"client_id"`
	TLS      TLSConfig `yaml:"tls"`
}

// TLSConfig contains TLS settings for the broker connection.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// Insecure skips server certificate verification. Lab use only.
	Insecure bool `yaml:"insecure"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
// CmControl shows them under Menu Principal > Configurações > MQTT.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxDelay int  `yaml:"max_delay"`
}

// CmControlConfig holds the OAuth2 credentials for the MQTT+REST API.
type CmControlConfig struct {
	API CmControlAPIConfig `yaml:"api"`

	// TokenRenewMargin is how many seconds before expiry a token is renewed.
	TokenRenewMargin int `yaml:"token_renew_margin"`
}

// CmControlAPIConfig contains the Basic credentials exchanged for a bearer token.
type CmControlAPIConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RequestsConfig contains request/response settings.
type RequestsConfig struct {
	// Timeout is the default response window in seconds.
	Timeout float64 `yaml:"timeout"`

	// SerializeAll allows a single in-flight request across all endpoints.
	SerializeAll bool `yaml:"serialize_all"`
}

// BusinessConfig controls how apontamento responses are classified.
type BusinessConfig struct {
	Strict        bool     `yaml:"strict"`
	ErrorPrefixes []string `yaml:"error_prefixes"`
	ErrorContains []string `yaml:"error_contains"`
	OKPrefixes    []string `yaml:"ok_prefixes"`
}

// BatchConfig contains settings for batch apontamento.
type BatchConfig struct {
	DelayMS     int  `yaml:"delay_ms"`
	StopOnError bool `yaml:"stop_on_error"`
}

// JournalConfig contains SQLite journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// HTTPConfig contains the diagnostics HTTP server settings.
type HTTPConfig struct {
	Enabled   bool              `yaml:"enabled"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	Timeouts  HTTPTimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig   `yaml:"websocket"`
}

// HTTPTimeoutConfig contains HTTP timeout settings.
type HTTPTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load builds the configuration.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. .env file in the working directory, if present
//  3. YAML file values (override defaults), skipped when path is empty
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: CMC_KEY
// For example: CMC_DEVICE_ADDR, CMC_BROKER_HOST
func Load(path string) (*Config, error) {
	return LoadWithEnvFile(path, DefaultEnvFile)
}

// LoadWithEnvFile is Load with an explicit dotenv file. A missing dotenv file is ignored;
// variables already present in the environment are never overwritten by it.
func LoadWithEnvFile(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading env file: %w", err)
		}
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port: 1883,
			},
			KeepAlive:      60,
			ConnectTimeout: 10,
			Reconnect: MQTTReconnectConfig{
				Enabled:  true,
				MaxDelay: 60,
			},
		},
		CmControl: CmControlConfig{
			TokenRenewMargin: 600,
		},
		Requests: RequestsConfig{
			Timeout: 10,
		},
		Business: BusinessConfig{
			Strict:        true,
			ErrorPrefixes: []string{"ERRO"},
			ErrorContains: []string{"FALHA", "NOK"},
			OKPrefixes:    []string{"ERRO4"},
		},
		Batch: BatchConfig{
			DelayMS: 200,
		},
		Journal: JournalConfig{
			Path:        "./data/cmcontrol.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		HTTP: HTTPConfig{
			Host: "127.0.0.1",
			Port: 8089,
			Timeouts: HTTPTimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				Path:           "/ws",
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Malformed numeric or boolean values are reported rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s must be an integer", name))
			return
		}
		*dst = n
	}

	str("CMC_DEVICE_ADDR", &cfg.Device.Address)

	// MQTT
	str("CMC_BROKER_HOST", &cfg.MQTT.Broker.Host)
	integer("CMC_BROKER_PORT", &cfg.MQTT.Broker.Port)
	str("CMC_MQTT_USER", &cfg.MQTT.Auth.Username)
	str("CMC_MQTT_PASS", &cfg.MQTT.Auth.Password)
	integer("CMC_CONNECT_TIMEOUT_S", &cfg.MQTT.ConnectTimeout)

	// CmControl API
	str("CMC_API_USER", &cfg.CmControl.API.Username)
	str("CMC_API_PASS", &cfg.CmControl.API.Password)
	integer("CMC_TOKEN_RENEW_MARGIN_S", &cfg.CmControl.TokenRenewMargin)

	if v := strings.TrimSpace(os.Getenv("CMC_REQUEST_TIMEOUT_S")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, "CMC_REQUEST_TIMEOUT_S must be a number")
		} else {
			cfg.Requests.Timeout = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("CMC_STRICT_BUSINESS_ERRORS")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, "CMC_STRICT_BUSINESS_ERRORS must be a boolean")
		} else {
			cfg.Business.Strict = b
		}
	}

	str("CMC_JOURNAL_PATH", &cfg.Journal.Path)
	str("CMC_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)
	str("CMC_LOG_LEVEL", &cfg.Logging.Level)

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Device.Address) == "" {
		errs = append(errs, "device.address is required (set CMC_DEVICE_ADDR)")
	} else if strings.ContainsAny(c.Device.Address, "/+#") {
		errs = append(errs, "device.address must not contain '/', '+' or '#'")
	}

	// MQTT validation
	if strings.TrimSpace(c.MQTT.Broker.Host) == "" {
		errs = append(errs, "mqtt.broker.host is required (set CMC_BROKER_HOST)")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, "mqtt.connect_timeout must be positive")
	}
	if c.MQTT.KeepAlive < 0 {
		errs = append(errs, "mqtt.keepalive must not be negative")
	}
	tls := c.MQTT.Broker.TLS
	if (tls.CertFile == "") != (tls.KeyFile == "") {
		errs = append(errs, "mqtt.broker.tls.cert_file and key_file must be set together")
	}

	// CmControl API: credentials are optional but must come in pairs
	if (c.CmControl.API.Username == "") != (c.CmControl.API.Password == "") {
		errs = append(errs, "cmcontrol.api.username and password must be set together")
	}
	if c.CmControl.TokenRenewMargin < 0 {
		errs = append(errs, "cmcontrol.token_renew_margin must not be negative")
	}

	if c.Requests.Timeout <= 0 {
		errs = append(errs, "requests.timeout must be positive")
	}
	if c.Batch.DelayMS < 0 {
		errs = append(errs, "batch.delay_ms must not be negative")
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.HTTP.Enabled && (c.HTTP.Port < 1 || c.HTTP.Port > 65535) {
		errs = append(errs, "http.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// HasAPICredentials reports whether OAuth2 login is possible.
func (c *Config) HasAPICredentials() bool {
	return c.CmControl.API.Username != "" && c.CmControl.API.Password != ""
}

// GetConnectTimeout returns the broker handshake timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.MQTT.ConnectTimeout) * time.Second
}

// GetRequestTimeout returns the default response window as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Requests.Timeout * float64(time.Second))
}

// GetTokenRenewMargin returns the token renewal margin as a Duration.
func (c *Config) GetTokenRenewMargin() time.Duration {
	return time.Duration(c.CmControl.TokenRenewMargin) * time.Second
}

// GetBatchDelay returns the pause between batch items as a Duration.
func (c *Config) GetBatchDelay() time.Duration {
	return time.Duration(c.Batch.DelayMS) * time.Millisecond
}

// GetReadTimeout returns the HTTP read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.HTTP.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.HTTP.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the HTTP idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.HTTP.Timeouts.Idle) * time.Second
}
