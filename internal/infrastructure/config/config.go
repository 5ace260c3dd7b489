package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported discovery protocols (codec names).
var validProtocols = map[string]bool{
	"beacon":   true,
	"knxip":    true,
	"framed":   true,
	"announce": true,
}

// Config is the root configuration structure for Gray Logic Discovery.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
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
	// Enabled controls whether discovery events are published to the broker.
	// Default: true
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

// APITimeoutConfig contains HTTP timeout settings.
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

// DiscoveryConfig contains the UDP discovery engine settings.
type DiscoveryConfig struct {
	// Protocol selects the codec: "beacon", "knxip", "framed" or "announce".
	// Default: "knxip"
	Protocol string `yaml:"protocol"`

	// Listen configures the UDP socket.
	Listen DiscoveryListenConfig `yaml:"listen"`

	// ReceiveTimeout bounds each socket read and paces housekeeping.
	// Default: 10s
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`

	// StalenessThreshold is how long a device may stay silent before it is
	// reported as vanished.
	// Default: 60s
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`

	// ScanDuration is the default length of an active scan window.
	// Default: 30s
	ScanDuration time.Duration `yaml:"scan_duration"`

	// ScanOnStart opens a scan window as soon as the engine starts.
	// Default: true
	ScanOnStart bool `yaml:"scan_on_start"`

	// ProbeAddress is where scan probes are sent ("host:port").
	// For knxip this is normally "224.0.23.12:3671". Empty disables probing.
	ProbeAddress string `yaml:"probe_address"`

	// Beacon configures the beacon codec.
	Beacon BeaconConfig `yaml:"beacon"`

	// Listeners configures event delivery.
	Listeners DiscoveryListenersConfig `yaml:"listeners"`

	// StatsInterval is how often engine counters are written to InfluxDB.
	// Default: 60s
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// DiscoveryListenConfig configures the discovery socket.
type DiscoveryListenConfig struct {
	// Address is the local IPv4 address to bind. Default: "0.0.0.0"
	Address string `yaml:"address"`

	// Port is the UDP port devices send to. Default: 3671
	Port int `yaml:"port"`

	// Broadcast enables sending probes to broadcast addresses.
	Broadcast bool `yaml:"broadcast"`

	// ReuseAddress lets other processes bind the same port.
	ReuseAddress bool `yaml:"reuse_address"`

	// MulticastGroup is an optional IPv4 group to join.
	MulticastGroup string `yaml:"multicast_group,omitempty"`

	// Interface is the NIC used for multicast membership.
	Interface string `yaml:"interface,omitempty"`

	// ReadBufferSize sets SO_RCVBUF in bytes when positive.
	ReadBufferSize int `yaml:"read_buffer_size,omitempty"`
}

// BeaconConfig configures the beacon codec.
type BeaconConfig struct {
	// Family prefixes beacon identities. Default: "beacon"
	Family string `yaml:"family"`

	// Pattern is the hex-encoded beacon constant. Empty selects the built-in
	// 7-byte Gray Logic beacon.
	Pattern string `yaml:"pattern"`
}

// DiscoveryListenersConfig configures delivery to event listeners.
type DiscoveryListenersConfig struct {
	// QueueSize is the per-listener queue capacity. Default: 64
	QueueSize int `yaml:"queue_size"`

	// Grace bounds how long an event waits for queue space.
	// Default: 2s
	Grace time.Duration `yaml:"grace"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. Tokens are issued by Gray Logic
// Core and verified here with the shared secret.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_DISCOVERY_PORT
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
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/discovery.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-discovery",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Discovery: DiscoveryConfig{
			Protocol: "knxip",
			Listen: DiscoveryListenConfig{
				Address:   "0.0.0.0",
				Port:      3671,
				Broadcast: true,
			},
			ReceiveTimeout:     10 * time.Second,
			StalenessThreshold: 60 * time.Second,
			ScanDuration:       30 * time.Second,
			ScanOnStart:        true,
			Beacon: BeaconConfig{
				Family: "beacon",
			},
			Listeners: DiscoveryListenersConfig{
				QueueSize: 64,
				Grace:     2 * time.Second,
			},
			StatsInterval: 60 * time.Second,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "graylogic-core",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Discovery
	if v := os.Getenv("GRAYLOGIC_DISCOVERY_PROTOCOL"); v != "" {
		cfg.Discovery.Protocol = v
	}
	if v := os.Getenv("GRAYLOGIC_DISCOVERY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing GRAYLOGIC_DISCOVERY_PORT: %w", err)
		}
		cfg.Discovery.Listen.Port = port
	}
	if v := os.Getenv("GRAYLOGIC_DISCOVERY_INTERFACE"); v != "" {
		cfg.Discovery.Listen.Interface = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
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

	errs = append(errs, c.Discovery.validate()...)

	// JWT secret is required: the API can approve devices into the site.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set GRAYLOGIC_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (d *DiscoveryConfig) validate() []string {
	var errs []string

	if !validProtocols[strings.ToLower(d.Protocol)] {
		errs = append(errs, fmt.Sprintf("discovery.protocol %q is not supported (beacon, knxip, framed, announce)", d.Protocol))
	}
	if d.Listen.Port < 1 || d.Listen.Port > 65535 {
		errs = append(errs, "discovery.listen.port must be between 1 and 65535")
	}
	if d.ReceiveTimeout <= 0 {
		errs = append(errs, "discovery.receive_timeout must be positive")
	}
	if d.StalenessThreshold <= d.ReceiveTimeout {
		errs = append(errs, "discovery.staleness_threshold must be longer than discovery.receive_timeout")
	}
	if d.ScanDuration <= 0 {
		errs = append(errs, "discovery.scan_duration must be positive")
	}
	if d.Listeners.QueueSize < 1 {
		errs = append(errs, "discovery.listeners.queue_size must be at least 1")
	}
	if d.Listeners.Grace <= 0 {
		errs = append(errs, "discovery.listeners.grace must be positive")
	}
	if _, err := d.BeaconPattern(); err != nil {
		errs = append(errs, err.Error())
	}
	return errs
}

// BeaconPattern decodes the configured beacon pattern. It returns nil when
// no pattern is configured.
func (d *DiscoveryConfig) BeaconPattern() ([]byte, error) {
	if d.Beacon.Pattern == "" {
		return nil, nil
	}
	pattern, err := hex.DecodeString(strings.ReplaceAll(d.Beacon.Pattern, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("discovery.beacon.pattern is not valid hex: %w", err)
	}
	return pattern, nil
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
