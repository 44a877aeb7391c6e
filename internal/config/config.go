package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Controller      ControllerConfig  `yaml:"controller"`
	Discovery       DiscoveryConfig   `yaml:"discovery"`
	Accessories     AccessoriesConfig `yaml:"accessories"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// ControllerConfig contains controller connection settings
type ControllerConfig struct {
	IP              string   `yaml:"ip"`   // Empty means discover over mDNS
	Name            string   `yaml:"name"` // Display name, defaults to the name the controller reports
	Timeout         Duration `yaml:"timeout"`
	PollInterval    Duration `yaml:"poll_interval"`
	CacheTTL        Duration `yaml:"cache_ttl"`
	RefreshDelay    Duration `yaml:"refresh_delay"`    // Delay of the refresh after a command
	RequestCooldown Duration `yaml:"request_cooldown"` // Pause between queued requests
}

// DiscoveryConfig contains controller discovery settings
type DiscoveryConfig struct {
	MDNS          *bool    `yaml:"mdns"` // Browse mDNS when no IP is configured (default: true)
	MDNSService   string   `yaml:"mdns_service"`
	MDNSTimeout   Duration `yaml:"mdns_timeout"`
	RetryInterval Duration `yaml:"retry_interval"`
}

// MDNSEnabled returns whether mDNS browsing is on
func (c *DiscoveryConfig) MDNSEnabled() bool {
	return c.MDNS == nil || *c.MDNS
}

// AccessoriesConfig controls which accessories are published
type AccessoriesConfig struct {
	HideGroups           bool     `yaml:"hide_groups"`
	NoAllThemes          bool     `yaml:"no_all_themes"`          // Suppress "illuminate all"/"extinguish all"
	RemoveAccessories    []string `yaml:"remove_accessories"`     // Stable ids to drop on next reconcile
	RemoveAllAccessories bool     `yaml:"remove_all_accessories"` // Drop every persisted accessory
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// MQTTConfig contains the optional MQTT publisher settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./luxord.sqlite"
	}

	// Controller defaults
	if cfg.Controller.Timeout == 0 {
		cfg.Controller.Timeout = Duration(5 * time.Second)
	}
	if cfg.Controller.PollInterval == 0 {
		cfg.Controller.PollInterval = Duration(30 * time.Second)
	}
	if cfg.Controller.CacheTTL == 0 {
		cfg.Controller.CacheTTL = Duration(2 * time.Second)
	}
	if cfg.Controller.RefreshDelay == 0 {
		cfg.Controller.RefreshDelay = Duration(250 * time.Millisecond)
	}
	if cfg.Controller.RequestCooldown == 0 {
		cfg.Controller.RequestCooldown = Duration(50 * time.Millisecond)
	}

	// Discovery defaults
	if cfg.Discovery.MDNSService == "" {
		cfg.Discovery.MDNSService = "_http._tcp"
	}
	if cfg.Discovery.MDNSTimeout == 0 {
		cfg.Discovery.MDNSTimeout = Duration(3 * time.Second)
	}
	if cfg.Discovery.RetryInterval == 0 {
		cfg.Discovery.RetryInterval = Duration(30 * time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "luxord"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "luxord"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

func (cfg *Config) validate() error {
	if cfg.Controller.IP == "" && !cfg.Discovery.MDNSEnabled() {
		return fmt.Errorf("controller.ip is required when discovery.mdns is disabled")
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
