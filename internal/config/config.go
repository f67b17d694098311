package config

import (
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Device          DeviceConfig   `yaml:"device"`
	Safety          SafetyConfig   `yaml:"safety"`
	Usage           UsageConfig    `yaml:"usage"`
	Notify          NotifyConfig   `yaml:"notify"`
	API             APIConfig      `yaml:"api"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig      `yaml:"log"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	Timezone        string         `yaml:"timezone"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// DeviceConfig contains the MQTT thermostat driver settings
type DeviceConfig struct {
	Broker       string   `yaml:"broker"`
	ClientID     string   `yaml:"client_id"`
	StateTopic   string   `yaml:"state_topic"`
	CommandTopic string   `yaml:"command_topic"`
	PollInterval Duration `yaml:"poll_interval"`  // Control loop cadence (default: 30s)
	StateMaxAge  Duration `yaml:"state_max_age"`  // Device counts as unavailable past this (0 = no limit)
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // Cap on outbound command publishes
}

// SafetyConfig contains the initial safety thresholds. A configuration
// changed at runtime through the API is persisted and wins over these values
// on the next start. Pointer fields distinguish an explicit zero (a 0°C
// frost guard, a zero hysteresis band) from an omitted field.
type SafetyConfig struct {
	Enabled    *bool    `yaml:"enabled"`
	MinTemp    *float64 `yaml:"min_temp"`
	MaxTemp    *float64 `yaml:"max_temp"`
	Hysteresis *float64 `yaml:"hysteresis"`
}

// UsageConfig contains usage accounting settings
type UsageConfig struct {
	RetentionDays int      `yaml:"retention_days"`
	FlushInterval Duration `yaml:"flush_interval"` // How often accumulated usage is persisted
}

// NotifyConfig contains notification sink settings
type NotifyConfig struct {
	MQTTTopic string `yaml:"mqtt_topic"` // Empty disables the MQTT sink
	LuaHook   string `yaml:"lua_hook"`   // Optional script that rewrites alert messages
}

// APIConfig contains HTTP API server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
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

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 32)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 2
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 32
	}
	return c.QueueSize
}

// SafetyEnabled returns the enabled flag, defaulting to true when omitted.
func (c *SafetyConfig) SafetyEnabled() bool {
	return c.Enabled == nil || *c.Enabled
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

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./thermod.sqlite"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}

	// Device defaults
	if cfg.Device.ClientID == "" {
		cfg.Device.ClientID = "thermod"
	}
	if cfg.Device.PollInterval == 0 {
		cfg.Device.PollInterval = Duration(30 * time.Second)
	}
	if cfg.Device.StateMaxAge == 0 {
		cfg.Device.StateMaxAge = Duration(5 * time.Minute)
	}
	if cfg.Device.RateLimitRPS == 0 {
		cfg.Device.RateLimitRPS = 1.0
	}

	// Safety defaults apply only to absent fields: zero is a valid
	// explicit threshold
	if cfg.Safety.MinTemp == nil {
		cfg.Safety.MinTemp = floatPtr(10)
	}
	if cfg.Safety.MaxTemp == nil {
		cfg.Safety.MaxTemp = floatPtr(30)
	}
	if cfg.Safety.Hysteresis == nil {
		cfg.Safety.Hysteresis = floatPtr(0.5)
	}

	// Usage defaults
	if cfg.Usage.RetentionDays == 0 {
		cfg.Usage.RetentionDays = 90
	}
	if cfg.Usage.FlushInterval == 0 {
		cfg.Usage.FlushInterval = Duration(60 * time.Second)
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 8085
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

func floatPtr(v float64) *float64 { return &v }

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
