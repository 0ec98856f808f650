package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// MQTTConfig is the broker connection and the Home Assistant topic layout
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ClientID        string `yaml:"client_id"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	StatePrefix     string `yaml:"state_prefix"`
}

// ProbeConfig controls the startup reachability check
type ProbeConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// PrismConfig identifies the charger
type PrismConfig struct {
	Topic    string      `yaml:"topic"`
	Ports    int         `yaml:"ports"`
	Serial   string      `yaml:"serial"`
	VSensors bool        `yaml:"vsensors"`
	Probe    ProbeConfig `yaml:"probe"`
}

// APIConfig is the HTTP surface
type APIConfig struct {
	Port int `yaml:"port"`
}

// StorageConfig locates the state database. An empty path keeps state in memory.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// KafkaConfig enables state export when brokers are set
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Config is the whole bridge configuration
type Config struct {
	MQTT     MQTTConfig    `yaml:"mqtt"`
	Prism    PrismConfig   `yaml:"prism"`
	API      APIConfig     `yaml:"api"`
	Storage  StorageConfig `yaml:"storage"`
	Kafka    KafkaConfig   `yaml:"kafka"`
	LogLevel string        `yaml:"log_level"`
}

// Default returns the configuration used for anything not set
func Default() Config {
	return Config{
		MQTT: MQTTConfig{
			DiscoveryPrefix: "homeassistant",
			StatePrefix:     "silla_prism",
		},
		Prism: PrismConfig{
			Topic:    "prism/",
			Ports:    1,
			VSensors: true,
			Probe:    ProbeConfig{Enabled: true, Timeout: 5 * time.Second},
		},
		API:      APIConfig{Port: 8081},
		Kafka:    KafkaConfig{Topic: "prism.states"},
		LogLevel: "info",
	}
}

// Loader reads the configuration file and applies environment overrides
type Loader struct {
	path   string
	logger *zap.Logger
	getenv func(string) string
}

// NewLoader creates a loader for path. An empty path uses defaults and
// the environment only.
func NewLoader(path string, logger *zap.Logger) *Loader {
	return &Loader{
		path:   path,
		logger: logger,
		getenv: os.Getenv,
	}
}

// Load builds and validates the configuration
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		l.logger.Debug("Loading config file", zap.String("path", l.path))
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := l.applyEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l.logger.Info("Configuration loaded",
		zap.String("broker", cfg.MQTT.Broker),
		zap.String("topic", cfg.Prism.Topic),
		zap.Int("ports", cfg.Prism.Ports),
		zap.Bool("vsensors", cfg.Prism.VSensors),
		zap.Bool("kafka", len(cfg.Kafka.Brokers) > 0))
	return &cfg, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := l.getenv(name); v != "" {
			*dst = v
		}
	}
	str("MQTT_BROKER", &cfg.MQTT.Broker)
	str("MQTT_USERNAME", &cfg.MQTT.Username)
	str("MQTT_PASSWORD", &cfg.MQTT.Password)
	str("PRISM_TOPIC", &cfg.Prism.Topic)
	str("PRISM_SERIAL", &cfg.Prism.Serial)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("LOG_LEVEL", &cfg.LogLevel)

	var errs error
	if v := l.getenv("PRISM_PORTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("PRISM_PORTS: %w", err))
		}
		cfg.Prism.Ports = n
	}
	if v := l.getenv("PRISM_VSENSORS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("PRISM_VSENSORS: %w", err))
		}
		cfg.Prism.VSensors = b
	}
	if v := l.getenv("API_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("API_PORT: %w", err))
		}
		cfg.API.Port = n
	}
	if v := l.getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	return errs
}

func (c *Config) normalize() {
	c.Prism.Topic = strings.TrimSpace(c.Prism.Topic)
	if c.Prism.Topic != "" && !strings.HasSuffix(c.Prism.Topic, "/") {
		c.Prism.Topic += "/"
	}

	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs error
	if c.MQTT.Broker == "" {
		errs = multierr.Append(errs, errors.New("mqtt broker is required"))
	}
	if c.Prism.Topic == "" {
		errs = multierr.Append(errs, errors.New("prism topic must not be empty"))
	}
	if c.Prism.Ports < 1 {
		errs = multierr.Append(errs, fmt.Errorf("prism ports must be at least 1, got %d", c.Prism.Ports))
	}
	if c.Prism.Probe.Enabled && c.Prism.Probe.Timeout <= 0 {
		errs = multierr.Append(errs, errors.New("probe timeout must be positive"))
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("api port %d out of range", c.API.Port))
	}
	if c.MQTT.DiscoveryPrefix == "" || c.MQTT.StatePrefix == "" {
		errs = multierr.Append(errs, errors.New("mqtt topic prefixes must not be empty"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = multierr.Append(errs, errors.New("kafka topic is required when brokers are set"))
	}
	return errs
}
