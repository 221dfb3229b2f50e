package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Detection DetectionConfig `yaml:"detection"`
	Events    EventsConfig    `yaml:"events"`
	Logging   LoggingConfig   `yaml:"logging"`
	Export    ExportConfig    `yaml:"export"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects the session store. Driver "postgres" uses the
// connection fields, "sqlite" uses Path.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

type DetectionConfig struct {
	MinConfidence      float64       `yaml:"min_confidence"`
	MinRepInterval     time.Duration `yaml:"min_rep_interval"`
	Center             float64       `yaml:"center"`
	ModelVersion       string        `yaml:"model_version"`
	DegradedWindow     int           `yaml:"degraded_window"`
	DegradedThreshold  float64       `yaml:"degraded_threshold"`
	DefaultSensitivity string        `yaml:"default_sensitivity"`
	ReversalWindow     time.Duration `yaml:"reversal_window"`
}

type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type ExportConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
	MQTT  MQTTConfig  `yaml:"mqtt"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether the Kafka sink is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 && k.Topic != "" }

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// Enabled reports whether the MQTT sink is configured.
func (m MQTTConfig) Enabled() bool { return m.Broker != "" && m.Topic != "" }

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// Default returns a config with every optional field filled in.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: 8080},
		Database: DatabaseConfig{Driver: "postgres", Port: 5432, Path: "pushreps.db"},
		Tailscale: TailscaleConfig{
			Hostname: "pushreps",
			StateDir: "tsnet-state",
		},
		Detection: DetectionConfig{
			MinConfidence:      0.3,
			MinRepInterval:     300 * time.Millisecond,
			Center:             0.7,
			ModelVersion:       "movenet-lightning-4",
			DegradedWindow:     30,
			DegradedThreshold:  0.5,
			DefaultSensitivity: "medium",
			ReversalWindow:     10 * time.Second,
		},
		Events:  EventsConfig{Buffer: 64},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Export: ExportConfig{
			MQTT: MQTTConfig{ClientID: "pushreps", QoS: 1},
		},
	}
}

// Load reads config from a YAML file over the defaults, then applies
// environment variable overrides. Env vars use the prefix PUSHREPS_ and
// underscore-separated paths:
//
//	PUSHREPS_SERVER_HOST, PUSHREPS_SERVER_PORT,
//	PUSHREPS_DB_DRIVER, PUSHREPS_DB_HOST, PUSHREPS_DB_PORT, PUSHREPS_DB_NAME,
//	PUSHREPS_DB_USER, PUSHREPS_DB_PASSWORD, PUSHREPS_DB_SSLMODE, PUSHREPS_DB_PATH,
//	PUSHREPS_AUTH_API_KEY, PUSHREPS_TAILSCALE_ENABLED,
//	PUSHREPS_DETECTION_MIN_CONFIDENCE, PUSHREPS_DETECTION_MIN_REP_INTERVAL,
//	PUSHREPS_LOG_LEVEL, PUSHREPS_LOG_FORMAT, PUSHREPS_LOG_FILE,
//	PUSHREPS_KAFKA_BROKERS (comma-separated), PUSHREPS_KAFKA_TOPIC,
//	PUSHREPS_MQTT_BROKER, PUSHREPS_MQTT_TOPIC
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PUSHREPS_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PUSHREPS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PUSHREPS_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("PUSHREPS_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PUSHREPS_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("PUSHREPS_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("PUSHREPS_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PUSHREPS_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PUSHREPS_DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("PUSHREPS_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PUSHREPS_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("PUSHREPS_TAILSCALE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = b
		}
	}
	if v := os.Getenv("PUSHREPS_DETECTION_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.MinConfidence = f
		}
	}
	if v := os.Getenv("PUSHREPS_DETECTION_MIN_REP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detection.MinRepInterval = d
		}
	}
	if v := os.Getenv("PUSHREPS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PUSHREPS_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PUSHREPS_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("PUSHREPS_KAFKA_BROKERS"); v != "" {
		cfg.Export.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PUSHREPS_KAFKA_TOPIC"); v != "" {
		cfg.Export.Kafka.Topic = v
	}
	if v := os.Getenv("PUSHREPS_MQTT_BROKER"); v != "" {
		cfg.Export.MQTT.Broker = v
	}
	if v := os.Getenv("PUSHREPS_MQTT_TOPIC"); v != "" {
		cfg.Export.MQTT.Topic = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if c.Database.Port == 0 {
			return fmt.Errorf("database.port is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	d := c.Detection
	if d.MinConfidence <= 0 || d.MinConfidence >= 1 {
		return fmt.Errorf("detection.min_confidence must be in (0, 1)")
	}
	if d.MinRepInterval < 0 {
		return fmt.Errorf("detection.min_rep_interval must not be negative")
	}
	if d.Center <= 0 || d.Center >= 1 {
		return fmt.Errorf("detection.center must be in (0, 1)")
	}
	if d.DegradedWindow <= 0 {
		return fmt.Errorf("detection.degraded_window must be positive")
	}
	if d.DegradedThreshold <= 0 || d.DegradedThreshold >= 1 {
		return fmt.Errorf("detection.degraded_threshold must be in (0, 1)")
	}
	switch d.DefaultSensitivity {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("detection.default_sensitivity must be low, medium or high")
	}
	if c.Events.Buffer <= 0 {
		return fmt.Errorf("events.buffer must be positive")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}
