package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port            string        `yaml:"port"`
	ServiceName     string        `yaml:"service_name"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Logger    LoggerConfig    `yaml:"logger"`
	Liveness  LivenessConfig  `yaml:"liveness"`
	Batch     BatchConfig     `yaml:"batch"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Redis     RedisConfig     `yaml:"redis"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type LivenessConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

type BatchConfig struct {
	Delay      time.Duration `yaml:"delay"`
	MaxPending int           `yaml:"max_pending"`
}

type ResolverConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	URL         string        `yaml:"url"`
	Stream      string        `yaml:"stream"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
}

type MQTTConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
}

func Default() *Config {
	return &Config{
		Port:            "8080",
		ServiceName:     "scanner-bridge",
		ShutdownTimeout: 10 * time.Second,
		Logger:          LoggerConfig{Level: "info", Format: "text"},
		Liveness:        LivenessConfig{ProbeInterval: 30 * time.Second},
		Batch:           BatchConfig{Delay: time.Second},
		Resolver:        ResolverConfig{Timeout: 5 * time.Second},
		Redis:           RedisConfig{Stream: "scanner:batches", PingTimeout: 2 * time.Second},
		MQTT:            MQTTConfig{Topic: "scanner/batches"},
	}
}

// Load layers defaults, the optional YAML file named by CONFIG_FILE, and
// environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.Logger.Level = getEnv("LOG_LEVEL", c.Logger.Level)
	c.Logger.Format = getEnv("LOG_FORMAT", c.Logger.Format)

	c.Liveness.ProbeInterval = getEnvDuration("PROBE_INTERVAL", c.Liveness.ProbeInterval)

	c.Batch.Delay = getEnvDuration("BATCH_DELAY", c.Batch.Delay)
	c.Batch.MaxPending = getEnvInt("BATCH_MAX_PENDING", c.Batch.MaxPending)

	c.Resolver.BaseURL = getEnv("RESOLVER_BASE_URL", c.Resolver.BaseURL)
	c.Resolver.Timeout = getEnvDuration("RESOLVE_TIMEOUT", c.Resolver.Timeout)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Redis.Stream = getEnv("REDIS_STREAM", c.Redis.Stream)

	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Topic = getEnv("MQTT_TOPIC", c.MQTT.Topic)

	c.Telemetry.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.Endpoint)
}

func (c *Config) Validate() error {
	var errs []error
	if port, err := strconv.Atoi(c.Port); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %q", c.Port))
	}
	if c.Liveness.ProbeInterval <= 0 {
		errs = append(errs, errors.New("probe interval must be positive"))
	}
	if c.Batch.Delay <= 0 {
		errs = append(errs, errors.New("batch delay must be positive"))
	}
	if c.Batch.MaxPending < 0 {
		errs = append(errs, errors.New("batch max pending must not be negative"))
	}
	if c.Resolver.Timeout <= 0 {
		errs = append(errs, errors.New("resolve timeout must be positive"))
	}
	return errors.Join(errs...)
}
