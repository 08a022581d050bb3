package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Broker   BrokerConfig   `mapstructure:"broker"`
	Detector DetectorConfig `mapstructure:"detector"`
	Forward  ForwardConfig  `mapstructure:"forward"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Media    MediaConfig    `mapstructure:"media"`
	DLQ      DLQConfig      `mapstructure:"dlq"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type BrokerConfig struct {
	URL            string        `mapstructure:"url"`
	Port           int           `mapstructure:"port"`
	Topic          string        `mapstructure:"topic"`
	ClientID       string        `mapstructure:"client_id"`
	QoS            byte          `mapstructure:"qos"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectMax   time.Duration `mapstructure:"reconnect_max"`
}

type DetectorConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type ForwardConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type PipelineConfig struct {
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	// SnapshotBaseURL resolves event IDs to snapshot URLs when the inbound
	// event embeds neither an image nor a snapshot_url.
	SnapshotBaseURL string        `mapstructure:"snapshot_base_url"`
	SnapshotTimeout time.Duration `mapstructure:"snapshot_timeout"`
}

type MediaConfig struct {
	// Path enables archiving converted snapshots to disk when non-empty.
	Path string `mapstructure:"path"`
}

type DLQConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	NatsURL string `mapstructure:"nats_url"`
}

type DedupConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults. Every key gets one, including the required keys that
	// default to empty: viper only surfaces env-bound values to Unmarshal
	// for keys it already knows about.
	v.SetDefault("broker.url", "")
	v.SetDefault("broker.topic", "")
	v.SetDefault("broker.username", "")
	v.SetDefault("broker.password", "")
	v.SetDefault("broker.port", 1883)
	v.SetDefault("broker.client_id", "platewatch-relay")
	v.SetDefault("broker.qos", 1)
	v.SetDefault("broker.connect_timeout", "10s")
	v.SetDefault("broker.reconnect_max", "30s")
	v.SetDefault("detector.url", "")
	v.SetDefault("detector.timeout", "10s")
	v.SetDefault("detector.max_retries", 3)
	v.SetDefault("detector.retry_backoff", "500ms")
	v.SetDefault("forward.url", "")
	v.SetDefault("forward.timeout", "15s")
	v.SetDefault("forward.max_retries", 3)
	v.SetDefault("forward.retry_backoff", "1s")
	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.queue_size", 256)
	v.SetDefault("pipeline.shutdown_grace", "10s")
	v.SetDefault("pipeline.snapshot_base_url", "")
	v.SetDefault("pipeline.snapshot_timeout", "10s")
	v.SetDefault("media.path", "")
	v.SetDefault("dlq.enabled", false)
	v.SetDefault("dlq.nats_url", "nats://localhost:4222")
	v.SetDefault("dedup.enabled", false)
	v.SetDefault("dedup.redis_url", "redis://localhost:6379")
	v.SetDefault("dedup.ttl", "5m")
	v.SetDefault("server.port", 8089)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/platewatch/relay")
	}

	// Environment variables override, e.g. RELAY_BROKER_URL -> broker.url
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that all values required at startup are present. Missing
// required values are a startup error, never discovered at runtime.
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url is required (RELAY_BROKER_URL)")
	}
	if c.Broker.Topic == "" {
		return fmt.Errorf("broker.topic is required (RELAY_BROKER_TOPIC)")
	}
	if c.Forward.URL == "" {
		return fmt.Errorf("forward.url is required (RELAY_FORWARD_URL)")
	}
	if c.Detector.URL == "" {
		return fmt.Errorf("detector.url is required (RELAY_DETECTOR_URL)")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueSize < 0 {
		return fmt.Errorf("pipeline.queue_size must not be negative, got %d", c.Pipeline.QueueSize)
	}
	return nil
}
