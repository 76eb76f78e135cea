package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Aggregation struct {
		Deadline        time.Duration `yaml:"deadline"`
		PerVenueTimeout time.Duration `yaml:"per_venue_timeout"`
		GracePeriod     time.Duration `yaml:"grace_period"`
		MaxQuotes       int           `yaml:"max_quotes"`
		DefaultStrategy string        `yaml:"default_strategy"`
		Weights         struct {
			Price       float64 `yaml:"price"`
			FillRatio   float64 `yaml:"fill_ratio"`
			Reliability float64 `yaml:"reliability"`
		} `yaml:"weights"`
	} `yaml:"aggregation"`
	Breaker struct {
		FailureThreshold int           `yaml:"failure_threshold"`
		RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	} `yaml:"breaker"`
	Retry struct {
		MaxAttempts int           `yaml:"max_attempts"`
		BaseBackoff time.Duration `yaml:"base_backoff"`
		Multiplier  float64       `yaml:"multiplier"`
		MaxBackoff  time.Duration `yaml:"max_backoff"`
		Jitter      bool          `yaml:"jitter"`
	} `yaml:"retry"`
	Venues struct {
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		HTTPTimeout      time.Duration `yaml:"http_timeout"`
		Registry         []VenueSeed   `yaml:"registry"`
	} `yaml:"venues"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		PerfTopic    string   `yaml:"perf_topic"`
		LogsTopic    string   `yaml:"logs_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Reliability struct {
		Window       time.Duration `yaml:"window"`
		CacheTTL     time.Duration `yaml:"cache_ttl"`
		StoreWeight  float64       `yaml:"store_weight"`
		RecentWeight float64       `yaml:"recent_weight"`
	} `yaml:"reliability"`
	Settlement struct {
		BaseURL    string        `yaml:"base_url"`
		Timeout    time.Duration `yaml:"timeout"`
		Workers    int           `yaml:"workers"`
		RetryLimit int           `yaml:"retry_limit"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"settlement"`
}

// VenueSeed describes a venue to upsert into the registry at startup.
type VenueSeed struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Endpoint    string `yaml:"endpoint"`
	TimeoutMs   int64  `yaml:"timeout_ms"`
	MaxInFlight int    `yaml:"max_in_flight"`
	Enabled     bool   `yaml:"enabled"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_PERF_TOPIC"); v != "" {
		c.Kafka.PerfTopic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("SETTLEMENT_URL"); v != "" {
		c.Settlement.BaseURL = v
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	switch c.Aggregation.DefaultStrategy {
	case "", "best_price", "weighted_score":
	default:
		return fmt.Errorf("aggregation.default_strategy must be 'best_price' or 'weighted_score', got '%s'", c.Aggregation.DefaultStrategy)
	}
	for _, v := range c.Venues.Registry {
		if v.ID == "" || v.Endpoint == "" {
			return fmt.Errorf("venues.registry entries need id and endpoint")
		}
		switch v.Type {
		case "http", "websocket":
		default:
			return fmt.Errorf("venue %s: type must be 'http' or 'websocket', got '%s'", v.ID, v.Type)
		}
	}
	if c.Breaker.FailureThreshold < 0 {
		return fmt.Errorf("breaker.failure_threshold must not be negative")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative")
	}
	w := c.Aggregation.Weights
	if sum := w.Price + w.FillRatio + w.Reliability; sum != 0 && (sum < 0.999 || sum > 1.001) {
		return fmt.Errorf("aggregation.weights must sum to 1.0, got %.3f", sum)
	}
	return nil
}
