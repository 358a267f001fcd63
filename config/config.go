package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Carriers CarriersConfig `yaml:"carriers"`
}

type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	SwaggerPath string `yaml:"swagger_path"`
}

// StorageConfig selects the order store backend: "file" (default) keeps the
// collection in a JSON file, "postgres" uses the database section.
type StorageConfig struct {
	Backend      string `yaml:"backend"`
	OrdersFile   string `yaml:"orders_file"`
	SettingsFile string `yaml:"settings_file"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// RedisConfig is optional; an empty host disables the doar response cache
// and rate limiter.
type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// KafkaConfig is optional; an empty host disables tracking-updated events.
type KafkaConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	TrackingUpdatedTopic  string `yaml:"tracking_updated_topic_name"`
}

type CarriersConfig struct {
	CainiaoBaseURL string `yaml:"cainiao_base_url"`
	DoarBaseURL    string `yaml:"doar_base_url"`

	DoarCacheTTLSeconds    int `yaml:"doar_cache_ttl_seconds"`
	DoarRateLimitPerMinute int `yaml:"doar_rate_limit_per_minute"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.OrdersFile == "" {
		c.Storage.OrdersFile = "orders.json"
	}
	if c.Storage.SettingsFile == "" {
		c.Storage.SettingsFile = "settings.json"
	}
	if c.Kafka.TrackingUpdatedTopic == "" {
		c.Kafka.TrackingUpdatedTopic = "order.tracking_updated"
	}
}
