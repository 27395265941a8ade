package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	ShipSync ShipSyncConfig `yaml:"shipsync"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                       string `yaml:"host"`
	Port                       int    `yaml:"port"`
	JobProgressedTopicName     string `yaml:"job_progressed_topic_name"`
	ShipmentSyncedTopicName    string `yaml:"shipment_synced_topic_name"`
	FulfillmentOrderReadyTopic string `yaml:"fulfillment_order_ready_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ShipSyncConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	ShopifyAPIVersion         string `yaml:"shopify_api_version"`
	TokenCacheTTLSeconds      int    `yaml:"token_cache_ttl_seconds"`
	ShopifyRateLimitPerMinute int    `yaml:"shopify_rate_limit_per_minute"`

	WorkerHTTPAddr             string `yaml:"worker_http_addr"`
	WorkerSweepIntervalSeconds int    `yaml:"worker_sweep_interval_seconds"`
	WorkerJobLimit             int    `yaml:"worker_job_limit"`
	WorkerItemLimit            int    `yaml:"worker_item_limit"`
	WorkerStaleLockSeconds     int    `yaml:"worker_stale_lock_seconds"`
	WorkerResyncLimit          int    `yaml:"worker_resync_limit"`
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

	return &config, nil
}
