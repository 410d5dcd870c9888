package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	TrackDesk TrackDeskConfig `yaml:"trackdesk"`
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
	Host                        string `yaml:"host"`
	Port                        int    `yaml:"port"`
	ConsignmentUpdatedTopicName string `yaml:"consignment_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TrackDeskConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	DetailTTLSeconds   int    `yaml:"detail_ttl_seconds"`

	WorkerPollIntervalSeconds int `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int `yaml:"worker_batch_size"`
	WorkerLeaseSeconds        int `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute  int `yaml:"worker_rate_limit_per_minute"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	// Worker scheduling (optional). If not set, defaults are "prod-like"
	// minutes/hours: active: 30..120 minutes, unknown: 90 minutes,
	// backoff: 5/15/30/60 minutes.
	WorkerNextCheckActiveMinSeconds int `yaml:"worker_next_check_active_min_seconds"`
	WorkerNextCheckActiveMaxSeconds int `yaml:"worker_next_check_active_max_seconds"`
	WorkerNextCheckUnknownSeconds   int `yaml:"worker_next_check_unknown_seconds"`
	WorkerBackoff1Seconds           int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds           int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds           int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds           int `yaml:"worker_backoff_4_seconds"`

	ProviderTrackURL              string `yaml:"provider_track_url"`
	ProviderAuthURL               string `yaml:"provider_auth_url"`
	ProviderUsername              string `yaml:"provider_username"`
	ProviderPassword              string `yaml:"provider_password"`
	ProviderStaticToken           string `yaml:"provider_static_token"`
	ProviderTokenTTLSeconds       int    `yaml:"provider_token_ttl_seconds"`
	ProviderRequestTimeoutSeconds int    `yaml:"provider_request_timeout_seconds"`

	// "dtdc" talks to the real API; "fake" serves deterministic local data.
	ProviderMode string `yaml:"provider_mode"`
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
