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
	PackBox  PackBoxConfig  `yaml:"packbox"`
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
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	JobUpdatedTopicName string `yaml:"job_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type PackBoxConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	WorkerHTTPAddr     string `yaml:"worker_http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// APIToken пустой — enqueue-эндпоинт открыт (локальный запуск).
	APIToken string `yaml:"api_token"`

	CurrentStateTTLSeconds int `yaml:"current_state_ttl_seconds"`

	// Куда складывать итоговый склеенный документ и (в dry-run)
	// отдельные этикетки.
	OutputDir string `yaml:"output_dir"`
	LabelDir  string `yaml:"label_dir"`

	WorkerPollIntervalSeconds int `yaml:"worker_poll_interval_seconds"`
	WorkerMaxAttempts         int `yaml:"worker_max_attempts"`
	WorkerRateLimitPerMinute  int `yaml:"worker_rate_limit_per_minute"`
	WorkerBackoffBaseSeconds  int `yaml:"worker_backoff_base_seconds"`
	WorkerBackoffMaxSeconds   int `yaml:"worker_backoff_max_seconds"`

	// BookingMode: "bring" — боевой API, "fake" — dry-run с локальными
	// этикетками. По умолчанию fake, чтобы случайный запуск ничего не бронировал.
	BookingMode string `yaml:"booking_mode"`

	ReportingEnabled bool `yaml:"reporting_enabled"`

	Bring   BringConfig   `yaml:"bring"`
	Shopify ShopifyConfig `yaml:"shopify"`
}

type BringConfig struct {
	BookingURL     string `yaml:"booking_url"`
	APIUID         string `yaml:"api_uid"`
	APIKey         string `yaml:"api_key"`
	CustomerNumber string `yaml:"customer_number"`
	ClientURL      string `yaml:"client_url"`
	Product        string `yaml:"product"`
	TestMode       bool   `yaml:"test_mode"`

	SenderName       string `yaml:"sender_name"`
	SenderAddress    string `yaml:"sender_address"`
	SenderPostalCode string `yaml:"sender_postal_code"`
	SenderCity       string `yaml:"sender_city"`
	SenderCountry    string `yaml:"sender_country"`
}

type ShopifyConfig struct {
	Domain      string `yaml:"domain"`
	AccessToken string `yaml:"access_token"`
	APIVersion  string `yaml:"api_version"`
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
