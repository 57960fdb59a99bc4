package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	App            AppConfig            `mapstructure:"app"`
	HTTP           HTTPConfig           `mapstructure:"http"`
	Telnyx         TelnyxConfig         `mapstructure:"telnyx"`
	Responder      ResponderConfig      `mapstructure:"responder"`
	Conversation   ConversationConfig   `mapstructure:"conversation"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Queue          QueueConfig          `mapstructure:"queue"`
	Cache          CacheConfig          `mapstructure:"cache"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	OpenTelemetry  OpenTelemetryConfig  `mapstructure:"opentelemetry"`
	Vault          VaultConfig          `mapstructure:"vault"`
	CORS           CORSConfig           `mapstructure:"cors"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	BodyLimit       int           `mapstructure:"body_limit"`
}

type TelnyxConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ResponderConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ConversationConfig struct {
	DefaultVoice       string        `mapstructure:"default_voice"`
	DefaultLanguage    string        `mapstructure:"default_language"`
	FillerText         string        `mapstructure:"filler_text"`
	FillerTimeout      time.Duration `mapstructure:"filler_timeout"`
	GatherInstructions string        `mapstructure:"gather_instructions"`
	GatherTimeout      time.Duration `mapstructure:"gather_timeout"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type QueueConfig struct {
	Driver            string        `mapstructure:"driver"`
	CompletedSubject  string        `mapstructure:"completed_subject"`
	NATSURL           string        `mapstructure:"nats_url"`
	NATSMaxReconnects int           `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait time.Duration `mapstructure:"nats_reconnect_wait"`
	RabbitMQURL       string        `mapstructure:"rabbitmq_url"`
	RabbitMQExchange  string        `mapstructure:"rabbitmq_exchange"`
}

type CacheConfig struct {
	BusinessTTL     time.Duration `mapstructure:"business_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxRequests      int           `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	MinRequests      int           `mapstructure:"min_requests"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type OpenTelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	JaegerURL    string  `mapstructure:"jaeger_url"`
	SamplerRatio float64 `mapstructure:"sampler_ratio"`
}

type VaultConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Path    string `mapstructure:"path"`
}

type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	ExposeHeaders  []string `mapstructure:"expose_headers"`
	MaxAge         int      `mapstructure:"max_age"`
	Credentials    bool     `mapstructure:"credentials"`
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error

	if c.Telnyx.APIKey == "" {
		errs = append(errs, errors.New("telnyx.api_key is required"))
	}
	if c.Responder.URL == "" {
		errs = append(errs, errors.New("responder.url is required"))
	}
	switch c.Queue.Driver {
	case "", "memory", "nats", "rabbitmq":
	default:
		errs = append(errs, fmt.Errorf("queue.driver %q is not supported", c.Queue.Driver))
	}
	if c.Vault.Enabled && c.Vault.Address == "" {
		errs = append(errs, errors.New("vault.address is required when vault is enabled"))
	}

	return errors.Join(errs...)
}
