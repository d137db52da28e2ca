// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfigTokenSecret is the development signing secret; Load rejects it when APP_ENV=production.
const DefaultConfigTokenSecret = "dev-config-token-secret-change-me"

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP ingestion API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health server.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs with in-memory stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DBConnectTimeout bounds how long startup retries the first connection (e.g. "30s").
	DBConnectTimeout string `mapstructure:"DB_CONNECT_TIMEOUT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// SessionTTL is how long a session stays valid after its last token issuance (e.g. "15m").
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// TokenRotateDefault controls whether token-guarded routes other than ingest rotate the token.
	TokenRotateDefault bool `mapstructure:"TOKEN_ROTATE_DEFAULT"`
	// ReplayWindow is the accepted clock skew for signed batches (e.g. "30s").
	ReplayWindow string `mapstructure:"REPLAY_WINDOW"`
	// RequireBatchSignature makes X-Batch-Timestamp/X-Batch-Signature mandatory on ingest.
	RequireBatchSignature bool `mapstructure:"REQUIRE_BATCH_SIGNATURE"`
	// MaxBatchBytes caps the ingest request body size.
	MaxBatchBytes int64 `mapstructure:"MAX_BATCH_BYTES"`
	// BcryptCost is the bcrypt cost factor (4–31) for organization API keys; default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// ConfigTokenSecret signs the HS256 config token returned by bootstrap.
	ConfigTokenSecret string `mapstructure:"CONFIG_TOKEN_SECRET"`
	// ConfigTokenIssuer is the iss claim of config tokens.
	ConfigTokenIssuer string `mapstructure:"CONFIG_TOKEN_ISSUER"`
	// ConfigTokenTTL is the config token lifetime (e.g. "15m").
	ConfigTokenTTL string `mapstructure:"CONFIG_TOKEN_TTL"`

	// Telemetry (optional). When Kafka brokers are set, accepted batches are published to Kafka.
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// KafkaTopic is the Kafka topic for accepted batch records.
	KafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// Worker-only: Loki URL the worker pushes batch records to (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint enables OpenTelemetry export when set (e.g. "localhost:4317").
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS on the OTLP gRPC connection.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OpenTelemetry service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_CONNECT_TIMEOUT", "30s")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SESSION_TTL", "15m")
	v.SetDefault("TOKEN_ROTATE_DEFAULT", false)
	v.SetDefault("REPLAY_WINDOW", "30s")
	v.SetDefault("REQUIRE_BATCH_SIGNATURE", false)
	v.SetDefault("MAX_BATCH_BYTES", 5<<20)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("CONFIG_TOKEN_SECRET", DefaultConfigTokenSecret)
	v.SetDefault("CONFIG_TOKEN_ISSUER", "telemetry-ingest")
	v.SetDefault("CONFIG_TOKEN_TTL", "15m")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "ingest-batches")
	v.SetDefault("KAFKA_GROUP_ID", "ingest-batch-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "telemetry-ingest")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.MaxBatchBytes <= 0 {
		return nil, errors.New("config: MAX_BATCH_BYTES must be positive")
	}
	if cfg.ConfigTokenSecret == "" {
		return nil, errors.New("config: CONFIG_TOKEN_SECRET must be set")
	}
	if cfg.Env == "production" && cfg.ConfigTokenSecret == DefaultConfigTokenSecret {
		return nil, errors.New("config: CONFIG_TOKEN_SECRET must be changed when APP_ENV=production")
	}

	return &cfg, nil
}

// SessionTTLDuration parses SessionTTL. Returns 15m if unset or invalid.
func (c *Config) SessionTTLDuration() time.Duration {
	return parseDuration(c.SessionTTL, 15*time.Minute)
}

// ReplayWindowDuration parses ReplayWindow. Returns 30s if unset or invalid.
func (c *Config) ReplayWindowDuration() time.Duration {
	return parseDuration(c.ReplayWindow, 30*time.Second)
}

// ConfigTokenTTLDuration parses ConfigTokenTTL. Returns 15m if unset or invalid.
func (c *Config) ConfigTokenTTLDuration() time.Duration {
	return parseDuration(c.ConfigTokenTTL, 15*time.Minute)
}

// DBConnectTimeoutDuration parses DBConnectTimeout. Returns 30s if unset or invalid.
func (c *Config) DBConnectTimeoutDuration() time.Duration {
	return parseDuration(c.DBConnectTimeout, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if batch publishing is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
