package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	LinkStorePostgres = "postgres"
	LinkStoreMemory   = "memory"
	LinkStoreGraph    = "graph"

	LockerLocal = "local"
	LockerRedis = "redis"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" envDefault:"clover-api"`
	Version                       string   `env:"APP_VERSION" envDefault:"dev"`
	Port                          int      `env:"PORT" envDefault:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" envDefault:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" envDefault:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" envDefault:"30"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" envDefault:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" envDefault:"60"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" envDefault:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" envDefault:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" envDefault:"*"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" envDefault:"5"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// Matching
	RuleSetPath    string `env:"RULESET_PATH" envDefault:"rulesets/person.yaml"`
	CandidateLimit int    `env:"CANDIDATE_LIMIT" envDefault:"100"`
	BatchWorkers   int    `env:"BATCH_WORKERS" envDefault:"8"`

	// Workflow retries
	StoreRetryAttempts  int           `env:"STORE_RETRY_ATTEMPTS" envDefault:"3"`
	StoreRetryBaseDelay time.Duration `env:"STORE_RETRY_BASE_DELAY" envDefault:"50ms"`
	MaxLockRetries      int           `env:"MAX_LOCK_RETRIES" envDefault:"3"`

	// Storage
	LinkStore string `env:"LINK_STORE" envDefault:"postgres"`

	// PostgreSQL
	DatabaseHost                string        `env:"DB_HOST" envDefault:"localhost"`
	DatabasePort                string        `env:"DB_PORT" envDefault:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" envDefault:""`
	DatabasePassword            string        `env:"DB_PASSWORD" envDefault:""`
	DatabaseName                string        `env:"DB_NAME" envDefault:"clover"`
	DatabaseSSLMode             string        `env:"DB_SSL_MODE" envDefault:"disable"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" envDefault:"db/pg"`

	// Graph database (Memgraph or Neo4j), used when LINK_STORE=graph
	GraphDBHost     string `env:"GRAPH_DB_HOST" envDefault:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" envDefault:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" envDefault:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" envDefault:""`

	// Locking
	Locker        string        `env:"LOCKER" envDefault:"local"`
	RedisHost     string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	LockTTL       time.Duration `env:"LOCK_TTL" envDefault:"30s"`
	LockTimeout   time.Duration `env:"LOCK_TIMEOUT" envDefault:"10s"`

	// Kafka consumer (record changes)
	KafkaBrokers         []string      `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaConsumerEnabled bool          `env:"KAFKA_CONSUMER_ENABLED" envDefault:"false"`
	KafkaInputTopic      string        `env:"KAFKA_INPUT_TOPIC" envDefault:"record-changes"`
	KafkaConsumerGroup   string        `env:"KAFKA_CONSUMER_GROUP" envDefault:"clover-consumer"`
	KafkaMaxAttempts     int           `env:"KAFKA_MAX_ATTEMPTS" envDefault:"3"`
	KafkaRetryDelay      time.Duration `env:"KAFKA_RETRY_DELAY" envDefault:"200ms"`

	// Kafka producer (link events)
	KafkaProducerEnabled bool   `env:"KAFKA_PRODUCER_ENABLED" envDefault:"false"`
	KafkaOutputTopic     string `env:"KAFKA_OUTPUT_TOPIC" envDefault:"link-events"`
	KafkaBatchSize       int    `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	KafkaBatchTimeoutMs  int    `env:"KAFKA_BATCH_TIMEOUT_MS" envDefault:"10"`
	KafkaCompression     string `env:"KAFKA_COMPRESSION" envDefault:"snappy"`

	// Tracing
	TraceExporter string        `env:"TRACE_EXPORTER" envDefault:"none"`
	OTLPEndpoint  string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTLPInsecure  bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTLPTimeout   time.Duration `env:"OTEL_EXPORTER_OTLP_TIMEOUT" envDefault:"10s"`
}

// Load reads .env files that exist, then the environment.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated settings and the bounds the workflow relies on.
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(name, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s must be one of %s, got %q", name, strings.Join(allowed, ", "), value))
	}

	oneOf("LINK_STORE", c.LinkStore, LinkStorePostgres, LinkStoreMemory, LinkStoreGraph)
	oneOf("LOCKER", c.Locker, LockerLocal, LockerRedis)
	oneOf("TRACE_EXPORTER", c.TraceExporter, "otlp-grpc", "otlp-http", "none")
	oneOf("KAFKA_COMPRESSION", c.KafkaCompression, "none", "gzip", "snappy", "lz4", "zstd")

	if c.RuleSetPath == "" {
		errs = append(errs, errors.New("RULESET_PATH is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if c.CandidateLimit <= 0 {
		errs = append(errs, errors.New("CANDIDATE_LIMIT must be positive"))
	}
	if c.StoreRetryAttempts <= 0 {
		errs = append(errs, errors.New("STORE_RETRY_ATTEMPTS must be positive"))
	}
	if (c.KafkaConsumerEnabled || c.KafkaProducerEnabled) && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when kafka is enabled"))
	}
	return errors.Join(errs...)
}
