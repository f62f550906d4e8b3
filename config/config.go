package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string        `env:"APP_NAME" env-default:"lifecycle"`
	Version                       string        `env:"APP_VERSION" env-default:"dev"`
	Port                          int           `env:"PORT" env-default:"3000"`
	LogLevel                      string        `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool          `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int           `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int           `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int           `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int           `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int           `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string      `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string      `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int           `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`
	ShutdownTimeout               time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"15s"`

	// Database host. Empty runs the engine on the in-memory store.
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"lifecycle"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis host. Empty disables the shared refresh lock and the send throttle.
	RedisHost string `env:"REDIS_HOST" env-default:""`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`
	// Prefix of every key the engine writes
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" env-default:"lifecycle"`

	// Kafka brokers (comma-separated). Empty disables lifecycle events.
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:""`
	// Kafka topic for message lifecycle events
	KafkaEventsTopic string `env:"KAFKA_EVENTS_TOPIC" env-default:"lifecycle-events"`

	// Scheduler settings
	SchedulerEnabled      bool          `env:"SCHEDULER_ENABLED" env-default:"true"`
	SchedulerPollInterval time.Duration `env:"SCHEDULER_POLL_INTERVAL" env-default:"30s"`
	SchedulerWorkers      int           `env:"SCHEDULER_WORKERS" env-default:"8"`
	SchedulerBatchSize    int           `env:"SCHEDULER_BATCH_SIZE" env-default:"100"`
	// How long a message may stay claimed before it is recovered
	SchedulerClaimTimeout time.Duration `env:"SCHEDULER_CLAIM_TIMEOUT" env-default:"10m"`
	// Recorded as claimed_by; defaults to hostname-pid
	SchedulerWorkerID string `env:"SCHEDULER_WORKER_ID" env-default:""`

	// Send throttle per (restaurant, channel), only with Redis
	SendRateLimit  int           `env:"SEND_RATE_LIMIT" env-default:"60"`
	SendRateWindow time.Duration `env:"SEND_RATE_WINDOW" env-default:"1m"`

	// Providers
	WhatsAppBaseURL    string        `env:"WHATSAPP_BASE_URL" env-default:"https://api.twilio.com"`
	EmailBaseURL       string        `env:"EMAIL_BASE_URL" env-default:"https://api.resend.com"`
	DefaultPhoneRegion string        `env:"DEFAULT_PHONE_REGION" env-default:"ES"`
	ProviderTimeout    time.Duration `env:"PROVIDER_TIMEOUT" env-default:"10s"`
	CredentialCacheTTL time.Duration `env:"CREDENTIAL_CACHE_TTL" env-default:"5m"`

	// Outbound webhook endpoints (comma-separated)
	WebhookForwardURLs    string        `env:"WEBHOOK_FORWARD_URLS" env-default:""`
	WebhookForwardSecret  string        `env:"WEBHOOK_FORWARD_SECRET" env-default:""`
	WebhookForwardTimeout time.Duration `env:"WEBHOOK_FORWARD_TIMEOUT" env-default:"5s"`

	// Provider health monitor
	MonitorSize           int           `env:"MONITOR_SIZE" env-default:"10000"`
	MonitorTTL            time.Duration `env:"MONITOR_TTL" env-default:"24h"`
	MonitorBurstWindow    time.Duration `env:"MONITOR_BURST_WINDOW" env-default:"5m"`
	MonitorBurstThreshold int           `env:"MONITOR_BURST_THRESHOLD" env-default:"5"`
	MonitorSweepInterval  time.Duration `env:"MONITOR_SWEEP_INTERVAL" env-default:"30s"`

	// How far ahead analytics refresh scores reservations
	RiskHorizon time.Duration `env:"RISK_HORIZON" env-default:"72h"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return &cfg, nil
}

// DatabaseEnabled reports whether Postgres is configured.
func (c *Config) DatabaseEnabled() bool {
	return c.DatabaseHost != ""
}
