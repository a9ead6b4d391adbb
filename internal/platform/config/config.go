package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the procflow server.
// Values come from an optional YAML file, overridden by environment variables.
// Secrets are environment-only.
type Config struct {
	Server    Server          `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Audit     AuditConfig     `yaml:"audit"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr" env:"PROCFLOW_ADDR" env-default:":8080"`
	Name            string        `yaml:"name" env:"PROCFLOW_SERVER_NAME" env-default:"procflow"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"PROCFLOW_SHUTDOWN_TIMEOUT" env-default:"15s"`
}

// DatabaseConfig is the Postgres connection. An empty URL selects in-memory stores.
type DatabaseConfig struct {
	URL             string        `yaml:"-" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS" env-default:"20"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME" env-default:"30m"`
	MigrateOnStart  bool          `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START" env-default:"true"`
}

// RedisConfig backs idempotency keys. An empty URL selects the in-memory store.
type RedisConfig struct {
	URL          string        `yaml:"-" env:"REDIS_URL"`
	PoolSize     int           `yaml:"pool_size" env:"REDIS_POOL_SIZE" env-default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" env-default:"2"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" env-default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"REDIS_READ_TIMEOUT" env-default:"3s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"REDIS_WRITE_TIMEOUT" env-default:"3s"`
}

// KafkaConfig enables the audit stream when Brokers is non-empty.
type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	AuditTopic        string        `yaml:"audit_topic" env:"KAFKA_AUDIT_TOPIC" env-default:"procflow.audit"`
	ClientID          string        `yaml:"client_id" env:"KAFKA_CLIENT_ID" env-default:"procflow"`
	Partitions        int32         `yaml:"partitions" env:"KAFKA_PARTITIONS" env-default:"3"`
	ReplicationFactor int16         `yaml:"replication_factor" env:"KAFKA_REPLICATION_FACTOR" env-default:"1"`
	DeliveryTimeout   time.Duration `yaml:"delivery_timeout" env:"KAFKA_DELIVERY_TIMEOUT" env-default:"10s"`
	BufferSize        int           `yaml:"buffer_size" env:"KAFKA_AUDIT_BUFFER_SIZE" env-default:"1000"`
}

// Audit sink kinds.
const (
	SinkPostgres = "postgres"
	SinkSQLite   = "sqlite"
	SinkMemory   = "memory"
)

type AuditConfig struct {
	Sink          string        `yaml:"sink" env:"AUDIT_SINK" env-default:"postgres"`
	SQLitePath    string        `yaml:"sqlite_path" env:"AUDIT_SQLITE_PATH" env-default:"audit.db"`
	Workers       int           `yaml:"workers" env:"AUDIT_WORKERS" env-default:"4"`
	QueueSize     int           `yaml:"queue_size" env:"AUDIT_QUEUE_SIZE" env-default:"100"`
	RetentionDays int           `yaml:"retention_days" env:"AUDIT_RETENTION_DAYS" env-default:"180"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"AUDIT_SWEEP_INTERVAL" env-default:"24h"`
	SlowThreshold time.Duration `yaml:"slow_threshold" env:"AUDIT_SLOW_THRESHOLD" env-default:"3s"`
}

type WorkflowConfig struct {
	BackendTimeout       time.Duration `yaml:"backend_timeout" env:"WORKFLOW_BACKEND_TIMEOUT" env-default:"5s"`
	IdempotencyTTL       time.Duration `yaml:"idempotency_ttl" env:"WORKFLOW_IDEMPOTENCY_TTL" env-default:"24h"`
	LeaveEscalationDays  int           `yaml:"leave_escalation_days" env:"WORKFLOW_LEAVE_ESCALATION_DAYS" env-default:"3"`
	FinanceApprovalLimit string        `yaml:"finance_approval_limit" env:"WORKFLOW_FINANCE_APPROVAL_LIMIT" env-default:"10000"`
	DirectoryFile        string        `yaml:"directory_file" env:"WORKFLOW_DIRECTORY_FILE"`
}

type AuthConfig struct {
	JWTSigningKey string `yaml:"-" env:"JWT_SIGNING_KEY"`
	Issuer        string `yaml:"issuer" env:"JWT_ISSUER" env-default:"procflow"`
	Audience      string `yaml:"audience" env:"JWT_AUDIENCE" env-default:"procflow-api"`
}

// RateLimitConfig bounds state-changing requests per user. Zero disables it.
type RateLimitConfig struct {
	WritesPerWindow int           `yaml:"writes_per_window" env:"RATELIMIT_WRITES_PER_WINDOW" env-default:"60"`
	Window          time.Duration `yaml:"window" env:"RATELIMIT_WINDOW" env-default:"1m"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Load reads an optional .env file, then the YAML file at path (if it
// exists), then the environment.
func Load(path string) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	if _, statErr := os.Stat(path); path != "" && statErr == nil {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints that tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required"))
	}
	switch c.Audit.Sink {
	case SinkPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("AUDIT_SINK=postgres requires DATABASE_URL"))
		}
	case SinkSQLite, SinkMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown AUDIT_SINK %q", c.Audit.Sink))
	}
	if c.Audit.Workers < 1 || c.Audit.Workers > 16 {
		errs = append(errs, errors.New("AUDIT_WORKERS must be between 1 and 16"))
	}
	if c.Audit.QueueSize < 1 {
		errs = append(errs, errors.New("AUDIT_QUEUE_SIZE must be positive"))
	}
	if c.Workflow.BackendTimeout <= 0 {
		errs = append(errs, errors.New("WORKFLOW_BACKEND_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}
