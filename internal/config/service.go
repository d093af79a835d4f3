// Package config loads the service environment and the protocol parameter file.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every service variable, e.g. USDN_HTTP_ADDR.
const EnvPrefix = "USDN"

// Oracle modes.
const (
	OracleModeFeed = "feed" // prices from the NATS price stream
	OracleModeHTTP = "http" // prices from a REST oracle
)

// ServiceConfig is the host service configuration.
type ServiceConfig struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	GRPCAddr    string `envconfig:"GRPC_ADDR" default:":9090"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9100"`

	PostgresDSN string `envconfig:"POSTGRES_DSN"`
	RedisURL    string `envconfig:"REDIS_URL"`
	NATSURL     string `envconfig:"NATS_URL"`

	OracleMode   string        `envconfig:"ORACLE_MODE" default:"feed"`
	OracleURL    string        `envconfig:"ORACLE_URL"`
	OracleMaxAge time.Duration `envconfig:"ORACLE_MAX_AGE" default:"0s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`

	SnapshotInterval time.Duration `envconfig:"SNAPSHOT_INTERVAL" default:"1m"`
	SnapshotCacheTTL time.Duration `envconfig:"SNAPSHOT_CACHE_TTL" default:"10m"`
	EventBatchSize   int           `envconfig:"EVENT_BATCH_SIZE" default:"256"`
	EventFlush       time.Duration `envconfig:"EVENT_FLUSH" default:"200ms"`

	IdempotencyCapacity int           `envconfig:"IDEMPOTENCY_CAPACITY" default:"100000"`
	IdempotencyTTL      time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	HistoryCapacity     int           `envconfig:"HISTORY_CAPACITY" default:"10000"`

	// EnableFaucet exposes POST /api/v1/faucet. Test networks only.
	EnableFaucet bool `envconfig:"ENABLE_FAUCET" default:"false"`

	ProtocolFile string `envconfig:"PROTOCOL_FILE"`
}

// LoadServiceConfig reads USDN_* variables and validates them.
func LoadServiceConfig() (*ServiceConfig, error) {
	var cfg ServiceConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the parts of the configuration that have no safe default.
func (c *ServiceConfig) Validate() error {
	switch c.OracleMode {
	case OracleModeFeed:
		if c.NATSURL == "" {
			return fmt.Errorf("oracle mode %q needs USDN_NATS_URL", c.OracleMode)
		}
	case OracleModeHTTP:
		if c.OracleURL == "" {
			return fmt.Errorf("oracle mode %q needs USDN_ORACLE_URL", c.OracleMode)
		}
	default:
		return fmt.Errorf("unknown oracle mode %q", c.OracleMode)
	}
	if c.SnapshotInterval <= 0 {
		return fmt.Errorf("snapshot interval must be > 0, got %s", c.SnapshotInterval)
	}
	if c.EventBatchSize <= 0 {
		return fmt.Errorf("event batch size must be > 0, got %d", c.EventBatchSize)
	}
	if c.IdempotencyCapacity <= 0 || c.HistoryCapacity <= 0 {
		return fmt.Errorf("idempotency and history capacities must be > 0")
	}
	if c.OracleMaxAge < 0 {
		return fmt.Errorf("oracle max age must be >= 0, got %s", c.OracleMaxAge)
	}
	return nil
}
