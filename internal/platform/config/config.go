// Package config loads process configuration from the environment, plus an
// optional YAML bootstrap file that seeds fee settings and yield adapters.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Server captures HTTP server and infrastructure configuration.
type Server struct {
	Addr            string        `env:"SPENDWISE_ADDR" envDefault:":8080"`
	Environment     string        `env:"SPENDWISE_ENV" envDefault:"dev"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	JWTSigningKey   string        `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer       string        `env:"JWT_ISSUER" envDefault:"spendwise"`
	AdminTokenHash  string        `env:"ADMIN_TOKEN_HASH"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	BootstrapFile   string        `env:"BOOTSTRAP_FILE"`
	// AuditBuffer > 0 persists events from a background writer.
	AuditBuffer     int           `env:"AUDIT_ASYNC_BUFFER" envDefault:"0"`

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Ledger   LedgerConfig
	Jobs     JobsConfig
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// RedisConfig enables the distributed per-user lock and delegate allowances.
// Empty URL means single-instance mode with in-process equivalents.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

type KafkaConfig struct {
	Brokers        []string      `env:"KAFKA_BROKERS" envSeparator:","`
	Topic          string        `env:"KAFKA_EVENTS_TOPIC" envDefault:"spendwise.ledger-events"`
	Partitions     int32         `env:"KAFKA_TOPIC_PARTITIONS" envDefault:"6"`
	Replication    int16         `env:"KAFKA_TOPIC_REPLICATION" envDefault:"1"`
	RelayInterval  time.Duration `env:"OUTBOX_RELAY_INTERVAL" envDefault:"1s"`
	RelayBatchSize int           `env:"OUTBOX_RELAY_BATCH_SIZE" envDefault:"100"`
}

type LedgerConfig struct {
	AdapterTimeout   time.Duration `env:"ADAPTER_TIMEOUT" envDefault:"5s"`
	LockTTL          time.Duration `env:"LEDGER_LOCK_TTL" envDefault:"30s"`
	BreakerFailures  int           `env:"ADAPTER_BREAKER_FAILURES" envDefault:"3"`
	BreakerSuccesses int           `env:"ADAPTER_BREAKER_SUCCESSES" envDefault:"2"`
	Asset            string        `env:"LEDGER_ASSET" envDefault:"USDC"`
}

type JobsConfig struct {
	ProbeCron     string `env:"ADAPTER_PROBE_CRON" envDefault:"0 */1 * * * *"`
	ValuationCron string `env:"VALUATION_REFRESH_CRON" envDefault:"0 0 * * * *"`
}

// FromEnv builds a Server config from environment variables.
func FromEnv() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Bootstrap seeds process-wide state at startup.
type Bootstrap struct {
	Fees struct {
		SpendingBPS      uint32 `yaml:"spending_bps"`
		InvestmentBPS    uint32 `yaml:"investment_bps"`
		SavingsBPS       uint32 `yaml:"savings_bps"`
		ProtocolShareBPS uint32 `yaml:"protocol_share_bps"`
		Policy           string `yaml:"policy"`
	} `yaml:"fees"`
	VolumeTiers []struct {
		Threshold   int64  `yaml:"threshold"`
		DiscountBPS uint32 `yaml:"discount_bps"`
	} `yaml:"volume_tiers"`
	YieldDiscountBPS uint32             `yaml:"yield_discount_bps"`
	Adapters         []BootstrapAdapter `yaml:"adapters"`
}

type BootstrapAdapter struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	// Kind is "vault" (in-process) or "http".
	Kind        string `yaml:"kind"`
	ContractRef string `yaml:"contract_ref"`
	BaseURL     string `yaml:"base_url"`
	APY         string `yaml:"apy"`
}

// LoadBootstrap reads the YAML bootstrap file. A missing path yields an empty
// bootstrap.
func LoadBootstrap(path string) (*Bootstrap, error) {
	b := &Bootstrap{}
	if path == "" {
		return b, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, fmt.Errorf("read bootstrap: %w", err)
	}
	if err := yaml.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("parse bootstrap: %w", err)
	}
	return b, nil
}
