package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Fees       FeeConfig        `mapstructure:"fees"`
	Reputation ReputationConfig `mapstructure:"reputation"`
	Compliance ComplianceConfig `mapstructure:"compliance"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// FeeConfig drives the transaction fee schedule. Amounts are in minor units.
type FeeConfig struct {
	Rate               float64 `mapstructure:"rate"`
	MinFee             int64   `mapstructure:"min_fee"`
	MaxFee             int64   `mapstructure:"max_fee"`
	ExemptionThreshold int64   `mapstructure:"exemption_threshold"`
	CollectorAgentID   string  `mapstructure:"collector_agent_id"`
}

// ReputationConfig tunes score deltas. Penalty weights exceed the reward
// weight so failures cost more than equivalent successes earn.
type ReputationConfig struct {
	SuccessWeight float64 `mapstructure:"success_weight"`
	FailureWeight float64 `mapstructure:"failure_weight"`
	DisputeWeight float64 `mapstructure:"dispute_weight"`
	TimeoutWeight float64 `mapstructure:"timeout_weight"`
	MaxDelta      float64 `mapstructure:"max_delta"`
}

// ComplianceConfig configures the built-in rule-based compliance checker.
type ComplianceConfig struct {
	MaxAmount         int64    `mapstructure:"max_amount"`
	ReviewThreshold   int64    `mapstructure:"review_threshold"`
	AllowedCurrencies []string `mapstructure:"allowed_currencies"`
}

type SweepConfig struct {
	Schedule string `mapstructure:"schedule"` // cron expression for the expiry sweep
	Batch    int    `mapstructure:"batch"`
}

type NotifyConfig struct {
	URL     string        `mapstructure:"url"` // empty disables webhook dispatch
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SnapshotConfig struct {
	Every int `mapstructure:"every"` // snapshot a wallet every N events; 0 disables
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: ASE_ (Agent Settlement Engine).
// Nested keys use underscore: ASE_DATABASE_HOST, ASE_FEES_RATE, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "settlement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("fees.rate", 0.025)
	v.SetDefault("fees.min_fee", 50)
	v.SetDefault("fees.max_fee", 10000)
	v.SetDefault("fees.exemption_threshold", 100)
	v.SetDefault("fees.collector_agent_id", "platform-fees")
	v.SetDefault("reputation.success_weight", 1.0)
	v.SetDefault("reputation.failure_weight", 2.0)
	v.SetDefault("reputation.dispute_weight", 3.0)
	v.SetDefault("reputation.timeout_weight", 2.0)
	v.SetDefault("reputation.max_delta", 10.0)
	v.SetDefault("compliance.max_amount", 10000000)
	v.SetDefault("compliance.review_threshold", 1000000)
	v.SetDefault("compliance.allowed_currencies", []string{"USD", "EUR", "GBP"})
	v.SetDefault("sweep.schedule", "@every 1m")
	v.SetDefault("sweep.batch", 100)
	v.SetDefault("notify.url", "")
	v.SetDefault("notify.secret", "")
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("snapshot.every", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: ASE_DATABASE_HOST -> database.host
	v.SetEnvPrefix("ASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required -- env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
