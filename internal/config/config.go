// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Chain    ChainConfig    `mapstructure:"chain"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// LedgerConfig holds transaction-lock and ledger tuning.
type LedgerConfig struct {
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	LockSweepInterval time.Duration `mapstructure:"lock_sweep_interval"`
}

// ChainConfig holds the custodial chain collaborator configuration.
type ChainConfig struct {
	RPCEndpoint        string        `mapstructure:"rpc_endpoint"`
	TokenHash          string        `mapstructure:"token_hash"`
	CustodialAddress   string        `mapstructure:"custodial_address"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	BroadcastTimeout   time.Duration `mapstructure:"broadcast_timeout"`
	WatcherInterval    time.Duration `mapstructure:"watcher_interval"`
	AbandonTimeout     time.Duration `mapstructure:"abandon_timeout"`
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
	ReconcileTolerance string        `mapstructure:"reconcile_tolerance"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variable override
	// Environment variables use underscore separator and uppercase
	// e.g., DATABASE_HOST, CHAIN_RPC_ENDPOINT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - env vars can provide all config)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "walletbot")
	v.SetDefault("database.name", "walletbot")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Ledger defaults
	v.SetDefault("ledger.lock_timeout", "60s")
	v.SetDefault("ledger.lock_sweep_interval", "30s")

	// Chain defaults
	v.SetDefault("chain.request_timeout", "15s")
	v.SetDefault("chain.broadcast_timeout", "30s")
	v.SetDefault("chain.watcher_interval", "1m")
	// How long a hashless pending withdrawal may wait before it is
	// failed and refunded.
	v.SetDefault("chain.abandon_timeout", "1h")
	v.SetDefault("chain.reconcile_interval", "10m")
	// Absorbs in-flight transactions, not precision error.
	v.SetDefault("chain.reconcile_tolerance", "1.000000")
}
