package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Auth      AuthConfig      `mapstructure:"auth"`
	AES       AESConfig       `mapstructure:"aes"`
	Log       LogConfig       `mapstructure:"log"`
	Chains    ChainsConfig    `mapstructure:"chains"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Mnemonic  MnemonicConfig  `mapstructure:"mnemonic"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Proxies   []string        `mapstructure:"proxies"`
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
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StorageConfig selects the wallet store backend.
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`      // memory, postgres, sqlite
	SQLitePath string `mapstructure:"sqlite_path"` // database file for the sqlite driver
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// AuthConfig lists the operators allowed to request API tokens.
type AuthConfig struct {
	Operators []OperatorConfig `mapstructure:"operators"`
}

type OperatorConfig struct {
	Name    string `mapstructure:"name"`
	KeyHash string `mapstructure:"key_hash"` // argon2id encoded, see `walletd hash-key`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

type LogConfig struct {
	Level  string        `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool          `mapstructure:"pretty"` // human-readable output (dev only)
	File   string        `mapstructure:"file"`   // optional strftime path pattern for a rotating JSON copy
	MaxAge time.Duration `mapstructure:"max_age"`
}

type ChainsConfig struct {
	ETH   EVMConfig    `mapstructure:"eth"`
	SOL   SolanaConfig `mapstructure:"sol"`
	Aptos AptosConfig  `mapstructure:"aptos"`
}

type EVMConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	Tokens         []TokenConfig `mapstructure:"tokens"`
	NFTCollections []string      `mapstructure:"nft_collections"` // ERC-721 contracts counted into nft_count
	ENSRegistry    string        `mapstructure:"ens_registry"`
	NameCacheTTL   time.Duration `mapstructure:"name_cache_ttl"`
}

// TokenConfig is one tracked ERC-20. Decimals 0 means ask the contract.
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Contract string `mapstructure:"contract"`
	Decimals int32  `mapstructure:"decimals"`
}

type SolanaConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
}

type AptosConfig struct {
	RESTURL  string `mapstructure:"rest_url"`
	Decimals int32  `mapstructure:"decimals"`
}

type ReconcileConfig struct {
	Workers     int           `mapstructure:"workers"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	LeaseTTL    time.Duration `mapstructure:"lease_ttl"`
	ImportTTL   time.Duration `mapstructure:"import_ttl"` // how long an applied batch digest is remembered
}

type MnemonicConfig struct {
	RequireChecksum bool `mapstructure:"require_checksum"`
}

type TracingConfig struct {
	Exporter    string `mapstructure:"exporter"` // none, stdout, otlp
	Endpoint    string `mapstructure:"endpoint"` // OTLP gRPC collector host:port
	ServiceName string `mapstructure:"service_name"`
}

// KafkaConfig enables publishing of wallet.reconciled events.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// WebhookConfig enables signed HTTP delivery of wallet.reconciled events. An empty URL
// disables it.
type WebhookConfig struct {
	URL     string          `mapstructure:"url"`
	Secret  string          `mapstructure:"secret"`
	Timeout time.Duration   `mapstructure:"timeout"`
	Retries []time.Duration `mapstructure:"retries"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: WR_ (Wallet Reconciler).
// Nested keys use underscore: WR_DATABASE_HOST, WR_CHAINS_ETH_RPC_URL, etc.
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
	v.SetDefault("database.dbname", "wallets")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.sqlite_path", "wallets.db")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "12h")
	v.SetDefault("jwt.issuer", "wallet-reconciler")
	v.SetDefault("aes.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_age", "168h")
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "walletd")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "wallets.reconciled")
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.retries", []string{"5s", "30s", "2m"})

	v.SetDefault("chains.eth.rpc_url", "https://cloudflare-eth.com")
	v.SetDefault("chains.eth.tokens", []map[string]any{
		{"symbol": "DAI", "contract": "0x6B175474E89094C44Da98b954EedeAC495271d0F", "decimals": 18},
		{"symbol": "USDC", "contract": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "decimals": 6},
		{"symbol": "USDT", "contract": "0xdAC17F958D2ee523a2206206994597C13D831ec7", "decimals": 6},
	})
	v.SetDefault("chains.eth.nft_collections", []string{})
	v.SetDefault("chains.eth.ens_registry", "0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")
	v.SetDefault("chains.eth.name_cache_ttl", "10m")
	v.SetDefault("chains.sol.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("chains.aptos.rest_url", "https://fullnode.mainnet.aptoslabs.com/v1")
	v.SetDefault("chains.aptos.decimals", 8)

	v.SetDefault("reconcile.workers", 8)
	v.SetDefault("reconcile.call_timeout", "10s")
	v.SetDefault("reconcile.lease_ttl", "1m")
	v.SetDefault("reconcile.import_ttl", "24h")
	v.SetDefault("mnemonic.require_checksum", true)
	v.SetDefault("proxies", []string{})

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: WR_DATABASE_HOST -> database.host
	v.SetEnvPrefix("WR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "postgres":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("storage.driver must be memory, postgres or sqlite, got %q", c.Storage.Driver)
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be none, stdout or otlp, got %q", c.Tracing.Exporter)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	if c.Webhook.URL != "" && len(c.Webhook.Secret) < 16 {
		return fmt.Errorf("webhook.secret must be at least 16 characters when webhook.url is set")
	}
	if c.Reconcile.Workers < 1 {
		return fmt.Errorf("reconcile.workers must be positive, got %d", c.Reconcile.Workers)
	}
	if c.Reconcile.CallTimeout <= 0 {
		return fmt.Errorf("reconcile.call_timeout must be positive")
	}
	for i, t := range c.Chains.ETH.Tokens {
		if t.Symbol == "" || t.Contract == "" {
			return fmt.Errorf("chains.eth.tokens[%d]: symbol and contract are required", i)
		}
	}
	return nil
}
