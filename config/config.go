package config

import (
	"errors"
	"fmt"
	"strings"

	"geocab/models"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Geo    GeoConfig
	Ledger LedgerConfig
	Store  StoreConfig
	DB     DBConfig
	Redis  RedisConfig
	Log    LogConfig
}

type ServerConfig struct {
	Addr string
}

type GeoConfig struct {
	Precision uint
}

type LedgerConfig struct {
	Owner         string
	EscrowAccount string `mapstructure:"escrow_account"`
	InitialFee    uint64 `mapstructure:"initial_fee"`
}

type StoreConfig struct {
	Backend string
}

type DBConfig struct {
	User     string
	Password string
	DBName   string
	SSLMode  string
	Host     string
	Port     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type LogConfig struct {
	Level  string
	Format string
}

var Cfg *Config

// DSN builds a postgres connection URL.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// OwnerAddress parses the configured platform owner.
func (c LedgerConfig) OwnerAddress() (models.Address, error) {
	if c.Owner == "" {
		return models.Address{}, errors.New("ledger.owner is not set")
	}
	return models.ParseAddress(c.Owner)
}

func (c LedgerConfig) EscrowAddress() (models.Address, error) {
	return models.ParseAddress(c.EscrowAccount)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("geo.precision", 5)
	v.SetDefault("ledger.owner", "")
	v.SetDefault("ledger.escrow_account", "0x000000000000000000000000000000000000e5c0")
	v.SetDefault("ledger.initial_fee", 0)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.dbname", "geocab")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "geocab:")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads config.yaml from the given paths (optional) and GEOCAB_*
// environment overrides on top of the defaults.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("geocab")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Geo.Precision == 0 || cfg.Geo.Precision > 12 {
		return nil, fmt.Errorf("geo.precision must be 1..12, got %d", cfg.Geo.Precision)
	}
	switch cfg.Store.Backend {
	case "memory", "redis", "postgres":
	default:
		return nil, fmt.Errorf("unknown store.backend %q", cfg.Store.Backend)
	}
	return &cfg, nil
}

// InitConfig loads the process-wide configuration once from the working
// directory.
func InitConfig() error {
	cfg, err := Load(".")
	if err != nil {
		return err
	}
	Cfg = cfg
	return nil
}
