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
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
	Game        GameConfig        `mapstructure:"game"`
	Identity    IdentityConfig    `mapstructure:"identity"`
}

// ServerConfig holds the HTTP/WebSocket gateway configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
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

// MatchmakingConfig holds pairing queue configuration.
type MatchmakingConfig struct {
	MinBuyIn             float64       `mapstructure:"min_buy_in"`
	MaxBuyIn             float64       `mapstructure:"max_buy_in"`
	PairingTimeout       time.Duration `mapstructure:"pairing_timeout"`
	PositionPollInterval time.Duration `mapstructure:"position_poll_interval"`
	AnnounceRetry        time.Duration `mapstructure:"announce_retry"`
	AnnounceAttempts     int           `mapstructure:"announce_attempts"`
}

// GameConfig holds round engine and payout configuration.
type GameConfig struct {
	FeeFraction         float64       `mapstructure:"fee_fraction"`
	WinningThreshold    int           `mapstructure:"winning_threshold"`
	MaxRounds           int           `mapstructure:"max_rounds"`
	RoundAdvanceTimeout time.Duration `mapstructure:"round_advance_timeout"`
}

// IdentityConfig controls client identity issuance.
type IdentityConfig struct {
	// Scope is "tab" for per-connection identities or "device" for
	// identities the client is expected to persist across sessions.
	Scope string `mapstructure:"scope"`
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

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. DATABASE_HOST, GAME_FEE_FRACTION, MATCHMAKING_MAX_BUY_IN.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - env vars can provide all config.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that configuration values are internally consistent.
func (c *Config) Validate() error {
	if c.Matchmaking.MinBuyIn <= 0 {
		return fmt.Errorf("matchmaking.min_buy_in must be positive, got %v", c.Matchmaking.MinBuyIn)
	}
	if c.Matchmaking.MaxBuyIn < c.Matchmaking.MinBuyIn {
		return fmt.Errorf("matchmaking.max_buy_in (%v) below min_buy_in (%v)",
			c.Matchmaking.MaxBuyIn, c.Matchmaking.MinBuyIn)
	}
	if c.Game.FeeFraction < 0 || c.Game.FeeFraction >= 1 {
		return fmt.Errorf("game.fee_fraction must be in [0,1), got %v", c.Game.FeeFraction)
	}
	if c.Game.WinningThreshold < 1 {
		return fmt.Errorf("game.winning_threshold must be at least 1, got %d", c.Game.WinningThreshold)
	}
	if c.Game.MaxRounds < c.Game.WinningThreshold {
		return fmt.Errorf("game.max_rounds (%d) below winning_threshold (%d)",
			c.Game.MaxRounds, c.Game.WinningThreshold)
	}
	return nil
}

// ValidBuyIn reports whether a buy-in is inside the configured bounds.
func (c *Config) ValidBuyIn(buyIn float64) bool {
	return buyIn >= c.Matchmaking.MinBuyIn && buyIn <= c.Matchmaking.MaxBuyIn
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "arena")
	v.SetDefault("database.name", "arena")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Matchmaking defaults
	v.SetDefault("matchmaking.min_buy_in", 1)
	v.SetDefault("matchmaking.max_buy_in", 100)
	v.SetDefault("matchmaking.pairing_timeout", "2m")
	v.SetDefault("matchmaking.position_poll_interval", "1s")
	v.SetDefault("matchmaking.announce_retry", "2s")
	v.SetDefault("matchmaking.announce_attempts", 5)

	// Game defaults: best-of-3, 10% platform fee
	v.SetDefault("game.fee_fraction", 0.1)
	v.SetDefault("game.winning_threshold", 2)
	v.SetDefault("game.max_rounds", 5)
	v.SetDefault("game.round_advance_timeout", "10s")

	// Identity defaults
	v.SetDefault("identity.scope", "tab")
}
