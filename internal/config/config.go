package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Platform   Platform   `mapstructure:"platform"`
	Settlement Settlement `mapstructure:"settlement"`
	PriceFeed  PriceFeed  `mapstructure:"price_feed"`
	Notify     Notify     `mapstructure:"notify"`
	Logger     Logger     `mapstructure:"logger"`
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
}

// Platform holds the read-only trading parameters consumed by placement and resolution.
type Platform struct {
	TradingEnabled   bool     `mapstructure:"trading_enabled"`
	TradeDuration    int      `mapstructure:"trade_duration"` // seconds
	WinRate          float64  `mapstructure:"win_rate"`       // 0..100
	ProfitPercentage float64  `mapstructure:"profit_percentage"`
	LossPercentage   float64  `mapstructure:"loss_percentage"`
	MinStake         float64  `mapstructure:"min_stake"`
	MaxStake         float64  `mapstructure:"max_stake"` // 0 disables the upper bound
	Pairs            []string `mapstructure:"pairs"`
}

// TradeDurationOrDefault returns the configured trade duration as a time.Duration.
func (p Platform) TradeDurationOrDefault() time.Duration {
	if p.TradeDuration <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TradeDuration) * time.Second
}

// Settlement holds the configuration for resolution triggers.
type Settlement struct {
	RemoteURL       string        `mapstructure:"remote_url"`
	RemoteTimeout   time.Duration `mapstructure:"remote_timeout"`
	HoldWindow      time.Duration `mapstructure:"hold_window"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	SweepGrace      time.Duration `mapstructure:"sweep_grace"`
	SweepBatchSize  int           `mapstructure:"sweep_batch_size"`
	CacheMaxEntries int64         `mapstructure:"cache_max_entries"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

// PriceFeed holds the configuration for the ticker price REST API.
type PriceFeed struct {
	BaseURL        string             `mapstructure:"base_url"`
	RateLimit      float64            `mapstructure:"rate_limit"`
	RateLimitBurst int                `mapstructure:"rate_limit_burst"`
	StaticPrices   map[string]float64 `mapstructure:"static_prices"` // used when base_url is empty
}

// Notify holds the configuration for notification delivery.
type Notify struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	RedisAddr     string        `mapstructure:"redis_addr"` // empty disables the redis sink
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisChannel  string        `mapstructure:"redis_channel"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port          int  `mapstructure:"port"`
	EnableFunding bool `mapstructure:"enable_funding"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN         string             `mapstructure:"dsn"`
	SeedWallets map[string]float64 `mapstructure:"seed_wallets"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and the environment still apply.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("unmarshal config: %w", err)
	}

	if err = config.Validate(); err != nil {
		return config, fmt.Errorf("validate config: %w", err)
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("platform.trading_enabled", true)
	v.SetDefault("platform.trade_duration", 30)
	v.SetDefault("platform.win_rate", 45)
	v.SetDefault("platform.profit_percentage", 80)
	v.SetDefault("platform.loss_percentage", 100)
	v.SetDefault("platform.min_stake", 1)
	v.SetDefault("platform.max_stake", 0)
	v.SetDefault("platform.pairs", []string{"BTCUSDT", "ETHUSDT"})

	v.SetDefault("settlement.remote_url", "http://localhost:8080")
	v.SetDefault("settlement.remote_timeout", 5*time.Second)
	v.SetDefault("settlement.hold_window", 3*time.Second)
	v.SetDefault("settlement.sweep_interval", 5*time.Second)
	v.SetDefault("settlement.sweep_grace", 10*time.Second)
	v.SetDefault("settlement.sweep_batch_size", 100)
	v.SetDefault("settlement.cache_max_entries", 10000)
	v.SetDefault("settlement.rate_limit", 10)
	v.SetDefault("settlement.rate_limit_burst", 5)

	v.SetDefault("price_feed.base_url", "https://api.binance.com/api/v3")
	v.SetDefault("price_feed.rate_limit", 20)      // requests per second
	v.SetDefault("price_feed.rate_limit_burst", 5) // burst size

	v.SetDefault("notify.poll_interval", 2*time.Second)
	v.SetDefault("notify.batch_size", 50)
	v.SetDefault("notify.redis_channel", "trade-notifications")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.dsn", "settlement.db")
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	p := c.Platform
	if p.WinRate < 0 || p.WinRate > 100 {
		return fmt.Errorf("platform.win_rate must be between 0 and 100, got %v", p.WinRate)
	}
	if p.ProfitPercentage < 0 {
		return fmt.Errorf("platform.profit_percentage must not be negative, got %v", p.ProfitPercentage)
	}
	if p.LossPercentage < 0 || p.LossPercentage > 100 {
		return fmt.Errorf("platform.loss_percentage must be between 0 and 100, got %v", p.LossPercentage)
	}
	if p.MaxStake > 0 && p.MaxStake < p.MinStake {
		return fmt.Errorf("platform.max_stake %v is below platform.min_stake %v", p.MaxStake, p.MinStake)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn cannot be empty")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive, got %d", c.Server.Port)
	}
	return nil
}
