package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Service  string `yaml:"service"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Redis    Redis    `yaml:"redis"`
	Postgres Postgres `yaml:"postgres"`
	Cart     Cart     `yaml:"cart"`

	MenuURL      string `yaml:"menu_url"`
	JWTSecret    string `yaml:"jwt_secret"`
	MetricsToken string `yaml:"metrics_token"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Postgres struct {
	URL string `yaml:"url"`
}

type Cart struct {
	// Store selects the line and schedule backend: "redis" or "memory".
	Store              string `yaml:"store"`
	AbandonMinutes     int    `yaml:"abandon_minutes"`
	SweepSeconds       int    `yaml:"sweep_seconds"`
	SweepBatch         int    `yaml:"sweep_batch"`
	StoreTimeoutMillis int    `yaml:"store_timeout_ms"`
	RateLimitPerMin    int    `yaml:"rate_limit_per_min"`
}

func (c Cart) AbandonWindow() time.Duration {
	return time.Duration(c.AbandonMinutes) * time.Minute
}

func (c Cart) SweepInterval() time.Duration {
	return time.Duration(c.SweepSeconds) * time.Second
}

func (c Cart) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMillis) * time.Millisecond
}

func Defaults() Config {
	return Config{
		Service:  "cart",
		Port:     "8084",
		LogLevel: "info",
		Redis:    Redis{Addr: "localhost:6379"},
		Cart: Cart{
			Store:              "redis",
			AbandonMinutes:     5,
			SweepSeconds:       10,
			SweepBatch:         100,
			StoreTimeoutMillis: 3000,
			RateLimitPerMin:    120,
		},
	}
}

// Load layers the optional YAML file named by CONFIG_FILE over the defaults,
// then applies environment overrides.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.Postgres.URL = getEnv("DATABASE_URL", c.Postgres.URL)
	c.MenuURL = getEnv("MENU_URL", c.MenuURL)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.MetricsToken = getEnv("METRICS_TOKEN", c.MetricsToken)

	c.Cart.Store = getEnv("CART_STORE", c.Cart.Store)
	c.Cart.AbandonMinutes = getEnvInt("CART_ABANDON_MINUTES", c.Cart.AbandonMinutes)
	c.Cart.SweepSeconds = getEnvInt("CART_SWEEP_SECONDS", c.Cart.SweepSeconds)
	c.Cart.SweepBatch = getEnvInt("CART_SWEEP_BATCH", c.Cart.SweepBatch)
	c.Cart.StoreTimeoutMillis = getEnvInt("CART_STORE_TIMEOUT_MS", c.Cart.StoreTimeoutMillis)
	c.Cart.RateLimitPerMin = getEnvInt("CART_RATE_LIMIT_PER_MIN", c.Cart.RateLimitPerMin)
}

func (c Config) Validate() error {
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is required and must be at least 32 chars")
	}
	switch c.Cart.Store {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown cart store %q", c.Cart.Store)
	}
	if c.Cart.AbandonMinutes <= 0 {
		return fmt.Errorf("cart abandon window must be positive, got %d minutes", c.Cart.AbandonMinutes)
	}
	if c.Cart.SweepSeconds <= 0 {
		return fmt.Errorf("cart sweep interval must be positive, got %d seconds", c.Cart.SweepSeconds)
	}
	if c.Cart.SweepBatch <= 0 {
		return fmt.Errorf("cart sweep batch must be positive, got %d", c.Cart.SweepBatch)
	}
	if c.Cart.StoreTimeoutMillis <= 0 {
		return fmt.Errorf("cart store timeout must be positive, got %dms", c.Cart.StoreTimeoutMillis)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
