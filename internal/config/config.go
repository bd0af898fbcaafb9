package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/olyamironova/quote-engine/internal/domain"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Exchanges ExchangesConfig `yaml:"exchanges"`
	Cache     CacheConfig     `yaml:"cache"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`

	// TrustedProxies are the addresses or CIDRs whose X-Forwarded-For is
	// believed when resolving the client address. Empty trusts none.
	TrustedProxies []string `yaml:"trusted_proxies"`

	// TrustClientHeader keys the window on X-Client-ID (x-client-id over
	// gRPC) instead of the address. Enable only behind a gateway that sets it.
	TrustClientHeader bool `yaml:"trust_client_header"`
}

type ExchangesConfig struct {
	CallTimeout    time.Duration `yaml:"call_timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	BookLimit      int           `yaml:"book_limit"`

	// ExtraTakerFee and ExtraMakerFee are fractions: 0.1 marks fees up by 10%.
	ExtraTakerFee float64 `yaml:"extra_taker_fee"`
	ExtraMakerFee float64 `yaml:"extra_maker_fee"`

	Throttle    map[string]ThrottleConfig   `yaml:"throttle"`
	Credentials []domain.ExchangeCredential `yaml:"credentials"`
	Fallback    domain.ExchangeCredential   `yaml:"fallback"`
	BaseURLs    map[string]string           `yaml:"base_urls"`
}

// ThrottleConfig bounds outbound requests to one exchange.
type ThrottleConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type CacheConfig struct {
	AggregateTTL time.Duration `yaml:"aggregate_ttl"`
	OrderBookTTL time.Duration `yaml:"order_book_ttl"`
}

type WebSocketConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	SendBuffer   int           `yaml:"send_buffer"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":9090",
			ShutdownTimeout: 10 * time.Second,
		},
		Redis:     RedisConfig{Enabled: true, Addr: "localhost:6379"},
		RateLimit: RateLimitConfig{Requests: 60, Window: time.Minute},
		Exchanges: ExchangesConfig{
			CallTimeout:    10 * time.Second,
			MaxConcurrency: 8,
			BookLimit:      100,
			Fallback:       domain.ExchangeCredential{ExchangeName: "kraken"},
		},
		Cache: CacheConfig{
			AggregateTTL: 5 * time.Second,
			OrderBookTTL: 2 * time.Second,
		},
		WebSocket: WebSocketConfig{PollInterval: 2 * time.Second, SendBuffer: 16},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// LoadConfig reads .env (if any), then the YAML file at path over the
// defaults, then environment overrides.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = strings.TrimSpace(v)
	}
	if v := os.Getenv("KRAKEN_API_KEY"); v != "" {
		cfg.Exchanges.Fallback.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("KRAKEN_PRIVATE_KEY"); v != "" {
		cfg.Exchanges.Fallback.APISecret = strings.TrimSpace(v)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if cfg.RateLimit.Requests <= 0 {
		return fmt.Errorf("rate_limit.requests must be greater than 0")
	}
	if cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be greater than 0")
	}
	for _, p := range cfg.RateLimit.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("rate_limit.trusted_proxies: %q is not an IP or CIDR", p)
			}
		}
	}
	if cfg.Exchanges.ExtraTakerFee < 0 || cfg.Exchanges.ExtraMakerFee < 0 {
		return fmt.Errorf("exchanges.extra_*_fee must not be negative")
	}
	if cfg.Exchanges.CallTimeout <= 0 {
		return fmt.Errorf("exchanges.call_timeout must be greater than 0")
	}
	if cfg.Exchanges.MaxConcurrency <= 0 {
		return fmt.Errorf("exchanges.max_concurrency must be greater than 0")
	}
	if strings.TrimSpace(cfg.Exchanges.Fallback.ExchangeName) == "" {
		return fmt.Errorf("exchanges.fallback.exchange_name is required")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if cfg.Postgres.Enabled && cfg.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when postgres is enabled")
	}
	if cfg.Cache.AggregateTTL < 0 || cfg.Cache.OrderBookTTL < 0 {
		return fmt.Errorf("cache ttl values must not be negative")
	}
	if cfg.WebSocket.PollInterval <= 0 {
		return fmt.Errorf("websocket.poll_interval must be greater than 0")
	}
	return nil
}
