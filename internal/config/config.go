// Package config содержит логику чтения конфигурации сервера и клиента API клиентов.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Хранилища, доступные серверу.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config содержит параметры конфигурации сервера.
type Config struct {
	RunAddress  string        `env:"RUN_ADDRESS"`
	DatabaseURI string        `env:"DATABASE_URI"`
	Storage     string        `env:"STORAGE"`
	CacheSize   int           `env:"CACHE_SIZE"`
	AuthSecret  string        `env:"AUTH_SECRET"`
	APIUsername string        `env:"API_USERNAME"`
	APIPassword string        `env:"API_PASSWORD"`
	TokenTTL    time.Duration `env:"TOKEN_TTL"`
}

// ClientConfig содержит параметры конфигурации клиента.
type ClientConfig struct {
	APIBaseURL     string        `env:"API_BASE_URL"`
	APIUsername    string        `env:"API_USERNAME"`
	APIPassword    string        `env:"API_PASSWORD"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`
	RetryUnit      time.Duration `env:"RETRY_UNIT"`
}

// Parse считывает конфигурацию сервера из .env, флагов и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	loadDotEnv()

	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.Storage, "s", "", "storage backend: postgres or memory")
	flag.IntVar(&cfg.CacheSize, "c", 256, "customer cache size, 0 disables the cache")
	flag.StringVar(&cfg.AuthSecret, "k", "", "token signing secret")
	flag.StringVar(&cfg.APIUsername, "user", "", "API username")
	flag.StringVar(&cfg.APIPassword, "password", "", "API password")
	flag.DurationVar(&cfg.TokenTTL, "ttl", time.Hour, "token lifetime")

	flag.Parse()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.Storage == "" {
		cfg.Storage = StorageMemory
		if cfg.DatabaseURI != "" {
			cfg.Storage = StoragePostgres
		}
	}

	switch cfg.Storage {
	case StorageMemory:
	case StoragePostgres:
		if cfg.DatabaseURI == "" {
			return nil, errors.New("postgres storage requires database URI")
		}
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}

	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("cache size must not be negative: %d", cfg.CacheSize)
	}

	return cfg, nil
}

// ParseClient считывает конфигурацию клиента из .env, флагов и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func ParseClient() (*ClientConfig, error) {
	loadDotEnv()

	cfg := &ClientConfig{}

	flag.StringVar(&cfg.APIBaseURL, "u", "http://localhost:8080", "API base URL")
	flag.StringVar(&cfg.APIUsername, "user", "", "API username")
	flag.StringVar(&cfg.APIPassword, "password", "", "API password")
	flag.DurationVar(&cfg.RequestTimeout, "t", 10*time.Second, "timeout of a single request attempt")
	flag.DurationVar(&cfg.RetryUnit, "retry-unit", time.Second, "base unit of retry backoff")

	flag.Parse()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.APIBaseURL == "" {
		return nil, errors.New("API base URL is required")
	}
	if cfg.RetryUnit <= 0 {
		return nil, fmt.Errorf("retry unit must be positive: %s", cfg.RetryUnit)
	}

	return cfg, nil
}

// loadDotEnv подгружает .env из рабочего каталога, если он есть.
// Уже заданные переменные окружения не перезаписываются.
func loadDotEnv() {
	_ = godotenv.Load()
}
