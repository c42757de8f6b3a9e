// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// セッションストアの種類。
const (
	SessionStorePostgres = "postgres"
	SessionStoreMemory   = "memory"
)

// 失効リストのバックエンドの種類。
const (
	RevocationBackendMemory = "memory"
	RevocationBackendRedis  = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string `env:"DATABASE_URL,required,notEmpty"`
	DBConnectAttempts int    `env:"DB_CONNECT_ATTEMPTS" envDefault:"5"`

	// OAuth
	GoogleClientID       string        `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret   string        `env:"GOOGLE_CLIENT_SECRET,required,notEmpty"`
	GoogleCallbackURL    string        `env:"GOOGLE_CALLBACK_URL,required,notEmpty"`
	OAuthExchangeTimeout time.Duration `env:"OAUTH_EXCHANGE_TIMEOUT" envDefault:"10s"`
	AdminEmails          []string      `env:"ADMIN_EMAILS" envSeparator:","`

	// Session
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	SessionStore      string        `env:"SESSION_STORE" envDefault:"postgres"`
	RevocationBackend string        `env:"REVOCATION_BACKEND" envDefault:"memory"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`

	// Redis
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Rate Limit（req/min）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitLogin   int `env:"RATE_LIMIT_LOGIN" envDefault:"20"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Cookie
	CookieName   string `env:"COOKIE_NAME" envDefault:"session_id"`
	CookieDomain string `env:"COOKIE_DOMAIN"`
	CookieSecure bool   `env:"-"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は未設定の変数をまとめたエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	switch cfg.SessionStore {
	case SessionStorePostgres, SessionStoreMemory:
	default:
		return nil, fmt.Errorf("unsupported SESSION_STORE: %q", cfg.SessionStore)
	}

	switch cfg.RevocationBackend {
	case RevocationBackendMemory, RevocationBackendRedis:
	default:
		return nil, fmt.Errorf("unsupported REVOCATION_BACKEND: %q", cfg.RevocationBackend)
	}

	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive: %s", cfg.SessionTTL)
	}
	if cfg.RateLimitGeneral <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_GENERAL must be positive: %d", cfg.RateLimitGeneral)
	}
	if cfg.RateLimitLogin <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_LOGIN must be positive: %d", cfg.RateLimitLogin)
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	for i, email := range cfg.AdminEmails {
		cfg.AdminEmails[i] = strings.ToLower(strings.TrimSpace(email))
	}

	return cfg, nil
}

// SessionMaxAge はセッションCookieのMax-Age（秒）を返す。
func (c *Config) SessionMaxAge() int {
	return int(c.SessionTTL / time.Second)
}
