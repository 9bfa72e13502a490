package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Supported backends
const (
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"

	NotifierMemory   = "memory"
	NotifierRedis    = "redis"
	NotifierPostgres = "postgres"
)

type Config struct {
	Port int

	DatabaseType string
	DatabaseURL  string

	Notifier      string
	RedisURI      string
	RedisPassword string

	JWTSecret string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthAuthURL      string
	OAuthTokenURL     string
	OAuthUserInfoURL  string
	OAuthRedirectURL  string

	MediaDir     string
	MediaBaseURL string

	// CookieSecure marks cookies HTTPS-only, for deployments behind TLS.
	CookieSecure bool
}

func LoadEnv() {
	err := godotenv.Load()
	if err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
}

func GetEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// Load reads the process environment into a Config and validates it.
func Load() (Config, error) {
	cfg := Config{
		DatabaseType:      GetEnv("DATABASE_TYPE", DatabaseSQLite),
		DatabaseURL:       GetEnv("DATABASE_URL", "balance.db"),
		Notifier:          GetEnv("NOTIFIER", NotifierMemory),
		RedisURI:          GetEnv("REDIS_URI", "localhost:6379"),
		RedisPassword:     GetEnv("REDIS_PASSWORD", ""),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		OAuthClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		OAuthClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
		OAuthAuthURL:      os.Getenv("OAUTH_AUTH_URL"),
		OAuthTokenURL:     os.Getenv("OAUTH_TOKEN_URL"),
		OAuthUserInfoURL:  os.Getenv("OAUTH_USERINFO_URL"),
		OAuthRedirectURL:  GetEnv("OAUTH_REDIRECT_URL", "http://localhost:8080/auth/callback"),
		MediaDir:          GetEnv("MEDIA_DIR", "uploads"),
		MediaBaseURL:      GetEnv("MEDIA_BASE_URL", "/images"),
	}

	port, err := strconv.Atoi(GetEnv("PORT", "8080"))
	if err != nil {
		return Config{}, errors.New("invalid PORT env variable")
	}
	cfg.Port = port

	secure, err := strconv.ParseBool(GetEnv("COOKIE_SECURE", "false"))
	if err != nil {
		return Config{}, errors.New("invalid COOKIE_SECURE env variable")
	}
	cfg.CookieSecure = secure

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DatabaseType {
	case DatabaseSQLite, DatabasePostgres:
	default:
		return fmt.Errorf("unsupported DATABASE_TYPE %q", c.DatabaseType)
	}
	switch c.Notifier {
	case NotifierMemory, NotifierRedis:
	case NotifierPostgres:
		if c.DatabaseType != DatabasePostgres {
			return errors.New("NOTIFIER=postgres requires DATABASE_TYPE=postgres")
		}
	default:
		return fmt.Errorf("unsupported NOTIFIER %q", c.Notifier)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET required")
	}
	return nil
}

// OAuthEnabled reports whether enough provider settings are present to
// run the authorization-code flow.
func (c Config) OAuthEnabled() bool {
	return c.OAuthClientID != "" && c.OAuthAuthURL != "" && c.OAuthTokenURL != "" && c.OAuthUserInfoURL != ""
}
