package config // package config loads application configuration from environment variables

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"
)

// Environments with special behaviour.
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvCI          = "ci"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env              string // application environment (development, test, ci, production)
	Port             string // HTTP port to listen on
	LogLevel         string // debug, info, warn, error
	DBDriver         string // mysql or sqlite
	DBUser           string // database username
	DBPass           string // database password (optional)
	DBHost           string // database host address
	DBPort           string // database port number
	DBName           string // database name
	SQLitePath       string // database file when DBDriver is sqlite
	JWTAccessSecret  string // HS256 key for access tokens
	JWTRefreshSecret string // HS256 key for refresh tokens, must differ from the access key
	AccessTTLMin     int    // access token time‑to‑live in minutes
	RefreshTTLDays   int    // refresh token time‑to‑live in days
	BcryptCost       int    // bcrypt cost for password hashing
	AMQPURL          string // broker for security events; empty disables publishing
	TokenPurgeEvery  time.Duration
	// TrustedProxies lists the reverse proxies whose X-Forwarded-For is
	// believed.  Empty means the client IP is the socket peer.
	TrustedProxies []*net.IPNet
}

// AccessTTL is AccessTTLMin as a duration.
func (c Config) AccessTTL() time.Duration { return time.Duration(c.AccessTTLMin) * time.Minute }

// RefreshTTL is RefreshTTLDays as a duration.
func (c Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLDays) * 24 * time.Hour
}

// SecureCookies reports whether cookies must carry the Secure attribute.
// Only local development runs over plain HTTP.
func (c Config) SecureCookies() bool { return c.Env != EnvDevelopment }

// Load reads configuration values from environment variables.  All missing
// required variables are reported together in the returned error.
func Load() (Config, error) {
	var missing []string
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := Config{
		Env:              strings.ToLower(envStr("APP_ENV", EnvDevelopment)),
		Port:             must("APP_PORT"),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		DBDriver:         strings.ToLower(envStr("DB_DRIVER", "mysql")),
		DBPass:           os.Getenv("DB_PASS"),
		SQLitePath:       envStr("SQLITE_PATH", "data/auth.db"),
		JWTAccessSecret:  must("JWT_ACCESS_SECRET"),
		JWTRefreshSecret: must("JWT_REFRESH_SECRET"),
		AccessTTLMin:     envInt("ACCESS_TOKEN_TTL_MIN", 15),
		RefreshTTLDays:   envInt("REFRESH_TOKEN_TTL_DAYS", 7),
		BcryptCost:       envInt("BCRYPT_COST", 12),
		AMQPURL:          envStr("AMQP_URL", os.Getenv("RABBITMQ_URL")),
		TokenPurgeEvery:  envDur("TOKEN_PURGE_INTERVAL", time.Hour),
	}
	if cfg.DBDriver == "mysql" {
		cfg.DBUser = must("DB_USER")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return Config{}, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if cfg.DBDriver != "mysql" && cfg.DBDriver != "sqlite" {
		return Config{}, fmt.Errorf("invalid DB_DRIVER %q (want mysql or sqlite)", cfg.DBDriver)
	}
	if cfg.JWTAccessSecret == cfg.JWTRefreshSecret {
		return Config{}, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if cfg.AccessTTLMin < 1 || cfg.RefreshTTLDays < 1 {
		return Config{}, fmt.Errorf("token TTLs must be positive")
	}
	proxies, err := parseCIDRs(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return Config{}, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies
	if cfg.TokenPurgeEvery <= 0 {
		return Config{}, fmt.Errorf("TOKEN_PURGE_INTERVAL must be positive")
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return Config{}, fmt.Errorf("invalid BCRYPT_COST %d", cfg.BcryptCost)
	}
	return cfg, nil
}
