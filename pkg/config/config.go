// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// FailMode decides what an unloaded enforcement engine answers.
type FailMode string

const (
	FailOpen   FailMode = "open"
	FailClosed FailMode = "closed"
)

type Config struct {
	Env      string
	LogLevel string
	HTTPAddr string

	// Postgres & Redis. Both optional; empty means in-memory stores and no
	// cross-replica reload.
	DatabaseURL string
	RedisURL    string

	// Session tokens
	JWTIssuer        string
	JWTSecret        string
	JWTRefreshSecret string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration

	// Cookies carrying tokens for browser portals
	CookieSecure   bool
	CookieDomain   string
	CookieSameSite string

	// Enforcement
	FailMode      FailMode
	DefaultDomain string
	OperatorRole  string

	// Seeding
	RoleSeedFile          string
	BootstrapTechEmail    string
	BootstrapTechPassword string

	BcryptCost   int
	CORSOrigins  []string
	LoginRPS     int
	LoginBurst   int
	TenantTTL    time.Duration
	DebugHeaders bool
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                   env("APP_ENV", "dev"),
		LogLevel:              env("LOG_LEVEL", ""),
		HTTPAddr:              env("HTTP_ADDR", ":8080"),
		DatabaseURL:           env("DATABASE_URL", ""),
		RedisURL:              env("REDIS_URL", ""),
		JWTIssuer:             env("JWT_ISSUER", "bosun"),
		JWTSecret:             env("JWT_SECRET", ""),
		JWTRefreshSecret:      env("JWT_REFRESH_SECRET", ""),
		AccessTTL:             envDur("JWT_EXPIRE", 7*24*time.Hour),
		RefreshTTL:            envDur("JWT_REFRESH_EXPIRE", 30*24*time.Hour),
		CookieSecure:          envBool("COOKIE_SECURE", false),
		CookieDomain:          env("COOKIE_DOMAIN", ""),
		CookieSameSite:        env("COOKIE_SAME_SITE", "strict"),
		DefaultDomain:         env("AUTHZ_DEFAULT_DOMAIN", "maritime-procurement"),
		OperatorRole:          env("AUTHZ_OPERATOR_ROLE", "tech"),
		RoleSeedFile:          env("ROLE_SEED_FILE", ""),
		BootstrapTechEmail:    env("BOOTSTRAP_TECH_EMAIL", "tech@maritime-procurement.com"),
		BootstrapTechPassword: env("BOOTSTRAP_TECH_PASSWORD", ""),
		BcryptCost:            envInt("BCRYPT_COST", 12),
		CORSOrigins:           envList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		LoginRPS:              envInt("LOGIN_RATE_PER_SEC", 5),
		LoginBurst:            envInt("LOGIN_RATE_BURST", 10),
		TenantTTL:             envDur("TENANT_CACHE_TTL", 30*time.Second),
		DebugHeaders:          envBool("DEBUG_DOUBLE_WRITE", false),
	}
	cfg.FailMode = resolveFailMode(os.Getenv("AUTHZ_FAIL_MODE"), cfg.Env)
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set, using in-memory stores")
	}
	if cfg.JWTSecret == "" || cfg.JWTRefreshSecret == "" {
		if cfg.IsProd() {
			log.Fatal("JWT_SECRET and JWT_REFRESH_SECRET are required in prod")
		}
		log.Println("[WARN] JWT secrets not set, using insecure dev secrets")
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = "dev-access-secret"
		}
		if cfg.JWTRefreshSecret == "" {
			cfg.JWTRefreshSecret = "dev-refresh-secret"
		}
	}
	return cfg
}

func (c Config) IsProd() bool { return c.Env == "prod" }

// resolveFailMode honours an explicit setting; otherwise prod fails closed
// and every other environment fails open.
func resolveFailMode(v, appEnv string) FailMode {
	switch FailMode(strings.ToLower(strings.TrimSpace(v))) {
	case FailOpen:
		return FailOpen
	case FailClosed:
		return FailClosed
	}
	if appEnv == "prod" {
		return FailClosed
	}
	return FailOpen
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		return i
	}
	return def
}

// envDur accepts Go durations ("15m") and the day suffix used by the
// portals ("7d").
func envDur(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if strings.HasSuffix(v, "d") {
		if n, err := strconv.Atoi(strings.TrimSuffix(v, "d")); err == nil {
			return time.Duration(n) * 24 * time.Hour
		}
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
func envList(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
