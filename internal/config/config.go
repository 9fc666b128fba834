// internal/config/config.go
//
// Server configuration.
// Values come from, in increasing priority: flag defaults, .env file,
// TIMELINE_* environment variables, command-line flags.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "TIMELINE"

// DevSecret is the signing secret used when none is configured. Validate
// rejects it unless Dev is set.
const DevSecret = "dev-secret-change-me"

type Config struct {
	Bind          string
	Port          int
	Store         string
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	JWTSecret     string
	TokenTTL      time.Duration
	ClientOrigin  string
	PublicURL     string
	LogLevel      string
	IdleTimeout   time.Duration
	Cleanup       string
	RateLimit     float64
	RateBurst     int
	Dev           bool
}

// Addr returns the listen address.
func (c *Config) Addr() string { return fmt.Sprintf("%s:%d", c.Bind, c.Port) }

// Level parses LogLevel, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks the configuration before the server starts.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	switch c.Store {
	case "memory":
	case "sqlite":
		if c.DBPath == "" {
			return errors.New("--db-path is required with --store=sqlite")
		}
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("--redis-addr is required with --store=redis")
		}
	default:
		return fmt.Errorf("unknown store %q (want memory, sqlite or redis)", c.Store)
	}
	if c.JWTSecret == "" || (c.JWTSecret == DevSecret && !c.Dev) {
		return errors.New("--jwt-secret must be set outside --dev")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("invalid token ttl: %s", c.TokenTTL)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("invalid idle timeout: %s", c.IdleTimeout)
	}
	if c.RateLimit <= 0 || c.RateBurst < 1 {
		return errors.New("rate limit and burst must be positive")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return nil
}

// LoadDotEnv loads .env from the working directory if present.
func LoadDotEnv() { _ = godotenv.Load() }

// Bind registers every flag on fs and applies TIMELINE_* environment
// values to flags the user did not set.
func Bind(fs *pflag.FlagSet, cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: TIMELINE_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 5175, "port to listen on (env: TIMELINE_PORT)")
	fs.StringVar(&cfg.Store, "store", "memory", "document store: memory, sqlite or redis (env: TIMELINE_STORE)")
	fs.StringVar(&cfg.DBPath, "db-path", "./data/timeline.db", "sqlite database file (env: TIMELINE_DB_PATH)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "localhost:6379", "redis address (env: TIMELINE_REDIS_ADDR)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password (env: TIMELINE_REDIS_PASSWORD)")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database number (env: TIMELINE_REDIS_DB)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", DevSecret, "session token signing secret (env: TIMELINE_JWT_SECRET)")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", 14*24*time.Hour, "session token lifetime (env: TIMELINE_TOKEN_TTL)")
	fs.StringVar(&cfg.ClientOrigin, "client-origin", "http://localhost:5173", "allowed CORS origin (env: TIMELINE_CLIENT_ORIGIN)")
	fs.StringVar(&cfg.PublicURL, "public-url", "http://localhost:5173", "client base URL encoded in join QR codes (env: TIMELINE_PUBLIC_URL)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "log level (env: TIMELINE_LOG_LEVEL)")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", 6*time.Hour, "idle time before a game is expired (env: TIMELINE_IDLE_TIMEOUT)")
	fs.StringVar(&cfg.Cleanup, "cleanup-schedule", "@every 15m", "cron schedule of the idle game cleanup (env: TIMELINE_CLEANUP_SCHEDULE)")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", 2, "create/join requests per second per client (env: TIMELINE_RATE_LIMIT)")
	fs.IntVar(&cfg.RateBurst, "rate-burst", 10, "create/join burst per client (env: TIMELINE_RATE_BURST)")
	fs.BoolVar(&cfg.Dev, "dev", false, "development mode: allow the default secret, plain cookies (env: TIMELINE_DEV)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}
