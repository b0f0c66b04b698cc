// Package config loads server settings from flags, FASTNOTES_* environment
// variables and .env files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "fastnotes"

// Keys shared by flags, env vars and viper lookups.
const (
	KeyAddr            = "addr"
	KeyDBPath          = "db-path"
	KeyLogLevel        = "log-level"
	KeyLogFormat       = "log-format"
	KeyRateLimit       = "rate-limit"
	KeyRateBurst       = "rate-burst"
	KeyShutdownTimeout = "shutdown-timeout"
	KeyFeedOrigins     = "feed-origins"
	KeyTrustProxy      = "trust-proxy"
)

type Config struct {
	Addr            string
	DBPath          string
	LogLevel        string
	LogFormat       string
	RateLimit       float64 // requests per second per client IP on mutating routes; 0 disables
	RateBurst       int
	TrustProxy      bool // take the client IP from CF-Connecting-IP / X-Forwarded-For
	ShutdownTimeout time.Duration
	FeedOrigins     []string // extra origins allowed to open the note feed
}

// RegisterFlags adds every setting to fs with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(KeyAddr, ":8080", "address the HTTP server listens on")
	fs.String(KeyDBPath, "notes.db", "path of the SQLite store file")
	fs.String(KeyLogLevel, "info", "log level (debug, info, warn, error)")
	fs.String(KeyLogFormat, "text", "log format (text, json)")
	fs.Float64(KeyRateLimit, 0, "mutating requests per second allowed per client IP, 0 disables")
	fs.Int(KeyRateBurst, 20, "burst size for the per-IP rate limit")
	fs.Bool(KeyTrustProxy, false, "trust client IP headers set by a reverse proxy")
	fs.Duration(KeyShutdownTimeout, 5*time.Second, "how long to wait for in-flight requests on shutdown")
	fs.StringSlice(KeyFeedOrigins, nil, "origin patterns allowed to connect to the note feed")
}

// LoadDotEnv loads .env and .env.local if present. Existing environment
// variables win.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// NewViper returns a viper bound to fs and to FASTNOTES_* variables, with
// dashes in keys mapped to underscores (db-path -> FASTNOTES_DB_PATH).
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	return v, nil
}

// Load reads and validates the configuration from v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Addr:            strings.TrimSpace(v.GetString(KeyAddr)),
		DBPath:          strings.TrimSpace(v.GetString(KeyDBPath)),
		LogLevel:        v.GetString(KeyLogLevel),
		LogFormat:       v.GetString(KeyLogFormat),
		RateLimit:       v.GetFloat64(KeyRateLimit),
		RateBurst:       v.GetInt(KeyRateBurst),
		TrustProxy:      v.GetBool(KeyTrustProxy),
		ShutdownTimeout: v.GetDuration(KeyShutdownTimeout),
		FeedOrigins:     v.GetStringSlice(KeyFeedOrigins),
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db-path must not be empty"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate-limit must be >= 0, got %v", c.RateLimit))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("rate-burst must be >= 1 when rate limiting, got %d", c.RateBurst))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown-timeout must be positive, got %s", c.ShutdownTimeout))
	}
	return errors.Join(errs...)
}
