package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, relative to the working directory.
const ConfigPath = "config.yaml"

// Session snapshot backings.
const (
	SessionStoreMemory   = "memory"
	SessionStoreRedis    = "redis"
	SessionStorePostgres = "postgres"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                       string   `yaml:"port"`
	LogLevel                   string   `yaml:"logLevel"`
	APIBaseURL                 string   `yaml:"apiBaseURL"`
	StaticDir                  string   `yaml:"staticDir"`
	SessionStore               string   `yaml:"sessionStore"`
	SessionTTL                 string   `yaml:"sessionTTL"`
	DatabaseURL                string   `yaml:"databaseURL"`
	RedisAddr                  string   `yaml:"redisAddr"`
	RedisPassword              string   `yaml:"redisPassword"`
	CookieDomain               string   `yaml:"cookieDomain"`
	CookieSecure               *bool    `yaml:"cookieSecure"`
	AccessCookieTTL            string   `yaml:"accessCookieTTL"`
	RefreshCookieTTL           string   `yaml:"refreshCookieTTL"`
	RemoteLogoutTimeout        string   `yaml:"remoteLogoutTimeout"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	SignupRateLimitPerMinute   int      `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	RefreshRateLimitPerMinute  int      `yaml:"refreshRateLimitPerMinute"`
	PasswordRateLimitPerMinute int      `yaml:"passwordRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml). A missing default
// file is tolerated so the edge can run from environment variables alone.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	explicit := path != ""
	if !explicit {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("MENTORHUB_WEB_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("MENTORHUB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MENTORHUB_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("MENTORHUB_STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := os.Getenv("MENTORHUB_SESSION_STORE"); v != "" {
		cfg.SessionStore = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("MENTORHUB_SESSION_TTL"); v != "" {
		cfg.SessionTTL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MENTORHUB_COOKIE_DOMAIN"); v != "" {
		cfg.CookieDomain = strings.TrimSpace(v)
	}
	if v := os.Getenv("MENTORHUB_COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.CookieSecure = &b
		}
	}
	if v := os.Getenv("MENTORHUB_ACCESS_COOKIE_TTL"); v != "" {
		cfg.AccessCookieTTL = v
	}
	if v := os.Getenv("MENTORHUB_REFRESH_COOKIE_TTL"); v != "" {
		cfg.RefreshCookieTTL = v
	}
	if v := os.Getenv("MENTORHUB_REMOTE_LOGOUT_TIMEOUT"); v != "" {
		cfg.RemoteLogoutTimeout = v
	}
	if v := os.Getenv("MENTORHUB_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	envInt("MENTORHUB_SIGNUP_RATE_LIMIT_PER_MINUTE", &cfg.SignupRateLimitPerMinute)
	envInt("MENTORHUB_LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute)
	envInt("MENTORHUB_REFRESH_RATE_LIMIT_PER_MINUTE", &cfg.RefreshRateLimitPerMinute)
	envInt("MENTORHUB_PASSWORD_RATE_LIMIT_PER_MINUTE", &cfg.PasswordRateLimitPerMinute)
}

func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.SessionStore == "" {
		if strings.TrimSpace(cfg.DatabaseURL) != "" {
			cfg.SessionStore = SessionStorePostgres
		} else {
			cfg.SessionStore = SessionStoreRedis
		}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return errors.New("config: apiBaseURL is required (set in config.yaml or MENTORHUB_API_BASE_URL)")
	}
	if u, err := url.Parse(cfg.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: apiBaseURL %q must be an absolute URL", cfg.APIBaseURL)
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for distributed rate limiting")
	}
	switch cfg.SessionStore {
	case SessionStoreMemory, SessionStoreRedis:
	case SessionStorePostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required when sessionStore is postgres")
		}
	default:
		return fmt.Errorf("config: unknown sessionStore %q (memory, redis or postgres)", cfg.SessionStore)
	}
	for name, value := range map[string]string{
		"sessionTTL":          cfg.SessionTTL,
		"accessCookieTTL":     cfg.AccessCookieTTL,
		"refreshCookieTTL":    cfg.RefreshCookieTTL,
		"remoteLogoutTimeout": cfg.RemoteLogoutTimeout,
	} {
		if _, err := ParseDuration(value, 0); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.RefreshRateLimitPerMinute < 0 || cfg.PasswordRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

// SecureCookies reports whether auth cookies carry the Secure attribute. Unset means true.
func (c FileConfig) SecureCookies() bool {
	if c.CookieSecure == nil {
		return true
	}
	return *c.CookieSecure
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses an optional duration string, returning def when empty.
func ParseDuration(value string, def time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid duration %q: must not be negative", value)
	}
	return dur, nil
}
