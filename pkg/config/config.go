package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Lockout state backends.
const (
	LockoutBackendMemory = "memory"
	LockoutBackendRedis  = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database       DatabaseConfig
	Redis          RedisConfig
	JWT            JWTConfig
	Session        SessionConfig
	BruteForce     BruteForceConfig
	DeviceTrust    DeviceTrustConfig
	RateLimit      RateLimitConfig
	Auth           AuthConfig
	SecurityEvents SecurityEventsConfig
	CORS           CORSConfig
	Log            LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN returns the lib/pq key/value connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// URL returns the connection string in URL form, as expected by golang-migrate.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the independent signing secrets for both token kinds.
type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
}

// SessionConfig controls refresh lifetimes per device trust tier and session housekeeping.
type SessionConfig struct {
	RefreshTTLTrusted   time.Duration
	RefreshTTLStandard  time.Duration
	RefreshTTLUntrusted time.Duration
	TouchInterval       time.Duration
	PurgeInterval       time.Duration
	PurgeRetention      time.Duration
}

// BruteForceConfig configures lockout thresholds per key scope.
type BruteForceConfig struct {
	Backend            string
	AccountThreshold   int
	IPThreshold        int
	Window             time.Duration
	BaseLockout        time.Duration
	MaxLockout         time.Duration
	CaptchaAfter       int
	SweepInterval      time.Duration
	RedisKeyPrefix     string
	RedisMaxTxAttempts int
}

// DeviceTrustConfig captures the scoring weights and tier thresholds.
type DeviceTrustConfig struct {
	Base                  float64
	AttestationWeight     float64
	JailbreakWeight       float64
	HistoryWeight         float64
	NewDeviceWeight       float64
	HistorySaturationDays int
	TrustedThreshold      float64
	DistrustThreshold     float64
	SecondFactorTiers     []string
}

// RateLimitConfig configures the per-IP request limiter on auth routes.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// AuthConfig bounds the duration of auth operations.
type AuthConfig struct {
	OperationTimeout time.Duration
}

// SecurityEventsConfig sizes the asynchronous audit writer.
type SecurityEventsConfig struct {
	Async      bool
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		AccessSecret:  v.GetString("JWT_ACCESS_SECRET"),
		RefreshSecret: v.GetString("JWT_REFRESH_SECRET"),
		Issuer:        v.GetString("JWT_ISSUER"),
		AccessTTL:     parseDuration(v.GetString("ACCESS_TOKEN_TTL"), 30*time.Minute),
	}

	cfg.Session = SessionConfig{
		RefreshTTLTrusted:   parseDuration(v.GetString("REFRESH_TTL_TRUSTED"), 30*24*time.Hour),
		RefreshTTLStandard:  parseDuration(v.GetString("REFRESH_TTL_STANDARD"), 7*24*time.Hour),
		RefreshTTLUntrusted: parseDuration(v.GetString("REFRESH_TTL_UNTRUSTED"), 24*time.Hour),
		TouchInterval:       parseDuration(v.GetString("SESSION_TOUCH_INTERVAL"), time.Minute),
		PurgeInterval:       parseDuration(v.GetString("SESSION_PURGE_INTERVAL"), time.Hour),
		PurgeRetention:      parseDuration(v.GetString("SESSION_PURGE_RETENTION"), 7*24*time.Hour),
	}

	cfg.BruteForce = BruteForceConfig{
		Backend:            strings.ToLower(v.GetString("LOCKOUT_BACKEND")),
		AccountThreshold:   v.GetInt("LOCKOUT_ACCOUNT_THRESHOLD"),
		IPThreshold:        v.GetInt("LOCKOUT_IP_THRESHOLD"),
		Window:             parseDuration(v.GetString("LOCKOUT_WINDOW"), time.Hour),
		BaseLockout:        parseDuration(v.GetString("LOCKOUT_BASE_DURATION"), 15*time.Minute),
		MaxLockout:         parseDuration(v.GetString("LOCKOUT_MAX_DURATION"), 24*time.Hour),
		CaptchaAfter:       v.GetInt("LOCKOUT_CAPTCHA_AFTER"),
		SweepInterval:      parseDuration(v.GetString("LOCKOUT_SWEEP_INTERVAL"), time.Hour),
		RedisKeyPrefix:     v.GetString("LOCKOUT_REDIS_PREFIX"),
		RedisMaxTxAttempts: v.GetInt("LOCKOUT_REDIS_TX_ATTEMPTS"),
	}

	cfg.DeviceTrust = DeviceTrustConfig{
		Base:                  v.GetFloat64("DEVICE_TRUST_BASE"),
		AttestationWeight:     v.GetFloat64("DEVICE_TRUST_ATTESTATION_WEIGHT"),
		JailbreakWeight:       v.GetFloat64("DEVICE_TRUST_JAILBREAK_WEIGHT"),
		HistoryWeight:         v.GetFloat64("DEVICE_TRUST_HISTORY_WEIGHT"),
		NewDeviceWeight:       v.GetFloat64("DEVICE_TRUST_NEW_DEVICE_WEIGHT"),
		HistorySaturationDays: v.GetInt("DEVICE_TRUST_HISTORY_DAYS"),
		TrustedThreshold:      v.GetFloat64("DEVICE_TRUSTED_THRESHOLD"),
		DistrustThreshold:     v.GetFloat64("DEVICE_DISTRUST_THRESHOLD"),
		SecondFactorTiers:     splitAndTrim(v.GetString("AUTH_SECOND_FACTOR_TIERS")),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled: v.GetBool("ENABLE_AUTH_RATE_LIMIT"),
		RPS:     v.GetFloat64("AUTH_RATE_LIMIT_RPS"),
		Burst:   v.GetInt("AUTH_RATE_LIMIT_BURST"),
	}

	cfg.Auth = AuthConfig{
		OperationTimeout: parseDuration(v.GetString("AUTH_OPERATION_TIMEOUT"), 5*time.Second),
	}

	cfg.SecurityEvents = SecurityEventsConfig{
		Async:      v.GetBool("SECURITY_EVENTS_ASYNC"),
		Workers:    v.GetInt("SECURITY_EVENTS_WORKERS"),
		BufferSize: v.GetInt("SECURITY_EVENTS_BUFFER"),
		MaxRetries: v.GetInt("SECURITY_EVENTS_RETRIES"),
		RetryDelay: parseDuration(v.GetString("SECURITY_EVENTS_RETRY_DELAY"), time.Second),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		return errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	for name, ttl := range map[string]time.Duration{
		"REFRESH_TTL_TRUSTED":   c.Session.RefreshTTLTrusted,
		"REFRESH_TTL_STANDARD":  c.Session.RefreshTTLStandard,
		"REFRESH_TTL_UNTRUSTED": c.Session.RefreshTTLUntrusted,
	} {
		if ttl <= c.JWT.AccessTTL {
			return fmt.Errorf("%s must be longer than ACCESS_TOKEN_TTL", name)
		}
	}
	if c.DeviceTrust.DistrustThreshold >= c.DeviceTrust.TrustedThreshold {
		return errors.New("DEVICE_DISTRUST_THRESHOLD must be below DEVICE_TRUSTED_THRESHOLD")
	}
	switch c.BruteForce.Backend {
	case LockoutBackendMemory, LockoutBackendRedis:
	default:
		return fmt.Errorf("unsupported LOCKOUT_BACKEND %q", c.BruteForce.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "smorting_auth")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_ACCESS_SECRET", "dev_access_secret")
	v.SetDefault("JWT_REFRESH_SECRET", "dev_refresh_secret")
	v.SetDefault("JWT_ISSUER", "smor-ting-auth")
	v.SetDefault("ACCESS_TOKEN_TTL", "30m")

	v.SetDefault("REFRESH_TTL_TRUSTED", "720h")
	v.SetDefault("REFRESH_TTL_STANDARD", "168h")
	v.SetDefault("REFRESH_TTL_UNTRUSTED", "24h")
	v.SetDefault("SESSION_TOUCH_INTERVAL", "1m")
	v.SetDefault("SESSION_PURGE_INTERVAL", "1h")
	v.SetDefault("SESSION_PURGE_RETENTION", "168h")

	v.SetDefault("LOCKOUT_BACKEND", LockoutBackendMemory)
	v.SetDefault("LOCKOUT_ACCOUNT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_IP_THRESHOLD", 20)
	v.SetDefault("LOCKOUT_WINDOW", "1h")
	v.SetDefault("LOCKOUT_BASE_DURATION", "15m")
	v.SetDefault("LOCKOUT_MAX_DURATION", "24h")
	v.SetDefault("LOCKOUT_CAPTCHA_AFTER", 3)
	v.SetDefault("LOCKOUT_SWEEP_INTERVAL", "1h")
	v.SetDefault("LOCKOUT_REDIS_PREFIX", "lockout")
	v.SetDefault("LOCKOUT_REDIS_TX_ATTEMPTS", 5)

	v.SetDefault("DEVICE_TRUST_BASE", 0.5)
	v.SetDefault("DEVICE_TRUST_ATTESTATION_WEIGHT", 0.25)
	v.SetDefault("DEVICE_TRUST_JAILBREAK_WEIGHT", 0.75)
	v.SetDefault("DEVICE_TRUST_HISTORY_WEIGHT", 0.25)
	v.SetDefault("DEVICE_TRUST_NEW_DEVICE_WEIGHT", 0.15)
	v.SetDefault("DEVICE_TRUST_HISTORY_DAYS", 30)
	v.SetDefault("DEVICE_TRUSTED_THRESHOLD", 0.75)
	v.SetDefault("DEVICE_DISTRUST_THRESHOLD", 0.3)
	v.SetDefault("AUTH_SECOND_FACTOR_TIERS", "untrusted")

	v.SetDefault("ENABLE_AUTH_RATE_LIMIT", true)
	v.SetDefault("AUTH_RATE_LIMIT_RPS", 5)
	v.SetDefault("AUTH_RATE_LIMIT_BURST", 10)

	v.SetDefault("AUTH_OPERATION_TIMEOUT", "5s")

	v.SetDefault("SECURITY_EVENTS_ASYNC", true)
	v.SetDefault("SECURITY_EVENTS_WORKERS", 2)
	v.SetDefault("SECURITY_EVENTS_BUFFER", 256)
	v.SetDefault("SECURITY_EVENTS_RETRIES", 3)
	v.SetDefault("SECURITY_EVENTS_RETRY_DELAY", "1s")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
