package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment override.
const envPrefix = "ECOZONE_"

// minSecretLength is the shortest signing secret accepted at start-up.
const minSecretLength = 32

// Config is the root configuration structure for the EcoZone auth service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Zones     []ZoneConfig    `yaml:"zones"`
}

// ServiceConfig identifies this deployment.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host         string           `yaml:"host"`
	Port         int              `yaml:"port"`
	Timeouts     APITimeoutConfig `yaml:"timeouts"`
	CORS         CORSConfig       `yaml:"cors"`
	StoreTimeout time.Duration    `yaml:"store_timeout"`
	MaxBodyBytes int64            `yaml:"max_body_bytes"`

	// TrustedProxies lists the CIDRs whose X-Forwarded-For and X-Real-IP
	// headers are believed. Every other peer is identified by its socket
	// address.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// AuthConfig holds token, password and session policy.
type AuthConfig struct {
	AccessTokenSecret    string        `yaml:"access_token_secret"`
	RefreshTokenSecret   string        `yaml:"refresh_token_secret"`
	AccessTokenTTL       time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `yaml:"refresh_token_ttl"`
	Issuer               string        `yaml:"issuer"`
	Audience             string        `yaml:"audience"`
	BcryptCost           int           `yaml:"bcrypt_cost"`
	MaxLoginAttempts     int           `yaml:"max_login_attempts"`
	LockDuration         time.Duration `yaml:"lock_duration"`
	MaxActiveSessions    int           `yaml:"max_active_sessions"`
	SessionRetention     time.Duration `yaml:"session_retention"`
	SweepSchedule        string        `yaml:"sweep_schedule"`
	RequireEmailVerified bool          `yaml:"require_email_verified"`
	DefaultZone          string        `yaml:"default_zone"`
	Admin                AdminConfig   `yaml:"admin"`
}

// AdminConfig describes the optional bootstrap office account.
type AdminConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// RateLimitConfig contains per-IP request throttling settings.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Backend  string        `yaml:"backend"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ZoneConfig seeds an administrative zone at start-up.
type ZoneConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ECOZONE_SECTION_KEY
// For example: ECOZONE_DATABASE_PATH, ECOZONE_ACCESS_TOKEN_SECRET.
// Signing secrets have no defaults and must come from the file or the environment.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. Variables already set are left untouched and a missing file
// is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "ecozone-auth",
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:        "./data/ecozone-auth.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			StoreTimeout: 5 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Auth: AuthConfig{
			AccessTokenTTL:    24 * time.Hour,
			RefreshTokenTTL:   7 * 24 * time.Hour,
			Issuer:            "ecozone-auth",
			Audience:          "ecozone-app",
			BcryptCost:        12,
			MaxLoginAttempts:  5,
			LockDuration:      2 * time.Hour,
			MaxActiveSessions: 5,
			SessionRetention:  30 * 24 * time.Hour,
			SweepSchedule:     "@every 15m",
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Backend:  "memory",
			Requests: 100,
			Window:   15 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ecozone-auth",
			},
			QoS:         1,
			TopicPrefix: "ecozone",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "auth",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Malformed numeric or duration values are reported rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(envPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(envPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(envPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	// Database
	setString("DATABASE_PATH", &cfg.Database.Path)

	// API
	setString("API_HOST", &cfg.API.Host)
	setInt("API_PORT", &cfg.API.Port)
	if v := os.Getenv(envPrefix + "ALLOWED_ORIGINS"); v != "" {
		cfg.API.CORS.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv(envPrefix + "TRUSTED_PROXIES"); v != "" {
		cfg.API.TrustedProxies = splitList(v)
	}

	// Auth
	setString("ACCESS_TOKEN_SECRET", &cfg.Auth.AccessTokenSecret)
	setString("REFRESH_TOKEN_SECRET", &cfg.Auth.RefreshTokenSecret)
	setDuration("ACCESS_TOKEN_TTL", &cfg.Auth.AccessTokenTTL)
	setDuration("REFRESH_TOKEN_TTL", &cfg.Auth.RefreshTokenTTL)
	setInt("BCRYPT_COST", &cfg.Auth.BcryptCost)
	setInt("MAX_LOGIN_ATTEMPTS", &cfg.Auth.MaxLoginAttempts)
	setDuration("LOCK_DURATION", &cfg.Auth.LockDuration)
	setBool("REQUIRE_EMAIL_VERIFIED", &cfg.Auth.RequireEmailVerified)
	setString("ADMIN_EMAIL", &cfg.Auth.Admin.Email)
	setString("ADMIN_PASSWORD", &cfg.Auth.Admin.Password)

	// Rate limiting
	setString("RATE_LIMIT_BACKEND", &cfg.RateLimit.Backend)
	setString("REDIS_ADDR", &cfg.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)

	// MQTT
	setBool("MQTT_ENABLED", &cfg.MQTT.Enabled)
	setString("MQTT_HOST", &cfg.MQTT.Broker.Host)
	setString("MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	setString("MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	// InfluxDB
	setBool("INFLUXDB_ENABLED", &cfg.InfluxDB.Enabled)
	setString("INFLUXDB_URL", &cfg.InfluxDB.URL)
	setString("INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// Logging
	setString("LOG_LEVEL", &cfg.Logging.Level)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if _, err := c.API.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err.Error())
	}

	// Forged tokens grant access to every zone, so weak or shared secrets
	// are refused outright.
	a := c.Auth
	switch {
	case a.AccessTokenSecret == "":
		errs = append(errs, "auth.access_token_secret is required (set ECOZONE_ACCESS_TOKEN_SECRET)")
	case len(a.AccessTokenSecret) < minSecretLength:
		errs = append(errs, "auth.access_token_secret must be at least 32 characters")
	}
	switch {
	case a.RefreshTokenSecret == "":
		errs = append(errs, "auth.refresh_token_secret is required (set ECOZONE_REFRESH_TOKEN_SECRET)")
	case len(a.RefreshTokenSecret) < minSecretLength:
		errs = append(errs, "auth.refresh_token_secret must be at least 32 characters")
	}
	if a.AccessTokenSecret != "" && a.AccessTokenSecret == a.RefreshTokenSecret {
		errs = append(errs, "auth.access_token_secret and auth.refresh_token_secret must differ")
	}

	if a.AccessTokenTTL <= 0 {
		errs = append(errs, "auth.access_token_ttl must be positive")
	}
	if a.RefreshTokenTTL <= a.AccessTokenTTL {
		errs = append(errs, "auth.refresh_token_ttl must be longer than auth.access_token_ttl")
	}
	if a.BcryptCost < 4 || a.BcryptCost > 31 {
		errs = append(errs, "auth.bcrypt_cost must be between 4 and 31")
	}
	if a.MaxLoginAttempts < 1 {
		errs = append(errs, "auth.max_login_attempts must be at least 1")
	}
	if a.LockDuration <= 0 {
		errs = append(errs, "auth.lock_duration must be positive")
	}
	if a.MaxActiveSessions < 1 {
		errs = append(errs, "auth.max_active_sessions must be at least 1")
	}
	if a.SessionRetention <= 0 {
		errs = append(errs, "auth.session_retention must be positive")
	}

	if c.RateLimit.Enabled {
		switch c.RateLimit.Backend {
		case "memory":
		case "redis":
			if c.Redis.Addr == "" {
				errs = append(errs, "redis.addr is required when rate_limit.backend is redis")
			}
		default:
			errs = append(errs, "rate_limit.backend must be memory or redis")
		}
		if c.RateLimit.Requests < 1 || c.RateLimit.Window <= 0 {
			errs = append(errs, "rate_limit.requests and rate_limit.window must be positive")
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is treated
// as a single-host prefix.
func (a APIConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(a.TrustedProxies))
	for _, raw := range a.TrustedProxies {
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("api.trusted_proxies: invalid CIDR or address %q", raw)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
