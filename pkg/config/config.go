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

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Reports       ReportsConfig
	Permissions   PermissionsConfig
	ChangeWatcher ChangeWatcherConfig
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig describes how session tokens issued by the auth provider are verified.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ReportsConfig tunes report composition and exports.
type ReportsConfig struct {
	CacheEnabled  bool
	CacheTTL      time.Duration
	ExportMaxRows int
}

// PermissionsConfig tunes effective permission caching.
type PermissionsConfig struct {
	CacheTTL time.Duration
}

// ChangeWatcherConfig configures the LISTEN/NOTIFY subscription used for cache invalidation.
type ChangeWatcherConfig struct {
	Enabled              bool
	Channel              string
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
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

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSL_MODE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), time.Hour),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: v.GetString("JWT_AUDIENCE"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	maxRows := v.GetInt("EXPORT_MAX_ROWS")
	if maxRows <= 0 {
		maxRows = 5000
	}
	cfg.Reports = ReportsConfig{
		CacheEnabled:  v.GetBool("ENABLE_REPORT_CACHE"),
		CacheTTL:      parseDuration(v.GetString("REPORT_CACHE_TTL"), 5*time.Minute),
		ExportMaxRows: maxRows,
	}

	cfg.Permissions = PermissionsConfig{
		CacheTTL: parseDuration(v.GetString("PERMISSION_CACHE_TTL"), 10*time.Minute),
	}

	cfg.ChangeWatcher = ChangeWatcherConfig{
		Enabled:              v.GetBool("ENABLE_CHANGE_WATCHER"),
		Channel:              v.GetString("CHANGE_CHANNEL"),
		MinReconnectInterval: parseDuration(v.GetString("LISTENER_MIN_RECONNECT"), 10*time.Second),
		MaxReconnectInterval: parseDuration(v.GetString("LISTENER_MAX_RECONNECT"), time.Minute),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "school_admin")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")

	v.SetDefault("ENABLE_REDIS", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "authenticated")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_REPORT_CACHE", true)
	v.SetDefault("REPORT_CACHE_TTL", "5m")
	v.SetDefault("EXPORT_MAX_ROWS", 5000)
	v.SetDefault("PERMISSION_CACHE_TTL", "10m")

	v.SetDefault("ENABLE_CHANGE_WATCHER", true)
	v.SetDefault("CHANGE_CHANNEL", "table_changes")
	v.SetDefault("LISTENER_MIN_RECONNECT", "10s")
	v.SetDefault("LISTENER_MAX_RECONNECT", "1m")
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
