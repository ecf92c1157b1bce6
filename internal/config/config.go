package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"movementflow/internal/flow"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Approval     ApprovalConfig     `mapstructure:"approval"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug or release
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	AllowOrigins []string      `mapstructure:"allow_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres or sqlite
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	Path            string        `mapstructure:"path"` // sqlite file
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN builds the connection string for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// AuthConfig holds token settings
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// RedisConfig enables cross-instance cache invalidation. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// ApprovalConfig holds approval workflow settings
type ApprovalConfig struct {
	FinRule        string        `mapstructure:"fin_rule"` // movement or exclusion
	AccessCacheTTL time.Duration `mapstructure:"access_cache_ttl"`
}

// StorageConfig holds upload settings
type StorageConfig struct {
	BaseDir          string `mapstructure:"base_dir"`
	MaxEvidenceBytes int64  `mapstructure:"max_evidence_bytes"`
}

// SMTPConfig holds relay settings
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	UseTLS   bool   `mapstructure:"use_tls"`
}

// NotificationConfig holds email notification settings
type NotificationConfig struct {
	Driver          string            `mapstructure:"driver"` // smtp or log
	SMTP            SMTPConfig        `mapstructure:"smtp"`
	FallbackDomain  string            `mapstructure:"fallback_domain"`
	StageRecipients map[string]string `mapstructure:"stage_recipients"`
	QueueSize       int               `mapstructure:"queue_size"`
	AppURL          string            `mapstructure:"app_url"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables. A missing
// file is not an error; defaults and the environment still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// Override with environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.allow_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "data/movements.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Auth defaults
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	// Redis defaults
	v.SetDefault("redis.channel", "movementflow:stage-access")

	// Approval defaults
	v.SetDefault("approval.fin_rule", flow.PolicyMovement)
	v.SetDefault("approval.access_cache_ttl", 5*time.Minute)

	// Storage defaults
	v.SetDefault("storage.base_dir", "uploads")
	v.SetDefault("storage.max_evidence_bytes", 20*1024*1024)

	// Notification defaults
	v.SetDefault("notification.driver", "log")
	v.SetDefault("notification.smtp.port", 25)
	v.SetDefault("notification.queue_size", 256)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("server.mode", "GIN_MODE")
	_ = v.BindEnv("database.driver", "DB_DRIVER")
	_ = v.BindEnv("database.host", "DB_HOST")
	_ = v.BindEnv("database.port", "DB_PORT")
	_ = v.BindEnv("database.user", "DB_USER")
	_ = v.BindEnv("database.password", "DB_PASSWORD")
	_ = v.BindEnv("database.name", "DB_NAME")
	_ = v.BindEnv("database.sslmode", "DB_SSLMODE")
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("notification.smtp.host", "SMTP_HOST")
	_ = v.BindEnv("notification.smtp.username", "SMTP_USERNAME")
	_ = v.BindEnv("notification.smtp.password", "SMTP_PASSWORD")
	_ = v.BindEnv("notification.smtp.from", "SMTP_FROM")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}

	if _, err := flow.PolicyByName(c.Approval.FinRule); err != nil {
		return fmt.Errorf("approval.fin_rule: %w", err)
	}
	if c.Approval.AccessCacheTTL <= 0 {
		return fmt.Errorf("approval.access_cache_ttl must be positive")
	}

	if c.Server.Mode == "release" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required in release mode")
	}

	switch c.Notification.Driver {
	case "log":
	case "smtp":
		if c.Notification.SMTP.Host == "" {
			return fmt.Errorf("notification.smtp.host is required")
		}
		if c.Notification.SMTP.From == "" {
			return fmt.Errorf("notification.smtp.from is required")
		}
	default:
		return fmt.Errorf("notification.driver must be smtp or log, got %q", c.Notification.Driver)
	}

	for stage := range c.Notification.StageRecipients {
		if _, err := flow.ParseStage(stage); err != nil {
			return fmt.Errorf("notification.stage_recipients: %w", err)
		}
	}

	if c.Storage.MaxEvidenceBytes <= 0 {
		return fmt.Errorf("storage.max_evidence_bytes must be positive")
	}

	return nil
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
