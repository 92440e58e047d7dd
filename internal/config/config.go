package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danieleschmidt/request-sentinel/pkg/response"
	"github.com/danieleschmidt/request-sentinel/pkg/threat"
	"github.com/spf13/viper"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	Version       string              `mapstructure:"version"`
	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Security      SecurityConfig      `mapstructure:"security"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type SecurityConfig struct {
	JWTSecret         string                 `mapstructure:"jwt_secret"`
	CORSOrigins       []string               `mapstructure:"cors_origins"`
	RulesFile         string                 `mapstructure:"rules_file"`
	StrictTransitions bool                   `mapstructure:"strict_transitions"`
	LocalBurstRPS     int                    `mapstructure:"local_burst_rps"`
	LocalBurstSize    int                    `mapstructure:"local_burst_size"`
	Frequency         threat.FrequencyConfig `mapstructure:"frequency"`
	Behavior          threat.BehaviorConfig  `mapstructure:"behavior"`
	Analysis          threat.ServiceConfig   `mapstructure:"analysis"`
	Response          response.Config        `mapstructure:"response"`
}

type ObservabilityConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/request-sentinel")

	// Set environment variable prefix
	viper.SetEnvPrefix("SENTINEL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	defaultCfg := DefaultConfig()
	setDefaults(defaultCfg)

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, continue with defaults
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Version:     "dev",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			Password: "",
			DB:       0,
		},
		Security: SecurityConfig{
			JWTSecret:         "default-secret-change-in-production",
			CORSOrigins:       []string{"*"},
			RulesFile:         "",
			StrictTransitions: false,
			LocalBurstRPS:     100,
			LocalBurstSize:    200,
			Frequency:         threat.DefaultFrequencyConfig(),
			Behavior:          threat.DefaultBehaviorConfig(),
			Analysis:          threat.DefaultServiceConfig(),
			Response:          response.DefaultConfig(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			Enabled:  true,
			Endpoint: "http://localhost:4318",
		},
	}
}

func setDefaults(cfg *Config) {
	viper.SetDefault("environment", cfg.Environment)
	viper.SetDefault("version", cfg.Version)
	viper.SetDefault("server.host", cfg.Server.Host)
	viper.SetDefault("server.port", cfg.Server.Port)
	viper.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	viper.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	viper.SetDefault("server.idle_timeout", cfg.Server.IdleTimeout)
	viper.SetDefault("redis.host", cfg.Redis.Host)
	viper.SetDefault("redis.port", cfg.Redis.Port)
	viper.SetDefault("redis.password", cfg.Redis.Password)
	viper.SetDefault("redis.db", cfg.Redis.DB)
	viper.SetDefault("security.jwt_secret", cfg.Security.JWTSecret)
	viper.SetDefault("security.cors_origins", cfg.Security.CORSOrigins)
	viper.SetDefault("security.rules_file", cfg.Security.RulesFile)
	viper.SetDefault("security.strict_transitions", cfg.Security.StrictTransitions)
	viper.SetDefault("security.local_burst_rps", cfg.Security.LocalBurstRPS)
	viper.SetDefault("security.local_burst_size", cfg.Security.LocalBurstSize)
	viper.SetDefault("security.frequency.window", cfg.Security.Frequency.Window)
	viper.SetDefault("security.frequency.high_threshold", cfg.Security.Frequency.HighThreshold)
	viper.SetDefault("security.frequency.medium_threshold", cfg.Security.Frequency.MediumThreshold)
	viper.SetDefault("security.behavior.history_size", cfg.Security.Behavior.HistorySize)
	viper.SetDefault("security.behavior.rapid_fire_interval", cfg.Security.Behavior.RapidFireInterval)
	viper.SetDefault("security.behavior.rapid_fire_threshold", cfg.Security.Behavior.RapidFireThreshold)
	viper.SetDefault("security.behavior.endpoint_threshold", cfg.Security.Behavior.EndpointThreshold)
	viper.SetDefault("security.behavior.max_users_per_ip", cfg.Security.Behavior.MaxUsersPerIP)
	viper.SetDefault("security.behavior.ip_window", cfg.Security.Behavior.IPWindow)
	viper.SetDefault("security.behavior.history_ttl", cfg.Security.Behavior.HistoryTTL)
	viper.SetDefault("security.behavior.normal_hours_start", cfg.Security.Behavior.NormalHoursStart)
	viper.SetDefault("security.behavior.normal_hours_end", cfg.Security.Behavior.NormalHoursEnd)
	viper.SetDefault("security.behavior.sensitive_paths", cfg.Security.Behavior.SensitivePaths)
	viper.SetDefault("security.analysis.history_limit", cfg.Security.Analysis.HistoryLimit)
	viper.SetDefault("security.analysis.auto_respond", cfg.Security.Analysis.AutoRespond)
	viper.SetDefault("security.analysis.response_level", cfg.Security.Analysis.ResponseLevel)
	viper.SetDefault("security.response.block_duration", cfg.Security.Response.BlockDuration)
	viper.SetDefault("security.response.temp_block_duration", cfg.Security.Response.TempBlockDuration)
	viper.SetDefault("security.response.admin_channel", cfg.Security.Response.AdminChannel)
	viper.SetDefault("logging.level", cfg.Logging.Level)
	viper.SetDefault("logging.format", cfg.Logging.Format)
	viper.SetDefault("observability.enabled", cfg.Observability.Enabled)
	viper.SetDefault("observability.endpoint", cfg.Observability.Endpoint)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Security.Frequency.HighThreshold <= c.Security.Frequency.MediumThreshold {
		return fmt.Errorf("frequency high threshold must exceed the medium threshold")
	}

	if start, end := c.Security.Behavior.NormalHoursStart, c.Security.Behavior.NormalHoursEnd; start < 0 || start > 23 || end < 1 || end > 24 || start >= end {
		return fmt.Errorf("invalid normal hours window: %d-%d", start, end)
	}

	if c.Security.JWTSecret == "" || c.Security.JWTSecret == "default-secret-change-in-production" {
		if c.Environment == "production" {
			return fmt.Errorf("JWT secret must be set in production")
		}
	}

	return nil
}
