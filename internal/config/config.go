package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when COURTBOOK_CONFIG_PATH is unset.
const DefaultPath = "configs/config.yaml"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Business   BusinessConfig   `yaml:"business"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Admin      AdminConfig      `yaml:"admin"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Address             string `yaml:"address"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type BusinessConfig struct {
	UTCOffsetHours  int    `yaml:"utc_offset_hours"`
	Courts          int    `yaml:"courts"`
	SlotMinutes     int    `yaml:"slot_minutes"`
	Durations       []int  `yaml:"durations"`
	HoldMinutes     int    `yaml:"hold_minutes"`
	HorizonDays     int    `yaml:"horizon_days"`
	LegacyChainDays int    `yaml:"legacy_chain_days"`
	OpenTime        string `yaml:"open_time"`
	CloseTime       string `yaml:"close_time"`
}

type ScheduleConfig struct {
	Propagation string `yaml:"propagation"`
	Sweep       string `yaml:"sweep"`
}

type AdminConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

type RateLimitConfig struct {
	Enabled       bool `yaml:"enabled"`
	Requests      int  `yaml:"requests"`
	WindowSeconds int  `yaml:"window_seconds"`
}

type TelegramConfig struct {
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
	Debug    bool    `yaml:"debug"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

type MonitoringConfig struct {
	HealthCheckPort   int  `yaml:"health_check_port"`
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads the YAML file at path, expands ${ENV_VAR} placeholders and applies defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Database.Driver == "sqlite" {
		if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Parse decodes config bytes, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 10
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 30
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/courtbook.db"
	}
	if c.Business.Courts <= 0 {
		c.Business.Courts = 3
	}
	if c.Business.SlotMinutes <= 0 {
		c.Business.SlotMinutes = 30
	}
	if len(c.Business.Durations) == 0 {
		c.Business.Durations = []int{60, 90, 120}
	}
	if c.Business.HoldMinutes <= 0 {
		c.Business.HoldMinutes = 15
	}
	if c.Business.HorizonDays <= 0 {
		c.Business.HorizonDays = 15
	}
	if c.Business.OpenTime == "" {
		c.Business.OpenTime = "08:00"
	}
	if c.Business.CloseTime == "" {
		c.Business.CloseTime = "23:00"
	}
	if c.Schedule.Propagation == "" {
		c.Schedule.Propagation = "0 3 * * *"
	}
	if c.Schedule.Sweep == "" {
		c.Schedule.Sweep = "*/10 * * * *"
	}
	if c.RateLimit.Requests <= 0 {
		c.RateLimit.Requests = 10
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "30 2 * * *"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8081
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects settings the engine cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Driver != "sqlite" && c.Database.Driver != "memory" {
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	if c.Business.UTCOffsetHours < -12 || c.Business.UTCOffsetHours > 14 {
		errs = append(errs, fmt.Errorf("business.utc_offset_hours: %d out of range", c.Business.UTCOffsetHours))
	}
	if 24*60%c.Business.SlotMinutes != 0 {
		errs = append(errs, fmt.Errorf("business.slot_minutes: %d does not divide a day", c.Business.SlotMinutes))
	}
	for _, d := range c.Business.Durations {
		if d <= 0 || d%c.Business.SlotMinutes != 0 {
			errs = append(errs, fmt.Errorf("business.durations: %d is not a multiple of %d", d, c.Business.SlotMinutes))
		}
	}
	if c.Business.LegacyChainDays < 0 {
		errs = append(errs, errors.New("business.legacy_chain_days: must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) SlotDuration() time.Duration {
	return time.Duration(c.Business.SlotMinutes) * time.Minute
}

func (c *Config) HoldDuration() time.Duration {
	return time.Duration(c.Business.HoldMinutes) * time.Minute
}

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}
