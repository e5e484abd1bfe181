package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the flowd configuration.
type Config struct {
	Listen      string `yaml:"listen" validate:"required"`
	DatabaseURL string `yaml:"database_url" validate:"required"`

	// AdminDatabaseURL is the privileged credential used to write
	// notifications for any user. Defaults to DatabaseURL.
	AdminDatabaseURL string `yaml:"admin_database_url"`

	Redis  RedisConfig  `yaml:"redis"`
	SMTP   SMTPConfig   `yaml:"smtp"`
	Log    LogConfig    `yaml:"log"`
	Engine EngineConfig `yaml:"engine"`
}

// RedisConfig enables the cross-process graph lock when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr" validate:"omitempty,hostname_port"`
	LeaseTTL time.Duration `yaml:"lease_ttl" validate:"gte=0"`
}

// SMTPConfig enables email delivery when Host is set.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from" validate:"required_with=Host,omitempty,email"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

type EngineConfig struct {
	Workers   int           `yaml:"workers" validate:"min=1"`
	PaceDelay time.Duration `yaml:"pace_delay" validate:"gte=0"`
}

func defaultConfig() Config {
	return Config{
		Listen: ":3000",
		SMTP:   SMTPConfig{Port: 587},
		Log:    LogConfig{Level: "info", Format: "console"},
		Engine: EngineConfig{Workers: 4},
	}
}

// loadConfig reads path (optional), applies FLOW_* variables from lookup and validates.
func loadConfig(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	if cfg.AdminDatabaseURL == "" {
		cfg.AdminDatabaseURL = cfg.DatabaseURL
	}
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return cfg, fmt.Errorf("invalid config: %s fails %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"FLOW_LISTEN":             &cfg.Listen,
		"FLOW_DATABASE_URL":       &cfg.DatabaseURL,
		"FLOW_ADMIN_DATABASE_URL": &cfg.AdminDatabaseURL,
		"FLOW_REDIS_ADDR":         &cfg.Redis.Addr,
		"FLOW_SMTP_HOST":          &cfg.SMTP.Host,
		"FLOW_SMTP_USERNAME":      &cfg.SMTP.Username,
		"FLOW_SMTP_PASSWORD":      &cfg.SMTP.Password,
		"FLOW_SMTP_FROM":          &cfg.SMTP.From,
		"FLOW_LOG_LEVEL":          &cfg.Log.Level,
		"FLOW_LOG_FORMAT":         &cfg.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"FLOW_SMTP_PORT":      &cfg.SMTP.Port,
		"FLOW_ENGINE_WORKERS": &cfg.Engine.Workers,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"FLOW_REDIS_LEASE_TTL":   &cfg.Redis.LeaseTTL,
		"FLOW_ENGINE_PACE_DELAY": &cfg.Engine.PaceDelay,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}
