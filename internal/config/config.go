package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"invoice-reconciliation-engine/internal/llm"
	"invoice-reconciliation-engine/internal/logger"
	"invoice-reconciliation-engine/internal/services/exception"
	"invoice-reconciliation-engine/internal/services/matching"
	"invoice-reconciliation-engine/internal/services/reconciliation"
	"invoice-reconciliation-engine/internal/services/semantic"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        logger.Config    `mapstructure:"log"`
	AI         AIConfig         `mapstructure:"ai"`
	Matching   matching.Config  `mapstructure:"matching"`
	Semantic   semantic.Config  `mapstructure:"semantic"`
	Exceptions exception.Config `mapstructure:"exceptions"`
}

type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type AIConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	JSONMode    bool          `mapstructure:"json_mode"`
}

// Default returns the configuration used when no file or env overrides exist.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        "8080",
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "reconciliation.db",
		},
		Log: logger.Config{Level: "info", Format: "text"},
		AI: AIConfig{
			Enabled:     true,
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Timeout:     60 * time.Second,
			MaxAttempts: 3,
			Backoff:     time.Second,
			JSONMode:    true,
		},
		Matching:   matching.DefaultConfig(),
		Semantic:   semantic.DefaultConfig(),
		Exceptions: exception.DefaultConfig(),
	}
}

// Load reads .env, then config.yaml (or the given path), then RECON_* env vars.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	v := viper.New()
	setDefaults(v, "", reflect.ValueOf(cfg))

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every mapstructure key of cfg so env overrides reach
// keys absent from the config file.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		field := val.Field(i)
		if field.Kind() == reflect.Struct {
			setDefaults(v, key, field)
			continue
		}
		v.SetDefault(key, field.Interface())
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return errors.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.AI.MaxAttempts < 1 {
		return errors.New("ai.max_attempts must be at least 1")
	}
	if err := c.Matching.Validate(); err != nil {
		return errors.Wrap(err, "matching")
	}
	if err := c.Semantic.Validate(); err != nil {
		return errors.Wrap(err, "semantic")
	}
	return nil
}

// AIReady reports whether the semantic tier can be wired.
func (c *Config) AIReady() bool {
	return c.AI.Enabled && c.AI.APIKey != ""
}

func (c *Config) LLMOptions() llm.Options {
	return llm.Options{
		APIKey:      c.AI.APIKey,
		BaseURL:     c.AI.BaseURL,
		Model:       c.AI.Model,
		Timeout:     c.AI.Timeout,
		MaxAttempts: c.AI.MaxAttempts,
		Backoff:     c.AI.Backoff,
		JSONMode:    c.AI.JSONMode,
	}
}

func (c *Config) Services() reconciliation.Config {
	return reconciliation.Config{
		Matching:   c.Matching,
		Semantic:   c.Semantic,
		Exceptions: c.Exceptions,
	}
}
