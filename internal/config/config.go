package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultToken is used when neither the file nor QUIZ_API_TOKEN sets a token.
const DefaultToken = "dev-token"

type Config struct {
	API struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
		Timeout string `yaml:"timeout"`
	} `yaml:"api"`
	Attempt struct {
		AutosaveDebounce string `yaml:"autosave_debounce"`
		AutoSubmit       bool   `yaml:"auto_submit"`
		ReportPaste      *bool  `yaml:"report_paste"`
		FlushTimeout     string `yaml:"flush_timeout"`
	} `yaml:"attempt"`
	Retry struct {
		InitialInterval string `yaml:"initial_interval"`
		MaxInterval     string `yaml:"max_interval"`
		MaxElapsed      string `yaml:"max_elapsed"`
		CallTimeout     string `yaml:"call_timeout"`
	} `yaml:"retry"`
	Cache struct {
		TTL string `yaml:"ttl"`
	} `yaml:"cache"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
}

// Load reads YAML config from path, then applies .env and environment overrides.
// A missing file is not an error: every setting has a default.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	_ = godotenv.Load()
	cfg.applyEnv()
	if strings.TrimSpace(cfg.API.Token) == "" {
		cfg.API.Token = DefaultToken
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("QUIZ_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("QUIZ_API_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.URL = v
	}
}

// PasteReporting defaults to on when the setting is absent.
func (c Config) PasteReporting() bool {
	if c.Attempt.ReportPaste == nil {
		return true
	}
	return *c.Attempt.ReportPaste
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
