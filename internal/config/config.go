package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // color, text or json
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
		DraftTTL string `yaml:"draftTtl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Attempt struct {
		AutosaveDebounce string `yaml:"autosaveDebounce"`
		AutosaveInterval string `yaml:"autosaveInterval"`
		ClockSync        string `yaml:"clockSync"`
		RequestTimeout   string `yaml:"requestTimeout"`
	} `yaml:"attempt"`
	Events struct {
		Publisher string   `yaml:"publisher"` // none, gochannel or kafka
		Brokers   []string `yaml:"brokers"`
		Topic     string   `yaml:"topic"`
	} `yaml:"events"`
}

// Load reads YAML config from path, then applies environment overrides.
// A .env file next to the working directory is loaded first if present.
func Load(path string) (Config, error) {
	cfg := Config{}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		c.Postgres.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("EVENTS_PUBLISHER"); v != "" {
		c.Events.Publisher = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.Brokers = strings.Split(v, ",")
	}
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
