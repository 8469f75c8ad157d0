package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the maslowctl configuration. Values are layered: defaults, the
// YAML file, .env and the environment, then command line flags.
type Config struct {
	WSURL  string `yaml:"ws_url"`
	APIURL string `yaml:"api_url"`
	Listen string `yaml:"listen"`

	LogLevel string `yaml:"log_level"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReadyTimeout   time.Duration `yaml:"ready_timeout"`
	ErrorTimeout   time.Duration `yaml:"error_timeout"`
	TranscriptSize int           `yaml:"transcript_size"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

func defaultConfig() Config {
	return Config{
		WSURL:          "ws://localhost:8003/ws",
		APIURL:         "http://localhost:8003",
		Listen:         ":9091",
		LogLevel:       "info",
		RequestTimeout: 30 * time.Second,
		ReadyTimeout:   10 * time.Second,
		ErrorTimeout:   5 * time.Second,
		TranscriptSize: 100,
		Reconnect: ReconnectConfig{
			BaseDelay:    time.Second,
			MaxDelay:     30 * time.Second,
			MaxAttempts:  5,
			PingInterval: 30 * time.Second,
		},
	}
}

// loadConfig reads the optional YAML file at path over the defaults, then
// applies .env and environment overrides.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// a missing .env is not an error
	_ = godotenv.Load()

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("MASLOW_WS_URL", &cfg.WSURL)
	str("MASLOW_API_URL", &cfg.APIURL)
	str("MASLOW_LISTEN", &cfg.Listen)
	str("LOG_LEVEL", &cfg.LogLevel)

	if v, ok := lookup("MASLOW_REQUEST_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MASLOW_REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if v, ok := lookup("MASLOW_MAX_RECONNECTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MASLOW_MAX_RECONNECTS: %w", err)
		}
		cfg.Reconnect.MaxAttempts = n
	}
	return nil
}
