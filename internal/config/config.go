package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the client side configuration stored in config.toml.
type Config struct {
	ServerURL             string `toml:"server_url"`
	APIKey                string `toml:"api_key"`
	CachePath             string `toml:"cache_path"`
	CacheTTLSeconds       int    `toml:"cache_ttl_seconds"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	ProbeTimeoutSeconds   int    `toml:"probe_timeout_seconds"`
	ProbeTTLSeconds       int    `toml:"probe_ttl_seconds"`
	LogLevel              string `toml:"log_level"`
	LogFile               string `toml:"log_file"`
}

func Default() Config {
	return Config{
		ServerURL:             "http://localhost:8000",
		CachePath:             filepath.Join(Dir(), "cache.db"),
		CacheTTLSeconds:       300,
		RequestTimeoutSeconds: 10,
		ProbeTimeoutSeconds:   2,
		ProbeTTLSeconds:       30,
		LogLevel:              "warn",
	}
}

func Dir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".config", "jefe")
	}
	return ".jefe"
}

// Path returns the config file location, honouring JEFE_CONFIG.
func Path() string {
	if p := strings.TrimSpace(os.Getenv("JEFE_CONFIG")); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.toml")
}

// Load reads defaults, then the file at path (missing is fine), then env.
func Load(path string) (Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// LoadFile is Load without the environment overrides.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		path = Path()
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(b), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	normalize(&cfg)
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if strings.TrimSpace(path) == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// Set updates one field by its toml key.
func Set(cfg *Config, key, value string) error {
	value = strings.TrimSpace(value)
	switch strings.TrimSpace(key) {
	case "server_url":
		cfg.ServerURL = strings.TrimRight(value, "/")
	case "api_key":
		cfg.APIKey = value
	case "cache_path":
		cfg.CachePath = value
	case "log_level":
		cfg.LogLevel = strings.ToLower(value)
	case "log_file":
		cfg.LogFile = value
	case "cache_ttl_seconds":
		return setInt(&cfg.CacheTTLSeconds, key, value)
	case "request_timeout_seconds":
		return setInt(&cfg.RequestTimeoutSeconds, key, value)
	case "probe_timeout_seconds":
		return setInt(&cfg.ProbeTimeoutSeconds, key, value)
	case "probe_ttl_seconds":
		return setInt(&cfg.ProbeTTLSeconds, key, value)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func setInt(dst *int, key, value string) error {
	i, err := strconv.Atoi(value)
	if err != nil || i <= 0 {
		return fmt.Errorf("%s must be a positive integer, got %q", key, value)
	}
	*dst = i
	return nil
}

// Masked returns a copy safe to print.
func (c Config) Masked() Config {
	if len(c.APIKey) > 4 {
		c.APIKey = strings.Repeat("*", len(c.APIKey)-4) + c.APIKey[len(c.APIKey)-4:]
	} else if c.APIKey != "" {
		c.APIKey = "****"
	}
	return c
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("JEFE_SERVER_URL")); v != "" {
		cfg.ServerURL = v
	}
	if v := strings.TrimSpace(os.Getenv("JEFE_API_KEY")); v != "" {
		cfg.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("JEFE_CACHE_PATH")); v != "" {
		cfg.CachePath = v
	}
	cfg.CacheTTLSeconds = IntOrDefault(os.Getenv("JEFE_CACHE_TTL_SECONDS"), cfg.CacheTTLSeconds)
	cfg.RequestTimeoutSeconds = IntOrDefault(os.Getenv("JEFE_REQUEST_TIMEOUT_SECONDS"), cfg.RequestTimeoutSeconds)
	cfg.ProbeTimeoutSeconds = IntOrDefault(os.Getenv("JEFE_PROBE_TIMEOUT_SECONDS"), cfg.ProbeTimeoutSeconds)
	cfg.ProbeTTLSeconds = IntOrDefault(os.Getenv("JEFE_PROBE_TTL_SECONDS"), cfg.ProbeTTLSeconds)
	if v := strings.TrimSpace(os.Getenv("JEFE_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("JEFE_LOG_FILE")); v != "" {
		cfg.LogFile = v
	}
}

func normalize(cfg *Config) {
	d := Default()
	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if cfg.ServerURL == "" {
		cfg.ServerURL = d.ServerURL
	}
	if strings.TrimSpace(cfg.CachePath) == "" {
		cfg.CachePath = d.CachePath
	}
	if cfg.CacheTTLSeconds <= 0 {
		cfg.CacheTTLSeconds = d.CacheTTLSeconds
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = d.RequestTimeoutSeconds
	}
	if cfg.ProbeTimeoutSeconds <= 0 {
		cfg.ProbeTimeoutSeconds = d.ProbeTimeoutSeconds
	}
	if cfg.ProbeTTLSeconds <= 0 {
		cfg.ProbeTTLSeconds = d.ProbeTTLSeconds
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func IntOrDefault(v string, fallback int) int {
	if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && i > 0 {
		return i
	}
	return fallback
}

func getenvBool(name string) (bool, bool) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if v == "" {
		return false, false
	}
	switch v {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
