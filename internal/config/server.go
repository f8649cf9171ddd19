package config

import (
	"os"
	"strconv"
	"strings"
)

type ServerConfig struct {
	Port        string
	LogLevel    string
	LogFile     string
	DatabaseURL string
	APIKey      string
	Version     string
	RateLimit   float64
	RateBurst   int
	Debug       bool
}

func LoadServer() ServerConfig {
	cfg := ServerConfig{
		Port:        envOrDefault("JEFE_SERVER_PORT", "8000"),
		LogLevel:    envOrDefault("JEFE_SERVER_LOG_LEVEL", "info"),
		LogFile:     strings.TrimSpace(os.Getenv("JEFE_SERVER_LOG_FILE")),
		DatabaseURL: envOrDefault("JEFE_SERVER_DATABASE_URL", "file:jefe.db"),
		APIKey:      strings.TrimSpace(os.Getenv("JEFE_API_KEY")),
		Version:     envOrDefault("JEFE_SERVER_VERSION", "dev"),
		RateLimit:   20,
		RateBurst:   IntOrDefault(os.Getenv("JEFE_SERVER_RATE_BURST"), 40),
	}
	if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
		cfg.Port = p
	}
	if v := strings.TrimSpace(os.Getenv("JEFE_SERVER_RATE_LIMIT")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.RateLimit = f
		}
	}
	if v, ok := getenvBool("JEFE_SERVER_DEBUG"); ok {
		cfg.Debug = v
	}
	return cfg
}
