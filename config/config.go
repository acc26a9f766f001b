// Package config loads the example binaries' settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string
	Endpoint string
	Feed     FeedConfig
	Liveness LivenessConfig
}

type FeedConfig struct {
	Symbols  []string
	Depth    int
	Snapshot bool
}

type LivenessConfig struct {
	Timeout        time.Duration
	WarningPercent float64
}

func LoadConfig() (*Config, error) {
	return &Config{
		Env:      getEnv("ENV", "local"),
		Endpoint: getEnv("KRAKEN_WS_URL", "wss://ws.kraken.com/v2"),
		Feed: FeedConfig{
			Symbols:  getEnvList("KRAKEN_SYMBOLS", []string{"BTC/USD"}),
			Depth:    getEnvInt("KRAKEN_BOOK_DEPTH", 10),
			Snapshot: getEnvBool("KRAKEN_SNAPSHOT", true),
		},
		Liveness: LivenessConfig{
			Timeout:        getEnvDuration("KRAKEN_LIVENESS_TIMEOUT", 30*time.Second),
			WarningPercent: getEnvFloat("KRAKEN_LIVENESS_WARNING_PERCENT", 0.8),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		v, err := strconv.Atoi(value)
		if err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		v, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
