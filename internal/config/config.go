package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURI    string
	LogLevel       string
	LogFormat      string
	LogOutput      string
	MetricsAddr    string
	SyncInterval   time.Duration
	Timezone       string
	TelegramToken  string
	RedisURL       string
	HTTPTimeout    time.Duration
	HTTPRatePerSec int
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}

	cfg := &Config{
		DatabaseURI:   os.Getenv("DATABASE_URI"),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:     getEnvOrDefault("LOG_FORMAT", "console"),
		LogOutput:     getEnvOrDefault("LOG_OUTPUT", "stdout"),
		MetricsAddr:   getEnvOrDefault("METRICS_ADDR", ":9090"),
		Timezone:      getEnvOrDefault("TIMEZONE", "UTC"),
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		RedisURL:      os.Getenv("REDIS_URL"),
	}

	var err error
	if cfg.SyncInterval, err = durationEnv("SYNC_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = durationEnv("HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPRatePerSec, err = intEnv("HTTP_RATE_PER_SEC", 10); err != nil {
		return nil, err
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a positive duration", key, v)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a positive integer", key, v)
	}
	return n, nil
}
