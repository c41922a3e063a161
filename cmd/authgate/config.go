package main

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type serverConfig struct {
	Env             string
	Addr            string
	RedisAddr       string
	DatabaseURL     string
	JWTSecret       string
	SessionTTL      time.Duration
	ResetURL        string
	AuditEnabled    bool
	MetricsEnabled  bool
	ShutdownTimeout time.Duration
}

// loadConfig reads .env when present, then the process environment.
func loadConfig() (serverConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return serverConfig{}, err
	}

	cfg := serverConfig{
		Env:             getEnv("APP_ENV", "development"),
		Addr:            getEnv("HTTP_ADDR", ":8080"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		SessionTTL:      getEnvDuration("SESSION_TTL", 8*time.Hour),
		ResetURL:        getEnv("RESET_URL", "http://localhost:5173/reset-password/"),
		AuditEnabled:    getEnvBool("AUDIT_ENABLED", true),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if len(cfg.JWTSecret) < 32 {
		return serverConfig{}, errors.New("JWT_SECRET must be at least 32 bytes")
	}
	if cfg.production() && (cfg.RedisAddr == "" || cfg.DatabaseURL == "") {
		return serverConfig{}, errors.New("REDIS_ADDR and DATABASE_URL are required in production")
	}
	return cfg, nil
}

func (c serverConfig) production() bool {
	return strings.EqualFold(c.Env, "production")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
