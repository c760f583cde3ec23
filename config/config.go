// Package config loads the service configuration from the environment,
// with optional .env support.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config is the full service configuration. The engine itself holds no
// secrets; everything here is operational.
type Config struct {
	ServerPort  string `json:"server_port"`
	CORSOrigin  string `json:"cors_origin"`
	LogLevel    string `json:"log_level"`
	ProxiesFile string `json:"proxies_file"`
	HeloHost    string `json:"helo_host"`
	BulkLimitMB int    `json:"bulk_limit_mb"`
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		CORSOrigin:  getEnv("CORS_ORIGIN", "*"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ProxiesFile: getEnv("PROXIES_FILE", ""),
		HeloHost:    getEnv("HELO_HOST", "localhost"),
		BulkLimitMB: getEnvAsInt("BULK_LIMIT_MB", 10),
	}
}

// NewLogger builds the service logger at the configured level.
func (c Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
