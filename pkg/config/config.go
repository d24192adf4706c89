package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds the application configuration loaded from environment
// variables.
type Config struct {
	// HTTP server
	Host  string
	Port  int
	Debug bool

	// Logging
	LogLevel logrus.Level

	// Storage
	RedisURL      string
	EncryptionKey string

	// AMQP delivery (disabled when URL is empty)
	AMQPUrl       string
	AMQPQueueName string

	// Analysis
	SampleRate    int
	HeatmapWidth  int
	HeatmapHeight int

	// Per-session bounded history capacities
	SnapshotHistory int
	AlertHistory    int
}

// Load reads the application configuration from the environment,
// honoring an optional .env file.
func Load(logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	config := &Config{
		Host:            getEnv("BA_HOST", "0.0.0.0"),
		Port:            getEnvInt(logger, "BA_PORT", 8100),
		Debug:           os.Getenv("BA_DEBUG") == "true",
		RedisURL:        os.Getenv("REDIS_URL"),
		EncryptionKey:   os.Getenv("BA_ENCRYPTION_KEY"),
		AMQPUrl:         os.Getenv("AMQP_URL"),
		AMQPQueueName:   getEnv("AMQP_QUEUE_NAME", "behavior_events"),
		SampleRate:      getEnvInt(logger, "BA_SAMPLE_RATE", 16000),
		HeatmapWidth:    getEnvInt(logger, "BA_HEATMAP_WIDTH", 64),
		HeatmapHeight:   getEnvInt(logger, "BA_HEATMAP_HEIGHT", 48),
		SnapshotHistory: getEnvInt(logger, "BA_SNAPSHOT_HISTORY", 600),
		AlertHistory:    getEnvInt(logger, "BA_ALERT_HISTORY", 200),
	}

	config.LogLevel = logrus.InfoLevel
	if config.Debug {
		config.LogLevel = logrus.DebugLevel
	}
	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		level, err := logrus.ParseLevel(levelStr)
		if err != nil {
			logger.WithField("log_level", levelStr).Warning("Invalid LOG_LEVEL, using default")
		} else {
			config.LogLevel = level
		}
	}

	if config.EncryptionKey == "" {
		logger.Warning("BA_ENCRYPTION_KEY not set, stored metrics will use an ephemeral key")
	}

	logger.WithFields(logrus.Fields{
		"host":  config.Host,
		"port":  config.Port,
		"debug": config.Debug,
	}).Info("Configuration loaded")

	return config, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(logger *logrus.Logger, key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logger.WithField("key", key).Warning("Invalid integer environment value, using default")
		return fallback
	}
	return parsed
}
