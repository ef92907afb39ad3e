package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr = ":8080"
	defaultDataDir    = "data"
	defaultDataVolume = "automatevnc-data"
	defaultKafkaTopic = "run-reports"
)

// appConfig is the daemon's full configuration. Environment variables
// override the optional YAML file.
type appConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// DataDir holds scripts/, templates/ and runs/.
	DataDir string `yaml:"data_dir"`

	// RunnerImage is the isolated executor image. Empty disables isolation
	// and runs execute in-process.
	RunnerImage string `yaml:"runner_image"`
	DataVolume  string `yaml:"data_volume"`

	ExecTimeout time.Duration `yaml:"exec_timeout"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// loadAppConfig reads the YAML file named by CONFIG_FILE (when set), then
// applies environment overrides and defaults.
func loadAppConfig() (appConfig, error) {
	var cfg appConfig

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return appConfig{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return appConfig{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.ListenAddr = envOrDefault("LISTEN_ADDR", defaultString(cfg.ListenAddr, defaultListenAddr))
	cfg.DataDir = envOrDefault("DATA_DIR", defaultString(cfg.DataDir, defaultDataDir))
	cfg.RunnerImage = envOrDefault("RUNNER_IMAGE", cfg.RunnerImage)
	cfg.DataVolume = envOrDefault("DATA_VOLUME", defaultString(cfg.DataVolume, defaultDataVolume))
	cfg.ExecTimeout = parseDuration(os.Getenv("EXEC_TIMEOUT"), cfg.ExecTimeout)
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		cfg.KafkaBrokers = parseBrokerList(raw)
	}
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", defaultString(cfg.KafkaTopic, defaultKafkaTopic))
	cfg.LogLevel = envOrDefault("LOG_LEVEL", defaultString(cfg.LogLevel, "info"))
	cfg.LogFormat = envOrDefault("LOG_FORMAT", defaultString(cfg.LogFormat, "text"))

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func parseBrokerList(raw string) []string {
	fields := strings.Split(raw, ",")
	brokers := make([]string, 0, len(fields))
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
