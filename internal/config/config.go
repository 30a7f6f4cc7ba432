// Package config loads masterd's settings from an optional YAML file,
// with environment variables always taking precedence, following the
// teacher's override order (app.LoadConfig's env lookups layered over a
// pipeline's YAML spec).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/masterctl/internal/platform/envutil"
	"github.com/yungbote/masterctl/internal/platform/logger"
)

const configPathEnv = "MASTERCTL_CONFIG"

// Config is masterd's full runtime configuration.
type Config struct {
	HTTPPort string `yaml:"httpPort"`

	Environment string `yaml:"environment"`
	JournalRoot string `yaml:"journalRoot"`

	HeartbeatInterval  time.Duration `yaml:"-"`
	HeartbeatToleranceSeconds int    `yaml:"heartbeatToleranceSeconds"`
	OfflineThresholdSeconds   int    `yaml:"offlineThresholdSeconds"`
	HeartbeatIntervalSeconds  int    `yaml:"heartbeatIntervalSeconds"`

	RedisAddr    string `yaml:"redisAddr"`
	RedisChannel string `yaml:"redisChannel"`

	OTelServiceName    string `yaml:"otelServiceName"`
	OTelExporterOTLP   string `yaml:"otelExporterEndpoint"`

	LogForwarderQueueSize int `yaml:"logForwarderQueueSize"`
}

// fileConfig mirrors Config's YAML-tagged fields for unmarshaling; kept
// distinct so the computed time.Duration field never round-trips through
// YAML directly.
type fileConfig struct {
	HTTPPort                  string `yaml:"httpPort"`
	Environment               string `yaml:"environment"`
	JournalRoot               string `yaml:"journalRoot"`
	HeartbeatIntervalSeconds  int    `yaml:"heartbeatIntervalSeconds"`
	HeartbeatToleranceSeconds int    `yaml:"heartbeatToleranceSeconds"`
	OfflineThresholdSeconds   int    `yaml:"offlineThresholdSeconds"`
	RedisAddr                 string `yaml:"redisAddr"`
	RedisChannel              string `yaml:"redisChannel"`
	OTelServiceName           string `yaml:"otelServiceName"`
	OTelExporterOTLP          string `yaml:"otelExporterEndpoint"`
	LogForwarderQueueSize     int    `yaml:"logForwarderQueueSize"`
}

func defaults() fileConfig {
	return fileConfig{
		HTTPPort:                  "8080",
		Environment:               "default",
		JournalRoot:               "./data/journal",
		HeartbeatIntervalSeconds:  10,
		HeartbeatToleranceSeconds: 5,
		OfflineThresholdSeconds:   60,
		RedisAddr:                 "localhost:6379",
		RedisChannel:              "masterctl:events",
		OTelServiceName:           "masterctl",
		LogForwarderQueueSize:     4096,
	}
}

// Load reads configPathEnv (if set and present on disk) as a YAML file,
// then applies environment-variable overrides for every field, the way
// app.LoadConfig layers GetEnv over hardcoded defaults.
func Load(log *logger.Logger) (Config, error) {
	fc := defaults()

	if path := os.Getenv(configPathEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
			}
			log.Warn("config file not found, using defaults plus env overrides", "path", path)
		} else if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	fc.HTTPPort = envutil.String("MASTERCTL_HTTP_PORT", fc.HTTPPort)
	fc.Environment = envutil.String("MASTERCTL_ENVIRONMENT", fc.Environment)
	fc.JournalRoot = envutil.String("MASTERCTL_JOURNAL_ROOT", fc.JournalRoot)
	fc.HeartbeatIntervalSeconds = envutil.Int("MASTERCTL_HEARTBEAT_INTERVAL_SECONDS", fc.HeartbeatIntervalSeconds)
	fc.HeartbeatToleranceSeconds = envutil.Int("MASTERCTL_HEARTBEAT_TOLERANCE_SECONDS", fc.HeartbeatToleranceSeconds)
	fc.OfflineThresholdSeconds = envutil.Int("MASTERCTL_OFFLINE_THRESHOLD_SECONDS", fc.OfflineThresholdSeconds)
	fc.RedisAddr = envutil.String("MASTERCTL_REDIS_ADDR", fc.RedisAddr)
	fc.RedisChannel = envutil.String("MASTERCTL_REDIS_CHANNEL", fc.RedisChannel)
	fc.OTelServiceName = envutil.String("MASTERCTL_OTEL_SERVICE_NAME", fc.OTelServiceName)
	fc.OTelExporterOTLP = envutil.String("MASTERCTL_OTEL_EXPORTER_ENDPOINT", fc.OTelExporterOTLP)
	fc.LogForwarderQueueSize = envutil.Int("MASTERCTL_LOG_FORWARDER_QUEUE_SIZE", fc.LogForwarderQueueSize)

	return Config{
		HTTPPort:                  fc.HTTPPort,
		Environment:               fc.Environment,
		JournalRoot:               fc.JournalRoot,
		HeartbeatInterval:         time.Duration(fc.HeartbeatIntervalSeconds) * time.Second,
		HeartbeatToleranceSeconds: fc.HeartbeatToleranceSeconds,
		OfflineThresholdSeconds:   fc.OfflineThresholdSeconds,
		HeartbeatIntervalSeconds:  fc.HeartbeatIntervalSeconds,
		RedisAddr:                 fc.RedisAddr,
		RedisChannel:              fc.RedisChannel,
		OTelServiceName:           fc.OTelServiceName,
		OTelExporterOTLP:          fc.OTelExporterOTLP,
		LogForwarderQueueSize:     fc.LogForwarderQueueSize,
	}, nil
}
