package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DIGITIZER_"

// Load merges Default with the YAML file at path (skipped when empty), the
// .env file of the working directory when present, and DIGITIZER_*
// environment variables, then finalizes and validates the result.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := loadFromFile(path, config); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.Finalize()

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

func loadFromFile(filename string, config *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return Parse(data, config)
}

// Parse decodes YAML over config. Unknown keys are errors.
func Parse(data []byte, config *Config) error {
	if err := yaml.UnmarshalStrict(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyEnvOverrides applies DIGITIZER_<KEY> for every reconfigurable key,
// then the service settings.
func applyEnvOverrides(config *Config) error {
	keys := make([]string, 0, len(Fields))
	for k := range Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		name := EnvPrefix + strings.ToUpper(key)
		if val, ok := os.LookupEnv(name); ok && val != "" {
			if _, err := config.Set(key, val); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}

	if val := os.Getenv(EnvPrefix + "RESOURCES"); val != "" {
		config.Resources = strings.FieldsFunc(val, func(r rune) bool { return r == ',' || r == ' ' })
	}

	s := &config.Service
	s.Listen = GetEnvVar(EnvPrefix+"LISTEN", s.Listen)
	s.JWT.Secret = GetEnvVar(EnvPrefix+"JWT_SECRET", s.JWT.Secret)
	s.JWT.PublicKeyFile = GetEnvVar(EnvPrefix+"JWT_PUBLIC_KEY_FILE", s.JWT.PublicKeyFile)
	s.MQTT.Broker = GetEnvVar(EnvPrefix+"MQTT_BROKER", s.MQTT.Broker)
	s.MQTT.ClientID = GetEnvVar(EnvPrefix+"MQTT_CLIENT_ID", s.MQTT.ClientID)
	s.MQTT.Username = GetEnvVar(EnvPrefix+"MQTT_USERNAME", s.MQTT.Username)
	s.MQTT.Password = GetEnvVar(EnvPrefix+"MQTT_PASSWORD", s.MQTT.Password)
	s.MQTT.Topic = GetEnvVar(EnvPrefix+"MQTT_TOPIC", s.MQTT.Topic)
	s.MQTT.QoS = GetEnvInt(EnvPrefix+"MQTT_QOS", s.MQTT.QoS)
	s.CatalogDSN = GetEnvVar(EnvPrefix+"CATALOG_DSN", s.CatalogDSN)
	s.AuditLog = GetEnvVar(EnvPrefix+"AUDIT_LOG", s.AuditLog)
	s.ArchivePath = GetEnvVar(EnvPrefix+"ARCHIVE_PATH", s.ArchivePath)
	s.ArchiveSnappy = GetEnvBool(EnvPrefix+"ARCHIVE_SNAPPY", s.ArchiveSnappy)
	s.LogFile = GetEnvVar(EnvPrefix+"LOG_FILE", s.LogFile)
	s.LogLevel = GetEnvVar(EnvPrefix+"LOG_LEVEL", s.LogLevel)
	s.LogMaxSizeMB = GetEnvInt(EnvPrefix+"LOG_MAX_SIZE_MB", s.LogMaxSizeMB)
	s.LogMaxBackups = GetEnvInt(EnvPrefix+"LOG_MAX_BACKUPS", s.LogMaxBackups)
	s.Telemetry.HeartbeatInterval = GetEnvDuration(EnvPrefix+"HEARTBEAT_INTERVAL", s.Telemetry.HeartbeatInterval)
	s.Telemetry.HeartbeatJitter = GetEnvDuration(EnvPrefix+"HEARTBEAT_JITTER", s.Telemetry.HeartbeatJitter)
	s.Telemetry.EventBufferSize = GetEnvInt(EnvPrefix+"EVENT_BUFFER_SIZE", s.Telemetry.EventBufferSize)
	s.Telemetry.EventBufferRetention = GetEnvDuration(EnvPrefix+"EVENT_BUFFER_RETENTION", s.Telemetry.EventBufferRetention)
	return nil
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDuration returns the value of an environment variable as a duration with a default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvFloat returns the value of an environment variable as a float64 with a default.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// GetEnvInt returns the value of an environment variable as an int with a default.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// GetEnvBool returns the value of an environment variable as a bool with a default.
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
