package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnvKey names the optional YAML configuration file.
const FileEnvKey = "CHAT_CONFIG_FILE"

// Config aggregates every setting of the chat client.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Remote  RemoteConfig  `yaml:"remote"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig describes the local presentation bridge.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RemoteConfig describes the assistant service.
type RemoteConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	TokenMethod string        `yaml:"token_method"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", AllowedOrigins: []string{"*"}},
		Remote: RemoteConfig{
			BaseURL:     "http://localhost:8000",
			Timeout:     30 * time.Second,
			TokenMethod: "POST",
		},
		Storage: StorageConfig{Driver: DriverSQLite, Path: "chat_client.db"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or $CHAT_CONFIG_FILE when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(FileEnvKey))
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the client cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Remote.BaseURL) == "" {
		return fmt.Errorf("remote base url is required")
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("invalid remote timeout %s", c.Remote.Timeout)
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		addr, err := parseAddr(port)
		if err != nil {
			return err
		}
		cfg.Server.Addr = addr
	}
	if origins := strings.TrimSpace(os.Getenv("CHAT_ALLOWED_ORIGINS")); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	cfg.Remote.BaseURL = getEnvOrDefault("CHAT_API_BASE_URL", cfg.Remote.BaseURL)
	cfg.Remote.TokenMethod = getEnvOrDefault("CHAT_TOKEN_METHOD", cfg.Remote.TokenMethod)
	timeout, err := parseOptionalIntEnv("CHAT_API_TIMEOUT")
	if err != nil {
		return err
	}
	if timeout != nil {
		cfg.Remote.Timeout = time.Duration(*timeout) * time.Second
	}

	cfg.Storage.Driver = strings.ToLower(getEnvOrDefault("CHAT_STORAGE_DRIVER", cfg.Storage.Driver))
	cfg.Storage.Path = getEnvOrDefault("CHAT_STORAGE_PATH", cfg.Storage.Path)

	cfg.Log.Level = getEnvOrDefault("LOG_LEVEL", cfg.Log.Level)
	dev, err := parseBoolEnv("LOG_DEVELOPMENT", cfg.Log.Development)
	if err != nil {
		return err
	}
	cfg.Log.Development = dev
	return nil
}

// parseAddr accepts "8080", ":8080" or "127.0.0.1:8080".
func parseAddr(port string) (string, error) {
	if strings.Contains(port, ":") {
		return port, nil
	}
	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	return ":" + port, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
