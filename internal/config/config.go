package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/corelink-ai/provider-gateway/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultMaxRetries  = 3
	defaultBaseDelayMs = 1000
	defaultMaxDelayMs  = 10000
)

// Config represents the complete application configuration
type Config struct {
	Server         models.ServerConfig         `yaml:"server"`
	Database       models.DatabaseConfig       `yaml:"database"`
	Credentials    models.CredentialsConfig    `yaml:"credentials"`
	Retry          models.RetryConfig          `yaml:"retry"`
	UsageLog       models.UsageLogConfig       `yaml:"usage_log"`
	CircuitBreaker models.CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`

	// EncryptionKey is the base64-encoded AES key for the secret codec.
	EncryptionKey string `yaml:"encryption_key"`
}

// LoadFromFile loads configuration from a YAML file with environment variable substitution
func LoadFromFile(configPath string) (*Config, error) {
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid config path: path traversal not allowed")
	}

	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("invalid config file: only .yaml and .yml files are allowed")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	content := substituteEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// LoadEnvFiles loads environment variables from .env files in order of precedence
// Loads files in the order provided (first has highest priority)
func LoadEnvFiles(envFiles []string) {
	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err == nil {
				fmt.Printf("Loaded environment variables from %s\n", envFile)
			}
		}
	}
}

// New creates a new Config instance by loading from the specified config file path
func New(configPath string) (*Config, error) {
	return LoadFromFile(configPath)
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Credentials.Amnesty == "" {
		c.Credentials.Amnesty = models.AmnestyAll
	}
	if c.Credentials.SweepIntervalMinutes <= 0 {
		c.Credentials.SweepIntervalMinutes = 60
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = defaultMaxRetries
	}
	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = defaultBaseDelayMs
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = defaultMaxDelayMs
	}
	if c.UsageLog.PoolSize <= 0 {
		c.UsageLog.PoolSize = 4
	}
	if c.UsageLog.BufferSize <= 0 {
		c.UsageLog.BufferSize = 1024
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}
	if c.CircuitBreaker.SuccessThreshold <= 0 {
		c.CircuitBreaker.SuccessThreshold = 3
	}
	if c.CircuitBreaker.TimeoutSeconds <= 0 {
		c.CircuitBreaker.TimeoutSeconds = 30
	}
}

// Validate checks the parts of the config the gateway cannot run without.
func (c *Config) Validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("encryption_key is required")
	}
	if c.Database.Type == "" {
		return fmt.Errorf("database.type is required")
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default} patterns with environment variables
func substituteEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::(-[^}]*))?\}`)

	return re.ReplaceAllStringFunc(content, func(match string) string {
		submatches := re.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""

		if len(submatches) > 2 && submatches[2] != "" {
			defaultValue = strings.TrimPrefix(submatches[2], "-")
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}
