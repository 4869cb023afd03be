package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Required worker environment variables.
const (
	EnvBaseURL        = "API_BASE_URL"
	EnvEmail          = "WORKER_EMAIL"
	EnvPassword       = "WORKER_PASSWORD"
	EnvLeaserID       = "WORKER_LEASER_ID"
	EnvLeaseDuration  = "WORKER_LEASE_DURATION_SECONDS"
	EnvRequestTimeout = "WORKER_REQUEST_TIMEOUT_SECONDS"

	// EnvWorkerType selects the parser variant; optional, defaults to
	// plain text.
	EnvWorkerType = "WORKER_TYPE"
)

// Config represents the complete application configuration. The worker
// section is environment-sourced and required; logging and status come
// from an optional YAML file and fall back to defaults.
type Config struct {
	Worker  WorkerConfig  `yaml:"-"`
	Logging LoggingConfig `yaml:"logging"`
	Status  StatusConfig  `yaml:"status"`
}

// WorkerConfig holds the queue connection and lease identity settings.
// Immutable for the process lifetime.
type WorkerConfig struct {
	BaseURL        string
	Email          string
	Password       string
	LeaserID       string
	LeaseDuration  time.Duration
	RequestTimeout time.Duration
	WorkerType     string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// StatusConfig holds the status/health server configuration
type StatusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load builds the full configuration: ambient settings from the optional
// YAML file at configPath (defaults when the path is empty), worker
// settings strictly from the environment. It fails fast, naming every
// missing required variable in a single error.
func Load(configPath string) (*Config, error) {
	config := &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Status: StatusConfig{
			Enabled: false,
			Port:    8081,
		},
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	worker, err := workerFromEnv()
	if err != nil {
		return nil, err
	}
	config.Worker = *worker

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// workerFromEnv reads the required worker variables, collecting every
// missing name before reporting.
func workerFromEnv() (*WorkerConfig, error) {
	var missing []string

	lookup := func(name string) string {
		value := os.Getenv(name)
		if value == "" {
			missing = append(missing, name)
		}
		return value
	}

	worker := &WorkerConfig{
		BaseURL:    lookup(EnvBaseURL),
		Email:      lookup(EnvEmail),
		Password:   lookup(EnvPassword),
		LeaserID:   lookup(EnvLeaserID),
		WorkerType: os.Getenv(EnvWorkerType),
	}
	leaseSeconds := lookup(EnvLeaseDuration)
	timeoutSeconds := lookup(EnvRequestTimeout)

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	leaseDuration, err := parseSeconds(EnvLeaseDuration, leaseSeconds)
	if err != nil {
		return nil, err
	}
	requestTimeout, err := parseSeconds(EnvRequestTimeout, timeoutSeconds)
	if err != nil {
		return nil, err
	}

	worker.LeaseDuration = leaseDuration
	worker.RequestTimeout = requestTimeout

	return worker, nil
}

// parseSeconds converts an integer-seconds variable into a duration.
func parseSeconds(name, value string) (time.Duration, error) {
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q is not an integer number of seconds", name, value)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than 0", name)
	}
	return time.Duration(seconds) * time.Second, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Worker.BaseURL, "http://") && !strings.HasPrefix(c.Worker.BaseURL, "https://") {
		return fmt.Errorf("invalid %s: %q must start with http:// or https://", EnvBaseURL, c.Worker.BaseURL)
	}

	if c.Status.Enabled && (c.Status.Port < MinPort || c.Status.Port > MaxPort) {
		return fmt.Errorf("invalid status port: %d (must be between %d and %d)", c.Status.Port, MinPort, MaxPort)
	}

	return nil
}
