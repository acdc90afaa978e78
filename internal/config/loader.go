package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if cfg.Service.Port < 1 || cfg.Service.Port > 65535 {
		return fmt.Errorf("service port must be between 1 and 65535, got %d", cfg.Service.Port)
	}

	if cfg.Auth.RequireAuthentication && cfg.Auth.ServiceURL == "" {
		return fmt.Errorf("auth.service_url is required when require_authentication is enabled")
	}
	if cfg.Auth.ServiceURL != "" &&
		!strings.HasPrefix(cfg.Auth.ServiceURL, "http://") &&
		!strings.HasPrefix(cfg.Auth.ServiceURL, "https://") {
		return fmt.Errorf("auth.service_url must start with http:// or https://")
	}
	if cfg.Auth.TimeoutSeconds < 0 {
		return fmt.Errorf("auth.timeout_seconds must be >= 0")
	}
	if cfg.Auth.CacheTTLSeconds < 0 {
		return fmt.Errorf("auth.cache_ttl_seconds must be >= 0")
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.DefaultRequests < 1 {
			return fmt.Errorf("rate_limit.default_requests must be > 0 when enabled")
		}
		if cfg.RateLimit.DefaultWindowSecs < 1 {
			return fmt.Errorf("rate_limit.default_window_seconds must be > 0 when enabled")
		}
	}

	if cfg.Proxy.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("proxy.request_timeout_seconds must be > 0")
	}
	if cfg.Proxy.MaxConcurrentRequests < 1 {
		return fmt.Errorf("proxy.max_concurrent_requests must be > 0")
	}
	if cfg.Proxy.MaxRequestSizeBytes < 0 {
		return fmt.Errorf("proxy.max_request_size_bytes must be >= 0")
	}

	if cfg.CORS.Enabled && len(cfg.CORS.AllowOrigins) == 0 {
		return fmt.Errorf("cors.allow_origins is required when cors is enabled")
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables layered over
// the defaults. Used when no config file is provided.
func (l *Loader) LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if name := os.Getenv("GATEWAY_SERVICE_NAME"); name != "" {
		cfg.Service.Name = name
	}
	if host := os.Getenv("GATEWAY_HOST"); host != "" {
		cfg.Service.Host = host
	}
	if port := os.Getenv("GATEWAY_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid GATEWAY_PORT: %w", err)
		}
		cfg.Service.Port = p
	}
	if authURL := os.Getenv("GATEWAY_AUTH_SERVICE_URL"); authURL != "" {
		cfg.Auth.ServiceURL = authURL
	}
	if v := os.Getenv("GATEWAY_REQUIRE_AUTH"); v != "" {
		cfg.Auth.RequireAuthentication = v == "true" || v == "1"
	}
	if level := os.Getenv("GATEWAY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}
