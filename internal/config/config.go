package config

// Config is the top-level gateway configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	CORS      CORSConfig      `yaml:"cors"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig covers the gateway's own identity and listen address.
type ServiceConfig struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AuthConfig configures the external authentication service integration.
type AuthConfig struct {
	ServiceURL            string  `yaml:"service_url"`
	RequireAuthentication bool    `yaml:"require_authentication"`
	TimeoutSeconds        float64 `yaml:"timeout_seconds"`
	CacheTTLSeconds       float64 `yaml:"cache_ttl_seconds"`
	CacheSize             int     `yaml:"cache_size"`
}

// RateLimitConfig configures the default global rate limit rule.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	DefaultRequests   int  `yaml:"default_requests"`
	DefaultWindowSecs int  `yaml:"default_window_seconds"`
}

// ProxyConfig covers request forwarding behavior.
type ProxyConfig struct {
	RequestTimeoutSeconds float64 `yaml:"request_timeout_seconds"`
	MaxConcurrentRequests int64   `yaml:"max_concurrent_requests"`
	MaxRequestSizeBytes   int64   `yaml:"max_request_size_bytes"`
	MaxIdleConns          int     `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int     `yaml:"max_idle_conns_per_host"`
}

// CORSConfig configures cross-origin request handling.
type CORSConfig struct {
	Enabled       bool     `yaml:"enabled"`
	AllowOrigins  []string `yaml:"allow_origins"`
	AllowMethods  []string `yaml:"allow_methods"`
	AllowHeaders  []string `yaml:"allow_headers"`
	MaxAgeSeconds int      `yaml:"max_age_seconds"`
}

// MetricsConfig toggles metric collection and exposition.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig configures the zap logger and optional file output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name: "gateway",
			Host: "0.0.0.0",
			Port: 8080,
		},
		Auth: AuthConfig{
			RequireAuthentication: false,
			TimeoutSeconds:        5,
			CacheTTLSeconds:       30,
			CacheSize:             4096,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			DefaultRequests:   1000,
			DefaultWindowSecs: 60,
		},
		Proxy: ProxyConfig{
			RequestTimeoutSeconds: 30,
			MaxConcurrentRequests: 1024,
			MaxRequestSizeBytes:   10 << 20,
			MaxIdleConns:          256,
			MaxIdleConnsPerHost:   32,
		},
		CORS: CORSConfig{
			Enabled:      false,
			AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
			AllowHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
