package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Service.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Service.Port)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("rate limiting should be enabled by default")
	}
	if cfg.RateLimit.DefaultRequests != 1000 || cfg.RateLimit.DefaultWindowSecs != 60 {
		t.Errorf("default rate limit = %d/%ds", cfg.RateLimit.DefaultRequests, cfg.RateLimit.DefaultWindowSecs)
	}
	if cfg.Proxy.RequestTimeoutSeconds != 30 {
		t.Errorf("default request timeout = %v, want 30", cfg.Proxy.RequestTimeoutSeconds)
	}
}

func TestParse(t *testing.T) {
	yamlData := `
service:
  name: edge-gateway
  host: 127.0.0.1
  port: 9090
auth:
  service_url: http://auth.internal:8000/api/v1/auth/validate
  require_authentication: true
rate_limit:
  enabled: true
  default_requests: 200
  default_window_seconds: 30
proxy:
  request_timeout_seconds: 10
logging:
  level: debug
`

	loader := NewLoader()
	cfg, err := loader.Parse([]byte(yamlData))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Service.Name != "edge-gateway" {
		t.Errorf("service name = %q", cfg.Service.Name)
	}
	if cfg.Service.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Service.Port)
	}
	if !cfg.Auth.RequireAuthentication {
		t.Error("require_authentication should be true")
	}
	if cfg.RateLimit.DefaultRequests != 200 {
		t.Errorf("default_requests = %d, want 200", cfg.RateLimit.DefaultRequests)
	}
	if cfg.Proxy.RequestTimeoutSeconds != 10 {
		t.Errorf("request_timeout_seconds = %v, want 10", cfg.Proxy.RequestTimeoutSeconds)
	}
	// Unset sections keep defaults.
	if cfg.Proxy.MaxConcurrentRequests != 1024 {
		t.Errorf("max_concurrent_requests = %d, want default 1024", cfg.Proxy.MaxConcurrentRequests)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}
}

func TestParseEnvExpansion(t *testing.T) {
	os.Setenv("TEST_GW_AUTH_URL", "http://auth:8000/validate")
	defer os.Unsetenv("TEST_GW_AUTH_URL")

	yamlData := `
service:
  name: gateway
auth:
  service_url: ${TEST_GW_AUTH_URL}
`

	loader := NewLoader()
	cfg, err := loader.Parse([]byte(yamlData))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Auth.ServiceURL != "http://auth:8000/validate" {
		t.Errorf("service_url = %q, env var not expanded", cfg.Auth.ServiceURL)
	}
}

func TestParseUnsetEnvVarKept(t *testing.T) {
	loader := NewLoader()
	got := loader.expandEnvVars("url: ${DEFINITELY_NOT_SET_ANYWHERE_XYZ}")
	if got != "url: ${DEFINITELY_NOT_SET_ANYWHERE_XYZ}" {
		t.Errorf("unset env var should be kept literal, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "missing service name",
			mutate:  func(c *Config) { c.Service.Name = "" },
			wantErr: "service name",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Service.Port = 70000 },
			wantErr: "port",
		},
		{
			name: "auth required without url",
			mutate: func(c *Config) {
				c.Auth.RequireAuthentication = true
				c.Auth.ServiceURL = ""
			},
			wantErr: "auth.service_url",
		},
		{
			name:    "bad auth url scheme",
			mutate:  func(c *Config) { c.Auth.ServiceURL = "ftp://auth" },
			wantErr: "http://",
		},
		{
			name: "zero rate limit when enabled",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.DefaultRequests = 0
			},
			wantErr: "default_requests",
		},
		{
			name:    "zero request timeout",
			mutate:  func(c *Config) { c.Proxy.RequestTimeoutSeconds = 0 },
			wantErr: "request_timeout_seconds",
		},
		{
			name: "cors enabled without origins",
			mutate: func(c *Config) {
				c.CORS.Enabled = true
				c.CORS.AllowOrigins = nil
			},
			wantErr: "allow_origins",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging level",
		},
	}

	loader := NewLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := loader.validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	content := "service:\n  name: test-gw\n  port: 8888\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader()
	cfg, err := loader.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "test-gw" || cfg.Service.Port != 8888 {
		t.Errorf("loaded config = %+v", cfg.Service)
	}
}

func TestLoadMissingFile(t *testing.T) {
	loader := NewLoader()
	if _, err := loader.Load("/nonexistent/gateway.yaml"); err == nil {
		t.Error("Load() should fail for missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("GATEWAY_PORT", "9191")
	os.Setenv("GATEWAY_SERVICE_NAME", "env-gw")
	defer func() {
		os.Unsetenv("GATEWAY_PORT")
		os.Unsetenv("GATEWAY_SERVICE_NAME")
	}()

	loader := NewLoader()
	cfg, err := loader.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Service.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.Service.Port)
	}
	if cfg.Service.Name != "env-gw" {
		t.Errorf("name = %q, want env-gw", cfg.Service.Name)
	}
}
