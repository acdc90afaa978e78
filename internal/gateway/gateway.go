package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jobwire/gateway/internal/authclient"
	"github.com/jobwire/gateway/internal/config"
	"github.com/jobwire/gateway/internal/logging"
	"github.com/jobwire/gateway/internal/metrics"
	"github.com/jobwire/gateway/internal/proxy"
	"github.com/jobwire/gateway/internal/ratelimit"
	"github.com/jobwire/gateway/internal/routetable"
	"github.com/jobwire/gateway/internal/variables"
)

// State is the orchestrator's lifecycle state.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateInitialized   State = "INITIALIZED"
	StateRunning       State = "RUNNING"
	StateStopped       State = "STOPPED"
)

// defaultGlobalRuleID names the GLOBAL rule installed at initialization.
const defaultGlobalRuleID = "default-global"

// ProxyEngine is the forwarding dependency. The concrete engine lives in
// the proxy package; tests substitute a spy.
type ProxyEngine interface {
	ProxyRequest(ctx context.Context, req *proxy.Request) *proxy.Response
	HealthCheckService(ctx context.Context, name, host string, port int, path string) bool
	GetServiceStatus(name string) (healthy, known bool)
	Close()
}

// AuthValidator validates bearer tokens against the auth service.
type AuthValidator interface {
	ValidateToken(ctx context.Context, token string) *authclient.ValidationResult
	Close()
}

// Response is the orchestrator's unified result, translated to the wire
// response by the HTTP boundary.
type Response struct {
	Success        bool              `json:"success"`
	StatusCode     int               `json:"status_code"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           []byte            `json:"-"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	ResponseTimeMs float64           `json:"response_time_ms,omitempty"`
}

// ServiceRecord tracks a backend service registered through the gateway.
type ServiceRecord struct {
	Name            string    `json:"name"`
	Host            string    `json:"host"`
	Port            int       `json:"port"`
	HealthCheckPath string    `json:"health_check_path"`
	RouteCount      int       `json:"route_count"`
	RegisteredAt    time.Time `json:"registered_at"`
}

// HealthStatus is the aggregate health report.
type HealthStatus struct {
	Status             string  `json:"status"`
	State              State   `json:"state"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
	ActiveRoutes       int     `json:"active_routes"`
	RegisteredServices int     `json:"registered_services"`
}

// Gateway composes the route table, rate limiter, auth client, proxy
// engine, and metrics collector into the request pipeline.
type Gateway struct {
	mu    sync.RWMutex
	state State

	cfg        *config.Config
	configPath string

	routes    *routetable.Table
	limiter   *ratelimit.Limiter
	proxy     ProxyEngine
	auth      AuthValidator
	collector *metrics.Collector

	servicesMu sync.RWMutex
	services   map[string]*ServiceRecord

	startTime time.Time
}

// Option customizes gateway construction, mainly for tests.
type Option func(*Gateway)

// WithProxyEngine replaces the default proxy engine.
func WithProxyEngine(pe ProxyEngine) Option {
	return func(g *Gateway) { g.proxy = pe }
}

// WithAuthValidator replaces the default auth client.
func WithAuthValidator(av AuthValidator) Option {
	return func(g *Gateway) { g.auth = av }
}

// WithConfigPath records the config file path used by ReloadConfiguration.
func WithConfigPath(path string) Option {
	return func(g *Gateway) { g.configPath = path }
}

// New creates an uninitialized gateway around the given config snapshot.
func New(cfg *config.Config, opts ...Option) *Gateway {
	g := &Gateway{
		state:     StateUninitialized,
		cfg:       cfg,
		routes:    routetable.New(),
		limiter:   ratelimit.New(),
		collector: metrics.NewCollector(),
		services:  make(map[string]*ServiceRecord),
		startTime: time.Now(),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.proxy == nil {
		g.proxy = proxy.New(proxy.Config{
			DefaultTimeout:      time.Duration(cfg.Proxy.RequestTimeoutSeconds * float64(time.Second)),
			MaxIdleConns:        cfg.Proxy.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.Proxy.MaxIdleConnsPerHost,
		})
	}
	if g.auth == nil {
		g.auth = authclient.New(authclient.Config{
			ServiceURL: cfg.Auth.ServiceURL,
			Timeout:    time.Duration(cfg.Auth.TimeoutSeconds * float64(time.Second)),
			CacheTTL:   time.Duration(cfg.Auth.CacheTTLSeconds * float64(time.Second)),
			CacheSize:  cfg.Auth.CacheSize,
		})
	}

	return g
}

// Initialize wires the default GLOBAL rate-limit rule and marks the
// gateway INITIALIZED. A second call is a no-op.
func (g *Gateway) Initialize() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateUninitialized {
		return nil
	}

	if g.cfg.RateLimit.Enabled {
		err := g.limiter.AddRule(&ratelimit.Rule{
			RuleID:            defaultGlobalRuleID,
			Scope:             ratelimit.ScopeGlobal,
			ScopeValue:        "*",
			RequestsPerWindow: g.cfg.RateLimit.DefaultRequests,
			WindowSeconds:     g.cfg.RateLimit.DefaultWindowSecs,
			Enabled:           true,
		})
		if err != nil {
			return fmt.Errorf("installing default rate limit rule: %w", err)
		}
	}

	g.state = StateInitialized
	logging.Info("gateway initialized",
		zap.String("service", g.cfg.Service.Name),
		zap.Bool("rate_limiting", g.cfg.RateLimit.Enabled),
		zap.Bool("require_auth", g.cfg.Auth.RequireAuthentication),
	)
	return nil
}

// Start marks the gateway RUNNING, initializing first if needed.
func (g *Gateway) Start() error {
	g.mu.Lock()
	uninitialized := g.state == StateUninitialized
	g.mu.Unlock()

	if uninitialized {
		if err := g.Initialize(); err != nil {
			return err
		}
	}

	g.mu.Lock()
	g.state = StateRunning
	g.startTime = time.Now()
	g.mu.Unlock()

	logging.Info("gateway started", zap.String("service", g.cfg.Service.Name))
	return nil
}

// Stop marks the gateway STOPPED and releases the proxy engine's and auth
// client's connection resources.
func (g *Gateway) Stop() {
	g.mu.Lock()
	if g.state == StateStopped {
		g.mu.Unlock()
		return
	}
	g.state = StateStopped
	g.mu.Unlock()

	g.proxy.Close()
	g.auth.Close()
	g.limiter.Close()
	logging.Info("gateway stopped")
}

// GetState returns the current lifecycle state.
func (g *Gateway) GetState() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// ProcessRequest runs the full request pipeline, short-circuiting at the
// first failing stage. A panic anywhere in the pipeline is converted to a
// 500 response; internal faults never escape to the HTTP boundary.
func (g *Gateway) ProcessRequest(ctx context.Context, rc *variables.RequestContext) (resp *Response) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logging.Error("panic in request pipeline",
				zap.String("request_id", rc.RequestID),
				zap.Any("error", r),
			)
			elapsed := msSince(start)
			g.collector.RecordResponse(false, elapsed, false)
			resp = &Response{
				Success:        false,
				StatusCode:     500,
				ErrorMessage:   "Internal server error",
				ResponseTimeMs: elapsed,
			}
		}
	}()

	// Stage 1: count the request.
	g.collector.RecordRequest()

	rateLimitEnabled := g.snapshotConfig().RateLimit.Enabled

	// Stage 2: rate limit check.
	if rateLimitEnabled {
		if st := g.limiter.Check(rc); st.Blocked {
			elapsed := msSince(start)
			g.collector.RecordResponse(false, elapsed, true)
			return &Response{
				Success:    false,
				StatusCode: 429,
				Headers: map[string]string{
					"X-RateLimit-Limit": strconv.Itoa(st.Limit),
				},
				ErrorMessage:   "Rate limit exceeded",
				ResponseTimeMs: elapsed,
			}
		}
	}

	// Stage 3: route resolution.
	res := g.routes.Resolve(rc.Method, rc.Path)
	if !res.Success {
		elapsed := msSince(start)
		g.collector.RecordResponse(false, elapsed, false)
		return &Response{
			Success:        false,
			StatusCode:     res.StatusCode,
			ErrorMessage:   res.ErrorMessage,
			ResponseTimeMs: elapsed,
		}
	}
	rc.TargetService = res.Route.TargetService

	// SERVICE-scoped rules (including per-route overrides) can only match
	// once the target service is known, so they get their own check here.
	if rateLimitEnabled {
		if st := g.limiter.Check(rc); st.Blocked {
			elapsed := msSince(start)
			g.collector.RecordResponse(false, elapsed, true)
			return &Response{
				Success:    false,
				StatusCode: 429,
				Headers: map[string]string{
					"X-RateLimit-Limit": strconv.Itoa(st.Limit),
				},
				ErrorMessage:   "Rate limit exceeded",
				ResponseTimeMs: elapsed,
			}
		}
	}

	// Stage 4: authentication.
	if res.Route.RequiresAuth && g.snapshotConfig().Auth.RequireAuthentication {
		token := rc.BearerToken()
		if token == "" {
			elapsed := msSince(start)
			g.collector.RecordResponse(false, elapsed, false)
			return &Response{
				Success:        false,
				StatusCode:     401,
				ErrorMessage:   "Missing or malformed Authorization header",
				ResponseTimeMs: elapsed,
			}
		}

		vr := g.auth.ValidateToken(ctx, token)
		if !vr.Valid {
			elapsed := msSince(start)
			g.collector.RecordResponse(false, elapsed, false)
			return &Response{
				Success:        false,
				StatusCode:     401,
				ErrorMessage:   "Invalid or expired token",
				ResponseTimeMs: elapsed,
			}
		}
		rc.UserID = vr.UserID
		rc.Authenticated = true
	}

	// Stage 5: consume quota. Only requests that reach this stage count
	// against their windows.
	if rateLimitEnabled {
		g.limiter.Record(rc)
	}

	// Stage 6: forward to the backend.
	preq := &proxy.Request{
		RequestID:      rc.RequestID,
		TargetURL:      res.TargetURL,
		Method:         rc.Method,
		Headers:        rc.Headers,
		Body:           rc.Body,
		TimeoutSeconds: g.snapshotConfig().Proxy.RequestTimeoutSeconds,
	}
	presp := g.proxy.ProxyRequest(ctx, preq)

	// Stage 7: record the outcome and mirror it.
	g.collector.RecordResponse(presp.Success, presp.ResponseTimeMs, false)
	return &Response{
		Success:        presp.Success,
		StatusCode:     presp.StatusCode,
		Headers:        presp.Headers,
		Body:           presp.Body,
		ErrorMessage:   presp.ErrorMessage,
		ResponseTimeMs: presp.ResponseTimeMs,
	}
}

// RegisterRoute adds a single route and, when the route carries a rate
// limit override, installs a SERVICE-scoped rule for its target.
func (g *Gateway) RegisterRoute(route *routetable.RouteDefinition) bool {
	if !g.routes.Register(route) {
		return false
	}

	if route.RateLimitRequests > 0 && route.RateLimitWindowSeconds > 0 {
		err := g.limiter.AddRule(&ratelimit.Rule{
			RuleID:            "route-" + route.RouteID,
			Scope:             ratelimit.ScopeService,
			ScopeValue:        route.TargetService,
			RequestsPerWindow: route.RateLimitRequests,
			WindowSeconds:     route.RateLimitWindowSeconds,
			Enabled:           true,
		})
		if err != nil {
			logging.Warn("per-route rate limit rule not installed",
				zap.String("route_id", route.RouteID),
				zap.Error(err),
			)
		}
	}
	return true
}

// RegisterServiceRoutes registers all routes for a backend service and
// records the service. Registration is all-or-nothing: if any route fails,
// previously registered ones are rolled back and false is returned.
func (g *Gateway) RegisterServiceRoutes(name, host string, port int, healthPath string, routes []*routetable.RouteDefinition) bool {
	var registered []string
	for _, route := range routes {
		if !g.RegisterRoute(route) {
			for _, id := range registered {
				g.routes.Unregister(id)
			}
			logging.Warn("service route registration failed",
				zap.String("service", name),
				zap.String("route_id", route.RouteID),
				zap.String("path", route.Path),
				zap.String("method", route.Method),
			)
			return false
		}
		registered = append(registered, route.RouteID)
	}

	if healthPath == "" {
		healthPath = "/health"
	}

	g.servicesMu.Lock()
	g.services[name] = &ServiceRecord{
		Name:            name,
		Host:            host,
		Port:            port,
		HealthCheckPath: healthPath,
		RouteCount:      len(routes),
		RegisteredAt:    time.Now(),
	}
	g.servicesMu.Unlock()

	logging.Info("service routes registered",
		zap.String("service", name),
		zap.Int("routes", len(routes)),
	)
	return true
}

// ListServices returns copies of all registered service records.
func (g *Gateway) ListServices() []*ServiceRecord {
	g.servicesMu.RLock()
	defer g.servicesMu.RUnlock()

	out := make([]*ServiceRecord, 0, len(g.services))
	for _, svc := range g.services {
		copied := *svc
		out = append(out, &copied)
	}
	return out
}

// GetService returns the record for a registered service, or nil.
func (g *Gateway) GetService(name string) *ServiceRecord {
	g.servicesMu.RLock()
	defer g.servicesMu.RUnlock()

	svc, ok := g.services[name]
	if !ok {
		return nil
	}
	copied := *svc
	return &copied
}

// CheckServiceHealth probes a registered service's health endpoint.
func (g *Gateway) CheckServiceHealth(ctx context.Context, name string) (healthy bool, known bool) {
	svc := g.GetService(name)
	if svc == nil {
		return false, false
	}
	return g.proxy.HealthCheckService(ctx, name, svc.Host, svc.Port, svc.HealthCheckPath), true
}

// HealthCheck returns the aggregate health report.
func (g *Gateway) HealthCheck() *HealthStatus {
	g.servicesMu.RLock()
	serviceCount := len(g.services)
	g.servicesMu.RUnlock()

	state := g.GetState()
	status := "healthy"
	if state != StateRunning {
		status = "degraded"
	}

	return &HealthStatus{
		Status:             status,
		State:              state,
		UptimeSeconds:      time.Since(g.startTime).Seconds(),
		ActiveRoutes:       g.routes.CountActive(),
		RegisteredServices: serviceCount,
	}
}

// GetMetrics returns the metrics snapshot with the live route count.
func (g *Gateway) GetMetrics() *metrics.GatewayMetrics {
	return g.collector.GetMetrics(g.routes.CountActive())
}

// ResetMetrics zeroes the metrics collector.
func (g *Gateway) ResetMetrics() {
	g.collector.Reset()
}

// Routes exposes the route table to the HTTP boundary.
func (g *Gateway) Routes() *routetable.Table {
	return g.routes
}

// Limiter exposes the rate limiter to the HTTP boundary.
func (g *Gateway) Limiter() *ratelimit.Limiter {
	return g.limiter
}

// Config returns the current config snapshot.
func (g *Gateway) Config() *config.Config {
	return g.snapshotConfig()
}

// SetConfig swaps the live config snapshot.
func (g *Gateway) SetConfig(cfg *config.Config) {
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
	logging.Info("gateway configuration updated")
}

func (g *Gateway) snapshotConfig() *config.Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// ReloadConfiguration re-reads the config file the gateway was started
// with. Failures are logged and reported as false, never fatal.
func (g *Gateway) ReloadConfiguration() bool {
	if g.configPath == "" {
		logging.Warn("reload requested but no config file is in use")
		return false
	}

	cfg, err := config.NewLoader().Load(g.configPath)
	if err != nil {
		logging.Error("configuration reload failed", zap.Error(err))
		return false
	}

	g.SetConfig(cfg)
	logging.Info("configuration reloaded", zap.String("path", g.configPath))
	return true
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
