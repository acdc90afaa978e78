package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/jobwire/gateway/internal/errors"
	"github.com/jobwire/gateway/internal/logging"
	"github.com/jobwire/gateway/internal/middleware"
	"github.com/jobwire/gateway/internal/middleware/cors"
	"github.com/jobwire/gateway/internal/ratelimit"
	"github.com/jobwire/gateway/internal/routetable"
	"github.com/jobwire/gateway/internal/variables"
)

// Server is the HTTP boundary: the management API plus the catch-all
// proxy route, wrapped in the shared middleware chain.
type Server struct {
	gateway    *Gateway
	httpServer *http.Server
}

// NewServer wires the management router and middleware chain around a
// gateway.
func NewServer(g *Gateway) *Server {
	s := &Server{gateway: g}
	cfg := g.Config()

	router := httprouter.New()
	// The catch-all proxy owns every unmanaged path, so httprouter must
	// not answer 405s for them.
	router.HandleMethodNotAllowed = false
	router.NotFound = http.HandlerFunc(s.handleProxy)

	router.HandlerFunc(http.MethodGet, "/health", s.handleHealth)
	router.HandlerFunc(http.MethodGet, "/ready", s.handleReady)
	router.HandlerFunc(http.MethodGet, "/metrics", s.handleMetrics)
	router.HandlerFunc(http.MethodGet, "/metrics/prometheus", s.handleMetricsPrometheus)

	router.HandlerFunc(http.MethodGet, "/routes", s.handleListRoutes)
	router.HandlerFunc(http.MethodPost, "/routes", s.handleRegisterRoute)
	router.Handle(http.MethodGet, "/routes/:id", s.handleGetRoute)
	router.Handle(http.MethodPut, "/routes/:id", s.handleUpdateRoute)
	router.Handle(http.MethodDelete, "/routes/:id", s.handleUnregisterRoute)

	router.HandlerFunc(http.MethodPost, "/rate-limits", s.handleCreateRateLimit)
	router.HandlerFunc(http.MethodGet, "/rate-limits", s.handleListRateLimits)
	router.HandlerFunc(http.MethodGet, "/rate-limits/status", s.handleRateLimitStatus)

	router.HandlerFunc(http.MethodPost, "/services", s.handleRegisterService)
	router.HandlerFunc(http.MethodGet, "/services", s.handleListServices)
	router.Handle(http.MethodGet, "/services/:name/health", s.handleServiceHealth)

	router.HandlerFunc(http.MethodPost, "/admin/reload-config", s.handleReloadConfig)
	router.HandlerFunc(http.MethodGet, "/admin/config", s.handleGetConfig)
	router.HandlerFunc(http.MethodPut, "/admin/config", s.handlePutConfig)
	router.HandlerFunc(http.MethodPost, "/admin/reset-metrics", s.handleResetMetrics)

	corsHandler := cors.New(cfg.CORS)

	chain := middleware.NewBuilder().
		Use(middleware.Recovery()).
		Use(middleware.RequestID()).
		Use(middleware.LoggingWithConfig(middleware.LoggingConfig{
			SkipPaths: []string{"/health", "/ready", "/metrics", "/metrics/prometheus"},
		})).
		UseIf(cfg.CORS.Enabled, corsHandler.Middleware()).
		Use(middleware.ConcurrencyLimit(cfg.Proxy.MaxConcurrentRequests)).
		Use(middleware.BodySizeLimit(cfg.Proxy.MaxRequestSizeBytes)).
		Handler(router)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.Port),
		Handler:           chain,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the fully wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the gateway and serves until SIGINT/SIGTERM. SIGHUP triggers
// a configuration reload.
func (s *Server) Run() error {
	if err := s.gateway.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("gateway listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for {
		select {
		case err := <-errCh:
			return err
		case sig := <-quit:
			if sig == syscall.SIGHUP {
				if s.gateway.ReloadConfiguration() {
					logging.Info("config reloaded on SIGHUP")
				}
				continue
			}
			logging.Info("shutting down gracefully")
			return s.Shutdown(30 * time.Second)
		}
	}
}

// Shutdown drains in-flight requests and stops the gateway.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.gateway.Stop()
	if err != nil {
		logging.Error("server shutdown error", zap.Error(err))
		return err
	}
	logging.Info("server shutdown complete")
	return nil
}

// ---- catch-all proxy ----

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	rc := variables.GetFromRequest(r)
	if rc == nil {
		// Reached only when the middleware chain is bypassed.
		rc = variables.FromHTTP(r)
		rc.RequestID = uuid.New().String()
	}

	if r.Body != nil && r.ContentLength != 0 {
		body, err := readBody(r)
		if err != nil {
			errors.ErrRequestEntityTooLarge.WithRequestID(rc.RequestID).WriteJSON(w)
			return
		}
		rc.Body = body
	}

	resp := s.gateway.ProcessRequest(r.Context(), rc)

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}

	if !resp.Success && len(resp.Body) == 0 {
		errors.New(resp.StatusCode, http.StatusText(resp.StatusCode)).
			WithDetail(resp.ErrorMessage).
			WithRequestID(rc.RequestID).
			WriteJSON(w)
		return
	}

	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}

// readBody drains the request body, which is already capped by the body
// size middleware.
func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// ---- health and metrics ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.gateway.HealthCheck()

	if r.URL.Query().Get("detailed") != "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"health":   health,
			"metrics":  s.gateway.GetMetrics(),
			"services": s.gateway.ListServices(),
		})
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.gateway.GetState() != StateRunning {
		errors.ErrServiceUnavailable.
			WithDetail("Gateway is not running").
			WithRequestID(middleware.GetRequestID(r)).
			WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.GetMetrics())
}

func (s *Server) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	s.gateway.collector.WritePrometheus(w, s.gateway.routes.CountActive())
}

// ---- route management ----

// routeRequest is the POST /routes payload.
type routeRequest struct {
	RouteID                string `json:"route_id"`
	Path                   string `json:"path"`
	Method                 string `json:"method"`
	TargetService          string `json:"target_service"`
	TargetPath             string `json:"target_path"`
	TargetPort             int    `json:"target_port"`
	RequiresAuth           bool   `json:"requires_auth"`
	RateLimitRequests      int    `json:"rate_limit_requests"`
	RateLimitWindowSeconds int    `json:"rate_limit_window_seconds"`
	Status                 string `json:"status"`
}

func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	filter := routetable.Status(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"routes": s.gateway.Routes().List(filter),
	})
}

func (s *Server) handleRegisterRoute(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r)

	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ErrBadRequest.WithDetail("Invalid JSON body").WithRequestID(reqID).WriteJSON(w)
		return
	}

	if req.Path == "" || req.Method == "" || req.TargetService == "" || req.TargetPort == 0 {
		errors.ErrUnprocessableEntity.
			WithDetail("path, method, target_service and target_port are required").
			WithRequestID(reqID).
			WriteJSON(w)
		return
	}
	if !routetable.ValidMethods[normalizeMethod(req.Method)] {
		errors.ErrBadRequest.
			WithDetail(fmt.Sprintf("Invalid HTTP method: %s", req.Method)).
			WithRequestID(reqID).
			WriteJSON(w)
		return
	}

	route := &routetable.RouteDefinition{
		RouteID:                req.RouteID,
		Path:                   req.Path,
		Method:                 req.Method,
		TargetService:          req.TargetService,
		TargetPath:             req.TargetPath,
		TargetPort:             req.TargetPort,
		RequiresAuth:           req.RequiresAuth,
		RateLimitRequests:      req.RateLimitRequests,
		RateLimitWindowSeconds: req.RateLimitWindowSeconds,
		Status:                 routetable.Status(req.Status),
	}
	if route.RouteID == "" {
		route.RouteID = uuid.New().String()
	}
	if route.TargetPath == "" {
		route.TargetPath = route.Path
	}

	if !s.gateway.RegisterRoute(route) {
		errors.New(http.StatusConflict, "Conflict").
			WithDetail(fmt.Sprintf("Route already registered for %s %s", route.Method, route.Path)).
			WithRequestID(reqID).
			WriteJSON(w)
		return
	}

	writeJSON(w, http.StatusCreated, s.gateway.Routes().Get(route.RouteID))
}

func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	route := s.gateway.Routes().Get(ps.ByName("id"))
	if route == nil {
		errors.ErrNotFound.
			WithDetail("Route not found").
			WithRequestID(middleware.GetRequestID(r)).
			WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleUpdateRoute(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	reqID := middleware.GetRequestID(r)
	routeID := ps.ByName("id")

	var upd routetable.RouteUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		errors.ErrBadRequest.WithDetail("Invalid JSON body").WithRequestID(reqID).WriteJSON(w)
		return
	}
	if upd.Method != nil && !routetable.ValidMethods[normalizeMethod(*upd.Method)] {
		errors.ErrBadRequest.
			WithDetail(fmt.Sprintf("Invalid HTTP method: %s", *upd.Method)).
			WithRequestID(reqID).
			WriteJSON(w)
		return
	}

	if s.gateway.Routes().Get(routeID) == nil {
		errors.ErrNotFound.WithDetail("Route not found").WithRequestID(reqID).WriteJSON(w)
		return
	}
	if !s.gateway.Routes().Update(routeID, upd) {
		errors.ErrBadRequest.
			WithDetail("Update would collide with an existing route").
			WithRequestID(reqID).
			WriteJSON(w)
		return
	}

	writeJSON(w, http.StatusOK, s.gateway.Routes().Get(routeID))
}

func (s *Server) handleUnregisterRoute(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !s.gateway.Routes().Unregister(ps.ByName("id")) {
		errors.ErrNotFound.
			WithDetail("Route not found").
			WithRequestID(middleware.GetRequestID(r)).
			WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

// ---- rate limit management ----

func (s *Server) handleCreateRateLimit(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r)

	var rule ratelimit.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		errors.ErrBadRequest.WithDetail("Invalid JSON body").WithRequestID(reqID).WriteJSON(w)
		return
	}
	if rule.RuleID == "" {
		rule.RuleID = uuid.New().String()
	}

	if err := s.gateway.Limiter().AddRule(&rule); err != nil {
		errors.ErrBadRequest.WithDetail(err.Error()).WithRequestID(reqID).WriteJSON(w)
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRateLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": s.gateway.Limiter().ListRules(),
	})
}

func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r)

	scope := ratelimit.Scope(r.URL.Query().Get("scope"))
	scopeValue := r.URL.Query().Get("scope_value")
	if scope == "" {
		errors.ErrBadRequest.WithDetail("scope query parameter is required").WithRequestID(reqID).WriteJSON(w)
		return
	}
	if !ratelimit.ValidScopes[scope] {
		errors.ErrBadRequest.
			WithDetail(fmt.Sprintf("Invalid scope: %s", scope)).
			WithRequestID(reqID).
			WriteJSON(w)
		return
	}

	writeJSON(w, http.StatusOK, s.gateway.Limiter().StatusFor(scope, scopeValue))
}

// ---- service management ----

// serviceRequest is the POST /services payload.
type serviceRequest struct {
	ServiceName     string         `json:"service_name"`
	Host            string         `json:"host"`
	Port            int            `json:"port"`
	HealthCheckPath string         `json:"health_check_path"`
	Routes          []routeRequest `json:"routes"`
}

func (s *Server) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r)

	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ErrBadRequest.WithDetail("Invalid JSON body").WithRequestID(reqID).WriteJSON(w)
		return
	}
	if req.ServiceName == "" || len(req.Routes) == 0 {
		errors.ErrBadRequest.
			WithDetail("service_name and at least one route are required").
			WithRequestID(reqID).
			WriteJSON(w)
		return
	}

	host := req.Host
	if host == "" {
		host = req.ServiceName
	}

	routes := make([]*routetable.RouteDefinition, 0, len(req.Routes))
	for i, rr := range req.Routes {
		if rr.Path == "" || rr.Method == "" {
			errors.ErrBadRequest.
				WithDetail(fmt.Sprintf("route %d: path and method are required", i)).
				WithRequestID(reqID).
				WriteJSON(w)
			return
		}
		if !routetable.ValidMethods[normalizeMethod(rr.Method)] {
			errors.ErrBadRequest.
				WithDetail(fmt.Sprintf("route %d: invalid HTTP method: %s", i, rr.Method)).
				WithRequestID(reqID).
				WriteJSON(w)
			return
		}

		route := &routetable.RouteDefinition{
			RouteID:                rr.RouteID,
			Path:                   rr.Path,
			Method:                 rr.Method,
			TargetService:          host,
			TargetPath:             rr.TargetPath,
			TargetPort:             req.Port,
			RequiresAuth:           rr.RequiresAuth,
			RateLimitRequests:      rr.RateLimitRequests,
			RateLimitWindowSeconds: rr.RateLimitWindowSeconds,
			Status:                 routetable.Status(rr.Status),
		}
		if rr.TargetService != "" {
			route.TargetService = rr.TargetService
		}
		if rr.TargetPort != 0 {
			route.TargetPort = rr.TargetPort
		}
		if route.RouteID == "" {
			route.RouteID = fmt.Sprintf("%s-%s-%d", req.ServiceName, normalizeMethod(rr.Method), i)
		}
		if route.TargetPath == "" {
			route.TargetPath = rr.Path
		}
		routes = append(routes, route)
	}

	if !s.gateway.RegisterServiceRoutes(req.ServiceName, host, req.Port, req.HealthCheckPath, routes) {
		errors.ErrInternalServer.
			WithDetail("Service route registration failed; no routes were added").
			WithRequestID(reqID).
			WriteJSON(w)
		return
	}

	writeJSON(w, http.StatusCreated, s.gateway.GetService(req.ServiceName))
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"services": s.gateway.ListServices(),
	})
}

func (s *Server) handleServiceHealth(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("name")

	healthy, known := s.gateway.CheckServiceHealth(r.Context(), name)
	if !known {
		errors.ErrNotFound.
			WithDetail(fmt.Sprintf("Unknown service: %s", name)).
			WithRequestID(middleware.GetRequestID(r)).
			WriteJSON(w)
		return
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": name,
		"status":  status,
		"healthy": healthy,
	})
}

// ---- admin ----

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if !s.gateway.ReloadConfiguration() {
		errors.ErrInternalServer.
			WithDetail("Configuration reload failed").
			WithRequestID(middleware.GetRequestID(r)).
			WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.Config())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r)

	cfg := s.gateway.Config()
	updated := *cfg
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		errors.ErrBadRequest.WithDetail("Invalid JSON body").WithRequestID(reqID).WriteJSON(w)
		return
	}

	s.gateway.SetConfig(&updated)
	writeJSON(w, http.StatusOK, &updated)
}

func (s *Server) handleResetMetrics(w http.ResponseWriter, r *http.Request) {
	s.gateway.ResetMetrics()
	writeJSON(w, http.StatusOK, map[string]string{"status": "metrics reset"})
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("writing JSON response", zap.Error(err))
	}
}

func normalizeMethod(m string) string {
	return strings.ToUpper(m)
}
