package routetable

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Status is the lifecycle state of a registered route.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// ValidMethods contains the HTTP methods a route may be registered under.
var ValidMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// RouteDefinition maps an exact (method, path) pair to a backend target.
type RouteDefinition struct {
	RouteID       string `json:"route_id"`
	Path          string `json:"path"`
	Method        string `json:"method"`
	TargetService string `json:"target_service"`
	TargetPath    string `json:"target_path"`
	TargetPort    int    `json:"target_port"`
	RequiresAuth  bool   `json:"requires_auth"`

	// Optional per-route rate limit override; zero means no override.
	RateLimitRequests      int `json:"rate_limit_requests,omitempty"`
	RateLimitWindowSeconds int `json:"rate_limit_window_seconds,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RouteUpdate carries a partial set of fields for an update. Nil fields
// are left untouched.
type RouteUpdate struct {
	Path                   *string `json:"path,omitempty"`
	Method                 *string `json:"method,omitempty"`
	TargetService          *string `json:"target_service,omitempty"`
	TargetPath             *string `json:"target_path,omitempty"`
	TargetPort             *int    `json:"target_port,omitempty"`
	RequiresAuth           *bool   `json:"requires_auth,omitempty"`
	RateLimitRequests      *int    `json:"rate_limit_requests,omitempty"`
	RateLimitWindowSeconds *int    `json:"rate_limit_window_seconds,omitempty"`
	Status                 *Status `json:"status,omitempty"`
}

// ResolutionResult is the outcome of resolving an inbound (method, path).
type ResolutionResult struct {
	Success      bool
	Route        *RouteDefinition
	TargetURL    string
	ShouldProxy  bool
	ErrorMessage string
	StatusCode   int
}

// Table is the in-memory route registry. Reads vastly outnumber writes,
// so a reader-writer lock guards the backing maps.
type Table struct {
	mu     sync.RWMutex
	byPath map[string]map[string]*RouteDefinition // path -> method -> route
	byID   map[string]*RouteDefinition
}

// New creates an empty route table.
func New() *Table {
	return &Table{
		byPath: make(map[string]map[string]*RouteDefinition),
		byID:   make(map[string]*RouteDefinition),
	}
}

// Register adds a route. It returns false without modifying the table when
// the (path, method) pair or the route ID is already registered.
func (t *Table) Register(route *RouteDefinition) bool {
	method := strings.ToUpper(route.Method)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byID[route.RouteID]; exists {
		return false
	}
	if methods, ok := t.byPath[route.Path]; ok {
		if _, dup := methods[method]; dup {
			return false
		}
	}

	stored := *route
	stored.Method = method
	if stored.Status == "" {
		stored.Status = StatusActive
	}
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	if t.byPath[stored.Path] == nil {
		t.byPath[stored.Path] = make(map[string]*RouteDefinition)
	}
	t.byPath[stored.Path][method] = &stored
	t.byID[stored.RouteID] = &stored
	return true
}

// Unregister removes a route by ID. Returns false if the ID is unknown.
func (t *Table) Unregister(routeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	route, ok := t.byID[routeID]
	if !ok {
		return false
	}

	delete(t.byID, routeID)
	if methods, ok := t.byPath[route.Path]; ok {
		delete(methods, route.Method)
		if len(methods) == 0 {
			delete(t.byPath, route.Path)
		}
	}
	return true
}

// Update merges the supplied fields into an existing route and refreshes
// updated_at. Returns false if the ID is unknown or the change would
// collide with another registered (path, method) pair.
func (t *Table) Update(routeID string, upd RouteUpdate) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	route, ok := t.byID[routeID]
	if !ok {
		return false
	}

	newPath := route.Path
	newMethod := route.Method
	if upd.Path != nil {
		newPath = *upd.Path
	}
	if upd.Method != nil {
		newMethod = strings.ToUpper(*upd.Method)
	}

	if newPath != route.Path || newMethod != route.Method {
		if methods, ok := t.byPath[newPath]; ok {
			if other, dup := methods[newMethod]; dup && other.RouteID != routeID {
				return false
			}
		}
		// Re-key the path index.
		delete(t.byPath[route.Path], route.Method)
		if len(t.byPath[route.Path]) == 0 {
			delete(t.byPath, route.Path)
		}
		if t.byPath[newPath] == nil {
			t.byPath[newPath] = make(map[string]*RouteDefinition)
		}
		t.byPath[newPath][newMethod] = route
		route.Path = newPath
		route.Method = newMethod
	}

	if upd.TargetService != nil {
		route.TargetService = *upd.TargetService
	}
	if upd.TargetPath != nil {
		route.TargetPath = *upd.TargetPath
	}
	if upd.TargetPort != nil {
		route.TargetPort = *upd.TargetPort
	}
	if upd.RequiresAuth != nil {
		route.RequiresAuth = *upd.RequiresAuth
	}
	if upd.RateLimitRequests != nil {
		route.RateLimitRequests = *upd.RateLimitRequests
	}
	if upd.RateLimitWindowSeconds != nil {
		route.RateLimitWindowSeconds = *upd.RateLimitWindowSeconds
	}
	if upd.Status != nil {
		route.Status = *upd.Status
	}
	route.UpdatedAt = time.Now()
	return true
}

// Resolve matches an inbound (method, path) against the table.
func (t *Table) Resolve(method, path string) *ResolutionResult {
	method = strings.ToUpper(method)

	t.mu.RLock()
	defer t.mu.RUnlock()

	methods, ok := t.byPath[path]
	if !ok || len(methods) == 0 {
		return &ResolutionResult{
			Success:      false,
			ErrorMessage: "Route not found",
			StatusCode:   404,
		}
	}

	route, ok := methods[method]
	if !ok {
		return &ResolutionResult{
			Success:      false,
			ErrorMessage: "Method not allowed",
			StatusCode:   405,
		}
	}

	if route.Status != StatusActive {
		return &ResolutionResult{
			Success:      false,
			ErrorMessage: "Route is inactive",
			StatusCode:   503,
		}
	}

	copied := *route
	return &ResolutionResult{
		Success:     true,
		Route:       &copied,
		TargetURL:   fmt.Sprintf("http://%s:%d%s", route.TargetService, route.TargetPort, route.TargetPath),
		ShouldProxy: true,
		StatusCode:  200,
	}
}

// Get returns a copy of the route with the given ID, or nil.
func (t *Table) Get(routeID string) *RouteDefinition {
	t.mu.RLock()
	defer t.mu.RUnlock()

	route, ok := t.byID[routeID]
	if !ok {
		return nil
	}
	copied := *route
	return &copied
}

// List returns copies of all routes, optionally filtered by status.
// Results are ordered by route ID for stable output.
func (t *Table) List(statusFilter Status) []*RouteDefinition {
	t.mu.RLock()
	defer t.mu.RUnlock()

	routes := make([]*RouteDefinition, 0, len(t.byID))
	for _, route := range t.byID {
		if statusFilter != "" && route.Status != statusFilter {
			continue
		}
		copied := *route
		routes = append(routes, &copied)
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].RouteID < routes[j].RouteID
	})
	return routes
}

// Count returns the number of registered routes.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// CountActive returns the number of routes in ACTIVE status.
func (t *Table) CountActive() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, route := range t.byID {
		if route.Status == StatusActive {
			n++
		}
	}
	return n
}
