// Package health provides health check utilities for the login flow service.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusUp indicates the component is healthy.
	StatusUp Status = "up"
	// StatusDown indicates the component is unhealthy.
	StatusDown Status = "down"
	// StatusDegraded indicates the component is partially healthy.
	StatusDegraded Status = "degraded"
)

// Check represents a health check function.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency_ms"`
}

// Response represents the overall health response.
type Response struct {
	Status     Status                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Checker manages health checks for the service.
type Checker struct {
	mu         sync.RWMutex
	checks     map[string]Check
	version    string
	timeout    time.Duration
	httpServer *http.Server
}

// Option is a functional option for configuring the Checker.
type Option func(*Checker)

// WithVersion sets the service version.
func WithVersion(version string) Option {
	return func(c *Checker) {
		c.version = version
	}
}

// WithTimeout sets the timeout for individual health checks.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Checker) {
		c.timeout = timeout
	}
}

// NewChecker creates a new health checker.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		checks:  make(map[string]Check),
		timeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Register adds a health check for a component.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check runs all health checks concurrently and returns the overall health.
func (c *Checker) Check(ctx context.Context) Response {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	response := Response{
		Status:     StatusUp,
		Timestamp:  time.Now().UTC(),
		Version:    c.version,
		Components: make(map[string]ComponentHealth),
	}

	if len(checks) == 0 {
		return response
	}

	type result struct {
		name   string
		health ComponentHealth
	}

	var wg sync.WaitGroup
	results := make(chan result, len(checks))

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			health := check(checkCtx)
			health.Latency = time.Since(start)

			results <- result{name, health}
		}(name, check)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		response.Components[r.name] = r.health

		switch r.health.Status {
		case StatusDown:
			response.Status = StatusDown
		case StatusDegraded:
			if response.Status != StatusDown {
				response.Status = StatusDegraded
			}
		}
	}

	return response
}

// IsHealthy returns true if all components are healthy.
func (c *Checker) IsHealthy(ctx context.Context) bool {
	return c.Check(ctx).Status == StatusUp
}

// Handler returns an http.Handler for the health endpoints.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health/live", "/livez":
			c.writeResponse(w, Response{
				Status:    StatusUp,
				Timestamp: time.Now().UTC(),
				Version:   c.version,
			})
		case "/health/ready", "/readyz":
			c.writeDetailed(r.Context(), w, true)
		default:
			c.writeDetailed(r.Context(), w, false)
		}
	})
}

func (c *Checker) writeDetailed(ctx context.Context, w http.ResponseWriter, detailed bool) {
	response := c.Check(ctx)

	if response.Status == StatusDown {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if !detailed {
		response.Components = nil
	}

	c.writeResponse(w, response)
}

func (c *Checker) writeResponse(w http.ResponseWriter, response Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// ServeHTTP starts an HTTP server for health checks on the given address.
func (c *Checker) ServeHTTP(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/", c.Handler())

	c.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return c.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the health check HTTP server.
func (c *Checker) Shutdown(ctx context.Context) error {
	if c.httpServer != nil {
		return c.httpServer.Shutdown(ctx)
	}
	return nil
}

// Common health check implementations

// PingCheck creates a health check from a ping function. Used for Postgres,
// Redis and similar clients exposing Ping(ctx).
func PingCheck(component string, pingFunc func(context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := pingFunc(ctx); err != nil {
			return ComponentHealth{
				Status:  StatusDown,
				Message: fmt.Sprintf("%s connection failed: %v", component, err),
			}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// ConnectedCheck creates a health check from a connectivity predicate. Used
// for NATS where the client exposes IsConnected rather than a ping.
func ConnectedCheck(component string, connected func() bool) Check {
	return func(ctx context.Context) ComponentHealth {
		if !connected() {
			return ComponentHealth{
				Status:  StatusDown,
				Message: component + " not connected",
			}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// HTTPCheck creates a health check that probes an HTTP endpoint. Used for the
// hosted auth backend's health URL.
func HTTPCheck(url string) Check {
	return func(ctx context.Context) ComponentHealth {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return ComponentHealth{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("endpoint returned %d", resp.StatusCode),
			}
		}
		return ComponentHealth{Status: StatusUp}
	}
}
