package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus is the state of the service or of one component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// DefaultCheckTimeout bounds a probe registered without a timeout.
const DefaultCheckTimeout = 5 * time.Second

// ComponentCheck probes one dependency of the service.
type ComponentCheck struct {
	// Name keys the check in reports. Registering a name again replaces it.
	Name string
	// Backend names the implementation behind the component, e.g. "redis".
	Backend string
	Probe   func(context.Context) error
	Timeout time.Duration
	// Critical failures make the service unhealthy; others only degrade it.
	Critical bool
}

// ComponentStatus is the outcome of one check.
type ComponentStatus struct {
	Status    HealthStatus `json:"status"`
	Backend   string       `json:"backend,omitempty"`
	Critical  bool         `json:"critical"`
	Error     string       `json:"error,omitempty"`
	LatencyMS int64        `json:"latency_ms"`
}

// HealthReport is the body served on /health.
type HealthReport struct {
	Status        HealthStatus               `json:"status"`
	Version       string                     `json:"version"`
	Timestamp     time.Time                  `json:"timestamp"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Goroutines    int                        `json:"goroutines"`
	Components    map[string]ComponentStatus `json:"components"`
}

// HealthChecker runs the registered component checks.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]ComponentCheck
}

// NewHealthChecker creates a checker with no components.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]ComponentCheck)}
}

var (
	defaultChecker = NewHealthChecker()
	startTime      = time.Now()
	version        = "dev"
)

// SetVersion sets the version reported by health responses.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// DefaultHealthChecker returns the process-wide checker behind HealthHandler
// and ReadinessHandler.
func DefaultHealthChecker() *HealthChecker {
	return defaultChecker
}

// Register adds or replaces a check.
func (hc *HealthChecker) Register(c ComponentCheck) {
	if c.Timeout <= 0 {
		c.Timeout = DefaultCheckTimeout
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[c.Name] = c
}

// Check probes every component concurrently and folds the results: any
// failing critical component makes the report unhealthy, any other failure
// degrades it.
func (hc *HealthChecker) Check(ctx context.Context) HealthReport {
	hc.mu.RLock()
	checks := make([]ComponentCheck, 0, len(hc.checks))
	for _, c := range hc.checks {
		checks = append(checks, c)
	}
	hc.mu.RUnlock()

	results := make([]ComponentStatus, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = probe(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := HealthReport{
		Status:        HealthStatusHealthy,
		Version:       version,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		Components:    make(map[string]ComponentStatus, len(checks)),
	}
	for i, c := range checks {
		report.Components[c.Name] = results[i]
		if severity[results[i].Status] > severity[report.Status] {
			report.Status = results[i].Status
		}
	}
	return report
}

var severity = map[HealthStatus]int{
	HealthStatusHealthy:   0,
	HealthStatusDegraded:  1,
	HealthStatusUnhealthy: 2,
}

// probe runs one check under its timeout. A probe that ignores its context
// is abandoned when the timeout fires.
func probe(ctx context.Context, c ComponentCheck) ComponentStatus {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Probe(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	st := ComponentStatus{
		Status:    HealthStatusHealthy,
		Backend:   c.Backend,
		Critical:  c.Critical,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		st.Error = err.Error()
		st.Status = HealthStatusDegraded
		if c.Critical {
			st.Status = HealthStatusUnhealthy
		}
	}
	return st
}

// EventStoreCheck probes the event store. Without it nothing can be served,
// so the check is critical.
func EventStoreCheck(backend string, ping func(context.Context) error) ComponentCheck {
	return ComponentCheck{
		Name:     "eventstore",
		Backend:  backend,
		Probe:    ping,
		Critical: true,
	}
}

// AgentCheck probes the agent backend. Sessions stay readable while it is
// down, so a failure only degrades the service.
func AgentCheck(provider string, ping func(context.Context) error) ComponentCheck {
	return ComponentCheck{
		Name:    "agent",
		Backend: provider,
		Probe:   ping,
		Timeout: 10 * time.Second,
	}
}

// PublisherCheck probes the event bus.
func PublisherCheck(backend string, ping func(context.Context) error) ComponentCheck {
	return ComponentCheck{
		Name:    "publisher",
		Backend: backend,
		Probe:   ping,
	}
}

// HealthHandler serves the full report of the default checker: 200 when
// healthy or degraded, 503 when unhealthy.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := defaultChecker.Check(r.Context())
		code := http.StatusOK
		if report.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

// LivenessHandler reports that the process is up.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadinessHandler reports ready unless a critical component is failing.
func ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := defaultChecker.Check(r.Context())
		if report.Status == HealthStatusUnhealthy {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
