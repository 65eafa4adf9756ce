package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Pinger is implemented by the ledger stores and the Redis rate limit store.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Component represents a system component that can be health-checked.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"` // store, http
	CheckResult
}

// HealthStatus represents the overall health of the service.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// Checker pings the stores reportd depends on and, for deep checks, the
// upstream API host.
type Checker struct {
	mu   sync.RWMutex
	last []Component

	stores      map[string]Pinger
	critical    map[string]bool
	upstreamURL string
	client      *http.Client

	storeTimeout    time.Duration
	maxStoreLatency time.Duration
}

// Config holds health checker configuration.
type Config struct {
	// Ledger is critical: its failure makes the service unhealthy.
	Ledger Pinger
	// RateLimit failures only degrade; the limiter fails open.
	RateLimit Pinger

	// UpstreamURL is probed on deep checks only.
	UpstreamURL string
	HTTPClient  *http.Client

	StoreTimeout    time.Duration
	HTTPTimeout     time.Duration
	MaxStoreLatency time.Duration
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.MaxStoreLatency == 0 {
		cfg.MaxStoreLatency = 100 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	c := &Checker{
		stores:          make(map[string]Pinger),
		critical:        make(map[string]bool),
		upstreamURL:     cfg.UpstreamURL,
		client:          client,
		storeTimeout:    cfg.StoreTimeout,
		maxStoreLatency: cfg.MaxStoreLatency,
	}
	if cfg.Ledger != nil {
		c.stores["ledger"] = cfg.Ledger
		c.critical["ledger"] = true
	}
	if cfg.RateLimit != nil {
		c.stores["ratelimit"] = cfg.RateLimit
	}
	return c
}

// Check runs every check concurrently. deep adds the upstream probe.
func (c *Checker) Check(ctx context.Context, deep bool) HealthStatus {
	var wg sync.WaitGroup
	results := make(chan Component, len(c.stores)+1)

	for name, store := range c.stores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkStore(ctx, name, store)
		}()
	}
	if deep && c.upstreamURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkHTTPEndpoint(ctx, "upstream_api", c.upstreamURL)
		}()
	}

	wg.Wait()
	close(results)

	components := make([]Component, 0, len(results))
	for comp := range results {
		components = append(components, comp)
	}

	c.mu.Lock()
	c.last = components
	c.mu.Unlock()

	return c.overall(components)
}

// LastStatus returns the result of the previous Check.
func (c *Checker) LastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.overall(c.last)
}

func (c *Checker) checkStore(ctx context.Context, name string, p Pinger) Component {
	comp := Component{Name: name, Type: "store", CheckResult: CheckResult{Timestamp: time.Now()}}

	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	start := time.Now()
	err := p.PingContext(ctx)
	comp.Latency = time.Since(start)

	switch {
	case err != nil:
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Store unreachable"
	case comp.Latency > c.maxStoreLatency:
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("High latency: %v", comp.Latency)
	default:
		comp.Status = StatusHealthy
		comp.Message = "Connected"
	}
	return comp
}

// checkHTTPEndpoint treats any HTTP response, even 4xx/5xx, as reachable.
func (c *Checker) checkHTTPEndpoint(ctx context.Context, name, url string) Component {
	comp := Component{Name: name, Type: "http", CheckResult: CheckResult{Timestamp: time.Now()}}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		return comp
	}
	resp, err := c.client.Do(req)
	comp.Latency = time.Since(start)
	if err != nil {
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "Endpoint unreachable"
		return comp
	}
	resp.Body.Close()

	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("Reachable (HTTP %d)", resp.StatusCode)
	return comp
}

func (c *Checker) overall(components []Component) HealthStatus {
	status := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if c.critical[comp.Name] {
				status = StatusUnhealthy
			} else if status == StatusHealthy {
				status = StatusDegraded
			}
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return HealthStatus{Status: status, Timestamp: time.Now(), Components: components}
}
