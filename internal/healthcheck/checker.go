package healthcheck

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Probe is a dependency that can be pinged, such as the database or redis.
type Probe interface {
	Ping(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Periodically pings the gateway's dependencies
type Checker struct {
	mu           sync.RWMutex
	probes       map[string]Probe
	healthStatus map[string]*Status
	interval     time.Duration
	timeout      time.Duration
	maxFailures  int
	logger       *slog.Logger
	now          func() time.Time
	stopChan     chan struct{}
	running      bool
}

type Config struct {
	Interval    time.Duration // How often to check (default: 10s)
	Timeout     time.Duration // Ping timeout (default: 2s)
	MaxFailures int           // Failures before marking unhealthy (default: 3)
}

func NewChecker(cfg Config, logger *slog.Logger) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}

	return &Checker{
		probes:       make(map[string]Probe),
		healthStatus: make(map[string]*Status),
		interval:     cfg.Interval,
		timeout:      cfg.Timeout,
		maxFailures:  cfg.MaxFailures,
		logger:       logger,
		now:          time.Now,
		stopChan:     make(chan struct{}),
	}
}

// Add registers a dependency. It is assumed healthy until checked.
func (c *Checker) Add(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.probes[name] = probe
	c.healthStatus[name] = &Status{
		Name:      name,
		IsHealthy: true,
		LastCheck: c.now(),
	}
}

// Begins periodic health checks
func (c *Checker) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info("starting dependency health checks", "dependencies", len(c.probes), "interval", c.interval)

	c.CheckAll(ctx)

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.CheckAll(ctx)
			case <-c.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
		c.logger.Info("health checker stopped")
	}
}

// CheckAll pings every dependency concurrently and waits for the results.
func (c *Checker) CheckAll(ctx context.Context) {
	c.mu.RLock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for name, probe := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.check(ctx, name, probe)
		}()
	}
	wg.Wait()
}

func (c *Checker) check(ctx context.Context, name string, probe Probe) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := probe.Ping(ctx); err != nil {
		c.recordFailure(name, err)
		return
	}
	c.recordSuccess(name)
}

func (c *Checker) recordSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.healthStatus[name]
	now := c.now()
	status.LastCheck = now
	status.LastSuccess = now
	status.LastError = ""
	status.FailureCount = 0

	if !status.IsHealthy {
		c.logger.Info("dependency is healthy again", "dependency", name)
		status.IsHealthy = true
	}
}

func (c *Checker) recordFailure(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.healthStatus[name]
	now := c.now()
	status.LastCheck = now
	status.LastFailure = now
	status.LastError = err.Error()
	status.FailureCount++

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		c.logger.Warn("dependency is unhealthy", "dependency", name, "failures", status.FailureCount, "error", err)
		status.IsHealthy = false
	}
}

// Returns copies of every dependency status, sorted by name
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses := make([]Status, 0, len(c.healthStatus))
	for _, s := range c.healthStatus {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

func (c *Checker) GetStatus(name string) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.healthStatus[name]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

// Returns the overall health status
func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthy := 0
	for _, s := range c.healthStatus {
		if s.IsHealthy {
			healthy++
		}
	}

	switch {
	case healthy == len(c.healthStatus):
		return Healthy
	case healthy == 0:
		return Unhealthy
	default:
		return Degraded
	}
}
