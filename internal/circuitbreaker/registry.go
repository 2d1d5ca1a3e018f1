package circuitbreaker

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is the cause when every provider in a chain was skipped
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

type Config struct {
	FailureThreshold int           // Default: 5
	Timeout          time.Duration // Default: 60 seconds

	// Now is the clock; tests replace it.
	Now func() time.Time
	// OnStateChange is invoked after a transition, outside the circuit lock.
	OnStateChange func(provider string, from, to State)
}

// Registry holds one circuit per provider. State lives for the process lifetime.
type Registry struct {
	mu       sync.RWMutex
	circuits map[string]*circuit

	threshold     int
	timeout       time.Duration
	now           func() time.Time
	onStateChange func(provider string, from, to State)
}

type circuit struct {
	mu           sync.Mutex
	state        State
	failureCount int
	lastFailure  time.Time
	lastSuccess  time.Time
	// probeStarted is set when the open->half-open transition admits a probe.
	probeStarted time.Time
}

// Snapshot is a point-in-time copy of one circuit.
type Snapshot struct {
	Provider     string     `json:"provider"`
	State        State      `json:"state"`
	FailureCount int        `json:"failure_count"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
}

type Summary struct {
	Healthy  int `json:"healthy"`
	Degraded int `json:"degraded"`
	Down     int `json:"down"`
}

func NewRegistry(cfg Config) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Registry{
		circuits:      make(map[string]*circuit),
		threshold:     cfg.FailureThreshold,
		timeout:       cfg.Timeout,
		now:           cfg.Now,
		onStateChange: cfg.OnStateChange,
	}
}

// Register makes a provider visible to health reporting before its first call.
func (r *Registry) Register(provider string) {
	r.get(provider)
}

func (r *Registry) get(provider string) *circuit {
	r.mu.RLock()
	c, ok := r.circuits[provider]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.circuits[provider]; ok {
		return c
	}
	c = &circuit{state: StateClosed}
	r.circuits[provider] = c
	return c
}

func (r *Registry) lookup(provider string) (*circuit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.circuits[provider]
	return c, ok
}

// IsOpen reports whether callers must route around provider. Once the open
// timeout has elapsed, exactly one call moves the circuit to half-open and
// returns false; that caller is the probe.
func (r *Registry) IsOpen(provider string) bool {
	c, ok := r.lookup(provider)
	if !ok {
		return false
	}

	now := r.now()

	c.mu.Lock()
	switch c.state {
	case StateOpen:
		if now.Sub(c.lastFailure) < r.timeout {
			c.mu.Unlock()
			return true
		}
		c.state = StateHalfOpen
		c.probeStarted = now
		c.mu.Unlock()
		r.notify(provider, StateOpen, StateHalfOpen)
		return false

	case StateHalfOpen:
		// A probe that never reported back must not wedge the circuit.
		if now.Sub(c.probeStarted) >= r.timeout {
			c.probeStarted = now
			c.mu.Unlock()
			return false
		}
		c.mu.Unlock()
		return true

	default:
		c.mu.Unlock()
		return false
	}
}

func (r *Registry) RecordSuccess(provider string) {
	c := r.get(provider)

	c.mu.Lock()
	c.lastSuccess = r.now()
	if c.state != StateHalfOpen {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.failureCount = 0
	c.mu.Unlock()

	r.notify(provider, StateHalfOpen, StateClosed)
}

func (r *Registry) RecordFailure(provider string) {
	c := r.get(provider)

	c.mu.Lock()
	from := c.state
	c.failureCount++
	c.lastFailure = r.now()

	switch c.state {
	case StateHalfOpen:
		c.state = StateOpen
	case StateClosed:
		if c.failureCount >= r.threshold {
			c.state = StateOpen
		}
	}
	to := c.state
	c.mu.Unlock()

	if from != to {
		r.notify(provider, from, to)
	}
}

// ReleaseProbe gives up a half-open probe that ended without a verdict,
// such as a caller that went away. The next caller becomes the probe.
func (r *Registry) ReleaseProbe(provider string) {
	c, ok := r.lookup(provider)
	if !ok {
		return
	}

	c.mu.Lock()
	if c.state == StateHalfOpen {
		c.probeStarted = time.Time{}
	}
	c.mu.Unlock()
}

// Manually resets the circuit to closed
func (r *Registry) Reset(provider string) bool {
	c, ok := r.lookup(provider)
	if !ok {
		return false
	}

	c.mu.Lock()
	from := c.state
	c.state = StateClosed
	c.failureCount = 0
	c.probeStarted = time.Time{}
	c.mu.Unlock()

	if from != StateClosed {
		r.notify(provider, from, StateClosed)
	}
	return true
}

// Get returns a snapshot of one circuit without mutating it.
func (r *Registry) Get(provider string) (Snapshot, bool) {
	c, ok := r.lookup(provider)
	if !ok {
		return Snapshot{}, false
	}
	return c.snapshot(provider), true
}

// States returns snapshots sorted by provider. It never transitions state.
func (r *Registry) States() []Snapshot {
	r.mu.RLock()
	names := make([]string, 0, len(r.circuits))
	circuits := make([]*circuit, 0, len(r.circuits))
	for name, c := range r.circuits {
		names = append(names, name)
		circuits = append(circuits, c)
	}
	r.mu.RUnlock()

	snapshots := make([]Snapshot, len(names))
	for i := range names {
		snapshots[i] = circuits[i].snapshot(names[i])
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Provider < snapshots[j].Provider
	})
	return snapshots
}

func (r *Registry) Summary() Summary {
	var s Summary
	for _, snap := range r.States() {
		switch snap.State {
		case StateOpen:
			s.Down++
		case StateHalfOpen:
			s.Degraded++
		default:
			s.Healthy++
		}
	}
	return s
}

func (c *circuit) snapshot(provider string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Provider:     provider,
		State:        c.state,
		FailureCount: c.failureCount,
	}
	if !c.lastFailure.IsZero() {
		t := c.lastFailure
		snap.LastFailure = &t
	}
	if !c.lastSuccess.IsZero() {
		t := c.lastSuccess
		snap.LastSuccess = &t
	}
	return snap
}

func (r *Registry) notify(provider string, from, to State) {
	if r.onStateChange != nil {
		r.onStateChange(provider, from, to)
	}
}
