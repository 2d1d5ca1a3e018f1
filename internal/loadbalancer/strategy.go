package loadbalancer

import "fmt"

// Strategy picks one upstream endpoint of a provider for a call.
type Strategy interface {
	Pick(endpoints []string) string
	Name() string
}

// Tracker is implemented by strategies that need to know when a call on
// an endpoint finishes.
type Tracker interface {
	Acquire(endpoint string) (release func())
}

func New(name string) (Strategy, error) {
	switch name {
	case "round_robin", "round-robin", "":
		return NewRoundRobin(), nil
	case "random":
		return NewRandom(), nil
	case "least_connections", "least-connections":
		return NewLeastConnections(), nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy: %s", name)
	}
}

// Begin picks an endpoint and, for tracking strategies, marks it in use.
// The returned func must be called when the call completes.
func Begin(s Strategy, endpoints []string) (string, func()) {
	endpoint := s.Pick(endpoints)
	if t, ok := s.(Tracker); ok && endpoint != "" {
		return endpoint, t.Acquire(endpoint)
	}
	return endpoint, func() {}
}
