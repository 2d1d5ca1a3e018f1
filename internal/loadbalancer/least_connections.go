package loadbalancer

import "sync"

// LeastConnections prefers the endpoint with the fewest in-flight calls.
// Ties go to the earliest endpoint in the list.
type LeastConnections struct {
	mu       sync.Mutex
	inFlight map[string]int
}

func NewLeastConnections() *LeastConnections {
	return &LeastConnections{
		inFlight: make(map[string]int),
	}
}

func (l *LeastConnections) Pick(endpoints []string) string {
	if len(endpoints) == 0 {
		return ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	selected := endpoints[0]
	fewest := l.inFlight[selected]
	for _, e := range endpoints[1:] {
		if n := l.inFlight[e]; n < fewest {
			fewest = n
			selected = e
		}
	}
	return selected
}

func (l *LeastConnections) Acquire(endpoint string) func() {
	l.mu.Lock()
	l.inFlight[endpoint]++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.inFlight[endpoint] > 0 {
				l.inFlight[endpoint]--
			}
		})
	}
}

// InFlight returns the number of calls currently using endpoint.
func (l *LeastConnections) InFlight(endpoint string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight[endpoint]
}

func (l *LeastConnections) Name() string {
	return "least_connections"
}
