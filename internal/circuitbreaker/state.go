package circuitbreaker

// Represents the state of a circuit breaker
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Route around the provider
	StateHalfOpen              // Probing whether the provider recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
