package webhook

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventRequestCompleted  = "request.completed"
	EventRequestFailed     = "request.failed"
	EventSecurityViolation = "security.violation"
	EventModelFallback     = "model.fallback"
	EventBudgetThreshold   = "budget.threshold"
	EventRateLimitExceeded = "rate_limit.exceeded"
	EventTest              = "webhook.test"

	// Wildcard subscribes to every event type.
	Wildcard = "*"
)

var EventTypes = []string{
	EventRequestCompleted,
	EventRequestFailed,
	EventSecurityViolation,
	EventModelFallback,
	EventBudgetThreshold,
	EventRateLimitExceeded,
}

func IsKnownEvent(t string) bool {
	if t == Wildcard {
		return true
	}
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is immutable once built; the timestamp is always assigned here.
type Event struct {
	eventType string
	projectID uuid.UUID
	data      map[string]interface{}
	timestamp time.Time
}

func NewEvent(eventType string, projectID uuid.UUID, data map[string]interface{}) Event {
	copied := make(map[string]interface{}, len(data))
	for k, v := range data {
		copied[k] = v
	}
	return Event{
		eventType: eventType,
		projectID: projectID,
		data:      copied,
		timestamp: time.Now().UTC(),
	}
}

func (e Event) Type() string         { return e.eventType }
func (e Event) ProjectID() uuid.UUID { return e.projectID }
func (e Event) Timestamp() time.Time { return e.timestamp }

// Data returns a copy of the payload.
func (e Event) Data() map[string]interface{} {
	copied := make(map[string]interface{}, len(e.data))
	for k, v := range e.data {
		copied[k] = v
	}
	return copied
}

type envelope struct {
	Type      string                 `json:"type"`
	ProjectID uuid.UUID              `json:"projectId"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{
		Type:      e.eventType,
		ProjectID: e.projectID,
		Data:      e.data,
		Timestamp: e.timestamp,
	})
}
