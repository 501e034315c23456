package domain

import "time"

// EventKind names a controller notification stream.
type EventKind string

const (
	EventSignal         EventKind = "signal"
	EventDecision       EventKind = "decision"
	EventPositionOpened EventKind = "position:opened"
	EventPositionClosed EventKind = "position:closed"
	EventRiskUpdate     EventKind = "risk:update"
	EventEmergencyStop  EventKind = "risk:emergency_stop"
)

// AllEventKinds lists every kind the controller emits.
var AllEventKinds = []EventKind{
	EventSignal,
	EventDecision,
	EventPositionOpened,
	EventPositionClosed,
	EventRiskUpdate,
	EventEmergencyStop,
}

// Event is a fire-and-forget notification carrying an entity snapshot.
type Event struct {
	Kind    EventKind `json:"kind"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// Decision is the payload of a decision event.
type Decision struct {
	OpportunityID string  `json:"opportunity_id"`
	Symbol        string  `json:"symbol"`
	Admitted      bool    `json:"admitted"`
	Reason        string  `json:"reason,omitempty"`
	SizeUSD       string  `json:"size_usd,omitempty"`
	Category      string  `json:"category,omitempty"`
	Rationale     string  `json:"rationale,omitempty"`
	Confidence    float64 `json:"confidence"`
}

// EventPublisher accepts controller events without blocking.
type EventPublisher interface {
	Emit(kind EventKind, payload any)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Emit(EventKind, any) {}
