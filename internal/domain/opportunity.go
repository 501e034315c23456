package domain

import (
	"fmt"
	"strings"
	"time"
)

// Action is the direction recommended by the oracle.
type Action string

const (
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
	ActionHold  Action = "HOLD"
)

// Opportunity is a scored, ephemeral trade candidate. It is consumed once per
// admission attempt and never persisted.
type Opportunity struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Timeframe     string    `json:"timeframe,omitempty"`
	Source        string    `json:"source"`
	Confidence    float64   `json:"confidence"`
	Consciousness float64   `json:"consciousness"`
	Alignment     float64   `json:"alignment"`
	Action        Action    `json:"action"`
	Score         float64   `json:"score"`
	Price         float64   `json:"price,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// QueueKey is the dedup key used by the opportunity queue: SYMBOL[:timeframe].
func (o Opportunity) QueueKey() string {
	sym := strings.ToUpper(o.Symbol)
	if o.Timeframe == "" {
		return sym
	}
	return sym + ":" + o.Timeframe
}

// Better reports whether o should replace other in the queue. Score wins,
// then confidence, then recency.
func (o Opportunity) Better(other Opportunity) bool {
	if o.Score != other.Score {
		return o.Score > other.Score
	}
	if o.Confidence != other.Confidence {
		return o.Confidence > other.Confidence
	}
	return o.Timestamp.After(other.Timestamp)
}

// Validate checks an externally supplied opportunity.
func (o Opportunity) Validate() error {
	if strings.TrimSpace(o.Symbol) == "" {
		return fmt.Errorf("opportunity: symbol is required: %w", ErrInvalidOrder)
	}
	switch o.Action {
	case ActionLong, ActionShort, ActionHold:
	default:
		return fmt.Errorf("opportunity: unknown action %q: %w", o.Action, ErrInvalidOrder)
	}
	for name, v := range map[string]float64{
		"confidence":    o.Confidence,
		"consciousness": o.Consciousness,
		"alignment":     o.Alignment,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("opportunity: %s %.4f outside [0, 1]: %w", name, v, ErrInvalidOrder)
		}
	}
	return nil
}

// Score is the oracle's current view of a symbol.
type Score struct {
	Symbol        string
	Confidence    float64
	Consciousness float64
	Alignment     float64
	Action        Action
	Price         float64
	At            time.Time
}

// QueueStats summarises the opportunity queue.
type QueueStats struct {
	Size      int       `json:"size"`
	Published int64     `json:"published"`
	Replaced  int64     `json:"replaced"`
	Popped    int64     `json:"popped"`
	Discarded int64     `json:"discarded"`
	Oldest    time.Time `json:"oldest,omitempty"`
}
