// Package broadcast publishes debate lifecycle events to external
// consumers.
package broadcast

import (
	"context"
	"time"
)

// Event is a single debate lifecycle notification.
type Event struct {
	Type      string    `json:"type"` // debate_started, turn_started, turn_finished, debate_ended, debate_error
	DebateID  string    `json:"debate_id"`
	Speaker   string    `json:"speaker,omitempty"`
	TurnIndex int       `json:"turn_index,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Event types.
const (
	EventDebateStarted = "debate_started"
	EventTurnStarted   = "turn_started"
	EventTurnFinished  = "turn_finished"
	EventDebateEnded   = "debate_ended"
	EventDebateError   = "debate_error"
)

// Publisher delivers events to an external sink. Publish failures are
// logged by implementations and never fail the debate.
type Publisher interface {
	Publish(ctx context.Context, event Event)
	Close()
}

// Noop discards all events. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) {}
func (Noop) Close()                         {}
