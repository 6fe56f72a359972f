// Package history exports server lifecycle and player events to external
// analytics systems. Sinks only append; nothing is ever read back.
package history

import (
	"context"
	"time"

	"github.com/loykin/gamewatch/internal/logtext"
	"github.com/loykin/gamewatch/internal/session"
	"github.com/loykin/gamewatch/internal/status"
)

// EventType defines the kind of exported event.
type EventType string

const (
	EventLifecycle   EventType = "lifecycle"
	EventPlayerJoin  EventType = "player_join"
	EventPlayerLeave EventType = "player_leave"
)

// Table is the relational table and default ClickHouse table name.
const Table = "gamewatch_history"

// Event is one exported observation. Lifecycle fields are set for lifecycle
// events, player fields for join and leave events.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Program    string    `json:"program"`

	Lifecycle string `json:"lifecycle,omitempty"`
	Previous  string `json:"previous,omitempty"`
	Substate  string `json:"substate,omitempty"`
	PID       int    `json:"pid,omitempty"`

	PlayerID   string `json:"player_id,omitempty"`
	PlayerName string `json:"player_name,omitempty"`
	World      string `json:"world,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// LifecycleEvent describes a change from prev to next.
func LifecycleEvent(program string, prev, next status.ProcessStatus, at time.Time) Event {
	pid, _ := next.PID()
	return Event{
		Type:       EventLifecycle,
		OccurredAt: at.UTC(),
		Program:    program,
		Lifecycle:  string(next.Lifecycle),
		Previous:   string(prev.Lifecycle),
		Substate:   next.Substate,
		PID:        pid,
	}
}

// PlayerEvent describes a player coming online or going offline. The event
// time is the log timestamp when one exists, otherwise at.
func PlayerEvent(program string, tr session.Transition, at time.Time) Event {
	e := Event{
		Type:       EventPlayerJoin,
		OccurredAt: at.UTC(),
		Program:    program,
		PlayerID:   tr.Session.Identifier,
		PlayerName: tr.Session.DisplayName,
	}
	ts := tr.Session.LastLogin
	if tr.Kind == session.Left {
		e.Type = EventPlayerLeave
		ts = tr.Session.LastLogout
	}
	if ts != nil {
		if t, ok := logtext.ParseTimestamp(*ts); ok {
			e.OccurredAt = t
		}
	}
	if tr.Session.World != nil {
		e.World = *tr.Session.World
	}
	return e
}

// Close closes s when it holds resources.
func Close(s Sink) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
