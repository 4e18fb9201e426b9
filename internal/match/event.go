package match

import (
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	EventThrow       EventType = "throw"
	EventHit         EventType = "hit"
	EventCatch       EventType = "catch"
	EventDrop        EventType = "drop"
	EventSink        EventType = "sink"
	EventGoal        EventType = "goal"
	EventMiss        EventType = "miss"
	EventScoreAdjust EventType = "score_adjust"
)

func (t EventType) Valid() bool {
	switch t {
	case EventThrow, EventHit, EventCatch, EventDrop, EventSink, EventGoal, EventMiss, EventScoreAdjust:
		return true
	}
	return false
}

// countsThrow reports whether the event is the outcome of a throw.
func (t EventType) countsThrow() bool {
	switch t {
	case EventThrow, EventHit, EventSink, EventGoal, EventMiss:
		return true
	}
	return false
}

func (t EventType) success() bool {
	switch t {
	case EventHit, EventCatch, EventSink, EventGoal:
		return true
	}
	return false
}

func (t EventType) failure() bool {
	return t == EventMiss || t == EventDrop
}

type EventData struct {
	Points         int    `json:"points"`
	Position       int    `json:"position,omitempty"`
	TargetPosition int    `json:"targetPosition,omitempty"`
	Note           string `json:"note,omitempty"`
}

// Event is one entry of a match's append-only log.
type Event struct {
	ID        string    `json:"id"`
	MatchID   string    `json:"matchId"`
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	Team      Team      `json:"team"`
	Data      EventData `json:"data"`
	PlayerID  string    `json:"playerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Play is what a client submits; the engine turns it into an Event.
type Play struct {
	Type           EventType `json:"type"`
	PlayerID       string    `json:"playerId,omitempty"`
	Team           Team      `json:"team,omitempty"`
	Points         *int      `json:"points,omitempty"`
	TargetPosition int       `json:"targetPosition,omitempty"`
	Note           string    `json:"note,omitempty"`
}

// DefaultPoints is what an event type scores when the play omits points.
func DefaultPoints(t EventType, cfg Config) int {
	switch t {
	case EventHit:
		return 1
	case EventGoal:
		return 2
	case EventSink:
		return cfg.WithDefaults().SinkPoints
	}
	return 0
}

// Validate checks the play shape without looking at the roster.
func (p *Play) Validate() error {
	p.Type = EventType(strings.ToLower(strings.TrimSpace(string(p.Type))))
	p.PlayerID = strings.TrimSpace(p.PlayerID)
	p.Note = strings.TrimSpace(p.Note)
	if !p.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, p.Type)
	}
	if p.TargetPosition < 0 || p.TargetPosition > MaxPositions {
		return fmt.Errorf("%w: targetPosition must be between 1 and %d", ErrValidation, MaxPositions)
	}
	if len(p.Note) > 280 {
		return fmt.Errorf("%w: note is too long", ErrValidation)
	}
	if p.Type == EventScoreAdjust {
		if !p.Team.Valid() {
			return fmt.Errorf("%w: score_adjust requires a team", ErrValidation)
		}
		if p.Points == nil || *p.Points == 0 {
			return fmt.Errorf("%w: score_adjust requires non-zero points", ErrValidation)
		}
		return nil
	}
	if p.Points != nil && *p.Points < 0 {
		return fmt.Errorf("%w: points must not be negative", ErrValidation)
	}
	return nil
}
