package match

import (
	"fmt"
	"time"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusActive},
	StatusActive:  {StatusPaused, StatusCompleted},
	StatusPaused:  {StatusActive, StatusCompleted},
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. Completed is terminal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition returns a copy of m moved to the given status, stamping
// StartedAt on first activation and EndedAt on completion.
func (m Match) Transition(to Status, now time.Time) (Match, error) {
	if !to.Valid() {
		return m, fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}
	if !CanTransition(m.Status, to) {
		return m, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, to)
	}
	out := m.Clone()
	out.Status = to
	out.Version = m.Version + 1
	now = now.UTC()
	if to == StatusActive && out.StartedAt == nil {
		out.StartedAt = &now
	}
	if to == StatusCompleted {
		out.EndedAt = &now
	}
	return out, nil
}

// AcceptsPlays reports whether events may be appended.
func (m Match) AcceptsPlays() bool {
	return m.Status == StatusActive
}

// AcceptsUndo reports whether the tail event may be removed.
func (m Match) AcceptsUndo() bool {
	return m.Status == StatusActive || m.Status == StatusPaused
}

// RosterOpen reports whether players may join, move or be kicked.
func (m Match) RosterOpen() bool {
	return m.Status == StatusPending
}
