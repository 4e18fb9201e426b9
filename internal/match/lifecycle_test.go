package match

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusPaused, false},
		{StatusPending, StatusCompleted, false},
		{StatusActive, StatusPaused, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusPending, false},
		{StatusPaused, StatusActive, true},
		{StatusPaused, StatusCompleted, true},
		{StatusCompleted, StatusActive, false},
		{StatusCompleted, StatusPaused, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransitionStamps(t *testing.T) {
	start := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	m := testMatch()
	m.Status = StatusPending

	active, err := m.Transition(StatusActive, start)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if active.StartedAt == nil || !active.StartedAt.Equal(start) {
		t.Fatalf("startedAt = %v, want %v", active.StartedAt, start)
	}
	if m.Status != StatusPending {
		t.Fatal("Transition must not mutate the receiver")
	}

	paused, _ := active.Transition(StatusPaused, start.Add(time.Minute))
	resumed, _ := paused.Transition(StatusActive, start.Add(2*time.Minute))
	if !resumed.StartedAt.Equal(start) {
		t.Errorf("resume restamped startedAt: %v", resumed.StartedAt)
	}

	done, err := resumed.Transition(StatusCompleted, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if done.EndedAt == nil || !done.EndedAt.Equal(start.Add(time.Hour)) {
		t.Fatalf("endedAt = %v", done.EndedAt)
	}
	if done.Version != m.Version+4 {
		t.Errorf("version = %d after four transitions from %d", done.Version, m.Version)
	}

	if _, err := done.Transition(StatusActive, start); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed -> active err = %v, want ErrInvalidTransition", err)
	}
}

func TestCode(t *testing.T) {
	if got := Code(errors.Join(errors.New("ctx"), ErrInvalidState)); got != "INVALID_STATE" {
		t.Errorf("code = %q", got)
	}
	if got := Code(errors.New("boom")); got != "INTERNAL" {
		t.Errorf("code = %q", got)
	}
	if !errors.Is(ErrorForCode("NOT_FOUND"), ErrNotFound) {
		t.Error("ErrorForCode(NOT_FOUND) should map back to ErrNotFound")
	}
}

func TestPlayValidate(t *testing.T) {
	neg, zero, three := -1, 0, 3
	tests := []struct {
		name string
		play Play
		ok   bool
	}{
		{"hit", Play{Type: "HIT"}, true},
		{"unknown", Play{Type: "bounce"}, false},
		{"negative", Play{Type: EventSink, Points: &neg}, false},
		{"adjust needs team", Play{Type: EventScoreAdjust, Points: &three}, false},
		{"adjust zero", Play{Type: EventScoreAdjust, Team: Team1, Points: &zero}, false},
		{"adjust negative ok", Play{Type: EventScoreAdjust, Team: Team2, Points: &neg}, true},
		{"bad target", Play{Type: EventCatch, TargetPosition: 5}, false},
		{"long note", Play{Type: EventHit, Note: strings.Repeat("x", 281)}, false},
		{"adjust long note", Play{Type: EventScoreAdjust, Team: Team1, Points: &three, Note: strings.Repeat("x", 281)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.play.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
}
