// Package match defines the core domain types for a live dice match: the
// match record, its roster, the append-only event log and the projections
// derived from it.
// It has no external dependencies.
package match

import (
	"slices"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

type Team string

const (
	Team1 Team = "team1"
	Team2 Team = "team2"
)

// Teams lists both sides in a fixed order.
var Teams = []Team{Team1, Team2}

func (t Team) Valid() bool { return t == Team1 || t == Team2 }

// Other returns the opposing team.
func (t Team) Other() Team {
	if t == Team1 {
		return Team2
	}
	return Team1
}

type Role string

const (
	RoleParticipant Role = "participant"
	RoleHost        Role = "host"
)

// MaxPositions is the number of seats at the table.
const MaxPositions = 4

// TeamForPosition reports which team sits at a table position. Positions 1
// and 2 play for team1, 3 and 4 for team2.
func TeamForPosition(pos int) (Team, bool) {
	switch pos {
	case 1, 2:
		return Team1, true
	case 3, 4:
		return Team2, true
	}
	return "", false
}

type Config struct {
	ScoreLimit int  `json:"scoreLimit"`
	WinByTwo   bool `json:"winByTwo"`
	SinkPoints int  `json:"sinkPoints"`
}

// DefaultConfig is the house ruleset: first to 11, win by two, sinks worth 3.
func DefaultConfig() Config {
	return Config{ScoreLimit: 11, WinByTwo: true, SinkPoints: 3}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ScoreLimit <= 0 {
		c.ScoreLimit = d.ScoreLimit
	}
	if c.SinkPoints <= 0 {
		c.SinkPoints = d.SinkPoints
	}
	return c
}

type Player struct {
	UserID      string `json:"userId"`
	Team        Team   `json:"team"`
	Position    int    `json:"position"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	Guest       bool   `json:"guest,omitempty"`
}

// Score maps each team to its points. Both teams are always present.
type Score map[Team]int

func NewScore() Score {
	return Score{Team1: 0, Team2: 0}
}

func (s Score) Clone() Score {
	out := NewScore()
	for t, v := range s {
		out[t] = v
	}
	return out
}

type Match struct {
	ID           string     `json:"id"`
	Title        string     `json:"title,omitempty"`
	Status       Status     `json:"status"`
	CreatorID    string     `json:"creatorId"`
	Config       Config     `json:"config"`
	Participants []Player   `json:"participants"`
	CurrentScore Score      `json:"currentScore"`
	LastSeq      uint64     `json:"lastSeq"`
	// Version grows with every status or roster change.
	Version      uint64     `json:"version"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
}

// Participant returns the roster entry for userID.
func (m Match) Participant(userID string) (Player, bool) {
	for _, p := range m.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Player{}, false
}

// AtPosition returns the player seated at pos.
func (m Match) AtPosition(pos int) (Player, bool) {
	for _, p := range m.Participants {
		if p.Position == pos {
			return p, true
		}
	}
	return Player{}, false
}

// IsHost reports whether userID may perform privileged operations.
func (m Match) IsHost(userID string) bool {
	if userID == "" {
		return false
	}
	if userID == m.CreatorID {
		return true
	}
	p, ok := m.Participant(userID)
	return ok && p.Role == RoleHost
}

// Clone returns a deep copy safe to hand to another goroutine.
func (m Match) Clone() Match {
	out := m
	out.Participants = slices.Clone(m.Participants)
	if m.CurrentScore != nil {
		out.CurrentScore = m.CurrentScore.Clone()
	}
	if m.StartedAt != nil {
		t := *m.StartedAt
		out.StartedAt = &t
	}
	if m.EndedAt != nil {
		t := *m.EndedAt
		out.EndedAt = &t
	}
	return out
}

// PresenceRecord is a connected participant or viewer of a match.
type PresenceRecord struct {
	UserID        string    `json:"userId"`
	Team          Team      `json:"team,omitempty"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// Snapshot is a consistent read of a match used to (re)build client state.
// Events holds the log suffix requested by the caller, in sequence order.
type Snapshot struct {
	Match   Match            `json:"match"`
	Events  []Event          `json:"events"`
	Present []PresenceRecord `json:"present"`
}
