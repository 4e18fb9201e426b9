package match

import (
	"maps"
	"slices"
)

// PlayerStats are the live counters for one table position.
type PlayerStats struct {
	Throws     int `json:"throws"`
	Hits       int `json:"hits"`
	Catches    int `json:"catches"`
	Drops      int `json:"drops"`
	Sinks      int `json:"sinks"`
	Goals      int `json:"goals"`
	Misses     int `json:"misses"`
	Points     int `json:"points"`
	Streak     int `json:"streak"`
	BestStreak int `json:"bestStreak"`
}

// Landed counts throws that scored.
func (s PlayerStats) Landed() int { return s.Hits + s.Sinks + s.Goals }

func (s PlayerStats) CatchAttempts() int { return s.Catches + s.Drops }

func (s PlayerStats) HitRate() float64 {
	if s.Throws == 0 {
		return 0
	}
	return float64(s.Landed()) / float64(s.Throws)
}

func (s PlayerStats) CatchRate() float64 {
	if s.CatchAttempts() == 0 {
		return 0
	}
	return float64(s.Catches) / float64(s.CatchAttempts())
}

func (s PlayerStats) active() bool {
	return s.Throws > 0 || s.CatchAttempts() > 0 || s.Points != 0
}

// LiveMatchData is the projection of a match's event log. It is never edited
// by hand: build it with Aggregate and advance it with Apply.
type LiveMatchData struct {
	Score     Score               `json:"score"`
	Stats     map[int]PlayerStats `json:"stats"`
	Positions map[int]string      `json:"positions"`
	LastSeq   uint64              `json:"lastSeq"`
	Winner    Team                `json:"winner,omitempty"`

	cfg Config
}

// NewLiveMatchData returns the projection of a match with an empty log.
func NewLiveMatchData(m Match) LiveMatchData {
	l := LiveMatchData{
		Score:     NewScore(),
		Stats:     make(map[int]PlayerStats, len(m.Participants)),
		Positions: make(map[int]string, len(m.Participants)),
		cfg:       m.Config.WithDefaults(),
	}
	for _, p := range m.Participants {
		l.Positions[p.Position] = p.UserID
		l.Stats[p.Position] = PlayerStats{}
	}
	return l
}

// Aggregate folds events, in sequence order, into the live projection of m.
// The input slice is not modified.
func Aggregate(m Match, events []Event) LiveMatchData {
	l := NewLiveMatchData(m)
	ordered := slices.Clone(events)
	slices.SortStableFunc(ordered, func(a, b Event) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	for _, ev := range ordered {
		l.Apply(ev)
	}
	return l
}

// Apply advances the projection by one event. Only the acting position's
// counters change.
func (l *LiveMatchData) Apply(ev Event) {
	if l.Score == nil {
		l.Score = NewScore()
	}
	if l.Stats == nil {
		l.Stats = make(map[int]PlayerStats)
	}
	if ev.Team.Valid() {
		l.Score[ev.Team] += ev.Data.Points
	}
	if ev.Seq > l.LastSeq {
		l.LastSeq = ev.Seq
	}

	pos := ev.Data.Position
	if pos >= 1 && pos <= MaxPositions && ev.Type != EventScoreAdjust {
		s := l.Stats[pos]
		if ev.Type.countsThrow() {
			s.Throws++
		}
		switch ev.Type {
		case EventHit:
			s.Hits++
		case EventCatch:
			s.Catches++
		case EventDrop:
			s.Drops++
		case EventSink:
			s.Sinks++
		case EventGoal:
			s.Goals++
		case EventMiss:
			s.Misses++
		}
		s.Points += ev.Data.Points
		switch {
		case ev.Type.success():
			s.Streak++
			s.BestStreak = max(s.BestStreak, s.Streak)
		case ev.Type.failure():
			s.Streak = 0
		}
		l.Stats[pos] = s
		if _, ok := l.Positions[pos]; !ok && ev.PlayerID != "" {
			if l.Positions == nil {
				l.Positions = make(map[int]string)
			}
			l.Positions[pos] = ev.PlayerID
		}
	}

	l.Winner = Winner(l.Score, l.cfg)
}

// Winner returns the team that has closed out the match under cfg, or "".
func Winner(score Score, cfg Config) Team {
	cfg = cfg.WithDefaults()
	for _, t := range Teams {
		own, opp := score[t], score[t.Other()]
		if own < cfg.ScoreLimit || own <= opp {
			continue
		}
		if cfg.WinByTwo && own-opp < 2 {
			continue
		}
		return t
	}
	return ""
}

// Clone returns a deep copy.
func (l LiveMatchData) Clone() LiveMatchData {
	out := l
	if l.Score != nil {
		out.Score = l.Score.Clone()
	}
	out.Stats = maps.Clone(l.Stats)
	out.Positions = maps.Clone(l.Positions)
	return out
}
