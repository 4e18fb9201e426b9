package match

import (
	"cmp"
	"slices"
)

// Rating weights, in basis points per unit ratio or point.
const (
	hitRateWeight   = 4000
	catchRateWeight = 3000
	pointWeight     = 100
)

// Candidate is one row of the leaderboard.
type Candidate struct {
	Position int         `json:"position"`
	UserID   string      `json:"userId"`
	Team     Team        `json:"team"`
	Rating   int         `json:"rating"`
	Stats    PlayerStats `json:"stats"`
}

// Rating scores a position's stats:
//
//	4000*landed/throws + 3000*catches/(catches+drops) + 100*points
//
// using integer division so every client computes the same value.
func Rating(s PlayerStats) int {
	r := s.Points * pointWeight
	if s.Throws > 0 {
		r += hitRateWeight * s.Landed() / s.Throws
	}
	if n := s.CatchAttempts(); n > 0 {
		r += catchRateWeight * s.Catches / n
	}
	return r
}

// Leaderboard ranks every position that has recorded an action. Ties break
// on points, then on the lower position number.
func Leaderboard(l LiveMatchData) []Candidate {
	out := make([]Candidate, 0, len(l.Stats))
	for pos, s := range l.Stats {
		if !s.active() {
			continue
		}
		team, _ := TeamForPosition(pos)
		out = append(out, Candidate{
			Position: pos,
			UserID:   l.Positions[pos],
			Team:     team,
			Rating:   Rating(s),
			Stats:    s,
		})
	}
	slices.SortFunc(out, func(a, b Candidate) int {
		if c := cmp.Compare(b.Rating, a.Rating); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Stats.Points, a.Stats.Points); c != 0 {
			return c
		}
		return cmp.Compare(a.Position, b.Position)
	})
	return out
}

// MVP returns the top of the leaderboard, or nil before anyone has played.
func MVP(l LiveMatchData) *Candidate {
	board := Leaderboard(l)
	if len(board) == 0 {
		return nil
	}
	return &board[0]
}
