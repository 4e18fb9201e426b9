package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/broadcast"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/presence"
)

// NewMatch describes a match to create. The creator is seated at Position
// (1 when zero) with the host role.
type NewMatch struct {
	Title       string         `json:"title"`
	Config      *match.Config  `json:"config,omitempty"`
	DisplayName string         `json:"displayName"`
	Position    int            `json:"position,omitempty"`
	Players     []match.Player `json:"players,omitempty"`
}

// CreateMatch persists a pending match owned by creatorID.
func (s *Service) CreateMatch(ctx context.Context, creatorID string, req NewMatch) (match.Match, error) {
	if creatorID == "" {
		return match.Match{}, fmt.Errorf("%w: creator is required", match.ErrValidation)
	}
	cfg := match.DefaultConfig()
	if req.Config != nil {
		cfg = req.Config.WithDefaults()
	}
	pos := req.Position
	if pos == 0 {
		pos = 1
	}

	roster := []match.Player{}
	creator, err := seat(match.Player{
		UserID:      creatorID,
		DisplayName: req.DisplayName,
		Role:        match.RoleHost,
	}, pos)
	if err != nil {
		return match.Match{}, err
	}
	roster = append(roster, creator)

	for _, p := range req.Players {
		p.UserID = strings.TrimSpace(p.UserID)
		if p.UserID == "" {
			return match.Match{}, fmt.Errorf("%w: player id is required", match.ErrValidation)
		}
		if p.Role == "" {
			p.Role = match.RoleParticipant
		}
		if p.Role != match.RoleParticipant && p.Role != match.RoleHost {
			return match.Match{}, fmt.Errorf("%w: unknown role %q", match.ErrValidation, p.Role)
		}
		seated, err := seat(p, p.Position)
		if err != nil {
			return match.Match{}, err
		}
		if err := checkSeat(roster, seated); err != nil {
			return match.Match{}, err
		}
		roster = append(roster, seated)
	}

	m, err := s.store.CreateMatch(ctx, match.Match{
		Title:        strings.TrimSpace(req.Title),
		Status:       match.StatusPending,
		CreatorID:    creatorID,
		Config:       cfg,
		Participants: roster,
		CreatedAt:    s.clock.Now(),
	})
	if err != nil {
		return match.Match{}, fmt.Errorf("creating match: %w", err)
	}
	s.logger.Info("match created", "match_id", m.ID, "creator_id", creatorID, "players", len(roster))
	return m, nil
}

// JoinMatch seats userID while the match is pending. A zero position takes
// the first free seat. Joining twice is a no-op.
func (s *Service) JoinMatch(ctx context.Context, matchID, userID, displayName string, position int, guest bool) (match.Match, error) {
	unlock := s.locks.lock(matchID)
	defer unlock()

	m, err := s.loadLocked(ctx, matchID)
	if err != nil {
		return match.Match{}, err
	}
	if _, ok := m.Participant(userID); ok {
		return m, nil
	}
	if !m.RosterOpen() {
		return match.Match{}, fmt.Errorf("%w: match is %s", match.ErrInvalidState, m.Status)
	}
	if position == 0 {
		position = freeSeat(m)
		if position == 0 {
			return match.Match{}, fmt.Errorf("%w: match is full", match.ErrConflict)
		}
	}

	p, err := seat(match.Player{UserID: userID, DisplayName: displayName, Role: match.RoleParticipant, Guest: guest}, position)
	if err != nil {
		return match.Match{}, err
	}
	if err := checkSeat(m.Participants, p); err != nil {
		return match.Match{}, err
	}

	roster := append(slices.Clone(m.Participants), p)
	return s.saveRoster(ctx, m, roster, "player joined", "user_id", userID, "position", position)
}

// ReassignPlayer moves a participant to another seat, swapping with whoever
// sits there. Host only, pending only.
func (s *Service) ReassignPlayer(ctx context.Context, matchID, requesterID, userID string, position int) (match.Match, error) {
	unlock := s.locks.lock(matchID)
	defer unlock()

	m, err := s.hostRoster(ctx, matchID, requesterID)
	if err != nil {
		return match.Match{}, err
	}
	if _, ok := match.TeamForPosition(position); !ok {
		return match.Match{}, fmt.Errorf("%w: position must be between 1 and %d", match.ErrValidation, match.MaxPositions)
	}
	current, ok := m.Participant(userID)
	if !ok {
		return match.Match{}, fmt.Errorf("%w: %s", match.ErrNotParticipant, userID)
	}

	// Team follows the seat, so it is cleared before reseating.
	roster := slices.Clone(m.Participants)
	for i, p := range roster {
		p.Team = ""
		switch {
		case p.UserID == userID:
			roster[i], _ = seat(p, position)
		case p.Position == position:
			roster[i], _ = seat(p, current.Position)
		}
	}
	return s.saveRoster(ctx, m, roster, "player moved", "user_id", userID, "from", current.Position, "to", position)
}

// KickPlayer removes a participant. The creator cannot be removed.
func (s *Service) KickPlayer(ctx context.Context, matchID, requesterID, userID string) (match.Match, error) {
	unlock := s.locks.lock(matchID)
	defer unlock()

	m, err := s.hostRoster(ctx, matchID, requesterID)
	if err != nil {
		return match.Match{}, err
	}
	if userID == m.CreatorID {
		return match.Match{}, fmt.Errorf("%w: the creator cannot be removed", match.ErrValidation)
	}
	if _, ok := m.Participant(userID); !ok {
		return match.Match{}, fmt.Errorf("%w: %s", match.ErrNotParticipant, userID)
	}

	roster := slices.DeleteFunc(slices.Clone(m.Participants), func(p match.Player) bool { return p.UserID == userID })
	return s.saveRoster(ctx, m, roster, "player removed", "user_id", userID, "by", requesterID)
}

func (s *Service) hostRoster(ctx context.Context, matchID, requesterID string) (match.Match, error) {
	m, err := s.loadLocked(ctx, matchID)
	if err != nil {
		return match.Match{}, err
	}
	if !m.IsHost(requesterID) {
		return match.Match{}, fmt.Errorf("%w: only the host can manage players", match.ErrPermissionDenied)
	}
	if !m.RosterOpen() {
		return match.Match{}, fmt.Errorf("%w: match is %s", match.ErrInvalidState, m.Status)
	}
	return m, nil
}

func (s *Service) saveRoster(ctx context.Context, m match.Match, roster []match.Player, msg string, attrs ...any) (match.Match, error) {
	if err := s.store.UpdateParticipants(ctx, m.ID, roster, m.Version+1); err != nil {
		return match.Match{}, err
	}
	m.Participants = roster
	m.Version++
	s.logger.Info(msg, append([]any{"match_id", m.ID}, attrs...)...)

	s.publish(ctx, m.ID, broadcast.Notification{Kind: broadcast.KindRoster, Match: &m})
	return m, nil
}

// seat places p at pos; the team always follows the position.
func seat(p match.Player, pos int) (match.Player, error) {
	team, ok := match.TeamForPosition(pos)
	if !ok {
		return match.Player{}, fmt.Errorf("%w: position must be between 1 and %d", match.ErrValidation, match.MaxPositions)
	}
	if p.Team != "" && p.Team != team {
		return match.Player{}, fmt.Errorf("%w: position %d belongs to %s", match.ErrValidation, pos, team)
	}
	p.Position = pos
	p.Team = team
	if p.DisplayName == "" {
		p.DisplayName = p.UserID
	}
	return p, nil
}

func checkSeat(roster []match.Player, p match.Player) error {
	for _, q := range roster {
		if q.UserID == p.UserID {
			return fmt.Errorf("%w: %s is already seated", match.ErrValidation, p.UserID)
		}
		if q.Position == p.Position {
			return fmt.Errorf("%w: position %d is taken", match.ErrConflict, p.Position)
		}
	}
	return nil
}

func freeSeat(m match.Match) int {
	for pos := 1; pos <= match.MaxPositions; pos++ {
		if _, taken := m.AtPosition(pos); !taken {
			return pos
		}
	}
	return 0
}

// PresencePublisher returns a presence.Tracker change callback that
// broadcasts the new present set on the match topic.
func PresencePublisher(ctx context.Context, pub Publisher, logger *slog.Logger) func(presence.Change) {
	return func(c presence.Change) {
		err := pub.Publish(ctx, c.MatchID, broadcast.Notification{
			Kind:    broadcast.KindPresence,
			UserID:  c.UserID,
			Joined:  c.Joined,
			Present: c.Present,
		})
		if err != nil {
			logger.Warn("publishing presence", "match_id", c.MatchID, "user_id", c.UserID, "error", err)
		}
	}
}
