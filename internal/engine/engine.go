// Package engine is the authoritative writer for matches. It owns the event
// log and the lifecycle state machine, serializes writes per match and
// publishes a notification after every persisted change.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/broadcast"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/store"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/telemetry"
)

// appendAttempts bounds retries of a lost sequence number race.
const appendAttempts = 5

// Publisher is the publishing half of a broadcast.Channel.
type Publisher interface {
	Publish(ctx context.Context, matchID string, n broadcast.Notification) error
}

// PresenceTracker is the subset of presence.Tracker the engine uses.
type PresenceTracker interface {
	Heartbeat(matchID, userID string, team match.Team) bool
	Leave(matchID, userID string)
	Present(matchID string) []match.PresenceRecord
}

type Options struct {
	Store     store.Store
	Publisher Publisher
	Presence  PresenceTracker
	Logger    *slog.Logger
	Clock     clockwork.Clock
}

type Service struct {
	store    store.Store
	pub      Publisher
	presence PresenceTracker
	logger   *slog.Logger
	clock    clockwork.Clock
	locks    *arena
}

func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Service{
		store:    opts.Store,
		pub:      opts.Publisher,
		presence: opts.Presence,
		logger:   opts.Logger,
		clock:    opts.Clock,
		locks:    newArena(),
	}
}

// LiveView is the aggregated state of a match with its leaderboard.
type LiveView struct {
	Match       match.Match            `json:"match"`
	Live        match.LiveMatchData    `json:"live"`
	MVP         *match.Candidate       `json:"mvp"`
	Leaderboard []match.Candidate      `json:"leaderboard"`
	Present     []match.PresenceRecord `json:"present"`
}

// Match returns the match record with its derived score.
func (s *Service) Match(ctx context.Context, matchID string) (match.Match, error) {
	return s.store.GetMatch(ctx, matchID)
}

// SubmitPlay validates a play, appends it to the log and broadcasts it.
//
// The requester must be a participant. Hosts may act for any participant
// and are the only ones allowed to submit score_adjust.
func (s *Service) SubmitPlay(ctx context.Context, matchID, requesterID string, play match.Play) (match.Event, error) {
	if err := play.Validate(); err != nil {
		return match.Event{}, err
	}

	unlock := s.locks.lock(matchID)
	defer unlock()

	m, err := s.loadLocked(ctx, matchID)
	if err != nil {
		return match.Event{}, err
	}
	if !m.AcceptsPlays() {
		return match.Event{}, fmt.Errorf("%w: match is %s", match.ErrInvalidState, m.Status)
	}

	ev, err := s.buildEvent(m, requesterID, play)
	if err != nil {
		return match.Event{}, err
	}

	saved, err := s.appendWithRetry(ctx, ev)
	if err != nil {
		return match.Event{}, err
	}
	telemetry.EventsAppended.WithLabelValues(string(saved.Type)).Inc()
	s.logger.Info("play recorded",
		"match_id", matchID,
		"seq", saved.Seq,
		"type", saved.Type,
		"team", saved.Team,
		"player_id", saved.PlayerID,
		"points", saved.Data.Points,
	)

	s.publishScored(ctx, broadcast.KindEvent, saved)
	return saved, nil
}

func (s *Service) buildEvent(m match.Match, requesterID string, play match.Play) (match.Event, error) {
	isHost := m.IsHost(requesterID)
	if _, ok := m.Participant(requesterID); !ok && !isHost {
		return match.Event{}, fmt.Errorf("%w: %s", match.ErrNotParticipant, requesterID)
	}

	ev := match.Event{
		MatchID:   m.ID,
		Type:      play.Type,
		CreatedAt: s.clock.Now(),
		Data: match.EventData{
			TargetPosition: play.TargetPosition,
			Note:           play.Note,
		},
	}

	if play.Type == match.EventScoreAdjust {
		if !isHost {
			return match.Event{}, fmt.Errorf("%w: only the host can adjust the score", match.ErrPermissionDenied)
		}
		ev.Team = play.Team
		ev.PlayerID = requesterID
		ev.Data.Points = *play.Points
		return ev, nil
	}

	actorID := play.PlayerID
	if actorID == "" {
		actorID = requesterID
	}
	if actorID != requesterID && !isHost {
		return match.Event{}, fmt.Errorf("%w: only the host can record plays for other players", match.ErrPermissionDenied)
	}
	actor, ok := m.Participant(actorID)
	if !ok {
		return match.Event{}, fmt.Errorf("%w: %s", match.ErrNotParticipant, actorID)
	}
	if play.Team != "" && play.Team != actor.Team {
		return match.Event{}, fmt.Errorf("%w: %s plays for %s", match.ErrValidation, actorID, actor.Team)
	}

	points := match.DefaultPoints(play.Type, m.Config)
	if play.Points != nil {
		points = *play.Points
	}
	ev.Team = actor.Team
	ev.PlayerID = actorID
	ev.Data.Points = points
	ev.Data.Position = actor.Position
	return ev, nil
}

func (s *Service) appendWithRetry(ctx context.Context, ev match.Event) (match.Event, error) {
	var err error
	for attempt := 1; attempt <= appendAttempts; attempt++ {
		var saved match.Event
		saved, err = s.store.AppendEvent(ctx, ev)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, match.ErrConflict) {
			return match.Event{}, err
		}
		telemetry.AppendConflicts.Inc()
		s.logger.Debug("sequence race, retrying", "match_id", ev.MatchID, "attempt", attempt)
	}
	return match.Event{}, fmt.Errorf("appending event after %d attempts: %w", appendAttempts, err)
}

// UndoLastPlay removes the tail of the log. When expectedEventID is set and
// a newer event has been appended since, nothing is removed and false is
// returned.
func (s *Service) UndoLastPlay(ctx context.Context, matchID, requesterID, expectedEventID string) (bool, error) {
	unlock := s.locks.lock(matchID)
	defer unlock()

	m, err := s.loadLocked(ctx, matchID)
	if err != nil {
		return false, err
	}
	if !m.IsHost(requesterID) {
		return false, fmt.Errorf("%w: only the host can undo plays", match.ErrPermissionDenied)
	}
	if !m.AcceptsUndo() {
		return false, fmt.Errorf("%w: match is %s", match.ErrInvalidState, m.Status)
	}

	removed, err := s.store.DeleteLastEvent(ctx, matchID, expectedEventID)
	if errors.Is(err, match.ErrConflict) && expectedEventID != "" {
		s.logger.Info("undo refused, newer event exists", "match_id", matchID, "event_id", expectedEventID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	telemetry.EventsUndone.Inc()
	s.logger.Info("play undone", "match_id", matchID, "seq", removed.Seq, "type", removed.Type)

	s.publishScored(ctx, broadcast.KindRetract, removed)
	return true, nil
}

// TransitionStatus moves the match through its lifecycle. Only the host may
// do so.
func (s *Service) TransitionStatus(ctx context.Context, matchID string, to match.Status, requesterID string) (match.Match, error) {
	unlock := s.locks.lock(matchID)
	defer unlock()

	m, err := s.loadLocked(ctx, matchID)
	if err != nil {
		return match.Match{}, err
	}
	if !m.IsHost(requesterID) {
		return match.Match{}, fmt.Errorf("%w: only the host can change the match status", match.ErrPermissionDenied)
	}
	next, err := m.Transition(to, s.clock.Now())
	if err != nil {
		return match.Match{}, err
	}
	if err := s.store.UpdateMatchStatus(ctx, next, m.Status); err != nil {
		return match.Match{}, err
	}
	if to == match.StatusCompleted {
		s.locks.release(matchID)
	}

	telemetry.StatusTransitions.WithLabelValues(string(to)).Inc()
	s.logger.Info("match status changed", "match_id", matchID, "from", m.Status, "to", to, "by", requesterID)

	s.publish(ctx, matchID, broadcast.Notification{
		Kind:  broadcast.KindStatus,
		Match: &next,
		Score: next.CurrentScore,
	})
	return next, nil
}

// loadLocked reads a match while its slot is held. Slots of matches that
// are gone or completed are released, since nothing will write to them.
func (s *Service) loadLocked(ctx context.Context, matchID string) (match.Match, error) {
	m, err := s.store.GetMatch(ctx, matchID)
	if errors.Is(err, match.ErrNotFound) || (err == nil && m.Status == match.StatusCompleted) {
		s.locks.release(matchID)
	}
	return m, err
}

func (s *Service) StartMatch(ctx context.Context, matchID, requesterID string) (match.Match, error) {
	return s.TransitionStatus(ctx, matchID, match.StatusActive, requesterID)
}

func (s *Service) PauseMatch(ctx context.Context, matchID, requesterID string) (match.Match, error) {
	return s.TransitionStatus(ctx, matchID, match.StatusPaused, requesterID)
}

func (s *Service) ResumeMatch(ctx context.Context, matchID, requesterID string) (match.Match, error) {
	return s.TransitionStatus(ctx, matchID, match.StatusActive, requesterID)
}

func (s *Service) EndMatch(ctx context.Context, matchID, requesterID string) (match.Match, error) {
	return s.TransitionStatus(ctx, matchID, match.StatusCompleted, requesterID)
}

// Snapshot reads the match, the log suffix after since and the present set
// under the match lock, so the three agree with each other. A completed
// match no longer changes and is read without taking a slot.
func (s *Service) Snapshot(ctx context.Context, matchID string, since uint64) (match.Snapshot, error) {
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return match.Snapshot{}, err
	}
	if m.Status != match.StatusCompleted {
		unlock := s.locks.lock(matchID)
		defer unlock()
		if m, err = s.loadLocked(ctx, matchID); err != nil {
			return match.Snapshot{}, err
		}
	}
	events, err := s.store.ListEvents(ctx, matchID, since)
	if err != nil {
		return match.Snapshot{}, err
	}
	return match.Snapshot{Match: m, Events: events, Present: s.present(matchID)}, nil
}

// Live aggregates the full log.
func (s *Service) Live(ctx context.Context, matchID string) (LiveView, error) {
	snap, err := s.Snapshot(ctx, matchID, 0)
	if err != nil {
		return LiveView{}, err
	}
	live := match.Aggregate(snap.Match, snap.Events)
	return LiveView{
		Match:       snap.Match,
		Live:        live,
		MVP:         match.MVP(live),
		Leaderboard: match.Leaderboard(live),
		Present:     snap.Present,
	}, nil
}

// Heartbeat renews userID's presence on a match. Participants are tagged
// with their team; anyone else counts as a viewer.
func (s *Service) Heartbeat(ctx context.Context, matchID, userID string) ([]match.PresenceRecord, error) {
	if s.presence == nil {
		return nil, fmt.Errorf("%w: presence is not enabled", match.ErrConnectivity)
	}
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	var team match.Team
	if p, ok := m.Participant(userID); ok {
		team = p.Team
	}
	s.presence.Heartbeat(matchID, userID, team)
	return s.presence.Present(matchID), nil
}

// Leave ends userID's presence on a match.
func (s *Service) Leave(matchID, userID string) {
	if s.presence != nil {
		s.presence.Leave(matchID, userID)
	}
}

// Present returns the present set of a match.
func (s *Service) Present(ctx context.Context, matchID string) ([]match.PresenceRecord, error) {
	if _, err := s.store.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	return s.present(matchID), nil
}

func (s *Service) present(matchID string) []match.PresenceRecord {
	if s.presence == nil {
		return []match.PresenceRecord{}
	}
	return s.presence.Present(matchID)
}

// publishScored broadcasts an event or retraction with the score as it
// stands after the change.
func (s *Service) publishScored(ctx context.Context, kind broadcast.Kind, ev match.Event) {
	n := broadcast.Notification{Kind: kind, Event: &ev}
	m, err := s.store.GetMatch(ctx, ev.MatchID)
	if err != nil {
		s.logger.Warn("reading score for broadcast", "match_id", ev.MatchID, "error", err)
	} else {
		n.Score = m.CurrentScore
	}
	s.publish(ctx, ev.MatchID, n)
}

// publish never fails the caller: the change is already persisted and
// subscribers recover missed notifications by resyncing.
func (s *Service) publish(ctx context.Context, matchID string, n broadcast.Notification) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, matchID, n); err != nil {
		s.logger.Warn("publishing notification", "match_id", matchID, "kind", n.Kind, "error", err)
	}
}
