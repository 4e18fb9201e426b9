// Package livesync keeps a client-side replica of a live match. A Session
// rebuilds its state from a snapshot whenever it (re)connects, then applies
// broadcast notifications idempotently, resyncing on any gap.
package livesync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/broadcast"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
)

const (
	DefaultHeartbeat  = 15 * time.Second
	DefaultBackoffMin = 500 * time.Millisecond
	DefaultBackoffMax = 30 * time.Second

	inboxSize = 256
)

// Source fetches snapshots. since selects the log suffix to return.
type Source interface {
	Snapshot(ctx context.Context, matchID string, since uint64) (match.Snapshot, error)
}

// Transport opens the live link for a match. The handler must be called
// without blocking; the session buffers internally.
type Transport interface {
	Connect(ctx context.Context, matchID string, h broadcast.Handler) (Link, error)
}

// Link is one live connection. Done is closed when the link drops.
type Link interface {
	Heartbeat(ctx context.Context) error
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Commander performs mutations on behalf of the session's user.
type Commander interface {
	SubmitPlay(ctx context.Context, matchID string, play match.Play) (match.Event, error)
	TransitionStatus(ctx context.Context, matchID string, to match.Status) (match.Match, error)
}

// Callbacks are invoked from the session goroutine, in order. They must not
// block for long.
type Callbacks struct {
	OnSync       func(match.LiveMatchData)
	OnEvent      func(match.Event, match.LiveMatchData)
	OnRetract    func(match.Event, match.LiveMatchData)
	OnStatus     func(match.Match)
	OnPresence   func([]match.PresenceRecord)
	OnConnection func(connected bool, err error)
}

type Options struct {
	MatchID   string
	Source    Source
	Transport Transport
	Commander Commander
	Callbacks Callbacks

	HeartbeatInterval time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration

	Logger *slog.Logger
	Clock  clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeat
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = DefaultBackoffMin
	}
	if o.BackoffMax < o.BackoffMin {
		o.BackoffMax = max(DefaultBackoffMax, o.BackoffMin)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

type Session struct {
	opts   Options
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	inbox    chan broadcast.Notification
	resyncCh chan struct{}
	// retry is only touched by the run goroutine.
	retry    *backoff.ExponentialBackOff

	mu        sync.RWMutex
	m         match.Match
	events    []match.Event
	live      match.LiveMatchData
	present   []match.PresenceRecord
	synced    bool
	connected bool
	connErr   error
	lastErr   error
}

// Subscribe starts following a match. The session runs until ctx is done or
// Unsubscribe is called.
func Subscribe(ctx context.Context, opts Options) *Session {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		opts:     opts,
		logger:   opts.Logger.With("match_id", opts.MatchID),
		cancel:   cancel,
		done:     make(chan struct{}),
		inbox:    make(chan broadcast.Notification, inboxSize),
		resyncCh: make(chan struct{}, 1),
		retry:    newRetry(opts.BackoffMin, opts.BackoffMax, opts.Clock),
		present:  []match.PresenceRecord{},
	}
	go s.run(ctx)
	return s
}

// Unsubscribe stops heartbeats, closes the link and cancels any pending
// reconnect. It does not wait; use Done for that.
func (s *Session) Unsubscribe() {
	s.cancel()
}

// Done is closed when the session has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) MatchID() string { return s.opts.MatchID }

// Synced reports whether at least one snapshot has been applied.
func (s *Session) Synced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// ConnectionError is the reason the session is disconnected, nil while
// connected.
func (s *Session) ConnectionError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connErr
}

// LastError is the error of the most recent failed command or fatal sync.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Match returns the replica of the match record with the locally derived
// score.
func (s *Session) Match() match.Match {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.m.Clone()
	m.CurrentScore = s.live.Score.Clone()
	m.LastSeq = s.live.LastSeq
	return m
}

func (s *Session) CurrentScore() match.Score {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.live.Score == nil {
		return match.NewScore()
	}
	return s.live.Score.Clone()
}

func (s *Session) LiveMatchData() match.LiveMatchData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live.Clone()
}

func (s *Session) Events() []match.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]match.Event(nil), s.events...)
}

func (s *Session) PresentPlayers() []match.PresenceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]match.PresenceRecord(nil), s.present...)
}

// MVP is nil until someone has played.
func (s *Session) MVP() *match.Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return match.MVP(s.live)
}

// SubmitPlay sends a play and reports whether it was accepted. On failure
// the error is kept in LastError.
func (s *Session) SubmitPlay(ctx context.Context, play match.Play) bool {
	if s.opts.Commander == nil {
		return false
	}
	ev, err := s.opts.Commander.SubmitPlay(ctx, s.opts.MatchID, play)
	if s.recordResult(err) {
		return false
	}
	// The accepted event goes through the same idempotent path as the
	// broadcast copy that follows it.
	s.enqueue(broadcast.Notification{Kind: broadcast.KindEvent, MatchID: s.opts.MatchID, Event: &ev})
	return true
}

func (s *Session) StartMatch(ctx context.Context) bool {
	return s.transition(ctx, match.StatusActive)
}

func (s *Session) PauseMatch(ctx context.Context) bool {
	return s.transition(ctx, match.StatusPaused)
}

func (s *Session) ResumeMatch(ctx context.Context) bool {
	return s.transition(ctx, match.StatusActive)
}

func (s *Session) EndMatch(ctx context.Context) bool {
	return s.transition(ctx, match.StatusCompleted)
}

func (s *Session) transition(ctx context.Context, to match.Status) bool {
	if s.opts.Commander == nil {
		return false
	}
	m, err := s.opts.Commander.TransitionStatus(ctx, s.opts.MatchID, to)
	if s.recordResult(err) {
		return false
	}
	s.enqueue(broadcast.Notification{Kind: broadcast.KindStatus, MatchID: s.opts.MatchID, Match: &m})
	return true
}

// recordResult stores err as LastError and reports whether it was non-nil.
func (s *Session) recordResult(err error) bool {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("command failed", "code", match.Code(err), "error", err)
	}
	return err != nil
}

// enqueue never blocks; on overflow the session resyncs instead.
func (s *Session) enqueue(n broadcast.Notification) {
	select {
	case s.inbox <- n:
	default:
		s.requestResync()
	}
}

func (s *Session) requestResync() {
	select {
	case s.resyncCh <- struct{}{}:
	default:
	}
}
