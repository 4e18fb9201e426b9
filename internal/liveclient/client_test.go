package liveclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/auth"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/broadcast"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/database"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/engine"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/livesync"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/migrations"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/presence"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/server"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type env struct {
	url      string
	svc      *engine.Service
	verifier *auth.Verifier
	matchID  string
}

func newEnv(t *testing.T) env {
	t.Helper()
	return newEnvWith(t, func(c broadcast.Channel) broadcast.Channel { return c })
}

// newEnvWith serves the live endpoints through wrap(broker); the engine
// still publishes straight to the broker.
func newEnvWith(t *testing.T, wrap func(broadcast.Channel) broadcast.Channel) env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	broker := broadcast.NewBroker()
	svc := engine.New(engine.Options{
		Store:     store.NewSQLiteStore(db),
		Publisher: broker,
		Presence: presence.NewTracker(presence.Options{
			Logger:   quiet,
			OnChange: engine.PresencePublisher(ctx, broker, quiet),
		}),
		Logger: quiet,
	})
	v := auth.NewVerifier("test-secret")

	srv := httptest.NewServer(server.New("", quiet, server.Deps{Engine: svc, Channel: wrap(broker), Verifier: v}).Handler())
	t.Cleanup(srv.Close)

	m, err := svc.CreateMatch(ctx, "u1", engine.NewMatch{
		Players: []match.Player{{UserID: "u2", Position: 2}, {UserID: "u3", Position: 3}, {UserID: "u4", Position: 4}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.StartMatch(ctx, m.ID, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	return env{url: srv.URL, svc: svc, verifier: v, matchID: m.ID}
}

func (e env) client(t *testing.T, userID string) *Client {
	t.Helper()
	tok, err := e.verifier.Issue(userID, "", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	c, err := New(Options{BaseURL: e.url, Token: tok, Logger: quiet})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"ftp://host", "://nope"} {
		if _, err := New(Options{BaseURL: raw}); err == nil {
			t.Errorf("New(%q) succeeded", raw)
		}
	}
}

func TestErrorKindsSurviveTheWire(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	anon, _ := New(Options{BaseURL: e.url, Token: "bogus"})

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"unknown match", func() error {
			_, err := e.client(t, "u1").Snapshot(ctx, "nope", 0)
			return err
		}, match.ErrNotFound},
		{"bad token", func() error {
			_, err := anon.Snapshot(ctx, e.matchID, 0)
			return err
		}, match.ErrPermissionDenied},
		{"outsider plays", func() error {
			_, err := e.client(t, "u9").SubmitPlay(ctx, e.matchID, match.Play{Type: match.EventHit})
			return err
		}, match.ErrNotParticipant},
		{"guest pauses", func() error {
			_, err := e.client(t, "u3").TransitionStatus(ctx, e.matchID, match.StatusPaused)
			return err
		}, match.ErrPermissionDenied},
		{"bad transition", func() error {
			_, err := e.client(t, "u1").TransitionStatus(ctx, e.matchID, match.StatusPending)
			return err
		}, match.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCommands(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	host := e.client(t, "u1")

	ev, err := host.SubmitPlay(ctx, e.matchID, match.Play{Type: match.EventSink, PlayerID: "u3"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ev.Seq != 1 || ev.Team != match.Team2 || ev.Data.Points != 3 {
		t.Fatalf("event = %+v", ev)
	}

	snap, err := host.Snapshot(ctx, e.matchID, 0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Events) != 1 || snap.Match.CurrentScore[match.Team2] != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}

	present, err := e.client(t, "u4").Heartbeat(ctx, e.matchID)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if len(present) != 1 || present[0].UserID != "u4" {
		t.Fatalf("present = %+v", present)
	}

	undone, err := host.UndoLastPlay(ctx, e.matchID, ev.ID)
	if err != nil || !undone {
		t.Fatalf("undo = %v, %v", undone, err)
	}
}

// recordingTransport keeps the links it opens so a test can drop them.
type recordingTransport struct {
	*Client

	mu    sync.Mutex
	links []livesync.Link
}

func (r *recordingTransport) Connect(ctx context.Context, matchID string, h broadcast.Handler) (livesync.Link, error) {
	l, err := r.Client.Connect(ctx, matchID, h)
	if err == nil {
		r.mu.Lock()
		r.links = append(r.links, l)
		r.mu.Unlock()
	}
	return l, err
}

func (r *recordingTransport) connects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.links)
}

func (r *recordingTransport) dropLast() {
	r.mu.Lock()
	l := r.links[len(r.links)-1]
	r.mu.Unlock()
	l.Close()
}

func TestSessionOverLiveSocket(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.client(t, "u2")
	transport := &recordingTransport{Client: c}

	s := livesync.Subscribe(ctx, livesync.Options{
		MatchID:    e.matchID,
		Source:     c,
		Transport:  transport,
		Commander:  c,
		BackoffMin: 10 * time.Millisecond,
		BackoffMax: 50 * time.Millisecond,
		Logger:     quiet,
	})
	defer func() {
		s.Unsubscribe()
		<-s.Done()
	}()

	waitFor(t, "connected", s.IsConnected)
	waitFor(t, "own presence", func() bool {
		for _, p := range s.PresentPlayers() {
			if p.UserID == "u2" && p.Team == match.Team1 {
				return true
			}
		}
		return false
	})

	if _, err := e.svc.SubmitPlay(ctx, e.matchID, "u3", match.Play{Type: match.EventGoal}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !s.SubmitPlay(ctx, match.Play{Type: match.EventHit}) {
		t.Fatalf("session submit failed: %v", s.LastError())
	}
	waitFor(t, "two events", func() bool { return s.LiveMatchData().LastSeq == 2 })

	transport.dropLast()
	waitFor(t, "reconnect", func() bool { return transport.connects() == 2 && s.IsConnected() })

	if _, err := e.svc.SubmitPlay(ctx, e.matchID, "u4", match.Play{Type: match.EventSink}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "third event", func() bool { return s.LiveMatchData().LastSeq == 3 })

	score := s.CurrentScore()
	if score[match.Team1] != 1 || score[match.Team2] != 5 {
		t.Fatalf("score = %v, want team1 1 team2 5", score)
	}
}

func TestSessionStopsOnUnknownMatch(t *testing.T) {
	e := newEnv(t)
	c := e.client(t, "u1")

	s := livesync.Subscribe(context.Background(), livesync.Options{
		MatchID:   "nope",
		Source:    c,
		Transport: c,
		Logger:    quiet,
	})

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session kept retrying an unknown match")
	}
	if !errors.Is(s.LastError(), match.ErrNotFound) {
		t.Fatalf("last error = %v, want ErrNotFound", s.LastError())
	}
}

// gatedChannel holds every Subscribe until release is closed.
type gatedChannel struct {
	broadcast.Channel
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedChannel) Subscribe(matchID string, h broadcast.Handler) (*broadcast.Subscription, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Channel.Subscribe(matchID, h)
}

func TestConnectWaitsForServerSubscription(t *testing.T) {
	gate := &gatedChannel{entered: make(chan struct{}), release: make(chan struct{})}
	e := newEnvWith(t, func(c broadcast.Channel) broadcast.Channel {
		gate.Channel = c
		return gate
	})
	ctx := context.Background()
	c := e.client(t, "u2")

	s := livesync.Subscribe(ctx, livesync.Options{
		MatchID:   e.matchID,
		Source:    c,
		Transport: c,
		Logger:    quiet,
	})
	defer func() {
		s.Unsubscribe()
		<-s.Done()
	}()

	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("server never subscribed the live socket")
	}
	time.Sleep(50 * time.Millisecond)
	if s.Synced() {
		t.Fatal("session took a snapshot before the server subscribed")
	}

	// Published while the server is still subscribing: only the snapshot
	// can carry it.
	if _, err := e.svc.SubmitPlay(ctx, e.matchID, "u1", match.Play{Type: match.EventSink}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	close(gate.release)
	if _, err := e.svc.EndMatch(ctx, e.matchID, "u1"); err != nil {
		t.Fatalf("end: %v", err)
	}

	waitFor(t, "completed", func() bool { return s.Match().Status == match.StatusCompleted })
	if got := s.CurrentScore()[match.Team1]; got != 3 {
		t.Fatalf("team1 score = %d, want 3", got)
	}
	if got := s.LiveMatchData().LastSeq; got != 1 {
		t.Fatalf("last seq = %d, want 1", got)
	}
}
