package livesync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/broadcast"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/database"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/engine"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/migrations"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/presence"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type backend struct {
	svc    *engine.Service
	broker *broadcast.Broker
	match  match.Match
}

func newBackend(t *testing.T) backend {
	t.Helper()
	ctx := context.Background()
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
	m, err := svc.CreateMatch(ctx, "u1", engine.NewMatch{
		Players: []match.Player{{UserID: "u2", Position: 2}, {UserID: "u3", Position: 3}, {UserID: "u4", Position: 4}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.StartMatch(ctx, m.ID, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	return backend{svc: svc, broker: broker, match: m}
}

func (b backend) local(userID string) Local {
	return Local{Backend: b.svc, Channel: b.broker, UserID: userID}
}

func (b backend) submit(t *testing.T, player string, typ match.EventType) match.Event {
	t.Helper()
	ev, err := b.svc.SubmitPlay(context.Background(), b.match.ID, "u1", match.Play{Type: typ, PlayerID: player})
	if err != nil {
		t.Fatalf("submit %s for %s: %v", typ, player, err)
	}
	return ev
}

func (b backend) authoritative(t *testing.T) match.LiveMatchData {
	t.Helper()
	view, err := b.svc.Live(context.Background(), b.match.ID)
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	return view.Live
}

func subscribe(b backend, userID string, transport Transport) *Session {
	return Subscribe(context.Background(), Options{
		MatchID:    b.match.ID,
		Source:     b.local(userID),
		Transport:  transport,
		Commander:  b.local(userID),
		BackoffMin: 5 * time.Millisecond,
		BackoffMax: 20 * time.Millisecond,
		Logger:     quiet,
	})
}

// flakyTransport wraps a transport so tests can cut links and refuse
// reconnects.
type flakyTransport struct {
	inner Transport

	mu       sync.Mutex
	refuse   bool
	connects int
	links    []*flakyLink
}

type flakyLink struct {
	Link
	cut  chan struct{}
	once sync.Once
}

func (l *flakyLink) Done() <-chan struct{} { return l.cut }

func (l *flakyLink) Err() error {
	return errors.Join(match.ErrConnectivity, errors.New("connection reset"))
}

func (l *flakyLink) kill() { l.once.Do(func() { close(l.cut) }) }

func (f *flakyTransport) Connect(ctx context.Context, matchID string, h broadcast.Handler) (Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.refuse {
		return nil, errors.Join(match.ErrConnectivity, errors.New("connection refused"))
	}
	inner, err := f.inner.Connect(ctx, matchID, h)
	if err != nil {
		return nil, err
	}
	l := &flakyLink{Link: inner, cut: make(chan struct{})}
	f.links = append(f.links, l)
	return l, nil
}

func (f *flakyTransport) cut(refuse bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refuse = refuse
	for _, l := range f.links {
		l.kill()
	}
}

func (f *flakyTransport) allow() {
	f.mu.Lock()
	f.refuse = false
	f.mu.Unlock()
}

func (f *flakyTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func TestSessionFollowsMatch(t *testing.T) {
	b := newBackend(t)
	s := subscribe(b, "u2", b.local("u2"))
	defer s.Unsubscribe()

	waitFor(t, "connection", s.IsConnected)

	b.submit(t, "u1", match.EventHit)
	b.submit(t, "u3", match.EventSink)
	b.submit(t, "u4", match.EventCatch)

	waitFor(t, "three events", func() bool { return s.LiveMatchData().LastSeq == 3 })
	if got, want := s.LiveMatchData(), b.authoritative(t); !reflect.DeepEqual(got, want) {
		t.Fatalf("replica = %+v, want %+v", got, want)
	}
	if score := s.CurrentScore(); score[match.Team1] != 1 || score[match.Team2] != 3 {
		t.Fatalf("score = %v", score)
	}
	if mvp := s.MVP(); mvp == nil || mvp.Position != 3 {
		t.Fatalf("mvp = %+v", mvp)
	}
	waitFor(t, "presence", func() bool {
		p := s.PresentPlayers()
		return len(p) == 1 && p[0].UserID == "u2"
	})
}

func TestReconnectConvergesWithContinuousClient(t *testing.T) {
	b := newBackend(t)

	steady := subscribe(b, "u3", b.local("u3"))
	defer steady.Unsubscribe()
	flaky := &flakyTransport{inner: b.local("u2")}
	s := subscribe(b, "u2", flaky)
	defer s.Unsubscribe()

	waitFor(t, "both connected", func() bool { return steady.IsConnected() && s.IsConnected() })

	b.submit(t, "u1", match.EventHit)
	b.submit(t, "u2", match.EventMiss)
	waitFor(t, "k events", func() bool { return s.LiveMatchData().LastSeq == 2 })

	flaky.cut(true)
	waitFor(t, "disconnect", func() bool { return !s.IsConnected() })
	if err := s.ConnectionError(); !errors.Is(err, match.ErrConnectivity) {
		t.Fatalf("connection error = %v", err)
	}

	b.submit(t, "u3", match.EventSink)
	b.submit(t, "u4", match.EventDrop)
	b.submit(t, "u4", match.EventGoal)

	flaky.allow()
	waitFor(t, "reconnect", s.IsConnected)

	want := b.authoritative(t)
	waitFor(t, "steady client", func() bool { return steady.LiveMatchData().LastSeq == want.LastSeq })
	waitFor(t, "flaky client", func() bool { return reflect.DeepEqual(s.LiveMatchData(), want) })
	if !reflect.DeepEqual(s.LiveMatchData(), steady.LiveMatchData()) {
		t.Fatalf("replicas diverged:\n%+v\n%+v", s.LiveMatchData(), steady.LiveMatchData())
	}
	if s.ConnectionError() != nil {
		t.Fatalf("connection error after reconnect = %v", s.ConnectionError())
	}
}

func TestReconnectAfterUndoRefetchesFullLog(t *testing.T) {
	b := newBackend(t)
	flaky := &flakyTransport{inner: b.local("u2")}
	s := subscribe(b, "u2", flaky)
	defer s.Unsubscribe()
	waitFor(t, "connected", s.IsConnected)

	b.submit(t, "u1", match.EventHit)
	b.submit(t, "u2", match.EventHit)
	b.submit(t, "u3", match.EventSink)
	waitFor(t, "three events", func() bool { return s.LiveMatchData().LastSeq == 3 })

	flaky.cut(true)
	waitFor(t, "disconnect", func() bool { return !s.IsConnected() })

	// Replace the tail while the client is away: seq 3 now names another event.
	if ok, err := b.svc.UndoLastPlay(context.Background(), b.match.ID, "u1", ""); !ok || err != nil {
		t.Fatalf("undo = %v, %v", ok, err)
	}
	replaced := b.submit(t, "u4", match.EventCatch)

	flaky.allow()
	waitFor(t, "converged", func() bool { return reflect.DeepEqual(s.LiveMatchData(), b.authoritative(t)) })

	events := s.Events()
	if len(events) != 3 || events[2].ID != replaced.ID {
		t.Fatalf("events = %+v", events)
	}
}

func TestLiveUndoIsApplied(t *testing.T) {
	b := newBackend(t)
	s := subscribe(b, "u2", b.local("u2"))
	defer s.Unsubscribe()
	waitFor(t, "connected", s.IsConnected)

	b.submit(t, "u1", match.EventHit)
	last := b.submit(t, "u3", match.EventSink)
	waitFor(t, "two events", func() bool { return s.LiveMatchData().LastSeq == 2 })

	if ok, _ := b.svc.UndoLastPlay(context.Background(), b.match.ID, "u1", last.ID); !ok {
		t.Fatal("undo refused")
	}
	waitFor(t, "retraction", func() bool { return s.LiveMatchData().LastSeq == 1 })
	if score := s.CurrentScore(); score[match.Team2] != 0 {
		t.Fatalf("score after undo = %v", score)
	}
}

func TestCommands(t *testing.T) {
	b := newBackend(t)
	host := subscribe(b, "u1", b.local("u1"))
	defer host.Unsubscribe()
	player := subscribe(b, "u2", b.local("u2"))
	defer player.Unsubscribe()
	waitFor(t, "connected", func() bool { return host.IsConnected() && player.IsConnected() })

	if !player.SubmitPlay(context.Background(), match.Play{Type: match.EventHit}) {
		t.Fatalf("submit failed: %v", player.LastError())
	}
	waitFor(t, "own play applied", func() bool { return player.LiveMatchData().LastSeq == 1 })

	if player.PauseMatch(context.Background()) {
		t.Fatal("participant should not pause")
	}
	if err := player.LastError(); !errors.Is(err, match.ErrPermissionDenied) {
		t.Fatalf("last error = %v", err)
	}

	if !host.PauseMatch(context.Background()) {
		t.Fatalf("pause: %v", host.LastError())
	}
	waitFor(t, "paused status", func() bool { return player.Match().Status == match.StatusPaused })

	if player.SubmitPlay(context.Background(), match.Play{Type: match.EventHit}) {
		t.Fatal("submit while paused should fail")
	}
	if err := player.LastError(); !errors.Is(err, match.ErrInvalidState) {
		t.Fatalf("last error = %v", err)
	}

	if !host.ResumeMatch(context.Background()) || !host.EndMatch(context.Background()) {
		t.Fatalf("resume/end: %v", host.LastError())
	}
	waitFor(t, "completed status", func() bool { return player.Match().Status == match.StatusCompleted })
	if host.StartMatch(context.Background()) {
		t.Fatal("restart of a completed match should fail")
	}
	if err := host.LastError(); !errors.Is(err, match.ErrInvalidTransition) {
		t.Fatalf("last error = %v", err)
	}
}

func TestFatalErrorStopsRetrying(t *testing.T) {
	b := newBackend(t)
	flaky := &flakyTransport{inner: b.local("u2")}
	s := Subscribe(context.Background(), Options{
		MatchID:    "ghost",
		Source:     b.local("u2"),
		Transport:  flaky,
		BackoffMin: time.Millisecond,
		Logger:     quiet,
	})
	defer s.Unsubscribe()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session kept retrying a missing match")
	}
	if !errors.Is(s.LastError(), match.ErrNotFound) || !errors.Is(s.ConnectionError(), match.ErrNotFound) {
		t.Fatalf("errors = %v / %v", s.LastError(), s.ConnectionError())
	}
	if n := flaky.connectCount(); n != 1 {
		t.Fatalf("connects = %d, want 1", n)
	}
}

func TestUnsubscribeCancelsReconnect(t *testing.T) {
	b := newBackend(t)
	flaky := &flakyTransport{inner: b.local("u2"), refuse: true}
	s := Subscribe(context.Background(), Options{
		MatchID:    b.match.ID,
		Source:     b.local("u2"),
		Transport:  flaky,
		BackoffMin: time.Hour,
		BackoffMax: time.Hour,
		Logger:     quiet,
	})
	waitFor(t, "first attempt", func() bool { return flaky.connectCount() == 1 })

	s.Unsubscribe()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("unsubscribe did not cancel the backoff wait")
	}
	if s.IsConnected() {
		t.Fatal("still connected")
	}
}

func TestUnsubscribeClosesLink(t *testing.T) {
	b := newBackend(t)
	s := subscribe(b, "u2", b.local("u2"))
	waitFor(t, "connected", s.IsConnected)
	waitFor(t, "subscribed", func() bool { return b.broker.Subscribers(b.match.ID) == 1 })

	s.Unsubscribe()
	<-s.Done()
	if n := b.broker.Subscribers(b.match.ID); n != 0 {
		t.Fatalf("subscribers = %d after unsubscribe", n)
	}
	if present, _ := b.svc.Present(context.Background(), b.match.ID); len(present) != 0 {
		t.Fatalf("present = %+v after unsubscribe", present)
	}
}

// scriptedTransport hands the handler to the test so notifications can be
// injected directly.
type scriptedTransport struct {
	mu      sync.Mutex
	handler broadcast.Handler
}

type scriptedLink struct{ done chan struct{} }

func (l scriptedLink) Heartbeat(context.Context) error { return nil }
func (l scriptedLink) Done() <-chan struct{}           { return l.done }
func (l scriptedLink) Err() error                      { return nil }
func (l scriptedLink) Close() error                    { return nil }

func (tr *scriptedTransport) Connect(_ context.Context, _ string, h broadcast.Handler) (Link, error) {
	tr.mu.Lock()
	tr.handler = h
	tr.mu.Unlock()
	return scriptedLink{done: make(chan struct{})}, nil
}

func (tr *scriptedTransport) send(n broadcast.Notification) {
	tr.mu.Lock()
	h := tr.handler
	tr.mu.Unlock()
	h(n)
}

// countingSource counts snapshot fetches.
type countingSource struct {
	Source
	mu    sync.Mutex
	calls []uint64
}

func (c *countingSource) Snapshot(ctx context.Context, matchID string, since uint64) (match.Snapshot, error) {
	c.mu.Lock()
	c.calls = append(c.calls, since)
	c.mu.Unlock()
	return c.Source.Snapshot(ctx, matchID, since)
}

func (c *countingSource) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func TestDuplicatesIgnoredAndGapsResync(t *testing.T) {
	b := newBackend(t)
	e1 := b.submit(t, "u1", match.EventHit)

	tr := &scriptedTransport{}
	src := &countingSource{Source: b.local("u2")}
	s := Subscribe(context.Background(), Options{MatchID: b.match.ID, Source: src, Transport: tr, Logger: quiet})
	defer s.Unsubscribe()
	waitFor(t, "synced", s.IsConnected)

	// The same event delivered again changes nothing.
	before := s.LiveMatchData()
	tr.send(broadcast.Notification{Kind: broadcast.KindEvent, MatchID: b.match.ID, Event: &e1})
	time.Sleep(20 * time.Millisecond)
	if !reflect.DeepEqual(s.LiveMatchData(), before) || src.count() != 1 {
		t.Fatalf("duplicate changed state (snapshots = %d)", src.count())
	}

	// Seq 2 and 3 exist but only 3 is delivered: the gap forces a refetch.
	b.submit(t, "u2", match.EventHit)
	e3 := b.submit(t, "u3", match.EventSink)
	tr.send(broadcast.Notification{Kind: broadcast.KindEvent, MatchID: b.match.ID, Event: &e3})
	waitFor(t, "gap resync", func() bool { return s.LiveMatchData().LastSeq == 3 })
	if src.count() != 2 {
		t.Fatalf("snapshots = %d, want 2", src.count())
	}
	src.mu.Lock()
	since := src.calls[1]
	src.mu.Unlock()
	if since != 0 {
		t.Fatalf("resync with one local event should fetch everything, since = %d", since)
	}
	if !reflect.DeepEqual(s.LiveMatchData(), b.authoritative(t)) {
		t.Fatal("replica differs after gap resync")
	}

	// With a longer log the next resync is incremental.
	tr.send(broadcast.Notification{Kind: broadcast.KindResync})
	waitFor(t, "explicit resync", func() bool { return src.count() == 3 })
	src.mu.Lock()
	since = src.calls[2]
	src.mu.Unlock()
	if since != 2 {
		t.Fatalf("incremental resync since = %d, want 2", since)
	}
}

func TestStaleStatusIsIgnored(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	s := subscribe(b, "u2", b.local("u2"))
	defer s.Unsubscribe()
	waitFor(t, "connected", s.IsConnected)

	paused, err := b.svc.PauseMatch(ctx, b.match.ID, "u1")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	resumed, err := b.svc.ResumeMatch(ctx, b.match.ID, "u1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitFor(t, "resumed", func() bool { return s.Match().Version == resumed.Version })

	// A late copy of the pause, then a play to know it has been handled.
	if err := b.broker.Publish(ctx, b.match.ID, broadcast.Notification{Kind: broadcast.KindStatus, Match: &paused}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	b.submit(t, "u1", match.EventHit)
	waitFor(t, "play", func() bool { return s.LiveMatchData().LastSeq == 1 })

	if got := s.Match(); got.Status != match.StatusActive || got.Version != resumed.Version {
		t.Fatalf("status = %s at version %d, want active at %d", got.Status, got.Version, resumed.Version)
	}
}

func TestBackoff(t *testing.T) {
	b := newRetry(100*time.Millisecond, time.Second, clockwork.NewFakeClock())
	base := []time.Duration{100, 200, 400, 800, 1000, 1000}

	check := func(i int, got time.Duration) {
		t.Helper()
		d := base[i] * time.Millisecond
		lo := time.Duration(float64(d) * (1 - b.RandomizationFactor))
		hi := time.Duration(float64(d) * (1 + b.RandomizationFactor))
		if got < lo-time.Nanosecond || got > hi+time.Nanosecond {
			t.Errorf("attempt %d: %v, want within [%v, %v]", i+1, got, lo, hi)
		}
	}
	for i := range base {
		check(i, b.NextBackOff())
	}

	b.Reset()
	check(0, b.NextBackOff())
}
