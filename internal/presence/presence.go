// Package presence tracks which users are connected to a match. Each
// heartbeat renews a lease; leases older than the timeout are ignored on
// read and evicted by a scheduled sweep.
package presence

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/telemetry"
)

const (
	DefaultTimeout       = 45 * time.Second
	DefaultSweepInterval = 5 * time.Second
	// DefaultHeartbeat is how often clients are expected to renew.
	DefaultHeartbeat = 15 * time.Second
)

// Change describes a user joining or leaving a match.
type Change struct {
	MatchID string
	UserID  string
	Joined  bool
	Present []match.PresenceRecord
}

type Options struct {
	Timeout       time.Duration
	SweepInterval time.Duration
	Clock         clockwork.Clock
	Logger        *slog.Logger
	// OnChange is called after the tracker lock is released.
	OnChange func(Change)
}

type Tracker struct {
	mu      sync.Mutex
	leases  map[string]map[string]match.PresenceRecord
	timeout time.Duration
	sweep   time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
	notify  func(Change)

	sched gocron.Scheduler
}

func NewTracker(opts Options) *Tracker {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tracker{
		leases:  make(map[string]map[string]match.PresenceRecord),
		timeout: opts.Timeout,
		sweep:   opts.SweepInterval,
		clock:   opts.Clock,
		logger:  opts.Logger,
		notify:  opts.OnChange,
	}
}

// Timeout is the lease length.
func (t *Tracker) Timeout() time.Duration { return t.timeout }

// Heartbeat renews the lease of userID on a match. It reports whether the
// user was not present before.
func (t *Tracker) Heartbeat(matchID, userID string, team match.Team) bool {
	now := t.clock.Now()

	t.mu.Lock()
	users := t.leases[matchID]
	if users == nil {
		users = make(map[string]match.PresenceRecord)
		t.leases[matchID] = users
	}
	rec, ok := users[userID]
	joined := !ok || t.expired(rec, now)
	if joined {
		rec = match.PresenceRecord{UserID: userID, ConnectedAt: now}
	}
	rec.Team = team
	rec.LastHeartbeat = now
	users[userID] = rec
	var present []match.PresenceRecord
	if joined {
		present = t.presentLocked(matchID, now)
	}
	t.updateGaugeLocked()
	t.mu.Unlock()

	if joined {
		t.emit(Change{MatchID: matchID, UserID: userID, Joined: true, Present: present})
	}
	return joined
}

// Leave drops the lease immediately, for clients that disconnect cleanly.
// A lease that expired but was not yet swept is reported here, since the
// sweep will no longer see it.
func (t *Tracker) Leave(matchID, userID string) {
	now := t.clock.Now()

	t.mu.Lock()
	_, ok := t.leases[matchID][userID]
	if ok {
		t.deleteLocked(matchID, userID)
	}
	present := t.presentLocked(matchID, now)
	t.updateGaugeLocked()
	t.mu.Unlock()

	if ok {
		t.emit(Change{MatchID: matchID, UserID: userID, Present: present})
	}
}

// Present returns the live leases of a match ordered by user ID. Expired
// leases are filtered even if the sweep has not run yet.
func (t *Tracker) Present(matchID string) []match.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.presentLocked(matchID, t.clock.Now())
}

// IsPresent reports whether userID holds a live lease on the match.
func (t *Tracker) IsPresent(matchID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.leases[matchID][userID]
	return ok && !t.expired(rec, t.clock.Now())
}

// Sweep evicts every lease whose heartbeat age has reached the timeout and
// reports each eviction. It returns the number of evicted leases.
func (t *Tracker) Sweep() int {
	now := t.clock.Now()

	var changes []Change
	t.mu.Lock()
	for matchID, users := range t.leases {
		var gone []string
		for userID, rec := range users {
			if t.expired(rec, now) {
				gone = append(gone, userID)
			}
		}
		if len(gone) == 0 {
			continue
		}
		slices.Sort(gone)
		for _, userID := range gone {
			t.deleteLocked(matchID, userID)
		}
		present := t.presentLocked(matchID, now)
		for _, userID := range gone {
			changes = append(changes, Change{MatchID: matchID, UserID: userID, Present: present})
		}
	}
	t.updateGaugeLocked()
	t.mu.Unlock()

	for _, c := range changes {
		t.logger.Debug("presence expired", "match_id", c.MatchID, "user_id", c.UserID)
		t.emit(c)
	}
	telemetry.PresenceEvictions.Add(float64(len(changes)))
	return len(changes)
}

// Start schedules Sweep every sweep interval until ctx is done or Stop is
// called.
func (t *Tracker) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithClock(t.clock))
	if err != nil {
		return fmt.Errorf("creating presence scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(t.sweep),
		gocron.NewTask(func() { t.Sweep() }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduling presence sweep: %w", err)
	}
	sched.Start()

	t.mu.Lock()
	t.sched = sched
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.Stop()
	}()
	return nil
}

// Stop shuts the sweep scheduler down.
func (t *Tracker) Stop() {
	t.mu.Lock()
	sched := t.sched
	t.sched = nil
	t.mu.Unlock()

	if sched == nil {
		return
	}
	if err := sched.Shutdown(); err != nil {
		t.logger.Warn("stopping presence scheduler", "error", err)
	}
}

func (t *Tracker) expired(rec match.PresenceRecord, now time.Time) bool {
	return now.Sub(rec.LastHeartbeat) >= t.timeout
}

func (t *Tracker) presentLocked(matchID string, now time.Time) []match.PresenceRecord {
	out := []match.PresenceRecord{}
	for _, rec := range t.leases[matchID] {
		if !t.expired(rec, now) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b match.PresenceRecord) int { return cmp.Compare(a.UserID, b.UserID) })
	return out
}

func (t *Tracker) deleteLocked(matchID, userID string) {
	delete(t.leases[matchID], userID)
	if len(t.leases[matchID]) == 0 {
		delete(t.leases, matchID)
	}
}

func (t *Tracker) updateGaugeLocked() {
	n := 0
	for _, users := range t.leases {
		n += len(users)
	}
	telemetry.PresentUsers.Set(float64(n))
}

func (t *Tracker) emit(c Change) {
	if t.notify != nil {
		t.notify(c)
	}
}
