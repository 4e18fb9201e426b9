package livesync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/broadcast"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
)

// errResync asks the live loop to refetch state without dropping the link.
var errResync = errors.New("resync required")

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.teardown()

	attempt := 0
	for {
		err := s.connectAndFollow(ctx, &attempt)
		if ctx.Err() != nil {
			return
		}
		if match.Fatal(err) {
			s.logger.Error("giving up on match", "code", match.Code(err), "error", err)
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()
			s.setDisconnected(err)
			return
		}
		if !errors.Is(err, match.ErrConnectivity) {
			err = fmt.Errorf("%w: %v", match.ErrConnectivity, err)
		}
		s.setDisconnected(err)

		attempt++
		delay := s.retry.NextBackOff()
		s.logger.Warn("live link lost, reconnecting", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-s.opts.Clock.After(delay):
		}
	}
}

// newRetry doubles the reconnect delay from initial up to ceiling, with jitter so
// clients dropped together do not return together. It never gives up.
func newRetry(initial, ceiling time.Duration, clock clockwork.Clock) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = ceiling
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Clock = clock
	b.Reset()
	return b
}

// connectAndFollow opens a link, resyncs, then applies notifications until
// the link drops or ctx ends. Notifications that arrive while the snapshot
// is loading stay queued and are applied afterwards.
func (s *Session) connectAndFollow(ctx context.Context, attempt *int) error {
	link, err := s.opts.Transport.Connect(ctx, s.opts.MatchID, s.enqueue)
	if err != nil {
		return err
	}
	defer link.Close()

	if err := s.resync(ctx); err != nil {
		return err
	}
	*attempt = 0
	s.retry.Reset()
	s.setConnected()

	if err := link.Heartbeat(ctx); err != nil {
		return err
	}
	ticker := s.opts.Clock.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-link.Done():
			if err := link.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w: link closed", match.ErrConnectivity)
		case <-ticker.Chan():
			if err := link.Heartbeat(ctx); err != nil {
				return err
			}
		case <-s.resyncCh:
			if err := s.resync(ctx); err != nil {
				return err
			}
		case n := <-s.inbox:
			if err := s.apply(n); errors.Is(err, errResync) {
				s.logger.Debug("resyncing", "kind", n.Kind, "reason", err)
				if err := s.resync(ctx); err != nil {
					return err
				}
			}
		}
	}
}

// resync rebuilds local state from the source. When the session already
// holds events it asks only for the suffix starting at its last event and
// uses that overlapping event to confirm the local log is still a prefix of
// the authoritative one; otherwise it refetches everything.
func (s *Session) resync(ctx context.Context) error {
	s.mu.RLock()
	local := s.events
	s.mu.RUnlock()

	var (
		snap match.Snapshot
		err  error
	)
	events := []match.Event(nil)
	if n := uint64(len(local)); n > 1 {
		snap, err = s.opts.Source.Snapshot(ctx, s.opts.MatchID, n-1)
		if err != nil {
			return err
		}
		tail := local[n-1]
		if len(snap.Events) > 0 && snap.Events[0].Seq == tail.Seq && snap.Events[0].ID == tail.ID {
			events = append(append(events, local[:n-1]...), snap.Events...)
		}
	}
	if events == nil {
		snap, err = s.opts.Source.Snapshot(ctx, s.opts.MatchID, 0)
		if err != nil {
			return err
		}
		events = snap.Events
	}
	if !contiguous(events) {
		return fmt.Errorf("%w: snapshot log is not contiguous", match.ErrConflict)
	}

	live := match.Aggregate(snap.Match, events)
	present := snap.Present
	if present == nil {
		present = []match.PresenceRecord{}
	}

	s.mu.Lock()
	s.m = snap.Match
	s.events = events
	s.live = live
	s.present = present
	s.synced = true
	s.mu.Unlock()

	s.logger.Debug("resynced", "last_seq", live.LastSeq, "events", len(events))
	if cb := s.opts.Callbacks.OnSync; cb != nil {
		cb(live.Clone())
	}
	return nil
}

func contiguous(events []match.Event) bool {
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			return false
		}
	}
	return true
}

// apply folds one notification into local state. It returns errResync when
// the notification cannot be reconciled with what the session holds.
func (s *Session) apply(n broadcast.Notification) error {
	if n.MatchID != "" && n.MatchID != s.opts.MatchID {
		return nil
	}
	switch n.Kind {
	case broadcast.KindEvent:
		return s.applyEvent(n.Event)
	case broadcast.KindRetract:
		return s.applyRetract(n.Event)
	case broadcast.KindStatus, broadcast.KindRoster:
		return s.applyMatch(n.Match)
	case broadcast.KindPresence:
		present := append([]match.PresenceRecord{}, n.Present...)
		s.mu.Lock()
		s.present = present
		s.mu.Unlock()
		if cb := s.opts.Callbacks.OnPresence; cb != nil {
			cb(present)
		}
		return nil
	case broadcast.KindResync:
		return errResync
	}
	return nil
}

func (s *Session) applyEvent(ev *match.Event) error {
	if ev == nil {
		return nil
	}
	s.mu.Lock()
	last := uint64(len(s.events))
	switch {
	case ev.Seq == 0:
		s.mu.Unlock()
		return nil
	case ev.Seq <= last:
		known := s.events[ev.Seq-1].ID
		s.mu.Unlock()
		if known == ev.ID {
			// Duplicate delivery.
			return nil
		}
		return fmt.Errorf("%w: seq %d was replaced", errResync, ev.Seq)
	case ev.Seq > last+1:
		s.mu.Unlock()
		return fmt.Errorf("%w: gap after seq %d", errResync, last)
	}
	s.events = append(s.events, *ev)
	s.live.Apply(*ev)
	live := s.live.Clone()
	s.mu.Unlock()

	if cb := s.opts.Callbacks.OnEvent; cb != nil {
		cb(*ev, live)
	}
	return nil
}

func (s *Session) applyRetract(ev *match.Event) error {
	if ev == nil {
		return nil
	}
	s.mu.Lock()
	last := uint64(len(s.events))
	if last == 0 || ev.Seq != last || s.events[last-1].ID != ev.ID {
		s.mu.Unlock()
		return fmt.Errorf("%w: retraction of seq %d does not match the tail", errResync, ev.Seq)
	}
	s.events = s.events[:last-1]
	s.live = match.Aggregate(s.m, s.events)
	live := s.live.Clone()
	s.mu.Unlock()

	if cb := s.opts.Callbacks.OnRetract; cb != nil {
		cb(*ev, live)
	}
	return nil
}

// applyMatch takes status, timestamps and roster from a newer match record.
// Records no newer than the one held are duplicates or arrived late. The
// score always comes from the local log.
func (s *Session) applyMatch(m *match.Match) error {
	if m == nil {
		return nil
	}
	s.mu.Lock()
	if m.Version <= s.m.Version {
		held := s.m.Version
		s.mu.Unlock()
		s.logger.Debug("ignoring stale match record", "version", m.Version, "held", held)
		return nil
	}
	rosterChanged := !slices.Equal(s.m.Participants, m.Participants)
	s.m = m.Clone()
	if rosterChanged {
		s.live = match.Aggregate(s.m, s.events)
	}
	s.mu.Unlock()

	if cb := s.opts.Callbacks.OnStatus; cb != nil {
		cb(s.Match())
	}
	return nil
}

func (s *Session) setConnected() {
	s.mu.Lock()
	changed := !s.connected
	s.connected = true
	s.connErr = nil
	s.mu.Unlock()

	if changed {
		s.logger.Info("live link established")
		if cb := s.opts.Callbacks.OnConnection; cb != nil {
			cb(true, nil)
		}
	}
}

func (s *Session) setDisconnected(err error) {
	s.mu.Lock()
	s.connected = false
	s.connErr = err
	s.mu.Unlock()

	if cb := s.opts.Callbacks.OnConnection; cb != nil {
		cb(false, err)
	}
}

// teardown marks a stopped session disconnected, keeping any earlier error.
func (s *Session) teardown() {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	if s.connErr == nil {
		s.connErr = context.Canceled
	}
	err := s.connErr
	s.mu.Unlock()

	if wasConnected {
		if cb := s.opts.Callbacks.OnConnection; cb != nil {
			cb(false, err)
		}
	}
}
