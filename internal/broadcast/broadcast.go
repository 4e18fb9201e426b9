// Package broadcast fans match notifications out to subscribers. Delivery is
// best-effort and at-least-once: a subscriber that falls behind loses
// notifications and is told to resync instead of stalling the publisher.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/telemetry"
)

type Kind string

const (
	KindEvent    Kind = "event"
	KindRetract  Kind = "retract"
	KindStatus   Kind = "status"
	KindRoster   Kind = "roster"
	KindPresence Kind = "presence"
	// KindResync is generated locally when notifications were dropped.
	KindResync Kind = "resync"
	// KindReady is the first frame of a live socket, sent once its
	// subscription is in place. A snapshot taken after it misses nothing.
	KindReady Kind = "ready"
)

// Notification is the payload published on a match topic.
//
// Event and retract notifications carry the event and the score recomputed
// after it. Status and roster notifications carry the match record. Presence
// notifications carry the present set and the user who joined or left.
type Notification struct {
	Kind    Kind                   `json:"kind"`
	MatchID string                 `json:"matchId"`
	Event   *match.Event           `json:"event,omitempty"`
	Score   match.Score            `json:"score,omitempty"`
	Match   *match.Match           `json:"match,omitempty"`
	Present []match.PresenceRecord `json:"present,omitempty"`
	UserID  string                 `json:"userId,omitempty"`
	Joined  bool                   `json:"joined,omitempty"`
}

// Handler receives notifications for one subscription, one at a time.
type Handler func(Notification)

// Channel is a topic-scoped pub/sub transport keyed by match id.
type Channel interface {
	Publish(ctx context.Context, matchID string, n Notification) error
	Subscribe(matchID string, h Handler) (*Subscription, error)
}

// QueueSize is the per-subscriber buffer.
const QueueSize = 64

// Subscription is one subscriber's queue and delivery goroutine.
type Subscription struct {
	matchID string
	queue   chan Notification
	resync  chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	onClose func()
	dropped atomic.Int64
}

func newSubscription(matchID string, h Handler, onClose func()) *Subscription {
	s := &Subscription{
		matchID: matchID,
		queue:   make(chan Notification, QueueSize),
		resync:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		onClose: onClose,
	}
	telemetry.Subscribers.Inc()
	go s.run(h)
	return s
}

func (s *Subscription) run(h Handler) {
	defer close(s.stopped)
	for {
		// Closing wins over pending work.
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case <-s.done:
			return
		case <-s.resync:
			h(Notification{Kind: KindResync, MatchID: s.matchID})
		case n := <-s.queue:
			h(n)
		}
	}
}

// deliver never blocks. When the queue is full the notification is dropped
// and a single resync is scheduled.
func (s *Subscription) deliver(n Notification) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- n:
	default:
		s.dropped.Add(1)
		telemetry.NotificationsDropped.Inc()
		select {
		case s.resync <- struct{}{}:
		default:
		}
	}
}

// MatchID returns the topic this subscription listens on.
func (s *Subscription) MatchID() string { return s.matchID }

// Dropped counts notifications lost to a full queue.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Done is closed once the subscription has been torn down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Unsubscribe detaches the subscription. It is safe to call more than once
// and from inside the handler. Queued notifications are discarded.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
		telemetry.Subscribers.Dec()
	})
}
