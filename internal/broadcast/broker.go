package broadcast

import (
	"context"
	"sync"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/telemetry"
)

// Broker is an in-process Channel keyed by match ID. It serves a single
// server node and tests.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers h for notifications on the given match.
func (b *Broker) Subscribe(matchID string, h Handler) (*Subscription, error) {
	var sub *Subscription
	sub = newSubscription(matchID, h, func() { b.remove(matchID, sub) })

	b.mu.Lock()
	if b.subs[matchID] == nil {
		b.subs[matchID] = make(map[*Subscription]struct{})
	}
	b.subs[matchID][sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

func (b *Broker) remove(matchID string, sub *Subscription) {
	b.mu.Lock()
	delete(b.subs[matchID], sub)
	if len(b.subs[matchID]) == 0 {
		delete(b.subs, matchID)
	}
	b.mu.Unlock()
}

// Publish hands n to every subscriber of the match without blocking.
func (b *Broker) Publish(_ context.Context, matchID string, n Notification) error {
	n.MatchID = matchID
	telemetry.NotificationsPublished.WithLabelValues(string(n.Kind)).Inc()

	b.mu.RLock()
	for sub := range b.subs[matchID] {
		sub.deliver(n)
	}
	b.mu.RUnlock()
	return nil
}

// Subscribers reports how many subscriptions are attached to a match.
func (b *Broker) Subscribers(matchID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[matchID])
}
