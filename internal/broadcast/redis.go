package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/telemetry"
)

// RedisChannel is a Channel backed by Redis pub/sub, one topic per match.
// It lets several server nodes share notifications.
type RedisChannel struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewRedisChannel(rdb *redis.Client, logger *slog.Logger) *RedisChannel {
	return &RedisChannel{rdb: rdb, logger: logger}
}

// Topic is the Redis channel name for a match.
func Topic(matchID string) string {
	return "match:" + matchID
}

func (c *RedisChannel) Publish(ctx context.Context, matchID string, n Notification) error {
	n.MatchID = matchID
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	if err := c.rdb.Publish(ctx, Topic(matchID), data).Err(); err != nil {
		return fmt.Errorf("%w: publishing to redis: %v", match.ErrConnectivity, err)
	}
	telemetry.NotificationsPublished.WithLabelValues(string(n.Kind)).Inc()
	return nil
}

// Subscribe opens a dedicated Redis subscription for the match and pumps its
// messages into the subscriber queue.
func (c *RedisChannel) Subscribe(matchID string, h Handler) (*Subscription, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ps := c.rdb.Subscribe(ctx, Topic(matchID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("%w: subscribing to %s: %v", match.ErrConnectivity, Topic(matchID), err)
	}

	sub := newSubscription(matchID, h, func() { ps.Close() })
	go c.pump(sub, ps.ChannelWithSubscriptions())
	return sub, nil
}

// pump forwards messages to the subscriber. The initial subscribe
// confirmation was consumed by Subscribe, so any later one means go-redis
// reconnected and resubscribed; whatever was published in between is lost
// and the subscriber is told to resync.
func (c *RedisChannel) pump(sub *Subscription, msgs <-chan any) {
	for {
		select {
		case <-sub.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			switch msg := msg.(type) {
			case *redis.Subscription:
				if msg.Kind != "subscribe" {
					continue
				}
				c.logger.Warn("redis subscription restored, requesting resync", "topic", msg.Channel)
				sub.deliver(Notification{Kind: KindResync, MatchID: sub.matchID})
			case *redis.Message:
				var n Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					c.logger.Warn("dropping malformed notification", "topic", msg.Channel, "error", err)
					continue
				}
				sub.deliver(n)
			}
		}
	}
}
