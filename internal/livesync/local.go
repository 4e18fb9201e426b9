package livesync

import (
	"context"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/broadcast"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
)

// Backend is the authoritative side, satisfied by *engine.Service.
type Backend interface {
	Snapshot(ctx context.Context, matchID string, since uint64) (match.Snapshot, error)
	SubmitPlay(ctx context.Context, matchID, requesterID string, play match.Play) (match.Event, error)
	TransitionStatus(ctx context.Context, matchID string, to match.Status, requesterID string) (match.Match, error)
	Heartbeat(ctx context.Context, matchID, userID string) ([]match.PresenceRecord, error)
	Leave(matchID, userID string)
}

// Local connects a session to a backend and channel in the same process,
// acting as UserID. It implements Source, Transport and Commander.
type Local struct {
	Backend Backend
	Channel broadcast.Channel
	UserID  string
}

func (l Local) Snapshot(ctx context.Context, matchID string, since uint64) (match.Snapshot, error) {
	return l.Backend.Snapshot(ctx, matchID, since)
}

func (l Local) SubmitPlay(ctx context.Context, matchID string, play match.Play) (match.Event, error) {
	return l.Backend.SubmitPlay(ctx, matchID, l.UserID, play)
}

func (l Local) TransitionStatus(ctx context.Context, matchID string, to match.Status) (match.Match, error) {
	return l.Backend.TransitionStatus(ctx, matchID, to, l.UserID)
}

func (l Local) Connect(_ context.Context, matchID string, h broadcast.Handler) (Link, error) {
	sub, err := l.Channel.Subscribe(matchID, h)
	if err != nil {
		return nil, err
	}
	return &localLink{local: l, matchID: matchID, sub: sub}, nil
}

type localLink struct {
	local   Local
	matchID string
	sub     *broadcast.Subscription
}

func (k *localLink) Heartbeat(ctx context.Context) error {
	_, err := k.local.Backend.Heartbeat(ctx, k.matchID, k.local.UserID)
	return err
}

func (k *localLink) Done() <-chan struct{} { return k.sub.Done() }

func (k *localLink) Err() error { return nil }

func (k *localLink) Close() error {
	k.sub.Unsubscribe()
	k.local.Backend.Leave(k.matchID, k.local.UserID)
	return nil
}
