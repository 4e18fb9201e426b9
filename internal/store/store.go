// Package store persists matches and their event logs.
package store

import (
	"context"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
)

// Store is the contract of the external data service. Implementations must
// assign event sequence numbers atomically per match.
type Store interface {
	CreateMatch(ctx context.Context, m match.Match) (match.Match, error)
	// GetMatch returns the match with CurrentScore and LastSeq derived from
	// the event log.
	GetMatch(ctx context.Context, matchID string) (match.Match, error)
	CountMatches(ctx context.Context) (int, error)

	// ListEvents returns events with seq > since, in sequence order.
	ListEvents(ctx context.Context, matchID string, since uint64) ([]match.Event, error)
	// AppendEvent assigns the next sequence number and persists ev. It fails
	// with match.ErrInvalidState unless the match is active and with
	// match.ErrConflict when another writer took the sequence number.
	AppendEvent(ctx context.Context, ev match.Event) (match.Event, error)
	// DeleteLastEvent removes the tail event. When eventID is non-empty the
	// tail must have that id, otherwise match.ErrConflict is returned.
	DeleteLastEvent(ctx context.Context, matchID, eventID string) (match.Event, error)

	// UpdateMatchStatus persists m's status, timestamps and version if the
	// stored status still equals from and the stored version is older.
	UpdateMatchStatus(ctx context.Context, m match.Match, from match.Status) error
	// UpdateParticipants replaces the roster of a pending match and stores
	// version, which must be newer than the stored one.
	UpdateParticipants(ctx context.Context, matchID string, players []match.Player, version uint64) error
}
