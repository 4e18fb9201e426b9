package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/auth"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/engine"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
)

// demoTokenTTL keeps seeded dev tokens valid for a working day.
const demoTokenTTL = 12 * time.Hour

var demoPlayers = []match.Player{
	{UserID: "demo-2", DisplayName: "Bea", Position: 2},
	{UserID: "demo-3", DisplayName: "Caio", Position: 3},
	{UserID: "demo-4", DisplayName: "Dana", Position: 4},
}

// Counter reports how many matches exist.
type Counter interface {
	CountMatches(ctx context.Context) (int, error)
}

// SeedDemo creates a pending demo match and logs a token for each of its
// players. Idempotent: does nothing if any match exists.
func SeedDemo(ctx context.Context, logger *slog.Logger, matches Counter, svc *engine.Service, v *auth.Verifier) error {
	n, err := matches.CountMatches(ctx)
	if err != nil {
		return fmt.Errorf("counting matches: %w", err)
	}
	if n > 0 {
		return nil
	}

	m, err := svc.CreateMatch(ctx, "demo-1", engine.NewMatch{
		Title:       "Demo match",
		DisplayName: "Ana",
		Players:     demoPlayers,
	})
	if err != nil {
		return fmt.Errorf("creating demo match: %w", err)
	}

	for _, p := range m.Participants {
		token, err := v.Issue(p.UserID, p.DisplayName, demoTokenTTL)
		if err != nil {
			return fmt.Errorf("issuing demo token: %w", err)
		}
		logger.Info("demo player", "match_id", m.ID, "user_id", p.UserID, "position", p.Position, "role", p.Role, "token", token)
	}
	logger.Info("demo match created and seeded", "match_id", m.ID)
	return nil
}
