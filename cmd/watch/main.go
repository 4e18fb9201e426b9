// Command watch follows one live match as a reconnecting client and logs
// every change it observes.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/auth"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/config"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/liveclient"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/livesync"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
)

const issuedTokenTTL = 24 * time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.LoadWatch()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	token := cfg.Token
	if token == "" {
		token, err = auth.NewVerifier(cfg.JWTSecret).Issue(cfg.UserID, cfg.UserID, issuedTokenTTL)
		if err != nil {
			return fmt.Errorf("issuing token: %w", err)
		}
	}

	client, err := liveclient.New(liveclient.Options{
		BaseURL: cfg.ServerURL,
		Token:   token,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	log := logger.With("match_id", cfg.MatchID)
	s := livesync.Subscribe(ctx, livesync.Options{
		MatchID:           cfg.MatchID,
		Source:            client,
		Transport:         client,
		Commander:         client,
		HeartbeatInterval: cfg.Heartbeat,
		BackoffMin:        cfg.BackoffMin,
		BackoffMax:        cfg.BackoffMax,
		Logger:            logger,
		Callbacks: livesync.Callbacks{
			OnSync: func(live match.LiveMatchData) {
				log.Info("synced", "last_seq", live.LastSeq, "score", live.Score, "mvp", mvpName(live))
			},
			OnEvent: func(ev match.Event, live match.LiveMatchData) {
				log.Info("play", "seq", ev.Seq, "type", ev.Type, "team", ev.Team,
					"player_id", ev.PlayerID, "points", ev.Data.Points, "score", live.Score)
				if live.Winner != "" {
					log.Info("winner decided", "team", live.Winner)
				}
			},
			OnRetract: func(ev match.Event, live match.LiveMatchData) {
				log.Info("play undone", "seq", ev.Seq, "type", ev.Type, "score", live.Score)
			},
			OnStatus: func(m match.Match) {
				log.Info("match updated", "status", m.Status, "players", len(m.Participants))
			},
			OnPresence: func(present []match.PresenceRecord) {
				log.Info("presence", "present", len(present))
			},
			OnConnection: func(connected bool, err error) {
				if connected {
					log.Info("connected")
					return
				}
				log.Warn("disconnected", "code", match.Code(err), "error", err)
			},
		},
	})

	<-s.Done()
	if err := s.LastError(); err != nil && match.Fatal(err) {
		return fmt.Errorf("following match %s: %w", cfg.MatchID, err)
	}
	return nil
}

func mvpName(live match.LiveMatchData) string {
	if c := match.MVP(live); c != nil {
		return c.UserID
	}
	return ""
}
