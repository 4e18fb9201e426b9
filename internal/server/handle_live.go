package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/broadcast"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/engine"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
)

const liveWriteTimeout = 5 * time.Second

// LiveMessage is a client to server frame on the live socket.
type LiveMessage struct {
	Type string `json:"type"`
}

// handleLive upgrades to a WebSocket that carries notifications to the
// client and heartbeats from it. A ready frame follows the subscription so
// the client knows when it is safe to snapshot. A heartbeat the engine rejects closes the
// socket with a policy violation whose reason is the error code.
func handleLive(logger *slog.Logger, svc *engine.Service, channel broadcast.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := chi.URLParam(r, "matchID")
		userID := identityFrom(r).UserID
		if _, err := svc.Match(r.Context(), matchID); err != nil {
			writeErr(w, logger, err)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sub, err := channel.Subscribe(matchID, func(n broadcast.Notification) {
			data, err := json.Marshal(n)
			if err != nil {
				logger.Error("encoding notification", "match_id", matchID, "error", err)
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, liveWriteTimeout)
			defer wcancel()
			if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
				logger.Debug("websocket write failed", "error", err)
				cancel()
			}
		})
		if err != nil {
			logger.Warn("subscribing live socket", "match_id", matchID, "error", err)
			conn.Close(websocket.StatusTryAgainLater, match.Code(err))
			return
		}
		defer svc.Leave(matchID, userID)
		defer sub.Unsubscribe()

		// Notifications may already have been written ahead of this frame;
		// the client keeps them.
		ready, _ := json.Marshal(broadcast.Notification{Kind: broadcast.KindReady, MatchID: matchID})
		wctx, wcancel := context.WithTimeout(ctx, liveWriteTimeout)
		err = conn.Write(wctx, websocket.MessageText, ready)
		wcancel()
		if err != nil {
			logger.Debug("websocket write failed", "error", err)
			return
		}

		go func() {
			select {
			case <-sub.Done():
				cancel()
			case <-ctx.Done():
			}
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				logger.Debug("websocket read ended", "match_id", matchID, "error", err)
				return
			}
			var msg LiveMessage
			if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "heartbeat" {
				continue
			}
			if _, err := svc.Heartbeat(ctx, matchID, userID); err != nil {
				logger.Info("live heartbeat rejected", "match_id", matchID, "user_id", userID, "error", err)
				conn.Close(websocket.StatusPolicyViolation, match.Code(err))
				return
			}
		}
	}
}
