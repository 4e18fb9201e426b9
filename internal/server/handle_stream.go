package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/broadcast"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/engine"
)

const defaultPingInterval = 30 * time.Second

// handleStream relays match notifications as Server-Sent Events. Each
// notification is sent as an event named after its kind.
func handleStream(logger *slog.Logger, svc *engine.Service, channel broadcast.Channel, pingEvery time.Duration) http.HandlerFunc {
	if pingEvery <= 0 {
		pingEvery = defaultPingInterval
	}
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := chi.URLParam(r, "matchID")
		if _, err := svc.Match(r.Context(), matchID); err != nil {
			writeErr(w, logger, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "INTERNAL", "streaming not supported")
			return
		}

		ch := make(chan broadcast.Notification, broadcast.QueueSize)
		sub, err := channel.Subscribe(matchID, func(n broadcast.Notification) {
			select {
			case ch <- n:
			case <-r.Context().Done():
			}
		})
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		defer sub.Unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		ping := time.NewTicker(pingEvery)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-sub.Done():
				return
			case n := <-ch:
				data, err := json.Marshal(n)
				if err != nil {
					logger.Error("encoding notification", "match_id", matchID, "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Kind, data)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
