package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/engine"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
)

type PresenceResponse struct {
	Present []match.PresenceRecord `json:"present"`
}

func handleHeartbeat(logger *slog.Logger, svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		present, err := svc.Heartbeat(r.Context(), chi.URLParam(r, "matchID"), identityFrom(r).UserID)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, PresenceResponse{Present: present})
	}
}

func handlePresence(logger *slog.Logger, svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		present, err := svc.Present(r.Context(), chi.URLParam(r, "matchID"))
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, PresenceResponse{Present: present})
	}
}

func handleLeave(svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Leave(chi.URLParam(r, "matchID"), identityFrom(r).UserID)
		w.WriteHeader(http.StatusNoContent)
	}
}
