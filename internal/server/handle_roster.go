package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/engine"
)

type JoinRequest struct {
	DisplayName string `json:"displayName"`
	// Position is the seat to take, any free seat when zero.
	Position int  `json:"position,omitempty"`
	Guest    bool `json:"guest,omitempty"`
}

type ReassignRequest struct {
	Position int `json:"position"`
}

func handleJoin(logger *slog.Logger, svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := identityFrom(r)

		var req JoinRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
			return
		}
		if req.DisplayName == "" {
			req.DisplayName = id.Name
		}

		m, err := svc.JoinMatch(r.Context(), chi.URLParam(r, "matchID"), id.UserID, req.DisplayName, req.Position, req.Guest)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func handleReassign(logger *slog.Logger, svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReassignRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
			return
		}

		m, err := svc.ReassignPlayer(r.Context(), chi.URLParam(r, "matchID"), identityFrom(r).UserID,
			chi.URLParam(r, "userID"), req.Position)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func handleKick(logger *slog.Logger, svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := svc.KickPlayer(r.Context(), chi.URLParam(r, "matchID"), identityFrom(r).UserID,
			chi.URLParam(r, "userID"))
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}
