package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/engine"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
)

type CreateMatchRequest = engine.NewMatch

type EventsResponse struct {
	Events []match.Event `json:"events"`
}

func handleCreateMatch(logger *slog.Logger, svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := identityFrom(r)

		var req CreateMatchRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
			return
		}
		if req.DisplayName == "" {
			req.DisplayName = id.Name
		}

		m, err := svc.CreateMatch(r.Context(), id.UserID, req)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	}
}

func handleGetMatch(logger *slog.Logger, svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.Live(r.Context(), chi.URLParam(r, "matchID"))
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleSnapshot(logger *slog.Logger, svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since, err := sinceParam(r)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		snap, err := svc.Snapshot(r.Context(), chi.URLParam(r, "matchID"), since)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleListEvents(logger *slog.Logger, svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since, err := sinceParam(r)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		snap, err := svc.Snapshot(r.Context(), chi.URLParam(r, "matchID"), since)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, EventsResponse{Events: snap.Events})
	}
}

// sinceParam reads the optional since query parameter. Only events after
// that sequence number are returned; zero means all.
func sinceParam(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: since must be a non-negative integer", match.ErrValidation)
	}
	return since, nil
}
