package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/engine"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
)

type PlayRequest = match.Play

type UndoResponse struct {
	Undone bool `json:"undone"`
}

type StatusRequest struct {
	Status match.Status `json:"status"`
}

func handleSubmitPlay(logger *slog.Logger, svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PlayRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
			return
		}

		ev, err := svc.SubmitPlay(r.Context(), chi.URLParam(r, "matchID"), identityFrom(r).UserID, req)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, ev)
	}
}

// handleUndo removes the newest event. With eventId set the removal only
// happens while that event is still the newest.
func handleUndo(logger *slog.Logger, svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		undone, err := svc.UndoLastPlay(r.Context(), chi.URLParam(r, "matchID"), identityFrom(r).UserID,
			r.URL.Query().Get("eventId"))
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, UndoResponse{Undone: undone})
	}
}

func handleStatus(logger *slog.Logger, svc *engine.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StatusRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
			return
		}

		m, err := svc.TransitionStatus(r.Context(), chi.URLParam(r, "matchID"), req.Status, identityFrom(r).UserID)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

type transitionFunc func(ctx context.Context, matchID, requesterID string) (match.Match, error)

func handleLifecycle(logger *slog.Logger, transition transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := transition(r.Context(), chi.URLParam(r, "matchID"), identityFrom(r).UserID)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}
