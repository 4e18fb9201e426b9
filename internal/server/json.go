package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/auth"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// writeErr maps a domain error onto its HTTP status. Unknown errors are
// logged and reported as internal without leaking their text.
func writeErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	code := match.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case "VALIDATION":
		status = http.StatusBadRequest
	case "NOT_PARTICIPANT", "PERMISSION_DENIED":
		status = http.StatusForbidden
	case "NOT_FOUND":
		status = http.StatusNotFound
	case "INVALID_STATE", "INVALID_TRANSITION", "CONFLICT":
		status = http.StatusConflict
	case "CONNECTIVITY":
		status = http.StatusServiceUnavailable
	}
	if errors.Is(err, auth.ErrUnauthenticated) {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid or missing token")
		return
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		writeError(w, status, code, "internal error")
		return
	}
	writeError(w, status, code, err.Error())
}
