package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/engine"
	"github.com/KumarDevelopmentUS/DS5-sub001/internal/match"
)

// HealthResponse maps each dependency to its status.
type HealthResponse map[string]struct {
	Status string `json:"status"`
}

type matchPath struct {
	MatchID string `path:"matchID"`
}

type sinceQuery struct {
	MatchID string `path:"matchID"`
	Since   uint64 `query:"since"`
}

type playerPath struct {
	MatchID string `path:"matchID"`
	UserID  string `path:"userID"`
}

type undoQuery struct {
	MatchID string `path:"matchID"`
	EventID string `query:"eventId"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Live Match API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Live synchronization for dice-game matches. All /api routes require a Bearer token.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of backend dependencies.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// POST /api/matches
	createMatch, _ := r.NewOperationContext(http.MethodPost, "/api/matches")
	createMatch.SetSummary("Create match")
	createMatch.SetDescription("Creates a pending match. The caller is seated as host.")
	createMatch.AddReqStructure(CreateMatchRequest{})
	createMatch.AddRespStructure(match.Match{}, openapi.WithHTTPStatus(http.StatusCreated))
	createMatch.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	createMatch.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(createMatch)

	// GET /api/matches/{matchID}
	getMatch, _ := r.NewOperationContext(http.MethodGet, "/api/matches/{matchID}")
	getMatch.SetSummary("Get match")
	getMatch.SetDescription("Returns the match with its aggregated stats, MVP and leaderboard.")
	getMatch.AddReqStructure(matchPath{})
	getMatch.AddRespStructure(engine.LiveView{}, openapi.WithHTTPStatus(http.StatusOK))
	getMatch.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getMatch)

	// GET /api/matches/{matchID}/snapshot
	getSnapshot, _ := r.NewOperationContext(http.MethodGet, "/api/matches/{matchID}/snapshot")
	getSnapshot.SetSummary("Get snapshot")
	getSnapshot.SetDescription("Returns the match, the events after since and the present set, read consistently.")
	getSnapshot.AddReqStructure(sinceQuery{})
	getSnapshot.AddRespStructure(match.Snapshot{}, openapi.WithHTTPStatus(http.StatusOK))
	getSnapshot.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	getSnapshot.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getSnapshot)

	// GET /api/matches/{matchID}/events
	listEvents, _ := r.NewOperationContext(http.MethodGet, "/api/matches/{matchID}/events")
	listEvents.SetSummary("List events")
	listEvents.SetDescription("Returns the events after since in sequence order.")
	listEvents.AddReqStructure(sinceQuery{})
	listEvents.AddRespStructure(EventsResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	listEvents.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(listEvents)

	// POST /api/matches/{matchID}/join
	join, _ := r.NewOperationContext(http.MethodPost, "/api/matches/{matchID}/join")
	join.SetSummary("Join match")
	join.SetDescription("Takes a seat while the match is pending. Joining twice is a no-op.")
	join.AddReqStructure(struct {
		matchPath
		JoinRequest
	}{})
	join.AddRespStructure(match.Match{}, openapi.WithHTTPStatus(http.StatusOK))
	join.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(join)

	// PUT /api/matches/{matchID}/players/{userID}
	reassign, _ := r.NewOperationContext(http.MethodPut, "/api/matches/{matchID}/players/{userID}")
	reassign.SetSummary("Reassign player")
	reassign.SetDescription("Moves a player to another seat, swapping with its occupant. Host only.")
	reassign.AddReqStructure(struct {
		playerPath
		ReassignRequest
	}{})
	reassign.AddRespStructure(match.Match{}, openapi.WithHTTPStatus(http.StatusOK))
	reassign.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	reassign.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(reassign)

	// DELETE /api/matches/{matchID}/players/{userID}
	kick, _ := r.NewOperationContext(http.MethodDelete, "/api/matches/{matchID}/players/{userID}")
	kick.SetSummary("Remove player")
	kick.SetDescription("Removes a player while the match is pending. Host only.")
	kick.AddReqStructure(playerPath{})
	kick.AddRespStructure(match.Match{}, openapi.WithHTTPStatus(http.StatusOK))
	kick.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	_ = r.AddOperation(kick)

	// POST /api/matches/{matchID}/plays
	submitPlay, _ := r.NewOperationContext(http.MethodPost, "/api/matches/{matchID}/plays")
	submitPlay.SetSummary("Submit play")
	submitPlay.SetDescription("Appends a play to the event log of an active match.")
	submitPlay.AddReqStructure(struct {
		matchPath
		PlayRequest
	}{})
	submitPlay.AddRespStructure(match.Event{}, openapi.WithHTTPStatus(http.StatusCreated))
	submitPlay.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	submitPlay.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	submitPlay.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(submitPlay)

	// DELETE /api/matches/{matchID}/plays/last
	undo, _ := r.NewOperationContext(http.MethodDelete, "/api/matches/{matchID}/plays/last")
	undo.SetSummary("Undo last play")
	undo.SetDescription("Removes the newest event. With eventId, only while that event is still the newest. Host only.")
	undo.AddReqStructure(undoQuery{})
	undo.AddRespStructure(UndoResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	undo.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	undo.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(undo)

	// POST /api/matches/{matchID}/status
	status, _ := r.NewOperationContext(http.MethodPost, "/api/matches/{matchID}/status")
	status.SetSummary("Change status")
	status.SetDescription("Moves the match through pending, active, paused and completed. Host only.")
	status.AddReqStructure(struct {
		matchPath
		StatusRequest
	}{})
	status.AddRespStructure(match.Match{}, openapi.WithHTTPStatus(http.StatusOK))
	status.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	status.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(status)

	for _, action := range []string{"start", "pause", "resume", "end"} {
		op, _ := r.NewOperationContext(http.MethodPost, "/api/matches/{matchID}/"+action)
		op.SetSummary("Match " + action)
		op.AddReqStructure(matchPath{})
		op.AddRespStructure(match.Match{}, openapi.WithHTTPStatus(http.StatusOK))
		op.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
		op.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
		_ = r.AddOperation(op)
	}

	// POST /api/matches/{matchID}/heartbeat
	heartbeat, _ := r.NewOperationContext(http.MethodPost, "/api/matches/{matchID}/heartbeat")
	heartbeat.SetSummary("Presence heartbeat")
	heartbeat.SetDescription("Marks the caller present on the match and returns the present set.")
	heartbeat.AddReqStructure(matchPath{})
	heartbeat.AddRespStructure(PresenceResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	heartbeat.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(heartbeat)

	// GET /api/matches/{matchID}/presence
	getPresence, _ := r.NewOperationContext(http.MethodGet, "/api/matches/{matchID}/presence")
	getPresence.SetSummary("Present users")
	getPresence.AddReqStructure(matchPath{})
	getPresence.AddRespStructure(PresenceResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getPresence.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getPresence)

	// DELETE /api/matches/{matchID}/presence
	leave, _ := r.NewOperationContext(http.MethodDelete, "/api/matches/{matchID}/presence")
	leave.SetSummary("Leave match")
	leave.SetDescription("Removes the caller from the present set.")
	leave.AddReqStructure(matchPath{})
	leave.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusNoContent))
	_ = r.AddOperation(leave)

	// GET /api/matches/{matchID}/stream
	stream, _ := r.NewOperationContext(http.MethodGet, "/api/matches/{matchID}/stream")
	stream.SetSummary("SSE notification stream")
	stream.SetDescription("Server-Sent Events named after the notification kind. Pass token as query parameter.")
	stream.AddReqStructure(matchPath{})
	stream.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	_ = r.AddOperation(stream)

	// GET /api/matches/{matchID}/live
	live, _ := r.NewOperationContext(http.MethodGet, "/api/matches/{matchID}/live")
	live.SetSummary("Live WebSocket")
	live.SetDescription(`Upgrades to a WebSocket carrying notifications to the client. Clients send {"type":"heartbeat"} frames.`)
	live.AddReqStructure(matchPath{})
	live.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols),
		openapi.WithContentType("text/plain"))
	_ = r.AddOperation(live)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
