package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swaggest/swgui/v5emb"

	"github.com/KumarDevelopmentUS/DS5-sub001/internal/handler/health"
)

func addRoutes(r chi.Router, logger *slog.Logger, deps Deps) {
	svc := deps.Engine

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Live Match API", "/openapi.json", "/docs"))
	r.Mount("/healthz", health.NewHandler(logger, deps.Checks).Routes())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/matches", func(r chi.Router) {
		r.Use(authMiddleware(deps.Verifier))

		r.Post("/", handleCreateMatch(logger, svc))
		r.Route("/{matchID}", func(r chi.Router) {
			r.Get("/", handleGetMatch(logger, svc))
			r.Get("/snapshot", handleSnapshot(logger, svc))
			r.Get("/events", handleListEvents(logger, svc))

			r.Post("/join", handleJoin(logger, svc))
			r.Put("/players/{userID}", handleReassign(logger, svc))
			r.Delete("/players/{userID}", handleKick(logger, svc))

			r.Post("/plays", handleSubmitPlay(logger, svc))
			r.Delete("/plays/last", handleUndo(logger, svc))

			r.Post("/status", handleStatus(logger, svc))
			r.Post("/start", handleLifecycle(logger, svc.StartMatch))
			r.Post("/pause", handleLifecycle(logger, svc.PauseMatch))
			r.Post("/resume", handleLifecycle(logger, svc.ResumeMatch))
			r.Post("/end", handleLifecycle(logger, svc.EndMatch))

			r.Post("/heartbeat", handleHeartbeat(logger, svc))
			r.Get("/presence", handlePresence(logger, svc))
			r.Delete("/presence", handleLeave(svc))

			r.Get("/stream", handleStream(logger, svc, deps.Channel, deps.PingInterval))
			r.Get("/live", handleLive(logger, svc, deps.Channel))
		})
	})
}
