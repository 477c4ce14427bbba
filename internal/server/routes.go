package server

import (
	"github.com/go-chi/chi/v5"

	"github.com/4dn-dcic/foursight-sub000/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.runner, s.conn, s.queue)
	h.SetLogger(s.logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Checks
		r.Get("/checks", h.ListChecks)
		r.Post("/checks/{module}/{function}/run", h.RunCheck)

		// Results
		r.Get("/results/{name}/latest", h.GetLatest)
		r.Get("/results/{name}/primary", h.GetPrimary)
		r.Get("/results/{name}/closest", h.GetClosest)
		r.Get("/results/{name}/history", h.GetHistory)
		r.Get("/results/{name}/{uuid}", h.GetByUUID)
		r.Delete("/results/{name}", h.DeleteResults)
	})
}
