package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rahal-transit/bustrack/internal/track"
)

func SetupRoutes(ws *WSHandler, ingest *IngestHandler, reg *track.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/buses/{busID}/location", ingest.HandleReport)
		r.Get("/track/connections", handleConnections(reg))
	})

	r.Get("/ws/track", ws.HandleWS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
