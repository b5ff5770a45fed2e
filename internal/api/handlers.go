package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rahal-transit/bustrack/internal/auth"
	"github.com/rahal-transit/bustrack/internal/track"
)

// IngestHandler is the HTTP boundary in front of the ingestion gate.
// It authenticates the reporting actor and confirms it is the assigned
// reporter for the bus before the gate ever sees the sample.
type IngestHandler struct {
	Ingestor *track.Ingestor
	Auth     auth.Authenticator
	Authz    auth.Authorizer
}

type reportRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type reportResponse struct {
	Timestamp string `json:"timestamp"`
}

// HandleReport accepts one position sample for the bus in the path.
// The 202 goes out as soon as the gate accepts the sample; delivery to
// observers happens independently.
func (h *IngestHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := L(ctx)
	busID := chi.URLParam(r, "busID")

	identity, err := h.Auth.Authenticate(ctx, bearerToken(r))
	if err != nil {
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}
	if identity.Role != track.RoleReporter {
		http.Error(w, "only reporters submit locations", http.StatusForbidden)
		return
	}
	assigned, err := h.Authz.IsAssignedReporter(ctx, identity.ActorID, busID)
	if err != nil {
		log.Error("reporter assignment lookup failed", zap.Error(err))
		http.Error(w, "authorization unavailable", http.StatusInternalServerError)
		return
	}
	if !assigned {
		http.Error(w, "not the assigned reporter for this bus", http.StatusForbidden)
		return
	}

	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		http.Error(w, "latitude and longitude are required", http.StatusBadRequest)
		return
	}

	ts, err := h.Ingestor.Ingest(ctx, busID, *req.Latitude, *req.Longitude)
	switch {
	case errors.Is(err, track.ErrOutOfRange):
		http.Error(w, "coordinates out of range", http.StatusBadRequest)
		return
	case errors.Is(err, track.ErrStale):
		// Dropped server-side; the reporter did nothing wrong and is
		// acknowledged like any accepted sample.
	case err != nil:
		log.Error("ingest failed", zap.Error(err))
		http.Error(w, "ingest failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(reportResponse{Timestamp: ts.Format(time.RFC3339Nano)})
}

// handleConnections reports the live registrations for the ops console.
func handleConnections(reg *track.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reg.SnapshotView())
	}
}
