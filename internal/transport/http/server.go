// Package http exposes the tracking pipeline over HTTP: telemetry ingest,
// latest-position and history queries, the live websocket feed, metrics,
// and health. Parsing and routing only; all semantics live below.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"fleettrack/internal/auth"
	"fleettrack/internal/domain"
	"fleettrack/internal/hub"
	"fleettrack/internal/ingest"
	"fleettrack/internal/metrics"
)

type Server struct {
	svc *ingest.Service
	hub *hub.Registry
	log *logrus.Logger
}

func NewServer(svc *ingest.Service, registry *hub.Registry, authn *auth.Authenticator, log *logrus.Logger) http.Handler {
	s := &Server{svc: svc, hub: registry, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", metrics.HandleMetrics).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(NewAuthMiddleware(authn).Wrap)
	api.HandleFunc("/telemetry", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{external_id}/position", s.handlePosition).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{external_id}/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{external_id}/live", s.handleLive).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	orgID, ok := OrgFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing organization context")
		return
	}

	var report ingest.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	result, err := s.svc.Ingest(r.Context(), orgID, report)
	if err != nil {
		s.writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":        true,
		"buffered":       result.Buffered,
		"recorded_at":    result.RecordedAt,
		"correlation_id": result.CorrelationID,
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	orgID, ok := OrgFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing organization context")
		return
	}

	point, found, err := s.svc.Latest(r.Context(), orgID, mux.Vars(r)["external_id"])
	if err != nil {
		s.writeIngestError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no recent position")
		return
	}
	writeJSON(w, http.StatusOK, point)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	orgID, ok := OrgFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing organization context")
		return
	}

	var sinceMS int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		var err error
		sinceMS, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be epoch milliseconds")
			return
		}
	}

	points, err := s.svc.History(r.Context(), orgID, mux.Vars(r)["external_id"], sinceMS)
	if err != nil {
		s.writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(points),
		"points": points,
	})
}

func (s *Server) writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCoordinates):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrVehicleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.WithError(err).Error("ingestion failed")
		writeError(w, http.StatusInternalServerError, "ingestion failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
