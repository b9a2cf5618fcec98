// Copyright (C) 2025 Wayfarer, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package apiserver exposes the cache layer to the page layer over HTTP.
// Authentication happens upstream; the gateway injects the caller's
// identity as the X-Caller-ID header and this server only enforces
// ownership on writes.
package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/wayfarerhq/tripcache/internal/tripcache"
	"github.com/wayfarerhq/tripcache/tripdb"
)

const callerHeader = "X-Caller-ID"

// Server routes page-layer requests to the cache service.
type Server struct {
	svc    *tripcache.Service
	server *http.Server
}

func NewServer(addr string, svc *tripcache.Service) *Server {
	s := &Server{svc: svc}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/trips/{id}", s.loadTrip)
	mux.HandleFunc("GET /api/trips/{id}/meta", s.loadTripMeta)
	mux.HandleFunc("GET /api/days/{id}", s.loadDay)
	mux.HandleFunc("POST /api/trips/{id}/changes", s.saveChanges)
	mux.HandleFunc("POST /api/trips/{id}/days/{dayID}/field", s.saveDayField)
	mux.HandleFunc("POST /api/trips/{id}/activities/{activityID}/field", s.saveActivityField)
	mux.HandleFunc("POST /api/trips/{id}/invalidate", s.invalidate)
	mux.HandleFunc("POST /api/trips/{id}/days/{dayID}/prefetch", s.prefetchDay)
	mux.HandleFunc("GET /api/cache/metrics", s.metrics)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting api server", slog.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) loadTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.svc.LoadTrip(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (s *Server) loadTripMeta(w http.ResponseWriter, r *http.Request) {
	meta, err := s.svc.LoadTripMeta(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) loadDay(w http.ResponseWriter, r *http.Request) {
	day, err := s.svc.LoadDay(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

type saveChangesResponse struct {
	IDMap map[string]string `json:"id_map"`
}

func (s *Server) saveChanges(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)
	if caller == "" {
		http.Error(w, "missing caller identity", http.StatusUnauthorized)
		return
	}
	var bundle tripdb.ChangeBundle
	if err := json.NewDecoder(r.Body).Decode(&bundle); err != nil {
		http.Error(w, "malformed change bundle: "+err.Error(), http.StatusBadRequest)
		return
	}
	idMap, err := s.svc.SaveChanges(r.Context(), caller, r.PathValue("id"), &bundle)
	if err != nil {
		writeError(w, err)
		return
	}
	if idMap == nil {
		idMap = map[string]string{}
	}
	writeJSON(w, http.StatusOK, saveChangesResponse{IDMap: idMap})
}

func (s *Server) saveDayField(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)
	if caller == "" {
		http.Error(w, "missing caller identity", http.StatusUnauthorized)
		return
	}
	var patch tripdb.DayPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "malformed patch: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.svc.SaveDayField(r.Context(), caller, r.PathValue("id"), r.PathValue("dayID"), patch); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) saveActivityField(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)
	if caller == "" {
		http.Error(w, "missing caller identity", http.StatusUnauthorized)
		return
	}
	var patch tripdb.ActivityPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "malformed patch: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.svc.SaveActivityField(r.Context(), caller, r.PathValue("id"), r.PathValue("activityID"), patch); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) invalidate(w http.ResponseWriter, r *http.Request) {
	s.svc.InvalidateTrip(r.Context(), r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) prefetchDay(w http.ResponseWriter, r *http.Request) {
	s.svc.PrefetchDay(r.Context(), r.PathValue("dayID"), r.PathValue("id"))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) metrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Metrics())
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tripdb.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, tripcache.ErrNotOwner):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		slog.Error("request failed", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.Any("error", err))
	}
}
