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

// Package healthcheck serves liveness and readiness probes. Readiness is
// probe-based: the serve command registers one probe per external
// collaborator (the trip store, the KV store) and readyz reports healthy
// only while every probe passes.
package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

type Status int32

const (
	StatusStarting Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Probe checks one external dependency. A nil error means ready.
type Probe func(ctx context.Context) error

type probeResult struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

type response struct {
	Healthy bool          `json:"healthy"`
	Probes  []probeResult `json:"probes,omitempty"`
}

// Server is the health endpoint listener.
type Server struct {
	port   int
	status atomic.Int32

	mu     sync.Mutex
	names  []string
	probes map[string]Probe

	server *http.Server
}

func NewServer(port int) *Server {
	if port == 0 {
		port = 8090
	}
	return &Server{port: port, probes: make(map[string]Probe)}
}

// AddProbe registers a named readiness probe. Probes run on every readyz
// request, in registration order.
func (s *Server) AddProbe(name string, probe Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.probes[name]; !exists {
		s.names = append(s.names, name)
	}
	s.probes[name] = probe
}

func (s *Server) SetStatus(status Status) {
	s.status.Store(int32(status))
	slog.Debug("health status updated", slog.String("status", status.String()))
}

func (s *Server) GetStatus() Status {
	return Status(s.status.Load())
}

// Start serves until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.HandleFunc("/readyz", s.readyzHandler)
	mux.HandleFunc("/livez", s.livezHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	s.SetStatus(StatusStarting)
	slog.Info("starting health check server", slog.Int("port", s.port))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server error", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	return s.Stop()
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.GetStatus() == StatusHealthy, nil)
}

func (s *Server) livezHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.GetStatus() != StatusUnhealthy, nil)
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	s.mu.Lock()
	names := append([]string(nil), s.names...)
	probes := make(map[string]Probe, len(s.probes))
	for k, v := range s.probes {
		probes[k] = v
	}
	s.mu.Unlock()

	ready := s.GetStatus() == StatusHealthy
	results := make([]probeResult, 0, len(names))
	for _, name := range names {
		err := probes[name](ctx)
		res := probeResult{Name: name, Ready: err == nil}
		if err != nil {
			res.Error = err.Error()
			ready = false
		}
		results = append(results, res)
	}
	writeJSON(w, ready, results)
}

func writeJSON(w http.ResponseWriter, healthy bool, probes []probeResult) {
	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(response{Healthy: healthy, Probes: probes}); err != nil {
		slog.Error("failed to encode health response", slog.Any("error", err))
	}
}
