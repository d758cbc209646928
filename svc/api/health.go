package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"wordbin/svc/util"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Ready  bool   `json:"ready"`
	Pastes int    `json:"pastes"`
	Cache  string `json:"cache"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Ready:  true,
		Pastes: s.store.Len(),
		Cache:  "unavailable",
	}
	if s.rdb != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := s.rdb.Ping(ctx); err != nil {
			util.Error().Err(err).Msg("redis health check failed")
			resp.Cache = "down"
		} else {
			resp.Cache = "up"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
