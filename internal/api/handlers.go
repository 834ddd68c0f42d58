package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	tracked := s.tracker.Snapshot()
	payload := map[string]any{
		"endpoints":     s.client.Stats(),
		"breaker_state": s.client.BreakerState(),
		"tracked_count": len(tracked),
	}
	s.respondWithJSON(w, http.StatusOK, payload)
}

func (s *Server) handleTracked(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]string)

	if err := s.pgStore.Ping(ctx); err != nil {
		healthStatus["postgres"] = "unhealthy"
		s.logger.Error("health check failed for postgres", zap.Error(err))
	} else {
		healthStatus["postgres"] = "healthy"
	}

	// Redis down means degraded (no cache/dedup), not unhealthy: the
	// polling engine keeps working without it.
	if err := s.redisStore.Ping(ctx); err != nil {
		healthStatus["redis"] = "degraded"
		s.logger.Warn("health check failed for redis", zap.Error(err))
	} else {
		healthStatus["redis"] = "healthy"
	}

	if healthStatus["postgres"] != "healthy" {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
