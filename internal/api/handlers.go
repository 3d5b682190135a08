package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/AdrianLuk12/sociarch-scraper/internal/domain"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := map[string]string{}

	if err := s.pg.Ping(ctx); err != nil {
		health["postgres"] = "unhealthy"
		s.log.Error("health check failed for postgres", zap.Error(err))
	} else {
		health["postgres"] = "healthy"
	}

	if s.rdb != nil {
		if err := s.rdb.Ping(ctx); err != nil {
			health["redis"] = "unhealthy"
			s.log.Error("health check failed for redis", zap.Error(err))
		} else {
			health["redis"] = "healthy"
		}
	}

	for _, v := range health {
		if v != "healthy" {
			s.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}
	}
	s.respondJSON(w, http.StatusOK, health)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary := s.summaries.LastSummary()
	if summary == nil {
		s.respondError(w, http.StatusNotFound, "no run has completed yet")
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) entityStatusHandler(kind domain.ItemKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if key == "" {
			s.respondError(w, http.StatusBadRequest, "entity key is required")
			return
		}

		status, err := s.pg.GetEntityStatus(r.Context(), kind, key)
		if err != nil {
			s.log.Error("entity status lookup failed",
				zap.String("kind", string(kind)), zap.String("key", key), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, "could not retrieve entity status")
			return
		}
		if status == nil {
			s.respondError(w, http.StatusNotFound, "entity not found")
			return
		}
		s.respondJSON(w, http.StatusOK, status)
	}
}

func (s *Server) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	body, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}
