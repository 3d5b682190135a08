package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/AdrianLuk12/sociarch-scraper/internal/domain"
	"github.com/AdrianLuk12/sociarch-scraper/internal/storage"
)

// SummarySource exposes the most recent batch summary. Implemented by the
// scheduler.
type SummarySource interface {
	LastSummary() *domain.RunSummary
}

// Server is the ops HTTP surface: health, metrics, last-run summary and
// stored-record point lookups. It serves no scraping functionality.
type Server struct {
	httpServer *http.Server
	pg         *storage.Postgres
	rdb        *storage.Redis
	summaries  SummarySource
	log        *zap.Logger
}

func NewServer(port string, pg *storage.Postgres, rdb *storage.Redis, summaries SummarySource, log *zap.Logger) *Server {
	s := &Server{pg: pg, rdb: rdb, summaries: summaries, log: log}
	s.httpServer = &http.Server{
		Addr:         ":" + port,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
