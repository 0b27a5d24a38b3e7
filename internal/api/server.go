package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bbcompare/internal/cache"
	"bbcompare/internal/config"
	"bbcompare/internal/monitoring"
	"bbcompare/internal/orchestrator"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	config     *config.Config
	router     http.Handler
	httpServer *http.Server
	orch       *orchestrator.Orchestrator
	results    *cache.ResultCache
	metrics    *monitoring.Metrics
	logger     *zap.Logger
}

func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, results *cache.ResultCache, m *monitoring.Metrics, l *zap.Logger) *Server {
	s := &Server{
		config:  cfg,
		orch:    orch,
		results: results,
		metrics: m,
		logger:  l,
	}
	s.router = s.setupRouter()
	return s
}

// compareBudget bounds one request end to end: the slowest possible compare
// is every provider timing out sequentially on one worker, so the budget is
// generous rather than tight.
func (s *Server) compareBudget() time.Duration {
	return time.Duration(s.config.ScrapeTimeout)*time.Second*2 + 30*time.Second
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.config.ServerPort),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.compareBudget() + 10*time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
