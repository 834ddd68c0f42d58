package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/user/scraper-service/internal/config"
	"github.com/user/scraper-service/internal/scraper"
	"github.com/user/scraper-service/internal/storage"
	"github.com/user/scraper-service/internal/tracker"
)

// Server holds the dependencies for the observability HTTP server.
type Server struct {
	config     *config.Config
	router     http.Handler
	httpServer *http.Server
	client     *scraper.Client
	tracker    *tracker.Tracker
	pgStore    *storage.PostgresStore
	redisStore *storage.RedisStore
	logger     *zap.Logger
}

func NewServer(cfg *config.Config, cl *scraper.Client, tr *tracker.Tracker, ps *storage.PostgresStore, rs *storage.RedisStore, l *zap.Logger) *Server {
	s := &Server{
		config:     cfg,
		client:     cl,
		tracker:    tr,
		pgStore:    ps,
		redisStore: rs,
		logger:     l,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.config.ServerPort),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
