package api

import (
	"log/slog"
	"net/http"

	"github.com/dgallion1/docembed/internal/config"
	"github.com/dgallion1/docembed/internal/embedding"
	"github.com/dgallion1/docembed/internal/pipeline"
	"github.com/dgallion1/docembed/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP API server for docembed.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	files        store.Store
	counter      store.Counter
	stats        *embedding.Stats
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, files store.Store, counter store.Counter, stats *embedding.Stats, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		files:        files,
		counter:      counter,
		stats:        stats,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Route("/api/projects/{projectID}", func(r chi.Router) {
			r.Post("/ingest", s.handleIngest)
			r.Post("/ingest/batch", s.handleBatchIngest)
			r.Get("/files", s.handleListFiles)
			r.Get("/usage", s.handleUsage)
		})
		r.Get("/api/ingest/{jobID}/status", s.handleIngestStatus)
		r.Get("/api/stats/embeddings", s.handleEmbeddingStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
