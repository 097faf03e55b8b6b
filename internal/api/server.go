package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/studypack/internal/config"
	"github.com/dgallion1/studypack/internal/generate"
	"github.com/dgallion1/studypack/internal/pipeline"
)

// Server is the HTTP API server for studypack.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	stats        *generate.LLMStats
	model        string
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, stats *generate.LLMStats, model string, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		stats:        stats,
		model:        model,
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
		r.Use(AuthMiddleware(s.cfg.StudypackAPIKey, s.log))

		r.Post("/api/guides", s.handleCreateGuide)
		r.Post("/api/guides/batch", s.handleBatchCreateGuides)
		r.Get("/api/guides/{jobID}/status", s.handleGuideStatus)
		r.Get("/api/guides/{jobID}/result", s.handleGuideResult)
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.orchestrator.QueueDepth(),
	})
}
