package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/Bookwise/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/Bookwise/internal/api/middlewares"
	"github.com/markdave123-py/Bookwise/internal/config"
	"github.com/markdave123-py/Bookwise/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, books *services.BookService, jobs *services.JobService, chat *services.ChatService) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(cfg.JWTSecret, books, jobs, chat),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// NewRouter returns the API routes. Reads need any valid token; mutations of
// jobs and content need the admin role.
func NewRouter(jwtSecret string, books *services.BookService, jobs *services.JobService, chat *services.ChatService) http.Handler {
	bookHandler := handlers.NewBookHandler(books, jobs)
	jobHandler := handlers.NewJobHandler(jobs)
	chatHandler := handlers.NewChatHandler(chat)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(appMiddleware.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(appMiddleware.JWTMiddleware(jwtSecret))

		api.Group(func(read chi.Router) {
			read.Use(middleware.Timeout(60 * time.Second))
			read.Get("/books", bookHandler.ListBooks)
			read.Get("/books/{id}", bookHandler.GetBook)
			read.Get("/books/{id}/content", bookHandler.GetContent)
			read.Get("/books/{id}/overview", bookHandler.GetOverview)
			read.Get("/books/{id}/questions", bookHandler.ListQuestions)
		})

		// Chat may run one synchronous extraction.
		api.With(middleware.Timeout(3*time.Minute)).Post("/books/{id}/chat", chatHandler.Ask)

		api.Group(func(admin chi.Router) {
			admin.Use(appMiddleware.RequireRole("admin"))
			admin.Post("/books", bookHandler.CreateBook)
			admin.Post("/books/upload", bookHandler.UploadBook)
			admin.Post("/books/{id}/process", bookHandler.ProcessBook)
			admin.Put("/books/{id}/content", bookHandler.PutContent)
			admin.Put("/books/{id}/overview", bookHandler.PutOverview)
			admin.Post("/books/{id}/questions", bookHandler.AddQuestion)

			admin.Get("/jobs", jobHandler.ListJobs)
			admin.Get("/jobs/{id}", jobHandler.GetJob)
			admin.Post("/jobs/{id}/retry", jobHandler.RetryJob)
		})
	})

	return r
}

// Start runs the HTTP server.
func (s *Server) Start() {
	log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
