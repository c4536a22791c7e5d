package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rzx/internal/api/middleware"
	"github.com/eldtechnologies/rzx/internal/handlers"
)

const maxBodySize = 1 << 20 // 1MB, room for base64 images

// Options carries everything the router mounts.
type Options struct {
	Handler     *handlers.Handler
	Relay       http.Handler
	Redis       *redis.Client // optional, backs the rate limiter
	RateLimit   middleware.RateLimiterConfig
	ProjectsDir string
	PreviewsDir string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBodySize))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(opts.Redis, logger, opts.RateLimit)
	r.Use(limiter.Middleware)

	// CORS - browsers embed the chat from any origin
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := opts.Handler

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)
	if opts.Relay != nil {
		r.Handle("/ws", opts.Relay)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/", h.Root)
		r.Get("/status", h.Status)
		r.Post("/message", h.PostMessage)

		r.Get("/projects", h.ListProjects)
		r.Delete("/projects/{id}", h.DeleteProject)
		r.Post("/projects/{id}/preview", h.CreateProjectPreview)
		r.Post("/previews", h.CreatePreview)

		r.Post("/project-events", h.NotifyProjectEvent)
		r.Get("/project-events/latest", h.LatestProjectEvent)

		r.Get("/chats/{clientId}/messages", h.ListChatMessages)
		r.Post("/chats/{clientId}/messages", h.AppendChatMessage)

		r.Route("/llm", func(r chi.Router) {
			r.Post("/completion", h.Completion)
			r.Post("/analyze-image", h.AnalyzeImage)
			r.Post("/analyze-code", h.AnalyzeCode)
			r.Post("/explain-code", h.ExplainCode)
		})
	})

	// Materialized projects and previews are served as static sites
	if opts.ProjectsDir != "" {
		r.Handle("/projects/*", http.StripPrefix("/projects/", http.FileServer(http.Dir(opts.ProjectsDir))))
	}
	if opts.PreviewsDir != "" {
		r.Handle("/previews/*", http.StripPrefix("/previews/", http.FileServer(http.Dir(opts.PreviewsDir))))
	}

	return r
}
