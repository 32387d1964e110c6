package preview

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.cfg.BasicAuth.Enabled {
			r.Use(s.requireBasicAuth)
		}

		if s.cfg.RateLimit.Enabled {
			r.Use(s.limitClients(s.cfg.RateLimit.RequestsPerMinute))
		}

		if s.manifest != nil {
			r.Route("/_manifest", func(r chi.Router) {
				r.Get("/runs", s.handleListRuns)
				r.Get("/runs/{runID}", s.handleGetRun)
			})
		}

		r.Get("/*", s.handleObject)
		r.Head("/*", s.handleObject)
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the preview config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
