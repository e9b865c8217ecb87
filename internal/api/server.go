// Package api exposes the engine operations as a JSON HTTP surface.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/lineage-cli/internal/engine"
)

// Server routes HTTP requests to one Engine.
type Server struct {
	engine  *engine.Engine
	origins []string
	log     *zap.Logger
}

// New creates a Server. origins lists allowed CORS origins; empty means "*".
func New(e *engine.Engine, origins []string) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		engine:  e,
		origins: origins,
		log:     zap.L().With(zap.String("component", "api")),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.engine.Registry(), promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Route("/datasets", func(r chi.Router) {
			r.Get("/", s.listDatasets)
			r.Get("/{name}", s.getDataset)
			r.Post("/{name}", s.ingestDataset)
			r.Get("/{name}/movements", s.movements)
		})
		r.Get("/lookup", s.lookup)

		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", s.defineNode)
			r.Get("/{id}", s.getNode)
			r.Post("/{id}/evaluate", s.evaluateNode)
			r.Get("/{id}/lineage", s.lineage)
		})

		r.Route("/benchmarks", func(r chi.Router) {
			r.Get("/", s.listBenchmarks)
			r.Post("/", s.runBenchmark)
			r.Post("/{name}/run", s.runRegistered)
		})

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.listDocuments)
			r.Get("/{doc}/references", s.listReferences)
			r.Post("/{doc}/references", s.bindReference)
			r.Post("/{doc}/refresh", s.refreshDocument)
			r.Post("/{doc}/render", s.renderDocument)
		})

		r.Route("/references/{token}", func(r chi.Router) {
			r.Get("/", s.getReference)
			r.Post("/refresh", s.refreshReference)
			r.Delete("/", s.unbindReference)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
