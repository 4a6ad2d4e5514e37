// Package server implements the HTTP gateway: the JSON API, uploads, and the
// fallback dispatcher that serves custom routes and media aliases.
package server

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/banux/nxt-media/internal/logging"
	"github.com/banux/nxt-media/internal/media"
	"github.com/banux/nxt-media/internal/metrics"
	"github.com/banux/nxt-media/web"
)

// RouteTable is the persistent route store.
type RouteTable interface {
	Add(r media.Route) error
	Update(r media.Route) error
	Delete(name string) error
	Get(name string) (media.Route, bool)
	List() []media.Route
	Invalidate()
}

// MediaCache is the discovered media listing.
type MediaCache interface {
	List(ctx context.Context, force bool) []media.File
	Lookup(ctx context.Context, virtualPath string) (media.File, bool)
	Invalidate()
}

// UploadStore persists uploaded payloads.
type UploadStore interface {
	Save(name string, data []byte) (string, error)
}

// Rescanner re-indexes the media library.
type Rescanner interface {
	Scan(ctx context.Context) error
}

// Options holds optional configuration for the Server.
type Options struct {
	// MaxUploadSize is the largest accepted upload body in bytes.
	// Zero means 512 MiB.
	MaxUploadSize int64

	// MediaListTimeout bounds GET /api/media. Zero means 15s.
	MediaListTimeout time.Duration

	// Rescanner, if set, is run by POST /api/refresh before the media
	// cache is invalidated.
	Rescanner Rescanner

	// TemplateFS holds index.html and viewer.html. Defaults to web.FS.
	TemplateFS fs.FS
}

// Server is the HTTP gateway.
type Server struct {
	router  *mux.Router
	handler http.Handler

	routes  RouteTable
	cache   MediaCache
	uploads UploadStore

	index  *template.Template
	viewer *template.Template
	opts   Options
}

// New creates and configures a new Server. It fails only if the page
// templates cannot be parsed.
func New(routes RouteTable, cache MediaCache, uploads UploadStore, opts Options) (*Server, error) {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 512 << 20
	}
	if opts.MediaListTimeout <= 0 {
		opts.MediaListTimeout = 15 * time.Second
	}
	if opts.TemplateFS == nil {
		opts.TemplateFS = web.FS
	}

	index, err := template.ParseFS(opts.TemplateFS, "index.html")
	if err != nil {
		return nil, fmt.Errorf("parse index template: %w", err)
	}
	viewer, err := template.ParseFS(opts.TemplateFS, "viewer.html")
	if err != nil {
		return nil, fmt.Errorf("parse viewer template: %w", err)
	}

	s := &Server{
		router:  mux.NewRouter(),
		routes:  routes,
		cache:   cache,
		uploads: uploads,
		index:   index,
		viewer:  viewer,
		opts:    opts,
	}
	s.registerRoutes()
	s.handler = corsMiddleware(recoverMiddleware(s.router))
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// registerRoutes sets up the fixed endpoints ahead of the fallback
// dispatcher, so exact API paths always take precedence over route names.
func (s *Server) registerRoutes() {
	r := s.router
	r.Use(metrics.Middleware)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet, http.MethodHead).Name("index")

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet).Name("api.health")

	r.HandleFunc("/api/media", s.handleAPIMedia).Methods(http.MethodGet).Name("api.media")

	r.HandleFunc("/api/routes", s.handleAPIListRoutes).Methods(http.MethodGet).Name("api.routes.list")
	r.HandleFunc("/api/routes", s.handleAPIAddRoute).Methods(http.MethodPost).Name("api.routes.add")
	r.HandleFunc("/api/routes", s.handleAPIUpdateRoute).Methods(http.MethodPut).Name("api.routes.update")
	r.HandleFunc("/api/routes", s.handleAPIDeleteRoute).Methods(http.MethodDelete).Name("api.routes.delete")

	r.HandleFunc("/api/refresh", s.handleAPIRefresh).Methods(http.MethodPost).Name("api.refresh")

	r.HandleFunc("/api/upload", s.handleUpload).Methods(http.MethodPost).Name("api.upload")

	// Everything else: custom routes, then media aliases, then 404.
	r.PathPrefix("/").HandlerFunc(s.handleDispatch).Name("dispatch")
}

// corsMiddleware adds permissive cross-origin headers to every response and
// answers preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Range, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverMiddleware turns a handler panic into a 500 JSON response.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.WithContext(r.Context()).Error("handler panic",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, result{
					Success: false,
					Message: fmt.Sprintf("internal error: %v", rec),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
