package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pusheen1024/mapview/internal/api"
	"github.com/pusheen1024/mapview/internal/api/viewer"
	"github.com/pusheen1024/mapview/internal/db"
	"github.com/pusheen1024/mapview/internal/geocoder"
	"github.com/pusheen1024/mapview/internal/history"
	"github.com/pusheen1024/mapview/internal/logger"
	"github.com/pusheen1024/mapview/internal/service"
	"github.com/pusheen1024/mapview/internal/staticmap"
	"github.com/pusheen1024/mapview/internal/telemetry"
	"github.com/pusheen1024/mapview/internal/templates"
	"github.com/pusheen1024/mapview/internal/view"
	"github.com/pusheen1024/mapview/web"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string // DuckDB location; empty keeps history in memory
	WebDir  string // Path to a web/ directory; empty serves the embedded copy

	StaticMapURL string
	GeocoderURL  string
	APIKey       string
	Timeout      time.Duration

	Width, Height    int
	MinZoom, MaxZoom int
	Zoom             int
	Layer            string // label or layer code; empty means the map layer
	Lon, Lat         float64
	StageFile        string
	// UpstreamRPS caps static map requests per second; 0 disables the cap.
	UpstreamRPS   float64
	UpstreamBurst int

	NoHistory bool
	Logger    *logger.Logger
}

// Server is the mapview HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	db       *sql.DB
	services *api.Services
	renderer *templates.Renderer
	log      *logger.Logger
}

// New creates a new mapview server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	telemetry.InitMetrics()

	mux := http.NewServeMux()

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("mapview API", api.Version)
	humaConfig.Info.Description = "Static map viewer: search places or coordinates, pan, zoom and switch layers."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	humaAPI := humago.New(mux, humaConfig)

	s := &Server{
		config:  cfg,
		mux:     mux,
		humaAPI: humaAPI,
		log:     cfg.Logger,
	}

	var store *history.Store
	if !cfg.NoHistory {
		store = s.openHistory()
	}

	s.services = &api.Services{
		Map:     NewMapService(cfg, store),
		History: store,
	}
	s.renderer = s.loadRenderer()

	s.routes()
	s.handler = otelhttp.NewHandler(s.withRequestLog(mux), "mapview-server")
	return s
}

// NewMapService builds the map service with real upstream clients.
// store may be nil.
func NewMapService(cfg Config, store *history.Store) *service.MapService {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	deps := service.Deps{
		Maps:     staticmap.New(cfg.StaticMapURL, cfg.Timeout, log).WithRateLimit(cfg.UpstreamRPS, cfg.UpstreamBurst),
		Geocoder: geocoder.New(cfg.GeocoderURL, cfg.APIKey, cfg.Timeout, log),
		Log:      log,
	}
	if store != nil {
		deps.History = store
	}
	layer, ok := view.LayerForLabel(cfg.Layer, view.LayerMap)
	if !ok && cfg.Layer != "" {
		log.Warn("unknown_start_layer", slog.String("layer", cfg.Layer))
	}
	return service.NewMapService(service.Config{
		Limits:        view.Limits{MinZoom: cfg.MinZoom, MaxZoom: cfg.MaxZoom},
		Size:          view.Size{Width: cfg.Width, Height: cfg.Height},
		DefaultCenter: orb.Point{cfg.Lon, cfg.Lat},
		Zoom:          cfg.Zoom,
		Layer:         layer,
		StageFile:     cfg.StageFile,
	}, deps)
}

func (s *Server) openHistory() *history.Store {
	conn, err := db.Open(db.Config{DataDir: s.config.DataDir})
	if err != nil {
		s.log.Warn("history_unavailable", slog.String("error", err.Error()))
		return nil
	}
	store, err := history.New(context.Background(), conn)
	if err != nil {
		conn.Close()
		s.log.Warn("history_unavailable", slog.String("error", err.Error()))
		return nil
	}
	s.db = conn
	return store
}

func (s *Server) fragmentsDir() string {
	return filepath.Join(s.config.WebDir, "templates", "fragments")
}

func (s *Server) loadRenderer() *templates.Renderer {
	if s.config.WebDir != "" {
		fragmentsDir := s.fragmentsDir()
		r, err := templates.New(fragmentsDir)
		if err == nil {
			s.log.Info("templates_loaded", slog.String("dir", fragmentsDir))
			return r
		}
		s.log.Warn("templates_load_failed", slog.String("dir", fragmentsDir), slog.String("error", err.Error()))
	}
	r, err := templates.NewFS(web.FS, web.FragmentsPattern)
	if err != nil {
		s.log.Error("templates_load_failed", slog.String("error", err.Error()))
		return nil
	}
	return r
}

// ReloadTemplates re-reads the fragments under WebDir. It does nothing when
// the embedded copy is served.
func (s *Server) ReloadTemplates() error {
	if s.config.WebDir == "" || s.renderer == nil {
		return nil
	}
	if err := s.renderer.Reload(s.fragmentsDir()); err != nil {
		return err
	}
	s.log.Info("templates_reloaded", slog.String("dir", s.fragmentsDir()))
	return nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Service returns the map service behind the API.
func (s *Server) Service() *service.MapService {
	return s.services.Map
}

// Close closes server resources.
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Server) routes() {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, s.services)

	// Register viewer SSE routes using Huma + Datastar SDK
	viewer.NewHandler(s.services.Map, s.services.History, s.renderer, s.log).RegisterRoutes(s.humaAPI)

	s.mux.Handle("/metrics", promhttp.Handler())

	// Static files and pages
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(s.staticFS())))
	s.mux.HandleFunc("/viewer", s.handleViewer)
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) staticFS() http.FileSystem {
	if s.config.WebDir != "" {
		return http.Dir(filepath.Join(s.config.WebDir, "static"))
	}
	sub, err := fs.Sub(web.FS, "static")
	if err != nil {
		// The embed directive guarantees the directory exists.
		panic(err)
	}
	return http.FS(sub)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "mapview",
		"status":  "running",
		"viewer":  "/viewer",
		"docs":    "/docs",
	})
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	if s.config.WebDir != "" {
		http.ServeFile(w, r, filepath.Join(s.config.WebDir, "templates", "viewer.html"))
		return
	}
	http.ServeFileFS(w, r, web.FS, web.ViewerPage)
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withRequestLog tags each request with an ID and logs it once served.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := logger.WithRequestID(r.Context(), id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(ctx))

		latency := float64(time.Since(start).Microseconds()) / 1000
		s.log.HTTPRequest(ctx, r.Method, r.URL.Path, rec.status, latency)
	})
}
