package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/konard/RDmitryV-Trial-RDV/internal/agent"
	"github.com/konard/RDmitryV-Trial-RDV/internal/analysis"
	"github.com/konard/RDmitryV-Trial-RDV/internal/config"
	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
	"github.com/konard/RDmitryV-Trial-RDV/internal/tools"
)

type Server struct {
	store    store.Store
	broker   Broker
	recorder *events.Recorder
	runner   agent.Runner
	verifier agent.Verifier
	analyzer *analysis.Service
	tools    ToolCatalog
	cfg      config.Config
	now      func() time.Time
}

type Broker interface {
	Publish(event events.Event)
	Subscribe(ctx context.Context, researchID string) <-chan events.Event
}

type ToolCatalog interface {
	Schemas() []tools.Descriptor
}

type Option func(*Server)

func WithVerifier(verifier agent.Verifier) Option {
	return func(s *Server) {
		s.verifier = verifier
	}
}

func WithTools(catalog ToolCatalog) Option {
	return func(s *Server) {
		s.tools = catalog
	}
}

// WithRecorder shares the recorder with in-process runs so ingested and local
// events draw from one sequence per research.
func WithRecorder(recorder *events.Recorder) Option {
	return func(s *Server) {
		if recorder != nil {
			s.recorder = recorder
		}
	}
}

func NewServer(st store.Store, broker Broker, runner agent.Runner, cfg config.Config, opts ...Option) *Server {
	server := &Server{
		store:    st,
		broker:   broker,
		runner:   runner,
		analyzer: analysis.NewService(st),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.recorder == nil {
		server.recorder = events.NewRecorder(st, broker)
	}
	return server
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Post("/researches", s.createResearch)
	r.Get("/researches", s.listResearches)
	r.Get("/researches/ws/{id}", s.streamProgress)
	r.Get("/researches/{id}", s.getResearch)
	r.Post("/researches/{id}/run-agent", s.runAgent)
	r.Post("/researches/{id}/cancel", s.cancelResearch)
	r.Get("/researches/{id}/findings", s.listFindings)
	r.Post("/researches/{id}/verify", s.verifyResearch)
	r.Get("/researches/{id}/verifications", s.listVerifications)
	r.Get("/researches/{id}/analysis", s.analyzeResearch)
	r.Post("/researches/{id}/events", s.ingestEvent)
	r.Get("/tools", s.listTools)
	r.Get("/sources/trusted", s.listTrustedSources)
	r.Post("/sources/trusted", s.upsertTrustedSource)
	r.Get("/sources/blocked", s.listBlockedSources)
	r.Post("/sources/blocked", s.upsertBlockedSource)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)

	return r
}

func quietRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodPost && strings.HasSuffix(cleanPath, "/events") {
		return true
	}
	if method == http.MethodGet && strings.HasPrefix(cleanPath, "/researches/ws/") {
		return true
	}
	if method == http.MethodGet && (cleanPath == "/health" || cleanPath == "/ready") {
		return true
	}
	return method == http.MethodOptions
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if _, err := s.store.ListResearches(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	if s.runner == nil {
		subsystems["runner"] = subsystemStatus{Status: "skipped"}
	} else {
		subsystems["runner"] = subsystemStatus{Status: "ok"}
	}
	if s.verifier == nil {
		subsystems["verification"] = subsystemStatus{Status: "skipped"}
	} else {
		subsystems["verification"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSON(w http.ResponseWriter, value any) {
	writeJSONStatus(w, value, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("control_plane_listening")
	return server.ListenAndServe()
}
