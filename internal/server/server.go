// Package server exposes the chat, image, credit and session operations over
// HTTP. Handlers are thin: they decode the request, charge the ledger, drive
// the context assembler and provider client, and record events.
package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stupiduntilnot/pixelchat/internal/assets"
	"github.com/stupiduntilnot/pixelchat/internal/chatcontext"
	"github.com/stupiduntilnot/pixelchat/internal/config"
	"github.com/stupiduntilnot/pixelchat/internal/control"
	"github.com/stupiduntilnot/pixelchat/internal/db"
	"github.com/stupiduntilnot/pixelchat/internal/model"
)

type Server struct {
	cfg       config.Config
	db        *sql.DB
	assembler *chatcontext.Assembler
	text      model.TextGenerator
	image     model.ImageGenerator
	assets    *assets.Store
	breaker   *control.CircuitBreaker
	policy    control.Policy
	log       zerolog.Logger
}

func New(cfg config.Config, database *sql.DB, assembler *chatcontext.Assembler, text model.TextGenerator, image model.ImageGenerator, store *assets.Store, logger zerolog.Logger) *Server {
	policy := control.DefaultPolicy()
	if cfg.ProviderTimeoutSeconds > 0 {
		policy.CallTimeout = time.Duration(cfg.ProviderTimeoutSeconds) * time.Second
	}
	if cfg.ProviderMaxAttempts > 0 {
		policy.MaxAttempts = cfg.ProviderMaxAttempts
	}
	return &Server{
		cfg:       cfg,
		db:        database,
		assembler: assembler,
		text:      text,
		image:     image,
		assets:    store,
		breaker:   control.NewCircuitBreaker(cfg.BreakerThreshold, time.Duration(cfg.BreakerCooldownSeconds)*time.Second),
		policy:    policy,
		log:       logger.With().Str("component", "server").Logger(),
	}
}

// Handler builds the route table. All routes are registered on a plain
// ServeMux; nested session and asset paths are parsed by hand.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/images/generate", s.handleGenerateImage)
	mux.HandleFunc("/api/images/edit", s.handleEditImage)
	mux.HandleFunc("/api/credits", s.handleCredits)
	mux.HandleFunc("/api/credits/grant", s.handleGrantCredits)
	mux.HandleFunc("/api/sessions/", s.handleSession)
	mux.HandleFunc("/assets/", s.handleAsset)
	mux.HandleFunc("/healthz", s.handleHealth)
	return s.withLogging(mux)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		s.log.Info().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	if err := s.db.Ping(); err != nil {
		http.Error(w, "db unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// logEvent records an event, downgrading a persistence failure to a warning:
// event logging never fails a request that otherwise succeeded.
func (s *Server) logEvent(parent *int64, eventType string, payload map[string]any) int64 {
	id, err := db.LogEvent(s.db, parent, eventType, payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to log event")
	}
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(req *http.Request, dst any) error {
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
