// Package httpapi exposes the conversation, roleplay, and audio endpoints
// over HTTP. Handlers are thin: they decode, call the core layers, and map
// the error taxonomy to status codes.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hari-co/AtlasTalk/internal/conversation"
	"github.com/hari-co/AtlasTalk/internal/scenario"
	"github.com/hari-co/AtlasTalk/internal/speech"
	"github.com/hari-co/AtlasTalk/internal/store"
	"github.com/hari-co/AtlasTalk/pkg/observability"
)

// Server is the public HTTP API.
type Server struct {
	manager  *conversation.Manager
	router   *conversation.Router
	scenario *scenario.Service
	speech   *speech.Client
	store    store.Store
	log      *slog.Logger

	roleplayCfg RoleplayConfig

	httpServer *http.Server
}

// RoleplayConfig is the client-facing configuration surfaced by
// GET /roleplay/config. Zero values simply report an unconfigured feature.
type RoleplayConfig struct {
	VoiceID           string `json:"voice_id,omitempty"`
	TTSModel          string `json:"tts_model,omitempty"`
	STTModel          string `json:"stt_model,omitempty"`
	SessionCapacity   int    `json:"session_capacity"`
	SessionTTLMinutes int    `json:"session_ttl_minutes"`
}

// SetRoleplayConfig records the values reported by the config endpoint.
func (s *Server) SetRoleplayConfig(cfg RoleplayConfig) {
	s.roleplayCfg = cfg
}

// New assembles the API server. The speech client may be nil when audio is
// not configured; its routes then answer 503.
func New(m *conversation.Manager, r *conversation.Router, sc *scenario.Service, sp *speech.Client, st store.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		manager:  m,
		router:   r,
		scenario: sc,
		speech:   sp,
		store:    st,
		log:      log,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /agents/{agent}/setup", s.handleSetupAgent)

	mux.HandleFunc("POST /conversations", s.handleStartConversation)
	mux.HandleFunc("GET /conversations", s.handleListConversations)
	mux.HandleFunc("GET /conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("POST /conversations/{id}/messages", s.handlePostMessage)
	mux.HandleFunc("POST /conversations/{id}/end", s.handleEndConversation)
	mux.HandleFunc("PUT /conversations/{id}/owner", s.handleAttachOwner)

	mux.HandleFunc("GET /roleplay/config", s.handleRoleplayConfig)
	mux.HandleFunc("POST /roleplay/scenario", s.handleGenerateScenario)
	mux.HandleFunc("POST /roleplay/chat", s.handleRoleplayChat)
	mux.HandleFunc("POST /roleplay/update-goals", s.handleUpdateGoals)
	mux.HandleFunc("POST /roleplay/talk", s.handleRoleplayTalk)

	mux.HandleFunc("POST /audio/tts", s.handleTextToSpeech)
	mux.HandleFunc("POST /audio/stt", s.handleSpeechToText)

	return s.instrument(mux)
}

// Start serves the API until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.log.Info("http api listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		// The mux fills in Pattern once it matches; label the metric with the
		// route template so path parameters do not explode the cardinality.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}

		elapsed := time.Since(start)
		observability.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), elapsed)
		s.log.Info("request",
			"method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", elapsed)
	})
}
