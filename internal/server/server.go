// Package server provides the HTTP surface of mudra: the page, the MJPEG
// stream and a small JSON/websocket API.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/accumulator"
	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/pipeline"
	"github.com/ayusman/mudra/internal/store"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Paths of the stream and the message socket, embedded in the page.
const (
	VideoFeedPath = "/video_feed"
	MessageWSPath = "/api/message/ws"
)

// Backend is what the server needs from the running app.
type Backend interface {
	Stream(ctx context.Context, sink pipeline.Sink) error
	State() app.State
	Message() accumulator.State
	SubscribeMessages() (<-chan accumulator.State, func())
	SetEnabled(enabled bool)
	Sessions(limit int) ([]*store.SessionRecord, error)
	Uptime() time.Duration
}

// Config holds the server configuration.
type Config struct {
	Backend   Backend
	StaticDir string
	Logger    *zap.Logger
}

// Server routes HTTP requests.
type Server struct {
	config Config
	router chi.Router
	logger *zap.Logger
}

// New creates a Server with its routes.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config: config,
		router: chi.NewRouter(),
		logger: logger.Named("http"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/", s.handleIndex)
	r.Get(VideoFeedPath, s.handleVideoFeed)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/message", s.handleMessage)
		r.Get("/message/ws", s.handleMessageWS)
		r.Get("/recognition", s.handleGetRecognition)
		r.Post("/recognition", s.handleSetRecognition)
		r.Get("/sessions", s.handleSessions)
	})

	if s.config.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(s.config.StaticDir)))
		r.Handle("/static/*", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// logRequests logs finished requests. Long-lived streams are logged when they end.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type indexData struct {
	StreamURL string
	SocketURL string
	Message   string
	Enabled   bool
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{StreamURL: VideoFeedPath, SocketURL: MessageWSPath}
	if s.config.Backend != nil {
		st := s.config.Backend.State()
		data.Message = st.Message.Text
		data.Enabled = st.Enabled
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Error("render index", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status": "ok",
	}
	if b := s.config.Backend; b != nil {
		st := b.State()
		response["uptime"] = b.Uptime().Round(time.Second).String()
		response["streaming"] = st.Streaming
		response["enabled"] = st.Enabled
	} else {
		response["uptime"] = "0s"
		response["streaming"] = false
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if s.config.Backend == nil {
		writeJSON(w, http.StatusOK, accumulator.State{})
		return
	}
	writeJSON(w, http.StatusOK, s.config.Backend.Message())
}

type recognitionRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleGetRecognition(w http.ResponseWriter, r *http.Request) {
	if s.config.Backend == nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.config.Backend.State().Enabled})
}

func (s *Server) handleSetRecognition(w http.ResponseWriter, r *http.Request) {
	if s.config.Backend == nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	var req recognitionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil || req.Enabled == nil {
		http.Error(w, `expected {"enabled": true|false}`, http.StatusBadRequest)
		return
	}

	s.config.Backend.SetEnabled(*req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.config.Backend == nil {
		writeJSON(w, http.StatusOK, []*store.SessionRecord{})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	sessions, err := s.config.Backend.Sessions(limit)
	if err != nil {
		s.logger.Error("list sessions", zap.Error(err))
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
