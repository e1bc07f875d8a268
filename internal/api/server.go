// Package api is the HTTP boundary for the calling webhooks. It parses
// requests into content plus correlation id, hands them to the bot service,
// and maps the result back to status codes: Accepted payloads become 202,
// validation faults 400, unknown calls 404, and bot configuration defects
// 500.
package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callbot/callbot/internal/api/middleware"
	"github.com/callbot/callbot/internal/calling"
	"github.com/callbot/callbot/internal/client"
)

// maxBodyBytes caps inbound webhook payloads.
const maxBodyBytes = 1 << 20

// Server holds the webhook routes and their dependencies.
type Server struct {
	router  *chi.Mux
	bot     *calling.BotService
	limiter *middleware.IPRateLimiter
	logger  *slog.Logger
}

// NewServer creates the HTTP handler with all webhook routes mounted.
func NewServer(bot *calling.BotService, logger *slog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		bot:     bot,
		limiter: middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
		logger:  logger.With("subsystem", "api"),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiter's background cleanup.
func (s *Server) Close() {
	s.limiter.Stop()
}

// routes configures the middleware stack and mounts all endpoints.
func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RateLimit(s.limiter))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/calling", func(r chi.Router) {
		r.Post("/call", s.handleIncomingCall)
		r.Post("/callback", s.handleCallback)
		r.Post("/notification", s.handleNotification)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

// readBody reads the request payload up to the size cap.
func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

// respond maps a bot service response to an HTTP status.
func (s *Server) respond(w http.ResponseWriter, resp *calling.Response, err error) {
	if err != nil {
		s.logger.Error("webhook processing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	switch resp.Kind {
	case calling.KindAccepted:
		writeWorkflow(w, http.StatusAccepted, resp.Body)
	case calling.KindBadRequest:
		writeError(w, http.StatusBadRequest, resp.Message)
	case calling.KindNotFound:
		writeError(w, http.StatusNotFound, resp.Message)
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleIncomingCall processes the incoming-call webhook.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body failed")
		return
	}
	chainID := r.Header.Get(client.HeaderChainID)
	resp, err := s.bot.ProcessIncomingCall(r.Context(), body, chainID)
	s.respond(w, resp, err)
}

// handleCallback processes mid-call outcome callbacks.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body failed")
		return
	}
	chainID := r.Header.Get(client.HeaderChainID)
	resp, err := s.bot.ProcessCallback(r.Context(), body, chainID)
	s.respond(w, resp, err)
}

// handleNotification processes asynchronous notifications.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body failed")
		return
	}
	resp, err := s.bot.ProcessNotification(r.Context(), body)
	s.respond(w, resp, err)
}
