// Package api is the polling HTTP surface over the job coordinator.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"agent-relay/internal/application"
	"agent-relay/internal/domain"
	"agent-relay/internal/infra/logging"
	"agent-relay/internal/infra/metrics"
	red "agent-relay/internal/infra/redis"
)

// maxBodyBytes caps the submit request body.
const maxBodyBytes = 1 << 20

// SubmitLimiter decides whether a chat may submit another job now.
type SubmitLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Options struct {
	RequestTimeout time.Duration
	// Limiter is optional; nil disables submit rate limiting.
	Limiter SubmitLimiter
	// Health reports dependency failures; nil means always healthy.
	Health func(ctx context.Context) error
}

// Server wires the jobs facade to a chi router.
type Server struct {
	facade *application.JobsFacade
	opts   Options
	log    *zerolog.Logger
}

func NewServer(facade *application.JobsFacade, opts Options, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "api").Logger()
	return &Server{facade: facade, opts: opts, log: &l}
}

// Router builds the full handler, middleware included.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		TraceID(),
		RequestLog(s.log),
		Recover(s.log),
		Timeout(s.opts.RequestTimeout),
	)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/agent", func(r chi.Router) {
		r.Post("/create-chat", s.handleCreateChat)
		r.Get("/models", s.handleModels)
	})
	r.Get("/chats", s.handleListChats)
	r.Route("/chats/{chatID}", func(r chi.Router) {
		r.Get("/", s.handleGetChat)
		r.Get("/messages", s.handleGetMessages)
		r.Post("/jobs", s.handleSubmit)
		r.Get("/jobs", s.handleListJobs)
	})
	r.Route("/jobs/{jobID}", func(r chi.Router) {
		r.Get("/", s.handleGetJob)
		r.Get("/status", s.handleJobStatus)
		r.Delete("/", s.handleCancel)
	})
	return r
}

type submitRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	ctx := logging.WithChatID(r.Context(), chatID)

	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if s.opts.Limiter != nil {
		ok, err := s.opts.Limiter.Allow(ctx, red.SubmitKey(chatID))
		if err != nil {
			// Fail open; the limiter protects the agent, not correctness.
			logging.With(ctx, s.log).Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			metrics.IncSubmitRateLimited()
			writeError(w, http.StatusTooManyRequests, "too many submissions for this chat")
			return
		}
	}

	out, err := s.facade.Submit(ctx, chatID, req.Prompt, req.Model)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+out.JobID)
	writeJSON(w, http.StatusAccepted, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	out, err := s.facade.Job(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	out, err := s.facade.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// queryInt parses a non-negative integer parameter; absent means 0.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	items, err := s.facade.List(r.Context(), chi.URLParam(r, "chatID"), limit, r.URL.Query().Get("status"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	out, err := s.facade.Cancel(logging.WithJobID(r.Context(), jobID), jobID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	out, err := s.facade.CreateChat(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/chats/"+out.ChatID)
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.Models())
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeArchived := false
	if v := q.Get("include_archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "include_archived must be a boolean")
			return
		}
		includeArchived = b
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}
	out, err := s.facade.ListChats(r.Context(), includeArchived, q.Get("sort_by"), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	out, err := s.facade.Chat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	items, err := s.facade.Messages(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("request failed")
	}
	writeError(w, code, err.Error())
}

// errorStatus maps the domain error taxonomy onto HTTP.
func errorStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) || domain.KindOf(err) == domain.KindTimeout {
		return http.StatusGatewayTimeout
	}
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidTransition:
		return http.StatusConflict
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindStorage:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, domain.ErrPoolStopped) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
