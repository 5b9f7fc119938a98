// Package server exposes the exposurelog operations over HTTP with JSON
// bodies. Routing uses chi; errors map to status codes by kind.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/obsenv/exposurelog/internal/errs"
	"github.com/obsenv/exposurelog/internal/service"
)

// Server routes HTTP requests to a service.Service.
type Server struct {
	svc    *service.Service
	router chi.Router
}

// New builds the router. The CORS policy is wide open: the logbook is
// consumed by browser tooling hosted on other origins.
func New(svc *service.Service) *Server {
	s := &Server{svc: svc, router: chi.NewRouter()}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/configuration", s.handleConfiguration)
	s.router.Get("/instruments", s.handleInstruments)
	s.router.Get("/exposures", s.handleFindExposures)
	s.router.Route("/messages", func(r chi.Router) {
		r.Get("/", s.handleFindMessages)
		r.Post("/", s.handleAddMessage)
		r.Get("/{id}", s.handleGetMessage)
		r.Patch("/{id}", s.handleEditMessage)
		r.Delete("/{id}", s.handleDeleteMessage)
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConfiguration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.GetConfiguration())
}

func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.ListInstruments(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var p service.AddMessageParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, r, errs.Validationf("invalid request body: %s", err))
		return
	}
	msg, err := s.svc.AddMessage(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := s.svc.GetMessage(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var p service.EditMessageParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, r, errs.Validationf("invalid request body: %s", err))
		return
	}
	msg, err := s.svc.EditMessage(r.Context(), id, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := s.svc.DeleteMessage(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleFindMessages(w http.ResponseWriter, r *http.Request) {
	q, err := decodeMessageQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := s.svc.FindMessages(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleFindExposures(w http.ResponseWriter, r *http.Request) {
	index, q, err := decodeExposureQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	exposures, err := s.svc.FindExposures(r.Context(), index, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exposures)
}

func messageID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errs.Validationf("invalid message id %q", raw)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

// writeError maps error kinds to HTTP statuses. Registry failures come
// back as 502 so callers can distinguish upstream trouble from their own.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var (
		validationErr *errs.ValidationError
		notFoundErr   *errs.NotFoundError
		conflictErr   *errs.ConflictError
		registryErr   *errs.RegistryError
	)
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		status = http.StatusNotFound
	case errors.As(err, &conflictErr):
		status = http.StatusConflict
	case errors.As(err, &registryErr):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
