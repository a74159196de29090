package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/topi314/tint"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/httperr"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
	defaultListLimit  = 50
	maxListLimit      = 500
)

var (
	ErrInvalidBundleID = errors.New("bundle id must be a positive integer")
	ErrMissingSourceID = errors.New("source_id is required")
	ErrInvalidToken    = errors.New("missing or invalid admin token")
	ErrNotDraft        = errors.New("only draft bundles can be published")
	ErrPayloadTooLarge = errors.New("webhook payload too large")
)

type ErrorResponse struct {
	Message   string `json:"message"`
	Status    int    `json:"status"`
	Path      string `json:"path"`
	RequestID string `json:"request_id"`
}

type EnqueueRequest struct {
	SourceID string `json:"source_id"`
}

type AcceptedResponse struct {
	Webhook *domain.Webhook `json:"webhook,omitempty"`
	Bundle  *domain.Bundle  `json:"bundle,omitempty"`
	Unit    ports.UnitKind  `json:"unit,omitempty"`
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CleanPath)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.Get("/version", s.GetVersion)
	r.Post("/webhook", s.PostWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.adminAuth)

		r.Route("/bundles", func(r chi.Router) {
			r.Get("/", s.GetBundles)
			r.Post("/", s.PostBundle)
			r.Route("/{bundleID}", func(r chi.Router) {
				r.Get("/", s.GetBundle)
				r.Post("/publish", s.PostBundlePublish)
			})
		})
		r.Post("/queue/admit", s.PostQueueAdmit)
	})

	var handler http.Handler = r
	if s.cfg.HTTPTimeout > 0 {
		handler = http.TimeoutHandler(handler, time.Duration(s.cfg.HTTPTimeout), "Request timed out")
	}
	return otelhttp.NewHandler(handler, "sfdoc",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (s *Server) GetVersion(w http.ResponseWriter, r *http.Request) {
	s.ok(w, r, s.version)
}

func (s *Server) PostWebhook(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	if s.cfg.MaxWebhookSize > 0 {
		body = http.MaxBytesReader(w, r.Body, s.cfg.MaxWebhookSize)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.error(w, r, httperr.RequestEntityTooLarge(ErrPayloadTooLarge))
			return
		}
		s.error(w, r, httperr.BadRequest(err))
		return
	}

	webhook, err := s.webhooks.Receive(r.Context(), payload)
	if err != nil {
		s.error(w, r, err)
		return
	}
	s.json(w, r, AcceptedResponse{Webhook: &webhook}, http.StatusAccepted)
}

func (s *Server) GetBundles(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.error(w, r, httperr.BadRequest(fmt.Errorf("invalid limit %q", raw)))
			return
		}
		limit = min(parsed, maxListLimit)
	}

	bundles, err := s.repository.ListBundles(r.Context(), limit)
	if err != nil {
		s.error(w, r, err)
		return
	}
	if bundles == nil {
		bundles = []domain.Bundle{}
	}
	s.ok(w, r, bundles)
}

func (s *Server) GetBundle(w http.ResponseWriter, r *http.Request) {
	id, err := bundleID(r)
	if err != nil {
		s.error(w, r, err)
		return
	}

	bundle, err := s.repository.GetBundle(r.Context(), id)
	if err != nil {
		s.error(w, r, err)
		return
	}
	if bundle.Articles, err = s.repository.ListArticleChanges(r.Context(), id); err != nil {
		s.error(w, r, err)
		return
	}
	if bundle.Images, err = s.repository.ListImageChanges(r.Context(), id); err != nil {
		s.error(w, r, err)
		return
	}
	s.ok(w, r, bundle)
}

func (s *Server) PostBundle(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, r, httperr.BadRequest(fmt.Errorf("decode request: %w", err)))
		return
	}
	req.SourceID = strings.TrimSpace(req.SourceID)
	if req.SourceID == "" {
		s.error(w, r, httperr.BadRequest(ErrMissingSourceID))
		return
	}

	bundle, err := s.queue.Enqueue(r.Context(), req.SourceID)
	if err != nil && bundle.ID == 0 {
		s.error(w, r, err)
		return
	}
	if err != nil {
		// queued, the admission tick picks it up
		s.logger.WarnContext(r.Context(), "failed to trigger admission", tint.Err(err))
	}
	s.json(w, r, AcceptedResponse{Bundle: &bundle}, http.StatusAccepted)
}

func (s *Server) PostBundlePublish(w http.ResponseWriter, r *http.Request) {
	id, err := bundleID(r)
	if err != nil {
		s.error(w, r, err)
		return
	}

	bundle, err := s.repository.GetBundle(r.Context(), id)
	if err != nil {
		s.error(w, r, err)
		return
	}
	if bundle.Status != domain.BundleDraft {
		s.error(w, r, httperr.Conflict(fmt.Errorf("%w: %s is %s", ErrNotDraft, bundle, bundle.Status)))
		return
	}

	if err = s.jobs.Enqueue(r.Context(), ports.Unit{Kind: ports.UnitPublish, BundleID: id}); err != nil {
		s.error(w, r, err)
		return
	}
	s.json(w, r, AcceptedResponse{Bundle: &bundle, Unit: ports.UnitPublish}, http.StatusAccepted)
}

func (s *Server) PostQueueAdmit(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Enqueue(r.Context(), ports.Unit{Kind: ports.UnitAdmit}); err != nil {
		s.error(w, r, err)
		return
	}
	s.json(w, r, AcceptedResponse{Unit: ports.UnitAdmit}, http.StatusAccepted)
}

func bundleID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "bundleID"), 10, 64)
	if err != nil || id < 1 {
		return 0, httperr.BadRequest(ErrInvalidBundleID)
	}
	return id, nil
}

func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
				s.error(w, r, httperr.Unauthorized(ErrInvalidToken))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// statusOf maps domain errors to their HTTP status.
func statusOf(err error) int {
	var httpErr *httperr.Error
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Status
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInFlight), errors.Is(err, domain.ErrStaleStatus):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) error(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, http.ErrHandlerTimeout) {
		return
	}

	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "internal server error", tint.Err(err))
	}
	s.json(w, r, ErrorResponse{
		Message:   err.Error(),
		Status:    status,
		Path:      r.URL.Path,
		RequestID: middleware.GetReqID(r.Context()),
	}, status)
}

func (s *Server) ok(w http.ResponseWriter, r *http.Request, v any) {
	if v == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.json(w, r, v, http.StatusOK)
}

func (s *Server) json(w http.ResponseWriter, r *http.Request, v any, status int) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		s.logger.ErrorContext(r.Context(), "failed to encode json", tint.Err(err))
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			level := slog.LevelInfo
			switch {
			case ww.Status() >= 500:
				level = slog.LevelError
			case ww.Status() >= 400:
				level = slog.LevelDebug
			}
			s.logger.LogAttrs(r.Context(), level, "request complete",
				slog.String("req_id", middleware.GetReqID(r.Context())),
				slog.String("http_method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Int("resp_status", ww.Status()),
				slog.Int("resp_byte_length", ww.BytesWritten()),
				slog.Duration("elapsed", time.Since(start)),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
