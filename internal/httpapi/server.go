package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mrajeshsfdc/sfdoc/internal/config"
	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
	"github.com/mrajeshsfdc/sfdoc/internal/ver"
)

// WebhookReceiver records inbound notifications.
type WebhookReceiver interface {
	Receive(ctx context.Context, payload []byte) (domain.Webhook, error)
}

// BundleQueue queues bundles by source id.
type BundleQueue interface {
	Enqueue(ctx context.Context, sourceID string) (domain.Bundle, error)
}

// Deps wires the use cases behind the API.
type Deps struct {
	Version    ver.Version
	Config     config.ServerConfig
	Webhooks   WebhookReceiver
	Queue      BundleQueue
	Repository ports.BundleRepository
	Jobs       ports.JobQueue
	Logger     *slog.Logger
}

// Server exposes the webhook endpoint and the admin API.
type Server struct {
	version    ver.Version
	cfg        config.ServerConfig
	webhooks   WebhookReceiver
	queue      BundleQueue
	repository ports.BundleRepository
	jobs       ports.JobQueue
	logger     *slog.Logger
	server     *http.Server
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		version:    deps.Version,
		cfg:        deps.Config,
		webhooks:   deps.Webhooks,
		queue:      deps.Queue,
		repository: deps.Repository,
		jobs:       deps.Jobs,
		logger:     logger.With("component", "http"),
	}
	s.server = &http.Server{
		Addr:              deps.Config.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
