package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/topi314/tint"
	"golang.org/x/sync/errgroup"

	"github.com/mrajeshsfdc/sfdoc/internal/config"
	"github.com/mrajeshsfdc/sfdoc/internal/content"
	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/httpapi"
	"github.com/mrajeshsfdc/sfdoc/internal/infrastructure/bundlesource"
	"github.com/mrajeshsfdc/sfdoc/internal/infrastructure/knowledge"
	"github.com/mrajeshsfdc/sfdoc/internal/infrastructure/objectstore"
	"github.com/mrajeshsfdc/sfdoc/internal/infrastructure/scheduler"
	"github.com/mrajeshsfdc/sfdoc/internal/infrastructure/storage"
	"github.com/mrajeshsfdc/sfdoc/internal/infrastructure/worker"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
	"github.com/mrajeshsfdc/sfdoc/internal/usecase"
	"github.com/mrajeshsfdc/sfdoc/internal/ver"
)

// Stores are the driven adapters the application runs against. Nil fields
// are built from the config.
type Stores struct {
	Repository ports.BundleRepository
	Articles   ports.ArticleStore
	Objects    ports.ObjectStore
	Source     ports.BundleSource
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg     config.Config
	logger  *slog.Logger
	closers []func() error

	repository ports.BundleRepository
	pool       *worker.Pool
	queue      *usecase.Queue
	publisher  *usecase.Publisher
	scheduler  *usecase.Scheduler
	server     *httpapi.Server
}

// New builds the application, opening every store the config names.
func New(ctx context.Context, cfg config.Config, version ver.Version, logger *slog.Logger) (*Application, error) {
	return NewWithStores(ctx, cfg, version, logger, Stores{})
}

// NewWithStores builds the application around the given stores.
func NewWithStores(ctx context.Context, cfg config.Config, version ver.Version, logger *slog.Logger, stores Stores) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Application{cfg: cfg, logger: logger}

	if err := a.openStores(ctx, &stores); err != nil {
		_ = a.Close()
		return nil, err
	}
	a.repository = stores.Repository

	pool, err := worker.New(cfg.Pipeline.Workers, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.pool = pool

	linker := content.Linker{
		DraftBaseURL:      cfg.Links.DraftBaseURL,
		ProductionBaseURL: cfg.Links.ProductionBaseURL,
		ArticlePath:       cfg.Links.ArticlePath,
		ImageBaseURL:      cfg.Links.ImageBaseURL,
		DraftPrefix:       cfg.Links.DraftPrefix,
	}

	extractor, err := content.NewExtractor(cfg.Pipeline.SkipPatterns, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	stager := usecase.NewStager(usecase.StagerDeps{
		Articles:       stores.Articles,
		Objects:        stores.Objects,
		Repository:     stores.Repository,
		Linker:         linker,
		PreviewBaseURL: cfg.Links.PreviewBaseURL,
		Concurrency:    cfg.Pipeline.Concurrency,
		Logger:         logger,
	})

	pipeline, err := usecase.NewPipeline(usecase.PipelineDeps{
		Source:        stores.Source,
		Articles:      stores.Articles,
		Objects:       stores.Objects,
		Repository:    stores.Repository,
		Jobs:          pool,
		Extractor:     extractor,
		Stager:        stager,
		Linker:        linker,
		Logger:        logger,
		WorkDir:       cfg.Pipeline.WorkDir,
		MaxUnpackSize: int64(cfg.Pipeline.MaxUnpackSize),
		Timeout:       time.Duration(cfg.Pipeline.ProcessTimeout),
		Concurrency:   cfg.Pipeline.Concurrency,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.publisher, err = usecase.NewPublisher(usecase.PublisherDeps{
		Articles:    stores.Articles,
		Objects:     stores.Objects,
		Repository:  stores.Repository,
		Jobs:        pool,
		Linker:      linker,
		Logger:      logger,
		Timeout:     time.Duration(cfg.Pipeline.PublishTimeout),
		Concurrency: cfg.Pipeline.Concurrency,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.queue = usecase.NewQueue(usecase.QueueDeps{
		Repository:  stores.Repository,
		Objects:     stores.Objects,
		Jobs:        pool,
		DraftPrefix: cfg.Links.DraftPrefix,
		RetryDelay:  time.Duration(cfg.Pipeline.AdmitRetry),
		Logger:      logger,
		Concurrency: cfg.Pipeline.Concurrency,
	})

	webhooks, err := usecase.NewWebhookFilter(usecase.WebhookDeps{
		Repository: stores.Repository,
		Jobs:       pool,
		Logger:     logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	pool.SetHandler(&usecase.Dispatcher{
		Queue:     a.queue,
		Pipeline:  pipeline,
		Publisher: a.publisher,
		Webhooks:  webhooks,
	})

	a.scheduler = usecase.NewScheduler(
		scheduler.NewTickerScheduler(time.Duration(cfg.Pipeline.AdmitInterval)),
		pool,
		logger,
	)

	a.server = httpapi.NewServer(httpapi.Deps{
		Version:    version,
		Config:     cfg.Server,
		Webhooks:   webhooks,
		Queue:      a.queue,
		Repository: stores.Repository,
		Jobs:       pool,
		Logger:     logger,
	})

	return a, nil
}

func (a *Application) openStores(ctx context.Context, stores *Stores) error {
	if stores.Repository == nil {
		repo, err := storage.New(ctx, a.cfg.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		stores.Repository = repo
	}

	if stores.Objects == nil {
		objects, err := objectstore.NewFS(a.cfg.ObjectStore.Root)
		if err != nil {
			return err
		}
		stores.Objects = objects
	}

	if stores.Source == nil {
		source, err := bundlesource.New(a.cfg.BundleSource, knowledge.NewHTTPClient(), a.logger)
		if err != nil {
			return err
		}
		stores.Source = source
	}

	if stores.Articles == nil {
		articles, err := newKnowledgeClient(a.cfg.Knowledge, a.logger)
		if err != nil {
			return err
		}
		stores.Articles = articles
	}
	return nil
}

func newKnowledgeClient(cfg knowledge.Config, logger *slog.Logger) (*knowledge.Client, error) {
	pemData := []byte(cfg.PrivateKey)
	if len(pemData) == 0 {
		if cfg.PrivateKeyFile == "" {
			return nil, errors.New("knowledge.private_key or knowledge.private_key_file is required")
		}
		var err error
		if pemData, err = os.ReadFile(cfg.PrivateKeyFile); err != nil {
			return nil, fmt.Errorf("read knowledge private key: %w", err)
		}
	}
	key, err := knowledge.ParsePrivateKey(pemData)
	if err != nil {
		return nil, err
	}

	httpClient := knowledge.NewHTTPClient()
	tokens, err := knowledge.NewTokenSource(cfg, key, httpClient)
	if err != nil {
		return nil, err
	}
	return knowledge.NewClient(cfg, httpClient, tokens, logger), nil
}

// Serve runs the worker pool, the admission tick and the HTTP API until ctx
// is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.pool.Run(gctx)
	})
	g.Go(func() error {
		return a.server.Start()
	})
	g.Go(func() error {
		if err := a.scheduler.Start(gctx); err != nil {
			return fmt.Errorf("start admission tick: %w", err)
		}
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.scheduler.Stop(shutdownCtx); err != nil {
			a.logger.Warn("failed to stop admission tick", tint.Err(err))
		}
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("failed to shut down http server", tint.Err(err))
		}
		a.pool.Close()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Enqueue queues sourceID. With wait set the bundle is processed before returning.
func (a *Application) Enqueue(ctx context.Context, sourceID string, wait bool) (domain.Bundle, error) {
	bundle, err := a.queue.Enqueue(ctx, sourceID)
	if err != nil {
		return bundle, err
	}
	if !wait {
		return bundle, nil
	}
	if err = a.pool.RunUntilIdle(ctx); err != nil {
		return bundle, err
	}
	return a.repository.GetBundle(ctx, bundle.ID)
}

// Publish publishes a draft bundle and works the follow-up admission.
func (a *Application) Publish(ctx context.Context, bundleID int64) (domain.Bundle, error) {
	if err := a.publisher.Publish(ctx, bundleID); err != nil {
		return domain.Bundle{}, err
	}
	if err := a.pool.RunUntilIdle(ctx); err != nil {
		return domain.Bundle{}, err
	}
	return a.repository.GetBundle(ctx, bundleID)
}

// ProcessQueue runs one admission and everything it triggers.
func (a *Application) ProcessQueue(ctx context.Context) error {
	if err := a.pool.Enqueue(ctx, ports.Unit{Kind: ports.UnitAdmit}); err != nil {
		return err
	}
	return a.pool.RunUntilIdle(ctx)
}

// Bundles lists the most recent bundles.
func (a *Application) Bundles(ctx context.Context, limit int) ([]domain.Bundle, error) {
	return a.repository.ListBundles(ctx, limit)
}

// Close releases the stores opened by New.
func (a *Application) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	var errs []error
	for _, closer := range a.closers {
		errs = append(errs, closer())
	}
	return errors.Join(errs...)
}
