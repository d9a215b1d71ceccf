// Package server builds the milestone tracker's dependencies from configuration
// and runs them until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/milestone-tracker/internal/api"
	"github.com/JakeFAU/milestone-tracker/internal/catalog"
	"github.com/JakeFAU/milestone-tracker/internal/clock/system"
	"github.com/JakeFAU/milestone-tracker/internal/config"
	"github.com/JakeFAU/milestone-tracker/internal/id/uuid"
	"github.com/JakeFAU/milestone-tracker/internal/identity"
	"github.com/JakeFAU/milestone-tracker/internal/metrics"
	"github.com/JakeFAU/milestone-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/milestone-tracker/internal/progress"
	progresssinks "github.com/JakeFAU/milestone-tracker/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/milestone-tracker/internal/publisher/pubsub"
	"github.com/JakeFAU/milestone-tracker/internal/snapshot"
	filesource "github.com/JakeFAU/milestone-tracker/internal/source/file"
	gcssource "github.com/JakeFAU/milestone-tracker/internal/source/gcs"
	httpsource "github.com/JakeFAU/milestone-tracker/internal/source/httpsrc"
	memorystore "github.com/JakeFAU/milestone-tracker/internal/storage/memory"
	pgstore "github.com/JakeFAU/milestone-tracker/internal/storage/postgres"
	"github.com/JakeFAU/milestone-tracker/internal/store"
	"github.com/JakeFAU/milestone-tracker/internal/telemetry"
	"github.com/JakeFAU/milestone-tracker/internal/tracker"
	"github.com/JakeFAU/milestone-tracker/internal/watch"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collectors

	catalog   *catalog.Catalog
	identity  identity.Lookup
	engine    *tracker.Engine
	scheduler *tracker.Scheduler
	watcher   *watch.Watcher

	hub          *progress.Hub
	repo         store.EventRepository
	pgStore      *pgstore.EventStore
	publisher    *gcppublisher.Publisher
	closeFetcher func() error

	apiServer      *api.Server
	tracerProvider *sdktrace.TracerProvider
	started        atomic.Bool
	closeOnce      sync.Once
}

// Build creates the application's dependencies. In production the tracker is
// left disabled and only the operational routes are served.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application",
		zap.String("environment", cfg.App.Environment),
		zap.Int("server_port", cfg.Server.Port),
		zap.String("source_kind", cfg.Source.Kind),
	)

	if err := app.setupObservability(ctx); err != nil {
		return nil, err
	}
	if err := app.setupCatalog(); err != nil {
		return nil, err
	}
	if err := app.setupRepository(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := app.setupHub(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	app.identity = buildIdentity(cfg.Identity)

	if cfg.Production() {
		logger.Info("production environment; milestone tracker disabled")
	} else if err := app.setupTracker(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	app.setupAPI()
	return app, nil
}

func (a *App) setupObservability(ctx context.Context) error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var err error
	a.metrics, err = metrics.New(a.registry)
	if err != nil {
		return fmt.Errorf("metrics init failed: %w", err)
	}
	if a.cfg.Tracing.Enabled {
		a.tracerProvider, err = telemetry.InitTracerProvider(ctx, a.cfg.App.ServiceName)
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
	}
	return nil
}

func (a *App) setupCatalog() error {
	c, err := LoadCatalog(a.cfg.Catalog)
	if err != nil {
		return err
	}
	a.catalog = c
	a.logger.Info("milestone catalog ready", zap.Int("milestones", c.Len()))
	return nil
}

// LoadCatalog returns the catalog at cfg.Path, or the built-in catalog when
// no path is configured.
func LoadCatalog(cfg config.CatalogConfig) (*catalog.Catalog, error) {
	if cfg.Path == "" {
		return catalog.Default(), nil
	}
	c, err := catalog.LoadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("catalog init failed: %w", err)
	}
	return c, nil
}

func (a *App) setupRepository(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, keeping telemetry records in memory")
		a.repo = memorystore.NewEventStore()
		return nil
	}
	var err error
	a.pgStore, err = pgstore.NewEventStore(ctx, pgstore.EventStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("event store init failed: %w", err)
	}
	a.repo = a.pgStore
	a.logger.Info("event store initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupHub(ctx context.Context) error {
	tcfg := a.cfg.Telemetry
	var sinks []progress.Sink
	if tcfg.Log {
		sinks = append(sinks, progresssinks.NewLogSink(a.logger.Named("telemetry_log")))
	}
	if tcfg.Prometheus {
		promSink, err := progresssinks.NewPrometheusSink(a.registry)
		if err != nil {
			return fmt.Errorf("prometheus sink init failed: %w", err)
		}
		sinks = append(sinks, promSink)
	}
	if a.repo != nil {
		sinks = append(sinks, progresssinks.NewStoreSink(a.repo, a.logger.Named("telemetry_store")))
	}
	if tcfg.PubSub.TopicName != "" {
		var err error
		a.publisher, err = gcppublisher.Dial(ctx, tcfg.PubSub.ProjectID, tcfg.PubSub.TopicName)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		sinks = append(sinks, progresssinks.NewPublisherSink(a.publisher, tcfg.PubSub.TopicName))
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", tcfg.PubSub.ProjectID),
			zap.String("topic", tcfg.PubSub.TopicName),
		)
	}
	if tcfg.Form.Enabled {
		formSink, err := progresssinks.NewFormSink(progresssinks.FormConfig{
			URL: tcfg.Form.URL,
			Fields: progresssinks.FormFields{
				Name:      tcfg.Form.NameField,
				Email:     tcfg.Form.EmailField,
				Milestone: tcfg.Form.MilestoneField,
				Timestamp: tcfg.Form.TimestampField,
			},
			Timeout: tcfg.Form.Timeout,
			Limiter: ratelimit.New(ratelimit.Config{
				RPS:      tcfg.Form.RPS,
				Burst:    tcfg.Form.Burst,
				Observer: a.metrics.ObserveRateLimitDelay,
			}),
		})
		if err != nil {
			return fmt.Errorf("form sink init failed: %w", err)
		}
		sinks = append(sinks, formSink)
	}

	hubCfg := progress.Config{
		BufferSize:      tcfg.BufferSize,
		MaxBatchRecords: tcfg.MaxBatchEvents,
		MaxBatchWait:    tcfg.MaxBatchWait,
		SinkTimeout:     tcfg.SinkTimeout,
		BaseContext:     context.WithoutCancel(ctx),
		Logger:          a.logger.Named("telemetry_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinks...)
	a.logger.Info("telemetry hub initialized",
		zap.Int("sinks", len(sinks)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupTracker(ctx context.Context) error {
	fetcher, closeFetcher, err := NewFetcher(ctx, a.cfg, a.catalog)
	if err != nil {
		return err
	}
	a.closeFetcher = closeFetcher
	a.engine, err = tracker.New(tracker.Config{
		Catalog:         a.catalog,
		Fetcher:         fetcher,
		Emitter:         a.hub,
		Identity:        a.identity,
		IdentityTimeout: a.cfg.Identity.Timeout,
		FetchTimeout:    a.cfg.Poll.FetchTimeout,
		Clock:           system.New(),
		IDs:             uuid.New(),
		Metrics:         a.metrics,
		Logger:          a.logger.Named("tracker"),
	})
	if err != nil {
		return fmt.Errorf("tracker init failed: %w", err)
	}
	a.scheduler = tracker.NewScheduler(a.engine, tracker.SchedulerConfig{
		Interval: a.cfg.Poll.Interval,
		Metrics:  a.metrics,
		Logger:   a.logger.Named("scheduler"),
	})
	if a.cfg.Poll.Watch && a.cfg.Source.Kind == config.SourceFile {
		a.watcher, err = watch.New(watch.Config{
			Path:   a.cfg.Source.Path,
			Logger: a.logger.Named("watch"),
		}, a.scheduler.Nudge)
		if err != nil {
			// Interval polling still picks up changes.
			a.logger.Warn("status file watcher unavailable", zap.Error(err))
			a.watcher = nil
		}
	}
	return nil
}

// NewFetcher builds the status source selected by cfg.Source. The returned
// close function releases any client the source owns.
func NewFetcher(ctx context.Context, cfg config.Config, c *catalog.Catalog) (snapshot.Fetcher, func() error, error) {
	src := cfg.Source
	noop := func() error { return nil }
	switch src.Kind {
	case config.SourceHTTP:
		s, err := httpsource.New(httpsource.Config{URL: src.URL, Timeout: cfg.Poll.FetchTimeout}, c)
		if err != nil {
			return nil, nil, fmt.Errorf("http source init failed: %w", err)
		}
		return s, noop, nil
	case config.SourceGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		s, err := gcssource.New(gcssource.ClientReader{Client: client}, gcssource.Config{
			Bucket: src.GCSBucket,
			Object: src.GCSObject,
		}, c)
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("gcs source init failed: %w", err)
		}
		return s, client.Close, nil
	default:
		s, err := filesource.New(src.Path, c)
		if err != nil {
			return nil, nil, fmt.Errorf("file source init failed: %w", err)
		}
		return s, noop, nil
	}
}

func buildIdentity(cfg config.IdentityConfig) identity.Lookup {
	switch cfg.Kind {
	case config.IdentityHTTP:
		return identity.NewHTTPLookup(cfg.URL, cfg.Timeout)
	case config.IdentityStatic:
		return identity.Static{Name: cfg.Name, Email: cfg.Email}
	default:
		return identity.FileLookup{Path: cfg.Path}
	}
}

func (a *App) setupAPI() {
	opts := api.Options{
		Events:     a.repo,
		Identity:   a.identity,
		Production: a.cfg.Production(),
		Metrics:    a.metrics,
		Gatherer:   a.registry,
		Ready:      a.started.Load,
		Logger:     a.logger.Named("api"),
	}
	if a.engine != nil {
		opts.Views = a.engine
	}
	if a.cfg.Source.Kind == config.SourceFile {
		opts.StatusFile = a.cfg.Source.Path
	}
	a.apiServer = api.NewServer(opts)
}

// Engine returns the tracker engine, or nil when the tracker is disabled.
func (a *App) Engine() *tracker.Engine {
	return a.engine
}

// Catalog returns the active milestone catalog.
func (a *App) Catalog() *catalog.Catalog {
	return a.catalog
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the scheduler, the status file watcher and the HTTP server and
// blocks until ctx is canceled or a component fails. Resources are released
// before returning.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.scheduler != nil {
		handle := a.scheduler.Start(ctx)
		a.logger.Info("milestone tracker started", zap.Duration("interval", a.cfg.Poll.Interval))
		g.Go(func() error {
			<-ctx.Done()
			handle.Stop()
			a.engine.Wait()
			return nil
		})
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
	if a.cfg.Server.Enabled {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown: %w", err)
			}
			return nil
		})
	}
	a.started.Store(true)

	runErr := g.Wait()
	a.logger.Info("shutdown initiated")

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}

// Close flushes telemetry and releases clients. Only the first call has an
// effect, so it is safe to call after Run.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if a.engine != nil {
			a.engine.Wait()
		}
		a.closeInfrastructure(ctx)
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.logger.Warn("status file watcher close failed", zap.Error(err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("telemetry hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.closeFetcher != nil {
		if err := a.closeFetcher(); err != nil {
			a.logger.Warn("status source close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
