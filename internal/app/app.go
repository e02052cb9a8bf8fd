// Package app builds the long-lived services shared by the HTTP server and the
// CLI commands, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescout/internal/api"
	"github.com/JakeFAU/sitescout/internal/config"
	"github.com/JakeFAU/sitescout/internal/crawler"
	"github.com/JakeFAU/sitescout/internal/discovery"
	"github.com/JakeFAU/sitescout/internal/fetch"
	collyfetcher "github.com/JakeFAU/sitescout/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/sitescout/internal/fetcher/headless"
	"github.com/JakeFAU/sitescout/internal/fulltext"
	"github.com/JakeFAU/sitescout/internal/logging"
	"github.com/JakeFAU/sitescout/internal/metrics"
	"github.com/JakeFAU/sitescout/internal/policy/ratelimit"
	"github.com/JakeFAU/sitescout/internal/publisher"
	memorypublisher "github.com/JakeFAU/sitescout/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sitescout/internal/publisher/pubsub"
	"github.com/JakeFAU/sitescout/internal/resource"
	gcsresource "github.com/JakeFAU/sitescout/internal/resource/gcs"
	memoryresource "github.com/JakeFAU/sitescout/internal/resource/memory"
	pgresource "github.com/JakeFAU/sitescout/internal/resource/postgres"
	sqliteresource "github.com/JakeFAU/sitescout/internal/resource/sqlite"
	"github.com/JakeFAU/sitescout/internal/robots"
	"github.com/JakeFAU/sitescout/internal/sitemap"
	"github.com/JakeFAU/sitescout/internal/telemetry"
	"github.com/JakeFAU/sitescout/internal/urlpattern"
)

// Version is stamped into the trace resource.
var Version = "dev"

const serviceName = "sitescout"

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	limiter  *ratelimit.Limiter
	fetcher  fetch.Fetcher
	pages    fetch.Fetcher
	headless *headlessfetcher.Fetcher
	robots   *robots.Validator
	sitemaps *sitemap.Parser
	matcher  *urlpattern.Matcher
	prober   *discovery.Prober
	frontier *crawler.LinkDiscoverer

	records *resource.DB
	index   *fulltext.Index

	publisher   publisher.Publisher
	gcpPub      *gcppublisher.Publisher
	ownedLogger bool

	tracerShutdown func(context.Context) error
	closeOnce      sync.Once
	closeErr       error
}

// Option overrides a dependency Build would otherwise construct.
type Option func(*overrides)

type overrides struct {
	logger    *zap.Logger
	fetcher   fetch.Fetcher
	backend   resource.Backend
	publisher publisher.Publisher
}

// WithLogger uses logger instead of building one from the logging section.
func WithLogger(logger *zap.Logger) Option {
	return func(o *overrides) { o.logger = logger }
}

// WithFetcher replaces the colly fetcher.
func WithFetcher(f fetch.Fetcher) Option {
	return func(o *overrides) { o.fetcher = f }
}

// WithBackend replaces the configured resource backend.
func WithBackend(b resource.Backend) Option {
	return func(o *overrides) { o.backend = b }
}

// WithPublisher replaces the configured frontier publisher.
func WithPublisher(p publisher.Publisher) Option {
	return func(o *overrides) { o.publisher = p }
}

// Build creates the application's dependencies. The caller owns the App and
// must Close it.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o overrides
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{cfg: cfg, logger: o.logger}
	if app.logger == nil {
		logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
		app.logger = logger
		app.ownedLogger = true
	}
	metrics.Init()

	tp, err := telemetry.InitTracerProvider(ctx, serviceName, Version)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	app.logger.Info("building application dependencies", zap.Int("server_port", cfg.Server.Port))
	if err := app.setupFetchers(o.fetcher); err != nil {
		app.abort(ctx)
		return nil, err
	}
	if err := app.setupDiscovery(); err != nil {
		app.abort(ctx)
		return nil, err
	}
	if err := app.setupRecords(ctx, o.backend); err != nil {
		app.abort(ctx)
		return nil, err
	}
	if err := app.setupPublisher(ctx, o.publisher); err != nil {
		app.abort(ctx)
		return nil, err
	}
	app.logger.Info("application dependencies ready")
	return app, nil
}

func (a *App) setupFetchers(override fetch.Fetcher) error {
	a.limiter = ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.HTTP.RateLimitRPS,
		DefaultBurst: a.cfg.HTTP.RateLimitBurst,
	})
	if override != nil {
		a.fetcher = override
	} else {
		a.fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:    a.cfg.HTTP.UserAgent,
			Timeout:      a.cfg.FetchTimeout(),
			MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
			Limiter:      a.limiter,
			Logger:       a.logger.Named("fetcher"),
		})
		a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.HTTP.UserAgent))
	}

	a.pages = a.fetcher
	if !a.cfg.Headless.Enabled {
		return nil
	}
	headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.HTTP.UserAgent,
		NavigationTimeout: a.cfg.Headless.NavTimeout,
		Settle:            a.cfg.Headless.SettleDuration,
		WaitSelector:      a.cfg.Headless.WaitSelector,
		ScrollSteps:       a.cfg.Headless.ScrollSteps,
		Passthrough:       a.fetcher,
	})
	if err != nil {
		a.logger.Warn("headless fetcher init failed", zap.Error(err))
		return nil
	}
	a.headless = headless
	if a.cfg.Headless.AutoPromote {
		a.pages = &headlessfetcher.Promoter{
			Plain:         a.fetcher,
			Renderer:      headless,
			ThinPageBytes: a.cfg.Headless.ThinPageBytes,
			Logger:        a.logger.Named("headless"),
		}
	}
	a.logger.Info("using headless fetcher",
		zap.Int("max_parallel", a.cfg.Headless.MaxParallel),
		zap.Bool("auto_promote", a.cfg.Headless.AutoPromote))
	return nil
}

func (a *App) setupDiscovery() error {
	a.robots = robots.NewValidator(robots.Options{
		UserAgent:    a.cfg.HTTP.UserAgent,
		CacheTimeout: a.cfg.Robots.CacheTTL,
		FetchTimeout: a.cfg.Robots.FetchTimeout,
		Fetcher:      a.fetcher,
		Logger:       a.logger.Named("robots"),
		DelaySink:    a.limiter,
	})
	a.sitemaps = sitemap.New(sitemap.Options{
		Fetcher:      a.fetcher,
		Logger:       a.logger.Named("sitemap"),
		CacheTimeout: a.cfg.Sitemap.CacheTTL,
		FetchTimeout: a.cfg.Sitemap.FetchTimeout,
		MaxDepth:     a.cfg.Sitemap.MaxDepth,
		MaxSitemaps:  a.cfg.Sitemap.MaxSitemaps,
		MaxURLs:      a.cfg.Sitemap.MaxURLs,
	})

	var err error
	a.matcher, err = urlpattern.New(a.cfg.PatternConfigs())
	if err != nil {
		return fmt.Errorf("url patterns init failed: %w", err)
	}
	a.frontier, err = a.NewLinkDiscoverer()
	if err != nil {
		return err
	}
	a.prober = discovery.NewProber(a.fetcher, discovery.Config{
		UserAgent:     a.cfg.HTTP.UserAgent,
		MaxConcurrent: a.cfg.Discovery.MaxConcurrent,
		ProbeTimeout:  a.cfg.Discovery.ProbeTimeout,
	}, nil, a.logger.Named("discovery"))
	return nil
}

func (a *App) setupRecords(ctx context.Context, override resource.Backend) error {
	backend := override
	if backend == nil {
		var err error
		if backend, err = a.openBackend(ctx); err != nil {
			return err
		}
	}
	var err error
	a.records, err = resource.New(backend, resource.Options{Logger: a.logger.Named("records")})
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("resource store init failed: %w", err)
	}

	if !a.cfg.FullText.Enabled {
		a.logger.Info("full-text index disabled")
		return nil
	}
	index, err := fulltext.New(fulltext.Options{
		Store: a.records,
		Config: fulltext.Config{
			MinWordLength:    a.cfg.FullText.MinWordLength,
			MaxResults:       a.cfg.FullText.MaxResults,
			BatchSize:        a.cfg.FullText.BatchSize,
			Fields:           a.cfg.FullText.Fields,
			ExcludeResources: a.cfg.FullText.ExcludeResources,
			Namespace:        a.cfg.FullText.Namespace,
			AutoSave:         a.cfg.FullText.AutoSave,
		},
		Logger: a.logger.Named("fulltext"),
	})
	if err != nil {
		return fmt.Errorf("full-text index init failed: %w", err)
	}
	if err := index.Start(ctx); err != nil {
		return fmt.Errorf("full-text index start failed: %w", err)
	}
	a.index = index
	return nil
}

func (a *App) openBackend(ctx context.Context) (resource.Backend, error) {
	switch a.cfg.Storage.Backend {
	case "sqlite":
		a.logger.Info("using sqlite resource backend", zap.String("path", a.cfg.Storage.SQLite.Path))
		backend, err := sqliteresource.Open(ctx, sqliteresource.Config{
			Path:  a.cfg.Storage.SQLite.Path,
			Table: a.cfg.Storage.SQLite.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite backend init failed: %w", err)
		}
		return backend, nil
	case "postgres":
		a.logger.Info("using postgres resource backend", zap.String("table", a.cfg.Storage.Postgres.Table))
		backend, err := pgresource.New(ctx, pgresource.Config{
			DSN:             a.cfg.Storage.Postgres.DSN,
			Table:           a.cfg.Storage.Postgres.Table,
			MaxConns:        a.cfg.Storage.Postgres.MaxConns,
			MinConns:        a.cfg.Storage.Postgres.MinConns,
			MaxConnLifetime: a.cfg.Storage.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres backend init failed: %w", err)
		}
		return backend, nil
	case "gcs":
		a.logger.Info("using GCS resource backend", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		backend, err := gcsresource.New(client, gcsresource.Config{
			Bucket: a.cfg.Storage.GCS.Bucket,
			Prefix: a.cfg.Storage.GCS.Prefix,
		})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs backend init failed: %w", err)
		}
		return backend, nil
	default:
		a.logger.Info("using in-memory resource backend")
		return memoryresource.New(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context, override publisher.Publisher) error {
	if override != nil {
		a.publisher = override
		return nil
	}
	switch a.cfg.PubSub.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.gcpPub = gcppublisher.New(client, a.cfg.PubSub.Topic)
		a.publisher = a.gcpPub
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
		)
	case "memory":
		a.publisher = memorypublisher.New()
		a.logger.Info("using in-memory publisher")
	default:
		a.logger.Info("frontier publishing disabled")
	}
	return nil
}

// NewLinkDiscoverer builds a discoverer with a fresh frontier that shares the
// app's matcher, robots validator and sitemap parser.
func (a *App) NewLinkDiscoverer() (*crawler.LinkDiscoverer, error) {
	cfg, err := a.cfg.Links.Discoverer()
	if err != nil {
		return nil, err
	}
	var checker crawler.RobotsChecker
	if a.cfg.Links.CheckRobots {
		checker = a.robots
	}
	d, err := crawler.NewLinkDiscoverer(cfg, a.matcher, checker, a.sitemaps, a.logger.Named("links"))
	if err != nil {
		return nil, fmt.Errorf("link discoverer init failed: %w", err)
	}
	return d, nil
}

// PageFetcher returns the fetcher for page bodies. render forces the
// headless fetcher and fails when it is not enabled; otherwise app shells are
// promoted to it when headless.auto_promote is set.
func (a *App) PageFetcher(render bool) (fetch.Fetcher, error) {
	if !render {
		return a.pages, nil
	}
	if a.headless == nil {
		return nil, fmt.Errorf("%w: set headless.enabled", headlessfetcher.ErrUnavailable)
	}
	return a.headless, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Fetcher returns the plain HTTP fetcher.
func (a *App) Fetcher() fetch.Fetcher { return a.fetcher }

// Robots returns the shared robots validator.
func (a *App) Robots() *robots.Validator { return a.robots }

// Sitemaps returns the shared sitemap parser.
func (a *App) Sitemaps() *sitemap.Parser { return a.sitemaps }

// Matcher returns the compiled URL patterns.
func (a *App) Matcher() *urlpattern.Matcher { return a.matcher }

// Prober returns the deep discovery prober.
func (a *App) Prober() *discovery.Prober { return a.prober }

// Frontier returns the long-lived frontier served by the API.
func (a *App) Frontier() *crawler.LinkDiscoverer { return a.frontier }

// Records returns the resource store.
func (a *App) Records() *resource.DB { return a.records }

// Index returns the full-text index, or nil when disabled.
func (a *App) Index() *fulltext.Index { return a.index }

// Publisher returns the frontier publisher, or nil when publishing is disabled.
func (a *App) Publisher() publisher.Publisher { return a.publisher }

// Handler builds the HTTP API over the app's services.
func (a *App) Handler() http.Handler {
	deps := api.Deps{
		Fetcher:        a.pages,
		Robots:         a.robots,
		Sitemaps:       a.sitemaps,
		Prober:         a.prober,
		Frontier:       a.frontier,
		SitemapRobots:  a.cfg.Links.CheckRobots,
		Records:        a.records,
		Index:          a.index,
		RebuildTimeout: a.cfg.FullText.RebuildTimeout,
		Publisher:      a.publisher,
		Topic:          a.cfg.PubSub.Topic,
	}
	if a.headless != nil {
		deps.HeadlessFetch = a.headless
	}
	return api.NewServer(deps, a.logger.Named("api")).Handler()
}

// Run serves the HTTP API and blocks until the context is canceled or a
// termination signal arrives, then shuts down and closes the app.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("serve http: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Close flushes the index and releases every client. It is safe to call
// more than once; later calls return the first result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeErr = a.closeInfrastructure(ctx)
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return a.closeErr
}

func (a *App) closeInfrastructure(ctx context.Context) error {
	var errs []error
	if a.index != nil {
		if err := a.index.Stop(ctx); err != nil {
			a.logger.Warn("full-text index stop failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.records != nil {
		if err := a.records.Close(); err != nil {
			a.logger.Warn("resource store close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.gcpPub != nil {
		if err := a.gcpPub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	return errors.Join(errs...)
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.ownedLogger {
		// Sync reports EINVAL for console outputs.
		_ = a.logger.Sync()
	}
}

// abort releases whatever Build created before failing.
func (a *App) abort(ctx context.Context) {
	if err := a.Close(ctx); err != nil {
		a.logger.Warn("cleanup after failed build", zap.Error(err))
	}
}
