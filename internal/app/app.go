// Package app builds the long-lived services from configuration and runs the
// HTTP server. Both the serve and crawl commands go through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitegraph/internal/api"
	"github.com/JakeFAU/sitegraph/internal/clock/system"
	"github.com/JakeFAU/sitegraph/internal/config"
	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/enrich"
	"github.com/JakeFAU/sitegraph/internal/extract"
	collyfetcher "github.com/JakeFAU/sitegraph/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/sitegraph/internal/fetcher/headless"
	"github.com/JakeFAU/sitegraph/internal/hash/sha256"
	"github.com/JakeFAU/sitegraph/internal/headless/detector"
	"github.com/JakeFAU/sitegraph/internal/pipeline"
	"github.com/JakeFAU/sitegraph/internal/policy/ratelimit"
	"github.com/JakeFAU/sitegraph/internal/progress"
	"github.com/JakeFAU/sitegraph/internal/progress/sinks"
	"github.com/JakeFAU/sitegraph/internal/publisher"
	pubsubpublisher "github.com/JakeFAU/sitegraph/internal/publisher/pubsub"
	"github.com/JakeFAU/sitegraph/internal/session"
	"github.com/JakeFAU/sitegraph/internal/storage"
	"github.com/JakeFAU/sitegraph/internal/storage/gcs"
	"github.com/JakeFAU/sitegraph/internal/storage/local"
	"github.com/JakeFAU/sitegraph/internal/storage/memory"
	"github.com/JakeFAU/sitegraph/internal/storage/postgres"
)

const readHeaderTimeout = 5 * time.Second

// App holds the services shared by every session.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	runner   *pipeline.Runner
	sessions *session.Registry
	results  *memory.ResultStore
	blobs    *memory.BlobStore
	server   *api.Server
	hub      *progress.Hub
	closers  []func(context.Context) error
}

type options struct {
	pages      crawler.PageFetcher
	completer  enrich.Completer
	publisher  publisher.Publisher
	registerer prometheus.Registerer
	clock      crawler.Clock
}

// Option overrides a collaborator New would otherwise build from config.
type Option func(*options)

// WithPageFetcher replaces the network page fetcher.
func WithPageFetcher(pages crawler.PageFetcher) Option {
	return func(o *options) { o.pages = pages }
}

// WithCompleter replaces the chat-completions client.
func WithCompleter(c enrich.Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithPublisher publishes notifications through pub instead of Pub/Sub.
func WithPublisher(pub publisher.Publisher) Option {
	return func(o *options) { o.publisher = pub }
}

// WithRegisterer registers the progress collectors against reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithClock replaces the wall clock.
func WithClock(clock crawler.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// New builds every service named by cfg. On error, anything already opened
// is closed before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = system.New()
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		sessions: session.NewRegistry(),
		results:  memory.NewResultStore(cfg.Results.Capacity),
	}
	defer func() {
		if err != nil {
			if closeErr := a.Close(context.WithoutCancel(ctx)); closeErr != nil {
				logger.Warn("cleanup after failed start", zap.Error(closeErr))
			}
		}
	}()

	pages := o.pages
	if pages == nil {
		if pages, err = a.buildPageFetcher(o.clock); err != nil {
			return nil, err
		}
	}
	engine := crawler.NewEngine(pages, crawler.EngineConfig{Delay: cfg.CrawlDelay()}, logger.Named("crawler"))

	completer := o.completer
	if completer == nil {
		completer = enrich.NewClient(enrich.ClientConfig{
			Endpoint:    cfg.Enrichment.Endpoint,
			Model:       cfg.Enrichment.Model,
			APIKey:      cfg.Enrichment.APIKey,
			Timeout:     time.Duration(cfg.Enrichment.TimeoutSeconds) * time.Second,
			MaxTokens:   cfg.Enrichment.MaxTokens,
			Temperature: cfg.Enrichment.Temperature,
		}, nil)
	}
	queue := enrich.NewQueue(enrich.QueueConfig{
		GlobalLimit:     cfg.Enrichment.GlobalMaxPerWindow,
		SessionLimit:    cfg.Enrichment.SessionMaxPerWindow,
		Window:          time.Duration(cfg.Enrichment.WindowSeconds) * time.Second,
		MaxContentChars: cfg.Enrichment.MaxContentChars,
		Model:           cfg.Enrichment.Model,
	}, completer, o.clock, logger.Named("enrich"))

	handlers, checks, err := a.buildHandlers(ctx, o)
	if err != nil {
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics: %w", err)
	}
	a.hub = progress.NewHub(progress.HubConfig{Logger: logger}, sinks.NewLogSink(logger), promSink)

	a.runner, err = pipeline.NewRunner(a.pipelineConfig(), pipeline.Deps{
		Crawler:  engine,
		Enricher: queue,
		Sessions: a.sessions,
		Results:  a.results,
		Handoff:  pipeline.NewHandoff(logger, handlers...),
		Tap:      a.hub,
		Clock:    o.clock,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	a.server = api.NewServer(a.runner, a.sessions, a.results, cfg, logger, api.WithReadinessChecks(checks...))
	logger.Info("services initialized",
		zap.String("headless", cfg.Headless.Mode),
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("handlers", len(handlers)))
	return a, nil
}

func (a *App) buildPageFetcher(clock crawler.Clock) (crawler.PageFetcher, error) {
	cfg := a.cfg
	static := collyfetcher.New(collyfetcher.Config{
		RespectRobots: !cfg.Crawler.IgnoreRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
	})

	var fetcher crawler.Fetcher = static
	if cfg.HeadlessEnabled() {
		browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(cfg.Headless.SettleMs) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("start headless fetcher: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			browser.Close()
			return nil
		})
		if cfg.Headless.Mode == config.HeadlessAlways {
			fetcher = browser
		} else {
			fetcher = headlessfetcher.NewPromotingFetcher(static, browser,
				detector.NewHeuristic(cfg.Headless.PromotionThreshold), a.logger.Named("headless"))
		}
	}

	limiter := ratelimit.New(ratelimit.Config{RequestsPerSecond: cfg.RateLimit.RequestsPerSecond})
	extractor := extract.New(extract.Config{
		MaxContentChars:  cfg.Extract.MaxContentChars,
		DescriptionChars: cfg.Extract.MaxDescriptionChars,
	})
	return crawler.NewSitePageFetcher(limiter, fetcher, extractor, clock, cfg.Crawler.UserAgent, a.logger.Named("fetch")), nil
}

// buildHandlers assembles the background result fan-out in delivery order:
// blob, summary row, notification. The notification reads the blob URI, so it
// must run after the blob handler. The memory result store is not part of it;
// the runner records there before the result event.
func (a *App) buildHandlers(ctx context.Context, o options) ([]pipeline.ResultHandler, []api.ReadinessCheck, error) {
	cfg := a.cfg
	var handlers []pipeline.ResultHandler
	var checks []api.ReadinessCheck

	var blobStore storage.BlobStore
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		a.blobs = memory.NewBlobStore()
		blobStore = a.blobs
	case config.StorageLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, nil, fmt.Errorf("open local storage: %w", err)
		}
		blobStore = store
	case config.StorageGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, nil, fmt.Errorf("open gcs storage: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		blobStore = store
	}
	var blobHandler *storage.BlobHandler
	if blobStore != nil {
		var err error
		blobHandler, err = storage.NewBlobHandler(blobStore, sha256.New(), storage.BlobHandlerConfig{
			Prefix:      cfg.Storage.Prefix,
			ContentType: cfg.Storage.ContentType,
		}, a.logger)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, blobHandler)
	}

	if cfg.DB.DSN != "" {
		summaries, err := postgres.NewSummaryStore(ctx, postgres.Config{DSN: cfg.DB.DSN, MaxConns: cfg.DB.MaxConns})
		if err != nil {
			return nil, nil, fmt.Errorf("open summary store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			summaries.Close()
			return nil
		})
		handlers = append(handlers, summaries)
		checks = append(checks, summaries.Ping)
	}

	pub := o.publisher
	if pub == nil && cfg.PubSub.ProjectID != "" {
		ps, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("open pubsub: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return ps.Close() })
		topic := cfg.PubSub.TopicName
		checks = append(checks, func(ctx context.Context) error { return ps.CheckTopic(ctx, topic) })
		pub = ps
	}
	if pub != nil {
		var uris publisher.URIResolver
		if blobHandler != nil {
			uris = blobHandler
		}
		notify, err := publisher.NewHandler(pub, cfg.PubSub.TopicName, uris, a.logger)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, notify)
	}
	return handlers, checks, nil
}

func (a *App) pipelineConfig() pipeline.Config {
	cfg := a.cfg
	pc := pipeline.DefaultConfig()
	pc.MaxDepth = cfg.Crawler.MaxDepthDefault
	pc.MaxPages = cfg.Crawler.MaxPagesDefault
	pc.HeartbeatInterval = time.Duration(cfg.Progress.HeartbeatMs) * time.Millisecond
	pc.HeartbeatStep = cfg.Progress.HeartbeatStep
	pc.CrawlCeiling = cfg.Progress.CrawlCeiling
	pc.CrawlOnlyCeiling = cfg.Progress.CrawlOnlyCeiling
	pc.EnrichmentBase = cfg.Progress.EnrichmentBase
	pc.EnrichmentSpan = cfg.Progress.EnrichmentSpan
	pc.AsyncPromptThreshold = cfg.Progress.AsyncPromptThreshold
	return pc
}

// Runner returns the session runner.
func (a *App) Runner() *pipeline.Runner {
	return a.runner
}

// Results returns the in-memory result store.
func (a *App) Results() *memory.ResultStore {
	return a.results
}

// Blobs returns the in-memory blob store, or nil unless storage.backend is memory.
func (a *App) Blobs() *memory.BlobStore {
	return a.blobs
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Serve runs the HTTP server on ln (or server.port when ln is nil) until ctx
// is cancelled, then drains it. Live sessions see their request context
// cancelled first so their streams end with a cancelled event.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		cancelBase()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close waits for background result handoffs, flushes the progress hub, and
// releases external clients in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.runner != nil {
		if err := a.runner.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
