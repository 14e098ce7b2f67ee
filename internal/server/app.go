// Package server builds the archiver's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-archiver/internal/api"
	"github.com/JakeFAU/feed-archiver/internal/clock/system"
	"github.com/JakeFAU/feed-archiver/internal/config"
	"github.com/JakeFAU/feed-archiver/internal/crawl"
	"github.com/JakeFAU/feed-archiver/internal/debounce"
	"github.com/JakeFAU/feed-archiver/internal/discord"
	"github.com/JakeFAU/feed-archiver/internal/events"
	"github.com/JakeFAU/feed-archiver/internal/events/sinks"
	"github.com/JakeFAU/feed-archiver/internal/feed/jsonfeed"
	collyfetcher "github.com/JakeFAU/feed-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/feed-archiver/internal/hash/phash"
	"github.com/JakeFAU/feed-archiver/internal/hash/sha256"
	"github.com/JakeFAU/feed-archiver/internal/id/uuid"
	"github.com/JakeFAU/feed-archiver/internal/orchestrator"
	"github.com/JakeFAU/feed-archiver/internal/policy/ratelimit"
	"github.com/JakeFAU/feed-archiver/internal/relocate"
	localstorage "github.com/JakeFAU/feed-archiver/internal/storage/local"
	"github.com/JakeFAU/feed-archiver/internal/store"
	"github.com/JakeFAU/feed-archiver/internal/writequeue"
)

// Options selects the optional parts of the graph.
type Options struct {
	// Frontends builds the HTTP API and, when enabled in config, connects the Discord bot.
	Frontends bool
	// Registerer receives the event metrics; nil means the default registry.
	Registerer prometheus.Registerer
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store        *store.Store
	writer       *writequeue.Serializer
	files        *localstorage.ArchiveStore
	hub          *events.Hub
	crawler      *crawl.Engine
	relocator    *relocate.Engine
	ratings      *debounce.Ratings
	orchestrator *orchestrator.Orchestrator
	apiServer    *api.Server
	bot          *discord.Bot
}

// Build opens the archive and wires every component. On error everything
// opened so far is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.closeInfrastructure(context.Background())
			app = nil
		}
	}()

	logger.Info("building application dependencies",
		zap.String("archive_root", cfg.ArchiveRoot()),
		zap.String("database", cfg.Database.Path),
		zap.Bool("frontends", opts.Frontends),
	)

	if err = app.setupArchive(ctx); err != nil {
		return app, err
	}

	// Components built before the hub emit through ref.
	ref := &hubRef{}
	clock := system.New()
	hasher := sha256.New()

	app.relocator = relocate.New(relocate.Config{
		Vocabulary: cfg.Vocabulary(),
		Writer:     app.writer,
		Files:      app.files,
		Media:      app.store,
		Hasher:     hasher,
		Events:     ref,
		Clock:      clock,
		Logger:     logger.Named("relocate"),
	})
	app.ratings = debounce.NewRatings(app.relocator, debounce.RatingsConfig{
		QuietPeriod: cfg.Debounce.QuietPeriod,
		OnReport: func(r relocate.Report) {
			logger.Debug("debounced rating flushed", zap.String("post_id", r.PostID), zap.Int64("media_id", r.MediaID))
		},
		Logger: logger.Named("ratings"),
	})

	if opts.Frontends && cfg.Discord.Enabled {
		app.bot, err = discord.Open(cfg.Discord.Token, discord.Config{
			GuildID:         cfg.Discord.GuildID,
			FeedChannelID:   cfg.Discord.FeedChannelID,
			StatusChannelID: cfg.Discord.StatusChannelID,
			AllowedRoleID:   cfg.Discord.AllowedRoleID,
			PostURLFormat:   cfg.Discord.PostURLFormat,
			Vocabulary:      cfg.Vocabulary(),
		}, app.ratings, logger.Named("discord"))
		if err != nil {
			return app, fmt.Errorf("discord init failed: %w", err)
		}
		app.ratings.Observe(app.bot.Settled)
	}

	if err = app.setupEvents(opts.Registerer); err != nil {
		return app, err
	}
	ref.hub = app.hub

	if err = app.setupCrawler(clock, hasher); err != nil {
		return app, err
	}

	app.orchestrator = orchestrator.New(
		orchestrator.Config{
			Interval:        cfg.Archive.CheckInterval,
			ScrapeAtStartup: cfg.Archive.ScrapeAtStartup,
		},
		app.store,
		app.crawler,
		uuid.New(),
		app.hub,
		clock,
		logger.Named("orchestrator"),
	)

	if opts.Frontends && cfg.API.Enabled {
		app.apiServer = api.NewServer(
			api.Config{APIKey: cfg.API.Key},
			api.Deps{
				Archive:    app.store,
				Writer:     app.writer,
				Ratings:    app.ratings,
				Vocabulary: cfg.Vocabulary(),
				Logger:     logger.Named("api"),
			},
		)
		if cfg.API.Key == "" {
			logger.Warn("api.key is empty, mutating routes are unauthenticated")
		}
	}
	return app, nil
}

func (a *App) setupArchive(ctx context.Context) error {
	var err error
	a.files, err = localstorage.New(localstorage.Config{Root: a.cfg.ArchiveRoot()})
	if err != nil {
		return fmt.Errorf("archive store init failed: %w", err)
	}
	if err = a.files.EnsureDirectories(a.cfg.Vocabulary().Pairs()); err != nil {
		return fmt.Errorf("archive directories init failed: %w", err)
	}
	a.store, err = store.Open(ctx, store.Config{
		Path:        a.cfg.Database.Path,
		BusyTimeout: a.cfg.Database.BusyTimeout,
	}, a.logger.Named("store"))
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	a.writer = writequeue.New(a.store.DB(), a.logger.Named("writequeue"))
	a.logger.Debug("archive opened", zap.String("root", a.files.Root()))
	return nil
}

func (a *App) setupEvents(reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []events.Sink{
		sinks.NewLogSink(a.logger.Named("events")),
		promSink,
	}
	if a.bot != nil {
		sinkList = append(sinkList, a.bot)
		a.logger.Debug("added discord event sink")
	}
	a.hub = events.NewHub(events.Config{Logger: a.logger.Named("event_hub")}, sinkList...)
	a.logger.Info("event hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}

func (a *App) setupCrawler(clock *system.Clock, hasher *sha256.Hasher) error {
	crawlCfg := a.cfg.Crawl
	feedHeaders := http.Header{}
	if a.cfg.Feed.Token != "" {
		feedHeaders.Set("Authorization", "Bearer "+a.cfg.Feed.Token)
	}
	feedFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: crawlCfg.UserAgent,
		Timeout:   crawlCfg.Timeout,
		Headers:   feedHeaders,
	})
	mediaFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   crawlCfg.UserAgent,
		Timeout:     crawlCfg.Timeout,
		MaxBodySize: crawlCfg.MaxBodyBytes,
		Limiter: ratelimit.New(ratelimit.Config{
			RPS:   crawlCfg.DownloadRPS,
			Burst: crawlCfg.DownloadBurst,
		}),
	})
	a.logger.Info("download client configured",
		zap.String("user_agent", crawlCfg.UserAgent),
		zap.Float64("download_rps", crawlCfg.DownloadRPS),
		zap.Int("download_burst", crawlCfg.DownloadBurst),
	)

	feed, err := jsonfeed.New(a.cfg.Feed.BaseURL, feedFetcher)
	if err != nil {
		return fmt.Errorf("feed client init failed: %w", err)
	}
	a.crawler = crawl.New(
		crawl.Config{PageDelay: crawlCfg.PageDelay, ItemDelay: crawlCfg.ItemDelay},
		crawl.Deps{
			Feed:       feed,
			Fetcher:    mediaFetcher,
			Content:    hasher,
			Perceptual: phash.New(),
			Files:      a.files,
			Index:      a.store,
			Writer:     a.writer,
			Events:     a.hub,
			Clock:      clock,
			Logger:     a.logger.Named("crawl"),
		},
	)
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the read side of the index.
func (a *App) Store() *store.Store { return a.store }

// Writer returns the write serializer.
func (a *App) Writer() *writequeue.Serializer { return a.writer }

// Crawler returns the crawl engine.
func (a *App) Crawler() *crawl.Engine { return a.crawler }

// Relocator returns the rating relocation engine.
func (a *App) Relocator() *relocate.Engine { return a.relocator }

// Orchestrator returns the scrape scheduler.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// Run starts the scheduler and the HTTP server and blocks until ctx is
// canceled or a termination signal arrives, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	var srv *http.Server
	if a.apiServer != nil {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.API.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.API.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	a.orchestrator.Stop()

	return a.Close(shutdownCtx)
}

// Close flushes pending ratings, drains the write queue and the event hub,
// and closes the database. The order matters: ratings feed the queue and
// both emit into the hub.
func (a *App) Close(ctx context.Context) error {
	err := a.closeInfrastructure(ctx)
	if syncErr := a.logger.Sync(); syncErr != nil {
		a.logger.Debug("logger sync failed", zap.Error(syncErr))
	}
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) closeInfrastructure(ctx context.Context) error {
	var errs []error
	if a.ratings != nil {
		a.ratings.Close()
	}
	if a.writer != nil {
		if err := a.writer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("write queue close: %w", err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	} else if a.bot != nil {
		if err := a.bot.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}
	return errors.Join(errs...)
}

type hubRef struct {
	hub *events.Hub
}

func (r *hubRef) Emit(evt events.Event) {
	if r.hub != nil {
		r.hub.Emit(evt)
	}
}
