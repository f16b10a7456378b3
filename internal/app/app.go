// Package app builds and holds the long-lived services of the ETL, acting as
// the dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/county-wage-etl/internal/api"
	"github.com/JakeFAU/county-wage-etl/internal/archive"
	"github.com/JakeFAU/county-wage-etl/internal/cache"
	"github.com/JakeFAU/county-wage-etl/internal/census"
	"github.com/JakeFAU/county-wage-etl/internal/clock"
	"github.com/JakeFAU/county-wage-etl/internal/config"
	"github.com/JakeFAU/county-wage-etl/internal/httpclient"
	"github.com/JakeFAU/county-wage-etl/internal/id"
	"github.com/JakeFAU/county-wage-etl/internal/logging"
	"github.com/JakeFAU/county-wage-etl/internal/pipeline"
	gcppublisher "github.com/JakeFAU/county-wage-etl/internal/publisher/pubsub"
	"github.com/JakeFAU/county-wage-etl/internal/scrape"
	"github.com/JakeFAU/county-wage-etl/internal/sink/csvfile"
	gcsstorage "github.com/JakeFAU/county-wage-etl/internal/storage/gcs"
	localstorage "github.com/JakeFAU/county-wage-etl/internal/storage/local"
	"github.com/JakeFAU/county-wage-etl/internal/storage/postgres"
)

// censusCacheDir is the sub-directory of cache.dir holding reference responses.
const censusCacheDir = "census"

// ErrNoDatabase is returned by accessors that need Postgres when db.dsn is unset.
var ErrNoDatabase = errors.New("db.dsn is not configured")

// App holds every shared service. Build it once per process and Close it on exit.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	sourceCache *cache.FileCache
	censusCache *cache.FileCache
	census      *census.Extractor
	scraper     *scrape.Extractor
	sourceHTTP  *httpclient.Client

	pool    *pgxpool.Pool
	tracker *postgres.RunTracker
	loader  *postgres.BulkLoader

	csv        *csvfile.Sink
	publisher  *gcppublisher.Publisher
	closeFuncs []func() error
}

// Build creates the application's dependencies. Postgres is optional here so
// that commands such as counties and cache work without a database.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logging.OrNop(logger)}
	a.logger.Info("building application dependencies")

	a.setupCaches(ctx)
	pacer := httpclient.NewPacer(httpclient.PacerConfig{
		MinDelay:          time.Duration(cfg.HTTP.MinDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(cfg.HTTP.MaxDelayMs) * time.Millisecond,
		RequestsPerSecond: cfg.Policy.RequestsPerSecond,
		Burst:             cfg.Policy.Burst,
	})
	if err := a.setupExtractors(pacer); err != nil {
		return nil, err
	}
	if err := a.setupArchive(ctx); err != nil {
		a.closeQuietly()
		return nil, err
	}
	if err := a.setupDatabase(ctx); err != nil {
		a.closeQuietly()
		return nil, err
	}
	if err := a.setupSinks(ctx); err != nil {
		a.closeQuietly()
		return nil, err
	}
	return a, nil
}

// setupCaches opens both response caches. A cache that cannot be opened is
// left nil and requests go straight to the network.
func (a *App) setupCaches(ctx context.Context) {
	var err error
	a.sourceCache, err = cache.New(cache.Config{Dir: a.cfg.Cache.Dir, TTL: a.cfg.Cache.CacheTTL()},
		cache.WithLogger(a.logger.Named("cache")))
	if err != nil {
		a.logger.Warn("source cache unavailable, continuing without it", zap.Error(err))
		a.sourceCache = nil
	}
	a.censusCache, err = cache.New(cache.Config{
		Dir: filepath.Join(a.cfg.Cache.Dir, censusCacheDir),
		TTL: a.cfg.Census.CacheTTL(),
	}, cache.WithLogger(a.logger.Named("census_cache")))
	if err != nil {
		a.logger.Warn("census cache unavailable, continuing without it", zap.Error(err))
		a.censusCache = nil
		return
	}
	removed, err := a.censusCache.Sweep(ctx)
	if err != nil {
		a.logger.Warn("census cache sweep failed", zap.Error(err))
	} else if removed > 0 {
		a.logger.Info("swept census cache", zap.Int("removed", removed))
	}
}

func (a *App) httpConfig(ttl time.Duration) httpclient.Config {
	h := a.cfg.HTTP
	return httpclient.Config{
		Transport: httpclient.TransportConfig{
			UserAgent: h.UserAgent,
			Timeout:   h.RequestTimeout(),
			VerifySSL: h.VerifySSL,
			ProxyURL:  h.ProxyURL,
		},
		Retry: httpclient.NewRetryPolicy(
			h.MaxRetries,
			time.Duration(h.BackoffInitialMs)*time.Millisecond,
			time.Duration(h.RateLimitBackoffMs)*time.Millisecond,
			time.Duration(h.BackoffMaxMs)*time.Millisecond,
			h.BackoffJitter,
		),
		CacheTTL: ttl,
	}
}

func (a *App) clientOptions(c *cache.FileCache, pacer *httpclient.Pacer, name string) []httpclient.Option {
	opts := []httpclient.Option{
		httpclient.WithPacer(pacer),
		httpclient.WithLogger(a.logger.Named(name)),
	}
	if c != nil {
		opts = append(opts, httpclient.WithCache(c))
	}
	return opts
}

func (a *App) setupExtractors(pacer *httpclient.Pacer) error {
	censusHTTP, err := httpclient.New(a.httpConfig(a.cfg.Census.CacheTTL()),
		a.clientOptions(a.censusCache, pacer, "census_http")...)
	if err != nil {
		return fmt.Errorf("census http client init failed: %w", err)
	}
	a.census, err = census.New(censusHTTP, census.Config{
		BaseURL: a.cfg.Census.BaseURL,
		APIKey:  a.cfg.Census.APIKey,
	}, a.logger.Named("census"))
	if err != nil {
		return fmt.Errorf("census extractor init failed: %w", err)
	}

	a.sourceHTTP, err = httpclient.New(a.httpConfig(a.cfg.Cache.CacheTTL()),
		a.clientOptions(a.sourceCache, pacer, "source_http")...)
	if err != nil {
		return fmt.Errorf("source http client init failed: %w", err)
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	var store archive.BlobStore
	switch a.cfg.Archive.Provider {
	case "gcs":
		a.logger.Info("archiving pages to GCS", zap.String("bucket", a.cfg.Archive.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.closeFuncs = append(a.closeFuncs, client.Close)
		store, err = gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case "local":
		a.logger.Info("archiving pages locally", zap.String("path", a.cfg.Archive.BaseDir))
		var err error
		store, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
	default:
		a.logger.Debug("page archive disabled")
	}

	opts := []scrape.Option{scrape.WithLogger(a.logger.Named("scrape"))}
	if store != nil {
		archiver, err := archive.New(store, a.cfg.Archive.Prefix)
		if err != nil {
			return fmt.Errorf("page archiver init failed: %w", err)
		}
		opts = append(opts, scrape.WithArchiver(archiver))
	}
	var err error
	a.scraper, err = scrape.New(a.sourceHTTP, scrape.Config{
		BaseURL: a.cfg.Source.BaseURL,
		Workers: a.cfg.Scrape.Workers,
	}, opts...)
	if err != nil {
		return fmt.Errorf("source extractor init failed: %w", err)
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN configured, database commands are unavailable")
		return nil
	}
	pool, err := postgres.Open(ctx, postgres.Config{
		DSN:      a.cfg.DB.DSN,
		MaxConns: a.cfg.DB.MaxConns,
		MinConns: a.cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	a.pool = pool
	a.closeFuncs = append(a.closeFuncs, func() error {
		pool.Close()
		return nil
	})

	a.tracker, err = postgres.NewRunTracker(pool, id.V7{}, clock.System{}, a.logger.Named("runs"))
	if err != nil {
		return fmt.Errorf("run tracker init failed: %w", err)
	}
	a.loader, err = postgres.NewBulkLoader(pool, a.logger.Named("loader"))
	if err != nil {
		return fmt.Errorf("bulk loader init failed: %w", err)
	}
	a.logger.Info("database connected", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupSinks(ctx context.Context) error {
	if a.cfg.CSV.Enabled {
		sink, err := csvfile.New(a.cfg.CSV.Dir)
		if err != nil {
			return fmt.Errorf("csv sink init failed: %w", err)
		}
		a.csv = sink
		a.logger.Info("csv sink enabled", zap.String("dir", a.cfg.CSV.Dir))
	}
	if a.cfg.PubSub.Enabled {
		pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = pub
		a.closeFuncs = append(a.closeFuncs, pub.Close)
		a.logger.Info("run events enabled",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic))
	}
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Census returns the reference extractor.
func (a *App) Census() *census.Extractor {
	return a.census
}

// Caches returns the response caches that could be opened.
func (a *App) Caches() []*cache.FileCache {
	var caches []*cache.FileCache
	for _, c := range []*cache.FileCache{a.sourceCache, a.censusCache} {
		if c != nil {
			caches = append(caches, c)
		}
	}
	return caches
}

// DB returns the connection pool, or ErrNoDatabase.
func (a *App) DB() (*pgxpool.Pool, error) {
	if a.pool == nil {
		return nil, ErrNoDatabase
	}
	return a.pool, nil
}

// Runs returns the run tracker, or ErrNoDatabase.
func (a *App) Runs() (*postgres.RunTracker, error) {
	if a.tracker == nil {
		return nil, ErrNoDatabase
	}
	return a.tracker, nil
}

// Pipeline assembles an orchestrator over the configured services.
func (a *App) Pipeline() (*pipeline.Orchestrator, error) {
	if a.tracker == nil || a.loader == nil {
		return nil, ErrNoDatabase
	}
	opts := []pipeline.Option{pipeline.WithLogger(a.logger.Named("pipeline"))}
	if a.csv != nil {
		opts = append(opts, pipeline.WithCSVSink(a.csv))
	}
	if a.publisher != nil {
		opts = append(opts, pipeline.WithPublisher(a.publisher))
	}
	return pipeline.New(pipeline.Dependencies{
		Reference: a.census,
		Scraper:   a.scraper,
		Tracker:   a.tracker,
		Loader:    a.loader,
	}, pipeline.Config{
		MinSuccessRate: a.cfg.Pipeline.MinSuccessRate,
		MaxNullRatio:   a.cfg.Transform.MaxNullRatio,
		EntityLimit:    a.cfg.Pipeline.EntityLimit,
	}, opts...)
}

// StatusServer builds the read-only status API. Run routes answer 503 when
// no database is configured.
func (a *App) StatusServer() *api.Server {
	deps := api.Dependencies{}
	if a.pool != nil {
		deps.Runs = a.tracker
		deps.Staging = a.loader
		deps.DB = a.pool
	}
	return api.NewServer(deps, a.logger.Named("api"))
}

// RequestCount returns the number of source page requests sent so far.
func (a *App) RequestCount() int64 {
	return a.sourceHTTP.RequestCount()
}

// Close releases every client in reverse order of construction.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closeFuncs) - 1; i >= 0; i-- {
		if err := a.closeFuncs[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeFuncs = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown finished with errors", zap.Error(err))
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeQuietly() {
	_ = a.Close()
}
