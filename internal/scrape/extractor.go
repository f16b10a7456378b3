// Package scrape extracts wide-format wage and expense tables from the
// per-county living-wage pages.
package scrape

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/county-wage-etl/internal/clock"
	"github.com/JakeFAU/county-wage-etl/internal/httpclient"
	"github.com/JakeFAU/county-wage-etl/internal/logging"
	"github.com/JakeFAU/county-wage-etl/internal/model"
)

// Fetcher is the HTTP capability the extractor needs.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values) (httpclient.Response, error)
}

// Archiver stores raw pages for later inspection.
type Archiver interface {
	ArchivePage(ctx context.Context, entityCode string, body []byte) (string, error)
}

// Config locates the source site.
type Config struct {
	BaseURL string
	// Workers bounds concurrent fetches in ScrapeMany; 1 keeps it sequential.
	Workers int
}

// Extractor scrapes county pages.
type Extractor struct {
	client   Fetcher
	cfg      Config
	clock    clock.Clock
	archiver Archiver
	logger   *zap.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithClock sets the clock used for the fallback page date.
func WithClock(c clock.Clock) Option {
	return func(e *Extractor) {
		e.clock = clock.OrSystem(c)
	}
}

// WithArchiver archives every fetched page.
func WithArchiver(a Archiver) Option {
	return func(e *Extractor) {
		e.archiver = a
	}
}

// WithLogger sets the extractor logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		e.logger = logging.OrNop(l)
	}
}

// New builds an Extractor.
func New(client Fetcher, cfg Config, opts ...Option) (*Extractor, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("source base url is required")
	}
	cfg.BaseURL = base
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	e := &Extractor{
		client: client,
		cfg:    cfg,
		clock:  clock.System{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// URL returns the page address of a county.
func (e *Extractor) URL(fullCode string) string {
	return e.cfg.BaseURL + "/counties/" + fullCode
}

// ScrapeEntity fetches and parses one county page. It never returns an
// error: failures are reported through the result.
func (e *Extractor) ScrapeEntity(ctx context.Context, fullCode string) (result model.ScrapeResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("scrape panicked", zap.String("county", fullCode), zap.Any("panic", r))
			result = model.FailedScrape(fullCode, fmt.Errorf("scrape %s: panic: %v", fullCode, r))
		}
	}()

	if len(fullCode) != model.FullCodeWidth || !model.IsDigits(fullCode) {
		return model.FailedScrape(fullCode, fmt.Errorf("invalid county code %q", fullCode))
	}

	resp, err := e.client.Get(ctx, e.URL(fullCode), nil)
	if err != nil {
		e.logger.Warn("county fetch failed", zap.String("county", fullCode), zap.Error(err))
		return model.FailedScrape(fullCode, fmt.Errorf("fetch %s: %w", fullCode, err))
	}

	page, err := ParsePage(resp.Body, fullCode)
	if err != nil {
		e.logger.Warn("county parse failed", zap.String("county", fullCode), zap.Error(err))
		return model.FailedScrape(fullCode, fmt.Errorf("parse %s: %w", fullCode, err))
	}
	for _, w := range page.Warnings {
		e.logger.Warn("row/header length mismatch", zap.String("county", fullCode), zap.String("detail", w))
	}

	if e.archiver != nil && !resp.FromCache {
		if loc, err := e.archiver.ArchivePage(ctx, fullCode, resp.Body); err != nil {
			e.logger.Warn("page archive failed", zap.String("county", fullCode), zap.Error(err))
		} else {
			e.logger.Debug("page archived", zap.String("county", fullCode), zap.String("location", loc))
		}
	}

	updated := page.Updated
	if updated.IsZero() {
		updated = truncateDay(e.clock.Now())
	}
	return model.ScrapeResult{
		EntityCode:  fullCode,
		Success:     true,
		Wages:       page.Wages,
		Expenses:    page.Expenses,
		PageUpdated: updated,
	}
}

// ScrapeMany lazily yields one result per code. With more than one worker,
// fetches run concurrently and results arrive in completion order. The
// sequence stops early when ctx is canceled or the consumer stops.
func (e *Extractor) ScrapeMany(ctx context.Context, codes []string) iter.Seq[model.ScrapeResult] {
	if e.cfg.Workers <= 1 {
		return func(yield func(model.ScrapeResult) bool) {
			for _, code := range codes {
				if ctx.Err() != nil {
					return
				}
				if !yield(e.ScrapeEntity(ctx, code)) {
					return
				}
			}
		}
	}
	return func(yield func(model.ScrapeResult) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		jobs := make(chan string)
		results := make(chan model.ScrapeResult)

		var wg sync.WaitGroup
		for i := 0; i < e.cfg.Workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for code := range jobs {
					r := e.ScrapeEntity(ctx, code)
					select {
					case results <- r:
					case <-ctx.Done():
						return
					}
				}
			}()
		}
		go func() {
			defer close(jobs)
			for _, code := range codes {
				select {
				case jobs <- code:
				case <-ctx.Done():
					return
				}
			}
		}()
		go func() {
			wg.Wait()
			close(results)
		}()

		for r := range results {
			if !yield(r) {
				return
			}
		}
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
