// Package pipeline runs one ETL pass per state: reference counties, page
// scrape, normalization, validation and load, all inside a tracked run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/county-wage-etl/internal/census"
	"github.com/JakeFAU/county-wage-etl/internal/clock"
	"github.com/JakeFAU/county-wage-etl/internal/logging"
	"github.com/JakeFAU/county-wage-etl/internal/metrics"
	"github.com/JakeFAU/county-wage-etl/internal/model"
	"github.com/JakeFAU/county-wage-etl/internal/storage/postgres"
	"github.com/JakeFAU/county-wage-etl/internal/transform"
)

// EventRunCompleted is the event type published when a run closes.
const EventRunCompleted = "run.completed"

const defaultEndRunTimeout = 30 * time.Second

// ReferenceSource lists the counties of a state.
type ReferenceSource interface {
	FetchCounties(ctx context.Context, stateCode string) ([]model.CountyIdentity, error)
}

// Scraper yields one result per county page.
type Scraper interface {
	ScrapeMany(ctx context.Context, codes []string) iter.Seq[model.ScrapeResult]
}

// RunTracker opens and closes etl_runs rows.
type RunTracker interface {
	StartRun(ctx context.Context, stateCode string) (model.Run, error)
	EndRun(ctx context.Context, runID uuid.UUID, summary model.RunSummary) error
}

// Loader writes accepted records and rejects.
type Loader interface {
	UpsertWages(ctx context.Context, records []model.WageRecord, runID uuid.UUID) (int64, error)
	UpsertExpenses(ctx context.Context, records []model.ExpenseRecord, runID uuid.UUID) (int64, error)
	LoadRejects(ctx context.Context, rejects []model.RejectRecord, runID uuid.UUID, table string) (int64, error)
}

// CSVSink mirrors accepted records into files.
type CSVSink interface {
	UpsertWages(stateCode string, records []model.WageRecord) error
	UpsertExpenses(stateCode string, records []model.ExpenseRecord) error
}

// Publisher announces closed runs.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any) (string, error)
}

// Config tunes how a run is judged.
type Config struct {
	MinSuccessRate float64
	MaxNullRatio   float64
	// EntityLimit caps counties per state; 0 means all.
	EntityLimit int
	// EndRunTimeout bounds closing a run once its own context is gone.
	EndRunTimeout time.Duration
}

// Dependencies are the required collaborators of an Orchestrator.
type Dependencies struct {
	Reference ReferenceSource
	Scraper   Scraper
	Tracker   RunTracker
	Loader    Loader
}

// Result summarizes one closed run. It is also the published event payload.
type Result struct {
	RunID          uuid.UUID       `json:"run_id"`
	StateCode      string          `json:"state_code"`
	Status         model.RunStatus `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        time.Time       `json:"ended_at"`
	Counts         model.RunCounts `json:"counts"`
	FailedEntities []string        `json:"failed_entities,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

// Orchestrator drives runs.
type Orchestrator struct {
	deps      Dependencies
	cfg       Config
	csv       CSVSink
	publisher Publisher
	clock     clock.Clock
	logger    *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithCSVSink mirrors accepted records to CSV.
func WithCSVSink(s CSVSink) Option {
	return func(o *Orchestrator) {
		o.csv = s
	}
}

// WithPublisher publishes a Result for every closed run.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithClock sets the clock used for run end times in results.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = clock.OrSystem(c)
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.OrNop(l)
	}
}

// New builds an Orchestrator.
func New(deps Dependencies, cfg Config, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Reference == nil:
		return nil, fmt.Errorf("reference source is required")
	case deps.Scraper == nil:
		return nil, fmt.Errorf("scraper is required")
	case deps.Tracker == nil:
		return nil, fmt.Errorf("run tracker is required")
	case deps.Loader == nil:
		return nil, fmt.Errorf("loader is required")
	}
	if cfg.EndRunTimeout <= 0 {
		cfg.EndRunTimeout = defaultEndRunTimeout
	}
	o := &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		clock:  clock.System{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run processes each state in turn. It stops early only when ctx ends;
// per-state failures are joined into the returned error.
func (o *Orchestrator) Run(ctx context.Context, states []string) ([]Result, error) {
	var (
		results []Result
		errs    []error
	)
	for _, state := range states {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := o.RunState(ctx, state)
		if res.RunID != uuid.Nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("state %s: %w", state, err))
		}
	}
	return results, errors.Join(errs...)
}

// RunState runs the pipeline for one state. Once the run row exists it is
// always closed: errors, panics and cancellation all end it as FAILED.
func (o *Orchestrator) RunState(ctx context.Context, state string) (res Result, err error) {
	stateCode, err := census.ResolveState(state)
	if err != nil {
		return Result{}, err
	}
	run, err := o.deps.Tracker.StartRun(ctx, stateCode)
	if err != nil {
		return Result{}, fmt.Errorf("start run: %w", err)
	}
	logger := o.logger.With(zap.String("run_id", run.ID.String()), zap.String("state", stateCode))

	acc := &accumulator{runID: run.ID}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", zap.Any("panic", r))
			err = fmt.Errorf("run panicked: %v", r)
		}
		var endErr error
		res, endErr = o.finish(ctx, run, acc, err, logger)
		if endErr != nil {
			err = errors.Join(err, endErr)
		}
	}()

	return Result{}, o.execute(ctx, stateCode, acc, logger)
}

func (o *Orchestrator) execute(ctx context.Context, stateCode string, acc *accumulator, logger *zap.Logger) error {
	counties, err := o.deps.Reference.FetchCounties(ctx, stateCode)
	if err != nil {
		return fmt.Errorf("fetch counties: %w", err)
	}
	if o.cfg.EntityLimit > 0 && len(counties) > o.cfg.EntityLimit {
		counties = counties[:o.cfg.EntityLimit]
	}
	codes := make([]string, 0, len(counties))
	for _, c := range counties {
		codes = append(codes, c.FullCode())
	}
	logger.Info("processing counties", zap.Int("count", len(codes)))

	validator := transform.NewValidator(census.CountyCodes(counties))
	for result := range o.deps.Scraper.ScrapeMany(ctx, codes) {
		o.processEntity(result, validator, acc, logger)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run canceled after %d of %d counties: %w", acc.processed, len(codes), err)
	}

	return o.load(ctx, stateCode, acc, logger)
}

// processEntity runs normalize and validate for one scraped page. Failures
// stay with the entity.
func (o *Orchestrator) processEntity(result model.ScrapeResult, v *transform.Validator, acc *accumulator, logger *zap.Logger) {
	acc.processed++
	code := result.EntityCode
	if !result.Success {
		acc.failed = append(acc.failed, code)
		metrics.ObserveEntity("scrape_failed")
		logger.Warn("scrape failed", zap.String("county", code), zap.String("error", result.ErrorMessage()))
		return
	}

	wages, expenses, err := o.normalize(result, acc)
	if err != nil {
		acc.failed = append(acc.failed, code)
		metrics.ObserveEntity("transform_failed")
		logger.Error("transform failed", zap.String("county", code), zap.Error(err))
		return
	}

	okWages, badWages := v.ValidateWages(wages)
	okExpenses, badExpenses := v.ValidateExpenses(expenses)
	acc.wages = append(acc.wages, okWages...)
	acc.expenses = append(acc.expenses, okExpenses...)
	acc.addWageRejects(badWages...)
	acc.addExpenseRejects(badExpenses...)
	acc.succeeded++
	metrics.ObserveEntity("ok")
	logger.Debug("county processed",
		zap.String("county", code),
		zap.Int("wages", len(okWages)),
		zap.Int("expenses", len(okExpenses)),
		zap.Int("rejected", len(badWages)+len(badExpenses)))
}

// normalize screens and reshapes both tables. A failing table is recorded
// as one reject carrying the whole wide table.
func (o *Orchestrator) normalize(result model.ScrapeResult, acc *accumulator) ([]model.WageRecord, []model.ExpenseRecord, error) {
	code := result.EntityCode
	if err := transform.CheckWide(result.Wages, o.cfg.MaxNullRatio); err != nil {
		acc.addWageRejects(tableReject(code, result.Wages, err))
		return nil, nil, fmt.Errorf("wage table: %w", err)
	}
	if err := transform.CheckWide(result.Expenses, o.cfg.MaxNullRatio); err != nil {
		acc.addExpenseRejects(tableReject(code, result.Expenses, err))
		return nil, nil, fmt.Errorf("expense table: %w", err)
	}
	wages, err := transform.NormalizeWages(result.Wages, code, result.PageUpdated)
	if err != nil {
		acc.addWageRejects(tableReject(code, result.Wages, err))
		return nil, nil, err
	}
	expenses, err := transform.NormalizeExpenses(result.Expenses, code, result.PageUpdated)
	if err != nil {
		acc.addExpenseRejects(tableReject(code, result.Expenses, err))
		return nil, nil, err
	}
	return wages, expenses, nil
}

func (o *Orchestrator) load(ctx context.Context, stateCode string, acc *accumulator, logger *zap.Logger) error {
	wagesLoaded, err := o.deps.Loader.UpsertWages(ctx, acc.wages, acc.runID)
	if err != nil {
		return fmt.Errorf("load wages: %w", err)
	}
	acc.counts.WagesLoaded = int(wagesLoaded)
	metrics.ObserveRecords("wage", "loaded", int(wagesLoaded))

	expensesLoaded, err := o.deps.Loader.UpsertExpenses(ctx, acc.expenses, acc.runID)
	if err != nil {
		return fmt.Errorf("load expenses: %w", err)
	}
	acc.counts.ExpensesLoaded = int(expensesLoaded)
	metrics.ObserveRecords("expense", "loaded", int(expensesLoaded))

	if _, err := o.deps.Loader.LoadRejects(ctx, acc.wageRejects, acc.runID, postgres.WagesRejectsTable); err != nil {
		return fmt.Errorf("load wage rejects: %w", err)
	}
	metrics.ObserveRecords("wage", "rejected", len(acc.wageRejects))
	if _, err := o.deps.Loader.LoadRejects(ctx, acc.expenseRejects, acc.runID, postgres.ExpensesRejectsTable); err != nil {
		return fmt.Errorf("load expense rejects: %w", err)
	}
	metrics.ObserveRecords("expense", "rejected", len(acc.expenseRejects))

	if o.csv != nil {
		if err := o.csv.UpsertWages(stateCode, acc.wages); err != nil {
			logger.Warn("csv wage sink failed", zap.Error(err))
		}
		if err := o.csv.UpsertExpenses(stateCode, acc.expenses); err != nil {
			logger.Warn("csv expense sink failed", zap.Error(err))
		}
	}
	return nil
}

// finish closes the run. It uses a context detached from ctx so a canceled
// run is still recorded.
func (o *Orchestrator) finish(ctx context.Context, run model.Run, acc *accumulator, runErr error, logger *zap.Logger) (Result, error) {
	counts := acc.counts
	counts.CountiesProcessed = acc.processed
	counts.WagesRejected = len(acc.wageRejects)
	counts.ExpensesRejected = len(acc.expenseRejects)

	summary := model.RunSummary{Counts: counts}
	if runErr != nil {
		summary.Status = model.RunFailed
		summary.ErrorMessage = runErr.Error()
	} else {
		summary.Status = DetermineStatus(acc.processed, acc.succeeded, counts.Rejected(), o.cfg.MinSuccessRate)
		if summary.Status == model.RunFailed {
			summary.ErrorMessage = fmt.Sprintf("%d of %d counties succeeded, below minimum success rate %.2f",
				acc.succeeded, acc.processed, o.cfg.MinSuccessRate)
		}
	}

	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.EndRunTimeout)
	defer cancel()
	endErr := o.deps.Tracker.EndRun(endCtx, run.ID, summary)
	if endErr != nil {
		logger.Error("failed to close run", zap.Error(endErr))
		endErr = fmt.Errorf("end run: %w", endErr)
	}
	metrics.ObserveRun(string(summary.Status))

	res := Result{
		RunID:          run.ID,
		StateCode:      run.StateCode,
		Status:         summary.Status,
		StartedAt:      run.StartedAt,
		EndedAt:        o.clock.Now(),
		Counts:         counts,
		FailedEntities: acc.failed,
		ErrorMessage:   summary.ErrorMessage,
	}
	logger.Info("run finished",
		zap.String("status", string(res.Status)),
		zap.Int("counties", counts.CountiesProcessed),
		zap.Int("failed_counties", len(acc.failed)),
		zap.Int("wages_loaded", counts.WagesLoaded),
		zap.Int("expenses_loaded", counts.ExpensesLoaded),
		zap.Int("rejected", counts.Rejected()))

	if o.publisher != nil {
		if _, err := o.publisher.Publish(endCtx, EventRunCompleted, res); err != nil {
			logger.Warn("publish run event failed", zap.Error(err))
		}
	}
	return res, endErr
}

type accumulator struct {
	runID          uuid.UUID
	processed      int
	succeeded      int
	failed         []string
	wages          []model.WageRecord
	expenses       []model.ExpenseRecord
	wageRejects    []model.RejectRecord
	expenseRejects []model.RejectRecord
	counts         model.RunCounts
}

func (a *accumulator) addWageRejects(rs ...model.RejectRecord) {
	for _, r := range rs {
		r.RunID = a.runID
		a.wageRejects = append(a.wageRejects, r)
	}
}

func (a *accumulator) addExpenseRejects(rs ...model.RejectRecord) {
	for _, r := range rs {
		r.RunID = a.runID
		a.expenseRejects = append(a.expenseRejects, r)
	}
}

func tableReject(code string, rows []model.WideRow, err error) model.RejectRecord {
	raw := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		raw = append(raw, row.Raw())
	}
	return model.RejectRecord{
		Raw:    map[string]any{"county_fips": code, "rows": raw},
		Reason: err.Error(),
	}
}
