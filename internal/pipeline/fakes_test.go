package pipeline

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/county-wage-etl/internal/model"
)

var (
	testRunID = uuid.MustParse("01928f4e-7c1a-7000-8000-000000000001")
	testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	pageDate  = time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
)

type fakeReference struct {
	counties []model.CountyIdentity
	err      error
}

func (f *fakeReference) FetchCounties(_ context.Context, _ string) ([]model.CountyIdentity, error) {
	return f.counties, f.err
}

func counties(state string, n int) []model.CountyIdentity {
	out := make([]model.CountyIdentity, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, model.CountyIdentity{
			Name:       fmt.Sprintf("County %d", i),
			StateCode:  state,
			CountyCode: fmt.Sprintf("%03d", 2*i-1),
		})
	}
	return out
}

type fakeScraper struct {
	results map[string]model.ScrapeResult
	// panicAt panics when this code comes up.
	panicAt string
	// cancelAfter cancels the run context after that many results.
	cancelAfter int
	cancel      context.CancelFunc
	seen        []string
}

func (f *fakeScraper) ScrapeMany(ctx context.Context, codes []string) iter.Seq[model.ScrapeResult] {
	return func(yield func(model.ScrapeResult) bool) {
		for i, code := range codes {
			if ctx.Err() != nil {
				return
			}
			if f.cancel != nil && f.cancelAfter == i {
				f.cancel()
				return
			}
			if code == f.panicAt {
				panic("boom")
			}
			f.seen = append(f.seen, code)
			res, ok := f.results[code]
			if !ok {
				res = goodPage(code)
			}
			if !yield(res) {
				return
			}
		}
	}
}

func goodPage(code string) model.ScrapeResult {
	return model.ScrapeResult{
		EntityCode: code,
		Success:    true,
		Wages: []model.WideRow{{
			Category:   "Living Wage",
			EntityCode: code,
			Columns:    []model.Column{{Header: "2 ADULTS (1 WORKING) - 2 Children", Value: "$42.43"}},
		}},
		Expenses: []model.WideRow{{
			Category:   "Food",
			EntityCode: code,
			Columns:    []model.Column{{Header: "1 ADULT - 0 Children", Value: "$3,859"}},
		}},
		PageUpdated: pageDate,
	}
}

type fakeTracker struct {
	mu       sync.Mutex
	startErr error
	endErr   error
	started  []string
	ended    []model.RunSummary
	endCtxOK []bool
}

func (f *fakeTracker) StartRun(_ context.Context, state string) (model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return model.Run{}, f.startErr
	}
	f.started = append(f.started, state)
	return model.Run{ID: testRunID, StateCode: state, StartedAt: testStart, Status: model.RunRunning}, nil
}

func (f *fakeTracker) EndRun(ctx context.Context, runID uuid.UUID, summary model.RunSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if runID != testRunID {
		return fmt.Errorf("unexpected run %s", runID)
	}
	f.ended = append(f.ended, summary)
	f.endCtxOK = append(f.endCtxOK, ctx.Err() == nil)
	return f.endErr
}

type fakeLoader struct {
	wages       []model.WageRecord
	expenses    []model.ExpenseRecord
	rejects     map[string][]model.RejectRecord
	wageErr     error
	rejectErr   error
	rejectCalls int
}

func (f *fakeLoader) UpsertWages(_ context.Context, records []model.WageRecord, _ uuid.UUID) (int64, error) {
	if f.wageErr != nil {
		return 0, f.wageErr
	}
	f.wages = append(f.wages, records...)
	return int64(len(records)), nil
}

func (f *fakeLoader) UpsertExpenses(_ context.Context, records []model.ExpenseRecord, _ uuid.UUID) (int64, error) {
	f.expenses = append(f.expenses, records...)
	return int64(len(records)), nil
}

func (f *fakeLoader) LoadRejects(_ context.Context, rejects []model.RejectRecord, _ uuid.UUID, table string) (int64, error) {
	f.rejectCalls++
	if f.rejectErr != nil {
		return 0, f.rejectErr
	}
	if f.rejects == nil {
		f.rejects = map[string][]model.RejectRecord{}
	}
	f.rejects[table] = append(f.rejects[table], rejects...)
	return int64(len(rejects)), nil
}

type fakeCSV struct {
	wages    map[string]int
	expenses map[string]int
	err      error
}

func (f *fakeCSV) UpsertWages(state string, records []model.WageRecord) error {
	if f.wages == nil {
		f.wages = map[string]int{}
	}
	f.wages[state] += len(records)
	return f.err
}

func (f *fakeCSV) UpsertExpenses(state string, records []model.ExpenseRecord) error {
	if f.expenses == nil {
		f.expenses = map[string]int{}
	}
	f.expenses[state] += len(records)
	return f.err
}
