package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/county-wage-etl/internal/clock"
	"github.com/JakeFAU/county-wage-etl/internal/id"
	"github.com/JakeFAU/county-wage-etl/internal/logging"
	"github.com/JakeFAU/county-wage-etl/internal/model"
)

// RunTracker manages the lifecycle of etl_runs rows.
type RunTracker struct {
	db     DB
	ids    id.Generator
	clock  clock.Clock
	logger *zap.Logger
}

// NewRunTracker builds a tracker. ids and clk default to UUIDv7 and the
// system clock.
func NewRunTracker(db DB, ids id.Generator, clk clock.Clock, logger *zap.Logger) (*RunTracker, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if ids == nil {
		ids = id.V7{}
	}
	return &RunTracker{db: db, ids: ids, clock: clock.OrSystem(clk), logger: logging.OrNop(logger)}, nil
}

// StartRun inserts a RUNNING row for stateCode.
func (t *RunTracker) StartRun(ctx context.Context, stateCode string) (model.Run, error) {
	runID, err := t.ids.NewID()
	if err != nil {
		return model.Run{}, err
	}
	run := model.Run{
		ID:        runID,
		StateCode: stateCode,
		StartedAt: t.clock.Now(),
		Status:    model.RunRunning,
	}
	const query = `
INSERT INTO etl_runs (run_id, start_ts, status, state_code)
VALUES ($1, $2, $3, $4)`
	if _, err := t.db.Exec(ctx, query, run.ID, run.StartedAt, string(run.Status), run.StateCode); err != nil {
		return model.Run{}, fmt.Errorf("start run: %w", err)
	}
	t.logger.Info("run started", zap.String("run_id", run.ID.String()), zap.String("state", stateCode))
	return run, nil
}

// EndRun stamps the end time, final status and counts of a run.
func (t *RunTracker) EndRun(ctx context.Context, runID uuid.UUID, summary model.RunSummary) error {
	var errMsg *string
	if summary.ErrorMessage != "" {
		msg := summary.ErrorMessage
		errMsg = &msg
	}
	const query = `
UPDATE etl_runs
SET end_ts = $1,
	status = $2,
	counties_processed = $3,
	wages_loaded = $4,
	wages_rejected = $5,
	expenses_loaded = $6,
	expenses_rejected = $7,
	error_message = $8
WHERE run_id = $9`
	c := summary.Counts
	tag, err := t.db.Exec(ctx, query,
		t.clock.Now(),
		string(summary.Status),
		c.CountiesProcessed,
		c.WagesLoaded,
		c.WagesRejected,
		c.ExpensesLoaded,
		c.ExpensesRejected,
		errMsg,
		runID,
	)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("end run %s: %w", runID, ErrNotFound)
	}
	t.logger.Info("run ended",
		zap.String("run_id", runID.String()),
		zap.String("status", string(summary.Status)),
		zap.Int("counties", c.CountiesProcessed),
		zap.Int("wages_loaded", c.WagesLoaded),
		zap.Int("expenses_loaded", c.ExpensesLoaded),
		zap.Int("rejected", c.Rejected()),
	)
	return nil
}

const runColumns = `run_id, start_ts, end_ts, status, state_code,
	counties_processed, wages_loaded, wages_rejected, expenses_loaded, expenses_rejected,
	error_message`

// GetRun loads one run by id.
func (t *RunTracker) GetRun(ctx context.Context, runID uuid.UUID) (model.Run, error) {
	row := t.db.QueryRow(ctx, `SELECT `+runColumns+` FROM etl_runs WHERE run_id = $1`, runID)
	return scanRun(row)
}

// LatestRun returns the most recently started run for a state.
func (t *RunTracker) LatestRun(ctx context.Context, stateCode string) (model.Run, error) {
	row := t.db.QueryRow(ctx,
		`SELECT `+runColumns+` FROM etl_runs WHERE state_code = $1 ORDER BY start_ts DESC LIMIT 1`,
		stateCode)
	return scanRun(row)
}

func scanRun(row pgx.Row) (model.Run, error) {
	var (
		run     model.Run
		status  string
		endedAt *time.Time
		errMsg  *string
	)
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&endedAt,
		&status,
		&run.StateCode,
		&run.Counts.CountiesProcessed,
		&run.Counts.WagesLoaded,
		&run.Counts.WagesRejected,
		&run.Counts.ExpensesLoaded,
		&run.Counts.ExpensesRejected,
		&errMsg,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Status = model.RunStatus(status)
	run.EndedAt = endedAt
	run.ErrorMessage = errMsg
	return run, nil
}
