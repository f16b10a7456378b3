package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/JakeFAU/county-wage-etl/internal/logging"
	"github.com/JakeFAU/county-wage-etl/internal/model"
)

// Staging and reject tables.
const (
	WagesTable           = "stg_wages"
	ExpensesTable        = "stg_expenses"
	WagesRejectsTable    = "stg_wages_rejects"
	ExpensesRejectsTable = "stg_expenses_rejects"
)

// MaxReasonLength bounds a stored rejection reason, in characters.
const MaxReasonLength = 1000

// ErrTableNotAllowed is returned for a reject table outside the allow-list.
var ErrTableNotAllowed = errors.New("table not allowed")

var rejectTables = map[string]struct{}{
	WagesRejectsTable:    {},
	ExpensesRejectsTable: {},
}

var stagingTables = []string{WagesTable, ExpensesTable, WagesRejectsTable, ExpensesRejectsTable}

var rejectColumns = []string{"run_id", "raw_data", "rejection_reason"}

// upsertTarget describes one staging table: its category and value columns
// differ, the natural key layout does not.
type upsertTarget struct {
	table       string
	categoryCol string
	valueCol    string
	valueType   string
}

func (u upsertTarget) temp() string {
	return "tmp_" + u.table
}

func (u upsertTarget) columns() []string {
	return []string{
		"run_id", "county_fips", "page_updated", "adults", "working_adults", "children",
		u.categoryCol, u.valueCol,
	}
}

func (u upsertTarget) createTempSQL() string {
	return fmt.Sprintf(`CREATE TEMP TABLE %s (
	seq BIGSERIAL,
	run_id UUID,
	county_fips CHAR(5),
	page_updated DATE,
	adults SMALLINT,
	working_adults SMALLINT,
	children SMALLINT,
	%s VARCHAR(50),
	%s %s
) ON COMMIT DROP`,
		pgx.Identifier{u.temp()}.Sanitize(),
		pgx.Identifier{u.categoryCol}.Sanitize(),
		pgx.Identifier{u.valueCol}.Sanitize(),
		u.valueType)
}

// mergeSQL keeps one row per natural key so a batch carrying the same key
// twice cannot trip ON CONFLICT. The last copied duplicate wins.
func (u upsertTarget) mergeSQL() string {
	cols := strings.Join(u.columns(), ", ")
	key := "county_fips, page_updated, adults, working_adults, children, " + u.categoryCol
	return fmt.Sprintf(`INSERT INTO %s (%s)
SELECT DISTINCT ON (%s) %s
FROM %s
ORDER BY %s, seq DESC
ON CONFLICT (%s) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	%s = EXCLUDED.%s,
	load_timestamp = now()`,
		pgx.Identifier{u.table}.Sanitize(), cols,
		key, cols,
		pgx.Identifier{u.temp()}.Sanitize(),
		key,
		key,
		u.valueCol, u.valueCol)
}

var (
	wageTarget    = upsertTarget{table: WagesTable, categoryCol: "wage_type", valueCol: "hourly_wage", valueType: "NUMERIC(10, 2)"}
	expenseTarget = upsertTarget{table: ExpensesTable, categoryCol: "expense_category", valueCol: "annual_amount", valueType: "NUMERIC(12, 2)"}
)

// BulkLoader streams accepted records and rejects into the staging tables.
type BulkLoader struct {
	db     DB
	logger *zap.Logger
}

// NewBulkLoader builds a loader over db.
func NewBulkLoader(db DB, logger *zap.Logger) (*BulkLoader, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &BulkLoader{db: db, logger: logging.OrNop(logger)}, nil
}

// UpsertWages loads wage records in one transaction and returns the number
// of rows inserted or updated.
func (l *BulkLoader) UpsertWages(ctx context.Context, records []model.WageRecord, runID uuid.UUID) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, keyRow(runID, rec.Key, rec.HourlyWage))
	}
	return l.upsert(ctx, wageTarget, rows)
}

// UpsertExpenses loads expense records in one transaction.
func (l *BulkLoader) UpsertExpenses(ctx context.Context, records []model.ExpenseRecord, runID uuid.UUID) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, keyRow(runID, rec.Key, moneyNumeric(rec.AnnualAmount)))
	}
	return l.upsert(ctx, expenseTarget, rows)
}

func keyRow(runID uuid.UUID, key model.RecordKey, value any) []any {
	return []any{
		runID,
		key.FullCode,
		key.PageUpdated,
		int16(key.Family.Adults),
		int16(key.Family.WorkingAdults),
		int16(key.Family.Children),
		key.Category,
		value,
	}
}

func moneyNumeric(m model.Money) pgtype.Numeric {
	return pgtype.Numeric{Int: big.NewInt(m.Cents()), Exp: -2, Valid: true}
}

func (l *BulkLoader) upsert(ctx context.Context, target upsertTarget, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var affected int64
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, target.createTempSQL()); err != nil {
			return fmt.Errorf("create %s: %w", target.temp(), err)
		}
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{target.temp()}, target.columns(), pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy into %s: %w", target.temp(), err)
		}
		tag, err := tx.Exec(ctx, target.mergeSQL())
		if err != nil {
			return fmt.Errorf("merge into %s: %w", target.table, err)
		}
		affected = tag.RowsAffected()
		l.logger.Debug("staging upsert",
			zap.String("table", target.table),
			zap.Int64("copied", copied),
			zap.Int64("affected", affected))
		return nil
	})
	if err != nil {
		return 0, err
	}
	l.logger.Info("upserted records", zap.String("table", target.table), zap.Int64("count", affected))
	return affected, nil
}

// LoadRejects writes rejects to an allow-listed reject table in its own
// transaction.
func (l *BulkLoader) LoadRejects(ctx context.Context, rejects []model.RejectRecord, runID uuid.UUID, table string) (int64, error) {
	if _, ok := rejectTables[table]; !ok {
		return 0, fmt.Errorf("reject table %q: %w", table, ErrTableNotAllowed)
	}
	if len(rejects) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(rejects))
	for _, r := range rejects {
		raw, err := json.Marshal(r.Raw)
		if err != nil {
			return 0, fmt.Errorf("marshal reject payload: %w", err)
		}
		reason := r.Reason
		if reason == "" {
			reason = "unknown"
		}
		rows = append(rows, []any{runID, raw, truncate(reason, MaxReasonLength)})
	}

	var copied int64
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, rejectColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy into %s: %w", table, err)
		}
		copied = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	l.logger.Debug("loaded rejects", zap.String("table", table), zap.Int64("count", copied))
	return copied, nil
}

// StagingCounts returns the row count of every staging and reject table.
func (l *BulkLoader) StagingCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(stagingTables))
	for _, table := range stagingTables {
		var n int64
		if err := l.db.QueryRow(ctx, "SELECT count(*) FROM "+pgx.Identifier{table}.Sanitize()).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// inTx runs fn in a transaction, committing on success and rolling back on
// error.
func (l *BulkLoader) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			l.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
