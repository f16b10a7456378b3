package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/county-wage-etl/internal/model"
)

func newLoader(t *testing.T) (*BulkLoader, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	loader, err := NewBulkLoader(mock, nil)
	require.NoError(t, err)
	return loader, mock
}

func sampleKey(category string, children int) model.RecordKey {
	return model.RecordKey{
		FullCode:    "01001",
		PageUpdated: time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC),
		Family:      model.FamilyConfig{Adults: 2, WorkingAdults: 1, Children: children},
		Category:    category,
	}
}

func TestUpsertWagesCopiesThenMerges(t *testing.T) {
	t.Parallel()

	loader, mock := newLoader(t)
	records := []model.WageRecord{
		{Key: sampleKey(model.WageLiving, 2), HourlyWage: 42.43},
		{Key: sampleKey(model.WageLiving, 3), HourlyWage: 45.67},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "tmp_stg_wages"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"tmp_stg_wages"}, wageTarget.columns()).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "stg_wages"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := loader.UpsertWages(context.Background(), records, testRunID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertExpensesRollsBackOnMergeFailure(t *testing.T) {
	t.Parallel()

	loader, mock := newLoader(t)
	records := []model.ExpenseRecord{{Key: sampleKey(model.ExpenseFood, 0), AnnualAmount: 385900}}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "tmp_stg_expenses"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"tmp_stg_expenses"}, expenseTarget.columns()).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "stg_expenses"`).WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	n, err := loader.UpsertExpenses(context.Background(), records, testRunID)
	require.ErrorContains(t, err, "merge into stg_expenses")
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	loader, mock := newLoader(t)
	n, err := loader.UpsertWages(context.Background(), nil, testRunID)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeSQLTargetsNaturalKey(t *testing.T) {
	t.Parallel()

	sql := expenseTarget.mergeSQL()
	assert.Contains(t, sql, "ON CONFLICT (county_fips, page_updated, adults, working_adults, children, expense_category)")
	assert.Contains(t, sql, "annual_amount = EXCLUDED.annual_amount")
	assert.Contains(t, sql, "load_timestamp = now()")
	assert.Contains(t, sql, "expense_category, seq DESC")
	assert.NotContains(t, strings.SplitN(sql, "FROM", 2)[0], "seq")
	assert.Contains(t, expenseTarget.createTempSQL(), "ON COMMIT DROP")
	assert.Contains(t, expenseTarget.createTempSQL(), "seq BIGSERIAL")
}

func TestMoneyNumeric(t *testing.T) {
	t.Parallel()

	n := moneyNumeric(model.Money(123450))
	assert.True(t, n.Valid)
	assert.Equal(t, int32(-2), n.Exp)
	assert.Equal(t, int64(123450), n.Int.Int64())
}

func TestLoadRejectsAllowList(t *testing.T) {
	t.Parallel()

	loader, mock := newLoader(t)
	_, err := loader.LoadRejects(context.Background(), []model.RejectRecord{{Reason: "x"}}, testRunID, "etl_runs; DROP TABLE etl_runs")
	require.ErrorIs(t, err, ErrTableNotAllowed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRejectsCopiesRows(t *testing.T) {
	t.Parallel()

	loader, mock := newLoader(t)
	rejects := []model.RejectRecord{
		{Raw: map[string]any{"value": "$0"}, Reason: "annual_amount must be > 0, got 0.00"},
		{Raw: map[string]any{"value": ""}, Reason: strings.Repeat("r", 1500)},
	}

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{ExpensesRejectsTable}, rejectColumns).WillReturnResult(2)
	mock.ExpectCommit()

	n, err := loader.LoadRejects(context.Background(), rejects, testRunID, ExpensesRejectsTable)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRejectsCopyFailureRollsBack(t *testing.T) {
	t.Parallel()

	loader, mock := newLoader(t)
	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{WagesRejectsTable}, rejectColumns).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := loader.LoadRejects(context.Background(), []model.RejectRecord{{Reason: "bad"}}, testRunID, WagesRejectsTable)
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "hél", truncate("héllo", 3))
	assert.Len(t, []rune(truncate(strings.Repeat("x", 1200), MaxReasonLength)), MaxReasonLength)
}

func TestStagingCounts(t *testing.T) {
	t.Parallel()

	loader, mock := newLoader(t)
	for i, table := range stagingTables {
		mock.ExpectQuery(`SELECT count\(\*\) FROM "` + table + `"`).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(i * 10)))
	}

	counts, err := loader.StagingCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		WagesTable:           0,
		ExpensesTable:        10,
		WagesRejectsTable:    20,
		ExpensesRejectsTable: 30,
	}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}
