package csvfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/county-wage-etl/internal/model"
)

func key(code string, children int, category string) model.RecordKey {
	return model.RecordKey{
		FullCode:    code,
		PageUpdated: time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC),
		Family:      model.FamilyConfig{Adults: 1, WorkingAdults: 1, Children: children},
		Category:    category,
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestUpsertWagesIsIdempotent(t *testing.T) {
	t.Parallel()

	sink, err := New(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)

	first := []model.WageRecord{
		{Key: key("01001", 0, model.WageLiving), HourlyWage: 21.07},
		{Key: key("01001", 1, model.WageLiving), HourlyWage: 35.91},
	}
	require.NoError(t, sink.UpsertWages("01", first))
	require.NoError(t, sink.UpsertWages("01", first))

	want := "county_fips,page_updated,adults,working_adults,children,wage_type,hourly_wage\n" +
		"01001,2025-02-10,1,1,0,living,21.07\n" +
		"01001,2025-02-10,1,1,1,living,35.91\n"
	assert.Equal(t, want, readFile(t, sink.WagesPath("01")))

	update := []model.WageRecord{
		{Key: key("01001", 1, model.WageLiving), HourlyWage: 36.5},
		{Key: key("01003", 0, model.WageLiving), HourlyWage: 20},
	}
	require.NoError(t, sink.UpsertWages("01", update))
	want = "county_fips,page_updated,adults,working_adults,children,wage_type,hourly_wage\n" +
		"01001,2025-02-10,1,1,0,living,21.07\n" +
		"01001,2025-02-10,1,1,1,living,36.50\n" +
		"01003,2025-02-10,1,1,0,living,20.00\n"
	assert.Equal(t, want, readFile(t, sink.WagesPath("01")))
}

func TestUpsertExpensesExactAmounts(t *testing.T) {
	t.Parallel()

	sink, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, sink.UpsertExpenses("13", []model.ExpenseRecord{
		{Key: key("13121", 2, model.ExpenseInternetMobile), AnnualAmount: 148810},
	}))
	assert.Contains(t, readFile(t, sink.ExpensesPath("13")), "13121,2025-02-10,1,1,2,internet_mobile,1488.10\n")
}

func TestUpsertRejectsForeignHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wages_01.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c,d,e,f,g\n"), 0o600))
	err := Upsert(path, wageHeader, nil)
	require.ErrorContains(t, err, "unexpected header")
}

func TestNewRequiresDir(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
}
