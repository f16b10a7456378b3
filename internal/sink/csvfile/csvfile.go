// Package csvfile mirrors accepted records into per-state CSV files.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JakeFAU/county-wage-etl/internal/model"
)

const (
	dateLayout = "2006-01-02"
	keyColumns = 6
)

var (
	wageHeader    = []string{"county_fips", "page_updated", "adults", "working_adults", "children", "wage_type", "hourly_wage"}
	expenseHeader = []string{"county_fips", "page_updated", "adults", "working_adults", "children", "expense_category", "annual_amount"}
)

// Sink writes wages_<state>.csv and expenses_<state>.csv below Dir.
type Sink struct {
	dir string
}

// New creates dir if needed.
func New(dir string) (*Sink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("csv directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create csv directory: %w", err)
	}
	return &Sink{dir: dir}, nil
}

// WagesPath returns the wage file of a state.
func (s *Sink) WagesPath(stateCode string) string {
	return filepath.Join(s.dir, "wages_"+stateCode+".csv")
}

// ExpensesPath returns the expense file of a state.
func (s *Sink) ExpensesPath(stateCode string) string {
	return filepath.Join(s.dir, "expenses_"+stateCode+".csv")
}

// UpsertWages merges records into the state's wage file.
func (s *Sink) UpsertWages(stateCode string, records []model.WageRecord) error {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, append(keyFields(rec.Key), strconv.FormatFloat(rec.HourlyWage, 'f', 2, 64)))
	}
	return Upsert(s.WagesPath(stateCode), wageHeader, rows)
}

// UpsertExpenses merges records into the state's expense file.
func (s *Sink) UpsertExpenses(stateCode string, records []model.ExpenseRecord) error {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, append(keyFields(rec.Key), rec.AnnualAmount.String()))
	}
	return Upsert(s.ExpensesPath(stateCode), expenseHeader, rows)
}

func keyFields(k model.RecordKey) []string {
	return []string{
		k.FullCode,
		k.PageUpdated.Format(dateLayout),
		strconv.Itoa(k.Family.Adults),
		strconv.Itoa(k.Family.WorkingAdults),
		strconv.Itoa(k.Family.Children),
		k.Category,
	}
}

// Upsert merges rows into the CSV at path. Rows whose natural key (the
// first six columns) already exists replace the old row in place; new keys
// are appended. The file is rewritten through a temp file and rename.
func Upsert(path string, header []string, rows [][]string) error {
	existing, err := readRows(path, header)
	if err != nil {
		return err
	}

	index := make(map[string]int, len(existing)+len(rows))
	merged := make([][]string, 0, len(existing)+len(rows))
	for _, row := range append(existing, rows...) {
		if len(row) != len(header) {
			return fmt.Errorf("row has %d fields, header has %d", len(row), len(header))
		}
		k := rowKey(row)
		if i, ok := index[k]; ok {
			merged[i] = row
			continue
		}
		index[k] = len(merged)
		merged = append(merged, row)
	}
	return writeRows(path, header, merged)
}

func rowKey(row []string) string {
	return strings.Join(row[:keyColumns], "\x1f")
}

func readRows(path string, header []string) ([][]string, error) {
	f, err := os.Open(path) // #nosec G304 -- path is built from the configured output dir.
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	got, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	if strings.Join(got, ",") != strings.Join(header, ",") {
		return nil, fmt.Errorf("%s has unexpected header %v", path, got)
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

func writeRows(path string, header []string, rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".csv-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	w := csv.NewWriter(tmp)
	werr := w.Write(header)
	if werr == nil {
		werr = w.WriteAll(rows)
	}
	if werr != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, werr)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
