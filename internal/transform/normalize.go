// Package transform reshapes wide source tables into long-format records and
// partitions those records into accepted and rejected sets.
package transform

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/JakeFAU/county-wage-etl/internal/model"
)

// ErrUnknownHeader and ErrUnknownCategory signal an upstream format change.
var (
	ErrUnknownHeader   = errors.New("unrecognized family configuration header")
	ErrUnknownCategory = errors.New("unrecognized category")
	ErrInvalidValue    = errors.New("invalid numeric value")
)

// NormalizeError locates a cell that could not be mapped.
type NormalizeError struct {
	Entity string
	Row    string
	Column string
	Value  string
	Err    error
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize %s: row %q column %q value %q: %v", e.Entity, e.Row, e.Column, e.Value, e.Err)
}

func (e *NormalizeError) Unwrap() error {
	return e.Err
}

const dateLayout = "2006-01-02"

// NormalizeWages turns wage rows into one record per household column.
func NormalizeWages(rows []model.WideRow, fullCode string, pageUpdated time.Time) ([]model.WageRecord, error) {
	out := make([]model.WageRecord, 0, countCells(rows))
	for _, row := range rows {
		category, ok := LookupWageCategory(row.Category)
		if !ok {
			return nil, &NormalizeError{Entity: fullCode, Row: row.Category, Err: ErrUnknownCategory}
		}
		for _, col := range row.Columns {
			key, err := recordKey(row, col, fullCode, pageUpdated, category)
			if err != nil {
				return nil, err
			}
			rec := model.WageRecord{Key: key, Raw: rawCell(row, col, fullCode, pageUpdated)}
			cleaned := cleanCurrency(col.Value)
			if cleaned == "" {
				rec.Blank = true
				out = append(out, rec)
				continue
			}
			v, err := strconv.ParseFloat(cleaned, 64)
			if err != nil {
				return nil, &NormalizeError{Entity: fullCode, Row: row.Category, Column: col.Header, Value: col.Value, Err: ErrInvalidValue}
			}
			rec.HourlyWage = v
			out = append(out, rec)
		}
	}
	return out, nil
}

// NormalizeExpenses turns expense rows into one record per household column.
// Amounts are held as exact cents.
func NormalizeExpenses(rows []model.WideRow, fullCode string, pageUpdated time.Time) ([]model.ExpenseRecord, error) {
	out := make([]model.ExpenseRecord, 0, countCells(rows))
	for _, row := range rows {
		category, ok := LookupExpenseCategory(row.Category)
		if !ok {
			return nil, &NormalizeError{Entity: fullCode, Row: row.Category, Err: ErrUnknownCategory}
		}
		for _, col := range row.Columns {
			key, err := recordKey(row, col, fullCode, pageUpdated, category)
			if err != nil {
				return nil, err
			}
			rec := model.ExpenseRecord{Key: key, Raw: rawCell(row, col, fullCode, pageUpdated)}
			cleaned := cleanCurrency(col.Value)
			if cleaned == "" {
				rec.Blank = true
				out = append(out, rec)
				continue
			}
			amount, err := model.ParseMoney(cleaned)
			if err != nil {
				return nil, &NormalizeError{
					Entity: fullCode, Row: row.Category, Column: col.Header, Value: col.Value,
					Err: fmt.Errorf("%w: %w", ErrInvalidValue, err),
				}
			}
			rec.AnnualAmount = amount
			out = append(out, rec)
		}
	}
	return out, nil
}

func recordKey(row model.WideRow, col model.Column, fullCode string, pageUpdated time.Time, category string) (model.RecordKey, error) {
	family, ok := LookupFamily(col.Header)
	if !ok {
		return model.RecordKey{}, &NormalizeError{Entity: fullCode, Row: row.Category, Column: col.Header, Value: col.Value, Err: ErrUnknownHeader}
	}
	return model.RecordKey{
		FullCode:    fullCode,
		PageUpdated: pageUpdated,
		Family:      family,
		Category:    category,
	}, nil
}

func rawCell(row model.WideRow, col model.Column, fullCode string, pageUpdated time.Time) map[string]any {
	raw := map[string]any{
		"county_fips": fullCode,
		"category":    row.Category,
		"family":      col.Header,
		"value":       col.Value,
	}
	if !pageUpdated.IsZero() {
		raw["page_updated"] = pageUpdated.Format(dateLayout)
	}
	return raw
}

func countCells(rows []model.WideRow) int {
	n := 0
	for _, row := range rows {
		n += len(row.Columns)
	}
	return n
}
