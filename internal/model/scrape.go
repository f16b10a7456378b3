package model

import "time"

// Column is one family-configuration cell of a wide row.
type Column struct {
	Header string
	Value  string
}

// WideRow is one category row of a source table: a label and one raw value
// per family configuration.
type WideRow struct {
	Category   string
	Columns    []Column
	EntityCode string
}

// Raw returns the row as an opaque map, suitable for a reject payload.
func (r WideRow) Raw() map[string]any {
	out := make(map[string]any, len(r.Columns)+2)
	out["category"] = r.Category
	out["county_fips"] = r.EntityCode
	for _, col := range r.Columns {
		out[col.Header] = col.Value
	}
	return out
}

// ScrapeResult is the outcome of scraping one entity page. A failed result
// carries Err and no rows.
type ScrapeResult struct {
	EntityCode  string
	Success     bool
	Wages       []WideRow
	Expenses    []WideRow
	PageUpdated time.Time
	Err         error
}

// FailedScrape builds the result for an entity that could not be scraped.
func FailedScrape(code string, err error) ScrapeResult {
	return ScrapeResult{EntityCode: code, Success: false, Err: err}
}

// ErrorMessage returns the failure text, or "" for a successful result.
func (r ScrapeResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
