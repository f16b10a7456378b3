package scrape

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/county-wage-etl/internal/model"
)

const (
	resultsTableSelector = "table.results_table"
	defaultCategoryLabel = "Category"
)

// Page is the parsed content of one county page.
type Page struct {
	Wages    []model.WideRow
	Expenses []model.WideRow
	// Updated is the page's "last updated" date; zero when the page has none.
	Updated  time.Time
	Warnings []string
}

// ParsePage extracts the wage table (first) and expense table (second) from
// a county page.
func ParsePage(body []byte, entityCode string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}
	tables := doc.Find(resultsTableSelector)
	if tables.Length() < 2 {
		return Page{}, fmt.Errorf("expected at least 2 tables, found %d", tables.Length())
	}

	var page Page
	page.Wages, page.Warnings, err = extractTable(tables.Eq(0), entityCode, page.Warnings)
	if err != nil {
		return Page{}, fmt.Errorf("wage table: %w", err)
	}
	page.Expenses, page.Warnings, err = extractTable(tables.Eq(1), entityCode, page.Warnings)
	if err != nil {
		return Page{}, fmt.Errorf("expense table: %w", err)
	}
	page.Updated = findUpdatedDate(doc.Text())
	return page, nil
}

func extractTable(table *goquery.Selection, entityCode string, warnings []string) ([]model.WideRow, []string, error) {
	headers, err := extractHeaders(table)
	if err != nil {
		return nil, warnings, err
	}

	var rows []model.WideRow
	table.Find("tbody tr").Each(func(i int, tr *goquery.Selection) {
		cells := cellTexts(tr.ChildrenFiltered("td, th"))
		if len(cells) == 0 {
			return
		}
		if len(cells) != len(headers) {
			warnings = append(warnings, fmt.Sprintf(
				"row %d has %d columns, headers have %d", i, len(cells), len(headers)))
			for len(cells) < len(headers) {
				cells = append(cells, "")
			}
			cells = cells[:len(headers)]
		}
		row := model.WideRow{
			Category:   cells[0],
			EntityCode: entityCode,
			Columns:    make([]model.Column, 0, len(headers)-1),
		}
		for j := 1; j < len(headers); j++ {
			row.Columns = append(row.Columns, model.Column{Header: headers[j], Value: cells[j]})
		}
		rows = append(rows, row)
	})
	if len(rows) == 0 {
		return nil, warnings, fmt.Errorf("table has no data rows")
	}
	return rows, warnings, nil
}

// extractHeaders returns the category label column followed by one header
// per family configuration. Two header rows are combined as
// "<adult group> - <child count>"; a single header row is used as is.
func extractHeaders(table *goquery.Selection) ([]string, error) {
	headerRows := table.Find("thead tr")
	switch headerRows.Length() {
	case 0:
		return nil, fmt.Errorf("table has no header rows")
	case 1:
		cells := cellTexts(headerRows.Eq(0).ChildrenFiltered("td, th"))
		if len(cells) < 2 {
			return nil, fmt.Errorf("header row has %d cells", len(cells))
		}
		if cells[0] == "" {
			cells[0] = defaultCategoryLabel
		}
		return cells, nil
	}

	type group struct {
		label string
		span  int
	}
	var groups []group
	headerRows.Eq(0).ChildrenFiltered("td, th").Each(func(_ int, cell *goquery.Selection) {
		label := cleanText(cell.Text())
		if label == "" {
			return
		}
		span := 1
		if raw, ok := cell.Attr("colspan"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
				span = n
			}
		}
		groups = append(groups, group{label: label, span: span})
	})

	children := cellTexts(headerRows.Eq(1).ChildrenFiltered("td, th"))
	if len(children) < 2 || len(groups) == 0 {
		return nil, fmt.Errorf("header rows do not describe family configurations")
	}

	headers := []string{children[0]}
	if headers[0] == "" {
		headers[0] = defaultCategoryLabel
	}
	col := 1
	for _, g := range groups {
		for k := 0; k < g.span && col < len(children); k++ {
			headers = append(headers, g.label+" - "+children[col])
			col++
		}
	}
	return headers, nil
}

func cellTexts(cells *goquery.Selection) []string {
	out := make([]string, 0, cells.Length())
	cells.Each(func(_ int, cell *goquery.Selection) {
		out = append(out, cleanText(cell.Text()))
	})
	return out
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var updatedPattern = regexp.MustCompile(
	`(?i)last\s+updated(?:\s+(?:on|in))?\s*:?\s*` +
		`(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4}|[A-Za-z]+\.?\s+\d{1,2},?\s+\d{4}|[A-Za-z]+\s+\d{4})`)

var updatedLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan. 2, 2006",
	"Jan 2 2006",
	"January 2006",
	"Jan 2006",
}

// findUpdatedDate looks for a "last updated <date>" phrase in the page text.
func findUpdatedDate(text string) time.Time {
	m := updatedPattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}
	}
	raw := cleanText(m[1])
	for _, layout := range updatedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
