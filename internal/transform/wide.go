package transform

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/county-wage-etl/internal/model"
)

// WideCheckError lists every problem found in a wide table.
type WideCheckError struct {
	Problems []string
}

func (e *WideCheckError) Error() string {
	return "wide table check failed: " + strings.Join(e.Problems, "; ")
}

// CheckWide screens a scraped table before it is reshaped. The table must
// have rows, every row needs a category label, and the share of empty cells
// (labels included) may not exceed maxNullRatio.
func CheckWide(rows []model.WideRow, maxNullRatio float64) error {
	if len(rows) == 0 {
		return &WideCheckError{Problems: []string{"table is empty"}}
	}
	var problems []string
	total, empty := 0, 0
	for i, row := range rows {
		total++
		if strings.TrimSpace(row.Category) == "" {
			empty++
			problems = append(problems, fmt.Sprintf("row %d has no category", i))
		}
		for _, col := range row.Columns {
			total++
			if strings.TrimSpace(col.Value) == "" {
				empty++
			}
		}
	}
	if ratio := float64(empty) / float64(total); ratio > maxNullRatio {
		problems = append(problems, fmt.Sprintf("table has more than %.0f%% empty cells (%.2f%%)", maxNullRatio*100, ratio*100))
	}
	if len(problems) > 0 {
		return &WideCheckError{Problems: problems}
	}
	return nil
}
