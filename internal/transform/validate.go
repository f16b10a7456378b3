package transform

import (
	"fmt"
	"maps"
	"math"

	"github.com/JakeFAU/county-wage-etl/internal/model"
)

// Largest values the staging columns can hold: NUMERIC(10,2) and NUMERIC(12,2).
const (
	maxHourlyWage   = 99999999.99
	maxAnnualAmount = model.Money(999999999999)
)

// Validator partitions records by business rules. It is pure: the reference
// county set is fixed at construction.
type Validator struct {
	counties map[string]struct{}
}

// NewValidator builds a validator that accepts only the given full county codes.
func NewValidator(counties map[string]struct{}) *Validator {
	return &Validator{counties: maps.Clone(counties)}
}

// ValidateWages splits wage records into accepted and rejected. Each reject
// carries the reason of the first failing check.
func (v *Validator) ValidateWages(records []model.WageRecord) ([]model.WageRecord, []model.RejectRecord) {
	var accepted []model.WageRecord
	var rejected []model.RejectRecord
	for _, rec := range records {
		if reason := v.checkWage(rec); reason != "" {
			rejected = append(rejected, model.RejectRecord{Raw: rejectPayload(rec.Raw, rec.Key), Reason: reason})
			continue
		}
		accepted = append(accepted, rec)
	}
	return accepted, rejected
}

// ValidateExpenses splits expense records into accepted and rejected.
func (v *Validator) ValidateExpenses(records []model.ExpenseRecord) ([]model.ExpenseRecord, []model.RejectRecord) {
	var accepted []model.ExpenseRecord
	var rejected []model.RejectRecord
	for _, rec := range records {
		if reason := v.checkExpense(rec); reason != "" {
			rejected = append(rejected, model.RejectRecord{Raw: rejectPayload(rec.Raw, rec.Key), Reason: reason})
			continue
		}
		accepted = append(accepted, rec)
	}
	return accepted, rejected
}

func (v *Validator) checkWage(rec model.WageRecord) string {
	if reason := checkRequired(rec.Key); reason != "" {
		return reason
	}
	if rec.Blank {
		return "missing required field: hourly_wage"
	}
	if reason := checkCode(rec.Key.FullCode); reason != "" {
		return reason
	}
	if math.IsNaN(rec.HourlyWage) || math.IsInf(rec.HourlyWage, 0) {
		return "hourly_wage is not a finite number"
	}
	if !model.IsWageCategory(rec.Key.Category) {
		return fmt.Sprintf("unknown wage category %q", rec.Key.Category)
	}
	if reason := checkFamily(rec.Key.Family); reason != "" {
		return reason
	}
	if rec.HourlyWage <= 0 {
		return fmt.Sprintf("hourly_wage must be > 0, got %v", rec.HourlyWage)
	}
	if rec.HourlyWage > maxHourlyWage {
		return fmt.Sprintf("hourly_wage exceeds %.2f, got %v", maxHourlyWage, rec.HourlyWage)
	}
	return v.checkReference(rec.Key.FullCode)
}

func (v *Validator) checkExpense(rec model.ExpenseRecord) string {
	if reason := checkRequired(rec.Key); reason != "" {
		return reason
	}
	if rec.Blank {
		return "missing required field: annual_amount"
	}
	if reason := checkCode(rec.Key.FullCode); reason != "" {
		return reason
	}
	if !model.IsExpenseCategory(rec.Key.Category) {
		return fmt.Sprintf("unknown expense category %q", rec.Key.Category)
	}
	if reason := checkFamily(rec.Key.Family); reason != "" {
		return reason
	}
	if rec.AnnualAmount <= 0 {
		return fmt.Sprintf("annual_amount must be > 0, got %s", rec.AnnualAmount)
	}
	if rec.AnnualAmount > maxAnnualAmount {
		return fmt.Sprintf("annual_amount exceeds %s, got %s", maxAnnualAmount, rec.AnnualAmount)
	}
	return v.checkReference(rec.Key.FullCode)
}

func checkRequired(key model.RecordKey) string {
	switch {
	case key.FullCode == "":
		return "missing required field: county_fips"
	case key.Category == "":
		return "missing required field: category"
	case key.PageUpdated.IsZero():
		return "missing required field: page_updated"
	}
	return ""
}

func checkCode(code string) string {
	if len(code) != model.FullCodeWidth || !model.IsDigits(code) {
		return fmt.Sprintf("county_fips %q is not a %d-digit code", code, model.FullCodeWidth)
	}
	return ""
}

func checkFamily(f model.FamilyConfig) string {
	if f.Adults < 1 || f.Adults > 2 {
		return fmt.Sprintf("adults must be 1 or 2, got %d", f.Adults)
	}
	if f.WorkingAdults < 0 || f.WorkingAdults > f.Adults {
		return fmt.Sprintf("working_adults (%d) must be between 0 and adults (%d)", f.WorkingAdults, f.Adults)
	}
	if f.Children < 0 || f.Children > 3 {
		return fmt.Sprintf("children must be between 0 and 3, got %d", f.Children)
	}
	return ""
}

func (v *Validator) checkReference(code string) string {
	if _, ok := v.counties[code]; !ok {
		return fmt.Sprintf("county_fips %q is not in the reference county set", code)
	}
	return ""
}

// rejectPayload copies the source cell and adds the derived key so a reject
// row can be traced without re-scraping.
func rejectPayload(raw map[string]any, key model.RecordKey) map[string]any {
	out := make(map[string]any, len(raw)+4)
	maps.Copy(out, raw)
	out["category_key"] = key.Category
	out["adults"] = key.Family.Adults
	out["working_adults"] = key.Family.WorkingAdults
	out["children"] = key.Family.Children
	return out
}
